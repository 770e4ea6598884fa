package model

// Status is the lifecycle state of a submission.
type Status string

const (
	StatusPending           Status = "pending"
	StatusAccepted          Status = "Accepted"
	StatusWrongAnswer       Status = "Wrong Answer"
	StatusTimeLimitExceeded Status = "Time Limit Exceeded"
	StatusRuntimeError      Status = "Runtime Error"
	StatusCompilationError  Status = "Compilation Error"
	StatusPartiallyAccepted Status = "Partially Accepted"
	// StatusSystemError marks a submission whose job failed terminally without a verdict.
	StatusSystemError Status = "System Error"
)

// IsTerminal reports whether the status freezes the submission.
func (s Status) IsTerminal() bool {
	return s != StatusPending && s != ""
}

// IsVerdict reports whether the status is a judging outcome.
func (s Status) IsVerdict() bool {
	switch s {
	case StatusAccepted, StatusWrongAnswer, StatusTimeLimitExceeded,
		StatusRuntimeError, StatusCompilationError, StatusPartiallyAccepted:
		return true
	}
	return false
}
