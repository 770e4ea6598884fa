package model

import (
	"encoding/json"
	"strings"

	appErr "ojudge/pkg/errors"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// JudgeJob is the queue payload asking a worker to judge one submission.
type JudgeJob struct {
	SubmissionID string `json:"submissionId"`
	ProblemCode  string `json:"problemCode"`
	IsPractice   bool   `json:"isPractice,omitempty"`
}

// Validate checks the required fields.
func (j JudgeJob) Validate() error {
	return validation.ValidateStruct(&j,
		validation.Field(&j.SubmissionID, validation.Required, validation.Length(1, 64)),
		validation.Field(&j.ProblemCode, validation.Required, validation.Length(1, 64)),
	)
}

// DecodeJudgeJob parses and validates a queue payload.
func DecodeJudgeJob(body []byte) (JudgeJob, error) {
	var job JudgeJob
	if err := json.Unmarshal(body, &job); err != nil {
		return JudgeJob{}, appErr.Wrapf(err, appErr.InvalidJobPayload, "decode job payload failed")
	}
	job.SubmissionID = strings.TrimSpace(job.SubmissionID)
	job.ProblemCode = strings.TrimSpace(job.ProblemCode)
	if err := job.Validate(); err != nil {
		return JudgeJob{}, appErr.Wrapf(err, appErr.InvalidJobPayload, "invalid job payload")
	}
	return job, nil
}

// Encode serializes the job.
func (j JudgeJob) Encode() ([]byte, error) {
	return json.Marshal(j)
}
