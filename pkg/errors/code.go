package errors

import "net/http"

// ErrorCode represents a unique error identifier
type ErrorCode int

// Error code ranges allocation:
// 10000-10999: System & Common errors
// 12000-12999: Problem & test case errors
// 13000-13999: Submission & Judge errors
// 14000-14999: Leaderboard errors

const (
	// ========== System & Common Errors (10000-10999) ==========

	Success ErrorCode = 10000

	// Generic errors (10000-10099)
	InternalServerError ErrorCode = 10001
	InvalidParams       ErrorCode = 10002
	NotFound            ErrorCode = 10003
	TooManyRequests     ErrorCode = 10006
	ServiceUnavailable  ErrorCode = 10007
	Timeout             ErrorCode = 10008

	// Database errors (10100-10199)
	DatabaseError       ErrorCode = 10100
	RecordNotFound      ErrorCode = 10101
	RecordAlreadyExists ErrorCode = 10102
	TransactionFailed   ErrorCode = 10103

	// Cache errors (10200-10299)
	CacheError     ErrorCode = 10200
	CacheMiss      ErrorCode = 10201
	CacheSetFailed ErrorCode = 10202
	LockFailed     ErrorCode = 10203

	// Validation errors (10300-10399)
	ValidationFailed   ErrorCode = 10300
	InvalidFormat      ErrorCode = 10301
	InvalidValue       ErrorCode = 10302
	RequiredFieldEmpty ErrorCode = 10303

	// Storage & messaging errors (10400-10499)
	StorageError      ErrorCode = 10400
	MessageQueueError ErrorCode = 10401

	// ========== Problem Errors (12000-12999) ==========

	ProblemNotFound ErrorCode = 12000

	// Test cases (12100-12199)
	TestCaseNotFound ErrorCode = 12100
	TestCaseInvalid  ErrorCode = 12102

	// ========== Submission & Judge Errors (13000-13999) ==========

	// Submission (13000-13099)
	SubmissionNotFound   ErrorCode = 13000
	CodeTooLong          ErrorCode = 13001
	LanguageNotSupported ErrorCode = 13003
	SubmissionNotPending ErrorCode = 13004

	// Judge (13100-13199)
	JudgeSystemError  ErrorCode = 13100
	CompilationError  ErrorCode = 13101
	RuntimeError      ErrorCode = 13102
	TimeLimitExceeded ErrorCode = 13103
	JudgeQueueFull    ErrorCode = 13106
	InvalidJobPayload ErrorCode = 13107

	// ========== Leaderboard Errors (14000-14999) ==========

	AlreadyCredited ErrorCode = 14000
)

var errorMessages = map[ErrorCode]string{
	Success: "Success",

	InternalServerError: "Internal server error",
	InvalidParams:       "Invalid parameters",
	NotFound:            "Resource not found",
	TooManyRequests:     "Too many requests",
	ServiceUnavailable:  "Service temporarily unavailable",
	Timeout:             "Request timeout",

	DatabaseError:       "Database error",
	RecordNotFound:      "Record not found",
	RecordAlreadyExists: "Record already exists",
	TransactionFailed:   "Transaction failed",

	CacheError:     "Cache error",
	CacheMiss:      "Cache miss",
	CacheSetFailed: "Failed to set cache",
	LockFailed:     "Failed to acquire lock",

	ValidationFailed:   "Validation failed",
	InvalidFormat:      "Invalid format",
	InvalidValue:       "Invalid value",
	RequiredFieldEmpty: "Required field is empty",

	StorageError:      "Object storage error",
	MessageQueueError: "Message queue error",

	ProblemNotFound:  "Problem not found",
	TestCaseNotFound: "Test case not found",
	TestCaseInvalid:  "Invalid test case",

	SubmissionNotFound:   "Submission not found",
	CodeTooLong:          "Code is too long",
	LanguageNotSupported: "Programming language not supported",
	SubmissionNotPending: "Submission is already judged",

	JudgeSystemError:  "Judge system error",
	CompilationError:  "Compilation error",
	RuntimeError:      "Runtime error",
	TimeLimitExceeded: "Time limit exceeded",
	JudgeQueueFull:    "Judge queue is full, please try again later",
	InvalidJobPayload: "Invalid judge job payload",

	AlreadyCredited: "Submission already credited",
}

// Message returns the default message for the error code
func (c ErrorCode) Message() string {
	if msg, ok := errorMessages[c]; ok {
		return msg
	}
	return "Unknown error"
}

// HTTPStatus maps the code to an HTTP status
func (c ErrorCode) HTTPStatus() int {
	switch {
	case c == Success:
		return http.StatusOK
	case c == NotFound, c == RecordNotFound, c == ProblemNotFound, c == SubmissionNotFound, c == TestCaseNotFound:
		return http.StatusNotFound
	case c == TooManyRequests:
		return http.StatusTooManyRequests
	case c == ServiceUnavailable, c == JudgeQueueFull:
		return http.StatusServiceUnavailable
	case c == Timeout:
		return http.StatusGatewayTimeout
	case c >= 10300 && c < 10400:
		return http.StatusBadRequest
	case c == InvalidParams, c == CodeTooLong, c == LanguageNotSupported, c == InvalidJobPayload:
		return http.StatusBadRequest
	case c == RecordAlreadyExists, c == SubmissionNotPending, c == AlreadyCredited:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// Permanent reports whether an error with this code is deterministic for a judge job,
// so retrying it cannot change the outcome.
func (c ErrorCode) Permanent() bool {
	switch c {
	case LanguageNotSupported, CompilationError, SubmissionNotFound, ProblemNotFound,
		TestCaseNotFound, TestCaseInvalid, InvalidJobPayload, ValidationFailed, SubmissionNotPending:
		return true
	default:
		return false
	}
}
