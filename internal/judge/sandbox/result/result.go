// Package result defines the outcome of one sandboxed execution.
package result

import "time"

// Outcome classifies how an execution ended.
type Outcome string

const (
	OutcomeOK               Outcome = "ok"
	OutcomeCompilationError Outcome = "compilation_error"
	OutcomeRuntimeError     Outcome = "runtime_error"
	OutcomeTimeout          Outcome = "timeout"
	OutcomeUnsupported      Outcome = "unsupported_language"
	OutcomeSystemError      Outcome = "system_error"
	OutcomeCanceled         Outcome = "canceled"
)

// ExecResult carries the captured streams of a successful execution.
type ExecResult struct {
	Stdout   string
	Stderr   string
	ExitCode int64
	Duration time.Duration
}
