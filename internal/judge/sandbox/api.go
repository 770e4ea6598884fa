// Package sandbox defines the call interface the judge uses to run untrusted code.
package sandbox

import (
	"context"

	"ojudge/internal/judge/sandbox/result"
	"ojudge/internal/judge/sandbox/spec"
)

// Executor runs one program against one input in a fresh isolated environment.
//
// Errors carry pkg/errors codes: LanguageNotSupported, CompilationError and
// RuntimeError (with a "diagnostic" detail), TimeLimitExceeded, or
// JudgeSystemError for infrastructure failures.
type Executor interface {
	Run(ctx context.Context, req ExecRequest) (result.ExecResult, error)
}

// ExecRequest describes one execution.
type ExecRequest struct {
	SubmissionID string
	Language     string
	Source       string
	Stdin        string
	// Limits overrides the executor defaults field by field when non-zero.
	Limits spec.ResourceLimit
}
