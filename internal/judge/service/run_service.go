package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"ojudge/internal/judge/sandbox"
	"ojudge/internal/judge/sandbox/result"
	appErr "ojudge/pkg/errors"
	"ojudge/pkg/utils/logger"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"go.uber.org/zap"
)

const (
	defaultRunMaxCodeBytes  = 64 << 10
	defaultRunMaxInputBytes = 64 << 10
)

// RunConfig bounds ad-hoc runs.
type RunConfig struct {
	MaxCodeBytes  int
	MaxInputBytes int
}

// RunService executes code against caller-supplied input without judging or
// persisting anything.
type RunService struct {
	executor      sandbox.Executor
	maxCodeBytes  int
	maxInputBytes int
}

// RunInput is one ad-hoc run.
type RunInput struct {
	Language string
	Code     string
	Input    string
}

// RunResult reports how the program ended. Compilation, runtime and time
// limit failures are results, not errors.
type RunResult struct {
	Outcome    result.Outcome `json:"outcome"`
	Stdout     string         `json:"stdout"`
	Stderr     string         `json:"stderr,omitempty"`
	Diagnostic string         `json:"diagnostic,omitempty"`
	ElapsedMs  int64          `json:"elapsedMs"`
}

// NewRunService creates a run service.
func NewRunService(executor sandbox.Executor, cfg RunConfig) (*RunService, error) {
	if executor == nil {
		return nil, fmt.Errorf("executor is required")
	}
	if cfg.MaxCodeBytes <= 0 {
		cfg.MaxCodeBytes = defaultRunMaxCodeBytes
	}
	if cfg.MaxInputBytes <= 0 {
		cfg.MaxInputBytes = defaultRunMaxInputBytes
	}
	return &RunService{executor: executor, maxCodeBytes: cfg.MaxCodeBytes, maxInputBytes: cfg.MaxInputBytes}, nil
}

// Run executes input.Code once with input.Input as stdin.
func (s *RunService) Run(ctx context.Context, input RunInput) (RunResult, error) {
	input.Language = strings.TrimSpace(input.Language)
	if err := s.validate(input); err != nil {
		return RunResult{}, err
	}

	start := time.Now()
	res, err := s.executor.Run(ctx, sandbox.ExecRequest{
		Language: input.Language,
		Source:   input.Code,
		Stdin:    input.Input,
	})
	out := RunResult{Stdout: res.Stdout, Stderr: res.Stderr, ElapsedMs: time.Since(start).Milliseconds()}
	if err == nil {
		out.Outcome = result.OutcomeOK
		return out, nil
	}

	switch appErr.GetCode(err) {
	case appErr.CompilationError:
		out.Outcome = result.OutcomeCompilationError
	case appErr.RuntimeError:
		out.Outcome = result.OutcomeRuntimeError
	case appErr.TimeLimitExceeded:
		out.Outcome = result.OutcomeTimeout
	default:
		return RunResult{}, err
	}
	out.Diagnostic = appErr.GetError(err).Detail("diagnostic")
	logger.Debug(ctx, "ad-hoc run finished", zap.String("language", input.Language), zap.String("outcome", string(out.Outcome)))
	return out, nil
}

func (s *RunService) validate(input RunInput) error {
	err := validation.ValidateStruct(&input,
		validation.Field(&input.Language, validation.Required),
	)
	if err != nil {
		return appErr.New(appErr.ValidationFailed).WithMessage(err.Error())
	}
	if strings.TrimSpace(input.Code) == "" {
		return appErr.ValidationError("code", "required")
	}
	if len(input.Code) > s.maxCodeBytes {
		return appErr.New(appErr.CodeTooLong).WithMessagef("source code exceeds %d bytes", s.maxCodeBytes)
	}
	if len(input.Input) > s.maxInputBytes {
		return appErr.ValidationError("input", fmt.Sprintf("exceeds %d bytes", s.maxInputBytes))
	}
	return nil
}
