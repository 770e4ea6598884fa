package errors_test

import (
	"errors"
	"fmt"
	"testing"

	. "ojudge/pkg/errors"
)

func TestErrorCode_Message(t *testing.T) {
	tests := []struct {
		code ErrorCode
		want string
	}{
		{Success, "Success"},
		{InvalidParams, "Invalid parameters"},
		{LanguageNotSupported, "Programming language not supported"},
		{TimeLimitExceeded, "Time limit exceeded"},
		{ErrorCode(99999), "Unknown error"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.code.Message(); got != tt.want {
				t.Errorf("Message() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestErrorCode_HTTPStatus(t *testing.T) {
	tests := []struct {
		code       ErrorCode
		wantStatus int
	}{
		{Success, 200},
		{InvalidParams, 400},
		{LanguageNotSupported, 400},
		{SubmissionNotFound, 404},
		{TooManyRequests, 429},
		{JudgeQueueFull, 503},
		{InternalServerError, 500},
	}

	for _, tt := range tests {
		t.Run(tt.code.Message(), func(t *testing.T) {
			if got := tt.code.HTTPStatus(); got != tt.wantStatus {
				t.Errorf("HTTPStatus() = %v, want %v", got, tt.wantStatus)
			}
		})
	}
}

func TestNewf(t *testing.T) {
	err := Newf(ProblemNotFound, "problem %s not found", "P100")
	if err.Error() != "problem P100 not found" {
		t.Errorf("Error() = %v", err.Error())
	}
	if err.Code != ProblemNotFound {
		t.Errorf("Code = %v, want %v", err.Code, ProblemNotFound)
	}
}

func TestWrapKeepsCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := Wrap(cause, JudgeSystemError)

	if !errors.Is(err, cause) {
		t.Fatal("expected wrapped error to match cause")
	}
	if err.Error() != "Judge system error: connection refused" {
		t.Errorf("Error() = %v", err.Error())
	}
	if Wrap(nil, JudgeSystemError) != nil {
		t.Error("Wrap(nil) should be nil")
	}
}

func TestGetCodeThroughChain(t *testing.T) {
	inner := New(CompilationError).WithDetail("diagnostic", "expected ';'")
	outer := fmt.Errorf("judge case 1: %w", inner)

	if got := GetCode(outer); got != CompilationError {
		t.Fatalf("expected %v, got %v", CompilationError, got)
	}
	if !Is(outer, CompilationError) {
		t.Fatal("expected Is to see through fmt wrapping")
	}
	if GetError(outer).Detail("diagnostic") != "expected ';'" {
		t.Fatal("expected diagnostic detail")
	}
	if GetCode(errors.New("plain")) != InternalServerError {
		t.Fatal("plain errors should map to InternalServerError")
	}
	if GetCode(nil) != Success {
		t.Fatal("nil should map to Success")
	}
}

func TestIsPermanent(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"compilation", New(CompilationError), true},
		{"unsupported language", New(LanguageNotSupported), true},
		{"missing submission", New(SubmissionNotFound), true},
		{"invalid payload", fmt.Errorf("decode: %w", New(InvalidJobPayload)), true},
		{"infrastructure", New(JudgeSystemError), false},
		{"database", Wrap(errors.New("io"), DatabaseError), false},
		{"plain", errors.New("boom"), false},
		{"nil", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsPermanent(tt.err); got != tt.want {
				t.Errorf("IsPermanent() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestValidationError(t *testing.T) {
	err := ValidationError("language", "unsupported")
	if err.Detail("field") != "language" || err.Detail("reason") != "unsupported" {
		t.Fatalf("unexpected details: %v", err.Details)
	}
}
