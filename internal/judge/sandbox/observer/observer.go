// Package observer defines metrics hooks for sandbox execution.
package observer

import (
	"context"
	"time"
)

// MetricsRecorder records sandbox metrics.
type MetricsRecorder interface {
	ObserveExecution(ctx context.Context, languageID string, outcome string, elapsed time.Duration)
	ObserveTeardownFailure(ctx context.Context, languageID string)
	SetActiveEnvironments(n int)
}

// Nop discards all metrics.
type Nop struct{}

func (Nop) ObserveExecution(context.Context, string, string, time.Duration) {}
func (Nop) ObserveTeardownFailure(context.Context, string)                  {}
func (Nop) SetActiveEnvironments(int)                                        {}
