// Package runner implements the isolated executor on top of an engine.Backend.
package runner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"ojudge/internal/judge/sandbox"
	"ojudge/internal/judge/sandbox/engine"
	"ojudge/internal/judge/sandbox/observer"
	"ojudge/internal/judge/sandbox/profile"
	"ojudge/internal/judge/sandbox/result"
	"ojudge/internal/judge/sandbox/spec"
	appErr "ojudge/pkg/errors"
	"ojudge/pkg/utils/logger"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const tracerName = "ojudge/sandbox"

// Config controls the executor.
type Config struct {
	// WorkRoot is the host directory holding per-execution scratch dirs.
	WorkRoot string `yaml:"work_root"`
	// ContainerWorkDir is where the scratch dir is mounted inside the container.
	ContainerWorkDir string             `yaml:"container_work_dir"`
	Limits           spec.ResourceLimit `yaml:"limits"`
	// TeardownTimeout bounds cleanup, which runs even after the deadline expired.
	TeardownTimeout time.Duration `yaml:"teardown_timeout"`
	// ProvisionRate limits environment creations per second; zero disables the limit.
	ProvisionRate  float64 `yaml:"provision_rate"`
	ProvisionBurst int     `yaml:"provision_burst"`
	// MaxDiagnosticBytes caps compiler and runtime text attached to errors.
	MaxDiagnosticBytes int `yaml:"max_diagnostic_bytes"`
}

// ApplyDefaults fills zero fields.
func (c *Config) ApplyDefaults() {
	if c.WorkRoot == "" {
		c.WorkRoot = os.TempDir()
	}
	if c.ContainerWorkDir == "" {
		c.ContainerWorkDir = defaultContainerWD
	}
	c.Limits = spec.Merge(spec.DefaultLimits(), c.Limits)
	if c.TeardownTimeout <= 0 {
		c.TeardownTimeout = 10 * time.Second
	}
	if c.ProvisionRate > 0 && c.ProvisionBurst <= 0 {
		c.ProvisionBurst = 1
	}
	if c.MaxDiagnosticBytes <= 0 {
		c.MaxDiagnosticBytes = 4096
	}
}

// Executor runs code in one fresh container per call and always tears it down.
type Executor struct {
	cfg      Config
	registry *profile.Registry
	backend  engine.Backend
	limiter  *rate.Limiter
	metrics  observer.MetricsRecorder
	active   atomic.Int64
}

var _ sandbox.Executor = (*Executor)(nil)

// NewExecutor creates an executor. metrics may be nil.
func NewExecutor(cfg Config, registry *profile.Registry, backend engine.Backend, metrics observer.MetricsRecorder) (*Executor, error) {
	if registry == nil {
		return nil, fmt.Errorf("language registry is required")
	}
	if backend == nil {
		return nil, fmt.Errorf("isolation backend is required")
	}
	cfg.ApplyDefaults()
	if err := os.MkdirAll(cfg.WorkRoot, 0o755); err != nil {
		return nil, fmt.Errorf("create work root: %w", err)
	}
	if metrics == nil {
		metrics = observer.Nop{}
	}
	e := &Executor{cfg: cfg, registry: registry, backend: backend, metrics: metrics}
	if cfg.ProvisionRate > 0 {
		e.limiter = rate.NewLimiter(rate.Limit(cfg.ProvisionRate), cfg.ProvisionBurst)
	}
	return e, nil
}

// Active reports environments currently provisioned by this executor.
func (e *Executor) Active() int64 {
	return e.active.Load()
}

// Run executes req. See sandbox.Executor for the error contract.
func (e *Executor) Run(ctx context.Context, req sandbox.ExecRequest) (res result.ExecResult, err error) {
	start := time.Now()
	lang, err := e.registry.Resolve(req.Language)
	if err != nil {
		e.metrics.ObserveExecution(ctx, req.Language, string(result.OutcomeUnsupported), 0)
		return res, err
	}

	ctx, span := otel.Tracer(tracerName).Start(ctx, "sandbox.execute")
	span.SetAttributes(
		attribute.String("language", lang.ID),
		attribute.String("submission_id", req.SubmissionID),
	)
	defer func() {
		outcome := classifyOutcome(err)
		span.SetAttributes(attribute.String("outcome", string(outcome)))
		if outcome == result.OutcomeSystemError {
			span.RecordError(err)
			span.SetStatus(codes.Error, "sandbox failure")
		}
		span.End()
		e.metrics.ObserveExecution(ctx, lang.ID, string(outcome), time.Since(start))
	}()

	limits := spec.Scale(spec.Merge(e.cfg.Limits, req.Limits), lang.TimeMultiplier, lang.MemoryMultiplier)
	script, err := buildScript(lang, e.cfg.ContainerWorkDir)
	if err != nil {
		return res, appErr.Wrapf(err, appErr.JudgeSystemError, "build command for %s failed", lang.ID)
	}

	// The deadline covers provisioning and the run; teardown gets its own budget.
	runCtx, cancel := context.WithTimeout(ctx, limits.Deadline)
	defer cancel()

	if e.limiter != nil {
		if err := e.limiter.Wait(runCtx); err != nil {
			return res, e.interrupted(ctx, runCtx, limits, err, "wait for provision slot")
		}
	}

	scratch, err := os.MkdirTemp(e.cfg.WorkRoot, "exec-")
	if err != nil {
		return res, appErr.Wrapf(err, appErr.JudgeSystemError, "create scratch dir failed")
	}
	defer e.removeScratch(ctx, lang.ID, scratch)
	if err := writeScratch(scratch, req.Source, req.Stdin); err != nil {
		return res, appErr.Wrapf(err, appErr.JudgeSystemError, "prepare scratch dir failed")
	}

	name := "ojudge-" + uuid.NewString()
	id, err := e.backend.Create(runCtx, engine.ContainerSpec{
		Name:           name,
		Image:          lang.Image,
		Cmd:            []string{"/bin/sh", "-c", script},
		Env:            append(append([]string(nil), lang.Env...), "TMPDIR="+e.cfg.ContainerWorkDir, "HOME="+e.cfg.ContainerWorkDir),
		WorkDir:        e.cfg.ContainerWorkDir,
		ScratchHostDir: scratch,
		MemoryBytes:    limits.MemoryBytes,
		PidsLimit:      limits.PidsLimit,
		NanoCPUs:       limits.NanoCPUs,
		Labels:         map[string]string{"ojudge.submission": req.SubmissionID, "ojudge.language": lang.ID},
	})
	if err != nil {
		// A create interrupted mid-request may still have produced the container.
		e.discard(ctx, lang.ID, name)
		return res, e.interrupted(ctx, runCtx, limits, err, "create environment")
	}
	e.metrics.SetActiveEnvironments(int(e.active.Add(1)))
	defer e.teardown(ctx, lang.ID, id)

	if err := e.backend.Start(runCtx, id); err != nil {
		return res, e.interrupted(ctx, runCtx, limits, err, "start environment")
	}
	exitCode, err := e.backend.Wait(runCtx, id)
	if err != nil {
		if runCtx.Err() != nil {
			e.kill(ctx, id)
		}
		return res, e.interrupted(ctx, runCtx, limits, err, "wait for environment")
	}

	logCtx, logCancel := e.cleanupContext(ctx)
	raw, err := e.backend.Logs(logCtx, id)
	logCancel()
	if err != nil {
		return res, appErr.Wrapf(err, appErr.JudgeSystemError, "fetch output failed")
	}

	var streams engine.Streams
	if engine.LooksMultiplexed(raw) {
		streams = engine.Demux(raw)
	} else {
		streams = engine.Streams{Stdout: raw, Combined: raw}
	}
	res = result.ExecResult{
		Stdout:   string(streams.Stdout),
		Stderr:   string(streams.Stderr),
		ExitCode: exitCode,
		Duration: time.Since(start),
	}

	switch {
	case markerExists(scratch, decodeFailedName):
		return res, appErr.New(appErr.JudgeSystemError).WithMessage("decode source inside sandbox failed")
	case markerExists(scratch, compileFailedName):
		diag, readErr := os.ReadFile(filepath.Join(scratch, compileLogName))
		if readErr != nil || len(diag) == 0 {
			diag = streams.Stderr
		}
		return res, appErr.New(appErr.CompilationError).
			WithDetail("diagnostic", e.truncate(string(diag))).
			WithDetail("exit_code", exitCode)
	case exitCode != 0:
		return res, appErr.New(appErr.RuntimeError).
			WithDetail("diagnostic", e.truncate(runtimeDiagnostic(exitCode, res.Stderr))).
			WithDetail("exit_code", exitCode)
	case strings.TrimSpace(res.Stderr) != "":
		return res, appErr.New(appErr.RuntimeError).
			WithDetail("diagnostic", e.truncate(res.Stderr)).
			WithDetail("exit_code", exitCode)
	}
	logger.Debug(ctx, "execution finished",
		zap.String("language", lang.ID),
		zap.Int64("exit_code", exitCode),
		zap.Duration("elapsed", res.Duration))
	return res, nil
}

// interrupted classifies a failure of a lifecycle call: the execution deadline
// becomes a time limit verdict, caller cancellation and anything else become
// retryable system errors.
func (e *Executor) interrupted(parent, runCtx context.Context, limits spec.ResourceLimit, cause error, step string) error {
	if parent.Err() != nil {
		return appErr.Wrapf(parent.Err(), appErr.JudgeSystemError, "execution canceled during %s", step)
	}
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		return appErr.New(appErr.TimeLimitExceeded).
			WithMessagef("execution exceeded %s", limits.Deadline).
			WithDetail("deadline", limits.Deadline.String())
	}
	return appErr.Wrapf(cause, appErr.JudgeSystemError, "%s failed", step)
}

func (e *Executor) cleanupContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), e.cfg.TeardownTimeout)
}

func (e *Executor) kill(ctx context.Context, id string) {
	kctx, cancel := e.cleanupContext(ctx)
	defer cancel()
	if err := e.backend.Kill(kctx, id); err != nil {
		logger.Warn(ctx, "kill environment failed", zap.String("container_id", id), zap.Error(err))
	}
}

func (e *Executor) teardown(ctx context.Context, languageID, id string) {
	tctx, cancel := e.cleanupContext(ctx)
	defer cancel()
	if err := e.backend.Remove(tctx, id); err != nil {
		e.metrics.ObserveTeardownFailure(ctx, languageID)
		logger.Warn(ctx, "remove environment failed", zap.String("container_id", id), zap.Error(err))
	}
	e.metrics.SetActiveEnvironments(int(e.active.Add(-1)))
}

func (e *Executor) discard(ctx context.Context, languageID, name string) {
	dctx, cancel := e.cleanupContext(ctx)
	defer cancel()
	if err := e.backend.Remove(dctx, name); err != nil {
		e.metrics.ObserveTeardownFailure(ctx, languageID)
		logger.Warn(ctx, "remove half-created environment failed", zap.String("container_name", name), zap.Error(err))
	}
}

func (e *Executor) removeScratch(ctx context.Context, languageID, dir string) {
	if err := os.RemoveAll(dir); err != nil {
		e.metrics.ObserveTeardownFailure(ctx, languageID)
		logger.Warn(ctx, "remove scratch dir failed", zap.String("dir", dir), zap.Error(err))
	}
}

func (e *Executor) truncate(s string) string {
	if len(s) <= e.cfg.MaxDiagnosticBytes {
		return s
	}
	return s[:e.cfg.MaxDiagnosticBytes] + "\n...(truncated)"
}

func runtimeDiagnostic(exitCode int64, stderr string) string {
	if strings.TrimSpace(stderr) != "" {
		return stderr
	}
	if exitCode == 137 {
		return "process killed (exit code 137), likely memory limit exceeded"
	}
	return fmt.Sprintf("process exited with code %d", exitCode)
}

func classifyOutcome(err error) result.Outcome {
	if err == nil {
		return result.OutcomeOK
	}
	switch appErr.GetCode(err) {
	case appErr.CompilationError:
		return result.OutcomeCompilationError
	case appErr.RuntimeError:
		return result.OutcomeRuntimeError
	case appErr.TimeLimitExceeded:
		return result.OutcomeTimeout
	case appErr.LanguageNotSupported:
		return result.OutcomeUnsupported
	}
	if errors.Is(err, context.Canceled) {
		return result.OutcomeCanceled
	}
	return result.OutcomeSystemError
}
