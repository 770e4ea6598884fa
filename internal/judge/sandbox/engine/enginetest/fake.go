// Package enginetest provides an in-memory engine.Backend for tests.
package enginetest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"ojudge/internal/judge/sandbox/engine"
)

// Outcome scripts what a fake container does once started.
type Outcome struct {
	ExitCode int64
	Stdout   string
	Stderr   string
	// Delay is how long the container "runs"; Wait honours ctx while sleeping.
	Delay time.Duration
	// Files are written into the scratch dir before exit, keyed by name.
	Files map[string]string
}

// Script decides the outcome of a container from its spec.
type Script func(spec engine.ContainerSpec) Outcome

type fakeContainer struct {
	spec    engine.ContainerSpec
	outcome Outcome
	started bool
	killed  bool
	done    chan struct{}
}

// Backend is a goroutine-safe fake isolation runtime.
type Backend struct {
	Script Script

	// Injected failures.
	CreateErr error
	// CreateLeaks makes Create register the container under its name and
	// then fail with ctx.Err() or CreateErr, like a request cut off after
	// the runtime already acted on it.
	CreateLeaks bool
	StartErr  error
	LogsErr   error
	RemoveErr error

	mu         sync.Mutex
	seq        int
	containers map[string]*fakeContainer
	created    int
	removed    int
	killed     int
	specs      []engine.ContainerSpec
}

func New(script Script) *Backend {
	return &Backend{Script: script, containers: make(map[string]*fakeContainer)}
}

func (b *Backend) Create(ctx context.Context, spec engine.ContainerSpec) (string, error) {
	if b.CreateLeaks {
		b.mu.Lock()
		b.containers[spec.Name] = &fakeContainer{spec: spec, done: make(chan struct{})}
		b.created++
		b.specs = append(b.specs, spec)
		b.mu.Unlock()
		if err := ctx.Err(); err != nil {
			return "", err
		}
		if b.CreateErr != nil {
			return "", b.CreateErr
		}
		return "", context.DeadlineExceeded
	}
	if b.CreateErr != nil {
		return "", b.CreateErr
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.seq++
	id := fmt.Sprintf("fake-%d", b.seq)
	var out Outcome
	if b.Script != nil {
		out = b.Script(spec)
	}
	b.containers[id] = &fakeContainer{spec: spec, outcome: out, done: make(chan struct{})}
	b.created++
	b.specs = append(b.specs, spec)
	return id, nil
}

func (b *Backend) Start(ctx context.Context, id string) error {
	if b.StartErr != nil {
		return b.StartErr
	}
	b.mu.Lock()
	c, ok := b.containers[id]
	if !ok {
		b.mu.Unlock()
		return errors.New("no such container")
	}
	c.started = true
	b.mu.Unlock()

	go func() {
		timer := time.NewTimer(c.outcome.Delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-c.done:
			return
		}
		b.mu.Lock()
		defer b.mu.Unlock()
		select {
		case <-c.done:
			return
		default:
		}
		writeFiles(c.spec.ScratchHostDir, c.outcome.Files)
		close(c.done)
	}()
	return nil
}

func (b *Backend) Wait(ctx context.Context, id string) (int64, error) {
	b.mu.Lock()
	c, ok := b.containers[id]
	b.mu.Unlock()
	if !ok {
		return -1, errors.New("no such container")
	}
	select {
	case <-ctx.Done():
		return -1, ctx.Err()
	case <-c.done:
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if c.killed {
		return 137, nil
	}
	return c.outcome.ExitCode, nil
}

func (b *Backend) Logs(ctx context.Context, id string) ([]byte, error) {
	if b.LogsErr != nil {
		return nil, b.LogsErr
	}
	b.mu.Lock()
	c, ok := b.containers[id]
	b.mu.Unlock()
	if !ok {
		return nil, errors.New("no such container")
	}
	var raw []byte
	if c.outcome.Stdout != "" {
		raw = append(raw, Frame(engine.StreamStdout, c.outcome.Stdout)...)
	}
	if c.outcome.Stderr != "" {
		raw = append(raw, Frame(engine.StreamStderr, c.outcome.Stderr)...)
	}
	return raw, nil
}

func (b *Backend) Kill(ctx context.Context, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	c, ok := b.containers[id]
	if !ok {
		return nil
	}
	c.killed = true
	b.killed++
	select {
	case <-c.done:
	default:
		close(c.done)
	}
	return nil
}

func (b *Backend) Remove(ctx context.Context, id string) error {
	if b.RemoveErr != nil {
		return b.RemoveErr
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	c, ok := b.containers[id]
	if !ok {
		return nil
	}
	select {
	case <-c.done:
	default:
		close(c.done)
	}
	delete(b.containers, id)
	b.removed++
	return nil
}

// Live returns the number of containers not yet removed.
func (b *Backend) Live() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.containers)
}

// Counts returns created, removed and killed totals.
func (b *Backend) Counts() (created, removed, killed int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.created, b.removed, b.killed
}

// Specs returns every spec passed to Create.
func (b *Backend) Specs() []engine.ContainerSpec {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]engine.ContainerSpec(nil), b.specs...)
}

func writeFiles(dir string, files map[string]string) {
	if dir == "" {
		return
	}
	for name, content := range files {
		_ = os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644)
	}
}

// Frame encodes one multiplexed log frame.
func Frame(kind byte, payload string) []byte {
	n := len(payload)
	h := []byte{kind, 0, 0, 0, byte(n >> 24), byte(n >> 16), byte(n >> 8), byte(n)}
	return append(h, payload...)
}
