// Package engine talks to the container runtime that isolates untrusted programs.
package engine

import "context"

// ContainerSpec describes one disposable isolated environment.
type ContainerSpec struct {
	Name    string
	Image   string
	Cmd     []string
	Env     []string
	WorkDir string

	// ScratchHostDir is bind-mounted read-write at WorkDir; the root filesystem stays read-only.
	ScratchHostDir string

	MemoryBytes int64
	PidsLimit   int64
	NanoCPUs    int64
	Labels      map[string]string
}

// Backend is the lifecycle contract the executor needs from an isolation runtime.
// Logs returns the raw stream, which may be frame-multiplexed (see Demux).
type Backend interface {
	Create(ctx context.Context, spec ContainerSpec) (string, error)
	Start(ctx context.Context, id string) error
	Wait(ctx context.Context, id string) (int64, error)
	Logs(ctx context.Context, id string) ([]byte, error)
	Kill(ctx context.Context, id string) error
	Remove(ctx context.Context, id string) error
}
