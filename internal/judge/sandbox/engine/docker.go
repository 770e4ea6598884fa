package engine

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"ojudge/pkg/utils/logger"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
	"github.com/docker/docker/errdefs"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ManagedLabel marks containers created by this service.
const ManagedLabel = "ojudge.managed"

// InstanceLabel names the backend instance that created a container.
const InstanceLabel = "ojudge.instance"

const (
	defaultMaxLogBytes int64 = 8 << 20
	defaultOrphanAge         = 10 * time.Minute
)

// DockerConfig controls the docker backend.
type DockerConfig struct {
	// Host overrides DOCKER_HOST when set.
	Host string
	// MaxLogBytes caps the raw log stream read per container.
	MaxLogBytes int64
	// OrphanAge is how old a container of another instance must be before a
	// sweep removes it. It must exceed the longest execution plus teardown,
	// since sibling workers may share the daemon.
	OrphanAge time.Duration
}

// DockerBackend implements Backend on the Docker Engine API.
type DockerBackend struct {
	cli         *client.Client
	maxLogBytes int64
	orphanAge   time.Duration
	instance    string

	mu   sync.Mutex
	live map[string]struct{}
}

// NewDockerBackend creates a client from the environment with API version negotiation.
func NewDockerBackend(cfg DockerConfig) (*DockerBackend, error) {
	opts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	if cfg.Host != "" {
		opts = append(opts, client.WithHost(cfg.Host))
	}
	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}
	if cfg.MaxLogBytes <= 0 {
		cfg.MaxLogBytes = defaultMaxLogBytes
	}
	if cfg.OrphanAge <= 0 {
		cfg.OrphanAge = defaultOrphanAge
	}
	return &DockerBackend{
		cli:         cli,
		maxLogBytes: cfg.MaxLogBytes,
		orphanAge:   cfg.OrphanAge,
		instance:    uuid.NewString(),
		live:        make(map[string]struct{}),
	}, nil
}

func (d *DockerBackend) Create(ctx context.Context, spec ContainerSpec) (string, error) {
	labels := map[string]string{ManagedLabel: "true", InstanceLabel: d.instance}
	for k, v := range spec.Labels {
		labels[k] = v
	}
	pids := spec.PidsLimit
	cfg := &container.Config{
		Image:           spec.Image,
		Cmd:             spec.Cmd,
		Env:             spec.Env,
		WorkingDir:      spec.WorkDir,
		NetworkDisabled: true,
		Labels:          labels,
	}
	hostCfg := &container.HostConfig{
		NetworkMode:    "none",
		ReadonlyRootfs: true,
		SecurityOpt:    []string{"no-new-privileges:true"},
		CapDrop:        []string{"ALL"},
		Resources: container.Resources{
			Memory:     spec.MemoryBytes,
			MemorySwap: spec.MemoryBytes,
			PidsLimit:  &pids,
			NanoCPUs:   spec.NanoCPUs,
		},
	}
	if spec.ScratchHostDir != "" {
		hostCfg.Mounts = []mount.Mount{{
			Type:   mount.TypeBind,
			Source: spec.ScratchHostDir,
			Target: spec.WorkDir,
		}}
	}

	resp, err := d.cli.ContainerCreate(ctx, cfg, hostCfg, nil, nil, spec.Name)
	if err != nil {
		return "", fmt.Errorf("create container: %w", err)
	}
	d.mu.Lock()
	d.live[resp.ID] = struct{}{}
	d.mu.Unlock()
	return resp.ID, nil
}

func (d *DockerBackend) Start(ctx context.Context, id string) error {
	if err := d.cli.ContainerStart(ctx, id, container.StartOptions{}); err != nil {
		return fmt.Errorf("start container: %w", err)
	}
	return nil
}

func (d *DockerBackend) Wait(ctx context.Context, id string) (int64, error) {
	statusCh, errCh := d.cli.ContainerWait(ctx, id, container.WaitConditionNotRunning)
	select {
	case status := <-statusCh:
		if status.Error != nil && status.Error.Message != "" {
			return status.StatusCode, fmt.Errorf("wait container: %s", status.Error.Message)
		}
		return status.StatusCode, nil
	case err := <-errCh:
		return -1, fmt.Errorf("wait container: %w", err)
	}
}

func (d *DockerBackend) Logs(ctx context.Context, id string) ([]byte, error) {
	rc, err := d.cli.ContainerLogs(ctx, id, container.LogsOptions{ShowStdout: true, ShowStderr: true})
	if err != nil {
		return nil, fmt.Errorf("fetch logs: %w", err)
	}
	defer rc.Close()
	data, err := io.ReadAll(io.LimitReader(rc, d.maxLogBytes))
	if err != nil {
		return nil, fmt.Errorf("read logs: %w", err)
	}
	return data, nil
}

func (d *DockerBackend) Kill(ctx context.Context, id string) error {
	err := d.cli.ContainerKill(ctx, id, "SIGKILL")
	if err != nil && !errdefs.IsNotFound(err) && !errdefs.IsConflict(err) {
		return fmt.Errorf("kill container: %w", err)
	}
	return nil
}

func (d *DockerBackend) Remove(ctx context.Context, id string) error {
	err := d.cli.ContainerRemove(ctx, id, container.RemoveOptions{Force: true, RemoveVolumes: true})
	if err != nil && !errdefs.IsNotFound(err) {
		return fmt.Errorf("remove container: %w", err)
	}
	d.mu.Lock()
	delete(d.live, id)
	d.mu.Unlock()
	return nil
}

// Live reports containers created by this process and not yet removed.
func (d *DockerBackend) Live() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.live)
}

// EnsureImage pulls ref when it is not present locally.
func (d *DockerBackend) EnsureImage(ctx context.Context, ref string) error {
	if _, _, err := d.cli.ImageInspectWithRaw(ctx, ref); err == nil {
		return nil
	} else if !errdefs.IsNotFound(err) {
		return fmt.Errorf("inspect image %s: %w", ref, err)
	}
	logger.Info(ctx, "pulling sandbox image", zap.String("image", ref))
	rc, err := d.cli.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("pull image %s: %w", ref, err)
	}
	defer rc.Close()
	// The pull only completes once the progress stream is drained.
	if _, err := io.Copy(io.Discard, rc); err != nil {
		return fmt.Errorf("pull image %s: %w", ref, err)
	}
	return nil
}

// SweepOrphans force-removes managed containers nobody will tear down: ones
// this instance created but no longer tracks, and ones of other instances
// older than the orphan age. Younger foreign containers may belong to a live
// sibling worker and are left alone.
func (d *DockerBackend) SweepOrphans(ctx context.Context) (int, error) {
	list, err := d.cli.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: filters.NewArgs(filters.Arg("label", ManagedLabel+"=true")),
	})
	if err != nil {
		return 0, fmt.Errorf("list containers: %w", err)
	}
	candidates := make([]ManagedContainer, 0, len(list))
	for _, c := range list {
		candidates = append(candidates, ManagedContainer{
			ID:       c.ID,
			Instance: c.Labels[InstanceLabel],
			Created:  time.Unix(c.Created, 0),
		})
	}
	d.mu.Lock()
	orphans := SelectOrphans(candidates, d.instance, d.live, time.Now().Add(-d.orphanAge))
	d.mu.Unlock()

	removed := 0
	for _, id := range orphans {
		if err := d.Remove(ctx, id); err != nil {
			logger.Warn(ctx, "remove orphan container failed", zap.String("container_id", id), zap.Error(err))
			continue
		}
		removed++
	}
	return removed, nil
}

// ManagedContainer is the part of a listed container the sweep decides on.
type ManagedContainer struct {
	ID       string
	Instance string
	Created  time.Time
}

// SelectOrphans returns the ids a sweep by instance should remove. live holds
// the containers instance is still running.
func SelectOrphans(list []ManagedContainer, instance string, live map[string]struct{}, cutoff time.Time) []string {
	var out []string
	for _, c := range list {
		if _, ok := live[c.ID]; ok {
			continue
		}
		if c.Instance == instance || c.Created.Before(cutoff) {
			out = append(out, c.ID)
		}
	}
	return out
}

func (d *DockerBackend) Ping(ctx context.Context) error {
	_, err := d.cli.Ping(ctx)
	return err
}

func (d *DockerBackend) Close() error {
	return d.cli.Close()
}
