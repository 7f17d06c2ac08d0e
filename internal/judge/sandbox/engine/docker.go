package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/errdefs"
	"github.com/docker/docker/pkg/stdcopy"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

const (
	defaultPingTimeout    = 5 * time.Second
	defaultCleanupTimeout = 10 * time.Second
	defaultOutputMaxBytes = 1 << 20
	killSignal            = "SIGKILL"
)

// DockerConfig holds settings for the Docker-backed engine.
type DockerConfig struct {
	// Host overrides the daemon address; empty means environment defaults.
	Host string `yaml:"host"`

	// OutputMaxBytes caps captured stdout/stderr per phase.
	OutputMaxBytes int64 `yaml:"outputMaxBytes"`
}

// containerAPI is the slice of the Docker client the engine uses.
type containerAPI interface {
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error)
	ContainerStart(ctx context.Context, containerID string, options types.ContainerStartOptions) error
	ContainerWait(ctx context.Context, containerID string, condition container.WaitCondition) (<-chan container.WaitResponse, <-chan error)
	ContainerKill(ctx context.Context, containerID, signal string) error
	ContainerRemove(ctx context.Context, containerID string, options types.ContainerRemoveOptions) error
	ContainerLogs(ctx context.Context, containerID string, options types.ContainerLogsOptions) (io.ReadCloser, error)
	ContainerInspect(ctx context.Context, containerID string) (types.ContainerJSON, error)
	ContainerStatsOneShot(ctx context.Context, containerID string) (types.ContainerStats, error)
	Close() error
}

// DockerEngine runs each phase in a throwaway Docker container.
type DockerEngine struct {
	cli            containerAPI
	outputMaxBytes int64
}

// NewDockerEngine connects to the Docker daemon and verifies it is reachable.
func NewDockerEngine(cfg DockerConfig) (*DockerEngine, error) {
	opts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	if cfg.Host != "" {
		opts = append(opts, client.WithHost(cfg.Host))
	}
	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("create docker client failed: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultPingTimeout)
	defer cancel()
	if _, err := cli.Ping(ctx); err != nil {
		_ = cli.Close()
		return nil, fmt.Errorf("docker daemon unreachable: %w", err)
	}

	maxBytes := cfg.OutputMaxBytes
	if maxBytes <= 0 {
		maxBytes = defaultOutputMaxBytes
	}
	return &DockerEngine{cli: cli, outputMaxBytes: maxBytes}, nil
}

func newDockerEngineWithClient(cli containerAPI, outputMaxBytes int64) *DockerEngine {
	if outputMaxBytes <= 0 {
		outputMaxBytes = defaultOutputMaxBytes
	}
	return &DockerEngine{cli: cli, outputMaxBytes: outputMaxBytes}
}

// Close releases the underlying client.
func (e *DockerEngine) Close() error {
	return e.cli.Close()
}

// Run creates, starts and reaps one container for the given spec.
// The container is always force-removed, including on timeout and error paths.
func (e *DockerEngine) Run(ctx context.Context, spec ContainerSpec) (ContainerResult, error) {
	if spec.Image == "" {
		return ContainerResult{}, fmt.Errorf("container image is required")
	}
	if len(spec.Cmd) == 0 {
		return ContainerResult{}, fmt.Errorf("container command is required")
	}
	if spec.WallTimeout <= 0 {
		return ContainerResult{}, fmt.Errorf("wall timeout is required")
	}

	binds := make([]string, 0, len(spec.Binds))
	for _, b := range spec.Binds {
		mode := "rw"
		if b.ReadOnly {
			mode = "ro"
		}
		binds = append(binds, fmt.Sprintf("%s:%s:%s", b.HostPath, b.ContainerPath, mode))
	}

	resources := container.Resources{
		Memory:   spec.MemoryBytes,
		NanoCPUs: int64(spec.CPUQuota * 1e9),
	}
	if spec.PidsLimit > 0 {
		pids := spec.PidsLimit
		resources.PidsLimit = &pids
	}

	created, err := e.cli.ContainerCreate(ctx,
		&container.Config{
			Image:           spec.Image,
			Cmd:             spec.Cmd,
			WorkingDir:      spec.WorkDir,
			NetworkDisabled: true,
		},
		&container.HostConfig{
			Binds:       binds,
			NetworkMode: "none",
			Resources:   resources,
		},
		nil, nil, spec.Name)
	if err != nil {
		if errdefs.IsNotFound(err) {
			return ContainerResult{}, fmt.Errorf("image %s not found: %w", spec.Image, err)
		}
		return ContainerResult{}, fmt.Errorf("create container failed: %w", err)
	}
	containerID := created.ID
	defer e.removeContainer(containerID)

	start := time.Now()
	if err := e.cli.ContainerStart(ctx, containerID, types.ContainerStartOptions{}); err != nil {
		return ContainerResult{}, fmt.Errorf("start container failed: %w", err)
	}

	// The wait must be registered after the start: a created-but-unstarted
	// container already satisfies the not-running condition, so waiting
	// first reports exit 0 before the program ever runs.
	waitCh, waitErrCh := e.cli.ContainerWait(ctx, containerID, container.WaitConditionNotRunning)

	var res ContainerResult
	timer := time.NewTimer(spec.WallTimeout)
	defer timer.Stop()

	select {
	case status := <-waitCh:
		res.ExitCode = int(status.StatusCode)
		res.Elapsed = time.Since(start)
	case err := <-waitErrCh:
		return ContainerResult{}, fmt.Errorf("wait container failed: %w", err)
	case <-timer.C:
		e.killContainer(containerID)
		res.TimedOut = true
		res.Elapsed = spec.WallTimeout
		e.drainWait(waitCh, waitErrCh)
	case <-ctx.Done():
		e.killContainer(containerID)
		e.drainWait(waitCh, waitErrCh)
		return ContainerResult{}, ctx.Err()
	}

	// Best effort: stats and inspect may be unavailable once the
	// container has already been reaped by the daemon.
	res.OOMKilled = e.inspectOOM(containerID)
	res.PeakMemoryKB = e.samplePeakMemoryKB(containerID)

	stdout, stderr, err := e.collectLogs(containerID)
	if err != nil && !res.TimedOut {
		return ContainerResult{}, err
	}
	res.Stdout = stdout
	res.Stderr = stderr
	return res, nil
}

func (e *DockerEngine) collectLogs(containerID string) (string, string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), defaultCleanupTimeout)
	defer cancel()

	rc, err := e.cli.ContainerLogs(ctx, containerID, types.ContainerLogsOptions{
		ShowStdout: true,
		ShowStderr: true,
	})
	if err != nil {
		return "", "", fmt.Errorf("read container logs failed: %w", err)
	}
	defer rc.Close()

	stdout := newCappedBuffer(e.outputMaxBytes)
	stderr := newCappedBuffer(e.outputMaxBytes)
	if _, err := stdcopy.StdCopy(stdout, stderr, rc); err != nil {
		return "", "", fmt.Errorf("demux container logs failed: %w", err)
	}
	return stdout.String(), stderr.String(), nil
}

func (e *DockerEngine) inspectOOM(containerID string) bool {
	ctx, cancel := context.WithTimeout(context.Background(), defaultCleanupTimeout)
	defer cancel()

	insp, err := e.cli.ContainerInspect(ctx, containerID)
	if err != nil || insp.State == nil {
		return false
	}
	return insp.State.OOMKilled
}

func (e *DockerEngine) samplePeakMemoryKB(containerID string) int64 {
	ctx, cancel := context.WithTimeout(context.Background(), defaultCleanupTimeout)
	defer cancel()

	resp, err := e.cli.ContainerStatsOneShot(ctx, containerID)
	if err != nil {
		return 0
	}
	defer resp.Body.Close()

	var stats types.StatsJSON
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		return 0
	}
	peak := stats.MemoryStats.MaxUsage
	if peak == 0 {
		peak = stats.MemoryStats.Usage
	}
	return int64(peak / 1024)
}

func (e *DockerEngine) killContainer(containerID string) {
	ctx, cancel := context.WithTimeout(context.Background(), defaultCleanupTimeout)
	defer cancel()
	_ = e.cli.ContainerKill(ctx, containerID, killSignal)
}

func (e *DockerEngine) removeContainer(containerID string) {
	ctx, cancel := context.WithTimeout(context.Background(), defaultCleanupTimeout)
	defer cancel()
	_ = e.cli.ContainerRemove(ctx, containerID, types.ContainerRemoveOptions{Force: true})
}

func (e *DockerEngine) drainWait(waitCh <-chan container.WaitResponse, errCh <-chan error) {
	select {
	case <-waitCh:
	case <-errCh:
	case <-time.After(defaultCleanupTimeout):
	}
}

// cappedBuffer keeps at most max bytes and silently drops the rest.
type cappedBuffer struct {
	buf []byte
	max int64
}

func newCappedBuffer(max int64) *cappedBuffer {
	return &cappedBuffer{max: max}
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	remain := b.max - int64(len(b.buf))
	if remain > 0 {
		if int64(len(p)) > remain {
			b.buf = append(b.buf, p[:remain]...)
		} else {
			b.buf = append(b.buf, p...)
		}
	}
	return len(p), nil
}

func (b *cappedBuffer) String() string {
	return string(b.buf)
}
