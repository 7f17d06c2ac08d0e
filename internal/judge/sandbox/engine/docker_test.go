package engine

import (
	"bytes"
	"context"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/pkg/stdcopy"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

// fakeDockerClient mimics the daemon's wait semantics: a wait registered
// against a container that has not been started resolves immediately with
// exit 0, the way moby answers WaitConditionNotRunning for a created
// container.
type fakeDockerClient struct {
	mu      sync.Mutex
	calls   []string
	started bool

	exitCode int64
	holdWait bool
	oom      bool
	stdout   string
	stderr   string

	waitCh chan container.WaitResponse
}

func (f *fakeDockerClient) record(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, name)
}

func (f *fakeDockerClient) callIndex(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, c := range f.calls {
		if c == name {
			return i
		}
	}
	return -1
}

func (f *fakeDockerClient) ContainerCreate(_ context.Context, _ *container.Config, _ *container.HostConfig, _ *network.NetworkingConfig, _ *ocispec.Platform, name string) (container.CreateResponse, error) {
	f.record("create")
	return container.CreateResponse{ID: "cid-" + name}, nil
}

func (f *fakeDockerClient) ContainerStart(context.Context, string, types.ContainerStartOptions) error {
	f.record("start")
	f.mu.Lock()
	f.started = true
	f.mu.Unlock()
	return nil
}

func (f *fakeDockerClient) ContainerWait(_ context.Context, _ string, _ container.WaitCondition) (<-chan container.WaitResponse, <-chan error) {
	f.record("wait")
	ch := make(chan container.WaitResponse, 1)
	errCh := make(chan error, 1)

	f.mu.Lock()
	started := f.started
	f.mu.Unlock()
	if !started {
		ch <- container.WaitResponse{StatusCode: 0}
		return ch, errCh
	}
	if f.holdWait {
		f.mu.Lock()
		f.waitCh = ch
		f.mu.Unlock()
		return ch, errCh
	}
	ch <- container.WaitResponse{StatusCode: f.exitCode}
	return ch, errCh
}

func (f *fakeDockerClient) ContainerKill(context.Context, string, string) error {
	f.record("kill")
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.waitCh != nil {
		f.waitCh <- container.WaitResponse{StatusCode: 137}
		f.waitCh = nil
	}
	return nil
}

func (f *fakeDockerClient) ContainerRemove(context.Context, string, types.ContainerRemoveOptions) error {
	f.record("remove")
	return nil
}

func (f *fakeDockerClient) ContainerLogs(context.Context, string, types.ContainerLogsOptions) (io.ReadCloser, error) {
	f.record("logs")
	var buf bytes.Buffer
	if f.stdout != "" {
		_, _ = stdcopy.NewStdWriter(&buf, stdcopy.Stdout).Write([]byte(f.stdout))
	}
	if f.stderr != "" {
		_, _ = stdcopy.NewStdWriter(&buf, stdcopy.Stderr).Write([]byte(f.stderr))
	}
	return io.NopCloser(bytes.NewReader(buf.Bytes())), nil
}

func (f *fakeDockerClient) ContainerInspect(context.Context, string) (types.ContainerJSON, error) {
	f.record("inspect")
	return types.ContainerJSON{
		ContainerJSONBase: &types.ContainerJSONBase{
			State: &types.ContainerState{OOMKilled: f.oom},
		},
	}, nil
}

func (f *fakeDockerClient) ContainerStatsOneShot(context.Context, string) (types.ContainerStats, error) {
	f.record("stats")
	return types.ContainerStats{
		Body: io.NopCloser(strings.NewReader(`{"memory_stats":{"max_usage":2048000}}`)),
	}, nil
}

func (f *fakeDockerClient) Close() error { return nil }

func testSpec() ContainerSpec {
	return ContainerSpec{
		Name:        "case",
		Image:       "codemate-python:latest",
		Cmd:         []string{"python3", "/work/solution.py"},
		WorkDir:     "/work",
		WallTimeout: time.Second,
	}
}

func TestRunWaitsForStartedContainer(t *testing.T) {
	t.Parallel()

	cli := &fakeDockerClient{exitCode: 3, stdout: "partial", stderr: "boom"}
	eng := newDockerEngineWithClient(cli, 0)

	res, err := eng.Run(context.Background(), testSpec())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.ExitCode != 3 {
		t.Fatalf("exit code = %d, want 3 (wait resolved before the program ran)", res.ExitCode)
	}
	if res.Stdout != "partial" || res.Stderr != "boom" {
		t.Fatalf("logs lost: stdout %q stderr %q", res.Stdout, res.Stderr)
	}
	if res.PeakMemoryKB != 2000 {
		t.Fatalf("peak memory = %d KB, want 2000", res.PeakMemoryKB)
	}

	startIdx, waitIdx := cli.callIndex("start"), cli.callIndex("wait")
	if startIdx < 0 || waitIdx < 0 || waitIdx < startIdx {
		t.Fatalf("wait registered before start: calls %v", cli.calls)
	}
}

func TestRunKillsOnWallTimeout(t *testing.T) {
	t.Parallel()

	cli := &fakeDockerClient{holdWait: true}
	eng := newDockerEngineWithClient(cli, 0)

	spec := testSpec()
	spec.WallTimeout = 20 * time.Millisecond
	res, err := eng.Run(context.Background(), spec)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !res.TimedOut {
		t.Fatalf("expected timeout, got %+v", res)
	}
	if res.Elapsed != spec.WallTimeout {
		t.Fatalf("elapsed = %v, want full budget %v", res.Elapsed, spec.WallTimeout)
	}
	if cli.callIndex("kill") < 0 {
		t.Fatalf("container not killed on timeout: calls %v", cli.calls)
	}
	if cli.callIndex("remove") < 0 {
		t.Fatalf("container not removed on timeout: calls %v", cli.calls)
	}
}

func TestRunReportsOOM(t *testing.T) {
	t.Parallel()

	cli := &fakeDockerClient{exitCode: 137, oom: true}
	eng := newDockerEngineWithClient(cli, 0)

	res, err := eng.Run(context.Background(), testSpec())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !res.OOMKilled || res.ExitCode != 137 {
		t.Fatalf("oom not reported: %+v", res)
	}
}

func TestRunTruncatesOutput(t *testing.T) {
	t.Parallel()

	cli := &fakeDockerClient{stdout: strings.Repeat("x", 64)}
	eng := newDockerEngineWithClient(cli, 16)

	res, err := eng.Run(context.Background(), testSpec())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(res.Stdout) != 16 {
		t.Fatalf("stdout length = %d, want capped at 16", len(res.Stdout))
	}
}
