// Package engine abstracts the container runtime used for sandboxed execution.
package engine

import (
	"context"
	"time"
)

// Engine executes one command inside a fresh isolated container.
// Timeouts, OOM kills and non-zero exits are data on ContainerResult;
// the returned error is reserved for infrastructure failures (missing
// image, unreachable daemon, create/start errors).
type Engine interface {
	Run(ctx context.Context, spec ContainerSpec) (ContainerResult, error)
}

// Bind mounts a host path into the container.
type Bind struct {
	HostPath      string
	ContainerPath string
	ReadOnly      bool
}

// ContainerSpec describes a single disposable container run.
// Networking is always disabled; there is no opt-out.
type ContainerSpec struct {
	Name    string
	Image   string
	Cmd     []string
	WorkDir string
	Binds   []Bind

	MemoryBytes int64
	// CPUQuota is a fraction of one CPU core, e.g. 0.5.
	CPUQuota  float64
	PidsLimit int64

	// WallTimeout is the hard wall-clock deadline for the whole run.
	WallTimeout time.Duration
}

// ContainerResult reports what happened inside the container.
type ContainerResult struct {
	ExitCode  int
	Stdout    string
	Stderr    string
	TimedOut  bool
	OOMKilled bool

	Elapsed      time.Duration
	PeakMemoryKB int64
}
