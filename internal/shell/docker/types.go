// Package docker is the execution backend: a thin, context-aware wrapper over
// the Docker SDK for container lifecycle, exec and event streams.
package docker

import (
	"context"
	"io"
	"time"
)

// =============================================================================
// Container Types
// =============================================================================

// ContainerSpec defines the specification for creating a container.
type ContainerSpec struct {
	Name       string
	Image      string
	Command    []string
	Env        []string // KEY=VALUE
	Labels     map[string]string
	Ports      []PortBinding
	WorkingDir string
	Tty        bool
	OpenStdin  bool
	Log        LogRotation
}

// PortBinding defines a port mapping.
type PortBinding struct {
	ContainerPort int
	HostPort      int    // 0 for auto-assign
	Protocol      string // "tcp" or "udp"
	HostIP        string // "" for 0.0.0.0
}

// LogRotation configures the json-file log driver. Zero values leave the
// daemon default in place.
type LogRotation struct {
	MaxSize  string // e.g. "10m"
	MaxFiles int
}

// ContainerStatus represents the container status.
type ContainerStatus string

const (
	ContainerStatusCreated    ContainerStatus = "created"
	ContainerStatusRunning    ContainerStatus = "running"
	ContainerStatusPaused     ContainerStatus = "paused"
	ContainerStatusRestarting ContainerStatus = "restarting"
	ContainerStatusRemoving   ContainerStatus = "removing"
	ContainerStatusExited     ContainerStatus = "exited"
	ContainerStatusDead       ContainerStatus = "dead"
)

// ContainerInfo contains information about a container.
type ContainerInfo struct {
	ID         string
	Name       string
	Image      string
	Status     ContainerStatus
	CreatedAt  time.Time
	StartedAt  *time.Time
	FinishedAt *time.Time
	Ports      []PortBinding
	Labels     map[string]string
	ExitCode   int
}

// Running reports whether the container's main process is alive.
func (c ContainerInfo) Running() bool {
	return c.Status == ContainerStatusRunning
}

// =============================================================================
// Exec Types
// =============================================================================

// ExecSpec describes a command run inside a running container.
type ExecSpec struct {
	Cmd        []string
	Env        []string
	WorkingDir string
}

// ExecSession is a started exec. Output yields the demultiplexed stdout and
// stderr stream until the process exits or the session is closed.
type ExecSession struct {
	ID     string
	Output io.ReadCloser
}

// ExecState is the post-exit status of an exec.
type ExecState struct {
	Running  bool
	ExitCode int
	Pid      int
}

// =============================================================================
// Event Types
// =============================================================================

// ContainerEvent is a lifecycle event reported by the daemon.
type ContainerEvent struct {
	ContainerID string
	Action      string // die, destroy, oom, ...
	Labels      map[string]string
	Time        time.Time
}

// =============================================================================
// Options
// =============================================================================

// RemoveOptions defines options for removing containers.
type RemoveOptions struct {
	Force         bool
	RemoveVolumes bool
}

// ListOptions defines options for listing containers.
type ListOptions struct {
	All     bool              // Include stopped containers
	Filters map[string]string // e.g., {"label": "com.mercel.managed=true"}
}

// EventOptions selects which container events to stream.
type EventOptions struct {
	Actions []string          // die, destroy, ...
	Labels  map[string]string // label=value filters
}

// PullOptions defines options for pulling images.
type PullOptions struct {
	Platform string // e.g., "linux/amd64"
}

// =============================================================================
// Client Interface
// =============================================================================

// Client defines the Docker client interface. A single Client is created at
// startup and shared by every component.
type Client interface {
	// Container operations
	CreateContainer(ctx context.Context, spec ContainerSpec) (containerID string, err error)
	StartContainer(ctx context.Context, containerID string) error
	StopContainer(ctx context.Context, containerID string, timeout *time.Duration) error
	RemoveContainer(ctx context.Context, containerID string, opts RemoveOptions) error
	InspectContainer(ctx context.Context, containerID string) (*ContainerInfo, error)
	ListContainers(ctx context.Context, opts ListOptions) ([]ContainerInfo, error)

	// Exec operations
	ExecStart(ctx context.Context, containerID string, spec ExecSpec) (*ExecSession, error)
	ExecInspect(ctx context.Context, execID string) (*ExecState, error)

	// Events streams container events until ctx is done.
	Events(ctx context.Context, opts EventOptions) (<-chan ContainerEvent, <-chan error)

	// Image operations
	PullImage(ctx context.Context, image string, opts PullOptions) error
	ImageExists(ctx context.Context, image string) (bool, error)

	// Health operations
	Ping(ctx context.Context) error
	Close() error
}

// =============================================================================
// Label Constants
// =============================================================================

const (
	LabelManaged = "com.mercel.managed"
	LabelProject = "com.mercel.project"
	LabelPort    = "com.mercel.port"
)
