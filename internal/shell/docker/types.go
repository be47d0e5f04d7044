// Package docker drives the container runtime: image builds, container
// lifecycle, exec into engine containers and compositions through the
// docker compose CLI.
package docker

import (
	"context"
	"time"
)

// =============================================================================
// Container Types
// =============================================================================

// ContainerSpec defines the specification for creating a container.
type ContainerSpec struct {
	Name          string
	Image         string
	Command       []string
	Env           []string // KEY=VALUE
	Labels        map[string]string
	Ports         []PortBinding
	Volumes       []VolumeMount
	Network       string
	RestartPolicy string // "no", "always", "unless-stopped"
}

// PortBinding defines a port mapping.
type PortBinding struct {
	ContainerPort int
	HostPort      int    // 0 for auto-assign
	Protocol      string // "tcp" or "udp"
}

// VolumeMount defines a named volume or host path mount.
type VolumeMount struct {
	Source string
	Target string
}

// =============================================================================
// Container Info
// =============================================================================

// ContainerStatus represents the container status.
type ContainerStatus string

const (
	ContainerStatusCreated    ContainerStatus = "created"
	ContainerStatusRunning    ContainerStatus = "running"
	ContainerStatusPaused     ContainerStatus = "paused"
	ContainerStatusRestarting ContainerStatus = "restarting"
	ContainerStatusExited     ContainerStatus = "exited"
	ContainerStatusDead       ContainerStatus = "dead"
)

// ContainerInfo contains information about a container.
type ContainerInfo struct {
	ID     string
	Name   string
	Image  string
	Status ContainerStatus
	Labels map[string]string
}

// Running reports whether the container is up.
func (c ContainerInfo) Running() bool {
	return c.Status == ContainerStatusRunning || c.Status == ContainerStatusRestarting
}

// =============================================================================
// Options
// =============================================================================

// BuildOptions defines an image build from a local context directory.
type BuildOptions struct {
	ContextDir string
	Dockerfile string // relative to ContextDir, defaults to "Dockerfile"
	Tag        string
	NoCache    bool
	Labels     map[string]string
}

// RemoveOptions defines options for removing containers.
type RemoveOptions struct {
	Force         bool
	RemoveVolumes bool
}

// LogOptions defines options for container logs.
type LogOptions struct {
	Tail       string // "all" or number
	Timestamps bool
}

// ExecSpec is a command run inside a running container.
type ExecSpec struct {
	Cmd []string
	Env []string
}

// ExecResult is the outcome of an awaited exec.
type ExecResult struct {
	ExitCode int
	Output   string // stdout and stderr, demultiplexed
}

// =============================================================================
// Client Interface
// =============================================================================

// Client defines the Docker client interface.
type Client interface {
	// Image operations
	BuildImage(ctx context.Context, opts BuildOptions) error

	// Container operations
	CreateContainer(ctx context.Context, spec ContainerSpec) (containerID string, err error)
	StartContainer(ctx context.Context, containerID string) error
	StopContainer(ctx context.Context, containerID string, timeout *time.Duration) error
	RemoveContainer(ctx context.Context, containerID string, opts RemoveOptions) error
	InspectContainer(ctx context.Context, containerID string) (*ContainerInfo, error)
	ContainerLogs(ctx context.Context, containerID string, opts LogOptions) (string, error)
	Exec(ctx context.Context, containerID string, spec ExecSpec) (ExecResult, error)

	// Network operations
	EnsureNetwork(ctx context.Context, name string) error

	// Health operations
	Ping(ctx context.Context) error
	Close() error
}

// =============================================================================
// Labels
// =============================================================================

const (
	LabelManaged = "online.deployer.managed"
	LabelProject = "online.deployer.project"
	LabelRole    = "online.deployer.role"
)
