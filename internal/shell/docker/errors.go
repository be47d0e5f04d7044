package docker

import (
	"errors"
	"fmt"
	"strings"

	"github.com/artpar/deployer/internal/core/domain"
	"github.com/containerd/errdefs"
	"github.com/docker/docker/client"
)

// =============================================================================
// Error Types
// =============================================================================

var (
	// Container errors
	ErrContainerNotFound       = errors.New("container not found")
	ErrContainerAlreadyExists  = errors.New("container already exists")
	ErrContainerNotRunning     = errors.New("container is not running")
	ErrContainerAlreadyRunning = errors.New("container is already running")

	// Network errors
	ErrNetworkNotFound = errors.New("network not found")

	// Image errors
	ErrImageBuildFailed = errors.New("image build failed")

	// Exec errors
	ErrExecFailed = errors.New("exec exited non-zero")

	// ErrPortAlreadyAllocated is recoverable: the port was free when probed
	// and got bound by someone else before the run.
	ErrPortAlreadyAllocated = fmt.Errorf("port is already allocated: %w", domain.ErrRetryable)
	ErrConnectionFailed     = errors.New("docker connection failed")
)

// DockerError wraps errors with additional context.
type DockerError struct {
	Op      string // Operation that failed
	Entity  string // Entity type (container, network, image, exec)
	ID      string // Entity ID or name if applicable
	Message string
	Err     error
}

func (e *DockerError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("%s %s %s: %s", e.Op, e.Entity, e.ID, e.Message)
	}
	if e.Entity != "" {
		return fmt.Sprintf("%s %s: %s", e.Op, e.Entity, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

func (e *DockerError) Unwrap() error {
	return e.Err
}

// NewDockerError creates a new DockerError.
func NewDockerError(op, entity, id, message string, err error) *DockerError {
	return &DockerError{
		Op:      op,
		Entity:  entity,
		ID:      id,
		Message: message,
		Err:     err,
	}
}

// =============================================================================
// Classification
// =============================================================================

// IsNotFound reports whether err means the target does not exist.
func IsNotFound(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrContainerNotFound) ||
		errors.Is(err, ErrNetworkNotFound) ||
		errdefs.IsNotFound(err) ||
		client.IsErrNotFound(err)
}

// classify maps a daemon error onto the package sentinels.
func classify(err error) error {
	switch {
	case err == nil:
		return nil
	case (errdefs.IsNotFound(err) || client.IsErrNotFound(err)) && strings.Contains(err.Error(), "network"):
		return ErrNetworkNotFound
	case errdefs.IsNotFound(err) || client.IsErrNotFound(err):
		return ErrContainerNotFound
	case strings.Contains(err.Error(), "port is already allocated"):
		return ErrPortAlreadyAllocated
	case errdefs.IsConflict(err) || strings.Contains(err.Error(), "Conflict"):
		return ErrContainerAlreadyExists
	default:
		return err
	}
}
