package docker

import (
	"errors"
	"fmt"
)

// =============================================================================
// Error Types
// =============================================================================

var (
	// Environment container lifecycle
	ErrContainerNotFound      = errors.New("container not found")
	ErrContainerAlreadyExists = errors.New("container already exists")
	ErrContainerNotRunning    = errors.New("container is not running")

	// Commands run inside an environment
	ErrExecNotFound = errors.New("exec instance not found")
	ErrExecFailed   = errors.New("exec failed")

	// Base image
	ErrImageNotFound   = errors.New("image not found")
	ErrImagePullFailed = errors.New("image pull failed")

	// The host port published for an environment is held by another process.
	ErrPortAlreadyAllocated = errors.New("port is already allocated")

	ErrConnectionFailed = errors.New("docker connection failed")
)

// DockerError records which daemon call failed and on what. Entity is one of
// "container", "exec" or "image".
type DockerError struct {
	Op      string
	Entity  string
	ID      string
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

func NewDockerError(op, entity, id, message string, err error) *DockerError {
	return &DockerError{
		Op:      op,
		Entity:  entity,
		ID:      id,
		Message: message,
		Err:     err,
	}
}

// IsNotFound reports whether err means the container no longer exists.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrContainerNotFound)
}
