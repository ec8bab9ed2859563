package domain

import (
	"errors"
	"fmt"
	"strings"
)

// =============================================================================
// Errors
// =============================================================================

var (
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrInvalidProject    = errors.New("invalid project")

	// Pipeline failures. Each one is terminal for the attempt.
	ErrNoCapacity       = errors.New("no free port in the configured range")
	ErrProvision        = errors.New("environment provisioning failed")
	ErrCommandFailed    = errors.New("command failed")
	ErrManifestParse    = errors.New("manifest could not be parsed")
	ErrInvalidSignature = errors.New("invalid webhook signature")
)

func invalidProject(msg string) error {
	return fmt.Errorf("%w: %s", ErrInvalidProject, msg)
}

// CommandError is returned when a foreground command exits nonzero or times
// out. Log carries the command's captured output.
type CommandError struct {
	Command  string
	ExitCode int
	TimedOut bool
	Log      []LogLine
}

func (e *CommandError) Error() string {
	var b strings.Builder
	if e.TimedOut {
		fmt.Fprintf(&b, "command timed out: %s", e.Command)
	} else {
		fmt.Fprintf(&b, "command failed with exit code %d: %s", e.ExitCode, e.Command)
	}
	if len(e.Log) > 0 {
		b.WriteString("\n")
		for i, line := range e.Log {
			if i > 0 {
				b.WriteString("\n")
			}
			b.WriteString(line.Text)
		}
	}
	return b.String()
}

func (e *CommandError) Is(target error) bool {
	return target == ErrCommandFailed
}
