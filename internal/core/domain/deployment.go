package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// Deployment Status
// =============================================================================

type DeploymentStatus string

const (
	StatusBuilding DeploymentStatus = "BUILDING"
	StatusReady    DeploymentStatus = "READY"
	StatusError    DeploymentStatus = "ERROR"
	StatusCanceled DeploymentStatus = "CANCELED"
)

// IsTerminal reports whether no further transition is possible from s.
func (s DeploymentStatus) IsTerminal() bool {
	return s == StatusReady || s == StatusError || s == StatusCanceled
}

// ParseDeploymentStatus accepts the upper-case wire form.
func ParseDeploymentStatus(s string) (DeploymentStatus, error) {
	switch st := DeploymentStatus(s); st {
	case StatusBuilding, StatusReady, StatusError, StatusCanceled:
		return st, nil
	}
	return "", fmt.Errorf("unknown deployment status %q", s)
}

// =============================================================================
// Trigger & Revision
// =============================================================================

// Trigger records what started a deployment attempt.
type Trigger string

const (
	TriggerManual  Trigger = "manual"
	TriggerWebhook Trigger = "webhook"
)

// Revision describes the source revision a deployment was built from.
type Revision struct {
	SHA     string `json:"sha,omitempty"`
	Message string `json:"message,omitempty"`
	Author  string `json:"author,omitempty"`
	Branch  string `json:"branch,omitempty"`
}

// =============================================================================
// Log Lines
// =============================================================================

// LogLine is one captured line of output. Timestamps are stamped on the
// capturing side and are advisory.
type LogLine struct {
	Timestamp time.Time `json:"timestamp"`
	Text      string    `json:"text"`
}

// NewLogLine stamps text with the current wall-clock time.
func NewLogLine(text string) LogLine {
	return LogLine{Timestamp: time.Now().UTC(), Text: text}
}

// String renders the line the way it is shown to users.
func (l LogLine) String() string {
	return l.Timestamp.Format(time.RFC3339Nano) + " " + l.Text
}

// =============================================================================
// Deployment
// =============================================================================

// Deployment is one build/run attempt for a project.
type Deployment struct {
	ID            string           `json:"id"`
	ProjectID     string           `json:"project_id"`
	Status        DeploymentStatus `json:"status"`
	Trigger       Trigger          `json:"trigger"`
	Revision      Revision         `json:"revision"`
	Port          int              `json:"port,omitempty"`
	EnvironmentID string           `json:"environment_id,omitempty"`
	Logs          []LogLine        `json:"logs"`
	CreatedAt     time.Time        `json:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at"`
	FinishedAt    *time.Time       `json:"finished_at,omitempty"`
}

// NewDeployment creates a BUILDING deployment with an empty log.
func NewDeployment(projectID string, trigger Trigger, revision Revision) *Deployment {
	now := time.Now().UTC()
	return &Deployment{
		ID:        uuid.New().String(),
		ProjectID: projectID,
		Status:    StatusBuilding,
		Trigger:   trigger,
		Revision:  revision,
		Logs:      []LogLine{},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// AppendLogs appends lines keeping the log ordered by capture time. A line
// stamped earlier than the current tail is clamped to the tail's timestamp.
func (d *Deployment) AppendLogs(lines ...LogLine) {
	for _, line := range lines {
		if n := len(d.Logs); n > 0 && line.Timestamp.Before(d.Logs[n-1].Timestamp) {
			line.Timestamp = d.Logs[n-1].Timestamp
		}
		d.Logs = append(d.Logs, line)
	}
	d.UpdatedAt = time.Now().UTC()
}

// Logf appends a single formatted line stamped now.
func (d *Deployment) Logf(format string, args ...any) {
	d.AppendLogs(NewLogLine(fmt.Sprintf(format, args...)))
}

// Transition attempts to transition the deployment to a new status.
func (d *Deployment) Transition(to DeploymentStatus) error {
	if err := ValidateTransition(d.Status, to); err != nil {
		return err
	}

	now := time.Now().UTC()
	d.Status = to
	d.UpdatedAt = now
	if to.IsTerminal() {
		d.FinishedAt = &now
	}
	return nil
}

// Attach records the environment the attempt created. A failed attempt keeps
// it so the history matches the project binding.
func (d *Deployment) Attach(environmentID string, port int) {
	d.EnvironmentID = environmentID
	d.Port = port
	d.UpdatedAt = time.Now().UTC()
}

// MarkReady records the environment the attempt produced and finishes it.
func (d *Deployment) MarkReady(environmentID string, port int) error {
	if err := d.Transition(StatusReady); err != nil {
		return err
	}
	d.Attach(environmentID, port)
	return nil
}

// Fail appends the failure message to the log and moves to ERROR.
func (d *Deployment) Fail(message string) error {
	if d.Status != StatusBuilding {
		return ErrInvalidTransition
	}
	d.Logf("Error: %s", message)
	return d.Transition(StatusError)
}

// Cancel appends the reason to the log and moves to CANCELED.
func (d *Deployment) Cancel(reason string) error {
	if d.Status != StatusBuilding {
		return ErrInvalidTransition
	}
	d.Logf("Canceled: %s", reason)
	return d.Transition(StatusCanceled)
}

// =============================================================================
// State Machine
// =============================================================================

// validTransitions defines the allowed state transitions.
var validTransitions = map[DeploymentStatus][]DeploymentStatus{
	StatusBuilding: {StatusReady, StatusError, StatusCanceled},
	StatusReady:    {},
	StatusError:    {},
	StatusCanceled: {},
}

// ValidateTransition checks if a status transition is valid.
func ValidateTransition(from, to DeploymentStatus) error {
	allowed, exists := validTransitions[from]
	if !exists {
		return ErrInvalidTransition
	}

	for _, s := range allowed {
		if s == to {
			return nil
		}
	}

	return ErrInvalidTransition
}
