package domain

import (
	"errors"
	"fmt"
	"time"
)

// =============================================================================
// Deployment Errors
// =============================================================================

var (
	ErrInvalidTransition = errors.New("invalid status transition")
)

// =============================================================================
// Deployment Status
// =============================================================================

// DeploymentStatus is the last known state of a project's deployment unit.
type DeploymentStatus string

const (
	StatusDeploying DeploymentStatus = "deploying"
	StatusRunning   DeploymentStatus = "running"
	StatusStopped   DeploymentStatus = "stopped"
	StatusFailed    DeploymentStatus = "failed"
	StatusDeleted   DeploymentStatus = "deleted"
)

// =============================================================================
// Deployment Record
// =============================================================================

// Deployment is the registry entry of a project: what was deployed, where it
// is reachable and how the last job ended. It is written by job handlers and
// read by the operations surface.
type Deployment struct {
	ProjectID    int              `json:"project_id"`
	Topology     Topology         `json:"topology"`
	Port         int              `json:"port"`
	Status       DeploymentStatus `json:"status"`
	Units        []string         `json:"units"`
	URLs         []string         `json:"urls"`
	Database     string           `json:"database,omitempty"`
	LastJobID    string           `json:"last_job_id,omitempty"`
	ErrorCode    string           `json:"error_code,omitempty"`
	ErrorMessage string           `json:"error_message,omitempty"`
	CreatedAt    time.Time        `json:"created_at"`
	UpdatedAt    time.Time        `json:"updated_at"`
}

// NewDeployment starts a record for a project whose deploy job just began.
func NewDeployment(project Project, jobID string) *Deployment {
	now := time.Now().UTC()
	topology, _ := project.Topology()
	d := &Deployment{
		ProjectID: project.ID.Int(),
		Topology:  topology,
		Port:      project.Port.Int(),
		Status:    StatusDeploying,
		LastJobID: jobID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if project.Database != nil {
		d.Database = project.Database.Name
	}
	return d
}

// Transition moves the record to a new status.
func (d *Deployment) Transition(to DeploymentStatus) error {
	if err := ValidateTransition(d.Status, to); err != nil {
		return err
	}
	d.Status = to
	d.UpdatedAt = time.Now().UTC()
	if to != StatusFailed {
		d.ErrorCode = ""
		d.ErrorMessage = ""
	}
	return nil
}

// Fail moves the record to failed and keeps the cause.
func (d *Deployment) Fail(err error) error {
	if transErr := d.Transition(StatusFailed); transErr != nil {
		return transErr
	}
	d.ErrorCode = ErrorCode(err)
	d.ErrorMessage = err.Error()
	return nil
}

// validTransitions defines the allowed state transitions. A deploy may start
// from any state; lifecycle jobs only touch deployed units.
var validTransitions = map[DeploymentStatus][]DeploymentStatus{
	StatusDeploying: {StatusRunning, StatusFailed, StatusDeleted},
	StatusRunning:   {StatusDeploying, StatusStopped, StatusRunning, StatusFailed, StatusDeleted},
	StatusStopped:   {StatusDeploying, StatusRunning, StatusStopped, StatusFailed, StatusDeleted},
	StatusFailed:    {StatusDeploying, StatusRunning, StatusStopped, StatusFailed, StatusDeleted},
	StatusDeleted:   {StatusDeploying, StatusDeleted},
}

// ValidateTransition checks if a status transition is valid.
func ValidateTransition(from, to DeploymentStatus) error {
	allowed, exists := validTransitions[from]
	if !exists {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, from)
	}
	for _, s := range allowed {
		if s == to {
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}
