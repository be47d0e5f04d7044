package store

import (
	"context"

	"github.com/artpar/deployer/internal/core/domain"
)

// =============================================================================
// Store Interface
// =============================================================================

// Store defines the persistence interface of the deployment registry.
type Store interface {
	// Deployment operations
	SaveDeployment(ctx context.Context, deployment *domain.Deployment) error
	GetDeployment(ctx context.Context, projectID int) (*domain.Deployment, error)
	DeleteDeployment(ctx context.Context, projectID int) error
	ListDeployments(ctx context.Context, opts ListOptions) ([]domain.Deployment, error)
	ListDeploymentsByStatus(ctx context.Context, status domain.DeploymentStatus, opts ListOptions) ([]domain.Deployment, error)

	// Job history operations
	RecordJob(ctx context.Context, record *domain.JobRecord) error
	ListJobs(ctx context.Context, projectID int, opts ListOptions) ([]domain.JobRecord, error)

	// Transaction support
	WithTx(ctx context.Context, fn func(Store) error) error

	Close() error
}

// =============================================================================
// List Options
// =============================================================================

// ListOptions configures pagination of list queries.
type ListOptions struct {
	Limit  int
	Offset int
}

// DefaultListOptions returns the default list options.
func DefaultListOptions() ListOptions {
	return ListOptions{
		Limit:  100,
		Offset: 0,
	}
}

// Normalize ensures list options have valid values.
func (o ListOptions) Normalize() ListOptions {
	if o.Limit <= 0 {
		o.Limit = 100
	}
	if o.Limit > 1000 {
		o.Limit = 1000
	}
	if o.Offset < 0 {
		o.Offset = 0
	}
	return o
}
