// Package workers contains the background workers of the deployer.
package workers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/artpar/deployer/internal/core/domain"
	"github.com/artpar/deployer/internal/shell/docker"
	"github.com/artpar/deployer/internal/shell/store"
)

// ContainerInspector reports the state of a named container.
type ContainerInspector interface {
	Status(ctx context.Context, name string) (docker.ContainerStatus, bool, error)
}

// ProjectLocker hands out the per-project lock without waiting for it.
type ProjectLocker interface {
	TryLock(projectID int) (unlock func(), ok bool)
}

// HealthCheckerConfig configures the health checker worker.
type HealthCheckerConfig struct {
	// Interval is the time between health check cycles.
	// Default: 60 seconds.
	Interval time.Duration

	// ProjectTimeout bounds the inspection of one project's containers.
	// Default: 10 seconds.
	ProjectTimeout time.Duration

	// MaxConcurrent is the maximum number of projects checked concurrently.
	// Default: 5.
	MaxConcurrent int
}

// DefaultHealthCheckerConfig returns the default configuration.
func DefaultHealthCheckerConfig() HealthCheckerConfig {
	return HealthCheckerConfig{
		Interval:       60 * time.Second,
		ProjectTimeout: 10 * time.Second,
		MaxConcurrent:  5,
	}
}

// HealthChecker periodically compares the registry with the container
// runtime. A project whose containers all run is marked running, one with a
// missing container failed, anything else stopped. Projects with a job in
// flight are skipped.
type HealthChecker struct {
	store     store.Store
	inspector ContainerInspector
	locks     ProjectLocker
	config    HealthCheckerConfig
	logger    *slog.Logger

	// Lifecycle management
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewHealthChecker creates a new health checker worker.
func NewHealthChecker(
	s store.Store,
	inspector ContainerInspector,
	locks ProjectLocker,
	config HealthCheckerConfig,
	logger *slog.Logger,
) *HealthChecker {
	if config.Interval == 0 {
		config.Interval = 60 * time.Second
	}
	if config.ProjectTimeout == 0 {
		config.ProjectTimeout = 10 * time.Second
	}
	if config.MaxConcurrent == 0 {
		config.MaxConcurrent = 5
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &HealthChecker{
		store:     s,
		inspector: inspector,
		locks:     locks,
		config:    config,
		logger:    logger.With("component", "health_checker"),
	}
}

// Start begins the health checker background goroutine.
func (h *HealthChecker) Start() {
	h.ctx, h.cancel = context.WithCancel(context.Background())

	h.wg.Add(1)
	go h.run()

	h.logger.Info("health checker started",
		"interval", h.config.Interval,
		"max_concurrent", h.config.MaxConcurrent,
	)
}

// Stop gracefully stops the health checker.
// It waits for any in-progress checks to complete.
func (h *HealthChecker) Stop() {
	if h.cancel != nil {
		h.cancel()
	}
	h.wg.Wait()
	h.logger.Info("health checker stopped")
}

func (h *HealthChecker) run() {
	defer h.wg.Done()

	h.runCycle(h.ctx)

	ticker := time.NewTicker(h.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-h.ctx.Done():
			return
		case <-ticker.C:
			h.runCycle(h.ctx)
		}
	}
}

// runCycle checks every deployment that is supposed to exist.
func (h *HealthChecker) runCycle(parent context.Context) {
	ctx, cancel := context.WithTimeout(parent, h.config.Interval)
	defer cancel()

	var targets []domain.Deployment
	for _, status := range monitoredStatuses {
		deployments, err := h.store.ListDeploymentsByStatus(ctx, status, store.ListOptions{Limit: 1000})
		if err != nil {
			h.logger.Error("failed to list deployments", "status", status, "error", err)
			return
		}
		targets = append(targets, deployments...)
	}

	if len(targets) == 0 {
		h.logger.Debug("no deployments to check")
		return
	}

	h.logger.Debug("starting health check cycle", "deployment_count", len(targets))

	sem := make(chan struct{}, h.config.MaxConcurrent)
	var wg sync.WaitGroup

	for i := range targets {
		d := &targets[i]

		wg.Add(1)
		go func(d *domain.Deployment) {
			defer wg.Done()

			select {
			case <-ctx.Done():
				return
			case sem <- struct{}{}:
				defer func() { <-sem }()
			}

			h.checkDeployment(ctx, d)
		}(d)
	}

	wg.Wait()
	h.logger.Debug("completed health check cycle", "deployment_count", len(targets))
}

// checkDeployment inspects the containers of one deployment and records the
// observed status when it changed. listed is only a hint: the record is read
// again under the project lock, since a job may have finished in between.
func (h *HealthChecker) checkDeployment(ctx context.Context, listed *domain.Deployment) {
	logger := h.logger.With("project_id", listed.ProjectID)

	if h.locks != nil {
		unlock, ok := h.locks.TryLock(listed.ProjectID)
		if !ok {
			logger.Debug("job in flight, skipping")
			return
		}
		defer unlock()
	}

	d, err := h.store.GetDeployment(ctx, listed.ProjectID)
	if errors.Is(err, store.ErrNotFound) {
		logger.Debug("deployment gone, skipping")
		return
	}
	if err != nil {
		logger.Warn("failed to reload deployment", "error", err)
		return
	}
	if !monitored(d.Status) || len(d.Units) == 0 {
		return
	}

	projectCtx, cancel := context.WithTimeout(ctx, h.config.ProjectTimeout)
	defer cancel()

	observed, cause, err := h.observe(projectCtx, d.Units)
	if err != nil {
		logger.Warn("failed to inspect containers", "error", err)
		return
	}
	if observed == d.Status && observed != domain.StatusFailed {
		return
	}
	if observed == domain.StatusFailed && d.Status == domain.StatusFailed && d.ErrorMessage == cause {
		return
	}

	previous := d.Status
	if observed == domain.StatusFailed {
		err = d.Transition(domain.StatusFailed)
		d.ErrorMessage = cause
	} else {
		err = d.Transition(observed)
	}
	if err != nil {
		logger.Warn("unexpected registry transition", "from", previous, "to", observed, "error", err)
		return
	}

	if err := h.store.SaveDeployment(ctx, d); err != nil {
		logger.Error("failed to update deployment", "error", err)
		return
	}
	logger.Info("deployment status changed", "from", previous, "to", observed)
}

// monitoredStatuses are the statuses of deployments whose containers should exist.
var monitoredStatuses = []domain.DeploymentStatus{domain.StatusRunning, domain.StatusStopped, domain.StatusFailed}

func monitored(status domain.DeploymentStatus) bool {
	return slices.Contains(monitoredStatuses, status)
}

func (h *HealthChecker) observe(ctx context.Context, units []string) (domain.DeploymentStatus, string, error) {
	running := 0
	for _, unit := range units {
		status, ok, err := h.inspector.Status(ctx, unit)
		if err != nil {
			return "", "", err
		}
		if !ok {
			return domain.StatusFailed, fmt.Sprintf("container %s not found", unit), nil
		}
		if status == docker.ContainerStatusRunning || status == docker.ContainerStatusRestarting {
			running++
		}
	}
	if running == len(units) {
		return domain.StatusRunning, "", nil
	}
	return domain.StatusStopped, "", nil
}

// CheckAllNow runs an immediate health check cycle.
func (h *HealthChecker) CheckAllNow(ctx context.Context) {
	h.runCycle(ctx)
}
