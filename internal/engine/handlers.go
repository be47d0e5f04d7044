package engine

import (
	"context"

	"github.com/artpar/deployer/internal/core/deployment"
	"github.com/artpar/deployer/internal/core/domain"
)

// =============================================================================
// Lifecycle
// =============================================================================

// HandleChangeStatus stops or starts a deployed project. A single-container
// project is addressed by its container, a split project through compose.
func (c *Controller) HandleChangeStatus(ctx context.Context, job Job) (domain.Result, error) {
	var payload domain.LifecycleJob
	if err := job.Decode(&payload); err != nil {
		return domain.Failed(err), err
	}
	if err := payload.Validate(); err != nil {
		return domain.Failed(err), err
	}

	project := *payload.Project
	projectID := project.ID.Int()
	topology, _ := project.Topology()
	action := domain.ParseAction(payload.Action)
	logger := c.logger.With("job_id", job.ID, "project_id", projectID, "action", action)

	unlock := c.locks.Lock(projectID)
	defer unlock()

	record := c.loadRecord(ctx, project, job.ID)

	var err error
	switch {
	case topology == domain.TopologySingle && action == domain.ActionStop:
		err = c.containers.StopContainer(ctx, deployment.ContainerName(projectID))
	case topology == domain.TopologySingle:
		err = c.containers.StartContainer(ctx, deployment.ContainerName(projectID))
	case action == domain.ActionStop:
		err = c.containers.ComposeDown(ctx, projectID)
	default:
		err = c.containers.ComposeStart(ctx, projectID)
	}
	if err != nil {
		c.fail(ctx, record, err)
		return domain.Failed(err), err
	}

	if action == domain.ActionStop {
		c.transition(record, domain.StatusStopped)
		logger.Info("project stopped")
	} else {
		c.transition(record, domain.StatusRunning)
		logger.Info("project started")
	}
	c.saveRecord(ctx, record)
	return domain.OK("project " + string(action) + " job received and processed"), nil
}

// =============================================================================
// Delete
// =============================================================================

// HandleDelete removes the containers, the proxy fragments, the working
// directory and the tenant database of a project. Every step treats an
// already missing target as done, so deleting twice succeeds.
func (c *Controller) HandleDelete(ctx context.Context, job Job) (domain.Result, error) {
	var payload domain.DeleteJob
	if err := job.Decode(&payload); err != nil {
		return domain.Failed(err), err
	}
	if err := payload.Validate(); err != nil {
		return domain.Failed(err), err
	}

	project := *payload.Project
	projectID := project.ID.Int()
	topology, _ := project.Topology()
	logger := c.logger.With("job_id", job.ID, "project_id", projectID)

	unlock := c.locks.Lock(projectID)
	defer unlock()

	record := c.loadRecord(ctx, project, job.ID)

	if err := c.delete(ctx, project, topology); err != nil {
		c.fail(ctx, record, err)
		return domain.Failed(err), err
	}

	c.transition(record, domain.StatusDeleted)
	record.Units = nil
	record.URLs = nil
	c.saveRecord(ctx, record)
	logger.Info("project deleted")
	return domain.OK("delete job received and processed"), nil
}

func (c *Controller) delete(ctx context.Context, project domain.Project, topology domain.Topology) error {
	projectID := project.ID.Int()

	if err := c.containers.RemoveProject(ctx, projectID, topology); err != nil {
		return err
	}
	if err := c.router.Remove(ctx, projectID); err != nil {
		return err
	}
	if err := c.files.RemoveAll(deployment.ProjectDir(c.config.WorkspaceRoot, projectID)); err != nil {
		return err
	}
	if db := project.Database; db != nil && db.Name != "" {
		kind := c.databases.KindOf(*db)
		unlock := c.tenants.Lock(tenantKey(kind, db.Name))
		defer unlock()
		if err := c.databases.DropTenant(ctx, kind, db.Name, db.User); err != nil {
			return err
		}
	}
	return nil
}

// =============================================================================
// Database
// =============================================================================

// HandleCreateDatabase creates a tenant and returns its connection URI once
// the administrative command has completed. Database jobs carry no project
// id, so they hold the tenant's lock instead of a project lock.
func (c *Controller) HandleCreateDatabase(ctx context.Context, job Job) (domain.Result, error) {
	var payload domain.DatabaseJob
	if err := job.Decode(&payload); err != nil {
		return domain.Failed(err), err
	}
	if err := payload.Validate(); err != nil {
		return domain.Failed(err), err
	}

	kind := c.databases.ResolveKind(payload.KindCode, payload.ContainerName)
	unlock := c.tenants.Lock(tenantKey(kind, payload.Name))
	defer unlock()

	uri, err := c.databases.ProvisionTenant(ctx, kind, payload.Name, payload.User, payload.Password)
	if err != nil {
		return domain.Failed(err), err
	}

	c.logger.Info("tenant provisioned", "job_id", job.ID, "engine", kind, "database", payload.Name)
	result := domain.OK("database job received and processed")
	result.ConnectionURI = uri
	return result, nil
}

// tenantKey names one tenant database across both engines.
func tenantKey(kind domain.EngineKind, name string) string {
	return string(kind) + "/" + name
}

// =============================================================================
// System
// =============================================================================

// HandleDeploySystem acknowledges a system deploy request.
func (c *Controller) HandleDeploySystem(_ context.Context, job Job) (domain.Result, error) {
	c.logger.Info("system deploy acknowledged", "job_id", job.ID)
	return domain.OK("system deploy job received and processed"), nil
}

// HandleAvailablePorts lists free host ports. The answer is a snapshot; a
// port may be taken before the caller binds it.
func (c *Controller) HandleAvailablePorts(ctx context.Context, job Job) (domain.Result, error) {
	var payload domain.SystemJob
	if len(job.Data) > 0 && string(job.Data) != "null" {
		if err := job.Decode(&payload); err != nil {
			return domain.Failed(err), err
		}
	}
	limit := payload.Limit
	if limit <= 0 {
		limit = c.config.PortsLimit
	}

	ports, err := c.ports.Available(ctx, limit)
	if err != nil {
		return domain.Failed(err), err
	}

	result := domain.OK("available ports")
	result.Ports = ports
	return result, nil
}
