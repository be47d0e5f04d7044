package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/artpar/deployer/internal/core/compose"
	"github.com/artpar/deployer/internal/core/deployment"
	"github.com/artpar/deployer/internal/core/descriptor"
	"github.com/artpar/deployer/internal/core/domain"
	"github.com/artpar/deployer/internal/core/proxy"
	"github.com/artpar/deployer/internal/shell/docker"
)

const deployMessage = "deploy job received and processed"

// builtRepository is what the pipeline keeps of one processed repository.
type builtRepository struct {
	role   domain.Role
	port   int
	env    deployment.Environment
	result domain.DescriptorResult
}

// HandleDeploy validates the whole job, then processes the repositories one
// after the other, brings the unit up according to the topology and finally
// converges the proxy. Nothing is touched when validation fails.
func (c *Controller) HandleDeploy(ctx context.Context, job Job) (domain.Result, error) {
	var payload domain.DeployJob
	if err := job.Decode(&payload); err != nil {
		return domain.Failed(err), err
	}
	if err := payload.Validate(); err != nil {
		return domain.Failed(err), err
	}
	if err := c.checkPorts(payload); err != nil {
		return domain.Failed(err), err
	}

	project := *payload.Project
	projectID := project.ID.Int()
	topology, _ := project.Topology()
	logger := c.logger.With("job_id", job.ID, "project_id", projectID, "topology", topology)

	unlock := c.locks.Lock(projectID)
	defer unlock()

	t := newTracker(logger, c.observer)
	record := domain.NewDeployment(project, job.ID)
	c.saveRecord(ctx, record)

	result, err := c.deploy(ctx, t, logger, project, payload.Repositories)
	if err != nil {
		t.enter(StateFailed, "error_code", domain.ErrorCode(err))
		c.fail(ctx, record, err)
		return domain.Failed(err), err
	}

	record.Units = deployment.UnitNames(projectID, topology)
	for _, d := range result.Dockerfiles {
		record.URLs = append(record.URLs, d.URL)
	}
	c.transition(record, domain.StatusRunning)
	c.saveRecord(ctx, record)
	t.enter(StateCompleted)
	return result, nil
}

func (c *Controller) deploy(ctx context.Context, t *tracker, logger *slog.Logger, project domain.Project, repos []domain.Repository) (domain.Result, error) {
	projectID := project.ID.Int()
	topology, _ := project.Topology()

	built := make([]builtRepository, 0, len(repos))
	for _, repo := range repos {
		b, err := c.processRepository(ctx, t, logger, project, repo)
		if err != nil {
			return domain.Result{}, err
		}
		built = append(built, b)
	}

	t.enter(StateOrchestrating)
	if topology == domain.TopologySplit {
		params := compose.Params{ProjectID: projectID, Port: project.Port.Int()}
		for _, b := range built {
			if b.role == domain.RoleBackend {
				params.BackendEnv = b.env.Vars
			} else {
				params.FrontendEnv = b.env.Vars
			}
		}
		if _, err := c.containers.ComposeUp(ctx, params); err != nil {
			return domain.Result{}, err
		}
	}

	if c.config.CollectLogs {
		c.collectLogs(ctx, logger, projectID, topology, built)
	}

	t.enter(StateRouting)
	routes := c.router.Routes(projectID, project.Port.Int(), topology, built[0].role)
	rendered, err := c.router.Apply(ctx, projectID, routes)
	if err != nil {
		return domain.Result{}, err
	}

	result := domain.OK(deployMessage)
	result.Nginx = rendered
	for _, b := range built {
		result.Dockerfiles = append(result.Dockerfiles, b.result)
	}
	logger.Info("project deployed", "repositories", len(built), "routes", len(routes))
	return result, nil
}

// checkPorts rejects a job whose repositories would listen outside the
// configured port range.
func (c *Controller) checkPorts(payload domain.DeployJob) error {
	for _, repo := range payload.Repositories {
		port := deployment.RepositoryPort(payload.Project.Port.Int(), repo.Role())
		if !proxy.ValidatePort(port, c.config.PortRange) {
			return domain.NewValidationError("puerto", fmt.Sprintf("port %d is outside the range %d-%d", port, c.config.PortRange.Start, c.config.PortRange.End))
		}
	}
	return nil
}

// processRepository checks out, synthesizes and builds one repository. A
// single-topology repository is run immediately.
func (c *Controller) processRepository(ctx context.Context, t *tracker, logger *slog.Logger, project domain.Project, repo domain.Repository) (builtRepository, error) {
	projectID := project.ID.Int()
	topology, _ := project.Topology()
	role := repo.Role()
	dir := deployment.RepositoryDir(c.config.WorkspaceRoot, projectID, topology, role)
	logger = logger.With("repository_id", repo.ID.Int(), "role", role)

	t.enter(StateMaterializing, "repository_id", repo.ID.Int())
	if repo.URL != "" {
		if err := c.checkout.Clone(ctx, repo.URL, dir); err != nil {
			return builtRepository{}, err
		}
	}
	if len(repo.Files) > 0 {
		n, err := c.files.Materialize(dir, repo.Files)
		if err != nil {
			return builtRepository{}, err
		}
		logger.Debug("files materialized", "count", n)
	}

	t.enter(StateSynthesizing)
	port := deployment.RepositoryPort(project.Port.Int(), role)
	in := deployment.EnvInput{
		ProjectID: projectID,
		Port:      port,
		Host:      c.config.Host,
		Role:      role,
		Topology:  topology,
		Framework: repo.Framework,
		Routing:   c.config.Routing,
		CustomEnv: repo.CustomEnv,
	}
	if project.Database != nil && (topology == domain.TopologySingle || role == domain.RoleBackend) {
		in.Database = c.databases.ProjectEnv(*project.Database)
	}
	env := deployment.Synthesize(in)

	t.enter(StateBuilding)
	if _, err := descriptor.Generate(dir, repo.Technology, port, env, projectID); err != nil {
		var techErr *domain.UnsupportedTechnologyError
		if errors.As(err, &techErr) {
			return builtRepository{}, err
		}
		return builtRepository{}, domain.NewExternalCommandError(domain.OpDescriptor, "write "+dir+"/"+descriptor.FileName, "", err)
	}

	b := builtRepository{
		role: role,
		port: port,
		env:  env,
		result: domain.DescriptorResult{
			ProjectID: projectID,
			URL:       c.config.Routing.PublicURL(deployment.RouteAlias(role, projectID)),
			Type:      repo.RoleCode,
			Port:      port,
			Language:  repo.Technology,
		},
	}

	if topology == domain.TopologySingle {
		t.enter(StateOrchestrating)
		spec := docker.RunSpec{
			ProjectID: projectID,
			Name:      deployment.ContainerName(projectID),
			Image:     deployment.ImageName(projectID),
			Dir:       dir,
			Port:      port,
			Env:       deployment.EnvList(env.Vars),
		}
		if _, err := c.containers.BuildAndRun(ctx, spec); err != nil {
			return builtRepository{}, err
		}
	}
	return b, nil
}

// collectLogs attaches the first output of each started container to its
// result entry. Log failures are only logged.
func (c *Controller) collectLogs(ctx context.Context, logger *slog.Logger, projectID int, topology domain.Topology, built []builtRepository) {
	for i := range built {
		name := deployment.ContainerName(projectID)
		if topology == domain.TopologySplit {
			if built[i].role == domain.RoleBackend {
				name = deployment.BackendName(projectID)
			} else {
				name = deployment.FrontendName(projectID)
			}
		}

		fetch := c.containers.TailLogs
		if i == 0 {
			fetch = c.containers.Logs
		}
		out, err := fetch(ctx, name)
		if err != nil {
			logger.Warn("failed to collect logs", "container", name, "error", err)
			continue
		}
		built[i].result.Log = out
	}
}
