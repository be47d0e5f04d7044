package engine

import (
	"context"
	"log/slog"

	"github.com/artpar/deployer/internal/core/compose"
	"github.com/artpar/deployer/internal/core/deployment"
	"github.com/artpar/deployer/internal/core/domain"
	"github.com/artpar/deployer/internal/core/proxy"
	"github.com/artpar/deployer/internal/shell/docker"
)

// =============================================================================
// Collaborators
// =============================================================================

// Containers drives the container runtime.
type Containers interface {
	BuildAndRun(ctx context.Context, spec docker.RunSpec) (string, error)
	ComposeUp(ctx context.Context, params compose.Params) (string, error)
	ComposeDown(ctx context.Context, projectID int) error
	ComposeStart(ctx context.Context, projectID int) error
	StopContainer(ctx context.Context, name string) error
	StartContainer(ctx context.Context, name string) error
	RemoveProject(ctx context.Context, projectID int, topology domain.Topology) error
	Logs(ctx context.Context, name string) (string, error)
	TailLogs(ctx context.Context, name string) (string, error)
}

// Databases manages the shared engines and their tenants.
type Databases interface {
	ProjectEnv(db domain.Database) *deployment.DatabaseEnv
	KindOf(db domain.Database) domain.EngineKind
	ResolveKind(code, containerName string) domain.EngineKind
	ProvisionTenant(ctx context.Context, kind domain.EngineKind, dbName, user, password string) (string, error)
	DropTenant(ctx context.Context, kind domain.EngineKind, dbName, user string) error
}

// Router converges the reverse proxy onto a project's routes.
type Router interface {
	Routes(projectID, port int, topology domain.Topology, role domain.Role) []proxy.Route
	Apply(ctx context.Context, projectID int, routes []proxy.Route) (string, error)
	Remove(ctx context.Context, projectID int) error
}

// Checkout fetches repository sources.
type Checkout interface {
	Clone(ctx context.Context, repoURL, dest string) error
}

// Files owns the per-project working directories.
type Files interface {
	Materialize(dir string, files []domain.File) (int, error)
	RemoveAll(dir string) error
}

// Ports lists free host ports.
type Ports interface {
	Available(ctx context.Context, limit int) ([]int, error)
}

// Registry records what is deployed.
type Registry interface {
	SaveDeployment(ctx context.Context, deployment *domain.Deployment) error
	GetDeployment(ctx context.Context, projectID int) (*domain.Deployment, error)
}

// =============================================================================
// Controller
// =============================================================================

// Config is the explicit configuration of the controller.
type Config struct {
	WorkspaceRoot string
	Host          string // HOST injected into every repository
	Routing       deployment.Routing
	CollectLogs   bool
	PortsLimit    int // default size of an available-ports answer, 0 means all

	// PortRange bounds the ports a deploy may bind. The zero value allows the
	// whole port space.
	PortRange proxy.PortRange
}

// Controller runs the job kinds of the worker.
type Controller struct {
	containers Containers
	databases  Databases
	router     Router
	checkout   Checkout
	files      Files
	ports      Ports
	registry   Registry
	locks      *ProjectLocks
	tenants    *TenantLocks
	observer   StateObserver
	config     Config
	logger     *slog.Logger
}

// Deps bundles the collaborators of a Controller.
type Deps struct {
	Containers Containers
	Databases  Databases
	Router     Router
	Checkout   Checkout
	Files      Files
	Ports      Ports
	Registry   Registry
	Locks      *ProjectLocks
	Observer   StateObserver
}

// NewController creates a new Controller.
func NewController(deps Deps, config Config, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	if deps.Locks == nil {
		deps.Locks = NewProjectLocks()
	}
	return &Controller{
		containers: deps.Containers,
		databases:  deps.Databases,
		router:     deps.Router,
		checkout:   deps.Checkout,
		files:      deps.Files,
		ports:      deps.Ports,
		registry:   deps.Registry,
		locks:      deps.Locks,
		tenants:    NewTenantLocks(),
		observer:   deps.Observer,
		config:     config,
		logger:     logger.With("component", "controller"),
	}
}

// Register binds every job kind to its queue on the bus.
func (c *Controller) Register(bus *Bus) {
	bus.Register(domain.QueueDeploy, domain.JobDeploy, c.HandleDeploy)
	bus.Register(domain.QueueDatabase, domain.JobCreateDatabase, c.HandleCreateDatabase)
	bus.Register(domain.QueueProject, domain.JobChangeStatus, c.HandleChangeStatus)
	bus.Register(domain.QueueDelete, domain.JobDelete, c.HandleDelete)
	bus.Register(domain.QueueSystem, domain.JobDeploySystem, c.HandleDeploySystem)
	bus.Register(domain.QueueSystem, domain.JobAvailablePorts, c.HandleAvailablePorts)
}

// =============================================================================
// Registry helpers
// =============================================================================

// saveRecord writes the registry entry. Registry failures never fail a job;
// the containers are the source of truth.
func (c *Controller) saveRecord(ctx context.Context, d *domain.Deployment) {
	if c.registry == nil || d == nil {
		return
	}
	if err := c.registry.SaveDeployment(ctx, d); err != nil {
		c.logger.Error("failed to save deployment record", "project_id", d.ProjectID, "error", err)
	}
}

// loadRecord returns the registry entry of a project, or a fresh one built
// from the job's project when none exists.
func (c *Controller) loadRecord(ctx context.Context, project domain.Project, jobID string) *domain.Deployment {
	if c.registry != nil {
		if d, err := c.registry.GetDeployment(ctx, project.ID.Int()); err == nil {
			d.LastJobID = jobID
			return d
		}
	}
	d := domain.NewDeployment(project, jobID)
	d.Status = domain.StatusRunning
	return d
}

// transition moves a record and logs a refused move instead of failing.
func (c *Controller) transition(d *domain.Deployment, to domain.DeploymentStatus) {
	if err := d.Transition(to); err != nil {
		c.logger.Warn("registry transition refused", "project_id", d.ProjectID, "error", err)
	}
}

func (c *Controller) fail(ctx context.Context, d *domain.Deployment, err error) {
	if d == nil {
		return
	}
	if failErr := d.Fail(err); failErr != nil {
		c.logger.Warn("registry transition refused", "project_id", d.ProjectID, "error", failErr)
		return
	}
	c.saveRecord(ctx, d)
}
