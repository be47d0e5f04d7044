package engine

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/artpar/deployer/internal/core/compose"
	"github.com/artpar/deployer/internal/core/deployment"
	"github.com/artpar/deployer/internal/core/domain"
	"github.com/artpar/deployer/internal/core/proxy"
	"github.com/artpar/deployer/internal/shell/docker"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// =============================================================================
// Fake Containers
// =============================================================================

type fakeContainers struct {
	mu       sync.Mutex
	calls    []string
	runs     []docker.RunSpec
	composes []compose.Params
	failOn   map[string]error
	logs     map[string]string
}

func newFakeContainers() *fakeContainers {
	return &fakeContainers{failOn: map[string]error{}, logs: map[string]string{}}
}

func (f *fakeContainers) record(call string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
	return f.failOn[call]
}

func (f *fakeContainers) BuildAndRun(_ context.Context, spec docker.RunSpec) (string, error) {
	f.mu.Lock()
	f.runs = append(f.runs, spec)
	f.mu.Unlock()
	return spec.Name, f.record("run " + spec.Name)
}

func (f *fakeContainers) ComposeUp(_ context.Context, params compose.Params) (string, error) {
	f.mu.Lock()
	f.composes = append(f.composes, params)
	f.mu.Unlock()
	return "", f.record(fmt.Sprintf("compose up %d", params.ProjectID))
}

func (f *fakeContainers) ComposeDown(_ context.Context, projectID int) error {
	return f.record(fmt.Sprintf("compose down %d", projectID))
}

func (f *fakeContainers) ComposeStart(_ context.Context, projectID int) error {
	return f.record(fmt.Sprintf("compose start %d", projectID))
}

func (f *fakeContainers) StopContainer(_ context.Context, name string) error {
	return f.record("stop " + name)
}

func (f *fakeContainers) StartContainer(_ context.Context, name string) error {
	return f.record("start " + name)
}

func (f *fakeContainers) RemoveProject(_ context.Context, projectID int, topology domain.Topology) error {
	return f.record(fmt.Sprintf("remove %d %s", projectID, topology))
}

func (f *fakeContainers) Logs(_ context.Context, name string) (string, error) {
	return f.logs[name], f.record("logs " + name)
}

func (f *fakeContainers) TailLogs(_ context.Context, name string) (string, error) {
	return f.logs[name], f.record("tail " + name)
}

func (f *fakeContainers) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// =============================================================================
// Fake Databases
// =============================================================================

type fakeDatabases struct {
	provisioned []string
	dropped     []string
	err         error
}

func (f *fakeDatabases) ProjectEnv(db domain.Database) *deployment.DatabaseEnv {
	return &deployment.DatabaseEnv{Name: db.Name, Host: "mysql_container", Port: 3307, User: db.User, Password: db.Password}
}

func (f *fakeDatabases) KindOf(db domain.Database) domain.EngineKind {
	return f.ResolveKind(db.KindCode, "")
}

func (f *fakeDatabases) ResolveKind(code, containerName string) domain.EngineKind {
	if code == "N" || containerName == "mongo_container" {
		return domain.EngineDocument
	}
	return domain.EngineSQL
}

func (f *fakeDatabases) ProvisionTenant(_ context.Context, kind domain.EngineKind, dbName, user, password string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.provisioned = append(f.provisioned, fmt.Sprintf("%s %s %s", kind, dbName, user))
	return fmt.Sprintf("%s://%s:%s@db.example.test/%s", kind, user, password, dbName), nil
}

func (f *fakeDatabases) DropTenant(_ context.Context, kind domain.EngineKind, dbName, user string) error {
	f.dropped = append(f.dropped, fmt.Sprintf("%s %s %s", kind, dbName, user))
	return f.err
}

// =============================================================================
// Fake Router
// =============================================================================

type fakeRouter struct {
	applied map[int][]proxy.Route
	removed []int
	err     error
}

func newFakeRouter() *fakeRouter {
	return &fakeRouter{applied: map[int][]proxy.Route{}}
}

func (f *fakeRouter) Routes(projectID, port int, topology domain.Topology, role domain.Role) []proxy.Route {
	return proxy.ProjectRoutes(projectID, port, topology, role, "127.0.0.1")
}

func (f *fakeRouter) Apply(_ context.Context, projectID int, routes []proxy.Route) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.applied[projectID] = routes
	return proxy.RenderLocations(routes), nil
}

func (f *fakeRouter) Remove(_ context.Context, projectID int) error {
	f.removed = append(f.removed, projectID)
	delete(f.applied, projectID)
	return nil
}

// =============================================================================
// Fake Checkout, Files and Ports
// =============================================================================

type fakeCheckout struct {
	cloned []string
	err    error
}

func (f *fakeCheckout) Clone(_ context.Context, repoURL, dest string) error {
	f.cloned = append(f.cloned, repoURL+" -> "+dest)
	return f.err
}

type fakeFiles struct {
	materialized []string
	removed      []string
}

func (f *fakeFiles) Materialize(dir string, files []domain.File) (int, error) {
	f.materialized = append(f.materialized, dir)
	return len(files), nil
}

func (f *fakeFiles) RemoveAll(dir string) error {
	f.removed = append(f.removed, dir)
	return nil
}

type fakePorts struct {
	ports     []int
	lastLimit int
}

func (f *fakePorts) Available(_ context.Context, limit int) ([]int, error) {
	f.lastLimit = limit
	if limit > 0 && limit < len(f.ports) {
		return f.ports[:limit], nil
	}
	return f.ports, nil
}

// =============================================================================
// Fake Registry and Observer
// =============================================================================

type fakeRegistry struct {
	mu      sync.Mutex
	records map[int]domain.Deployment
	saves   int
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{records: map[int]domain.Deployment{}}
}

func (f *fakeRegistry) SaveDeployment(_ context.Context, d *domain.Deployment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records[d.ProjectID] = *d
	f.saves++
	return nil
}

func (f *fakeRegistry) GetDeployment(_ context.Context, projectID int) (*domain.Deployment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.records[projectID]
	if !ok {
		return nil, fmt.Errorf("deployment %d not found", projectID)
	}
	return &d, nil
}

type fakeObserver struct {
	mu     sync.Mutex
	states []string
}

func (f *fakeObserver) StateEntered(state string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.states = append(f.states, state)
}

// =============================================================================
// Fixture
// =============================================================================

type fixture struct {
	containers *fakeContainers
	databases  *fakeDatabases
	router     *fakeRouter
	checkout   *fakeCheckout
	files      *fakeFiles
	ports      *fakePorts
	registry   *fakeRegistry
	observer   *fakeObserver
	root       string
	controller *Controller
	bus        *Bus
}

func newFixture(root string) *fixture {
	f := &fixture{
		containers: newFakeContainers(),
		databases:  &fakeDatabases{},
		router:     newFakeRouter(),
		checkout:   &fakeCheckout{},
		files:      &fakeFiles{},
		ports:      &fakePorts{ports: []int{3000, 3001, 3002, 3003}},
		registry:   newFakeRegistry(),
		observer:   &fakeObserver{},
		root:       root,
	}
	f.controller = NewController(Deps{
		Containers: f.containers,
		Databases:  f.databases,
		Router:     f.router,
		Checkout:   f.checkout,
		Files:      f.files,
		Ports:      f.ports,
		Registry:   f.registry,
		Observer:   f.observer,
	}, Config{
		WorkspaceRoot: root,
		Host:          "0.0.0.0",
		Routing:       deployment.Routing{BaseURL: "https://proyectos.fireploy.online"},
		PortsLimit:    2,
	}, discardLogger())
	f.bus = NewBus(discardLogger())
	f.controller.Register(f.bus)
	return f
}

func job(queue, name, data string) Job {
	return Job{ID: "job-1", Queue: queue, Name: name, Data: []byte(data)}
}
