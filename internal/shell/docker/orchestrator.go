package docker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/artpar/deployer/internal/core/compose"
	coredeployment "github.com/artpar/deployer/internal/core/deployment"
	"github.com/artpar/deployer/internal/core/domain"
	"github.com/artpar/deployer/internal/shell/system"
)

// =============================================================================
// Orchestrator - Manages Deployment Units
// =============================================================================

// OrchestratorConfig is the runtime configuration of an Orchestrator.
type OrchestratorConfig struct {
	Network       string        // shared network joined by every unit
	WorkspaceRoot string        // where project directories live
	LogDelay      time.Duration // wait before collecting logs of a fresh unit
	LogTail       int
	StopTimeout   time.Duration
}

func (c OrchestratorConfig) withDefaults() OrchestratorConfig {
	if c.LogDelay < 0 {
		c.LogDelay = 0
	}
	if c.LogTail <= 0 {
		c.LogTail = 100
	}
	if c.StopTimeout <= 0 {
		c.StopTimeout = 10 * time.Second
	}
	return c
}

// Orchestrator builds, runs and manages the containers of projects. Single
// units go through the SDK client; compositions through the docker compose
// CLI.
type Orchestrator struct {
	docker Client
	runner system.Runner
	config OrchestratorConfig
	logger *slog.Logger
	sleep  func(ctx context.Context, d time.Duration) error
}

// NewOrchestrator creates a new orchestrator.
func NewOrchestrator(docker Client, runner system.Runner, config OrchestratorConfig, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		docker: docker,
		runner: runner,
		config: config.withDefaults(),
		logger: logger.With("component", "orchestrator"),
		sleep:  sleepContext,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// =============================================================================
// Single Container
// =============================================================================

// RunSpec describes a single-container unit.
type RunSpec struct {
	ProjectID int
	Name      string // container name
	Image     string // image tag
	Dir       string // build context holding the Dockerfile
	Port      int    // published as port:port
	Env       []string
}

// BuildAndRun removes any stale container with the same name, builds the
// image from spec.Dir and runs it on the shared network. Returns the
// container ID.
func (o *Orchestrator) BuildAndRun(ctx context.Context, spec RunSpec) (string, error) {
	command := fmt.Sprintf("docker run -d --name %s --network %s -p %d:%d %s", spec.Name, o.config.Network, spec.Port, spec.Port, spec.Image)
	o.logger.Info("building and running container",
		"project_id", spec.ProjectID,
		"container", spec.Name,
		"image", spec.Image,
		"port", spec.Port,
	)

	if err := o.Remove(ctx, spec.Name); err != nil {
		return "", err
	}

	if err := o.docker.BuildImage(ctx, BuildOptions{
		ContextDir: spec.Dir,
		Tag:        spec.Image,
		Labels:     o.labels(spec.ProjectID, domain.RoleAll),
	}); err != nil {
		return "", commandError(domain.OpRun, "docker build -t "+spec.Image+" "+spec.Dir, err)
	}

	containerID, err := o.create(ctx, ContainerSpec{
		Name:          spec.Name,
		Image:         spec.Image,
		Env:           spec.Env,
		Labels:        o.labels(spec.ProjectID, domain.RoleAll),
		Ports:         []PortBinding{{ContainerPort: spec.Port, HostPort: spec.Port}},
		Network:       o.config.Network,
		RestartPolicy: "unless-stopped",
	})
	if err != nil {
		return "", commandError(domain.OpRun, command, err)
	}

	if err := o.docker.StartContainer(ctx, containerID); err != nil {
		// The name must be free for the retry that follows a port race.
		_ = o.docker.RemoveContainer(ctx, containerID, RemoveOptions{Force: true})
		return "", commandError(domain.OpRun, command, err)
	}

	o.logger.Info("container started", "project_id", spec.ProjectID, "container", spec.Name, "container_id", shortID(containerID))
	return containerID, nil
}

// create creates a unit container, repairing the two conditions another
// process can cause between removal and creation: the shared network was
// removed, or a container took the name again. Each is repaired once.
func (o *Orchestrator) create(ctx context.Context, spec ContainerSpec) (string, error) {
	id, err := o.docker.CreateContainer(ctx, spec)
	switch {
	case err == nil:
		return id, nil
	case errors.Is(err, ErrNetworkNotFound):
		o.logger.Warn("shared network missing, recreating", "network", spec.Network)
		if netErr := o.docker.EnsureNetwork(ctx, spec.Network); netErr != nil {
			return "", netErr
		}
	case errors.Is(err, ErrContainerAlreadyExists):
		o.logger.Warn("container name taken again, removing", "container", spec.Name)
		if rmErr := o.docker.RemoveContainer(ctx, spec.Name, RemoveOptions{Force: true}); rmErr != nil && !IsNotFound(rmErr) {
			return "", rmErr
		}
	default:
		return "", err
	}
	return o.docker.CreateContainer(ctx, spec)
}

// StopContainer stops a single container. Stopping a stopped container
// succeeds.
func (o *Orchestrator) StopContainer(ctx context.Context, name string) error {
	timeout := o.config.StopTimeout
	err := o.docker.StopContainer(ctx, name, &timeout)
	if err != nil && !errors.Is(err, ErrContainerNotRunning) {
		return commandError(domain.OpStop, "docker stop "+name, err)
	}
	o.logger.Info("container stopped", "container", name)
	return nil
}

// StartContainer starts a single stopped container. Starting a running
// container succeeds.
func (o *Orchestrator) StartContainer(ctx context.Context, name string) error {
	err := o.docker.StartContainer(ctx, name)
	if err != nil && !errors.Is(err, ErrContainerAlreadyRunning) {
		return commandError(domain.OpStart, "docker start "+name, err)
	}
	o.logger.Info("container started", "container", name)
	return nil
}

// Remove force-removes a container. A missing container is not an error.
func (o *Orchestrator) Remove(ctx context.Context, name string) error {
	err := o.docker.RemoveContainer(ctx, name, RemoveOptions{Force: true})
	if err == nil {
		o.logger.Debug("removed container", "container", name)
		return nil
	}
	if IsNotFound(err) {
		return nil
	}
	return commandError(domain.OpRemoveContainer, "docker rm -f "+name, err)
}

// Status returns the state of a container; ok is false when it does not
// exist.
func (o *Orchestrator) Status(ctx context.Context, name string) (ContainerStatus, bool, error) {
	info, err := o.docker.InspectContainer(ctx, name)
	if err != nil {
		if IsNotFound(err) {
			return "", false, nil
		}
		return "", false, err
	}
	return info.Status, true, nil
}

// Logs waits the configured delay so a fresh entrypoint can emit its first
// lines, then returns the tail of the container's output.
func (o *Orchestrator) Logs(ctx context.Context, name string) (string, error) {
	if err := o.sleep(ctx, o.config.LogDelay); err != nil {
		return "", domain.NewExternalCommandError(domain.OpLogs, "docker logs "+name, "", err)
	}
	return o.TailLogs(ctx, name)
}

// TailLogs returns the tail of a container's output without waiting.
func (o *Orchestrator) TailLogs(ctx context.Context, name string) (string, error) {
	tail := strconv.Itoa(o.config.LogTail)
	logs, err := o.docker.ContainerLogs(ctx, name, LogOptions{Tail: tail})
	if err != nil {
		return "", commandError(domain.OpLogs, "docker logs --tail "+tail+" "+name, err)
	}
	return logs, nil
}

// =============================================================================
// Composition
// =============================================================================

// ComposeUp renders and validates the two-service composition of a split
// project, writes it to the project directory, builds without cache and
// brings it up detached. Returns the composition path.
func (o *Orchestrator) ComposeUp(ctx context.Context, params compose.Params) (string, error) {
	params.SharedNetwork = o.config.Network
	logger := o.logger.With("project_id", params.ProjectID)

	for _, name := range []string{coredeployment.FrontendName(params.ProjectID), coredeployment.BackendName(params.ProjectID)} {
		if err := o.Remove(ctx, name); err != nil {
			return "", err
		}
	}

	content, err := compose.RenderValidated(params)
	if err != nil {
		return "", domain.NewExternalCommandError(domain.OpCompose, "render docker-compose.yml", "", err)
	}

	path := coredeployment.ComposePath(o.config.WorkspaceRoot, params.ProjectID)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", domain.NewExternalCommandError(domain.OpCompose, "mkdir "+filepath.Dir(path), "", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", domain.NewExternalCommandError(domain.OpCompose, "write "+path, "", err)
	}
	logger.Debug("wrote composition", "path", path)

	if err := o.compose(ctx, domain.OpCompose, params.ProjectID, "build", "--no-cache"); err != nil {
		return "", err
	}
	if err := o.compose(ctx, domain.OpCompose, params.ProjectID, "up", "-d"); err != nil {
		return "", err
	}

	logger.Info("composition up", "path", path)
	return path, nil
}

// ComposeDown stops a split project by taking its composition down.
func (o *Orchestrator) ComposeDown(ctx context.Context, projectID int) error {
	if err := o.compose(ctx, domain.OpComposeDown, projectID, "down"); err != nil {
		return err
	}
	o.logger.Info("composition down", "project_id", projectID)
	return nil
}

// ComposeStart brings a stopped split project back up from its built images.
func (o *Orchestrator) ComposeStart(ctx context.Context, projectID int) error {
	if err := o.compose(ctx, domain.OpComposeStart, projectID, "up", "-d"); err != nil {
		return err
	}
	o.logger.Info("composition started", "project_id", projectID)
	return nil
}

// RemoveProject removes every unit of a project. For split projects with a
// composition on disk the stack is taken down first so its default network
// goes away too; that step is best effort. Removing twice succeeds.
func (o *Orchestrator) RemoveProject(ctx context.Context, projectID int, topology domain.Topology) error {
	if topology == domain.TopologySplit {
		if _, err := os.Stat(coredeployment.ComposePath(o.config.WorkspaceRoot, projectID)); err == nil {
			if err := o.compose(ctx, domain.OpComposeDown, projectID, "down", "--remove-orphans"); err != nil {
				o.logger.Warn("compose down failed, removing containers directly", "project_id", projectID, "error", err)
			}
		}
	}

	for _, name := range coredeployment.UnitNames(projectID, topology) {
		if err := o.Remove(ctx, name); err != nil {
			return err
		}
	}
	return nil
}

func (o *Orchestrator) compose(ctx context.Context, op domain.Op, projectID int, args ...string) error {
	path := coredeployment.ComposePath(o.config.WorkspaceRoot, projectID)
	cmd := system.Cmd{
		Name: "docker",
		Args: append([]string{"compose", "-p", coredeployment.ComposeProject(projectID), "-f", path}, args...),
		Dir:  filepath.Dir(path),
	}
	if out, err := o.runner.Run(ctx, cmd); err != nil {
		return domain.NewExternalCommandError(op, cmd.String(), out, err)
	}
	return nil
}

// =============================================================================
// Helpers
// =============================================================================

func (o *Orchestrator) labels(projectID int, role domain.Role) map[string]string {
	return map[string]string{
		LabelManaged: "true",
		LabelProject: strconv.Itoa(projectID),
		LabelRole:    string(role),
	}
}

// commandError wraps a client failure, keeping the daemon's diagnostic text
// as output and the classified cause as the error.
func commandError(op domain.Op, command string, err error) error {
	var dockerErr *DockerError
	if errors.As(err, &dockerErr) && dockerErr.Err != nil {
		return domain.NewExternalCommandError(op, command, dockerErr.Message, dockerErr.Err)
	}
	return domain.NewExternalCommandError(op, command, "", err)
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
