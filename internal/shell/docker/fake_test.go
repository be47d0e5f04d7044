package docker

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/artpar/deployer/internal/shell/system"
)

// fakeClient records calls and keeps containers in memory, keyed by name.
type fakeClient struct {
	mu         sync.Mutex
	containers map[string]*ContainerInfo
	builds     []BuildOptions
	created    []ContainerSpec
	execs      []ExecSpec
	removed    []string
	networks   map[string]bool
	logs       string

	buildErr  error
	createErr error
	startErr  error
	stopErr   error
	removeErr error
	execErr   error
	execCode  int

	// strictNetworks makes CreateContainer fail for networks never ensured.
	strictNetworks bool
	// conflictOnce makes the next CreateContainer report a name conflict.
	conflictOnce bool
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		containers: map[string]*ContainerInfo{},
		networks:   map[string]bool{},
	}
}

func (f *fakeClient) BuildImage(_ context.Context, opts BuildOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.builds = append(f.builds, opts)
	return f.buildErr
}

func (f *fakeClient) CreateContainer(_ context.Context, spec ContainerSpec) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return "", f.createErr
	}
	if f.strictNetworks && spec.Network != "" && !f.networks[spec.Network] {
		return "", NewDockerError("CreateContainer", "network", spec.Network, "network not found", ErrNetworkNotFound)
	}
	if f.conflictOnce {
		f.conflictOnce = false
		f.containers[spec.Name] = &ContainerInfo{ID: spec.Name, Name: spec.Name, Status: ContainerStatusCreated}
	}
	if _, exists := f.containers[spec.Name]; exists {
		return "", NewDockerError("CreateContainer", "container", spec.Name, "Conflict", ErrContainerAlreadyExists)
	}
	f.created = append(f.created, spec)
	f.containers[spec.Name] = &ContainerInfo{ID: spec.Name, Name: spec.Name, Image: spec.Image, Status: ContainerStatusCreated, Labels: spec.Labels}
	return spec.Name, nil
}

func (f *fakeClient) StartContainer(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return f.startErr
	}
	c, ok := f.containers[id]
	if !ok {
		return NewDockerError("StartContainer", "container", id, "container not found", ErrContainerNotFound)
	}
	c.Status = ContainerStatusRunning
	return nil
}

func (f *fakeClient) StopContainer(_ context.Context, id string, _ *time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stopErr != nil {
		return f.stopErr
	}
	c, ok := f.containers[id]
	if !ok {
		return NewDockerError("StopContainer", "container", id, "container not found", ErrContainerNotFound)
	}
	c.Status = ContainerStatusExited
	return nil
}

func (f *fakeClient) RemoveContainer(_ context.Context, id string, _ RemoveOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.removeErr != nil {
		return f.removeErr
	}
	if _, ok := f.containers[id]; !ok {
		return NewDockerError("RemoveContainer", "container", id, "container not found", ErrContainerNotFound)
	}
	delete(f.containers, id)
	f.removed = append(f.removed, id)
	return nil
}

func (f *fakeClient) InspectContainer(_ context.Context, id string) (*ContainerInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.containers[id]
	if !ok {
		return nil, NewDockerError("InspectContainer", "container", id, "container not found", ErrContainerNotFound)
	}
	info := *c
	return &info, nil
}

func (f *fakeClient) ContainerLogs(_ context.Context, id string, _ LogOptions) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.containers[id]; !ok {
		return "", NewDockerError("ContainerLogs", "container", id, "container not found", ErrContainerNotFound)
	}
	return f.logs, nil
}

func (f *fakeClient) Exec(_ context.Context, id string, spec ExecSpec) (ExecResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.execs = append(f.execs, spec)
	if f.execErr != nil {
		return ExecResult{}, f.execErr
	}
	if f.execCode != 0 {
		return ExecResult{ExitCode: f.execCode, Output: "ERROR 1045"}, NewDockerError("Exec", "container", id, "exit code 1", ErrExecFailed)
	}
	return ExecResult{Output: "ok"}, nil
}

func (f *fakeClient) EnsureNetwork(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.networks[name] = true
	return nil
}

func (f *fakeClient) Ping(context.Context) error { return nil }
func (f *fakeClient) Close() error               { return nil }

func (f *fakeClient) add(name string, status ContainerStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.containers[name] = &ContainerInfo{ID: name, Name: name, Status: status}
}

type fakeRunner struct {
	calls  []system.Cmd
	output string
	err    error
	failOn string // fail only when the command contains this argument
}

func (r *fakeRunner) Run(_ context.Context, cmd system.Cmd) (string, error) {
	r.calls = append(r.calls, cmd)
	if r.err == nil {
		return r.output, nil
	}
	if r.failOn == "" {
		return r.output, r.err
	}
	for _, a := range cmd.Args {
		if a == r.failOn {
			return r.output, r.err
		}
	}
	return "", nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var _ Client = (*fakeClient)(nil)
var _ Client = (*DockerClient)(nil)
