package docker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/docker/docker/api/types/build"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/archive"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-connections/nat"
)

// =============================================================================
// Docker Client Implementation
// =============================================================================

// DockerClient implements the Client interface using the Docker SDK.
type DockerClient struct {
	cli *client.Client
}

// NewDockerClient creates a new Docker client.
// If host is empty, it uses the default Docker host from environment.
// On macOS with Docker Desktop, it falls back to the user socket.
func NewDockerClient(host string) (*DockerClient, error) {
	var opts []client.Opt
	opts = append(opts, client.FromEnv)
	opts = append(opts, client.WithAPIVersionNegotiation())

	if host != "" {
		opts = append(opts, client.WithHost(host))
	}

	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, NewDockerError("NewDockerClient", "", "", "failed to create client", ErrConnectionFailed)
	}

	ctx := context.Background()
	if _, pingErr := cli.Ping(ctx); pingErr != nil && host == "" {
		homeDir, _ := os.UserHomeDir()
		desktopSocket := "unix://" + homeDir + "/.docker/run/docker.sock"

		cli2, err2 := client.NewClientWithOpts(
			client.WithHost(desktopSocket),
			client.WithAPIVersionNegotiation(),
		)
		if err2 == nil {
			if _, pingErr2 := cli2.Ping(ctx); pingErr2 == nil {
				cli.Close()
				return &DockerClient{cli: cli2}, nil
			}
			cli2.Close()
		}
	}

	return &DockerClient{cli: cli}, nil
}

// Ping checks if Docker daemon is reachable.
func (d *DockerClient) Ping(ctx context.Context) error {
	if _, err := d.cli.Ping(ctx); err != nil {
		return NewDockerError("Ping", "", "", fmt.Sprintf("failed to ping docker: %v", err), ErrConnectionFailed)
	}
	return nil
}

// Close closes the Docker client connection.
func (d *DockerClient) Close() error {
	return d.cli.Close()
}

// =============================================================================
// Image Operations
// =============================================================================

// BuildImage builds opts.ContextDir into an image tagged opts.Tag. The build
// output stream is drained and its first error message is returned.
func (d *DockerClient) BuildImage(ctx context.Context, opts BuildOptions) error {
	if opts.ContextDir == "" || opts.Tag == "" {
		return NewDockerError("BuildImage", "image", opts.Tag, "context dir and tag are required", ErrImageBuildFailed)
	}

	buildCtx, err := archive.TarWithOptions(opts.ContextDir, &archive.TarOptions{})
	if err != nil {
		return NewDockerError("BuildImage", "image", opts.Tag, "create build context: "+err.Error(), err)
	}
	defer buildCtx.Close()

	dockerfile := opts.Dockerfile
	if dockerfile == "" {
		dockerfile = "Dockerfile"
	}

	resp, err := d.cli.ImageBuild(ctx, buildCtx, build.ImageBuildOptions{
		Tags:        []string{opts.Tag},
		Dockerfile:  dockerfile,
		NoCache:     opts.NoCache,
		Remove:      true,
		ForceRemove: true,
		Labels:      opts.Labels,
	})
	if err != nil {
		return NewDockerError("BuildImage", "image", opts.Tag, err.Error(), ErrImageBuildFailed)
	}
	defer resp.Body.Close()

	if msg, err := drainBuildOutput(resp.Body); err != nil {
		return NewDockerError("BuildImage", "image", opts.Tag, "read build output: "+err.Error(), err)
	} else if msg != "" {
		return NewDockerError("BuildImage", "image", opts.Tag, msg, ErrImageBuildFailed)
	}
	return nil
}

type buildMessage struct {
	Stream      string `json:"stream"`
	Error       string `json:"error"`
	ErrorDetail struct {
		Message string `json:"message"`
	} `json:"errorDetail"`
}

func (m buildMessage) errorMessage() string {
	if msg := strings.TrimSpace(m.Error); msg != "" {
		return msg
	}
	return strings.TrimSpace(m.ErrorDetail.Message)
}

// drainBuildOutput reads the JSON message stream of a build and returns the
// first error message it carries, or "" when the build succeeded.
func drainBuildOutput(r io.Reader) (string, error) {
	decoder := json.NewDecoder(r)
	for {
		var msg buildMessage
		if err := decoder.Decode(&msg); err != nil {
			if err == io.EOF {
				return "", nil
			}
			return "", err
		}
		if errMsg := msg.errorMessage(); errMsg != "" {
			return errMsg, nil
		}
	}
}

// =============================================================================
// Container Operations
// =============================================================================

// CreateContainer creates a new container from the given spec.
func (d *DockerClient) CreateContainer(ctx context.Context, spec ContainerSpec) (string, error) {
	config := &container.Config{
		Image:  spec.Image,
		Cmd:    spec.Command,
		Env:    spec.Env,
		Labels: spec.Labels,
	}
	hostConfig := &container.HostConfig{}

	if len(spec.Ports) > 0 {
		config.ExposedPorts, hostConfig.PortBindings = portBindings(spec.Ports)
	}

	for _, v := range spec.Volumes {
		mountType := mount.TypeVolume
		if strings.HasPrefix(v.Source, "/") {
			mountType = mount.TypeBind
		}
		hostConfig.Mounts = append(hostConfig.Mounts, mount.Mount{
			Type:   mountType,
			Source: v.Source,
			Target: v.Target,
		})
	}

	if spec.RestartPolicy != "" {
		hostConfig.RestartPolicy = container.RestartPolicy{
			Name: container.RestartPolicyMode(spec.RestartPolicy),
		}
	}

	var networkConfig *network.NetworkingConfig
	if spec.Network != "" {
		hostConfig.NetworkMode = container.NetworkMode(spec.Network)
		networkConfig = &network.NetworkingConfig{
			EndpointsConfig: map[string]*network.EndpointSettings{
				spec.Network: {},
			},
		}
	}

	resp, err := d.cli.ContainerCreate(ctx, config, hostConfig, networkConfig, nil, spec.Name)
	if err != nil {
		return "", NewDockerError("CreateContainer", "container", spec.Name, err.Error(), classify(err))
	}
	return resp.ID, nil
}

// portBindings publishes every port as host:container on all interfaces.
func portBindings(ports []PortBinding) (nat.PortSet, nat.PortMap) {
	exposed := nat.PortSet{}
	bindings := nat.PortMap{}
	for _, p := range ports {
		proto := p.Protocol
		if proto == "" {
			proto = "tcp"
		}
		containerPort := nat.Port(fmt.Sprintf("%d/%s", p.ContainerPort, proto))
		exposed[containerPort] = struct{}{}

		hostPort := ""
		if p.HostPort != 0 {
			hostPort = fmt.Sprintf("%d", p.HostPort)
		}
		bindings[containerPort] = []nat.PortBinding{{HostPort: hostPort}}
	}
	return exposed, bindings
}

// StartContainer starts a created or stopped container.
func (d *DockerClient) StartContainer(ctx context.Context, containerID string) error {
	err := d.cli.ContainerStart(ctx, containerID, container.StartOptions{})
	if err != nil {
		if client.IsErrNotFound(err) {
			return NewDockerError("StartContainer", "container", containerID, "container not found", ErrContainerNotFound)
		}
		if strings.Contains(err.Error(), "port is already allocated") {
			return NewDockerError("StartContainer", "container", containerID, err.Error(), ErrPortAlreadyAllocated)
		}
		if strings.Contains(err.Error(), "is already running") {
			return NewDockerError("StartContainer", "container", containerID, "container is already running", ErrContainerAlreadyRunning)
		}
		return NewDockerError("StartContainer", "container", containerID, err.Error(), err)
	}
	return nil
}

// StopContainer stops a running container.
func (d *DockerClient) StopContainer(ctx context.Context, containerID string, timeout *time.Duration) error {
	stopOptions := container.StopOptions{}
	if timeout != nil {
		seconds := int(timeout.Seconds())
		stopOptions.Timeout = &seconds
	}

	err := d.cli.ContainerStop(ctx, containerID, stopOptions)
	if err != nil {
		if client.IsErrNotFound(err) {
			return NewDockerError("StopContainer", "container", containerID, "container not found", ErrContainerNotFound)
		}
		if strings.Contains(err.Error(), "is not running") {
			return NewDockerError("StopContainer", "container", containerID, "container is not running", ErrContainerNotRunning)
		}
		return NewDockerError("StopContainer", "container", containerID, err.Error(), err)
	}
	return nil
}

// RemoveContainer removes a container.
func (d *DockerClient) RemoveContainer(ctx context.Context, containerID string, opts RemoveOptions) error {
	err := d.cli.ContainerRemove(ctx, containerID, container.RemoveOptions{
		Force:         opts.Force,
		RemoveVolumes: opts.RemoveVolumes,
	})
	if err != nil {
		if client.IsErrNotFound(err) {
			return NewDockerError("RemoveContainer", "container", containerID, "container not found", ErrContainerNotFound)
		}
		return NewDockerError("RemoveContainer", "container", containerID, err.Error(), err)
	}
	return nil
}

// InspectContainer returns the state of a container.
func (d *DockerClient) InspectContainer(ctx context.Context, containerID string) (*ContainerInfo, error) {
	resp, err := d.cli.ContainerInspect(ctx, containerID)
	if err != nil {
		if client.IsErrNotFound(err) {
			return nil, NewDockerError("InspectContainer", "container", containerID, "container not found", ErrContainerNotFound)
		}
		return nil, NewDockerError("InspectContainer", "container", containerID, err.Error(), err)
	}

	info := &ContainerInfo{
		ID:   resp.ID,
		Name: strings.TrimPrefix(resp.Name, "/"),
	}
	if resp.State != nil {
		info.Status = ContainerStatus(resp.State.Status)
	}
	if resp.Config != nil {
		info.Image = resp.Config.Image
		info.Labels = resp.Config.Labels
	}
	return info, nil
}

// ContainerLogs returns the demultiplexed logs of a container.
func (d *DockerClient) ContainerLogs(ctx context.Context, containerID string, opts LogOptions) (string, error) {
	reader, err := d.cli.ContainerLogs(ctx, containerID, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Tail:       opts.Tail,
		Timestamps: opts.Timestamps,
	})
	if err != nil {
		if client.IsErrNotFound(err) {
			return "", NewDockerError("ContainerLogs", "container", containerID, "container not found", ErrContainerNotFound)
		}
		return "", NewDockerError("ContainerLogs", "container", containerID, err.Error(), err)
	}
	defer reader.Close()

	var buf bytes.Buffer
	if _, err := stdcopy.StdCopy(&buf, &buf, reader); err != nil {
		return buf.String(), NewDockerError("ContainerLogs", "container", containerID, err.Error(), err)
	}
	return buf.String(), nil
}

// Exec runs a command inside a running container and waits for it to exit.
// A non-zero exit code is returned as ErrExecFailed with the output.
func (d *DockerClient) Exec(ctx context.Context, containerID string, spec ExecSpec) (ExecResult, error) {
	created, err := d.cli.ContainerExecCreate(ctx, containerID, container.ExecOptions{
		Cmd:          spec.Cmd,
		Env:          spec.Env,
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		if client.IsErrNotFound(err) {
			return ExecResult{}, NewDockerError("Exec", "container", containerID, "container not found", ErrContainerNotFound)
		}
		return ExecResult{}, NewDockerError("Exec", "container", containerID, err.Error(), err)
	}

	attach, err := d.cli.ContainerExecAttach(ctx, created.ID, container.ExecAttachOptions{})
	if err != nil {
		return ExecResult{}, NewDockerError("Exec", "exec", created.ID, err.Error(), err)
	}
	defer attach.Close()

	var buf bytes.Buffer
	if _, err := stdcopy.StdCopy(&buf, &buf, attach.Reader); err != nil {
		return ExecResult{Output: buf.String()}, NewDockerError("Exec", "exec", created.ID, err.Error(), err)
	}

	inspect, err := d.cli.ContainerExecInspect(ctx, created.ID)
	if err != nil {
		return ExecResult{Output: buf.String()}, NewDockerError("Exec", "exec", created.ID, err.Error(), err)
	}

	result := ExecResult{ExitCode: inspect.ExitCode, Output: buf.String()}
	if result.ExitCode != 0 {
		return result, NewDockerError("Exec", "container", containerID,
			fmt.Sprintf("exit code %d", result.ExitCode), ErrExecFailed)
	}
	return result, nil
}

// =============================================================================
// Network Operations
// =============================================================================

// EnsureNetwork creates a bridge network unless one with that name exists.
func (d *DockerClient) EnsureNetwork(ctx context.Context, name string) error {
	_, err := d.cli.NetworkInspect(ctx, name, network.InspectOptions{})
	if err == nil {
		return nil
	}
	if !client.IsErrNotFound(err) {
		return NewDockerError("EnsureNetwork", "network", name, err.Error(), err)
	}

	_, err = d.cli.NetworkCreate(ctx, name, network.CreateOptions{
		Driver: "bridge",
		Labels: map[string]string{LabelManaged: "true"},
	})
	if err != nil && !strings.Contains(err.Error(), "already exists") {
		return NewDockerError("EnsureNetwork", "network", name, err.Error(), err)
	}
	return nil
}
