package docker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/containerd/errdefs"
	"github.com/docker/go-connections/nat"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Pure Helper Tests
// =============================================================================

func TestPortBindings(t *testing.T) {
	exposed, bindings := portBindings([]PortBinding{
		{ContainerPort: 10000, HostPort: 10000},
		{ContainerPort: 53, Protocol: "udp"},
	})

	assert.Contains(t, exposed, nat.Port("10000/tcp"))
	assert.Contains(t, exposed, nat.Port("53/udp"))
	assert.Equal(t, "10000", bindings[nat.Port("10000/tcp")][0].HostPort)
	assert.Equal(t, "", bindings[nat.Port("53/udp")][0].HostPort)
}

func TestDrainBuildOutput(t *testing.T) {
	tests := []struct {
		name    string
		stream  string
		wantMsg string
	}{
		{"success", `{"stream":"Step 1/5 : FROM node:18"}` + "\n" + `{"stream":"Successfully built"}`, ""},
		{"error field", `{"stream":"Step 1/5"}` + "\n" + `{"error":"npm ERR! code 1"}`, "npm ERR! code 1"},
		{"error detail", `{"errorDetail":{"message":"no such file"}}`, "no such file"},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := drainBuildOutput(strings.NewReader(tt.stream))
			require.NoError(t, err)
			assert.Equal(t, tt.wantMsg, msg)
		})
	}

	_, err := drainBuildOutput(strings.NewReader("{not json"))
	assert.Error(t, err)
}

func TestClassify(t *testing.T) {
	assert.Nil(t, classify(nil))
	assert.Equal(t, ErrContainerNotFound, classify(errdefs.ErrNotFound))
	assert.Equal(t, ErrPortAlreadyAllocated, classify(errors.New("Bind for 0.0.0.0:9001 failed: port is already allocated")))
	assert.Equal(t, ErrContainerAlreadyExists, classify(errdefs.ErrConflict))
	assert.Equal(t, ErrNetworkNotFound, classify(fmt.Errorf("network fireploy_network not found: %w", errdefs.ErrNotFound)))

	other := errors.New("boom")
	assert.Equal(t, other, classify(other))
}

func TestIsNotFound(t *testing.T) {
	assert.False(t, IsNotFound(nil))
	assert.True(t, IsNotFound(NewDockerError("RemoveContainer", "container", "x", "container not found", ErrContainerNotFound)))
	assert.True(t, IsNotFound(errdefs.ErrNotFound))
	assert.False(t, IsNotFound(errors.New("boom")))
}

func TestDockerError(t *testing.T) {
	err := NewDockerError("StopContainer", "container", "Container-1", "container is not running", ErrContainerNotRunning)
	assert.Equal(t, "StopContainer container Container-1: container is not running", err.Error())
	assert.ErrorIs(t, err, ErrContainerNotRunning)

	assert.Equal(t, "Ping: down", NewDockerError("Ping", "", "", "down", nil).Error())
}

// =============================================================================
// Daemon Tests
// =============================================================================

func skipIfNoDocker(t *testing.T) *DockerClient {
	t.Helper()
	if os.Getenv("DEPLOYER_DOCKER_TESTS") == "" {
		t.Skip("set DEPLOYER_DOCKER_TESTS=1 to run against a docker daemon")
	}
	cli, err := NewDockerClient("")
	if err != nil {
		t.Skip("Docker not available:", err)
	}
	if err := cli.Ping(context.Background()); err != nil {
		cli.Close()
		t.Skip("Docker not reachable:", err)
	}
	return cli
}

const testPrefix = "deployer-test-"

func TestDockerClient_ContainerLifecycle(t *testing.T) {
	cli := skipIfNoDocker(t)
	defer cli.Close()
	ctx := context.Background()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "Dockerfile"),
		[]byte("FROM alpine:latest\nCMD [\"sh\", \"-c\", \"echo ready; sleep 300\"]\n"), 0o644))

	tag := testPrefix + "image"
	name := testPrefix + "lifecycle"
	require.NoError(t, cli.BuildImage(ctx, BuildOptions{ContextDir: dir, Tag: tag}))

	network := testPrefix + "net"
	require.NoError(t, cli.EnsureNetwork(ctx, network))
	require.NoError(t, cli.EnsureNetwork(ctx, network))

	id, err := cli.CreateContainer(ctx, ContainerSpec{Name: name, Image: tag, Network: network})
	require.NoError(t, err)
	defer cli.RemoveContainer(ctx, id, RemoveOptions{Force: true})

	require.NoError(t, cli.StartContainer(ctx, id))

	info, err := cli.InspectContainer(ctx, name)
	require.NoError(t, err)
	assert.True(t, info.Running())

	res, err := cli.Exec(ctx, name, ExecSpec{Cmd: []string{"sh", "-c", "echo $GREETING", "x"}, Env: []string{"GREETING=hi"}})
	require.NoError(t, err)
	assert.Equal(t, "hi\n", res.Output)

	res, err = cli.Exec(ctx, name, ExecSpec{Cmd: []string{"sh", "-c", "exit 3"}})
	assert.ErrorIs(t, err, ErrExecFailed)
	assert.Equal(t, 3, res.ExitCode)

	time.Sleep(500 * time.Millisecond)
	logs, err := cli.ContainerLogs(ctx, name, LogOptions{Tail: "10"})
	require.NoError(t, err)
	assert.Contains(t, logs, "ready")

	timeout := time.Second
	require.NoError(t, cli.StopContainer(ctx, name, &timeout))
	require.NoError(t, cli.RemoveContainer(ctx, name, RemoveOptions{Force: true}))

	_, err = cli.InspectContainer(ctx, name)
	assert.True(t, IsNotFound(err))
}
