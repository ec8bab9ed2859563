package docker

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Test Helpers
// =============================================================================

const (
	testPrefix = "mercel-test-"
	testImage  = "alpine:latest"
)

func skipIfNoDocker(t *testing.T) Client {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping docker integration test in short mode")
	}
	ctx := context.Background()
	cli, err := NewDockerClient(ctx, "")
	if err != nil {
		t.Skip("Docker not available:", err)
	}
	if err := cli.Ping(ctx); err != nil {
		cli.Close()
		t.Skip("Docker not reachable:", err)
	}
	return cli
}

func ensureImage(t *testing.T, cli Client) {
	t.Helper()
	ctx := context.Background()
	exists, err := cli.ImageExists(ctx, testImage)
	require.NoError(t, err)
	if !exists {
		require.NoError(t, cli.PullImage(ctx, testImage, PullOptions{}))
	}
}

func cleanupContainer(t *testing.T, cli Client, containerID string) {
	t.Helper()
	timeout := 2 * time.Second
	ctx := context.Background()
	cli.StopContainer(ctx, containerID, &timeout)
	cli.RemoveContainer(ctx, containerID, RemoveOptions{Force: true, RemoveVolumes: true})
}

func startIdle(t *testing.T, cli Client, name string) string {
	t.Helper()
	ensureImage(t, cli)
	ctx := context.Background()
	id, err := cli.CreateContainer(ctx, ContainerSpec{
		Name:       testPrefix + name,
		Image:      testImage,
		Command:    []string{"/bin/sh"},
		WorkingDir: "/",
		Tty:        true,
		OpenStdin:  true,
		Labels:     map[string]string{LabelManaged: "true"},
		Log:        LogRotation{MaxSize: "10m", MaxFiles: 3},
	})
	require.NoError(t, err)
	t.Cleanup(func() { cleanupContainer(t, cli, id) })
	require.NoError(t, cli.StartContainer(ctx, id))
	return id
}

// =============================================================================
// Error Tests
// =============================================================================

func TestDockerError(t *testing.T) {
	err := NewDockerError("StopContainer", "container", "abc", "container not found", ErrContainerNotFound)
	assert.Equal(t, "StopContainer container abc: container not found", err.Error())
	assert.True(t, IsNotFound(err))

	bare := NewDockerError("Ping", "", "", "refused", ErrConnectionFailed)
	assert.Equal(t, "Ping: refused", bare.Error())
	assert.False(t, IsNotFound(bare))
}

func TestParseStateTime(t *testing.T) {
	assert.Nil(t, parseStateTime(""))
	assert.Nil(t, parseStateTime("0001-01-01T00:00:00Z"))
	assert.Nil(t, parseStateTime("garbage"))

	got := parseStateTime("2026-01-02T03:04:05.123Z")
	require.NotNil(t, got)
	assert.Equal(t, 2026, got.Year())
}

// =============================================================================
// Integration Tests
// =============================================================================

func TestPing_Success(t *testing.T) {
	cli := skipIfNoDocker(t)
	defer cli.Close()

	assert.NoError(t, cli.Ping(context.Background()))
}

func TestContainerLifecycle(t *testing.T) {
	cli := skipIfNoDocker(t)
	defer cli.Close()
	ctx := context.Background()

	id := startIdle(t, cli, "lifecycle")

	info, err := cli.InspectContainer(ctx, id)
	require.NoError(t, err)
	assert.True(t, info.Running())
	assert.Equal(t, "true", info.Labels[LabelManaged])

	list, err := cli.ListContainers(ctx, ListOptions{Filters: map[string]string{"label": LabelManaged + "=true"}})
	require.NoError(t, err)
	found := false
	for _, c := range list {
		if c.ID == id {
			found = true
		}
	}
	assert.True(t, found)

	timeout := time.Second
	require.NoError(t, cli.StopContainer(ctx, id, &timeout))
	require.NoError(t, cli.RemoveContainer(ctx, id, RemoveOptions{Force: true}))

	_, err = cli.InspectContainer(ctx, id)
	assert.ErrorIs(t, err, ErrContainerNotFound)
}

func TestExec_StreamsOutputAndExitCode(t *testing.T) {
	cli := skipIfNoDocker(t)
	defer cli.Close()
	ctx := context.Background()

	id := startIdle(t, cli, "exec")

	session, err := cli.ExecStart(ctx, id, ExecSpec{
		Cmd: []string{"sh", "-c", "echo out; echo err >&2; exit 3"},
		Env: []string{"LANG=C.UTF-8"},
	})
	require.NoError(t, err)

	out, err := io.ReadAll(session.Output)
	require.NoError(t, err)
	session.Output.Close()

	assert.Contains(t, string(out), "out")
	assert.Contains(t, string(out), "err")

	state, err := cli.ExecInspect(ctx, session.ID)
	require.NoError(t, err)
	assert.False(t, state.Running)
	assert.Equal(t, 3, state.ExitCode)
}

func TestExec_MissingContainer(t *testing.T) {
	cli := skipIfNoDocker(t)
	defer cli.Close()

	_, err := cli.ExecStart(context.Background(), "does-not-exist", ExecSpec{Cmd: []string{"true"}})
	assert.ErrorIs(t, err, ErrContainerNotFound)
}

func TestEvents_ReportsDie(t *testing.T) {
	cli := skipIfNoDocker(t)
	defer cli.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	evs, _ := cli.Events(ctx, EventOptions{Actions: []string{"die"}, Labels: map[string]string{LabelManaged: "true"}})
	id := startIdle(t, cli, "events")

	timeout := time.Second
	require.NoError(t, cli.StopContainer(ctx, id, &timeout))

	for {
		select {
		case ev, ok := <-evs:
			require.True(t, ok, "event stream closed")
			if ev.ContainerID == id {
				assert.Equal(t, "die", ev.Action)
				assert.True(t, strings.HasPrefix(ev.Labels["name"], testPrefix))
				return
			}
		case <-ctx.Done():
			t.Fatal("timed out waiting for die event")
		}
	}
}
