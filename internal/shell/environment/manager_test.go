package environment

import (
	"context"
	"errors"
	"io"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R1ck404/mercel/internal/core/domain"
	coreports "github.com/R1ck404/mercel/internal/core/ports"
	"github.com/R1ck404/mercel/internal/shell/docker"
	"github.com/R1ck404/mercel/internal/shell/docker/dockertest"
	"github.com/R1ck404/mercel/internal/shell/executor"
	"github.com/R1ck404/mercel/internal/shell/ports"
)

func setup(t *testing.T) (*Manager, *dockertest.Fake, *ports.Allocator) {
	t.Helper()
	fake := dockertest.New()
	alloc, err := ports.NewAllocator(coreports.Range{Low: 5000, High: 5009}, nil)
	require.NoError(t, err)
	ex := executor.New(fake, executor.Config{WorkDir: "/app"}, nil)
	return NewManager(fake, ex, alloc, DefaultConfig(), nil), fake, alloc
}

func TestCreate_RunningWithLabelsAndPort(t *testing.T) {
	m, fake, alloc := setup(t)
	ctx := context.Background()

	port, err := alloc.Reserve()
	require.NoError(t, err)

	env, err := m.Create(ctx, Spec{ProjectID: "p1", ProjectName: "My Site", Port: port})
	require.NoError(t, err)

	assert.Equal(t, "mercel-my-site-5000", env.Name)
	assert.Equal(t, 5000, env.Port)

	info, ok := fake.Container(env.ID)
	require.True(t, ok)
	assert.True(t, info.Running())

	spec := fake.Spec(env.ID)
	assert.Equal(t, "node:23-alpine", spec.Image)
	assert.True(t, spec.Tty)
	assert.Equal(t, []string{"/bin/sh"}, spec.Command)
	assert.Equal(t, "true", spec.Labels[docker.LabelManaged])
	assert.Equal(t, "p1", spec.Labels[docker.LabelProject])
	assert.Equal(t, "5000", spec.Labels[docker.LabelPort])
	assert.Equal(t, []docker.PortBinding{{ContainerPort: 5000, HostPort: 5000, Protocol: "tcp"}}, spec.Ports)
	assert.Equal(t, docker.LogRotation{MaxSize: "10m", MaxFiles: 3}, spec.Log)

	exists, _ := fake.ImageExists(ctx, "node:23-alpine")
	assert.True(t, exists, "missing base image is pulled")
}

func TestCreate_BackendRejects(t *testing.T) {
	m, fake, alloc := setup(t)
	fake.CreateErr = errors.New("daemon says no")

	port, err := alloc.Reserve()
	require.NoError(t, err)

	_, err = m.Create(context.Background(), Spec{ProjectID: "p1", ProjectName: "site", Port: port})
	assert.ErrorIs(t, err, domain.ErrProvision)
	assert.Zero(t, fake.Count())
}

func TestCreate_StartFailureRemovesContainer(t *testing.T) {
	m, fake, alloc := setup(t)
	fake.StartErr = docker.NewDockerError("StartContainer", "container", "x", "port is already allocated", docker.ErrPortAlreadyAllocated)

	port, err := alloc.Reserve()
	require.NoError(t, err)

	_, err = m.Create(context.Background(), Spec{ProjectID: "p1", ProjectName: "site", Port: port})
	assert.ErrorIs(t, err, domain.ErrProvision)
	assert.Zero(t, fake.Count())
}

func TestCreate_ReplacesStaleContainer(t *testing.T) {
	m, fake, alloc := setup(t)
	ctx := context.Background()

	_, err := fake.CreateContainer(ctx, docker.ContainerSpec{Name: "mercel-site-5000"})
	require.NoError(t, err)

	port, err := alloc.Reserve()
	require.NoError(t, err)

	env, err := m.Create(ctx, Spec{ProjectID: "p1", ProjectName: "site", Port: port})
	require.NoError(t, err)
	assert.Equal(t, 1, fake.Count())
	assert.True(t, alloc.Held(env.Port))
}

func TestTeardown_IdempotentAndReleasesPort(t *testing.T) {
	m, fake, alloc := setup(t)
	ctx := context.Background()

	port, err := alloc.Reserve()
	require.NoError(t, err)
	env, err := m.Create(ctx, Spec{ProjectID: "p1", ProjectName: "site", Port: port})
	require.NoError(t, err)

	m.Teardown(ctx, env.ID)
	assert.Zero(t, fake.Count())
	assert.False(t, alloc.Held(port))

	// Already gone is success.
	assert.NotPanics(t, func() { m.Teardown(ctx, env.ID) })
	assert.NotPanics(t, func() { m.Teardown(ctx, "") })
}

func TestTeardown_FailedRemoveKeepsPort(t *testing.T) {
	m, fake, alloc := setup(t)
	ctx := context.Background()

	port, err := alloc.Reserve()
	require.NoError(t, err)
	env, err := m.Create(ctx, Spec{ProjectID: "p1", ProjectName: "site", Port: port})
	require.NoError(t, err)

	fake.StopErr = errors.New("daemon timeout")
	fake.RemoveErr = errors.New("daemon timeout")
	m.Teardown(ctx, env.ID)

	info, ok := fake.Container(env.ID)
	require.True(t, ok)
	assert.True(t, info.Running())
	assert.True(t, alloc.Held(port), "port stays held while the container is still bound to it")

	next, err := alloc.Reserve()
	require.NoError(t, err)
	assert.NotEqual(t, port, next)

	// Once the daemon recovers the teardown completes.
	fake.StopErr, fake.RemoveErr = nil, nil
	m.Teardown(ctx, env.ID)
	assert.False(t, alloc.Held(port))
}

func TestStatus(t *testing.T) {
	m, fake, alloc := setup(t)
	ctx := context.Background()

	port, err := alloc.Reserve()
	require.NoError(t, err)
	env, err := m.Create(ctx, Spec{ProjectID: "p1", ProjectName: "site", Port: port})
	require.NoError(t, err)

	exitCode := ""
	fake.OnExec = func(_ string, spec docker.ExecSpec) (string, int) {
		if strings.Contains(spec.Cmd[2], "exit_code") {
			return exitCode, 0
		}
		return "", 0
	}

	st, err := m.Status(ctx, env.ID)
	require.NoError(t, err)
	assert.True(t, st.Running)
	assert.False(t, st.ProcessExited)

	exitCode = "137\n"
	st, err = m.Status(ctx, env.ID)
	require.NoError(t, err)
	assert.True(t, st.ProcessExited)
	require.NotNil(t, st.ExitCode)
	assert.Equal(t, 137, *st.ExitCode)

	m.Teardown(ctx, env.ID)
	st, err = m.Status(ctx, env.ID)
	require.NoError(t, err)
	assert.False(t, st.Running)
}

func TestTail(t *testing.T) {
	m, fake, alloc := setup(t)
	ctx := context.Background()

	port, err := alloc.Reserve()
	require.NoError(t, err)
	env, err := m.Create(ctx, Spec{ProjectID: "p1", ProjectName: "site", Port: port})
	require.NoError(t, err)

	fake.OnExec = func(string, docker.ExecSpec) (string, int) {
		return "ready on :" + strconv.Itoa(port) + "\n", 0
	}

	rc, err := m.Tail(ctx, env.ID)
	require.NoError(t, err)
	defer rc.Close()

	out, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "ready on :5000\n", string(out))

	calls := fake.Calls()
	assert.Equal(t, "tail -n 200 -F '/app/output.log'", calls[len(calls)-1].Line())
}

func TestRecover_ClaimsLabelledPorts(t *testing.T) {
	m, fake, alloc := setup(t)
	ctx := context.Background()

	for _, port := range []string{"5003", "7000", "bogus"} {
		id, err := fake.CreateContainer(ctx, docker.ContainerSpec{
			Name:   "old-" + port,
			Labels: map[string]string{docker.LabelManaged: "true", docker.LabelPort: port},
		})
		require.NoError(t, err)
		require.NoError(t, fake.StartContainer(ctx, id))
	}

	n, err := m.Recover(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.True(t, alloc.Held(5003))

	next, err := alloc.Reserve()
	require.NoError(t, err)
	assert.Equal(t, 5000, next)
}
