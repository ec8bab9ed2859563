package executor

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R1ck404/mercel/internal/core/domain"
	"github.com/R1ck404/mercel/internal/shell/docker"
	"github.com/R1ck404/mercel/internal/shell/docker/dockertest"
)

func setup(t *testing.T, cfg Config) (*Executor, *dockertest.Fake, string) {
	t.Helper()
	fake := dockertest.New()
	ctx := context.Background()
	id, err := fake.CreateContainer(ctx, docker.ContainerSpec{Name: "env", Image: "node:23-alpine"})
	require.NoError(t, err)
	require.NoError(t, fake.StartContainer(ctx, id))
	return New(fake, cfg, nil), fake, id
}

func texts(lines []domain.LogLine) []string {
	out := make([]string, len(lines))
	for i, l := range lines {
		out[i] = l.Text
	}
	return out
}

func TestExec_ForegroundCapturesLines(t *testing.T) {
	ex, fake, id := setup(t, Config{})
	fake.OnExec = func(string, docker.ExecSpec) (string, int) {
		return "added 12 packages\n\n   \naudited 13 packages\r\n", 0
	}

	lines, err := ex.Exec(context.Background(), id, Command{Line: "npm install"})
	require.NoError(t, err)
	assert.Equal(t, []string{"added 12 packages", "audited 13 packages"}, texts(lines))

	calls := fake.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, []string{"sh", "-c", "npm install"}, calls[0].Spec.Cmd)

	for i := 1; i < len(lines); i++ {
		assert.False(t, lines[i].Timestamp.Before(lines[i-1].Timestamp))
	}
}

func TestExec_NonzeroExit(t *testing.T) {
	ex, fake, id := setup(t, Config{})
	fake.OnExec = func(string, docker.ExecSpec) (string, int) {
		return "npm ERR! missing script: dev\n", 1
	}

	lines, err := ex.Exec(context.Background(), id, Command{Line: "npm run dev"})
	require.Error(t, err)

	var ce *domain.CommandError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, 1, ce.ExitCode)
	assert.False(t, ce.TimedOut)
	assert.Equal(t, []string{"npm ERR! missing script: dev"}, texts(ce.Log))
	assert.Equal(t, texts(ce.Log), texts(lines))
	assert.ErrorIs(t, err, domain.ErrCommandFailed)
}

func TestExec_Timeout(t *testing.T) {
	ex, fake, id := setup(t, Config{Timeout: 50 * time.Millisecond})
	fake.OnStream = func(string, docker.ExecSpec) io.ReadCloser {
		pr, _ := io.Pipe()
		return pr
	}

	_, err := ex.Exec(context.Background(), id, Command{Line: "sleep 1000"})

	var ce *domain.CommandError
	require.True(t, errors.As(err, &ce))
	assert.True(t, ce.TimedOut)
	assert.Equal(t, -1, ce.ExitCode)
}

func TestExec_RedactsSecrets(t *testing.T) {
	ex, fake, id := setup(t, Config{})
	token := "ghp_s3cr3t"
	fake.OnExec = func(string, docker.ExecSpec) (string, int) {
		return "fatal: could not read from https://" + token + "@github.com/a/b\n", 128
	}

	_, err := ex.Exec(context.Background(), id, Command{
		Line:    "git clone https://" + token + "@github.com/a/b /app",
		Secrets: []string{token},
	})
	require.Error(t, err)
	assert.NotContains(t, err.Error(), token)

	var ce *domain.CommandError
	require.True(t, errors.As(err, &ce))
	assert.Contains(t, ce.Command, "https://***@github.com/a/b")
	for _, l := range ce.Log {
		assert.NotContains(t, l.Text, token)
	}
}

func TestExec_Background(t *testing.T) {
	ex, fake, id := setup(t, Config{WorkDir: "/app"})

	lines, err := ex.Exec(context.Background(), id, Command{
		Line:       "PORT=5010 npm run dev",
		Background: true,
		Env:        []string{"PORT=5010"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"Command started in background: PORT=5010 npm run dev"}, texts(lines))

	calls := fake.Calls()
	require.Len(t, calls, 1)
	line := calls[0].Line()
	assert.Contains(t, line, "(PORT=5010 npm run dev; echo $? > '/app/.mercel/exit_code')")
	assert.Contains(t, line, "> '/app/output.log' 2>&1 &")
	assert.Contains(t, line, "echo $! > '/app/.mercel/pid'")
	assert.Equal(t, []string{"PORT=5010"}, calls[0].Spec.Env)
}

func TestExec_ContainerGone(t *testing.T) {
	ex, _, _ := setup(t, Config{})

	_, err := ex.Exec(context.Background(), "missing", Command{Line: "true"})
	assert.ErrorIs(t, err, docker.ErrContainerNotFound)
}

func TestPaths(t *testing.T) {
	assert.Equal(t, "/app/.mercel", StatePath("/app/", ""))
	assert.Equal(t, "/app/.mercel/pid", StatePath("/app", "pid"))
	assert.Equal(t, "/app/output.log", OutputPath("/app"))
	assert.Equal(t, "tail -n 200 -F '/app/output.log'", TailLine("/app", 200))
	assert.True(t, strings.HasPrefix(BackgroundLine("/app", "x"), "mkdir -p '/app/.mercel'"))
}
