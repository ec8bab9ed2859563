package main

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	coreports "github.com/R1ck404/mercel/internal/core/ports"
	"github.com/R1ck404/mercel/internal/shell/controller"
	"github.com/R1ck404/mercel/internal/shell/docker"
	"github.com/R1ck404/mercel/internal/shell/docker/dockertest"
	"github.com/R1ck404/mercel/internal/shell/environment"
	"github.com/R1ck404/mercel/internal/shell/executor"
	"github.com/R1ck404/mercel/internal/shell/ports"
	"github.com/R1ck404/mercel/internal/shell/store"
	"github.com/R1ck404/mercel/internal/shell/workers"
)

// orderedClient records the order of event subscriptions and listings.
type orderedClient struct {
	*dockertest.Fake

	mu    sync.Mutex
	calls []string
}

func (c *orderedClient) record(call string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, call)
}

func (c *orderedClient) order() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.calls...)
}

func (c *orderedClient) Events(ctx context.Context, opts docker.EventOptions) (<-chan docker.ContainerEvent, <-chan error) {
	c.record("events")
	return c.Fake.Events(ctx, opts)
}

func (c *orderedClient) ListContainers(ctx context.Context, opts docker.ListOptions) ([]docker.ContainerInfo, error) {
	c.record("list")
	return c.Fake.ListContainers(ctx, opts)
}

func TestServer_ReconcileWatchesBeforeReclaiming(t *testing.T) {
	ctx := context.Background()
	fake := dockertest.New()
	id, err := fake.CreateContainer(ctx, docker.ContainerSpec{
		Name: "mercel-site-5003",
		Labels: map[string]string{
			docker.LabelManaged: "true",
			docker.LabelProject: "p1",
			docker.LabelPort:    "5003",
		},
	})
	require.NoError(t, err)
	require.NoError(t, fake.StartContainer(ctx, id))

	client := &orderedClient{Fake: fake}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	s, err := store.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	alloc, err := ports.NewAllocator(coreports.Range{Low: 5000, High: 5009}, logger)
	require.NoError(t, err)
	exec := executor.New(client, executor.Config{WorkDir: "/app"}, logger)
	envs := environment.NewManager(client, exec, alloc, environment.DefaultConfig(), logger)

	srv := &Server{
		store:      s,
		docker:     client,
		envs:       envs,
		controller: controller.New(controller.Deps{Store: s, Environments: envs, Ports: alloc}, controller.Config{}, logger),
		watcher:    workers.NewEnvironmentWatcher(client, alloc, nil, workers.EnvironmentWatcherConfig{RetryInterval: 10 * time.Millisecond}, logger),
		logger:     logger,
	}

	require.NoError(t, srv.reconcile(ctx))
	defer srv.watcher.Stop()

	calls := client.order()
	require.GreaterOrEqual(t, len(calls), 2)
	assert.Equal(t, []string{"events", "list"}, calls[:2])
	assert.True(t, alloc.Held(5003))

	fake.Kill(id)
	assert.Eventually(t, func() bool { return !alloc.Held(5003) }, 2*time.Second, 10*time.Millisecond)
}
