// Package workers contains background workers for Mercel.
package workers

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/R1ck404/mercel/internal/shell/docker"
	"github.com/R1ck404/mercel/internal/shell/ports"
)

// EnvironmentWatcherConfig configures the environment watcher worker.
type EnvironmentWatcherConfig struct {
	// RetryInterval is the wait before resubscribing after the event stream
	// drops. Default: 5 seconds.
	RetryInterval time.Duration
}

// DeathHandler is notified after an environment's port has been released.
type DeathHandler func(ctx context.Context, environmentID string, port int)

// EnvironmentWatcher releases the port of any managed environment the daemon
// reports as dead, whether or not a deploy is in flight.
type EnvironmentWatcher struct {
	docker  docker.Client
	ports   *ports.Allocator
	onDeath DeathHandler
	config  EnvironmentWatcherConfig
	logger  *slog.Logger

	// Lifecycle management
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewEnvironmentWatcher creates a new environment watcher. onDeath may be nil.
func NewEnvironmentWatcher(
	client docker.Client,
	alloc *ports.Allocator,
	onDeath DeathHandler,
	config EnvironmentWatcherConfig,
	logger *slog.Logger,
) *EnvironmentWatcher {
	if config.RetryInterval == 0 {
		config.RetryInterval = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &EnvironmentWatcher{
		docker:  client,
		ports:   alloc,
		onDeath: onDeath,
		config:  config,
		logger:  logger.With("component", "environment_watcher"),
	}
}

// Start opens the event subscription before returning, so no death after
// Start is missed, and consumes it in a background goroutine.
func (w *EnvironmentWatcher) Start() {
	w.ctx, w.cancel = context.WithCancel(context.Background())
	events, errs := w.subscribe()

	w.wg.Add(1)
	go w.run(events, errs)

	w.logger.Info("environment watcher started")
}

// Stop cancels the subscription and waits for the worker to exit.
func (w *EnvironmentWatcher) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
	w.logger.Info("environment watcher stopped")
}

func (w *EnvironmentWatcher) run(events <-chan docker.ContainerEvent, errs <-chan error) {
	defer w.wg.Done()

	for {
		w.watch(events, errs)

		select {
		case <-w.ctx.Done():
			return
		case <-time.After(w.config.RetryInterval):
			w.logger.Info("resubscribing to container events")
		}
		events, errs = w.subscribe()
	}
}

func (w *EnvironmentWatcher) subscribe() (<-chan docker.ContainerEvent, <-chan error) {
	return w.docker.Events(w.ctx, docker.EventOptions{
		Actions: []string{"die", "destroy"},
		Labels:  map[string]string{docker.LabelManaged: "true"},
	})
}

// watch consumes one event subscription until it ends.
func (w *EnvironmentWatcher) watch(events <-chan docker.ContainerEvent, errs <-chan error) {
	for {
		select {
		case <-w.ctx.Done():
			return
		case err, ok := <-errs:
			if ok && err != nil {
				w.logger.Warn("container event stream failed", "error", err)
			}
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			w.handle(ev)
		}
	}
}

func (w *EnvironmentWatcher) handle(ev docker.ContainerEvent) {
	port, released := w.ports.ReleaseEnvironment(ev.ContainerID)
	if !released {
		w.logger.Debug("ignoring event for environment without a port", "environment_id", ev.ContainerID, "action", ev.Action)
		return
	}

	w.logger.Info("environment died, port released",
		"environment_id", ev.ContainerID,
		"action", ev.Action,
		"port", port,
		"project_id", ev.Labels[docker.LabelProject],
	)

	if w.onDeath != nil {
		w.onDeath(w.ctx, ev.ContainerID, port)
	}
}
