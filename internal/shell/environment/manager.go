// Package environment provisions and tears down the isolated container each
// project runs in.
package environment

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/R1ck404/mercel/internal/core/domain"
	"github.com/R1ck404/mercel/internal/core/source"
	"github.com/R1ck404/mercel/internal/shell/docker"
	"github.com/R1ck404/mercel/internal/shell/executor"
	"github.com/R1ck404/mercel/internal/shell/ports"
)

// TailLines is how much existing output a log tail replays.
const TailLines = 200

// Config configures the Manager.
type Config struct {
	Image       string
	WorkDir     string
	StopTimeout time.Duration
	LogMaxSize  string
	LogMaxFiles int
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		Image:       "node:23-alpine",
		WorkDir:     "/app",
		StopTimeout: 10 * time.Second,
		LogMaxSize:  "10m",
		LogMaxFiles: 3,
	}
}

// Spec describes an environment to create.
type Spec struct {
	ProjectID   string
	ProjectName string
	Port        int
}

// Environment is a handle to a running container.
type Environment struct {
	ID   string
	Name string
	Port int
}

// RuntimeStatus describes the environment and its background process.
type RuntimeStatus struct {
	Running       bool `json:"running"`
	ProcessExited bool `json:"process_exited"`
	ExitCode      *int `json:"exit_code,omitempty"`
}

// Manager creates environments and runs commands in them.
type Manager struct {
	docker docker.Client
	exec   *executor.Executor
	ports  *ports.Allocator
	cfg    Config
	logger *slog.Logger
}

// NewManager creates a Manager. The allocator is told about each environment
// so the port can be released when the environment goes away.
func NewManager(client docker.Client, exec *executor.Executor, alloc *ports.Allocator, cfg Config, logger *slog.Logger) *Manager {
	def := DefaultConfig()
	if cfg.Image == "" {
		cfg.Image = def.Image
	}
	if cfg.WorkDir == "" {
		cfg.WorkDir = def.WorkDir
	}
	if cfg.StopTimeout == 0 {
		cfg.StopTimeout = def.StopTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		docker: client,
		exec:   exec,
		ports:  alloc,
		cfg:    cfg,
		logger: logger.With("component", "environment_manager"),
	}
}

// Create provisions a running environment exposing spec.Port. The container
// idles on an interactive shell so commands can be injected later. Failures
// wrap domain.ErrProvision and leave nothing behind.
func (m *Manager) Create(ctx context.Context, spec Spec) (*Environment, error) {
	if err := m.ensureImage(ctx); err != nil {
		return nil, err
	}

	name := domain.EnvironmentName(spec.ProjectName, spec.Port)
	containerSpec := docker.ContainerSpec{
		Name:       name,
		Image:      m.cfg.Image,
		Command:    []string{"/bin/sh"},
		WorkingDir: "/",
		Tty:        true,
		OpenStdin:  true,
		Env:        []string{"LANG=C.UTF-8", "LC_ALL=C.UTF-8"},
		Labels: map[string]string{
			docker.LabelManaged: "true",
			docker.LabelProject: spec.ProjectID,
			docker.LabelPort:    strconv.Itoa(spec.Port),
		},
		Ports: []docker.PortBinding{{ContainerPort: spec.Port, HostPort: spec.Port, Protocol: "tcp"}},
		Log:   docker.LogRotation{MaxSize: m.cfg.LogMaxSize, MaxFiles: m.cfg.LogMaxFiles},
	}

	id, err := m.docker.CreateContainer(ctx, containerSpec)
	if errors.Is(err, docker.ErrContainerAlreadyExists) {
		// Left over from a crash: the port is ours now, so the old holder is stale.
		m.logger.Warn("removing stale environment", "name", name)
		m.removeByName(ctx, name)
		id, err = m.docker.CreateContainer(ctx, containerSpec)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: create %s: %v", domain.ErrProvision, name, err)
	}

	if err := m.docker.StartContainer(ctx, id); err != nil {
		if rmErr := m.docker.RemoveContainer(ctx, id, docker.RemoveOptions{Force: true}); rmErr != nil && !docker.IsNotFound(rmErr) {
			m.logger.Error("failed to remove unstarted environment", "environment_id", id, "error", rmErr)
		}
		return nil, fmt.Errorf("%w: start %s: %v", domain.ErrProvision, name, err)
	}

	if err := m.ports.Bind(spec.Port, id); err != nil {
		m.logger.Warn("port was not reserved before create", "port", spec.Port, "error", err)
		m.ports.Claim(spec.Port, id)
	}

	m.logger.Info("environment created", "environment_id", id, "name", name, "port", spec.Port, "project_id", spec.ProjectID)
	return &Environment{ID: id, Name: name, Port: spec.Port}, nil
}

func (m *Manager) ensureImage(ctx context.Context) error {
	exists, err := m.docker.ImageExists(ctx, m.cfg.Image)
	if err != nil {
		return fmt.Errorf("%w: inspect image %s: %v", domain.ErrProvision, m.cfg.Image, err)
	}
	if exists {
		return nil
	}
	m.logger.Info("pulling base image", "image", m.cfg.Image)
	if err := m.docker.PullImage(ctx, m.cfg.Image, docker.PullOptions{}); err != nil {
		return fmt.Errorf("%w: pull image %s: %v", domain.ErrProvision, m.cfg.Image, err)
	}
	return nil
}

func (m *Manager) removeByName(ctx context.Context, name string) {
	list, err := m.docker.ListContainers(ctx, docker.ListOptions{All: true, Filters: map[string]string{"name": name}})
	if err != nil {
		m.logger.Error("failed to list containers", "name", name, "error", err)
		return
	}
	for _, c := range list {
		if c.Name == name {
			m.Teardown(ctx, c.ID)
		}
	}
}

// Teardown stops and removes an environment and releases its port. An
// environment that is already gone counts as torn down. When removal fails
// the port stays held until the watcher observes the container die; the
// failure is logged and swallowed.
func (m *Manager) Teardown(ctx context.Context, environmentID string) {
	if environmentID == "" {
		return
	}
	logger := m.logger.With("environment_id", environmentID)

	timeout := m.cfg.StopTimeout
	if err := m.docker.StopContainer(ctx, environmentID, &timeout); err != nil &&
		!docker.IsNotFound(err) && !errors.Is(err, docker.ErrContainerNotRunning) {
		logger.Warn("failed to stop environment", "error", err)
	}
	if err := m.docker.RemoveContainer(ctx, environmentID, docker.RemoveOptions{Force: true, RemoveVolumes: true}); err != nil && !docker.IsNotFound(err) {
		logger.Error("failed to remove environment, keeping its port", "error", err)
		return
	}

	if port, ok := m.ports.ReleaseEnvironment(environmentID); ok {
		logger.Info("environment torn down", "port", port)
	} else {
		logger.Info("environment torn down")
	}
}

// Exec runs a command in the environment.
func (m *Manager) Exec(ctx context.Context, environmentID string, cmd executor.Command) ([]domain.LogLine, error) {
	return m.exec.Exec(ctx, environmentID, cmd)
}

// Tail follows the background process output, replaying the last TailLines
// lines first. The caller must close the returned stream.
func (m *Manager) Tail(ctx context.Context, environmentID string) (io.ReadCloser, error) {
	return m.exec.Stream(ctx, environmentID, executor.TailLine(m.cfg.WorkDir, TailLines))
}

// Status reports whether the environment is running and whether its
// background process has exited.
func (m *Manager) Status(ctx context.Context, environmentID string) (*RuntimeStatus, error) {
	info, err := m.docker.InspectContainer(ctx, environmentID)
	if err != nil {
		if docker.IsNotFound(err) {
			return &RuntimeStatus{}, nil
		}
		return nil, err
	}
	st := &RuntimeStatus{Running: info.Running()}
	if !st.Running {
		return st, nil
	}

	path := executor.StatePath(m.cfg.WorkDir, "exit_code")
	lines, err := m.exec.Exec(ctx, environmentID, executor.Command{Line: "cat " + source.Quote(path) + " 2>/dev/null || true"})
	if err != nil {
		return nil, err
	}
	if len(lines) > 0 {
		if code, convErr := strconv.Atoi(strings.TrimSpace(lines[0].Text)); convErr == nil {
			st.ProcessExited = true
			st.ExitCode = &code
		}
	}
	return st, nil
}

// Running reports whether the environment exists and is running.
func (m *Manager) Running(ctx context.Context, environmentID string) bool {
	info, err := m.docker.InspectContainer(ctx, environmentID)
	return err == nil && info.Running()
}

// Recover re-claims the ports of managed environments that survived a
// restart. It returns the number of environments claimed.
func (m *Manager) Recover(ctx context.Context) (int, error) {
	list, err := m.docker.ListContainers(ctx, docker.ListOptions{
		Filters: map[string]string{"label": docker.LabelManaged + "=true"},
	})
	if err != nil {
		return 0, err
	}

	claimed := 0
	for _, c := range list {
		port, convErr := strconv.Atoi(c.Labels[docker.LabelPort])
		if convErr != nil {
			m.logger.Warn("managed environment without port label", "environment_id", c.ID)
			continue
		}
		if !m.ports.Range().Contains(port) {
			m.logger.Warn("managed environment outside port range", "environment_id", c.ID, "port", port)
			continue
		}
		if m.ports.Claim(port, c.ID) {
			claimed++
		}
	}
	m.logger.Info("recovered environments", "count", claimed)
	return claimed, nil
}
