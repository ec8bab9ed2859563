package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/R1ck404/mercel/internal/core/crypto"
	"github.com/R1ck404/mercel/internal/core/framework"
	coreports "github.com/R1ck404/mercel/internal/core/ports"
	"github.com/R1ck404/mercel/internal/shell/api"
	"github.com/R1ck404/mercel/internal/shell/binding"
	"github.com/R1ck404/mercel/internal/shell/controller"
	"github.com/R1ck404/mercel/internal/shell/dns"
	"github.com/R1ck404/mercel/internal/shell/docker"
	"github.com/R1ck404/mercel/internal/shell/environment"
	"github.com/R1ck404/mercel/internal/shell/executor"
	"github.com/R1ck404/mercel/internal/shell/github"
	"github.com/R1ck404/mercel/internal/shell/metrics"
	"github.com/R1ck404/mercel/internal/shell/ports"
	"github.com/R1ck404/mercel/internal/shell/store"
	"github.com/R1ck404/mercel/internal/shell/webhook"
	"github.com/R1ck404/mercel/internal/shell/workers"
)

// =============================================================================
// Exit Codes
// =============================================================================

const (
	ExitSuccess         = 0
	ExitConfigError     = 1
	ExitDatabaseError   = 2
	ExitDockerError     = 3
	ExitHTTPServerError = 4
)

// =============================================================================
// Server
// =============================================================================

// Server represents the Mercel application server.
type Server struct {
	config     *Config
	httpServer *http.Server
	store      store.Store
	docker     docker.Client
	envs       *environment.Manager
	controller *controller.Controller
	watcher    *workers.EnvironmentWatcher
	logger     *slog.Logger
}

// NewServer connects the backends and wires the components.
func NewServer(ctx context.Context, cfg *Config, logger *slog.Logger) (*Server, error) {
	var tokenKey []byte
	if cfg.Security.TokenKey != "" {
		key, err := crypto.DeriveKey(cfg.Security.TokenKey)
		if err != nil {
			return nil, configError(err)
		}
		tokenKey = key
	} else {
		logger.Warn("security.token_key not set, private repositories are disabled")
	}
	if cfg.Webhook.Secret == "" {
		logger.Warn("webhook.secret not set, every webhook delivery will be rejected")
	}

	detector, err := loadDetector(cfg.Deploy.FrameworkRules)
	if err != nil {
		return nil, configError(err)
	}

	// Connect to database
	s, err := store.NewSQLiteStore(cfg.Database.DSN)
	if err != nil {
		return nil, &ServerError{Op: "NewServer", Err: err, ExitCode: ExitDatabaseError}
	}

	// Connect to Docker
	d, err := docker.NewDockerClient(ctx, cfg.Docker.Host)
	if err != nil {
		s.Close()
		return nil, &ServerError{Op: "NewServer", Err: err, ExitCode: ExitDockerError}
	}
	if err := d.Ping(ctx); err != nil {
		s.Close()
		d.Close()
		return nil, &ServerError{Op: "NewServer", Err: err, ExitCode: ExitDockerError}
	}

	alloc, err := ports.NewAllocator(coreports.Range{
		Low:  cfg.Deploy.PortRangeLow,
		High: cfg.Deploy.PortRangeHigh,
	}, logger)
	if err != nil {
		s.Close()
		d.Close()
		return nil, configError(err)
	}

	exec := executor.New(d, executor.Config{
		WorkDir: cfg.Deploy.WorkDir,
		Timeout: cfg.Deploy.ExecTimeout,
	}, logger)

	envCfg := environment.DefaultConfig()
	envCfg.Image = cfg.Deploy.BaseImage
	envCfg.WorkDir = cfg.Deploy.WorkDir
	envs := environment.NewManager(d, exec, alloc, envCfg, logger)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg, alloc.InUse)

	var serverIPs []string
	if cfg.Binding.ServerIP != "" {
		serverIPs = append(serverIPs, cfg.Binding.ServerIP)
	}

	ctrl := controller.New(controller.Deps{
		Store:        s,
		Environments: envs,
		Ports:        alloc,
		Detector:     detector,
		Host:         github.NewClient(github.Config{BaseURL: cfg.GitHub.APIURL, Timeout: cfg.GitHub.Timeout}, logger),
		Binder: binding.New(binding.Config{
			BaseURL: cfg.Binding.ProvisionerURL,
			APIKey:  cfg.Binding.APIKey,
			Timeout: cfg.Binding.Timeout,
		}, logger),
		Checker:  dns.NewChecker(dns.NewResolver(), cfg.Binding.CanonicalHost, serverIPs...),
		Recorder: m,
	}, controller.Config{
		WorkDir:           cfg.Deploy.WorkDir,
		SCMInstallCommand: cfg.Deploy.SCMInstallCommand,
		WebhookURL:        cfg.Webhook.HookURL(),
		WebhookSecret:     cfg.Webhook.Secret,
		TokenKey:          tokenKey,
	}, logger)

	dispatcher := webhook.NewDispatcher(cfg.Webhook.Secret, s, ctrl, m, logger)

	handler := api.NewHandler(api.Config{
		Store:      s,
		Service:    ctrl,
		Dispatcher: dispatcher,
		Docker:     d,
		Metrics:    m,
		Logger:     logger,
	})

	watcher := workers.NewEnvironmentWatcher(d, alloc, func(ctx context.Context, environmentID string, port int) {
		logger.Warn("environment died", "environment_id", environmentID, "port", port)
	}, workers.EnvironmentWatcherConfig{}, logger)

	httpServer := &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      handler.Routes(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	return &Server{
		config:     cfg,
		httpServer: httpServer,
		store:      s,
		docker:     d,
		envs:       envs,
		controller: ctrl,
		watcher:    watcher,
		logger:     logger,
	}, nil
}

// Start reconciles state left by a previous process, starts the workers and
// the HTTP server, and blocks until shutdown.
func (s *Server) Start(ctx context.Context) error {
	// Setup signal handling
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	if err := s.reconcile(ctx); err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting HTTP server", "address", s.config.Server.Address())
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Wait for shutdown signal or error
	select {
	case sig := <-sigCh:
		s.logger.Info("received shutdown signal", "signal", sig)
	case err := <-errCh:
		s.Shutdown(context.Background())
		return &ServerError{Op: "Start", Err: err, ExitCode: ExitHTTPServerError}
	case <-ctx.Done():
		s.logger.Info("context cancelled")
	}

	return s.Shutdown(context.Background())
}

// Shutdown gracefully shuts down the server. Running environments are left
// up and reclaimed on the next start.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("initiating graceful shutdown")

	shutdownCtx, cancel := context.WithTimeout(ctx, s.config.Server.ShutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("HTTP server shutdown error", "error", err)
	}

	s.watcher.Stop()

	if err := s.docker.Close(); err != nil {
		s.logger.Error("Docker client close error", "error", err)
	}
	if err := s.store.Close(); err != nil {
		s.logger.Error("database close error", "error", err)
	}

	s.logger.Info("shutdown complete")
	return nil
}

// reconcile subscribes the watcher before reclaiming ports, so an environment
// that dies while its port is reclaimed is still released.
func (s *Server) reconcile(ctx context.Context) error {
	s.watcher.Start()

	if n, err := s.envs.Recover(ctx); err != nil {
		s.logger.Error("failed to reclaim running environments", "error", err)
	} else {
		s.logger.Info("reclaimed running environments", "count", n)
	}
	if _, err := s.controller.RecoverInterrupted(ctx); err != nil {
		s.watcher.Stop()
		return &ServerError{Op: "Start", Err: err, ExitCode: ExitDatabaseError}
	}
	return nil
}

func loadDetector(path string) (*framework.Detector, error) {
	if path == "" {
		return framework.NewDetector(), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open framework rules: %w", err)
	}
	defer f.Close()
	rules, err := framework.LoadRules(f)
	if err != nil {
		return nil, err
	}
	return framework.NewDetector(rules...), nil
}

// =============================================================================
// Server Error
// =============================================================================

// ServerError represents an error during server operation.
type ServerError struct {
	Op       string
	Err      error
	ExitCode int
}

func (e *ServerError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *ServerError) Unwrap() error {
	return e.Err
}

func configError(err error) *ServerError {
	return &ServerError{Op: "NewServer", Err: err, ExitCode: ExitConfigError}
}
