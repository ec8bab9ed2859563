// Package api provides the HTTP API for Mercel.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	coredns "github.com/R1ck404/mercel/internal/core/dns"
	"github.com/R1ck404/mercel/internal/core/domain"
	"github.com/R1ck404/mercel/internal/shell/api/openapi"
	"github.com/R1ck404/mercel/internal/shell/binding"
	"github.com/R1ck404/mercel/internal/shell/controller"
	"github.com/R1ck404/mercel/internal/shell/environment"
	"github.com/R1ck404/mercel/internal/shell/store"
	"github.com/R1ck404/mercel/internal/shell/webhook"
)

// =============================================================================
// Collaborators
// =============================================================================

// Service performs the mutating project operations.
type Service interface {
	CreateProject(ctx context.Context, req controller.ImportRequest) (*domain.Project, error)
	DeleteProject(ctx context.Context, projectID string) error
	Deploy(ctx context.Context, req controller.DeployRequest) (*controller.DeployResult, error)
	AssignDomain(ctx context.Context, projectID, hostname string) (*domain.Project, error)
	RuntimeStatus(ctx context.Context, projectID string) (*environment.RuntimeStatus, error)
	TailLogs(ctx context.Context, projectID string) (io.ReadCloser, error)
}

// Dispatcher handles webhook deliveries.
type Dispatcher interface {
	Dispatch(ctx context.Context, del webhook.Delivery) (*webhook.Result, error)
}

// Pinger reports whether a backend is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Instrumentation wraps the router with request metrics and exposes them.
type Instrumentation interface {
	Middleware(next http.Handler) http.Handler
	Handler() http.Handler
}

// =============================================================================
// Handler
// =============================================================================

// Config wires a Handler. Metrics is optional.
type Config struct {
	Store      store.Store
	Service    Service
	Dispatcher Dispatcher
	Docker     Pinger
	Metrics    Instrumentation
	Logger     *slog.Logger
}

// Handler provides HTTP handlers for the API.
type Handler struct {
	store      store.Store
	svc        Service
	dispatcher Dispatcher
	docker     Pinger
	metrics    Instrumentation
	openapi    *openapi.Generator
	logger     *slog.Logger
}

// NewHandler creates a new API handler.
func NewHandler(cfg Config) *Handler {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	h := &Handler{
		store:      cfg.Store,
		svc:        cfg.Service,
		dispatcher: cfg.Dispatcher,
		docker:     cfg.Docker,
		metrics:    cfg.Metrics,
		openapi:    openapi.NewGenerator(),
		logger:     cfg.Logger.With("component", "api"),
	}
	h.openapi.Register(apiRoutes()...)
	return h
}

// Routes returns the router with all routes configured.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if h.metrics != nil {
		r.Use(h.metrics.Middleware)
	}
	r.Use(h.jsonContentType)
	r.Use(h.requestIDHeader)

	// Health endpoints
	r.Get("/health", h.handleHealth)
	r.Get("/ready", h.handleReady)
	r.Get("/openapi.json", h.openapi.Handler())
	if h.metrics != nil {
		r.Method(http.MethodGet, "/metrics", h.metrics.Handler())
	}

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/projects", func(r chi.Router) {
			r.Post("/", h.handleCreateProject)
			r.Get("/", h.handleListProjects)
			r.Get("/{id}", h.handleGetProject)
			r.Delete("/{id}", h.handleDeleteProject)
			r.Post("/{id}/deploy", h.handleDeploy)
			r.Get("/{id}/deployments", h.handleListDeployments)
			r.Get("/{id}/status", h.handleStatus)
			r.Get("/{id}/logs", h.handleTailLogs)
			r.Get("/{id}/logs/ws", h.handleTailLogsWebSocket)
			r.Post("/{id}/domains", h.handleAssignDomain)
		})

		r.Get("/deployments/{id}", h.handleGetDeployment)
	})

	r.Post("/api/webhook/listen", h.handleWebhook)

	return r
}

// =============================================================================
// Middleware
// =============================================================================

// jsonContentType sets Content-Type header to application/json.
func (h *Handler) jsonContentType(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

// requestIDHeader copies the request ID to the response header.
func (h *Handler) requestIDHeader(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if reqID := middleware.GetReqID(r.Context()); reqID != "" {
			w.Header().Set("X-Request-ID", reqID)
		}
		next.ServeHTTP(w, r)
	})
}

// =============================================================================
// Health Handlers
// =============================================================================

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, HealthResponse{Status: "healthy"})
}

func (h *Handler) handleReady(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string)
	ready := true

	if err := h.store.Ping(r.Context()); err != nil {
		checks["database"] = "failed"
		ready = false
	} else {
		checks["database"] = "ok"
	}

	if err := h.docker.Ping(r.Context()); err != nil {
		checks["docker"] = "failed"
		ready = false
	} else {
		checks["docker"] = "ok"
	}

	if !ready {
		h.writeJSON(w, http.StatusServiceUnavailable, ReadyResponse{Status: "not_ready", Checks: checks})
		return
	}
	h.writeJSON(w, http.StatusOK, ReadyResponse{Status: "ready", Checks: checks})
}

// =============================================================================
// Helpers
// =============================================================================

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("failed to encode JSON", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message, code string) {
	h.writeJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}

// writeServiceError maps an error from the service layer to a response.
func (h *Handler) writeServiceError(w http.ResponseWriter, err error) {
	status, code := errorStatus(err)
	if status == http.StatusInternalServerError {
		h.logger.Error("request failed", "error", err)
	}
	resp := ErrorResponse{Error: err.Error(), Code: code}
	var de *controller.DeployError
	if errors.As(err, &de) {
		resp.DeploymentID = de.DeploymentID
	}
	h.writeJSON(w, status, resp)
}

func errorStatus(err error) (int, string) {
	var de *controller.DeployError
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, domain.ErrInvalidProject),
		errors.Is(err, coredns.ErrInvalidHostname),
		errors.Is(err, coredns.ErrHostnameTooLong):
		return http.StatusBadRequest, "validation_error"
	case errors.Is(err, controller.ErrTokenUnavailable):
		return http.StatusUnprocessableEntity, "token_unavailable"
	case errors.Is(err, coredns.ErrDomainAlreadyExists),
		errors.Is(err, coredns.ErrMaxDomainsReached),
		errors.Is(err, store.ErrDuplicateID),
		errors.Is(err, store.ErrDuplicateWebhook):
		return http.StatusConflict, "conflict"
	case errors.Is(err, controller.ErrNotDeployed):
		return http.StatusConflict, "not_deployed"
	case errors.Is(err, coredns.ErrNotPointingHere):
		return http.StatusUnprocessableEntity, "dns_not_configured"
	case errors.Is(err, binding.ErrBindingFailed):
		return http.StatusBadGateway, "binding_failed"
	case errors.Is(err, domain.ErrInvalidSignature):
		return http.StatusUnauthorized, "invalid_signature"
	case errors.As(err, &de):
		return http.StatusInternalServerError, "deploy_failed"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
