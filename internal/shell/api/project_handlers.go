package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/R1ck404/mercel/internal/core/domain"
	"github.com/R1ck404/mercel/internal/shell/controller"
	"github.com/R1ck404/mercel/internal/shell/store"
)

// =============================================================================
// Project Handlers
// =============================================================================

func (h *Handler) handleCreateProject(w http.ResponseWriter, r *http.Request) {
	var req CreateProjectRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body", "invalid_request")
		return
	}

	project, err := h.svc.CreateProject(r.Context(), controller.ImportRequest{
		Owner:       req.Owner,
		Name:        req.Name,
		RepoURL:     req.RepoURL,
		Branch:      req.Branch,
		AccessToken: req.AccessToken,
	})
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, projectToResponse(project))
}

func (h *Handler) handleListProjects(w http.ResponseWriter, r *http.Request) {
	opts, err := listOptions(r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error(), "validation_error")
		return
	}

	projects, err := h.store.ListProjects(r.Context(), store.ProjectFilter{
		Owner:       r.URL.Query().Get("owner"),
		ListOptions: opts,
	})
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	resp := make([]ProjectResponse, 0, len(projects))
	for i := range projects {
		resp = append(resp, projectToResponse(&projects[i]))
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleGetProject(w http.ResponseWriter, r *http.Request) {
	project, err := h.store.GetProject(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, projectToResponse(project))
}

func (h *Handler) handleDeleteProject(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.DeleteProject(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleDeploy runs a deploy attempt synchronously. The attempt outlives a
// disconnected client so that it always reaches a terminal status.
func (h *Handler) handleDeploy(w http.ResponseWriter, r *http.Request) {
	ctx := context.WithoutCancel(r.Context())
	result, err := h.svc.Deploy(ctx, controller.DeployRequest{
		ProjectID: chi.URLParam(r, "id"),
		Trigger:   domain.TriggerManual,
	})
	if err != nil {
		h.writeDeployError(w, result, err)
		return
	}
	h.writeJSON(w, http.StatusOK, DeployResponse{
		DeploymentID: result.DeploymentID,
		Port:         result.Port,
		Status:       string(result.Status),
	})
}

func (h *Handler) writeDeployError(w http.ResponseWriter, result *controller.DeployResult, err error) {
	status, code := errorStatus(err)
	if status == http.StatusInternalServerError {
		h.logger.Error("deploy failed", "error", err)
	}
	resp := ErrorResponse{Error: err.Error(), Code: code}
	if result != nil {
		resp.DeploymentID = result.DeploymentID
	}
	var de *controller.DeployError
	if errors.As(err, &de) {
		resp.DeploymentID = de.DeploymentID
	}
	h.writeJSON(w, status, resp)
}

func (h *Handler) handleAssignDomain(w http.ResponseWriter, r *http.Request) {
	var req AssignDomainRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body", "invalid_request")
		return
	}
	if req.Domain == "" {
		h.writeError(w, http.StatusBadRequest, "domain is required", "validation_error")
		return
	}

	project, err := h.svc.AssignDomain(r.Context(), chi.URLParam(r, "id"), req.Domain)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, projectToResponse(project))
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "id")
	project, err := h.store.GetProject(r.Context(), projectID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	st, err := h.svc.RuntimeStatus(r.Context(), projectID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, StatusResponse{
		EnvironmentID: project.EnvironmentID,
		Running:       st.Running,
		ProcessExited: st.ProcessExited,
		ExitCode:      st.ExitCode,
	})
}

// =============================================================================
// Deployment Handlers
// =============================================================================

func (h *Handler) handleListDeployments(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "id")
	if _, err := h.store.GetProject(r.Context(), projectID); err != nil {
		h.writeServiceError(w, err)
		return
	}

	opts, err := listOptions(r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error(), "validation_error")
		return
	}
	filter := store.DeploymentFilter{ProjectID: projectID, ListOptions: opts}
	if s := r.URL.Query().Get("status"); s != "" {
		status, err := domain.ParseDeploymentStatus(s)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, err.Error(), "validation_error")
			return
		}
		filter.Status = status
	}

	deployments, err := h.store.ListDeployments(r.Context(), filter)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	resp := ListDeploymentsResponse{
		Deployments: make([]DeploymentResponse, 0, len(deployments)),
		Limit:       opts.Limit,
		Offset:      opts.Offset,
	}
	for i := range deployments {
		resp.Deployments = append(resp.Deployments, deploymentToResponse(&deployments[i], false))
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleGetDeployment(w http.ResponseWriter, r *http.Request) {
	d, err := h.store.GetDeployment(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, deploymentToResponse(d, true))
}

// listOptions reads limit and offset, falling back to the store defaults.
func listOptions(r *http.Request) (store.ListOptions, error) {
	opts := store.DefaultListOptions()
	q := r.URL.Query()
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 1000 {
			return opts, errors.New("limit must be between 1 and 1000")
		}
		opts.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return opts, errors.New("offset must be a non-negative integer")
		}
		opts.Offset = n
	}
	return opts, nil
}
