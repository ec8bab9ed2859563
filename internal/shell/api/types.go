package api

import (
	"time"

	"github.com/R1ck404/mercel/internal/core/domain"
)

// =============================================================================
// Request Types
// =============================================================================

// CreateProjectRequest is the request body for importing a repository.
type CreateProjectRequest struct {
	Owner       string `json:"owner"`
	Name        string `json:"name"`
	RepoURL     string `json:"repo_url"`
	Branch      string `json:"branch,omitempty"`
	AccessToken string `json:"access_token,omitempty"`
}

// AssignDomainRequest is the request body for binding a custom domain.
type AssignDomainRequest struct {
	Domain string `json:"domain"`
}

// =============================================================================
// Response Types
// =============================================================================

// ProjectResponse is the response for project operations.
type ProjectResponse struct {
	ID             string    `json:"id"`
	Owner          string    `json:"owner"`
	Name           string    `json:"name"`
	RepoURL        string    `json:"repo_url"`
	Branch         string    `json:"branch"`
	FullName       string    `json:"full_name,omitempty"`
	EnvironmentID  string    `json:"environment_id,omitempty"`
	Domains        []string  `json:"domains"`
	Port           int       `json:"port,omitempty"`
	WebhookID      int64     `json:"webhook_id,omitempty"`
	HasAccessToken bool      `json:"has_access_token"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// DeployResponse is returned by a successful synchronous deploy.
type DeployResponse struct {
	DeploymentID string `json:"deployment_id"`
	Port         int    `json:"port"`
	Status       string `json:"status"`
}

// DeploymentResponse is a deployment with its build log.
type DeploymentResponse struct {
	ID            string           `json:"id"`
	ProjectID     string           `json:"project_id"`
	Status        string           `json:"status"`
	Trigger       string           `json:"trigger"`
	Revision      domain.Revision  `json:"revision"`
	Port          int              `json:"port,omitempty"`
	EnvironmentID string           `json:"environment_id,omitempty"`
	Logs          []domain.LogLine `json:"logs,omitempty"`
	CreatedAt     time.Time        `json:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at"`
	FinishedAt    *time.Time       `json:"finished_at,omitempty"`
}

// ListDeploymentsResponse is the deployment history of a project. Logs are
// omitted from list entries.
type ListDeploymentsResponse struct {
	Deployments []DeploymentResponse `json:"deployments"`
	Limit       int                  `json:"limit"`
	Offset      int                  `json:"offset"`
}

// StatusResponse reports the project's background process.
type StatusResponse struct {
	EnvironmentID string `json:"environment_id"`
	Running       bool   `json:"running"`
	ProcessExited bool   `json:"process_exited"`
	ExitCode      *int   `json:"exit_code,omitempty"`
}

// WebhookResponse acknowledges a webhook delivery.
type WebhookResponse struct {
	Message      string `json:"message"`
	ProjectID    string `json:"project_id,omitempty"`
	DeploymentID string `json:"deployment_id,omitempty"`
	Port         int    `json:"port,omitempty"`
}

// ErrorResponse is the response for errors.
type ErrorResponse struct {
	Error        string `json:"error"`
	Code         string `json:"code,omitempty"`
	DeploymentID string `json:"deployment_id,omitempty"`
}

// HealthResponse is the response for health check.
type HealthResponse struct {
	Status string `json:"status"`
}

// ReadyResponse is the response for readiness check.
type ReadyResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

// =============================================================================
// Conversions
// =============================================================================

func projectToResponse(p *domain.Project) ProjectResponse {
	domains := p.Binding.Domains
	if domains == nil {
		domains = []string{}
	}
	return ProjectResponse{
		ID:             p.ID,
		Owner:          p.Owner,
		Name:           p.Name,
		RepoURL:        p.Source.RepoURL,
		Branch:         p.Source.Branch,
		FullName:       p.Source.FullName,
		EnvironmentID:  p.EnvironmentID,
		Domains:        domains,
		Port:           p.Binding.Port,
		WebhookID:      p.WebhookID,
		HasAccessToken: p.AccessToken != "",
		CreatedAt:      p.CreatedAt,
		UpdatedAt:      p.UpdatedAt,
	}
}

func deploymentToResponse(d *domain.Deployment, withLogs bool) DeploymentResponse {
	resp := DeploymentResponse{
		ID:            d.ID,
		ProjectID:     d.ProjectID,
		Status:        string(d.Status),
		Trigger:       string(d.Trigger),
		Revision:      d.Revision,
		Port:          d.Port,
		EnvironmentID: d.EnvironmentID,
		CreatedAt:     d.CreatedAt,
		UpdatedAt:     d.UpdatedAt,
		FinishedAt:    d.FinishedAt,
	}
	if withLogs {
		resp.Logs = d.Logs
	}
	return resp
}
