package api

import (
	"net/http"

	"github.com/R1ck404/mercel/internal/shell/api/openapi"
)

// apiRoutes describes the API for the OpenAPI document. Keep in sync with
// Routes.
func apiRoutes() []openapi.Route {
	return []openapi.Route{
		{Method: http.MethodGet, Path: "/health", OperationID: "health", Summary: "Liveness probe", Tag: "system", Response: HealthResponse{}},
		{Method: http.MethodGet, Path: "/ready", OperationID: "ready", Summary: "Readiness probe", Tag: "system", Response: ReadyResponse{}},

		{Method: http.MethodPost, Path: "/api/v1/projects", OperationID: "createProject", Summary: "Import a repository", Tag: "projects",
			Request: CreateProjectRequest{}, Response: ProjectResponse{}, Status: http.StatusCreated},
		{Method: http.MethodGet, Path: "/api/v1/projects", OperationID: "listProjects", Summary: "List projects", Tag: "projects",
			Response: []ProjectResponse{}, Query: []string{"owner", "limit", "offset"}},
		{Method: http.MethodGet, Path: "/api/v1/projects/{id}", OperationID: "getProject", Summary: "Get a project", Tag: "projects",
			Response: ProjectResponse{}},
		{Method: http.MethodDelete, Path: "/api/v1/projects/{id}", OperationID: "deleteProject", Summary: "Delete a project and its environment", Tag: "projects",
			Status: http.StatusNoContent},
		{Method: http.MethodPost, Path: "/api/v1/projects/{id}/deploy", OperationID: "deployProject", Summary: "Deploy the tracked branch", Tag: "deployments",
			Response: DeployResponse{}},
		{Method: http.MethodGet, Path: "/api/v1/projects/{id}/deployments", OperationID: "listDeployments", Summary: "List deploy attempts", Tag: "deployments",
			Response: ListDeploymentsResponse{}, Query: []string{"status", "limit", "offset"}},
		{Method: http.MethodGet, Path: "/api/v1/projects/{id}/status", OperationID: "projectStatus", Summary: "Runtime process status", Tag: "runtime",
			Response: StatusResponse{}},
		{Method: http.MethodGet, Path: "/api/v1/projects/{id}/logs", OperationID: "tailLogs", Summary: "Stream runtime logs", Tag: "runtime",
			Response: "", ContentType: "text/plain"},
		{Method: http.MethodGet, Path: "/api/v1/projects/{id}/logs/ws", OperationID: "tailLogsWebSocket", Summary: "Stream runtime logs over a websocket", Tag: "runtime",
			Status: http.StatusSwitchingProtocols},
		{Method: http.MethodPost, Path: "/api/v1/projects/{id}/domains", OperationID: "assignDomain", Summary: "Bind a custom domain", Tag: "domains",
			Request: AssignDomainRequest{}, Response: ProjectResponse{}},
		{Method: http.MethodGet, Path: "/api/v1/deployments/{id}", OperationID: "getDeployment", Summary: "Get a deploy attempt with its log", Tag: "deployments",
			Response: DeploymentResponse{}},

		{Method: http.MethodPost, Path: "/api/webhook/listen", OperationID: "receiveWebhook", Summary: "Receive a push notification", Tag: "webhooks",
			Response: WebhookResponse{}},
	}
}
