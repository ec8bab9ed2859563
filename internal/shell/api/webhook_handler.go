package api

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/R1ck404/mercel/internal/core/domain"
	"github.com/R1ck404/mercel/internal/shell/webhook"
)

const maxWebhookPayload = 25 << 20

// handleWebhook receives push notifications from the source host. A push to
// the tracked branch is deployed before the response is written.
func (h *Handler) handleWebhook(w http.ResponseWriter, r *http.Request) {
	hookID := r.Header.Get("X-GitHub-Hook-ID")
	if hookID == "" {
		h.writeError(w, http.StatusBadRequest, "Missing X-GitHub-Hook-ID header", "invalid_request")
		return
	}
	signature := r.Header.Get("X-Hub-Signature-256")
	if signature == "" {
		h.writeError(w, http.StatusUnauthorized, "Missing signature", "invalid_signature")
		return
	}

	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookPayload))
	if err != nil {
		h.writeError(w, http.StatusRequestEntityTooLarge, "payload too large", "invalid_request")
		return
	}

	res, err := h.dispatcher.Dispatch(context.WithoutCancel(r.Context()), webhook.Delivery{
		HookID:    hookID,
		Event:     r.Header.Get("X-GitHub-Event"),
		Signature: signature,
		Payload:   payload,
	})

	switch {
	case errors.Is(err, domain.ErrInvalidSignature):
		h.writeError(w, http.StatusUnauthorized, "Invalid signature", "invalid_signature")
	case res != nil && res.Outcome == webhook.OutcomeFailed:
		h.writeDeployError(w, res.Deployment, err)
	case err != nil:
		h.writeServiceError(w, err)
	case res.Outcome == webhook.OutcomeIgnored:
		h.writeJSON(w, http.StatusOK, WebhookResponse{Message: "Event ignored", ProjectID: res.ProjectID})
	default:
		resp := WebhookResponse{Message: "Deployment successful.", ProjectID: res.ProjectID}
		if res.Deployment != nil {
			resp.DeploymentID = res.Deployment.DeploymentID
			resp.Port = res.Deployment.Port
		}
		h.writeJSON(w, http.StatusOK, resp)
	}
}
