// Package webhook turns verified push notifications into deploys.
package webhook

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/R1ck404/mercel/internal/core/domain"
	corewebhook "github.com/R1ck404/mercel/internal/core/webhook"
	"github.com/R1ck404/mercel/internal/shell/controller"
	"github.com/R1ck404/mercel/internal/shell/store"
)

// EventPush is the only event type that triggers a deploy.
const EventPush = "push"

// Outcome describes what a delivery caused.
type Outcome string

const (
	OutcomeDeployed Outcome = "deployed"
	OutcomeFailed   Outcome = "failed"
	OutcomeIgnored  Outcome = "ignored"
	OutcomeRejected Outcome = "rejected"
)

// Delivery is one inbound webhook request.
type Delivery struct {
	HookID    string // X-GitHub-Hook-ID
	Event     string // X-GitHub-Event; empty is treated as a push
	Signature string // X-Hub-Signature-256
	Payload   []byte
}

// Result reports the outcome of a delivery. Deployment is set whenever a
// deploy attempt was started.
type Result struct {
	Outcome    Outcome
	Reason     string
	ProjectID  string
	Deployment *controller.DeployResult
}

// Deployer runs a deploy attempt.
type Deployer interface {
	Deploy(ctx context.Context, req controller.DeployRequest) (*controller.DeployResult, error)
}

// ProjectLookup resolves a webhook id to its project.
type ProjectLookup interface {
	GetProjectByWebhookID(ctx context.Context, webhookID int64) (*domain.Project, error)
}

// Observer counts delivery outcomes.
type Observer interface {
	ObserveWebhook(result string)
}

// Dispatcher verifies deliveries and triggers redeploys.
type Dispatcher struct {
	secret   string
	projects ProjectLookup
	deployer Deployer
	observer Observer
	logger   *slog.Logger
}

// NewDispatcher creates a Dispatcher. observer may be nil.
func NewDispatcher(secret string, projects ProjectLookup, deployer Deployer, observer Observer, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		secret:   secret,
		projects: projects,
		deployer: deployer,
		observer: observer,
		logger:   logger.With("component", "webhook_dispatcher"),
	}
}

// Dispatch handles one delivery. The signature is checked before anything
// else; a bad one returns domain.ErrInvalidSignature. Deliveries that should
// not deploy are acknowledged with OutcomeIgnored and no error. A failed
// deploy returns OutcomeFailed together with the deploy error.
func (d *Dispatcher) Dispatch(ctx context.Context, del Delivery) (*Result, error) {
	if !corewebhook.Verify(del.Payload, del.Signature, d.secret) {
		d.observe(OutcomeRejected)
		d.logger.Warn("rejected webhook with invalid signature", "hook_id", del.HookID)
		return &Result{Outcome: OutcomeRejected, Reason: "invalid signature"}, domain.ErrInvalidSignature
	}

	if del.Event != "" && del.Event != EventPush {
		return d.ignore(del, "event "+del.Event+" is not a push"), nil
	}

	hookID, err := strconv.ParseInt(del.HookID, 10, 64)
	if err != nil || hookID <= 0 {
		return d.ignore(del, "missing or malformed hook id"), nil
	}

	push, err := corewebhook.ParsePush(del.Payload)
	if err != nil {
		return d.ignore(del, err.Error()), nil
	}

	project, err := d.projects.GetProjectByWebhookID(ctx, hookID)
	if errors.Is(err, store.ErrNotFound) {
		return d.ignore(del, "no project for hook"), nil
	}
	if err != nil {
		return nil, fmt.Errorf("resolve webhook %d: %w", hookID, err)
	}

	if !push.Targets(project.Source.TrackedRef()) {
		res := d.ignore(del, "push to "+push.Ref+" is not the tracked branch")
		res.ProjectID = project.ID
		return res, nil
	}

	rev := push.Revision()
	d.logger.Info("push received", "project_id", project.ID, "ref", push.Ref, "sha", rev.SHA)

	deployment, err := d.deployer.Deploy(ctx, controller.DeployRequest{
		ProjectID: project.ID,
		Trigger:   domain.TriggerWebhook,
		Revision:  &rev,
	})
	res := &Result{ProjectID: project.ID, Deployment: deployment}
	if err != nil {
		res.Outcome = OutcomeFailed
		res.Reason = err.Error()
		d.observe(OutcomeFailed)
		return res, err
	}
	res.Outcome = OutcomeDeployed
	d.observe(OutcomeDeployed)
	return res, nil
}

func (d *Dispatcher) ignore(del Delivery, reason string) *Result {
	d.observe(OutcomeIgnored)
	d.logger.Debug("webhook ignored", "hook_id", del.HookID, "reason", reason)
	return &Result{Outcome: OutcomeIgnored, Reason: reason}
}

func (d *Dispatcher) observe(o Outcome) {
	if d.observer != nil {
		d.observer.ObserveWebhook(string(o))
	}
}
