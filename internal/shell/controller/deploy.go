package controller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/R1ck404/mercel/internal/core/domain"
	"github.com/R1ck404/mercel/internal/core/framework"
	"github.com/R1ck404/mercel/internal/core/source"
	"github.com/R1ck404/mercel/internal/shell/environment"
	"github.com/R1ck404/mercel/internal/shell/executor"
)

// DeployRequest starts one deploy attempt. A nil Revision means "whatever the
// tracked branch points at"; the controller looks it up best-effort.
type DeployRequest struct {
	ProjectID string
	Trigger   domain.Trigger
	Revision  *domain.Revision
}

// DeployResult identifies the attempt. It is returned alongside the error of
// a failed attempt whenever a deployment record was created.
type DeployResult struct {
	DeploymentID string                  `json:"deployment_id"`
	Port         int                     `json:"port,omitempty"`
	Status       domain.DeploymentStatus `json:"status"`
}

// Deploy runs one attempt synchronously. The deployment is persisted BUILDING
// before the project lock is taken, so a queued attempt is visible while it
// waits. Step-level detail lives in the deployment log; the returned error
// carries a single redacted message.
func (c *Controller) Deploy(ctx context.Context, req DeployRequest) (*DeployResult, error) {
	project, err := c.store.GetProject(ctx, req.ProjectID)
	if err != nil {
		return nil, err
	}
	token, err := c.openToken(project)
	if err != nil {
		return nil, err
	}
	if req.Trigger == "" {
		req.Trigger = domain.TriggerManual
	}

	d := domain.NewDeployment(project.ID, req.Trigger, c.resolveRevision(ctx, project, req, token))
	if err := c.store.CreateDeployment(ctx, d); err != nil {
		return nil, err
	}

	logger := c.logger.With("project_id", project.ID, "deployment_id", d.ID)
	logger.Info("deployment started", "trigger", d.Trigger, "sha", d.Revision.SHA)

	// Records are written even if the caller has gone away.
	persist := context.WithoutCancel(ctx)
	a := &attempt{c: c, d: d, persist: persist, logger: logger, token: token}

	unlock, err := c.locks.Lock(ctx, project.ID)
	if err != nil {
		a.fail(fmt.Errorf("deploy aborted while waiting for a previous deploy: %w", err))
		return a.result(), err
	}
	defer unlock()

	start := time.Now()
	defer func() {
		if c.recorder != nil {
			c.recorder.ObserveDeploy(d.Status, d.Trigger, time.Since(start))
		}
	}()

	// Reload: the attempt that held the lock may have rebound the project.
	project, err = c.store.GetProject(ctx, project.ID)
	if err != nil {
		a.fail(err)
		return a.result(), err
	}

	env, err := a.run(ctx, project, req.Revision != nil)
	if err != nil {
		// A running environment stays up for inspection and the project
		// points at it.
		if env != nil {
			d.Attach(env.ID, env.Port)
			project.Bind(env.ID, env.Port)
			if uerr := c.store.UpdateProject(persist, project); uerr != nil {
				logger.Error("failed to bind project to broken environment", "error", uerr)
			}
		}
		err = a.abort(err)
		return a.result(), err
	}

	prevPort := project.Binding.Port
	project.Bind(env.ID, env.Port)
	if err := c.store.UpdateProject(persist, project); err != nil {
		logger.Error("failed to bind project", "error", err)
		d.Logf("Removing environment %s", shortID(env.ID))
		c.envs.Teardown(persist, env.ID)
		err = a.abort(fmt.Errorf("bind project to environment: %w", err))
		return a.result(), err
	}

	c.rebindDomains(ctx, project, d, prevPort, env.Port)

	if err := d.MarkReady(env.ID, env.Port); err != nil {
		return a.result(), err
	}
	a.save()
	logger.Info("deployment ready", "environment_id", env.ID, "port", env.Port, "duration", time.Since(start))

	if req.Trigger == domain.TriggerManual {
		c.ensureWebhook(persist, project, token, logger)
	}
	return a.result(), nil
}

// attempt carries the state of one deploy while the project lock is held.
type attempt struct {
	c       *Controller
	d       *domain.Deployment
	persist context.Context
	logger  *slog.Logger
	token   string
}

// run executes the pipeline. It returns the new environment whenever one was
// created, even on failure.
func (a *attempt) run(ctx context.Context, project *domain.Project, pinned bool) (*environment.Environment, error) {
	c, d := a.c, a.d

	port, err := c.ports.Reserve()
	if err != nil {
		return nil, err
	}
	d.Logf("Reserved port %d", port)
	a.save()

	if project.HasEnvironment() {
		d.Logf("Removing previous environment %s", shortID(project.EnvironmentID))
		c.envs.Teardown(a.persist, project.EnvironmentID)
	}

	env, err := c.envs.Create(ctx, environment.Spec{ProjectID: project.ID, ProjectName: project.Name, Port: port})
	if err != nil {
		c.ports.Release(port)
		return nil, err
	}
	d.Logf("Created environment %s", shortID(env.ID))
	a.save()

	cloneURL, err := source.AuthenticatedURL(project.Source.RepoURL, a.token)
	if err != nil {
		return env, err
	}
	workDir := c.cfg.WorkDir
	steps := []executor.Command{
		{Line: source.PrepareCommand(workDir)},
		{Line: c.cfg.SCMInstallCommand},
		{Line: source.CloneCommand(cloneURL, project.Source.Branch, workDir)},
	}
	if pinned && d.Revision.SHA != "" {
		steps = append(steps, executor.Command{Line: source.CheckoutCommand(workDir, d.Revision.SHA)})
	}
	for _, cmd := range steps {
		if _, err := a.exec(ctx, env.ID, cmd); err != nil {
			return env, err
		}
	}

	manifest, err := a.exec(ctx, env.ID, executor.Command{Line: source.ReadFileCommand(workDir, framework.ManifestFile)})
	if err != nil {
		return env, err
	}
	plan, err := c.detector.Detect(joinLines(manifest), port)
	if err != nil {
		return env, err
	}
	d.Logf("Detected framework: %s", plan.Framework)

	install := executor.Command{Line: plan.Install, Dir: workDir}
	if _, err := a.exec(ctx, env.ID, install); err != nil {
		return env, err
	}

	run := executor.Command{
		Line:       plan.Run,
		Background: true,
		Dir:        workDir,
		Env:        []string{fmt.Sprintf("PORT=%d", port)},
	}
	if _, err := a.exec(ctx, env.ID, run); err != nil {
		return env, err
	}
	return env, nil
}

// exec runs cmd and appends its output to the deployment log, including the
// output of a failing command.
func (a *attempt) exec(ctx context.Context, environmentID string, cmd executor.Command) ([]domain.LogLine, error) {
	if a.token != "" {
		cmd.Secrets = append(cmd.Secrets, a.token)
	}
	lines, err := a.c.envs.Exec(ctx, environmentID, cmd)
	a.d.AppendLogs(lines...)
	a.save()
	return lines, err
}

func (a *attempt) fail(err error) {
	msg := a.redact(err).Error()
	if ferr := a.d.Fail(firstLine(msg)); ferr != nil {
		a.logger.Error("failed to mark deployment failed", "error", ferr)
	}
	a.save()
}

// abort marks the attempt ERROR and wraps err for the caller.
func (a *attempt) abort(err error) error {
	err = a.redact(err)
	a.fail(err)
	msg := firstLine(err.Error())
	a.logger.Warn("deployment failed", "error", msg)
	return &DeployError{DeploymentID: a.d.ID, Message: msg, Err: err}
}

func (a *attempt) redact(err error) error {
	if a.token == "" {
		return err
	}
	msg := err.Error()
	if red := source.Redact(msg, a.token); red != msg {
		return errors.New(red)
	}
	return err
}

func (a *attempt) save() {
	if err := a.c.store.UpdateDeployment(a.persist, a.d); err != nil {
		a.logger.Error("failed to persist deployment", "error", err)
	}
}

func (a *attempt) result() *DeployResult {
	return &DeployResult{DeploymentID: a.d.ID, Port: a.d.Port, Status: a.d.Status}
}

// resolveRevision uses the trigger's revision when it has one and otherwise
// asks the hosting service for the head of the tracked branch. Lookup failures
// leave the revision empty.
func (c *Controller) resolveRevision(ctx context.Context, project *domain.Project, req DeployRequest, token string) domain.Revision {
	if req.Revision != nil {
		return *req.Revision
	}
	rev := domain.Revision{Branch: project.Source.Branch}
	if c.host == nil || project.Source.FullName == "" {
		return rev
	}
	latest, err := c.host.LatestCommit(ctx, project.Source.FullName, project.Source.Branch, token)
	if err != nil {
		c.logger.Warn("failed to look up latest commit", "project_id", project.ID, "error", source.Redact(err.Error(), token))
		return rev
	}
	if latest.Branch == "" {
		latest.Branch = project.Source.Branch
	}
	return latest
}

// rebindDomains points the project's domains at the new port. Failures are
// recorded in the deployment log and never fail the attempt.
func (c *Controller) rebindDomains(ctx context.Context, project *domain.Project, d *domain.Deployment, prevPort, port int) {
	if c.binder == nil || port == prevPort {
		return
	}
	for _, host := range project.Binding.Domains {
		if err := c.binder.RequestBinding(ctx, host, port); err != nil {
			d.Logf("Warning: failed to bind %s to port %d: %v", host, port, err)
			continue
		}
		d.Logf("Bound %s to port %d", host, port)
	}
}

// ensureWebhook registers a push webhook for a project that has none.
// Failures are logged only.
func (c *Controller) ensureWebhook(ctx context.Context, project *domain.Project, token string, logger *slog.Logger) {
	if project.WebhookID != 0 || c.host == nil || c.cfg.WebhookURL == "" || project.Source.FullName == "" {
		return
	}
	if token == "" {
		logger.Debug("skipping webhook registration without access token")
		return
	}
	id, err := c.host.CreateWebhook(ctx, project.Source.FullName, c.cfg.WebhookURL, c.cfg.WebhookSecret, token)
	if err != nil {
		logger.Warn("failed to register webhook", "error", source.Redact(err.Error(), token))
		return
	}
	project.WebhookID = id
	if err := c.store.UpdateProject(ctx, project); err != nil {
		logger.Error("failed to store webhook id", "webhook_id", id, "error", err)
		return
	}
	logger.Info("webhook registered", "webhook_id", id)
}

func joinLines(lines []domain.LogLine) string {
	var b strings.Builder
	for _, l := range lines {
		b.WriteString(l.Text)
		b.WriteByte('\n')
	}
	return b.String()
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
