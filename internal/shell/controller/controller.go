// Package controller runs deploy attempts end to end and owns every mutation
// of a project's live environment.
package controller

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/R1ck404/mercel/internal/core/crypto"
	coredns "github.com/R1ck404/mercel/internal/core/dns"
	"github.com/R1ck404/mercel/internal/core/domain"
	"github.com/R1ck404/mercel/internal/core/framework"
	"github.com/R1ck404/mercel/internal/shell/environment"
	"github.com/R1ck404/mercel/internal/shell/executor"
	"github.com/R1ck404/mercel/internal/shell/store"
)

// =============================================================================
// Errors
// =============================================================================

var (
	// ErrNotDeployed is returned for operations that need a live environment.
	ErrNotDeployed = errors.New("project has no deployed environment")

	// ErrTokenUnavailable is returned when an access token is supplied or
	// stored but no sealing key is configured.
	ErrTokenUnavailable = errors.New("access tokens require security.token_key")
)

// DeployError is returned by a failed deploy attempt. Message is the first
// line of the redacted cause; the full detail is in the deployment log.
type DeployError struct {
	DeploymentID string
	Message      string
	Err          error
}

func (e *DeployError) Error() string { return e.Message }
func (e *DeployError) Unwrap() error { return e.Err }

// =============================================================================
// Collaborators
// =============================================================================

// Environments creates, tears down and runs commands in execution
// environments.
type Environments interface {
	Create(ctx context.Context, spec environment.Spec) (*environment.Environment, error)
	Teardown(ctx context.Context, environmentID string)
	Exec(ctx context.Context, environmentID string, cmd executor.Command) ([]domain.LogLine, error)
	Status(ctx context.Context, environmentID string) (*environment.RuntimeStatus, error)
	Tail(ctx context.Context, environmentID string) (io.ReadCloser, error)
}

// PortAllocator reserves host ports.
type PortAllocator interface {
	Reserve() (int, error)
	Release(port int)
}

// SourceHost is the repository hosting service.
type SourceHost interface {
	LatestCommit(ctx context.Context, fullName, branch, token string) (domain.Revision, error)
	CreateWebhook(ctx context.Context, fullName, hookURL, secret, token string) (int64, error)
	DeleteWebhook(ctx context.Context, fullName string, hookID int64, token string) error
}

// Binder requests and releases domain bindings.
type Binder interface {
	RequestBinding(ctx context.Context, domain string, port int) error
	ReleaseBinding(ctx context.Context, domain string) error
}

// DomainChecker confirms a hostname points at this server.
type DomainChecker interface {
	Check(ctx context.Context, hostname string) error
}

// Recorder observes finished deploy attempts.
type Recorder interface {
	ObserveDeploy(status domain.DeploymentStatus, trigger domain.Trigger, d time.Duration)
}

// =============================================================================
// Controller
// =============================================================================

// Config configures the Controller.
type Config struct {
	WorkDir           string
	SCMInstallCommand string
	WebhookURL        string // public URL of the webhook endpoint; empty disables registration
	WebhookSecret     string
	TokenKey          []byte // nil disables access tokens
}

// DefaultSCMInstallCommand installs git on the alpine base image.
const DefaultSCMInstallCommand = "apk update && apk add --no-cache git"

// Deps bundles the Controller's collaborators. Host, Binder, Checker and
// Recorder are optional.
type Deps struct {
	Store        store.Store
	Environments Environments
	Ports        PortAllocator
	Detector     *framework.Detector
	Host         SourceHost
	Binder       Binder
	Checker      DomainChecker
	Recorder     Recorder
}

// Controller orchestrates deploys. Attempts for one project are serialized;
// attempts for different projects run concurrently.
type Controller struct {
	store    store.Store
	envs     Environments
	ports    PortAllocator
	detector *framework.Detector
	host     SourceHost
	binder   Binder
	checker  DomainChecker
	recorder Recorder
	cfg      Config
	locks    *lockTable
	logger   *slog.Logger
}

// New creates a Controller.
func New(deps Deps, cfg Config, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.WorkDir == "" {
		cfg.WorkDir = environment.DefaultConfig().WorkDir
	}
	if cfg.SCMInstallCommand == "" {
		cfg.SCMInstallCommand = DefaultSCMInstallCommand
	}
	if deps.Detector == nil {
		deps.Detector = framework.NewDetector()
	}
	return &Controller{
		store:    deps.Store,
		envs:     deps.Environments,
		ports:    deps.Ports,
		detector: deps.Detector,
		host:     deps.Host,
		binder:   deps.Binder,
		checker:  deps.Checker,
		recorder: deps.Recorder,
		cfg:      cfg,
		locks:    newLockTable(),
		logger:   logger.With("component", "controller"),
	}
}

// =============================================================================
// Projects
// =============================================================================

// ImportRequest describes a repository to import.
type ImportRequest struct {
	Owner       string
	Name        string
	RepoURL     string
	Branch      string
	AccessToken string
}

// CreateProject validates and persists a new project. The access token, if
// any, is stored sealed.
func (c *Controller) CreateProject(ctx context.Context, req ImportRequest) (*domain.Project, error) {
	project, err := domain.NewProject(req.Owner, req.Name, req.RepoURL, req.Branch)
	if err != nil {
		return nil, err
	}
	if req.AccessToken != "" {
		if c.cfg.TokenKey == nil {
			return nil, ErrTokenUnavailable
		}
		sealed, err := crypto.SealToken(req.AccessToken, c.cfg.TokenKey)
		if err != nil {
			return nil, fmt.Errorf("seal access token: %w", err)
		}
		project.AccessToken = sealed
	}
	if err := c.store.CreateProject(ctx, project); err != nil {
		return nil, err
	}
	c.logger.Info("project imported", "project_id", project.ID, "repo", project.Source.FullName, "branch", project.Source.Branch)
	return project, nil
}

// DeleteProject tears down the project's environment, releases its domains
// and webhook, and removes it with its deployment history. Only the record
// deletion can fail the call.
func (c *Controller) DeleteProject(ctx context.Context, projectID string) error {
	unlock, err := c.locks.Lock(ctx, projectID)
	if err != nil {
		return err
	}
	defer unlock()

	project, err := c.store.GetProject(ctx, projectID)
	if err != nil {
		return err
	}
	logger := c.logger.With("project_id", projectID)
	cleanup := context.WithoutCancel(ctx)

	if project.HasEnvironment() {
		c.envs.Teardown(cleanup, project.EnvironmentID)
	}
	if c.binder != nil {
		for _, d := range project.Binding.Domains {
			if err := c.binder.ReleaseBinding(cleanup, d); err != nil {
				logger.Warn("failed to release domain binding", "domain", d, "error", err)
			}
		}
	}
	if project.WebhookID != 0 && c.host != nil {
		token, err := c.openToken(project)
		if err == nil {
			err = c.host.DeleteWebhook(cleanup, project.Source.FullName, project.WebhookID, token)
		}
		if err != nil {
			logger.Warn("failed to delete webhook", "webhook_id", project.WebhookID, "error", err)
		}
	}

	var removed int64
	err = c.store.WithTx(ctx, func(tx store.Store) error {
		n, err := tx.DeleteDeploymentsByProject(ctx, projectID)
		if err != nil {
			return err
		}
		removed = n
		return tx.DeleteProject(ctx, projectID)
	})
	if err != nil {
		return err
	}
	logger.Info("project deleted", "deployments", removed)
	return nil
}

// AssignDomain binds hostname to the project's current port. The hostname
// must resolve to this server when a checker is configured.
func (c *Controller) AssignDomain(ctx context.Context, projectID, hostname string) (*domain.Project, error) {
	hostname = coredns.NormalizeHostname(hostname)
	if err := coredns.ValidateHostname(hostname); err != nil {
		return nil, err
	}

	unlock, err := c.locks.Lock(ctx, projectID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	project, err := c.store.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if err := coredns.CanAddDomain(project.Binding.Domains, hostname); err != nil {
		return nil, err
	}
	if project.Binding.Port == 0 {
		return nil, ErrNotDeployed
	}
	if c.checker != nil {
		if err := c.checker.Check(ctx, hostname); err != nil {
			return nil, err
		}
	}
	if c.binder != nil {
		if err := c.binder.RequestBinding(ctx, hostname, project.Binding.Port); err != nil {
			return nil, err
		}
	}

	project.AddDomain(hostname)
	if err := c.store.UpdateProject(ctx, project); err != nil {
		return nil, err
	}
	c.logger.Info("domain assigned", "project_id", projectID, "domain", hostname, "port", project.Binding.Port)
	return project, nil
}

// RuntimeStatus reports the state of the project's background process.
func (c *Controller) RuntimeStatus(ctx context.Context, projectID string) (*environment.RuntimeStatus, error) {
	project, err := c.store.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if !project.HasEnvironment() {
		return nil, ErrNotDeployed
	}
	return c.envs.Status(ctx, project.EnvironmentID)
}

// TailLogs follows the runtime output of the project's environment until ctx
// is done or the environment dies. The caller must close the stream.
func (c *Controller) TailLogs(ctx context.Context, projectID string) (io.ReadCloser, error) {
	project, err := c.store.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if !project.HasEnvironment() {
		return nil, ErrNotDeployed
	}
	return c.envs.Tail(ctx, project.EnvironmentID)
}

// recoverPageSize bounds each BUILDING query during recovery.
var recoverPageSize = 1000

// RecoverInterrupted cancels deployments a previous process left BUILDING.
// Canceled records drop out of the query, so every page restarts at the
// first record that could not be canceled.
func (c *Controller) RecoverInterrupted(ctx context.Context) (int, error) {
	canceled, skipped := 0, 0
	for {
		stale, err := c.store.ListDeployments(ctx, store.DeploymentFilter{
			Status:      domain.StatusBuilding,
			ListOptions: store.ListOptions{Limit: recoverPageSize, Offset: skipped},
		})
		if err != nil {
			return canceled, err
		}
		if len(stale) == 0 {
			break
		}
		for i := range stale {
			d := &stale[i]
			if err := d.Cancel("process restarted"); err != nil {
				skipped++
				continue
			}
			if err := c.store.UpdateDeployment(ctx, d); err != nil {
				return canceled, err
			}
			canceled++
		}
	}
	if canceled > 0 {
		c.logger.Info("canceled interrupted deployments", "count", canceled)
	}
	return canceled, nil
}

func (c *Controller) openToken(project *domain.Project) (string, error) {
	if project.AccessToken == "" {
		return "", nil
	}
	if c.cfg.TokenKey == nil {
		return "", ErrTokenUnavailable
	}
	return crypto.OpenToken(project.AccessToken, c.cfg.TokenKey)
}

// firstLine returns the first line of an error message.
func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
