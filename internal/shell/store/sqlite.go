package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"github.com/R1ck404/mercel/internal/core/domain"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// timeFormat sorts lexically in chronological order.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

// =============================================================================
// Executor Interface - Shared by DB and Transaction
// =============================================================================

// executor abstracts database operations that can be performed on both
// a database connection and a transaction.
type executor interface {
	GetContext(ctx context.Context, dest any, query string, args ...any) error
	SelectContext(ctx context.Context, dest any, query string, args ...any) error
	NamedExecContext(ctx context.Context, query string, arg any) (sql.Result, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// =============================================================================
// SQLiteStore
// =============================================================================

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sqlx.DB
}

// NewSQLiteStore creates a new SQLite store and runs migrations.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	db, err := sqlx.Open("sqlite3", dsn+sep+"_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, NewStoreError("NewSQLiteStore", "", "", "failed to open database", ErrConnectionFailed)
	}

	// SQLite serializes writers anyway, and an in-memory database only
	// exists on the connection that created it.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, NewStoreError("NewSQLiteStore", "", "", "failed to ping database", ErrConnectionFailed)
	}

	if err := runMigrations(db.DB); err != nil {
		db.Close()
		return nil, NewStoreError("NewSQLiteStore", "", "", err.Error(), ErrMigrationFailed)
	}

	return &SQLiteStore{db: db}, nil
}

// runMigrations runs database migrations using embedded SQL files.
func runMigrations(db *sql.DB) error {
	driver, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}

	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// Ping checks the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return NewStoreError("Ping", "", "", err.Error(), ErrConnectionFailed)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateProject(ctx context.Context, project *domain.Project) error {
	return createProject(ctx, s.db, project)
}

func (s *SQLiteStore) GetProject(ctx context.Context, id string) (*domain.Project, error) {
	return getProject(ctx, s.db, id)
}

func (s *SQLiteStore) GetProjectByWebhookID(ctx context.Context, webhookID int64) (*domain.Project, error) {
	return getProjectByWebhookID(ctx, s.db, webhookID)
}

func (s *SQLiteStore) UpdateProject(ctx context.Context, project *domain.Project) error {
	return updateProject(ctx, s.db, project)
}

func (s *SQLiteStore) DeleteProject(ctx context.Context, id string) error {
	return deleteProject(ctx, s.db, id)
}

func (s *SQLiteStore) ListProjects(ctx context.Context, filter ProjectFilter) ([]domain.Project, error) {
	return listProjects(ctx, s.db, filter)
}

func (s *SQLiteStore) CreateDeployment(ctx context.Context, deployment *domain.Deployment) error {
	return createDeployment(ctx, s.db, deployment)
}

func (s *SQLiteStore) GetDeployment(ctx context.Context, id string) (*domain.Deployment, error) {
	return getDeployment(ctx, s.db, id)
}

func (s *SQLiteStore) UpdateDeployment(ctx context.Context, deployment *domain.Deployment) error {
	return updateDeployment(ctx, s.db, deployment)
}

func (s *SQLiteStore) ListDeployments(ctx context.Context, filter DeploymentFilter) ([]domain.Deployment, error) {
	return listDeployments(ctx, s.db, filter)
}

func (s *SQLiteStore) DeleteDeploymentsByProject(ctx context.Context, projectID string) (int64, error) {
	return deleteDeploymentsByProject(ctx, s.db, projectID)
}

// =============================================================================
// Transaction Support
// =============================================================================

func (s *SQLiteStore) WithTx(ctx context.Context, fn func(Store) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return NewStoreError("WithTx", "", "", "failed to begin transaction", ErrTxFailed)
	}

	if err := fn(&txSQLiteStore{tx: tx}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return NewStoreError("WithTx", "", "", fmt.Sprintf("rollback failed after error: %v", err), ErrTxFailed)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return NewStoreError("WithTx", "", "", "failed to commit transaction", ErrTxFailed)
	}

	return nil
}

// txSQLiteStore implements Store within a transaction.
type txSQLiteStore struct {
	tx *sqlx.Tx
}

func (s *txSQLiteStore) CreateProject(ctx context.Context, project *domain.Project) error {
	return createProject(ctx, s.tx, project)
}

func (s *txSQLiteStore) GetProject(ctx context.Context, id string) (*domain.Project, error) {
	return getProject(ctx, s.tx, id)
}

func (s *txSQLiteStore) GetProjectByWebhookID(ctx context.Context, webhookID int64) (*domain.Project, error) {
	return getProjectByWebhookID(ctx, s.tx, webhookID)
}

func (s *txSQLiteStore) UpdateProject(ctx context.Context, project *domain.Project) error {
	return updateProject(ctx, s.tx, project)
}

func (s *txSQLiteStore) DeleteProject(ctx context.Context, id string) error {
	return deleteProject(ctx, s.tx, id)
}

func (s *txSQLiteStore) ListProjects(ctx context.Context, filter ProjectFilter) ([]domain.Project, error) {
	return listProjects(ctx, s.tx, filter)
}

func (s *txSQLiteStore) CreateDeployment(ctx context.Context, deployment *domain.Deployment) error {
	return createDeployment(ctx, s.tx, deployment)
}

func (s *txSQLiteStore) GetDeployment(ctx context.Context, id string) (*domain.Deployment, error) {
	return getDeployment(ctx, s.tx, id)
}

func (s *txSQLiteStore) UpdateDeployment(ctx context.Context, deployment *domain.Deployment) error {
	return updateDeployment(ctx, s.tx, deployment)
}

func (s *txSQLiteStore) ListDeployments(ctx context.Context, filter DeploymentFilter) ([]domain.Deployment, error) {
	return listDeployments(ctx, s.tx, filter)
}

func (s *txSQLiteStore) DeleteDeploymentsByProject(ctx context.Context, projectID string) (int64, error) {
	return deleteDeploymentsByProject(ctx, s.tx, projectID)
}

func (s *txSQLiteStore) WithTx(ctx context.Context, fn func(Store) error) error {
	// Already in a transaction, just run the function
	return fn(s)
}

func (s *txSQLiteStore) Ping(context.Context) error {
	return nil
}

func (s *txSQLiteStore) Close() error {
	// No-op for tx store
	return nil
}

// =============================================================================
// Project Operations
// =============================================================================

// projectRow represents a project row in the database.
type projectRow struct {
	ID            string        `db:"id"`
	Owner         string        `db:"owner"`
	Name          string        `db:"name"`
	RepoURL       string        `db:"repo_url"`
	Branch        string        `db:"branch"`
	FullName      string        `db:"full_name"`
	EnvironmentID string        `db:"environment_id"`
	Port          int           `db:"port"`
	Domains       string        `db:"domains"`
	WebhookID     sql.NullInt64 `db:"webhook_id"`
	AccessToken   string        `db:"access_token"`
	CreatedAt     string        `db:"created_at"`
	UpdatedAt     string        `db:"updated_at"`
}

func projectParams(op string, project *domain.Project) (map[string]any, error) {
	domains := project.Binding.Domains
	if domains == nil {
		domains = []string{}
	}
	domainsJSON, err := json.Marshal(domains)
	if err != nil {
		return nil, NewStoreError(op, "project", project.ID, "failed to serialize domains", ErrInvalidData)
	}

	var webhookID any
	if project.WebhookID != 0 {
		webhookID = project.WebhookID
	}

	return map[string]any{
		"id":             project.ID,
		"owner":          project.Owner,
		"name":           project.Name,
		"repo_url":       project.Source.RepoURL,
		"branch":         project.Source.Branch,
		"full_name":      project.Source.FullName,
		"environment_id": project.EnvironmentID,
		"port":           project.Binding.Port,
		"domains":        string(domainsJSON),
		"webhook_id":     webhookID,
		"access_token":   project.AccessToken,
		"created_at":     formatTime(project.CreatedAt),
		"updated_at":     formatTime(project.UpdatedAt),
	}, nil
}

func createProject(ctx context.Context, exec executor, project *domain.Project) error {
	row, err := projectParams("CreateProject", project)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO projects (
			id, owner, name, repo_url, branch, full_name, environment_id,
			port, domains, webhook_id, access_token, created_at, updated_at
		) VALUES (
			:id, :owner, :name, :repo_url, :branch, :full_name, :environment_id,
			:port, :domains, :webhook_id, :access_token, :created_at, :updated_at
		)`

	if _, err := exec.NamedExecContext(ctx, query, row); err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed: projects.id") {
			return NewStoreError("CreateProject", "project", project.ID, "project with this ID already exists", ErrDuplicateID)
		}
		if strings.Contains(err.Error(), "UNIQUE constraint failed: projects.webhook_id") {
			return NewStoreError("CreateProject", "project", project.ID, "webhook already registered", ErrDuplicateWebhook)
		}
		return NewStoreError("CreateProject", "project", project.ID, err.Error(), err)
	}

	return nil
}

func getProject(ctx context.Context, exec executor, id string) (*domain.Project, error) {
	var row projectRow
	if err := exec.GetContext(ctx, &row, `SELECT * FROM projects WHERE id = ?`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, NewStoreError("GetProject", "project", id, "project not found", ErrNotFound)
		}
		return nil, NewStoreError("GetProject", "project", id, err.Error(), err)
	}
	return rowToProject(&row)
}

func getProjectByWebhookID(ctx context.Context, exec executor, webhookID int64) (*domain.Project, error) {
	id := fmt.Sprintf("%d", webhookID)
	if webhookID == 0 {
		return nil, NewStoreError("GetProjectByWebhookID", "project", id, "project not found", ErrNotFound)
	}

	var row projectRow
	if err := exec.GetContext(ctx, &row, `SELECT * FROM projects WHERE webhook_id = ?`, webhookID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, NewStoreError("GetProjectByWebhookID", "project", id, "project not found", ErrNotFound)
		}
		return nil, NewStoreError("GetProjectByWebhookID", "project", id, err.Error(), err)
	}
	return rowToProject(&row)
}

func updateProject(ctx context.Context, exec executor, project *domain.Project) error {
	project.UpdatedAt = time.Now().UTC()
	row, err := projectParams("UpdateProject", project)
	if err != nil {
		return err
	}

	query := `
		UPDATE projects SET
			owner = :owner,
			name = :name,
			repo_url = :repo_url,
			branch = :branch,
			full_name = :full_name,
			environment_id = :environment_id,
			port = :port,
			domains = :domains,
			webhook_id = :webhook_id,
			access_token = :access_token,
			updated_at = :updated_at
		WHERE id = :id`

	result, err := exec.NamedExecContext(ctx, query, row)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed: projects.webhook_id") {
			return NewStoreError("UpdateProject", "project", project.ID, "webhook already registered", ErrDuplicateWebhook)
		}
		return NewStoreError("UpdateProject", "project", project.ID, err.Error(), err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return NewStoreError("UpdateProject", "project", project.ID, "project not found", ErrNotFound)
	}

	return nil
}

func deleteProject(ctx context.Context, exec executor, id string) error {
	result, err := exec.ExecContext(ctx, `DELETE FROM projects WHERE id = ?`, id)
	if err != nil {
		return NewStoreError("DeleteProject", "project", id, err.Error(), err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return NewStoreError("DeleteProject", "project", id, "project not found", ErrNotFound)
	}

	return nil
}

func listProjects(ctx context.Context, exec executor, filter ProjectFilter) ([]domain.Project, error) {
	opts := filter.ListOptions.Normalize()

	query := `SELECT * FROM projects`
	var args []any
	if filter.Owner != "" {
		query += ` WHERE owner = ?`
		args = append(args, filter.Owner)
	}
	query += ` ORDER BY created_at DESC, rowid DESC LIMIT ? OFFSET ?`
	args = append(args, opts.Limit, opts.Offset)

	var rows []projectRow
	if err := exec.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, NewStoreError("ListProjects", "project", "", err.Error(), err)
	}

	projects := make([]domain.Project, 0, len(rows))
	for _, row := range rows {
		project, err := rowToProject(&row)
		if err != nil {
			return nil, err
		}
		projects = append(projects, *project)
	}

	return projects, nil
}

func rowToProject(row *projectRow) (*domain.Project, error) {
	var domains []string
	if err := json.Unmarshal([]byte(row.Domains), &domains); err != nil {
		return nil, NewStoreError("rowToProject", "project", row.ID, "failed to parse domains", ErrInvalidData)
	}
	if domains == nil {
		domains = []string{}
	}

	createdAt, err := parseTime(row.CreatedAt)
	if err != nil {
		return nil, NewStoreError("rowToProject", "project", row.ID, "failed to parse created_at", ErrInvalidData)
	}
	updatedAt, err := parseTime(row.UpdatedAt)
	if err != nil {
		return nil, NewStoreError("rowToProject", "project", row.ID, "failed to parse updated_at", ErrInvalidData)
	}

	return &domain.Project{
		ID:    row.ID,
		Owner: row.Owner,
		Name:  row.Name,
		Source: domain.Source{
			RepoURL:  row.RepoURL,
			Branch:   row.Branch,
			FullName: row.FullName,
		},
		EnvironmentID: row.EnvironmentID,
		Binding: domain.NetworkBinding{
			Domains: domains,
			Port:    row.Port,
		},
		WebhookID:   row.WebhookID.Int64,
		AccessToken: row.AccessToken,
		CreatedAt:   createdAt,
		UpdatedAt:   updatedAt,
	}, nil
}

// =============================================================================
// Deployment Operations
// =============================================================================

// deploymentRow represents a deployment row in the database.
type deploymentRow struct {
	ID            string         `db:"id"`
	ProjectID     string         `db:"project_id"`
	Status        string         `db:"status"`
	Trigger       string         `db:"trigger_source"`
	Revision      string         `db:"revision"`
	Port          int            `db:"port"`
	EnvironmentID string         `db:"environment_id"`
	Logs          string         `db:"logs"`
	CreatedAt     string         `db:"created_at"`
	UpdatedAt     string         `db:"updated_at"`
	FinishedAt    sql.NullString `db:"finished_at"`
}

func deploymentParams(op string, d *domain.Deployment) (map[string]any, error) {
	revisionJSON, err := json.Marshal(d.Revision)
	if err != nil {
		return nil, NewStoreError(op, "deployment", d.ID, "failed to serialize revision", ErrInvalidData)
	}
	logs := d.Logs
	if logs == nil {
		logs = []domain.LogLine{}
	}
	logsJSON, err := json.Marshal(logs)
	if err != nil {
		return nil, NewStoreError(op, "deployment", d.ID, "failed to serialize logs", ErrInvalidData)
	}

	var finishedAt *string
	if d.FinishedAt != nil {
		s := formatTime(*d.FinishedAt)
		finishedAt = &s
	}

	return map[string]any{
		"id":             d.ID,
		"project_id":     d.ProjectID,
		"status":         string(d.Status),
		"trigger_source": string(d.Trigger),
		"revision":       string(revisionJSON),
		"port":           d.Port,
		"environment_id": d.EnvironmentID,
		"logs":           string(logsJSON),
		"created_at":     formatTime(d.CreatedAt),
		"updated_at":     formatTime(d.UpdatedAt),
		"finished_at":    finishedAt,
	}, nil
}

func createDeployment(ctx context.Context, exec executor, deployment *domain.Deployment) error {
	row, err := deploymentParams("CreateDeployment", deployment)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO deployments (
			id, project_id, status, trigger_source, revision, port,
			environment_id, logs, created_at, updated_at, finished_at
		) VALUES (
			:id, :project_id, :status, :trigger_source, :revision, :port,
			:environment_id, :logs, :created_at, :updated_at, :finished_at
		)`

	if _, err := exec.NamedExecContext(ctx, query, row); err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed: deployments.id") {
			return NewStoreError("CreateDeployment", "deployment", deployment.ID, "deployment with this ID already exists", ErrDuplicateID)
		}
		if strings.Contains(err.Error(), "FOREIGN KEY constraint failed") {
			return NewStoreError("CreateDeployment", "deployment", deployment.ID, "project not found", ErrForeignKey)
		}
		return NewStoreError("CreateDeployment", "deployment", deployment.ID, err.Error(), err)
	}

	return nil
}

func getDeployment(ctx context.Context, exec executor, id string) (*domain.Deployment, error) {
	var row deploymentRow
	if err := exec.GetContext(ctx, &row, `SELECT * FROM deployments WHERE id = ?`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, NewStoreError("GetDeployment", "deployment", id, "deployment not found", ErrNotFound)
		}
		return nil, NewStoreError("GetDeployment", "deployment", id, err.Error(), err)
	}
	return rowToDeployment(&row)
}

func updateDeployment(ctx context.Context, exec executor, deployment *domain.Deployment) error {
	row, err := deploymentParams("UpdateDeployment", deployment)
	if err != nil {
		return err
	}

	query := `
		UPDATE deployments SET
			status = :status,
			revision = :revision,
			port = :port,
			environment_id = :environment_id,
			logs = :logs,
			updated_at = :updated_at,
			finished_at = :finished_at
		WHERE id = :id`

	result, err := exec.NamedExecContext(ctx, query, row)
	if err != nil {
		return NewStoreError("UpdateDeployment", "deployment", deployment.ID, err.Error(), err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return NewStoreError("UpdateDeployment", "deployment", deployment.ID, "deployment not found", ErrNotFound)
	}

	return nil
}

func listDeployments(ctx context.Context, exec executor, filter DeploymentFilter) ([]domain.Deployment, error) {
	opts := filter.ListOptions.Normalize()

	var where []string
	var args []any
	if filter.ProjectID != "" {
		where = append(where, "project_id = ?")
		args = append(args, filter.ProjectID)
	}
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(filter.Status))
	}

	query := `SELECT * FROM deployments`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY created_at DESC, rowid DESC LIMIT ? OFFSET ?`
	args = append(args, opts.Limit, opts.Offset)

	var rows []deploymentRow
	if err := exec.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, NewStoreError("ListDeployments", "deployment", "", err.Error(), err)
	}

	deployments := make([]domain.Deployment, 0, len(rows))
	for _, row := range rows {
		d, err := rowToDeployment(&row)
		if err != nil {
			return nil, err
		}
		deployments = append(deployments, *d)
	}

	return deployments, nil
}

func deleteDeploymentsByProject(ctx context.Context, exec executor, projectID string) (int64, error) {
	result, err := exec.ExecContext(ctx, `DELETE FROM deployments WHERE project_id = ?`, projectID)
	if err != nil {
		return 0, NewStoreError("DeleteDeploymentsByProject", "deployment", projectID, err.Error(), err)
	}
	n, _ := result.RowsAffected()
	return n, nil
}

func rowToDeployment(row *deploymentRow) (*domain.Deployment, error) {
	var revision domain.Revision
	if err := json.Unmarshal([]byte(row.Revision), &revision); err != nil {
		return nil, NewStoreError("rowToDeployment", "deployment", row.ID, "failed to parse revision", ErrInvalidData)
	}
	logs := []domain.LogLine{}
	if err := json.Unmarshal([]byte(row.Logs), &logs); err != nil {
		return nil, NewStoreError("rowToDeployment", "deployment", row.ID, "failed to parse logs", ErrInvalidData)
	}

	createdAt, err := parseTime(row.CreatedAt)
	if err != nil {
		return nil, NewStoreError("rowToDeployment", "deployment", row.ID, "failed to parse created_at", ErrInvalidData)
	}
	updatedAt, err := parseTime(row.UpdatedAt)
	if err != nil {
		return nil, NewStoreError("rowToDeployment", "deployment", row.ID, "failed to parse updated_at", ErrInvalidData)
	}

	var finishedAt *time.Time
	if row.FinishedAt.Valid {
		t, err := parseTime(row.FinishedAt.String)
		if err != nil {
			return nil, NewStoreError("rowToDeployment", "deployment", row.ID, "failed to parse finished_at", ErrInvalidData)
		}
		finishedAt = &t
	}

	return &domain.Deployment{
		ID:            row.ID,
		ProjectID:     row.ProjectID,
		Status:        domain.DeploymentStatus(row.Status),
		Trigger:       domain.Trigger(row.Trigger),
		Revision:      revision,
		Port:          row.Port,
		EnvironmentID: row.EnvironmentID,
		Logs:          logs,
		CreatedAt:     createdAt,
		UpdatedAt:     updatedAt,
		FinishedAt:    finishedAt,
	}, nil
}

// =============================================================================
// Helpers
// =============================================================================

func formatTime(t time.Time) string {
	return t.UTC().Format(timeFormat)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}
