package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/artpar/deployer/internal/core/domain"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

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
	db, err := sqlx.Open("sqlite3", dsn+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, NewStoreError("NewSQLiteStore", "", "", "failed to open database", ErrConnectionFailed)
	}
	// Workers of every queue write here; sqlite serializes writers anyway.
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

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Ping checks the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) SaveDeployment(ctx context.Context, deployment *domain.Deployment) error {
	return saveDeployment(ctx, s.db, deployment)
}

func (s *SQLiteStore) GetDeployment(ctx context.Context, projectID int) (*domain.Deployment, error) {
	return getDeployment(ctx, s.db, projectID)
}

func (s *SQLiteStore) DeleteDeployment(ctx context.Context, projectID int) error {
	return deleteDeployment(ctx, s.db, projectID)
}

func (s *SQLiteStore) ListDeployments(ctx context.Context, opts ListOptions) ([]domain.Deployment, error) {
	return listDeployments(ctx, s.db, "", opts)
}

func (s *SQLiteStore) ListDeploymentsByStatus(ctx context.Context, status domain.DeploymentStatus, opts ListOptions) ([]domain.Deployment, error) {
	return listDeployments(ctx, s.db, status, opts)
}

func (s *SQLiteStore) RecordJob(ctx context.Context, record *domain.JobRecord) error {
	return recordJob(ctx, s.db, record)
}

func (s *SQLiteStore) ListJobs(ctx context.Context, projectID int, opts ListOptions) ([]domain.JobRecord, error) {
	return listJobs(ctx, s.db, projectID, opts)
}

// =============================================================================
// Transaction Support
// =============================================================================

func (s *SQLiteStore) WithTx(ctx context.Context, fn func(Store) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return NewStoreError("WithTx", "", "", "failed to begin transaction", ErrTxFailed)
	}

	txS := &txSQLiteStore{tx: tx}

	if err := fn(txS); err != nil {
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

// =============================================================================
// Transaction Store
// =============================================================================

// txSQLiteStore implements Store within a transaction.
type txSQLiteStore struct {
	tx *sqlx.Tx
}

func (s *txSQLiteStore) SaveDeployment(ctx context.Context, deployment *domain.Deployment) error {
	return saveDeployment(ctx, s.tx, deployment)
}

func (s *txSQLiteStore) GetDeployment(ctx context.Context, projectID int) (*domain.Deployment, error) {
	return getDeployment(ctx, s.tx, projectID)
}

func (s *txSQLiteStore) DeleteDeployment(ctx context.Context, projectID int) error {
	return deleteDeployment(ctx, s.tx, projectID)
}

func (s *txSQLiteStore) ListDeployments(ctx context.Context, opts ListOptions) ([]domain.Deployment, error) {
	return listDeployments(ctx, s.tx, "", opts)
}

func (s *txSQLiteStore) ListDeploymentsByStatus(ctx context.Context, status domain.DeploymentStatus, opts ListOptions) ([]domain.Deployment, error) {
	return listDeployments(ctx, s.tx, status, opts)
}

func (s *txSQLiteStore) RecordJob(ctx context.Context, record *domain.JobRecord) error {
	return recordJob(ctx, s.tx, record)
}

func (s *txSQLiteStore) ListJobs(ctx context.Context, projectID int, opts ListOptions) ([]domain.JobRecord, error) {
	return listJobs(ctx, s.tx, projectID, opts)
}

func (s *txSQLiteStore) WithTx(ctx context.Context, fn func(Store) error) error {
	// Already in a transaction, just execute the function
	return fn(s)
}

func (s *txSQLiteStore) Close() error {
	return nil
}

// =============================================================================
// Deployment Operations
// =============================================================================

// deploymentRow represents a deployment row in the database.
type deploymentRow struct {
	ProjectID    int    `db:"project_id"`
	Topology     string `db:"topology"`
	Port         int    `db:"port"`
	Status       string `db:"status"`
	Units        string `db:"units"`
	URLs         string `db:"urls"`
	DatabaseName string `db:"database_name"`
	LastJobID    string `db:"last_job_id"`
	ErrorCode    string `db:"error_code"`
	ErrorMessage string `db:"error_message"`
	CreatedAt    string `db:"created_at"`
	UpdatedAt    string `db:"updated_at"`
}

// saveDeployment inserts the record or replaces every mutable column of an
// existing one. created_at is kept from the first insert.
func saveDeployment(ctx context.Context, exec executor, deployment *domain.Deployment) error {
	id := strconv.Itoa(deployment.ProjectID)

	unitsJSON, err := json.Marshal(nonNil(deployment.Units))
	if err != nil {
		return NewStoreError("SaveDeployment", "deployment", id, "failed to serialize units", ErrInvalidData)
	}
	urlsJSON, err := json.Marshal(nonNil(deployment.URLs))
	if err != nil {
		return NewStoreError("SaveDeployment", "deployment", id, "failed to serialize urls", ErrInvalidData)
	}

	now := time.Now().UTC()
	if deployment.CreatedAt.IsZero() {
		deployment.CreatedAt = now
	}
	if deployment.UpdatedAt.IsZero() {
		deployment.UpdatedAt = now
	}

	query := `
		INSERT INTO deployments (
			project_id, topology, port, status, units, urls, database_name,
			last_job_id, error_code, error_message, created_at, updated_at
		) VALUES (
			:project_id, :topology, :port, :status, :units, :urls, :database_name,
			:last_job_id, :error_code, :error_message, :created_at, :updated_at
		)
		ON CONFLICT(project_id) DO UPDATE SET
			topology = excluded.topology,
			port = excluded.port,
			status = excluded.status,
			units = excluded.units,
			urls = excluded.urls,
			database_name = excluded.database_name,
			last_job_id = excluded.last_job_id,
			error_code = excluded.error_code,
			error_message = excluded.error_message,
			updated_at = excluded.updated_at`

	row := deploymentRow{
		ProjectID:    deployment.ProjectID,
		Topology:     string(deployment.Topology),
		Port:         deployment.Port,
		Status:       string(deployment.Status),
		Units:        string(unitsJSON),
		URLs:         string(urlsJSON),
		DatabaseName: deployment.Database,
		LastJobID:    deployment.LastJobID,
		ErrorCode:    deployment.ErrorCode,
		ErrorMessage: deployment.ErrorMessage,
		CreatedAt:    deployment.CreatedAt.Format(time.RFC3339),
		UpdatedAt:    deployment.UpdatedAt.Format(time.RFC3339),
	}

	if _, err := exec.NamedExecContext(ctx, query, row); err != nil {
		return NewStoreError("SaveDeployment", "deployment", id, err.Error(), err)
	}
	return nil
}

func getDeployment(ctx context.Context, exec executor, projectID int) (*domain.Deployment, error) {
	id := strconv.Itoa(projectID)
	query := `SELECT * FROM deployments WHERE project_id = ?`

	var row deploymentRow
	err := exec.GetContext(ctx, &row, query, projectID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, NewStoreError("GetDeployment", "deployment", id, "deployment not found", ErrNotFound)
		}
		return nil, NewStoreError("GetDeployment", "deployment", id, err.Error(), err)
	}

	return rowToDeployment(&row)
}

func deleteDeployment(ctx context.Context, exec executor, projectID int) error {
	id := strconv.Itoa(projectID)
	query := `DELETE FROM deployments WHERE project_id = ?`

	result, err := exec.ExecContext(ctx, query, projectID)
	if err != nil {
		return NewStoreError("DeleteDeployment", "deployment", id, err.Error(), err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return NewStoreError("DeleteDeployment", "deployment", id, "deployment not found", ErrNotFound)
	}

	return nil
}

func listDeployments(ctx context.Context, exec executor, status domain.DeploymentStatus, opts ListOptions) ([]domain.Deployment, error) {
	opts = opts.Normalize()

	var rows []deploymentRow
	var err error
	if status == "" {
		query := `SELECT * FROM deployments ORDER BY project_id ASC LIMIT ? OFFSET ?`
		err = exec.SelectContext(ctx, &rows, query, opts.Limit, opts.Offset)
	} else {
		query := `SELECT * FROM deployments WHERE status = ? ORDER BY project_id ASC LIMIT ? OFFSET ?`
		err = exec.SelectContext(ctx, &rows, query, string(status), opts.Limit, opts.Offset)
	}
	if err != nil {
		return nil, NewStoreError("ListDeployments", "deployment", "", err.Error(), err)
	}

	deployments := make([]domain.Deployment, 0, len(rows))
	for _, row := range rows {
		deployment, err := rowToDeployment(&row)
		if err != nil {
			return nil, err
		}
		deployments = append(deployments, *deployment)
	}

	return deployments, nil
}

// rowToDeployment converts a database row to a domain.Deployment.
func rowToDeployment(row *deploymentRow) (*domain.Deployment, error) {
	id := strconv.Itoa(row.ProjectID)
	createdAt, _ := time.Parse(time.RFC3339, row.CreatedAt)
	updatedAt, _ := time.Parse(time.RFC3339, row.UpdatedAt)

	var units, urls []string
	if err := json.Unmarshal([]byte(row.Units), &units); err != nil {
		return nil, NewStoreError("rowToDeployment", "deployment", id, "failed to parse units", ErrInvalidData)
	}
	if err := json.Unmarshal([]byte(row.URLs), &urls); err != nil {
		return nil, NewStoreError("rowToDeployment", "deployment", id, "failed to parse urls", ErrInvalidData)
	}

	return &domain.Deployment{
		ProjectID:    row.ProjectID,
		Topology:     domain.Topology(row.Topology),
		Port:         row.Port,
		Status:       domain.DeploymentStatus(row.Status),
		Units:        units,
		URLs:         urls,
		Database:     row.DatabaseName,
		LastJobID:    row.LastJobID,
		ErrorCode:    row.ErrorCode,
		ErrorMessage: row.ErrorMessage,
		CreatedAt:    createdAt,
		UpdatedAt:    updatedAt,
	}, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// =============================================================================
// Job History Operations
// =============================================================================

// historyTimeLayout has a fixed width so finished_at sorts as text.
const historyTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

type jobRow struct {
	ID         string `db:"id"`
	Queue      string `db:"queue"`
	Name       string `db:"name"`
	ProjectID  int    `db:"project_id"`
	Status     string `db:"status"`
	ErrorCode  string `db:"error_code"`
	Message    string `db:"message"`
	StartedAt  string `db:"started_at"`
	FinishedAt string `db:"finished_at"`
}

// recordJob stores the outcome of a job. A redelivered job overwrites the
// entry of its previous attempt.
func recordJob(ctx context.Context, exec executor, record *domain.JobRecord) error {
	query := `
		INSERT INTO job_history (
			id, queue, name, project_id, status, error_code, message, started_at, finished_at
		) VALUES (
			:id, :queue, :name, :project_id, :status, :error_code, :message, :started_at, :finished_at
		)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			error_code = excluded.error_code,
			message = excluded.message,
			started_at = excluded.started_at,
			finished_at = excluded.finished_at`

	row := jobRow{
		ID:         record.ID,
		Queue:      record.Queue,
		Name:       record.Name,
		ProjectID:  record.ProjectID,
		Status:     record.Status,
		ErrorCode:  record.ErrorCode,
		Message:    record.Message,
		StartedAt:  record.StartedAt.Format(historyTimeLayout),
		FinishedAt: record.FinishedAt.Format(historyTimeLayout),
	}

	if _, err := exec.NamedExecContext(ctx, query, row); err != nil {
		return NewStoreError("RecordJob", "job", record.ID, err.Error(), err)
	}
	return nil
}

// listJobs returns the newest jobs first. projectID 0 lists every project.
func listJobs(ctx context.Context, exec executor, projectID int, opts ListOptions) ([]domain.JobRecord, error) {
	opts = opts.Normalize()

	var rows []jobRow
	var err error
	if projectID == 0 {
		query := `SELECT * FROM job_history ORDER BY finished_at DESC LIMIT ? OFFSET ?`
		err = exec.SelectContext(ctx, &rows, query, opts.Limit, opts.Offset)
	} else {
		query := `SELECT * FROM job_history WHERE project_id = ? ORDER BY finished_at DESC LIMIT ? OFFSET ?`
		err = exec.SelectContext(ctx, &rows, query, projectID, opts.Limit, opts.Offset)
	}
	if err != nil {
		return nil, NewStoreError("ListJobs", "job", "", err.Error(), err)
	}

	records := make([]domain.JobRecord, 0, len(rows))
	for _, row := range rows {
		startedAt, _ := time.Parse(historyTimeLayout, row.StartedAt)
		finishedAt, _ := time.Parse(historyTimeLayout, row.FinishedAt)
		records = append(records, domain.JobRecord{
			ID:         row.ID,
			Queue:      row.Queue,
			Name:       row.Name,
			ProjectID:  row.ProjectID,
			Status:     row.Status,
			ErrorCode:  row.ErrorCode,
			Message:    row.Message,
			StartedAt:  startedAt,
			FinishedAt: finishedAt,
		})
	}
	return records, nil
}
