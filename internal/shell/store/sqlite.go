package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"github.com/CleanExpo/Zenith-Fresh-sub002/internal/core/domain"
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
	Rebind(query string) string
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
	db, err := sqlx.Open("sqlite3", dsn+"?_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, NewStoreError("NewSQLiteStore", "", "", "failed to open database", ErrConnectionFailed)
	}
	// SQLite allows one writer; a single connection also keeps :memory:
	// databases from splitting across pool connections.
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

// DB exposes the underlying connection for callers that share it, such as
// the data router's primary handle in single-node setups.
func (s *SQLiteStore) DB() *sqlx.DB {
	return s.db
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

func (s *SQLiteStore) CreateDeployment(ctx context.Context, d *domain.DeploymentStatus) error {
	return createDeployment(ctx, s.db, d)
}

func (s *SQLiteStore) UpdateDeployment(ctx context.Context, d *domain.DeploymentStatus) error {
	return updateDeployment(ctx, s.db, d)
}

func (s *SQLiteStore) GetDeployment(ctx context.Context, id string) (*domain.DeploymentStatus, error) {
	return getDeployment(ctx, s.db, id)
}

func (s *SQLiteStore) ListDeployments(ctx context.Context, opts ListOptions) ([]domain.DeploymentStatus, error) {
	return listDeployments(ctx, s.db, opts)
}

func (s *SQLiteStore) ListDeploymentsByStatus(ctx context.Context, states ...domain.DeploymentState) ([]domain.DeploymentStatus, error) {
	return listDeploymentsByStatus(ctx, s.db, states)
}

func (s *SQLiteStore) AppendDeploymentEvent(ctx context.Context, deploymentID string, ev domain.DeploymentEvent) error {
	return appendDeploymentEvent(ctx, s.db, deploymentID, ev)
}

func (s *SQLiteStore) ListDeploymentEvents(ctx context.Context, deploymentID string) ([]domain.DeploymentEvent, error) {
	return listDeploymentEvents(ctx, s.db, deploymentID)
}

func (s *SQLiteStore) CreateIncident(ctx context.Context, inc *domain.Incident) error {
	return createIncident(ctx, s.db, inc)
}

func (s *SQLiteStore) CloseIncident(ctx context.Context, inc *domain.Incident) error {
	return closeIncident(ctx, s.db, inc)
}

func (s *SQLiteStore) ListIncidents(ctx context.Context, filter IncidentFilter) ([]domain.Incident, error) {
	return listIncidents(ctx, s.db, filter)
}

func (s *SQLiteStore) CreateAudit(ctx context.Context, a *domain.ComplianceAudit) error {
	return createAudit(ctx, s.db, a)
}

func (s *SQLiteStore) ListAudits(ctx context.Context, filter AuditFilter) ([]domain.ComplianceAudit, error) {
	return listAudits(ctx, s.db, filter)
}

func (s *SQLiteStore) LastAuditHash(ctx context.Context) (string, error) {
	return lastHash(ctx, s.db, "LastAuditHash", "compliance_audits")
}

func (s *SQLiteStore) AppendConsent(ctx context.Context, rec *domain.ConsentRecord) error {
	return appendConsent(ctx, s.db, rec)
}

func (s *SQLiteStore) ListConsent(ctx context.Context, userID, consentType string) ([]domain.ConsentRecord, error) {
	return listConsent(ctx, s.db, userID, consentType)
}

func (s *SQLiteStore) ListAllConsent(ctx context.Context) ([]domain.ConsentRecord, error) {
	return listConsent(ctx, s.db, "", "")
}

func (s *SQLiteStore) LastConsentHash(ctx context.Context) (string, error) {
	return lastHash(ctx, s.db, "LastConsentHash", "consent_records")
}

func (s *SQLiteStore) CreateDeletionObligation(ctx context.Context, o *domain.DeletionObligation) error {
	return createDeletionObligation(ctx, s.db, o)
}

func (s *SQLiteStore) ListDeletionObligations(ctx context.Context, userID string) ([]domain.DeletionObligation, error) {
	return listDeletionObligations(ctx, s.db, userID)
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

func (s *txSQLiteStore) CreateDeployment(ctx context.Context, d *domain.DeploymentStatus) error {
	return createDeployment(ctx, s.tx, d)
}

func (s *txSQLiteStore) UpdateDeployment(ctx context.Context, d *domain.DeploymentStatus) error {
	return updateDeployment(ctx, s.tx, d)
}

func (s *txSQLiteStore) GetDeployment(ctx context.Context, id string) (*domain.DeploymentStatus, error) {
	return getDeployment(ctx, s.tx, id)
}

func (s *txSQLiteStore) ListDeployments(ctx context.Context, opts ListOptions) ([]domain.DeploymentStatus, error) {
	return listDeployments(ctx, s.tx, opts)
}

func (s *txSQLiteStore) ListDeploymentsByStatus(ctx context.Context, states ...domain.DeploymentState) ([]domain.DeploymentStatus, error) {
	return listDeploymentsByStatus(ctx, s.tx, states)
}

func (s *txSQLiteStore) AppendDeploymentEvent(ctx context.Context, deploymentID string, ev domain.DeploymentEvent) error {
	return appendDeploymentEvent(ctx, s.tx, deploymentID, ev)
}

func (s *txSQLiteStore) ListDeploymentEvents(ctx context.Context, deploymentID string) ([]domain.DeploymentEvent, error) {
	return listDeploymentEvents(ctx, s.tx, deploymentID)
}

func (s *txSQLiteStore) CreateIncident(ctx context.Context, inc *domain.Incident) error {
	return createIncident(ctx, s.tx, inc)
}

func (s *txSQLiteStore) CloseIncident(ctx context.Context, inc *domain.Incident) error {
	return closeIncident(ctx, s.tx, inc)
}

func (s *txSQLiteStore) ListIncidents(ctx context.Context, filter IncidentFilter) ([]domain.Incident, error) {
	return listIncidents(ctx, s.tx, filter)
}

func (s *txSQLiteStore) CreateAudit(ctx context.Context, a *domain.ComplianceAudit) error {
	return createAudit(ctx, s.tx, a)
}

func (s *txSQLiteStore) ListAudits(ctx context.Context, filter AuditFilter) ([]domain.ComplianceAudit, error) {
	return listAudits(ctx, s.tx, filter)
}

func (s *txSQLiteStore) LastAuditHash(ctx context.Context) (string, error) {
	return lastHash(ctx, s.tx, "LastAuditHash", "compliance_audits")
}

func (s *txSQLiteStore) AppendConsent(ctx context.Context, rec *domain.ConsentRecord) error {
	return appendConsent(ctx, s.tx, rec)
}

func (s *txSQLiteStore) ListConsent(ctx context.Context, userID, consentType string) ([]domain.ConsentRecord, error) {
	return listConsent(ctx, s.tx, userID, consentType)
}

func (s *txSQLiteStore) ListAllConsent(ctx context.Context) ([]domain.ConsentRecord, error) {
	return listConsent(ctx, s.tx, "", "")
}

func (s *txSQLiteStore) LastConsentHash(ctx context.Context) (string, error) {
	return lastHash(ctx, s.tx, "LastConsentHash", "consent_records")
}

func (s *txSQLiteStore) CreateDeletionObligation(ctx context.Context, o *domain.DeletionObligation) error {
	return createDeletionObligation(ctx, s.tx, o)
}

func (s *txSQLiteStore) ListDeletionObligations(ctx context.Context, userID string) ([]domain.DeletionObligation, error) {
	return listDeletionObligations(ctx, s.tx, userID)
}

func (s *txSQLiteStore) WithTx(ctx context.Context, fn func(Store) error) error {
	// Already in a transaction
	return fn(s)
}

func (s *txSQLiteStore) Ping(ctx context.Context) error {
	return nil
}

func (s *txSQLiteStore) Close() error {
	return nil
}

// =============================================================================
// Time Helpers
// =============================================================================

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func formatTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := formatTime(*t)
	return &s
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

func parseTimePtr(s *string) (*time.Time, error) {
	if s == nil || *s == "" {
		return nil, nil
	}
	t, err := parseTime(*s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func lastHash(ctx context.Context, exec executor, op, table string) (string, error) {
	var hash string
	err := exec.GetContext(ctx, &hash, `SELECT hash FROM `+table+` ORDER BY seq DESC LIMIT 1`)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", NewStoreError(op, table, "", err.Error(), err)
	}
	return hash, nil
}
