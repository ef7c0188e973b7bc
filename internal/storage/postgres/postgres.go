// Package postgres backs the automation registry and the execution record
// store with PostgreSQL. One database holds both: automations are the
// durable definitions, execution_records the audit trail keyed for
// idempotent dispatch.
package postgres

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/lib/pq"

	"github.com/leadkit/automation/internal/automation"
	"github.com/leadkit/automation/internal/event"
	"github.com/leadkit/automation/internal/record"
	"github.com/leadkit/automation/internal/registry"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store implements registry.Registry over one connection pool; Records()
// exposes the same pool as a record.Store.
type Store struct {
	db *sql.DB
}

var (
	_ registry.Registry = (*Store)(nil)
	_ record.Store      = (*recordStore)(nil)
)

// New opens the database at the given URL, configures the pool, and runs any
// pending migrations.
func New(databaseURL string) (*Store, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &Store{db: db}, nil
}

// NewWithDB wraps an existing connection without running migrations.
// Used by tests with a mocked database.
func NewWithDB(db *sql.DB) *Store {
	return &Store{db: db}
}

func runMigrations(db *sql.DB) error {
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	dbDriver, err := migratepg.WithInstance(db, &migratepg.Config{})
	if err != nil {
		return fmt.Errorf("create migration db driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "postgres", dbDriver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("apply migrations: %w", err)
	}

	return nil
}

// Close closes the underlying connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping verifies database connectivity; the readiness probe calls this.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) ListActive(ctx context.Context, trigger event.TriggerType, campaignID int64) ([]*automation.Automation, error) {
	return queryListActive(ctx, s.db, trigger, campaignID)
}

func (s *Store) List(ctx context.Context, campaignID int64) ([]*automation.Automation, error) {
	return queryListAutomations(ctx, s.db, campaignID)
}

func (s *Store) Get(ctx context.Context, id int64) (*automation.Automation, error) {
	return queryGetAutomation(ctx, s.db, id)
}

func (s *Store) Create(ctx context.Context, a *automation.Automation) error {
	return queryCreateAutomation(ctx, s.db, a)
}

func (s *Store) Update(ctx context.Context, a *automation.Automation) error {
	return queryUpdateAutomation(ctx, s.db, a)
}

func (s *Store) Delete(ctx context.Context, id int64) error {
	return queryDeleteAutomation(ctx, s.db, id)
}

func (s *Store) SetActive(ctx context.Context, id int64, active bool) error {
	return querySetAutomationActive(ctx, s.db, id, active)
}

// Records returns the execution record store sharing this pool. A separate
// view type because record.Store and registry.Registry both name Create, Get
// and Update with different signatures.
func (s *Store) Records() record.Store {
	return &recordStore{db: s.db}
}

type recordStore struct {
	db *sql.DB
}

func (s *recordStore) Create(ctx context.Context, r *record.ExecutionRecord) error {
	return queryCreateRecord(ctx, s.db, r)
}

func (s *recordStore) Update(ctx context.Context, r *record.ExecutionRecord) error {
	return queryUpdateRecord(ctx, s.db, r)
}

func (s *recordStore) Get(ctx context.Context, id int64) (*record.ExecutionRecord, error) {
	return queryGetRecord(ctx, s.db, id)
}

func (s *recordStore) ListByAutomation(ctx context.Context, automationID int64, limit int) ([]*record.ExecutionRecord, error) {
	return queryListRecords(ctx, s.db, automationID, limit)
}
