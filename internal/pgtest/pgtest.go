// Package pgtest starts a throwaway PostgreSQL container for integration
// tests and applies the embedded migrations to it.
package pgtest

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/lib/pq"
	"github.com/liamcoop/caseflow/migrations"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// DB is a migrated test database
type DB struct {
	*sql.DB
	ConnStr string
}

// Start runs a postgres container, migrates it and registers cleanup on t
func Start(t *testing.T) *DB {
	t.Helper()
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_PASSWORD": "password",
			"POSTGRES_DB":       "caseflow_test",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start postgres container: %v", err)
	}
	t.Cleanup(func() {
		_ = container.Terminate(ctx)
	})

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	connStr := fmt.Sprintf("postgres://postgres:password@%s:%s/caseflow_test?sslmode=disable", host, port.Port())

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	for i := 0; i < 30; i++ {
		if err = db.Ping(); err == nil {
			break
		}
		time.Sleep(100 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("Database never became ready: %v", err)
	}

	if err := Migrate(connStr); err != nil {
		t.Fatalf("Failed to run migrations: %v", err)
	}

	return &DB{DB: db, ConnStr: connStr}
}

// Migrate applies the embedded migrations to the database at connStr
func Migrate(connStr string) error {
	src, err := iofs.New(migrations.FS, ".")
	if err != nil {
		return fmt.Errorf("failed to open embedded migrations: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", src, connStr)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}

// MustExec runs fixture SQL, failing the test on error
func (db *DB) MustExec(t *testing.T, query string, args ...any) {
	t.Helper()
	if _, err := db.DB.Exec(query, args...); err != nil {
		t.Fatalf("fixture exec failed: %v\n%s", err, query)
	}
}

// caseSchema stands in for the case application's tables, which this
// service reads and mutates but does not own.
const caseSchema = `
CREATE TABLE users (
	id        TEXT PRIMARY KEY,
	role      TEXT NOT NULL,
	is_active BOOLEAN NOT NULL DEFAULT true
);

CREATE TABLE cases (
	id          TEXT PRIMARY KEY,
	title       TEXT NOT NULL,
	status      TEXT NOT NULL,
	severity    TEXT NOT NULL DEFAULT 'MEDIUM',
	case_type   TEXT NOT NULL DEFAULT '',
	scope_code  TEXT NOT NULL DEFAULT '',
	owner_id    TEXT NOT NULL,
	assigned_to TEXT,
	tags        TEXT[] NOT NULL DEFAULT '{}',
	metadata    JSONB NOT NULL DEFAULT '{}',
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE case_status_history (
	id          BIGSERIAL PRIMARY KEY,
	case_id     TEXT NOT NULL REFERENCES cases(id) ON DELETE CASCADE,
	from_status TEXT NOT NULL,
	to_status   TEXT NOT NULL,
	changed_by  TEXT NOT NULL,
	changed_at  TIMESTAMPTZ NOT NULL
);

CREATE TABLE case_timeline (
	id          TEXT PRIMARY KEY,
	case_id     TEXT NOT NULL REFERENCES cases(id) ON DELETE CASCADE,
	event_type  TEXT NOT NULL,
	description TEXT NOT NULL,
	source      TEXT NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL
);`

// ApplyCaseSchema creates the case application tables
func (db *DB) ApplyCaseSchema(t *testing.T) {
	t.Helper()
	db.MustExec(t, caseSchema)
}
