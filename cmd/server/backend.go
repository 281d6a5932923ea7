package main

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"github.com/liamcoop/caseflow/casedir"
	"github.com/liamcoop/caseflow/cases"
	"github.com/liamcoop/caseflow/config"
	"github.com/liamcoop/caseflow/history"
	"github.com/liamcoop/caseflow/internal/logger"
	"github.com/liamcoop/caseflow/notify"
	"github.com/liamcoop/caseflow/rules"
	"github.com/sethvargo/go-retry"
)

// backend bundles the storage the server runs on: PostgreSQL in
// production, memory in demo mode and tests.
type backend struct {
	db       *sql.DB
	connStr  string
	rules    rules.RuleStore
	history  history.Store
	notifies notify.Store
	cases    cases.CaseDirectory
	timeline cases.TimelineLog
	users    cases.UserDirectory
}

// openPostgres connects with backoff so the service survives a database
// that starts after it.
func openPostgres(ctx context.Context, cfg config.Config) (*backend, error) {
	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.Workers * 4)
	db.SetConnMaxIdleTime(5 * time.Minute)

	backoff := retry.WithMaxRetries(10, retry.WithCappedDuration(10*time.Second, retry.NewExponential(500*time.Millisecond)))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		if err := db.PingContext(ctx); err != nil {
			logger.Warn("Database not ready, retrying", "error", err)
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	directory := casedir.NewStore(db)
	return &backend{
		db:       db,
		connStr:  cfg.DatabaseURL,
		rules:    rules.NewPostgresRuleStore(db),
		history:  history.NewPostgresStore(db),
		notifies: notify.NewPostgresStore(db),
		cases:    directory,
		timeline: directory,
		users:    directory,
	}, nil
}

// memoryBackend keeps everything in process. The directory is returned so
// callers can seed it.
func memoryBackend() (*backend, *cases.MemoryDirectory) {
	directory := cases.NewMemoryDirectory(nil)
	return &backend{
		rules:    rules.NewInMemoryRuleStore(),
		history:  history.NewMemoryStore(),
		notifies: notify.NewMemoryStore(),
		cases:    directory,
		timeline: directory,
		users:    directory,
	}, directory
}

func (b *backend) Close() error {
	if b.db == nil {
		return nil
	}
	return b.db.Close()
}
