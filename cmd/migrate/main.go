package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/liamcoop/caseflow/internal/logger"
	"github.com/liamcoop/caseflow/migrations"
)

func main() {
	var databaseURL, migrationsPath, command string

	flag.StringVar(&databaseURL, "database", os.Getenv("DATABASE_URL"), "Database URL (defaults to DATABASE_URL)")
	flag.StringVar(&migrationsPath, "path", "", "Migrations directory (defaults to the schema built into this binary)")
	flag.StringVar(&command, "command", "up", "Migration command: up, down, version, force <version>")
	flag.Parse()

	if databaseURL == "" {
		logger.Fatal("Database URL is required. Use -database or DATABASE_URL")
	}

	m, err := newMigrate(migrationsPath, databaseURL)
	if err != nil {
		logger.Fatal("Failed to create migration instance", "error", err)
	}
	defer m.Close()

	if err := run(m, command, flag.Args()); err != nil {
		logger.Fatal("Migration failed", "command", command, "error", err)
	}
}

// newMigrate reads migrations from path when given, otherwise from the
// embedded schema.
func newMigrate(path, databaseURL string) (*migrate.Migrate, error) {
	if path != "" {
		logger.Info("Using migrations directory", "path", path)
		return migrate.New("file://"+path, databaseURL)
	}

	src, err := iofs.New(migrations.FS, ".")
	if err != nil {
		return nil, fmt.Errorf("failed to open embedded migrations: %w", err)
	}
	return migrate.NewWithSourceInstance("iofs", src, databaseURL)
}

func run(m *migrate.Migrate, command string, args []string) error {
	switch command {
	case "up":
		err := m.Up()
		if errors.Is(err, migrate.ErrNoChange) {
			logger.Info("Schema is up to date")
			return nil
		}
		if err != nil {
			return err
		}
		logger.Info("Migrations applied")

	case "down":
		if err := m.Down(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			return err
		}
		logger.Info("Migrations rolled back")

	case "version":
		version, dirty, err := m.Version()
		if errors.Is(err, migrate.ErrNilVersion) {
			logger.Info("No migrations applied")
			return nil
		}
		if err != nil {
			return err
		}
		logger.Info("Current schema version", "version", version, "dirty", dirty)

	case "force":
		if len(args) < 1 {
			return errors.New("force requires a version: -command force <version>")
		}
		version, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid version %q: %w", args[0], err)
		}
		if err := m.Force(version); err != nil {
			return err
		}
		logger.Info("Forced schema version", "version", version)

	default:
		return fmt.Errorf("unknown command %q (use: up, down, version, force)", command)
	}
	return nil
}
