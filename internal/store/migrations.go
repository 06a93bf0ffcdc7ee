package store

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// runMigrations applies every pending versioned migration to rawDB inside
// a transaction, in order, grounded on codeready-toolchain-tarsy's
// embed.FS + golang-migrate wiring (spec §4.1 "Schema migration:
// versioned").
func runMigrations(rawDB *sql.DB, dialect string) error {
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("load embedded migrations: %w", err)
	}

	var driver migrate.Driver
	switch dialect {
	case "sqlite":
		driver, err = sqlite3.WithInstance(rawDB, &sqlite3.Config{})
	case "postgres":
		driver, err = postgres.WithInstance(rawDB, &postgres.Config{})
	default:
		return fmt.Errorf("unsupported dialect for migrations: %s", dialect)
	}
	if err != nil {
		return fmt.Errorf("build migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, dialect, driver)
	if err != nil {
		return fmt.Errorf("build migrator: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}
