// Package store is the Project Store: a single embedded database scoped
// to one project directory, with WAL journaling, versioned migrations,
// and a process-level write lock serializing all mutations (spec §4.1).
// gorm gives the model layer ergonomic CRUD; claim/release/mark/increment
// operations compile each to a single `UPDATE ... WHERE ...` statement
// (gorm's Model().Where().Updates() chain for claim and mark, a raw Exec
// for release and increment) so ownership-check-and-update stays one
// statement — no TOCTOU.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/ralphx/ralphx/internal/config"
)

// Store is the Project Store. All exported mutation methods serialize
// through writeMu; reads go straight to gorm without taking writeMu. The
// sqlite pool holds a single connection, so a read waits while a write is
// using it.
type Store struct {
	db      *gorm.DB
	logger  *zap.Logger
	writeMu sync.Mutex
	dialect string
}

// Open connects to cfg's backing database, applies PRAGMAs (sqlite only),
// runs pending migrations, and returns a ready Store. For sqlite, the
// state file is created with owner-only permissions per spec §4.1.
func Open(cfg config.DatabaseConfig, logger *zap.Logger) (*Store, error) {
	switch cfg.Type {
	case "sqlite", "":
		return openSQLite(cfg.DSN, logger)
	case "postgres":
		return openPostgres(cfg.DSN, logger)
	default:
		return nil, fmt.Errorf("unsupported database type: %s", cfg.Type)
	}
}

func openSQLite(dsn string, logger *zap.Logger) (*Store, error) {
	// Pre-create the file with 0600 before anything else touches it, since
	// sqlite3's driver will otherwise create it with the process umask.
	if _, err := os.Stat(dsn); os.IsNotExist(err) {
		f, err := os.OpenFile(dsn, os.O_CREATE|os.O_RDWR, 0o600)
		if err != nil {
			return nil, fmt.Errorf("create state file: %w", err)
		}
		_ = f.Close()
	} else {
		_ = os.Chmod(dsn, 0o600)
	}

	dsnWithPragmas := dsn + "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on"
	rawDB, err := sql.Open("sqlite3", dsnWithPragmas)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	rawDB.SetMaxOpenConns(1) // single-writer discipline; reads share this one connection

	if err := runMigrations(rawDB, "sqlite"); err != nil {
		return nil, err
	}

	gdb, err := gorm.Open(sqlite.Dialector{Conn: rawDB}, gormConfig())
	if err != nil {
		return nil, fmt.Errorf("attach gorm to sqlite connection: %w", err)
	}

	return &Store{db: gdb, logger: logger, dialect: "sqlite"}, nil
}

func openPostgres(dsn string, logger *zap.Logger) (*Store, error) {
	rawDB, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	if err := runMigrations(rawDB, "postgres"); err != nil {
		return nil, err
	}

	gdb, err := gorm.Open(postgres.New(postgres.Config{Conn: rawDB}), gormConfig())
	if err != nil {
		return nil, fmt.Errorf("attach gorm to postgres connection: %w", err)
	}

	return &Store{db: gdb, logger: logger, dialect: "postgres"}, nil
}

func gormConfig() *gorm.Config {
	return &gorm.Config{
		Logger:  gormlogger.Default.LogMode(gormlogger.Silent),
		NowFunc: func() time.Time { return time.Now().UTC() },
	}
}

// Close releases the underlying connection.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
