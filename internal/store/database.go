// Package store implements the transactional SQLite store (spec §4.E, §6
// "Persistent store layout"): single file, WAL journal mode, one writer,
// PRAGMA user_version schema versioning with timestamped backup on
// upgrade.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

const (
	dirPermissions  = 0750
	filePermissions = 0640 // spec §6 "ownership pyde1:pyde1, 0640"

	msPerSecond = 1000

	connectionTimeout = 5 * time.Second
	connMaxIdleTime   = 30 * time.Minute
)

// DB wraps a sql.DB connection with the store's migration and health-check
// behaviour.
type DB struct {
	*sql.DB
	path string
}

// Config maps to spec §6's `database` config section.
type Config struct {
	Path        string
	WALMode     bool
	BusyTimeout int // seconds
	BackupTimeout time.Duration
}

// Open creates the directory if needed, opens the SQLite file with the
// configured pragmas, verifies connectivity, and applies any pending schema
// upgrade (see migrate.go). It takes a context so the connectivity check
// and migration are both cancellable.
func Open(ctx context.Context, cfg Config) (*DB, error) {
	dir := filepath.Dir(cfg.Path)
	if err := os.MkdirAll(dir, dirPermissions); err != nil {
		return nil, fmt.Errorf("store: creating database directory: %w", err)
	}

	connStr := fmt.Sprintf("file:%s?_busy_timeout=%d&_foreign_keys=on",
		cfg.Path, cfg.BusyTimeout*msPerSecond)
	if cfg.WALMode {
		connStr += "&_journal_mode=WAL&_synchronous=NORMAL"
	}

	sqlDB, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("store: opening database: %w", err)
	}

	sqlDB.SetMaxOpenConns(1) // SQLite: one writer
	sqlDB.SetMaxIdleConns(1)
	sqlDB.SetConnMaxLifetime(time.Hour)
	sqlDB.SetConnMaxIdleTime(connMaxIdleTime)

	db := &DB{DB: sqlDB, path: cfg.Path}

	pingCtx, cancel := context.WithTimeout(ctx, connectionTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		sqlDB.Close() //nolint:errcheck // best-effort cleanup on error path
		return nil, fmt.Errorf("store: verifying database connection: %w", err)
	}

	if err := migrate(ctx, db, cfg); err != nil {
		sqlDB.Close() //nolint:errcheck
		return nil, err
	}

	_ = os.Chmod(cfg.Path, filePermissions) //nolint:errcheck // file may not exist yet on first run
	return db, nil
}

func (db *DB) Close() error {
	if db.DB == nil {
		return nil
	}
	if err := db.DB.Close(); err != nil {
		return fmt.Errorf("store: closing database: %w", err)
	}
	return nil
}

func (db *DB) Path() string { return db.path }

// HealthCheck verifies the database is accessible.
func (db *DB) HealthCheck(ctx context.Context) error {
	var result int
	if err := db.QueryRowContext(ctx, "SELECT 1").Scan(&result); err != nil {
		return fmt.Errorf("store: health check failed: %w", err)
	}
	return nil
}

func (db *DB) Stats() sql.DBStats { return db.DB.Stats() }
