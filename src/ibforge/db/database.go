// Package db provides the SQLite-backed build history and archive cache index.
package db

import (
	"database/sql"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/bitswalk/ibforge/src/common/errors"
	"github.com/bitswalk/ibforge/src/common/paths"
	"github.com/bitswalk/ibforge/src/ibforge/db/migrations"
	_ "github.com/mattn/go-sqlite3"
)

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

// Database wraps the SQLite connection
type Database struct {
	db        *sql.DB
	path      string
	closeOnce sync.Once
}

// Config holds the database configuration
type Config struct {
	// Path is the database file; MemoryPath keeps everything in memory
	Path string
}

// DefaultConfig returns a default database configuration
func DefaultConfig() Config {
	return Config{
		Path: "~/.cache/ibforge/history.db",
	}
}

// Open opens (creating if needed) the database and applies pending migrations
func Open(cfg Config) (*Database, error) {
	path := cfg.Path
	if path == "" {
		path = MemoryPath
	}

	dsn := path
	if path != MemoryPath {
		path = paths.Expand(path)
		if err := paths.EnsureDirPath(filepath.Dir(path)); err != nil {
			return nil, errors.ErrDatabaseConnection.WithMessagef("failed to create %s", filepath.Dir(path)).WithCause(err)
		}
		dsn = "file:" + path + "?_busy_timeout=5000&_journal_mode=WAL"
	}

	sqlDB, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errors.ErrDatabaseConnection.WithCause(err)
	}
	// A single connection keeps :memory: databases shared and serialises writers.
	sqlDB.SetMaxOpenConns(1)

	if _, err := sqlDB.Exec("PRAGMA foreign_keys = ON"); err != nil {
		sqlDB.Close()
		return nil, errors.ErrDatabaseConnection.WithMessage("failed to enable foreign keys").WithCause(err)
	}

	if err := migrations.NewRunner(sqlDB).Run(); err != nil {
		sqlDB.Close()
		return nil, errors.ErrDatabaseConnection.WithMessage("failed to migrate database").WithCause(err)
	}

	return &Database{db: sqlDB, path: path}, nil
}

// DB returns the underlying sql.DB for direct queries
func (d *Database) DB() *sql.DB {
	return d.db
}

// Path returns the resolved database location
func (d *Database) Path() string {
	return d.path
}

// Close closes the connection; subsequent calls are no-ops
func (d *Database) Close() error {
	var closeErr error
	d.closeOnce.Do(func() {
		if err := d.db.Close(); err != nil {
			closeErr = fmt.Errorf("failed to close database: %w", err)
		}
	})
	return closeErr
}
