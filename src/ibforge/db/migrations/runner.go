// Package migrations versions the history database schema. The applied
// version is kept in SQLite's user_version header field.
package migrations

import (
	"database/sql"
	"fmt"

	"github.com/bitswalk/ibforge/src/common/logs"
)

var log = logs.NewDefault()

// SetLogger sets the logger for the migrations package
func SetLogger(l *logs.Logger) {
	log = l
}

// Migration is one schema step. Versions start at 1 and are contiguous.
type Migration struct {
	Version     int
	Description string
	Up          func(tx *sql.Tx) error
}

// all lists every migration in version order
var all = []Migration{
	migration001InitialSchema(),
	migration002ArtifactRemoteKey(),
}

// Runner applies pending migrations to a database
type Runner struct {
	db         *sql.DB
	migrations []Migration
}

// NewRunner creates a runner for the built-in migrations
func NewRunner(db *sql.DB) *Runner {
	return &Runner{db: db, migrations: all}
}

// Latest returns the schema version this build knows about
func (r *Runner) Latest() int {
	if len(r.migrations) == 0 {
		return 0
	}
	return r.migrations[len(r.migrations)-1].Version
}

// CurrentVersion returns the schema version recorded in the database
func (r *Runner) CurrentVersion() (int, error) {
	var version int
	if err := r.db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return 0, fmt.Errorf("failed to read schema version: %w", err)
	}
	return version, nil
}

// PendingCount returns the number of migrations not yet applied
func (r *Runner) PendingCount() (int, error) {
	current, err := r.CurrentVersion()
	if err != nil {
		return 0, err
	}
	if current >= r.Latest() {
		return 0, nil
	}
	return r.Latest() - current, nil
}

// Run applies every pending migration, each in its own transaction.
// A database written by a newer ibforge is rejected.
func (r *Runner) Run() error {
	for i, m := range r.migrations {
		if m.Version != i+1 {
			return fmt.Errorf("migration list out of order: position %d holds version %d", i+1, m.Version)
		}
	}

	current, err := r.CurrentVersion()
	if err != nil {
		return err
	}
	if current > r.Latest() {
		return fmt.Errorf("database schema version %d is newer than supported version %d", current, r.Latest())
	}

	for _, m := range r.migrations[current:] {
		if err := r.apply(m); err != nil {
			log.Error("Migration failed", "version", m.Version, "description", m.Description, "error", err)
			return fmt.Errorf("migration %d (%s) failed: %w", m.Version, m.Description, err)
		}
	}
	return nil
}

func (r *Runner) apply(m Migration) error {
	log.Debug("Applying migration", "version", m.Version, "description", m.Description)

	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := m.Up(tx); err != nil {
		tx.Rollback()
		return err
	}
	// PRAGMA takes no bind parameters
	if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", m.Version)); err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to record schema version: %w", err)
	}
	return tx.Commit()
}
