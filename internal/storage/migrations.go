// Package storage provides composable storage interfaces for Engram.
package storage

import (
	"database/sql"
	"errors"
	"fmt"
)

// ErrNoMigration indicates no migration has been applied yet.
var ErrNoMigration = errors.New("no migration")

// Migration is one forward-only, transactionally-applied schema change.
// Backends embed their schema as Go string constants (see
// internal/storage/sqlite/schema.go) rather than reading files off disk, so
// the module works from a single binary and against in-memory databases.
type Migration struct {
	Version uint
	Name    string
	SQL     string
}

// MigrationManager applies an ordered, forward-only list of embedded
// migrations, tracking the current version in a schema_version table.
type MigrationManager struct {
	db         *sql.DB
	migrations []Migration
	versionSQL string
}

// NewMigrationManager creates a MigrationManager over db for the given
// ordered migration list. versionSQL names the table the first migration is
// expected to create ("schema_version" for sqlite, "schema_migrations" for
// cloud-safe/postgres-style backends that may reuse this runner).
func NewMigrationManager(db *sql.DB, migrations []Migration, versionTable string) (*MigrationManager, error) {
	if db == nil {
		return nil, fmt.Errorf("migrations: database connection is required")
	}
	if versionTable == "" {
		versionTable = "schema_version"
	}
	return &MigrationManager{db: db, migrations: migrations, versionSQL: versionTable}, nil
}

// Up applies all migrations with version greater than the current version,
// each inside its own transaction, in ascending order. Fails fast: the
// first migration that cannot apply aborts the whole run, leaving the
// database at the last successfully applied version.
func (mgr *MigrationManager) Up() error {
	currentVersion, _, err := mgr.Version()
	if err != nil && !errors.Is(err, ErrNoMigration) {
		return fmt.Errorf("migrations: failed to read current version: %w", err)
	}

	for _, m := range mgr.migrations {
		if m.Version <= currentVersion {
			continue
		}

		tx, err := mgr.db.Begin()
		if err != nil {
			return fmt.Errorf("migrations: failed to begin transaction for version %d: %w", m.Version, err)
		}

		if _, err := tx.Exec(m.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("migrations: failed to apply version %d (%s): %w", m.Version, m.Name, err)
		}

		if _, err := tx.Exec(fmt.Sprintf("INSERT INTO %s (version) VALUES (?)", mgr.versionSQL), m.Version); err != nil {
			tx.Rollback()
			return fmt.Errorf("migrations: failed to record version %d: %w", m.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("migrations: failed to commit version %d: %w", m.Version, err)
		}
	}

	return nil
}

// Version returns the highest applied migration version. Returns
// (0, false, ErrNoMigration) when no migration has been applied — which is
// also the case before the first migration creates the version table, so
// the caller must tolerate a "no such table" query error on a fresh database.
func (mgr *MigrationManager) Version() (uint, bool, error) {
	var version uint
	query := fmt.Sprintf("SELECT COALESCE(MAX(version), 0) FROM %s", mgr.versionSQL)
	if err := mgr.db.QueryRow(query).Scan(&version); err != nil {
		return 0, false, ErrNoMigration
	}

	if version == 0 {
		return 0, false, ErrNoMigration
	}
	return version, false, nil
}
