package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/engramhq/engram/internal/storage"
)

// StorageMode selects the pragma profile applied on open.
type StorageMode string

const (
	// ModeLocal favours throughput for a single-machine, single-writer
	// workload: WAL journal, normal sync, larger caches and mmap window.
	ModeLocal StorageMode = "local"

	// ModeCloudSafe favours durability when the database file lives inside
	// a folder synced by a cloud client (Dropbox/OneDrive/iCloud/etc), where
	// WAL's auxiliary -wal/-shm files can be partially synced mid-write and
	// corrupt the database: plain rollback journal, full sync.
	ModeCloudSafe StorageMode = "cloud-safe"
)

// cloudSyncFolderHints are substrings that, when found in a database path
// opened in ModeLocal, suggest the file lives inside a cloud-sync folder and
// should probably be opened in ModeCloudSafe instead.
var cloudSyncFolderHints = []string{
	"dropbox", "google drive", "googledrive", "onedrive", "icloud drive", "icloudservice",
}

// Config configures Open.
type Config struct {
	Path   string
	Mode   StorageMode
	Logger func(format string, args ...interface{}) // warning sink; nil is allowed
}

// Connection wraps an opened, migrated database handle with the
// transaction helpers spec.md's connection manager exposes.
type Connection struct {
	db   *sql.DB
	mode StorageMode
}

// Open opens (creating parent directories as needed), migrates, and applies
// the pragma profile for cfg.Mode to the database at cfg.Path.
func Open(cfg Config) (*Connection, error) {
	if cfg.Mode == "" {
		cfg.Mode = ModeLocal
	}

	if cfg.Mode == ModeLocal && cfg.Path != "" {
		lower := strings.ToLower(cfg.Path)
		for _, hint := range cloudSyncFolderHints {
			if strings.Contains(lower, hint) {
				if cfg.Logger != nil {
					cfg.Logger("warning: database path %q appears to be inside a cloud-sync folder; consider storage mode %q", cfg.Path, ModeCloudSafe)
				}
				break
			}
		}
	}

	if cfg.Path != "" && cfg.Path != ":memory:" {
		if dir := filepath.Dir(cfg.Path); dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("sqlite: failed to create database directory %q: %w", dir, err)
			}
		}
	}

	dsn := cfg.Path
	if dsn == "" {
		dsn = ":memory:"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to open %q: %w", dsn, err)
	}

	// A single shared connection serialises writes against SQLite's
	// single-writer model; concurrent readers still proceed under WAL.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := applyPragmas(db, cfg.Mode); err != nil {
		db.Close()
		return nil, err
	}

	mgr, err := storage.NewMigrationManager(db, toStorageMigrations(migrations), "schema_version")
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: failed to create migration manager: %w", err)
	}
	if err := mgr.Up(); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: migration failed: %w", err)
	}

	return &Connection{db: db, mode: cfg.Mode}, nil
}

// OpenInMemory opens a throwaway `:memory:` database with the local pragma
// profile, fully migrated. Useful for tests and ephemeral sessions.
func OpenInMemory() (*Connection, error) {
	return Open(Config{Path: ":memory:", Mode: ModeLocal})
}

func toStorageMigrations(steps []migrationStep) []storage.Migration {
	out := make([]storage.Migration, len(steps))
	for i, s := range steps {
		out[i] = storage.Migration{Version: s.version, Name: s.name, SQL: s.sql}
	}
	return out
}

func applyPragmas(db *sql.DB, mode StorageMode) error {
	var stmts []string
	switch mode {
	case ModeCloudSafe:
		stmts = []string{
			"PRAGMA journal_mode=DELETE",
			"PRAGMA synchronous=FULL",
			"PRAGMA busy_timeout=30000",
			"PRAGMA cache_size=-32000", // 32MB
			"PRAGMA temp_store=MEMORY",
			"PRAGMA foreign_keys=ON",
		}
	default: // ModeLocal
		stmts = []string{
			"PRAGMA journal_mode=WAL",
			"PRAGMA synchronous=NORMAL",
			"PRAGMA busy_timeout=30000",
			"PRAGMA cache_size=-65536", // 64MB
			"PRAGMA temp_store=MEMORY",
			"PRAGMA mmap_size=268435456", // 256MB
			"PRAGMA foreign_keys=ON",
		}
	}

	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("sqlite: failed to apply %q: %w", stmt, err)
		}
	}
	return nil
}

// DB exposes the underlying handle for callers building store implementations.
func (c *Connection) DB() *sql.DB { return c.db }

// Close closes the underlying database handle.
func (c *Connection) Close() error { return c.db.Close() }

// WithConnection runs f with shared (read) access to the database.
func (c *Connection) WithConnection(ctx context.Context, f func(ctx context.Context, db *sql.DB) error) error {
	return f(ctx, c.db)
}

// WithTransaction runs f inside a BEGIN…COMMIT block, rolling back if f
// returns an error or panics.
func (c *Connection) WithTransaction(ctx context.Context, f func(ctx context.Context, tx *sql.Tx) error) (err error) {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
	}()

	if err = f(ctx, tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("%w (rollback also failed: %v)", err, rbErr)
		}
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: failed to commit transaction: %w", err)
	}
	return nil
}

// Pool round-robins read access across N pre-opened, identically-migrated
// connections. Writes should go through the primary Connection returned by
// Open, since SQLite serialises writers regardless.
type Pool struct {
	conns []*Connection
	next  int
}

// NewPool opens size independently-migrated connections to the same
// database path, all sharing cfg.Mode.
func NewPool(cfg Config, size int) (*Pool, error) {
	if size <= 0 {
		size = 1
	}
	conns := make([]*Connection, 0, size)
	for i := 0; i < size; i++ {
		conn, err := Open(cfg)
		if err != nil {
			for _, c := range conns {
				c.Close()
			}
			return nil, err
		}
		conns = append(conns, conn)
	}
	return &Pool{conns: conns}, nil
}

// Next returns the next connection in round-robin order.
func (p *Pool) Next() *Connection {
	c := p.conns[p.next%len(p.conns)]
	p.next++
	return c
}

// Close closes every connection in the pool.
func (p *Pool) Close() error {
	var firstErr error
	for _, c := range p.conns {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
