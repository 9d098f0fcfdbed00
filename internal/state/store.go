// Package state is the policy store: a SQLite database holding the setup
// settings, the known-domain history, the client inventory, the group
// tables that drive blocking, and the ACME key/value artifacts.
//
// The pure Go driver (modernc.org/sqlite) is used so the appliance builds
// without CGO. Queries go through sqlx.
package state

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"grimm.is/hmdl/internal/clock"
)

// Common errors
var (
	ErrNotFound     = errors.New("not found")
	ErrAlreadySetup = errors.New("settings already exist")
)

// SQLiteStore is the SQLite-backed policy store.
type SQLiteStore struct {
	db    *sqlx.DB
	clock clock.Clock
}

// Options configures the SQLite store.
type Options struct {
	Path    string      // Database file path (":memory:" for in-memory)
	WALMode bool        // Enable WAL mode for better concurrency
	Clock   clock.Clock // Optional: time source (defaults to RealClock if nil)
}

// DefaultOptions returns sensible defaults.
func DefaultOptions(path string) Options {
	return Options{
		Path:    path,
		WALMode: true,
	}
}

// NewSQLiteStore opens (creating if needed) the database and applies the schema.
func NewSQLiteStore(opts Options) (*SQLiteStore, error) {
	dsn := opts.Path
	memory := strings.Contains(opts.Path, ":memory:")
	if !memory && !strings.HasPrefix(dsn, "file:") {
		dsn = "file:" + dsn
	}

	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// A single connection serializes writers, which SQLite requires anyway,
	// and keeps an in-memory database alive for the lifetime of the store.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA temp_store = MEMORY",
	}
	if opts.WALMode && !memory {
		pragmas = append(pragmas, "PRAGMA journal_mode = WAL", "PRAGMA synchronous = NORMAL")
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to execute pragma %q: %w", p, err)
		}
	}

	clk := opts.Clock
	if clk == nil {
		clk = &clock.RealClock{}
	}

	s := &SQLiteStore{db: db, clock: clk}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

// initSchema creates the database tables.
func (s *SQLiteStore) initSchema() error {
	schema := `
		-- Singleton install settings; lock_column pins the table to one row.
		CREATE TABLE IF NOT EXISTS settings (
			lock_column INTEGER PRIMARY KEY CHECK (lock_column = 1),
			application_domain TEXT NOT NULL,
			cloudflare_api_token TEXT NOT NULL,
			acme_email TEXT NOT NULL,
			https_started INTEGER NOT NULL DEFAULT 0
		);

		CREATE TABLE IF NOT EXISTS known_domains (
			name TEXT PRIMARY KEY,
			last_seen DATETIME NOT NULL,
			last_client TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS clients (
			name TEXT PRIMARY KEY,
			ip TEXT NOT NULL,
			mac TEXT NOT NULL,
			last_seen DATETIME NOT NULL
		);

		CREATE TABLE IF NOT EXISTS client_groups (
			name TEXT PRIMARY KEY
		);

		CREATE TABLE IF NOT EXISTS domain_groups (
			name TEXT PRIMARY KEY
		);

		CREATE TABLE IF NOT EXISTS client_group_member (
			client_name TEXT NOT NULL,
			group_name TEXT NOT NULL REFERENCES client_groups(name) ON DELETE CASCADE,
			PRIMARY KEY (client_name, group_name)
		);

		CREATE TABLE IF NOT EXISTS domain_group_member (
			domain_name TEXT NOT NULL,
			group_name TEXT NOT NULL REFERENCES domain_groups(name) ON DELETE CASCADE,
			manually_set INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (domain_name, group_name)
		);

		CREATE TABLE IF NOT EXISTS groups_applied (
			client_group_name TEXT NOT NULL REFERENCES client_groups(name) ON DELETE CASCADE,
			domain_group_name TEXT NOT NULL REFERENCES domain_groups(name) ON DELETE CASCADE,
			PRIMARY KEY (client_group_name, domain_group_name)
		);

		CREATE TABLE IF NOT EXISTS acme_persist (
			acme_key TEXT PRIMARY KEY,
			acme_value BLOB NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_domain_group_member_group ON domain_group_member(group_name);
		CREATE INDEX IF NOT EXISTS idx_groups_applied_domain ON groups_applied(domain_group_name);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Ping checks that the database is reachable.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
