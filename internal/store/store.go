// Package store persists licenses, site activations, download tokens
// and the sweep lease in SQLite. It is the concrete implementation of
// the record-store contracts declared by the license and token
// packages.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// Store wraps the SQLite handle.
type Store struct {
	db *sql.DB
}

// Open opens (creating when necessary) the database at path and
// ensures the schema exists. Pass ":memory:" for an ephemeral store.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create database directory %s: %w", dir, err)
			}
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database at %s: %w", path, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		slog.Warn("could not enable WAL mode", slog.String("error", err.Error()))
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS licenses (
			license_key         TEXT PRIMARY KEY,
			service_id          TEXT NOT NULL DEFAULT '',
			override            TEXT NOT NULL DEFAULT '',
			start_date          TEXT NOT NULL DEFAULT '',
			end_date            TEXT NOT NULL DEFAULT '',
			item_type           TEXT NOT NULL DEFAULT '',
			item_slug           TEXT NOT NULL DEFAULT '',
			max_allowed_domains INTEGER NOT NULL DEFAULT 0,
			created_at          TEXT NOT NULL,
			updated_at          TEXT NOT NULL
		);
		CREATE TABLE IF NOT EXISTS license_meta (
			license_key TEXT NOT NULL,
			meta_key    TEXT NOT NULL,
			meta_value  TEXT NOT NULL,
			PRIMARY KEY (license_key, meta_key)
		);
		CREATE TABLE IF NOT EXISTS license_sites (
			license_key  TEXT NOT NULL,
			domain       TEXT NOT NULL,
			site_url     TEXT NOT NULL,
			secret       TEXT NOT NULL,
			activated_at TEXT NOT NULL,
			PRIMARY KEY (license_key, domain)
		);
		CREATE TABLE IF NOT EXISTS download_tokens (
			token       TEXT PRIMARY KEY,
			license_key TEXT NOT NULL,
			item_type   TEXT NOT NULL,
			item_slug   TEXT NOT NULL,
			signature   TEXT NOT NULL,
			expires_at  INTEGER NOT NULL,
			created_at  INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_download_tokens_expires ON download_tokens(expires_at);
		CREATE INDEX IF NOT EXISTS idx_download_tokens_license ON download_tokens(license_key);
		CREATE TABLE IF NOT EXISTS sweep_lease (
			name       TEXT PRIMARY KEY,
			owner      TEXT NOT NULL,
			expires_at INTEGER NOT NULL
		);
	`)
	return err
}
