// Package store provides the SQLite-backed relational store for
// repositories, components, assets, and denormalized search rows,
// including the change cursor engine used for incremental replication.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	sqlite3 "github.com/mattn/go-sqlite3"

	"github.com/hallvard/depot/internal/apperr"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS repositories (
	repository_id INTEGER PRIMARY KEY AUTOINCREMENT,
	name   TEXT NOT NULL UNIQUE,
	format TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS components (
	component_id  INTEGER PRIMARY KEY AUTOINCREMENT,
	repository_id INTEGER NOT NULL,
	namespace     TEXT NOT NULL DEFAULT '',
	name          TEXT NOT NULL,
	version       TEXT NOT NULL DEFAULT '',
	base_version  TEXT NOT NULL DEFAULT '',
	kind          TEXT NOT NULL DEFAULT '',
	attributes    TEXT NOT NULL DEFAULT '{}',
	created_at    INTEGER NOT NULL,
	UNIQUE(repository_id, namespace, name, version)
);

CREATE INDEX IF NOT EXISTS idx_components_coordinate
	ON components(repository_id, namespace, name);

CREATE TABLE IF NOT EXISTS assets (
	asset_id        INTEGER PRIMARY KEY AUTOINCREMENT,
	repository_id   INTEGER NOT NULL,
	path            TEXT NOT NULL,
	kind            TEXT NOT NULL DEFAULT '',
	content_type    TEXT NOT NULL DEFAULT '',
	checksums       TEXT NOT NULL DEFAULT '{}',
	attributes      TEXT NOT NULL DEFAULT '{}',
	blob_ref        TEXT NOT NULL DEFAULT '',
	component_id    INTEGER,
	created_at      INTEGER NOT NULL,
	last_updated    INTEGER NOT NULL,
	last_downloaded INTEGER,
	UNIQUE(repository_id, path)
);

CREATE INDEX IF NOT EXISTS idx_assets_last_updated
	ON assets(repository_id, last_updated);

CREATE INDEX IF NOT EXISTS idx_assets_component
	ON assets(component_id);

CREATE TABLE IF NOT EXISTS search_components (
	search_id     INTEGER PRIMARY KEY AUTOINCREMENT,
	repository_id INTEGER NOT NULL,
	format        TEXT NOT NULL DEFAULT '',
	namespace     TEXT NOT NULL DEFAULT '',
	name          TEXT NOT NULL,
	version       TEXT NOT NULL DEFAULT '',
	checksum      TEXT NOT NULL DEFAULT '',
	keywords      TEXT NOT NULL DEFAULT '',
	UNIQUE(repository_id, namespace, name, version)
);
`

// deleteBatchSize bounds each delete transaction so purge loops commit
// frequently instead of holding long-lived locks.
const deleteBatchSize = 100

// Store wraps a sql.DB with repository-content operations.
type Store struct {
	conn *sql.DB
}

// Open opens (or creates) the SQLite database and applies the schema.
func Open(dsn string) (*Store, error) {
	conn, err := sql.Open("sqlite3", dsn+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("store: open db: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}
	if _, err := conn.Exec(schemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("store: apply schema: %w", err)
	}
	return &Store{conn: conn}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.conn.Close()
}

// micros converts a time to the Unix-microsecond representation used in
// the schema. Sub-millisecond precision is preserved so millisecond
// truncation in the cursor engine is a real operation.
func micros(t time.Time) int64 {
	return t.UnixMicro()
}

func fromMicros(n int64) time.Time {
	return time.UnixMicro(n).UTC()
}

// mapConflict converts a unique-constraint violation into ErrConflict.
func mapConflict(err error) error {
	var sqlErr sqlite3.Error
	if errors.As(err, &sqlErr) && sqlErr.ExtendedCode == sqlite3.ErrConstraintUnique {
		return apperr.ErrConflict
	}
	return err
}
