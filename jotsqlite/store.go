// Copyright 2025 The Jottery Authors
// SPDX-License-Identifier: Apache-2.0

package jotsqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/seesee/jottery/jotsync"
)

// schemaVersion is the version this build writes. Opening an older
// store runs the forward migrations below; opening a newer one fails
// with ErrSchemaTooNew.
const schemaVersion = 2

// migrations are applied in order, each inside its own transaction,
// bumping user_version as it commits. Migration 1 creates every
// repository; it must succeed on stores that never initialize
// encryption, so nothing here references key material.
var migrations = []string{
	// v1: full initial schema.
	`CREATE TABLE notes (
		id              TEXT PRIMARY KEY,
		created_at      TEXT NOT NULL,
		modified_at     TEXT NOT NULL,
		synced_at       TEXT,
		content         TEXT NOT NULL,
		tags            TEXT NOT NULL,
		attachments     TEXT NOT NULL DEFAULT '[]',
		pinned          INTEGER NOT NULL DEFAULT 0,
		deleted         INTEGER NOT NULL DEFAULT 0,
		deleted_at      TEXT,
		sync_hash       TEXT,
		version         INTEGER NOT NULL DEFAULT 1,
		word_wrap       INTEGER NOT NULL DEFAULT 1,
		syntax_language TEXT NOT NULL DEFAULT 'plain'
	);
	CREATE INDEX idx_notes_modified ON notes(modified_at);
	CREATE INDEX idx_notes_deleted ON notes(deleted);
	CREATE INDEX idx_notes_pinned ON notes(pinned);
	CREATE INDEX idx_notes_deleted_modified ON notes(deleted, modified_at);

	CREATE TABLE attachments (
		id   TEXT PRIMARY KEY,
		data TEXT NOT NULL
	);

	CREATE TABLE settings (
		id                INTEGER PRIMARY KEY CHECK (id = 1),
		language          TEXT NOT NULL,
		theme             TEXT NOT NULL,
		sort_order        TEXT NOT NULL,
		auto_lock_timeout INTEGER NOT NULL,
		sync_enabled      INTEGER NOT NULL DEFAULT 0,
		sync_endpoint     TEXT
	);

	CREATE TABLE encryption_metadata (
		id         INTEGER PRIMARY KEY CHECK (id = 1),
		salt       TEXT NOT NULL,
		iterations INTEGER NOT NULL,
		created_at TEXT NOT NULL,
		algorithm  TEXT NOT NULL
	);

	CREATE TABLE sync_metadata (
		id                 INTEGER PRIMARY KEY CHECK (id = 1),
		last_sync_at       TEXT,
		last_push_at       TEXT,
		last_pull_at       TEXT,
		api_key            TEXT NOT NULL DEFAULT '',
		client_id          TEXT NOT NULL DEFAULT '',
		sync_enabled       INTEGER NOT NULL DEFAULT 0,
		sync_endpoint      TEXT NOT NULL DEFAULT '',
		auto_sync_interval INTEGER NOT NULL DEFAULT 5
	);

	CREATE TABLE note_sync_metadata (
		note_id          TEXT PRIMARY KEY,
		synced_at        TEXT NOT NULL,
		sync_hash        TEXT NOT NULL DEFAULT '',
		server_version   INTEGER NOT NULL DEFAULT 0,
		last_sync_status TEXT NOT NULL,
		error_message    TEXT
	);

	CREATE TABLE pushed_blobs (
		id        TEXT PRIMARY KEY,
		pushed_at TEXT NOT NULL
	);`,

	// v2: thumbnail blob family, separate from attachment data so list
	// views can fetch previews without paging full blobs.
	`CREATE TABLE thumbnails (
		id   TEXT PRIMARY KEY,
		data TEXT NOT NULL
	);`,
}

// Store is the durable keyed container behind the client. All access
// goes through the typed repositories it exposes.
type Store struct {
	db     *sql.DB
	logger *slog.Logger

	// Serialize writes; SQLite allows one writer and the driver surfaces
	// contention as busy errors otherwise.
	writeMu sync.Mutex

	now func() time.Time // test seam
}

// OpenStore opens or creates a store at path. Use ":memory:" for tests.
func OpenStore(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	// Single connection: SQLite is a one-writer store, and in-memory
	// databases exist per connection.
	db.SetMaxOpenConns(1)
	s := &Store{db: db, logger: logger, now: time.Now}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	var current int
	if err := s.db.QueryRow(`PRAGMA user_version`).Scan(&current); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if current > schemaVersion {
		return fmt.Errorf("%w: store is v%d, this build supports v%d",
			ErrSchemaTooNew, current, schemaVersion)
	}
	for v := current; v < schemaVersion; v++ {
		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", v+1, err)
		}
		if _, err := tx.Exec(migrations[v]); err != nil {
			tx.Rollback() //nolint:errcheck
			return fmt.Errorf("apply migration %d: %w", v+1, err)
		}
		if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", v+1)); err != nil {
			tx.Rollback() //nolint:errcheck
			return fmt.Errorf("stamp migration %d: %w", v+1, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", v+1, err)
		}
		s.logger.Debug("applied store migration", "version", v+1)
	}
	return nil
}

// SchemaVersion reports the store's current schema version.
func (s *Store) SchemaVersion() (int, error) {
	var v int
	err := s.db.QueryRow(`PRAGMA user_version`).Scan(&v)
	return v, err
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Notes returns the notes repository.
func (s *Store) Notes() *NotesRepo { return &NotesRepo{s} }

// Attachments returns the attachment blob repository.
func (s *Store) Attachments() *AttachmentsRepo { return &AttachmentsRepo{s} }

// Settings returns the settings repository.
func (s *Store) Settings() *SettingsRepo { return &SettingsRepo{s} }

// Encryption returns the encryption metadata repository.
func (s *Store) Encryption() *EncryptionRepo { return &EncryptionRepo{s} }

// SyncMeta returns the sync metadata repository.
func (s *Store) SyncMeta() *SyncMetaRepo { return &SyncMetaRepo{s} }

// Wipe removes every row from every repository in one transaction.
// After it returns, no read reveals pre-wipe bytes.
func (s *Store) Wipe(ctx context.Context) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin wipe: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	for _, table := range []string{
		"notes", "attachments", "thumbnails", "settings",
		"encryption_metadata", "sync_metadata", "note_sync_metadata", "pushed_blobs",
	} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("wipe %s: %w", table, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit wipe: %w", err)
	}
	s.logger.Info("store wiped")
	return nil
}

// formatTime and parseTime delegate to the shared wire layout so
// storage comparisons and wire payloads agree byte-for-byte.
func formatTime(t time.Time) string { return jotsync.FormatTime(t) }

func parseTime(s string) (time.Time, error) { return jotsync.ParseTime(s) }

func formatTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseTimePtr(s sql.NullString) (*time.Time, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
