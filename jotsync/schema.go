// Copyright 2025 The Jottery Authors
// SPDX-License-Identifier: Apache-2.0

package jotsync

import (
	"fmt"

	"github.com/jmoiron/sqlx"
)

// initializeSchema creates the server tables if they don't exist. All
// statements are idempotent, so startup is safe against partially
// initialized databases.
func initializeSchema(db *sqlx.DB) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS clients (
			id           TEXT PRIMARY KEY,
			api_key      TEXT NOT NULL UNIQUE,
			device_name  TEXT NOT NULL,
			device_type  TEXT NOT NULL,
			created_at   TEXT NOT NULL,
			last_seen_at TEXT NOT NULL,
			is_active    INTEGER NOT NULL DEFAULT 1
		)`,

		`CREATE TABLE IF NOT EXISTS notes (
			id                 TEXT NOT NULL,
			client_id          TEXT NOT NULL,
			created_at         TEXT NOT NULL,
			modified_at        TEXT NOT NULL,
			server_modified_at TEXT NOT NULL,
			content            TEXT NOT NULL,
			tags               TEXT NOT NULL,
			pinned             INTEGER NOT NULL DEFAULT 0,
			deleted            INTEGER NOT NULL DEFAULT 0,
			deleted_at         TEXT,
			version            INTEGER NOT NULL DEFAULT 1,
			server_version     INTEGER NOT NULL DEFAULT 1,
			word_wrap          INTEGER,
			syntax_language    TEXT,
			PRIMARY KEY (client_id, id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_notes_client_server_modified
			ON notes(client_id, server_modified_at)`,
		`CREATE INDEX IF NOT EXISTS idx_notes_client_deleted
			ON notes(client_id, deleted)`,

		`CREATE TABLE IF NOT EXISTS attachments_meta (
			id         TEXT PRIMARY KEY,
			client_id  TEXT NOT NULL,
			note_id    TEXT NOT NULL,
			filename   TEXT NOT NULL,
			mime_type  TEXT NOT NULL,
			size       INTEGER NOT NULL,
			created_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_attachments_meta_note
			ON attachments_meta(client_id, note_id)`,

		`CREATE TABLE IF NOT EXISTS attachments_data (
			id         TEXT PRIMARY KEY,
			data       BLOB NOT NULL,
			created_at TEXT NOT NULL
		)`,

		// Diagnostic audit trail. Truncatable at any time.
		`CREATE TABLE IF NOT EXISTS sync_operations (
			id               INTEGER PRIMARY KEY AUTOINCREMENT,
			client_id        TEXT NOT NULL,
			operation        TEXT NOT NULL,
			note_count       INTEGER NOT NULL DEFAULT 0,
			attachment_count INTEGER NOT NULL DEFAULT 0,
			created_at       TEXT NOT NULL
		)`,
	}

	for _, stmt := range migrations {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("schema init: %w", err)
		}
	}
	return nil
}

// serverNote is the storage row for a per-client note.
type serverNote struct {
	ID               string  `db:"id"`
	ClientID         string  `db:"client_id"`
	CreatedAt        string  `db:"created_at"`
	ModifiedAt       string  `db:"modified_at"`
	ServerModifiedAt string  `db:"server_modified_at"`
	Content          string  `db:"content"`
	Tags             string  `db:"tags"`
	Pinned           int     `db:"pinned"`
	Deleted          int     `db:"deleted"`
	DeletedAt        *string `db:"deleted_at"`
	Version          int64   `db:"version"`
	ServerVersion    int64   `db:"server_version"`
	WordWrap         *int    `db:"word_wrap"`
	SyntaxLanguage   *string `db:"syntax_language"`
}

// registeredClient is the storage row for a device registration. The
// api_key column holds the SHA-256 hex of the bearer key; the raw key is
// stored nowhere.
type registeredClient struct {
	ID         string `db:"id"`
	APIKeyHash string `db:"api_key"`
	DeviceName string `db:"device_name"`
	DeviceType string `db:"device_type"`
	CreatedAt  string `db:"created_at"`
	LastSeenAt string `db:"last_seen_at"`
	IsActive   int    `db:"is_active"`
}

func (n *serverNote) toWire() SyncNote {
	note := SyncNote{
		ID:         n.ID,
		CreatedAt:  n.CreatedAt,
		ModifiedAt: n.ModifiedAt,
		Content:    n.Content,
		Tags:       n.Tags,
		Pinned:     n.Pinned != 0,
		Deleted:    n.Deleted != 0,
		DeletedAt:  n.DeletedAt,
		Version:    n.Version,

		ServerVersion: n.ServerVersion,
	}
	if n.WordWrap != nil {
		w := *n.WordWrap != 0
		note.WordWrap = &w
	}
	note.SyntaxLanguage = n.SyntaxLanguage
	return note
}
