// Copyright 2025 The Jottery Authors
// SPDX-License-Identifier: Apache-2.0

package jotsqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// NotesRepo stores encrypted note rows. It owns the version and
// modifiedAt stamping: every Update bumps both before the write
// commits, so the invariants hold no matter which service calls it.
type NotesRepo struct {
	store *Store
}

const noteColumns = `id, created_at, modified_at, synced_at, content, tags, attachments,
	pinned, deleted, deleted_at, sync_hash, version, word_wrap, syntax_language`

// Create inserts a note exactly as given. Callers set Version (1 for
// new notes; pulled notes keep the server's value).
func (r *NotesRepo) Create(ctx context.Context, note *Note) error {
	r.store.writeMu.Lock()
	defer r.store.writeMu.Unlock()
	return r.insert(ctx, note)
}

func (r *NotesRepo) insert(ctx context.Context, note *Note) error {
	attachments, err := json.Marshal(note.Attachments)
	if err != nil {
		return fmt.Errorf("marshal attachments: %w", err)
	}
	_, err = r.store.db.ExecContext(ctx, `
		INSERT INTO notes (`+noteColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		note.ID,
		formatTime(note.CreatedAt),
		formatTime(note.ModifiedAt),
		formatTimePtr(note.SyncedAt),
		note.Content,
		note.Tags,
		string(attachments),
		boolToInt(note.Pinned),
		boolToInt(note.Deleted),
		formatTimePtr(note.DeletedAt),
		nullIfEmpty(note.SyncHash),
		note.Version,
		boolToInt(note.WordWrap),
		string(note.SyntaxLanguage),
	)
	if err != nil {
		return fmt.Errorf("insert note %s: %w", note.ID, err)
	}
	return nil
}

// Get returns one note, ErrNotFound when absent.
func (r *NotesRepo) Get(ctx context.Context, id string) (*Note, error) {
	row := r.store.db.QueryRowContext(ctx,
		`SELECT `+noteColumns+` FROM notes WHERE id = ?`, id)
	note, err := scanNote(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("note %s: %w", id, ErrNotFound)
	}
	return note, err
}

// GetByIDs returns the notes that exist among ids, in the order of ids.
func (r *NotesRepo) GetByIDs(ctx context.Context, ids []string) ([]*Note, error) {
	notes := make([]*Note, 0, len(ids))
	for _, id := range ids {
		note, err := r.Get(ctx, id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		notes = append(notes, note)
	}
	return notes, nil
}

// GetAll returns every note, deleted included.
func (r *NotesRepo) GetAll(ctx context.Context) ([]*Note, error) {
	return r.query(ctx, `SELECT `+noteColumns+` FROM notes ORDER BY modified_at DESC`)
}

// GetAllActive excludes soft-deleted notes.
func (r *NotesRepo) GetAllActive(ctx context.Context) ([]*Note, error) {
	return r.query(ctx,
		`SELECT `+noteColumns+` FROM notes WHERE deleted = 0 ORDER BY modified_at DESC`)
}

// GetDeleted returns only soft-deleted notes.
func (r *NotesRepo) GetDeleted(ctx context.Context) ([]*Note, error) {
	return r.query(ctx,
		`SELECT `+noteColumns+` FROM notes WHERE deleted = 1 ORDER BY modified_at DESC`)
}

// GetPinned returns pinned, active notes.
func (r *NotesRepo) GetPinned(ctx context.Context) ([]*Note, error) {
	return r.query(ctx,
		`SELECT `+noteColumns+` FROM notes WHERE pinned = 1 AND deleted = 0 ORDER BY modified_at DESC`)
}

// GetModifiedAfter returns notes (deleted included — deletions must
// sync too) with modifiedAt strictly after ts. Index-driven via
// idx_notes_modified.
func (r *NotesRepo) GetModifiedAfter(ctx context.Context, ts time.Time) ([]*Note, error) {
	return r.query(ctx,
		`SELECT `+noteColumns+` FROM notes WHERE modified_at > ? ORDER BY modified_at`,
		formatTime(ts))
}

// Update persists note's fields, stamping modifiedAt = now and bumping
// the version by one. The passed note is updated in place with the
// stamped values.
func (r *NotesRepo) Update(ctx context.Context, note *Note) error {
	r.store.writeMu.Lock()
	defer r.store.writeMu.Unlock()

	note.ModifiedAt = r.store.now().UTC()
	note.Version++

	attachments, err := json.Marshal(note.Attachments)
	if err != nil {
		return fmt.Errorf("marshal attachments: %w", err)
	}
	res, err := r.store.db.ExecContext(ctx, `
		UPDATE notes SET
			modified_at = ?, synced_at = ?, content = ?, tags = ?, attachments = ?,
			pinned = ?, deleted = ?, deleted_at = ?, sync_hash = ?, version = ?,
			word_wrap = ?, syntax_language = ?
		WHERE id = ?`,
		formatTime(note.ModifiedAt),
		formatTimePtr(note.SyncedAt),
		note.Content,
		note.Tags,
		string(attachments),
		boolToInt(note.Pinned),
		boolToInt(note.Deleted),
		formatTimePtr(note.DeletedAt),
		nullIfEmpty(note.SyncHash),
		note.Version,
		boolToInt(note.WordWrap),
		string(note.SyntaxLanguage),
		note.ID,
	)
	if err != nil {
		return fmt.Errorf("update note %s: %w", note.ID, err)
	}
	return requireRow(res, note.ID)
}

// Replace overwrites a note verbatim without stamping — the sync pull
// path uses it to adopt server state, preserving the server's
// modifiedAt and version.
func (r *NotesRepo) Replace(ctx context.Context, note *Note) error {
	r.store.writeMu.Lock()
	defer r.store.writeMu.Unlock()

	attachments, err := json.Marshal(note.Attachments)
	if err != nil {
		return fmt.Errorf("marshal attachments: %w", err)
	}
	res, err := r.store.db.ExecContext(ctx, `
		UPDATE notes SET
			created_at = ?, modified_at = ?, synced_at = ?, content = ?, tags = ?, attachments = ?,
			pinned = ?, deleted = ?, deleted_at = ?, sync_hash = ?, version = ?,
			word_wrap = ?, syntax_language = ?
		WHERE id = ?`,
		formatTime(note.CreatedAt),
		formatTime(note.ModifiedAt),
		formatTimePtr(note.SyncedAt),
		note.Content,
		note.Tags,
		string(attachments),
		boolToInt(note.Pinned),
		boolToInt(note.Deleted),
		formatTimePtr(note.DeletedAt),
		nullIfEmpty(note.SyncHash),
		note.Version,
		boolToInt(note.WordWrap),
		string(note.SyntaxLanguage),
		note.ID,
	)
	if err != nil {
		return fmt.Errorf("replace note %s: %w", note.ID, err)
	}
	return requireRow(res, note.ID)
}

// SetSyncedAt records the server acknowledgement time without
// stamping; it is not a content mutation.
func (r *NotesRepo) SetSyncedAt(ctx context.Context, id string, t time.Time) error {
	r.store.writeMu.Lock()
	defer r.store.writeMu.Unlock()

	res, err := r.store.db.ExecContext(ctx,
		`UPDATE notes SET synced_at = ? WHERE id = ?`, formatTime(t), id)
	if err != nil {
		return fmt.Errorf("set synced_at %s: %w", id, err)
	}
	return requireRow(res, id)
}

// Touch bumps version and modifiedAt without changing any field.
func (r *NotesRepo) Touch(ctx context.Context, id string) error {
	r.store.writeMu.Lock()
	defer r.store.writeMu.Unlock()

	res, err := r.store.db.ExecContext(ctx,
		`UPDATE notes SET modified_at = ?, version = version + 1 WHERE id = ?`,
		formatTime(r.store.now()), id)
	if err != nil {
		return fmt.Errorf("touch note %s: %w", id, err)
	}
	return requireRow(res, id)
}

// SoftDelete marks the note deleted, stamping deletedAt and bumping
// version/modifiedAt. Attachments are retained.
func (r *NotesRepo) SoftDelete(ctx context.Context, id string) error {
	r.store.writeMu.Lock()
	defer r.store.writeMu.Unlock()

	now := formatTime(r.store.now())
	res, err := r.store.db.ExecContext(ctx, `
		UPDATE notes SET deleted = 1, deleted_at = ?, modified_at = ?, version = version + 1
		WHERE id = ?`, now, now, id)
	if err != nil {
		return fmt.Errorf("soft delete note %s: %w", id, err)
	}
	return requireRow(res, id)
}

// ApplyRemoteDelete records a server-originated soft delete verbatim:
// deleted flag and timestamp are set without stamping, so the adoption
// does not masquerade as a local mutation and echo back on push.
func (r *NotesRepo) ApplyRemoteDelete(ctx context.Context, id string, deletedAt time.Time) error {
	r.store.writeMu.Lock()
	defer r.store.writeMu.Unlock()

	res, err := r.store.db.ExecContext(ctx,
		`UPDATE notes SET deleted = 1, deleted_at = ? WHERE id = ?`,
		formatTime(deletedAt), id)
	if err != nil {
		return fmt.Errorf("apply remote delete %s: %w", id, err)
	}
	return requireRow(res, id)
}

// Restore clears the deleted flag and deletion timestamp.
func (r *NotesRepo) Restore(ctx context.Context, id string) error {
	r.store.writeMu.Lock()
	defer r.store.writeMu.Unlock()

	res, err := r.store.db.ExecContext(ctx, `
		UPDATE notes SET deleted = 0, deleted_at = NULL, modified_at = ?, version = version + 1
		WHERE id = ?`, formatTime(r.store.now()), id)
	if err != nil {
		return fmt.Errorf("restore note %s: %w", id, err)
	}
	return requireRow(res, id)
}

// Purge removes the note row. Blob and sync-record cascades are the
// note service's job — it must delete those first so a crash between
// steps never leaves a dangling attachment.
func (r *NotesRepo) Purge(ctx context.Context, id string) error {
	r.store.writeMu.Lock()
	defer r.store.writeMu.Unlock()

	_, err := r.store.db.ExecContext(ctx, `DELETE FROM notes WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("purge note %s: %w", id, err)
	}
	return nil
}

// CountActive counts non-deleted notes.
func (r *NotesRepo) CountActive(ctx context.Context) (int64, error) {
	return r.count(ctx, `SELECT COUNT(*) FROM notes WHERE deleted = 0`)
}

// CountDeleted counts soft-deleted notes.
func (r *NotesRepo) CountDeleted(ctx context.Context) (int64, error) {
	return r.count(ctx, `SELECT COUNT(*) FROM notes WHERE deleted = 1`)
}

func (r *NotesRepo) count(ctx context.Context, query string) (int64, error) {
	var n int64
	if err := r.store.db.QueryRowContext(ctx, query).Scan(&n); err != nil {
		return 0, fmt.Errorf("count notes: %w", err)
	}
	return n, nil
}

func (r *NotesRepo) query(ctx context.Context, query string, args ...any) ([]*Note, error) {
	rows, err := r.store.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query notes: %w", err)
	}
	defer rows.Close()

	var notes []*Note
	for rows.Next() {
		note, err := scanNote(rows)
		if err != nil {
			return nil, err
		}
		notes = append(notes, note)
	}
	return notes, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanNote(row rowScanner) (*Note, error) {
	var (
		note              Note
		createdAt         string
		modifiedAt        string
		syncedAt          sql.NullString
		attachmentsJSON   string
		pinned, deleted   int
		deletedAt         sql.NullString
		syncHash          sql.NullString
		wordWrap          int
		syntaxLanguageStr string
	)
	err := row.Scan(
		&note.ID, &createdAt, &modifiedAt, &syncedAt, &note.Content, &note.Tags,
		&attachmentsJSON, &pinned, &deleted, &deletedAt, &syncHash, &note.Version,
		&wordWrap, &syntaxLanguageStr,
	)
	if err != nil {
		return nil, err
	}

	if note.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("note %s: created_at: %w", note.ID, err)
	}
	if note.ModifiedAt, err = parseTime(modifiedAt); err != nil {
		return nil, fmt.Errorf("note %s: modified_at: %w", note.ID, err)
	}
	if note.SyncedAt, err = parseTimePtr(syncedAt); err != nil {
		return nil, fmt.Errorf("note %s: synced_at: %w", note.ID, err)
	}
	if note.DeletedAt, err = parseTimePtr(deletedAt); err != nil {
		return nil, fmt.Errorf("note %s: deleted_at: %w", note.ID, err)
	}
	if err := json.Unmarshal([]byte(attachmentsJSON), &note.Attachments); err != nil {
		return nil, fmt.Errorf("note %s: attachments: %w", note.ID, err)
	}
	note.Pinned = pinned != 0
	note.Deleted = deleted != 0
	note.SyncHash = syncHash.String
	note.WordWrap = wordWrap != 0
	note.SyntaxLanguage = ParseSyntaxLanguage(syntaxLanguageStr)
	return &note, nil
}

func requireRow(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("note %s: %w", id, ErrNotFound)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
