// Copyright 2025 The Jottery Authors
// SPDX-License-Identifier: Apache-2.0

package jotsqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// SyncMetaRepo stores the global sync configuration singleton, the
// per-note sync records, and the pushed-blob cache.
type SyncMetaRepo struct {
	store *Store
}

// GetGlobal returns the global record, ErrNotFound when sync was never
// configured.
func (r *SyncMetaRepo) GetGlobal(ctx context.Context) (*SyncMetadata, error) {
	var (
		meta        SyncMetadata
		lastSync    sql.NullString
		lastPush    sql.NullString
		lastPull    sql.NullString
		apiKey      string
		syncEnabled int
	)
	err := r.store.db.QueryRowContext(ctx, `
		SELECT last_sync_at, last_push_at, last_pull_at, api_key, client_id,
		       sync_enabled, sync_endpoint, auto_sync_interval
		FROM sync_metadata WHERE id = 1`).
		Scan(&lastSync, &lastPush, &lastPull, &apiKey, &meta.ClientID,
			&syncEnabled, &meta.SyncEndpoint, &meta.AutoSyncInterval)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("sync metadata: %w", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get sync metadata: %w", err)
	}

	if meta.LastSyncAt, err = parseTimePtr(lastSync); err != nil {
		return nil, fmt.Errorf("sync metadata: last_sync_at: %w", err)
	}
	if meta.LastPushAt, err = parseTimePtr(lastPush); err != nil {
		return nil, fmt.Errorf("sync metadata: last_push_at: %w", err)
	}
	if meta.LastPullAt, err = parseTimePtr(lastPull); err != nil {
		return nil, fmt.Errorf("sync metadata: last_pull_at: %w", err)
	}
	meta.APIKey = decodeAPIKey(apiKey)
	meta.SyncEnabled = syncEnabled != 0
	return &meta, nil
}

// UpdateGlobal merges patch into the global record, creating it with
// defaults when absent.
func (r *SyncMetaRepo) UpdateGlobal(ctx context.Context, patch SyncMetadataPatch) (*SyncMetadata, error) {
	current, err := r.GetGlobal(ctx)
	if errors.Is(err, ErrNotFound) {
		current = &SyncMetadata{AutoSyncInterval: 5}
	} else if err != nil {
		return nil, err
	}

	if patch.LastSyncAt != nil {
		current.LastSyncAt = patch.LastSyncAt
	}
	if patch.LastPushAt != nil {
		current.LastPushAt = patch.LastPushAt
	}
	if patch.LastPullAt != nil {
		current.LastPullAt = patch.LastPullAt
	}
	if patch.APIKey != nil {
		current.APIKey = *patch.APIKey
	}
	if patch.ClientID != nil {
		current.ClientID = *patch.ClientID
	}
	if patch.SyncEnabled != nil {
		current.SyncEnabled = *patch.SyncEnabled
	}
	if patch.SyncEndpoint != nil {
		current.SyncEndpoint = *patch.SyncEndpoint
	}
	if patch.AutoSyncInterval != nil {
		current.AutoSyncInterval = *patch.AutoSyncInterval
	}

	r.store.writeMu.Lock()
	defer r.store.writeMu.Unlock()
	_, err = r.store.db.ExecContext(ctx, `
		INSERT INTO sync_metadata (id, last_sync_at, last_push_at, last_pull_at, api_key,
		                           client_id, sync_enabled, sync_endpoint, auto_sync_interval)
		VALUES (1, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			last_sync_at = excluded.last_sync_at,
			last_push_at = excluded.last_push_at,
			last_pull_at = excluded.last_pull_at,
			api_key = excluded.api_key,
			client_id = excluded.client_id,
			sync_enabled = excluded.sync_enabled,
			sync_endpoint = excluded.sync_endpoint,
			auto_sync_interval = excluded.auto_sync_interval`,
		formatTimePtr(current.LastSyncAt),
		formatTimePtr(current.LastPushAt),
		formatTimePtr(current.LastPullAt),
		current.APIKey.encode(),
		current.ClientID,
		boolToInt(current.SyncEnabled),
		current.SyncEndpoint,
		current.AutoSyncInterval)
	if err != nil {
		return nil, fmt.Errorf("update sync metadata: %w", err)
	}
	return current, nil
}

// GetNote returns one per-note record, ErrNotFound when the note has
// no record.
func (r *SyncMetaRepo) GetNote(ctx context.Context, noteID string) (*NoteSyncMetadata, error) {
	var (
		meta     NoteSyncMetadata
		syncedAt string
		status   string
		errMsg   sql.NullString
	)
	err := r.store.db.QueryRowContext(ctx, `
		SELECT note_id, synced_at, sync_hash, server_version, last_sync_status, error_message
		FROM note_sync_metadata WHERE note_id = ?`, noteID).
		Scan(&meta.NoteID, &syncedAt, &meta.SyncHash, &meta.ServerVersion, &status, &errMsg)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("note sync metadata %s: %w", noteID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get note sync metadata %s: %w", noteID, err)
	}
	if meta.SyncedAt, err = parseTime(syncedAt); err != nil {
		return nil, fmt.Errorf("note sync metadata %s: synced_at: %w", noteID, err)
	}
	meta.Status = ParseSyncStatus(status)
	meta.ErrorMessage = errMsg.String
	return &meta, nil
}

// UpdateNote merges patch into a per-note record, creating it when
// absent (status defaults to pending, syncedAt to now).
func (r *SyncMetaRepo) UpdateNote(ctx context.Context, noteID string, patch NoteSyncPatch) error {
	current, err := r.GetNote(ctx, noteID)
	if errors.Is(err, ErrNotFound) {
		current = &NoteSyncMetadata{
			NoteID:   noteID,
			SyncedAt: r.store.now().UTC(),
			Status:   SyncStatusPending,
		}
	} else if err != nil {
		return err
	}

	if patch.SyncedAt != nil {
		current.SyncedAt = *patch.SyncedAt
	}
	if patch.SyncHash != nil {
		current.SyncHash = *patch.SyncHash
	}
	if patch.ServerVersion != nil {
		current.ServerVersion = *patch.ServerVersion
	}
	if patch.Status != nil {
		current.Status = *patch.Status
	}
	if patch.ErrorMessage != nil {
		current.ErrorMessage = *patch.ErrorMessage
	}

	r.store.writeMu.Lock()
	defer r.store.writeMu.Unlock()
	_, err = r.store.db.ExecContext(ctx, `
		INSERT INTO note_sync_metadata (note_id, synced_at, sync_hash, server_version, last_sync_status, error_message)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(note_id) DO UPDATE SET
			synced_at = excluded.synced_at,
			sync_hash = excluded.sync_hash,
			server_version = excluded.server_version,
			last_sync_status = excluded.last_sync_status,
			error_message = excluded.error_message`,
		current.NoteID, formatTime(current.SyncedAt), current.SyncHash,
		current.ServerVersion, string(current.Status), nullIfEmpty(current.ErrorMessage))
	if err != nil {
		return fmt.Errorf("update note sync metadata %s: %w", noteID, err)
	}
	return nil
}

// ListPending returns the ids of notes whose status is pending.
func (r *SyncMetaRepo) ListPending(ctx context.Context) ([]string, error) {
	rows, err := r.store.db.QueryContext(ctx,
		`SELECT note_id FROM note_sync_metadata WHERE last_sync_status = ?`,
		string(SyncStatusPending))
	if err != nil {
		return nil, fmt.Errorf("list pending: %w", err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ListUnsynced returns the ids of notes still owing a push: pending
// plus conflicted (a conflict re-pushes after a pull updates its
// server-version echo).
func (r *SyncMetaRepo) ListUnsynced(ctx context.Context) ([]string, error) {
	rows, err := r.store.db.QueryContext(ctx,
		`SELECT note_id FROM note_sync_metadata WHERE last_sync_status IN (?, ?)`,
		string(SyncStatusPending), string(SyncStatusConflict))
	if err != nil {
		return nil, fmt.Errorf("list unsynced: %w", err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// CountConflicts counts notes in the conflict state.
func (r *SyncMetaRepo) CountConflicts(ctx context.Context) (int64, error) {
	var n int64
	err := r.store.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM note_sync_metadata WHERE last_sync_status = ?`,
		string(SyncStatusConflict)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count conflicts: %w", err)
	}
	return n, nil
}

// DeleteNote removes a per-note record; absent is a no-op.
func (r *SyncMetaRepo) DeleteNote(ctx context.Context, noteID string) error {
	r.store.writeMu.Lock()
	defer r.store.writeMu.Unlock()
	if _, err := r.store.db.ExecContext(ctx,
		`DELETE FROM note_sync_metadata WHERE note_id = ?`, noteID); err != nil {
		return fmt.Errorf("delete note sync metadata %s: %w", noteID, err)
	}
	return nil
}

// ClearAll removes the global record, every per-note record, and the
// pushed-blob cache. Used on unregister.
func (r *SyncMetaRepo) ClearAll(ctx context.Context) error {
	r.store.writeMu.Lock()
	defer r.store.writeMu.Unlock()
	for _, stmt := range []string{
		`DELETE FROM sync_metadata WHERE id = 1`,
		`DELETE FROM note_sync_metadata`,
		`DELETE FROM pushed_blobs`,
	} {
		if _, err := r.store.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("clear sync metadata: %w", err)
		}
	}
	return nil
}

// MarkBlobPushed records that the server holds a blob.
func (r *SyncMetaRepo) MarkBlobPushed(ctx context.Context, id string, at time.Time) error {
	r.store.writeMu.Lock()
	defer r.store.writeMu.Unlock()
	_, err := r.store.db.ExecContext(ctx, `
		INSERT INTO pushed_blobs (id, pushed_at) VALUES (?, ?)
		ON CONFLICT(id) DO UPDATE SET pushed_at = excluded.pushed_at`,
		id, formatTime(at))
	if err != nil {
		return fmt.Errorf("mark blob pushed %s: %w", id, err)
	}
	return nil
}

// IsBlobPushed reports whether the server is known to hold a blob.
func (r *SyncMetaRepo) IsBlobPushed(ctx context.Context, id string) (bool, error) {
	var n int
	err := r.store.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM pushed_blobs WHERE id = ?`, id).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check pushed blob %s: %w", id, err)
	}
	return n > 0, nil
}
