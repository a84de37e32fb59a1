// Copyright 2025 The Jottery Authors
// SPDX-License-Identifier: Apache-2.0

package jotsqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// AttachmentsRepo stores encrypted attachment blobs and their
// thumbnails. A blob is the serialized envelope document; the store
// never sees attachment plaintext.
type AttachmentsRepo struct {
	store *Store
}

// PutBlob stores or overwrites a blob. Overwrites are safe: blobs are
// addressed by id over an unchanging payload, and AES-GCM catches
// corruption on read.
func (r *AttachmentsRepo) PutBlob(ctx context.Context, id, envelope string) error {
	return r.put(ctx, "attachments", id, envelope)
}

// GetBlob returns a blob envelope document, ErrNotFound when absent.
func (r *AttachmentsRepo) GetBlob(ctx context.Context, id string) (string, error) {
	return r.get(ctx, "attachments", id)
}

// DeleteBlob removes a blob. Deleting an absent blob is a no-op, so the
// permanent-delete path is idempotent.
func (r *AttachmentsRepo) DeleteBlob(ctx context.Context, id string) error {
	return r.delete(ctx, "attachments", id)
}

// HasBlob reports blob existence without paging the data.
func (r *AttachmentsRepo) HasBlob(ctx context.Context, id string) (bool, error) {
	var n int
	err := r.store.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM attachments WHERE id = ?`, id).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check blob %s: %w", id, err)
	}
	return n > 0, nil
}

// ListBlobIDs returns every stored blob id. The orphan GC scans this.
func (r *AttachmentsRepo) ListBlobIDs(ctx context.Context) ([]string, error) {
	rows, err := r.store.db.QueryContext(ctx, `SELECT id FROM attachments`)
	if err != nil {
		return nil, fmt.Errorf("list blobs: %w", err)
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

// PutThumbnail stores or overwrites a thumbnail blob.
func (r *AttachmentsRepo) PutThumbnail(ctx context.Context, id, envelope string) error {
	return r.put(ctx, "thumbnails", id, envelope)
}

// GetThumbnail returns a thumbnail envelope document.
func (r *AttachmentsRepo) GetThumbnail(ctx context.Context, id string) (string, error) {
	return r.get(ctx, "thumbnails", id)
}

// DeleteThumbnail removes a thumbnail; absent is a no-op.
func (r *AttachmentsRepo) DeleteThumbnail(ctx context.Context, id string) error {
	return r.delete(ctx, "thumbnails", id)
}

func (r *AttachmentsRepo) put(ctx context.Context, table, id, envelope string) error {
	r.store.writeMu.Lock()
	defer r.store.writeMu.Unlock()
	_, err := r.store.db.ExecContext(ctx,
		`INSERT INTO `+table+` (id, data) VALUES (?, ?)
		 ON CONFLICT(id) DO UPDATE SET data = excluded.data`, id, envelope)
	if err != nil {
		return fmt.Errorf("put %s %s: %w", table, id, err)
	}
	return nil
}

func (r *AttachmentsRepo) get(ctx context.Context, table, id string) (string, error) {
	var data string
	err := r.store.db.QueryRowContext(ctx,
		`SELECT data FROM `+table+` WHERE id = ?`, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%s %s: %w", table, id, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("get %s %s: %w", table, id, err)
	}
	return data, nil
}

func (r *AttachmentsRepo) delete(ctx context.Context, table, id string) error {
	r.store.writeMu.Lock()
	defer r.store.writeMu.Unlock()
	if _, err := r.store.db.ExecContext(ctx,
		`DELETE FROM `+table+` WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete %s %s: %w", table, id, err)
	}
	return nil
}
