// Copyright 2025 The Jottery Authors
// SPDX-License-Identifier: Apache-2.0

package jotsqlite

import (
	"context"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
)

// EncryptionRepo stores the per-store key derivation record. Under
// normal operation it is write-once; only a full wipe or a credential
// import replaces it.
type EncryptionRepo struct {
	store *Store
}

// Get returns the metadata, ErrNotFound before initialization.
func (r *EncryptionRepo) Get(ctx context.Context) (*EncryptionMetadata, error) {
	var (
		saltHex   string
		meta      EncryptionMetadata
		createdAt string
	)
	err := r.store.db.QueryRowContext(ctx, `
		SELECT salt, iterations, created_at, algorithm
		FROM encryption_metadata WHERE id = 1`).
		Scan(&saltHex, &meta.Iterations, &createdAt, &meta.Algorithm)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("encryption metadata: %w", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get encryption metadata: %w", err)
	}

	if meta.Salt, err = hex.DecodeString(saltHex); err != nil {
		return nil, fmt.Errorf("encryption metadata: salt: %w", err)
	}
	if meta.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("encryption metadata: created_at: %w", err)
	}
	return &meta, nil
}

// Exists reports whether the store has been initialized.
func (r *EncryptionRepo) Exists(ctx context.Context) (bool, error) {
	var n int
	if err := r.store.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM encryption_metadata WHERE id = 1`).Scan(&n); err != nil {
		return false, fmt.Errorf("check encryption metadata: %w", err)
	}
	return n > 0, nil
}

// Set writes the metadata. The credential import path overwrites an
// existing record deliberately; every other caller checks Exists first.
func (r *EncryptionRepo) Set(ctx context.Context, meta *EncryptionMetadata) error {
	r.store.writeMu.Lock()
	defer r.store.writeMu.Unlock()
	_, err := r.store.db.ExecContext(ctx, `
		INSERT INTO encryption_metadata (id, salt, iterations, created_at, algorithm)
		VALUES (1, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			salt = excluded.salt,
			iterations = excluded.iterations,
			created_at = excluded.created_at,
			algorithm = excluded.algorithm`,
		hex.EncodeToString(meta.Salt), meta.Iterations,
		formatTime(meta.CreatedAt), meta.Algorithm)
	if err != nil {
		return fmt.Errorf("set encryption metadata: %w", err)
	}
	return nil
}

// Delete removes the record. Store.Wipe clears this table itself and
// does not call Delete.
func (r *EncryptionRepo) Delete(ctx context.Context) error {
	r.store.writeMu.Lock()
	defer r.store.writeMu.Unlock()
	if _, err := r.store.db.ExecContext(ctx,
		`DELETE FROM encryption_metadata WHERE id = 1`); err != nil {
		return fmt.Errorf("delete encryption metadata: %w", err)
	}
	return nil
}
