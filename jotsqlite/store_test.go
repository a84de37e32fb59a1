// Copyright 2025 The Jottery Authors
// SPDX-License-Identifier: Apache-2.0

package jotsqlite

import (
	"context"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seesee/jottery/jotcrypto"
)

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := OpenStore(":memory:", testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

// newTestVault returns an initialized, unlocked vault over an in-memory
// store.
func newTestVault(t *testing.T, password string) *Vault {
	t.Helper()
	vault := newLockedVault(t)
	require.NoError(t, vault.Initialize(context.Background(), password))
	return vault
}

func newLockedVault(t *testing.T) *Vault {
	t.Helper()
	vault, err := Open(":memory:", testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { vault.Close() })
	return vault
}

func TestOpenStoreRunsMigrations(t *testing.T) {
	store := newTestStore(t)

	v, err := store.SchemaVersion()
	require.NoError(t, err)
	assert.Equal(t, schemaVersion, v)

	// Every repository is usable before encryption is initialized.
	count, err := store.Notes().CountActive(context.Background())
	require.NoError(t, err)
	assert.Zero(t, count)

	exists, err := store.Encryption().Exists(context.Background())
	require.NoError(t, err)
	assert.False(t, exists)

	settings, err := store.Settings().Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, DefaultSettings(), settings)
}

func TestOpenStorePersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.db")

	store, err := OpenStore(path, testLogger())
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, store.Encryption().Set(ctx, &EncryptionMetadata{
		Salt:       make([]byte, jotcrypto.SaltSize),
		Iterations: jotcrypto.DefaultIterations,
		CreatedAt:  store.now(),
		Algorithm:  AlgorithmAESGCM,
	}))
	require.NoError(t, store.Close())

	store2, err := OpenStore(path, testLogger())
	require.NoError(t, err)
	defer store2.Close()

	exists, err := store2.Encryption().Exists(ctx)
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestOpenStoreSchemaTooNew(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.db")

	store, err := OpenStore(path, testLogger())
	require.NoError(t, err)
	_, err = store.db.Exec("PRAGMA user_version = 99")
	require.NoError(t, err)
	require.NoError(t, store.Close())

	_, err = OpenStore(path, testLogger())
	assert.ErrorIs(t, err, ErrSchemaTooNew)
}

func TestWipeLeavesNothingReadable(t *testing.T) {
	ctx := context.Background()
	vault := newTestVault(t, "pw")

	note, err := vault.Notes.Create(ctx, CreateNoteInput{Content: "secret", Tags: []string{"a"}})
	require.NoError(t, err)
	require.NoError(t, vault.Store.Attachments().PutBlob(ctx, "blob-1", "{}"))

	require.NoError(t, vault.WipeAll(ctx))

	_, err = vault.Store.Notes().Get(ctx, note.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = vault.Store.Attachments().GetBlob(ctx, "blob-1")
	assert.ErrorIs(t, err, ErrNotFound)
	exists, err := vault.Store.Encryption().Exists(ctx)
	require.NoError(t, err)
	assert.False(t, exists)

	// The key manager is permanently retired.
	_, err = vault.Keys.MasterKey()
	assert.Error(t, err)
	assert.ErrorIs(t, vault.Unlock(ctx, "pw"), jotcrypto.ErrNotInitialized)
}

func TestRequiredIndexesExist(t *testing.T) {
	store := newTestStore(t)

	rows, err := store.db.Query(
		`SELECT name FROM sqlite_master WHERE type = 'index' AND tbl_name = 'notes'`)
	require.NoError(t, err)
	defer rows.Close()

	found := map[string]bool{}
	for rows.Next() {
		var name string
		require.NoError(t, rows.Scan(&name))
		found[name] = true
	}
	for _, want := range []string{
		"idx_notes_modified", "idx_notes_deleted", "idx_notes_pinned", "idx_notes_deleted_modified",
	} {
		assert.True(t, found[want], "missing index %s", want)
	}
}
