// Copyright 2025 The Jottery Authors
// SPDX-License-Identifier: Apache-2.0

package jotsqlite

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seesee/jottery/jotcrypto"
)

func storedNote(id string) *Note {
	now := time.Now().UTC()
	return &Note{
		ID:             id,
		CreatedAt:      now,
		ModifiedAt:     now,
		Content:        `{"ciphertext":"Y3Q=","iv":"aXZpdml2aXZpdg=="}`,
		Tags:           `{"ciphertext":"dGFncw==","iv":"aXZpdml2aXZpdg=="}`,
		Attachments:    []AttachmentRef{},
		Version:        1,
		WordWrap:       true,
		SyntaxLanguage: LangPlain,
	}
}

func TestNotesRepoCreateGet(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	repo := store.Notes()

	note := storedNote(jotcrypto.NewUUID())
	note.SyncHash = "hash"
	require.NoError(t, repo.Create(ctx, note))

	got, err := repo.Get(ctx, note.ID)
	require.NoError(t, err)
	assert.Equal(t, note.ID, got.ID)
	assert.Equal(t, note.Content, got.Content)
	assert.Equal(t, note.Tags, got.Tags)
	assert.Equal(t, "hash", got.SyncHash)
	assert.Equal(t, int64(1), got.Version)
	assert.True(t, got.WordWrap)
	assert.False(t, got.Deleted)
	assert.WithinDuration(t, note.CreatedAt, got.CreatedAt, time.Microsecond)

	_, err = repo.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestNotesRepoUpdateStampsVersionAndModified(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	repo := store.Notes()

	note := storedNote(jotcrypto.NewUUID())
	require.NoError(t, repo.Create(ctx, note))

	var lastModified time.Time
	for i := 0; i < 5; i++ {
		prevVersion := note.Version
		require.NoError(t, repo.Update(ctx, note))
		assert.Equal(t, prevVersion+1, note.Version)
		assert.False(t, note.ModifiedAt.Before(lastModified), "modifiedAt must be non-decreasing")
		lastModified = note.ModifiedAt
	}

	got, err := repo.Get(ctx, note.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(6), got.Version)
}

func TestNotesRepoSoftDeleteRestore(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	repo := store.Notes()

	note := storedNote(jotcrypto.NewUUID())
	require.NoError(t, repo.Create(ctx, note))

	require.NoError(t, repo.SoftDelete(ctx, note.ID))
	got, err := repo.Get(ctx, note.ID)
	require.NoError(t, err)
	assert.True(t, got.Deleted)
	require.NotNil(t, got.DeletedAt)
	assert.False(t, got.DeletedAt.Before(got.ModifiedAt.Add(-time.Second)))
	assert.Equal(t, int64(2), got.Version)

	active, err := repo.GetAllActive(ctx)
	require.NoError(t, err)
	assert.Empty(t, active)
	deleted, err := repo.GetDeleted(ctx)
	require.NoError(t, err)
	assert.Len(t, deleted, 1)

	require.NoError(t, repo.Restore(ctx, note.ID))
	got, err = repo.Get(ctx, note.ID)
	require.NoError(t, err)
	assert.False(t, got.Deleted)
	assert.Nil(t, got.DeletedAt)
	assert.Equal(t, int64(3), got.Version)
}

func TestNotesRepoGetAllActiveExcludesDeleted(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	repo := store.Notes()

	for i := 0; i < 4; i++ {
		require.NoError(t, repo.Create(ctx, storedNote(jotcrypto.NewUUID())))
	}
	all, err := repo.GetAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 4)
	require.NoError(t, repo.SoftDelete(ctx, all[0].ID))

	active, err := repo.GetAllActive(ctx)
	require.NoError(t, err)
	assert.Len(t, active, 3)
	for _, n := range active {
		assert.False(t, n.Deleted)
	}

	nActive, err := repo.CountActive(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), nActive)
	nDeleted, err := repo.CountDeleted(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), nDeleted)
}

func TestNotesRepoGetPinned(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	repo := store.Notes()

	pinned := storedNote(jotcrypto.NewUUID())
	pinned.Pinned = true
	require.NoError(t, repo.Create(ctx, pinned))
	require.NoError(t, repo.Create(ctx, storedNote(jotcrypto.NewUUID())))

	pinnedDeleted := storedNote(jotcrypto.NewUUID())
	pinnedDeleted.Pinned = true
	require.NoError(t, repo.Create(ctx, pinnedDeleted))
	require.NoError(t, repo.SoftDelete(ctx, pinnedDeleted.ID))

	got, err := repo.GetPinned(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, pinned.ID, got[0].ID)
}

func TestNotesRepoGetModifiedAfter(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	repo := store.Notes()

	old := storedNote(jotcrypto.NewUUID())
	old.CreatedAt = time.Now().UTC().Add(-2 * time.Hour)
	old.ModifiedAt = old.CreatedAt
	require.NoError(t, repo.Create(ctx, old))

	recent := storedNote(jotcrypto.NewUUID())
	require.NoError(t, repo.Create(ctx, recent))

	got, err := repo.GetModifiedAfter(ctx, time.Now().UTC().Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, recent.ID, got[0].ID)
}

func TestNotesRepoTouch(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	repo := store.Notes()

	note := storedNote(jotcrypto.NewUUID())
	require.NoError(t, repo.Create(ctx, note))
	require.NoError(t, repo.Touch(ctx, note.ID))

	got, err := repo.Get(ctx, note.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.Version)
	assert.Equal(t, note.Content, got.Content)

	assert.ErrorIs(t, repo.Touch(ctx, "missing"), ErrNotFound)
}

func TestNotesRepoPurge(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	repo := store.Notes()

	note := storedNote(jotcrypto.NewUUID())
	require.NoError(t, repo.Create(ctx, note))
	require.NoError(t, repo.Purge(ctx, note.ID))

	_, err := repo.Get(ctx, note.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	// Idempotent.
	assert.NoError(t, repo.Purge(ctx, note.ID))
}

func TestNotesRepoSetSyncedAtDoesNotStamp(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	repo := store.Notes()

	note := storedNote(jotcrypto.NewUUID())
	require.NoError(t, repo.Create(ctx, note))

	ts := time.Now().UTC().Add(time.Minute)
	require.NoError(t, repo.SetSyncedAt(ctx, note.ID, ts))

	got, err := repo.Get(ctx, note.ID)
	require.NoError(t, err)
	require.NotNil(t, got.SyncedAt)
	assert.WithinDuration(t, ts, *got.SyncedAt, time.Microsecond)
	assert.Equal(t, int64(1), got.Version)
}
