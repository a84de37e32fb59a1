// Copyright 2025 The Jottery Authors
// SPDX-License-Identifier: Apache-2.0

package jotsqlite

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seesee/jottery/jotcrypto"
)

// Scenario: fresh init, first note, lock, unlock, read back.
func TestFreshInitAndFirstNote(t *testing.T) {
	ctx := context.Background()
	vault := newTestVault(t, "correct horse battery staple")

	created, err := vault.Notes.Create(ctx, CreateNoteInput{
		Content: "hello",
		Tags:    []string{"x", "y"},
	})
	require.NoError(t, err)

	vault.Lock()
	_, err = vault.Notes.Get(ctx, created.ID)
	assert.ErrorIs(t, err, jotcrypto.ErrLocked)

	require.NoError(t, vault.Unlock(ctx, "correct horse battery staple"))

	got, err := vault.Notes.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "hello", got.Text)
	assert.Equal(t, []string{"x", "y"}, got.TagsClear)
	assert.Equal(t, int64(1), got.Version)
	assert.False(t, got.DecryptedAt.IsZero())
}

// Scenario: wrong password is rejected and leaves the app locked.
func TestUnlockWrongPassword(t *testing.T) {
	ctx := context.Background()
	vault := newTestVault(t, "correct horse battery staple")

	_, err := vault.Notes.Create(ctx, CreateNoteInput{Content: "anchor"})
	require.NoError(t, err)

	vault.Lock()
	assert.ErrorIs(t, vault.Unlock(ctx, "wrong"), jotcrypto.ErrIncorrectPassword)

	_, err = vault.Keys.MasterKey()
	assert.ErrorIs(t, err, jotcrypto.ErrLocked)
}

func TestUnlockEmptyStoreIsProvisional(t *testing.T) {
	ctx := context.Background()
	vault := newTestVault(t, "first password")
	vault.Lock()

	// With no notes there is nothing to verify against; any password is
	// provisionally accepted until the first write anchors it.
	require.NoError(t, vault.Unlock(ctx, "completely different"))
}

func TestInitializeTwiceFails(t *testing.T) {
	ctx := context.Background()
	vault := newTestVault(t, "pw")
	assert.ErrorIs(t, vault.Initialize(ctx, "pw"), jotcrypto.ErrAlreadyInitialized)
}

func TestCreateRequiresKey(t *testing.T) {
	ctx := context.Background()
	vault := newLockedVault(t)
	_, err := vault.Notes.Create(ctx, CreateNoteInput{Content: "nope"})
	assert.ErrorIs(t, err, jotcrypto.ErrLocked)
}

func TestContentIsEncryptedAtRest(t *testing.T) {
	ctx := context.Background()
	vault := newTestVault(t, "pw")

	created, err := vault.Notes.Create(ctx, CreateNoteInput{
		Content: "very secret plaintext",
		Tags:    []string{"hidden-tag"},
	})
	require.NoError(t, err)

	raw, err := vault.Store.Notes().Get(ctx, created.ID)
	require.NoError(t, err)
	assert.NotContains(t, raw.Content, "very secret plaintext")
	assert.NotContains(t, raw.Tags, "hidden-tag")
}

func TestUpdateFields(t *testing.T) {
	ctx := context.Background()
	vault := newTestVault(t, "pw")

	created, err := vault.Notes.Create(ctx, CreateNoteInput{Content: "v1", Tags: []string{"a"}})
	require.NoError(t, err)

	content := "v2"
	tags := []string{"b", "c"}
	pinned := true
	lang := LangMarkdown
	updated, err := vault.Notes.Update(ctx, created.ID, UpdateNoteInput{
		Content:        &content,
		Tags:           &tags,
		Pinned:         &pinned,
		SyntaxLanguage: &lang,
	})
	require.NoError(t, err)
	assert.Equal(t, "v2", updated.Text)
	assert.Equal(t, []string{"b", "c"}, updated.TagsClear)
	assert.True(t, updated.Pinned)
	assert.Equal(t, LangMarkdown, updated.SyntaxLanguage)
	assert.Equal(t, int64(2), updated.Version)
	assert.False(t, updated.ModifiedAt.Before(created.ModifiedAt))
}

func TestTagNormalization(t *testing.T) {
	assert.Equal(t,
		[]string{"Work", "ideas"},
		NormalizeTags([]string{" Work ", "", "work", "ideas", "  ", "WORK", "Ideas"}))
}

func TestTagFilterAndAutocomplete(t *testing.T) {
	ctx := context.Background()
	vault := newTestVault(t, "pw")

	_, err := vault.Notes.Create(ctx, CreateNoteInput{Content: "one", Tags: []string{"Work"}})
	require.NoError(t, err)
	_, err = vault.Notes.Create(ctx, CreateNoteInput{Content: "two", Tags: []string{"work", "home"}})
	require.NoError(t, err)

	matches, err := vault.Notes.FilterByTag(ctx, "WORK")
	require.NoError(t, err)
	assert.Len(t, matches, 2)

	tags, err := vault.Notes.AllTags(ctx)
	require.NoError(t, err)
	// First occurrence's case wins; list order is newest-note-first.
	assert.ElementsMatch(t, []string{"work", "home"}, tags)
}

func TestSortingPinnedFirstThenOrder(t *testing.T) {
	ctx := context.Background()
	vault := newTestVault(t, "pw")

	mk := func(content string, pinned bool, age time.Duration) string {
		created := time.Now().UTC().Add(-age)
		note, err := vault.Notes.Create(ctx, CreateNoteInput{
			Content:    content,
			Pinned:     pinned,
			CreatedAt:  &created,
			ModifiedAt: &created,
		})
		require.NoError(t, err)
		return note.ID
	}

	banana := mk("banana", false, 3*time.Hour)
	apple := mk("apple", false, 1*time.Hour)
	cherry := mk("Cherry\nolder body", true, 2*time.Hour)

	recent, err := vault.Notes.List(ctx, ListOptions{Order: SortRecent})
	require.NoError(t, err)
	require.Len(t, recent, 3)
	assert.Equal(t, cherry, recent[0].ID, "pinned first")
	assert.Equal(t, apple, recent[1].ID)
	assert.Equal(t, banana, recent[2].ID)

	oldest, err := vault.Notes.List(ctx, ListOptions{Order: SortOldest})
	require.NoError(t, err)
	assert.Equal(t, cherry, oldest[0].ID, "pinned first even in oldest order")
	assert.Equal(t, banana, oldest[1].ID)
	assert.Equal(t, apple, oldest[2].ID)

	alpha, err := vault.Notes.List(ctx, ListOptions{Order: SortAlpha})
	require.NoError(t, err)
	assert.Equal(t, cherry, alpha[0].ID, "pinned first")
	assert.Equal(t, apple, alpha[1].ID)
	assert.Equal(t, banana, alpha[2].ID)
}

func TestAttachmentRoundtrip(t *testing.T) {
	ctx := context.Background()
	vault := newTestVault(t, "pw")

	note, err := vault.Notes.Create(ctx, CreateNoteInput{Content: "with file"})
	require.NoError(t, err)

	payload := bytes.Repeat([]byte("jottery!"), 1<<17) // 1 MiB
	ref, err := vault.Notes.AddAttachment(ctx, note.ID, "report.pdf", "application/pdf", payload, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(len(payload)), ref.Size)
	assert.Equal(t, "application/pdf", ref.MimeType)
	assert.NotContains(t, ref.Filename, "report.pdf")

	filename, data, err := vault.Notes.GetAttachment(ctx, note.ID, ref.ID)
	require.NoError(t, err)
	assert.Equal(t, "report.pdf", filename)
	assert.Equal(t, payload, data)

	got, err := vault.Notes.Get(ctx, note.ID)
	require.NoError(t, err)
	require.Len(t, got.Attachments, 1)
	assert.Equal(t, int64(2), got.Version, "attachment add stamps the note")
}

func TestUpdateDropsRemovedAttachmentBlobs(t *testing.T) {
	ctx := context.Background()
	vault := newTestVault(t, "pw")

	note, err := vault.Notes.Create(ctx, CreateNoteInput{Content: "files"})
	require.NoError(t, err)
	keep, err := vault.Notes.AddAttachment(ctx, note.ID, "keep.txt", "text/plain", []byte("keep"), []byte("thumb"))
	require.NoError(t, err)
	drop, err := vault.Notes.AddAttachment(ctx, note.ID, "drop.txt", "text/plain", []byte("drop"), []byte("thumb"))
	require.NoError(t, err)

	current, err := vault.Store.Notes().Get(ctx, note.ID)
	require.NoError(t, err)
	var kept []AttachmentRef
	for _, ref := range current.Attachments {
		if ref.ID == keep.ID {
			kept = append(kept, ref)
		}
	}
	_, err = vault.Notes.Update(ctx, note.ID, UpdateNoteInput{Attachments: &kept})
	require.NoError(t, err)

	_, err = vault.Store.Attachments().GetBlob(ctx, keep.ID)
	assert.NoError(t, err)
	_, err = vault.Store.Attachments().GetBlob(ctx, drop.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = vault.Store.Attachments().GetThumbnail(ctx, drop.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPermanentDeleteCascades(t *testing.T) {
	ctx := context.Background()
	vault := newTestVault(t, "pw")

	note, err := vault.Notes.Create(ctx, CreateNoteInput{Content: "doomed"})
	require.NoError(t, err)
	ref, err := vault.Notes.AddAttachment(ctx, note.ID, "f.bin", "application/octet-stream", []byte{1, 2, 3}, nil)
	require.NoError(t, err)

	require.NoError(t, vault.Notes.PermanentDelete(ctx, note.ID))

	_, err = vault.Store.Notes().Get(ctx, note.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = vault.Store.Attachments().GetBlob(ctx, ref.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = vault.Store.SyncMeta().GetNote(ctx, note.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	// Idempotent.
	assert.NoError(t, vault.Notes.PermanentDelete(ctx, note.ID))
}

func TestPurgeOld(t *testing.T) {
	ctx := context.Background()
	vault := newTestVault(t, "pw")

	oldNote, err := vault.Notes.Create(ctx, CreateNoteInput{Content: "old trash"})
	require.NoError(t, err)
	freshNote, err := vault.Notes.Create(ctx, CreateNoteInput{Content: "fresh trash"})
	require.NoError(t, err)
	keptNote, err := vault.Notes.Create(ctx, CreateNoteInput{Content: "active"})
	require.NoError(t, err)

	require.NoError(t, vault.Notes.SoftDelete(ctx, oldNote.ID))
	require.NoError(t, vault.Notes.SoftDelete(ctx, freshNote.ID))

	// Backdate one deletion past the retention window.
	raw, err := vault.Store.Notes().Get(ctx, oldNote.ID)
	require.NoError(t, err)
	past := time.Now().UTC().Add(-31 * 24 * time.Hour)
	raw.DeletedAt = &past
	require.NoError(t, vault.Store.Notes().Replace(ctx, raw))

	purged, err := vault.Notes.PurgeOld(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, purged)

	_, err = vault.Store.Notes().Get(ctx, oldNote.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = vault.Store.Notes().Get(ctx, freshNote.ID)
	assert.NoError(t, err)
	_, err = vault.Store.Notes().Get(ctx, keptNote.ID)
	assert.NoError(t, err)
}

func TestPurgeOrphanBlobs(t *testing.T) {
	ctx := context.Background()
	vault := newTestVault(t, "pw")

	note, err := vault.Notes.Create(ctx, CreateNoteInput{Content: "holder"})
	require.NoError(t, err)
	ref, err := vault.Notes.AddAttachment(ctx, note.ID, "live.txt", "text/plain", []byte("live"), nil)
	require.NoError(t, err)
	require.NoError(t, vault.Store.Attachments().PutBlob(ctx, "orphan-1", "{}"))
	require.NoError(t, vault.Store.Attachments().PutBlob(ctx, "orphan-2", "{}"))

	removed, err := vault.Notes.PurgeOrphanBlobs(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	_, err = vault.Store.Attachments().GetBlob(ctx, ref.ID)
	assert.NoError(t, err)
}

func TestExportImportRoundtrip(t *testing.T) {
	ctx := context.Background()
	vault := newTestVault(t, "pw")

	_, err := vault.Notes.Create(ctx, CreateNoteInput{Content: "note one", Tags: []string{"a"}})
	require.NoError(t, err)
	_, err = vault.Notes.Create(ctx, CreateNoteInput{Content: "note two", Tags: []string{"b"}, Pinned: true})
	require.NoError(t, err)

	var buf bytes.Buffer
	count, err := vault.Notes.Export(ctx, &buf)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
	assert.Contains(t, buf.String(), "note one", "export is decrypted")

	// Import into a second vault under a different password.
	vault2 := newTestVault(t, "another password")
	imported, err := vault2.Notes.Import(ctx, strings.NewReader(buf.String()))
	require.NoError(t, err)
	assert.Equal(t, 2, imported)

	notes, err := vault2.Notes.List(ctx, ListOptions{})
	require.NoError(t, err)
	require.Len(t, notes, 2)
	assert.Equal(t, "note two", notes[0].Text, "pinned note listed first")
	assert.Equal(t, int64(1), notes[0].Version)

	// Re-import updates in place rather than duplicating.
	imported, err = vault2.Notes.Import(ctx, strings.NewReader(buf.String()))
	require.NoError(t, err)
	assert.Equal(t, 2, imported)
	n, err := vault2.Store.Notes().CountActive(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestMutationsMarkPending(t *testing.T) {
	ctx := context.Background()
	vault := newTestVault(t, "pw")

	note, err := vault.Notes.Create(ctx, CreateNoteInput{Content: "tracked"})
	require.NoError(t, err)

	meta, err := vault.Store.SyncMeta().GetNote(ctx, note.ID)
	require.NoError(t, err)
	assert.Equal(t, SyncStatusPending, meta.Status)

	pending, err := vault.Store.SyncMeta().ListPending(ctx)
	require.NoError(t, err)
	assert.Contains(t, pending, note.ID)
}
