// Copyright 2025 The Jottery Authors
// SPDX-License-Identifier: Apache-2.0

package jotsqlite

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"time"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"github.com/seesee/jottery/jotcrypto"
)

// DefaultRetention is how long soft-deleted notes are kept before
// PurgeOld removes them permanently.
const DefaultRetention = 30 * 24 * time.Hour

// NoteService wraps the notes repository with the crypto envelope.
// Every operation that accepts or returns content or tags crosses the
// encryption boundary here; the repositories below only ever see
// ciphertext.
type NoteService struct {
	store  *Store
	keys   *jotcrypto.KeyManager
	logger *slog.Logger
}

// NewNoteService wires the service. The key manager is consulted on
// every call; the service never caches a key.
func NewNoteService(store *Store, keys *jotcrypto.KeyManager, logger *slog.Logger) *NoteService {
	if logger == nil {
		logger = slog.Default()
	}
	return &NoteService{store: store, keys: keys, logger: logger}
}

// CreateNoteInput is the cleartext input to Create. Timestamps and ID
// are only set by the import path.
type CreateNoteInput struct {
	Content        string
	Tags           []string
	Pinned         bool
	WordWrap       *bool
	SyntaxLanguage SyntaxLanguage

	ID         string
	CreatedAt  *time.Time
	ModifiedAt *time.Time
}

// Create encrypts content and the normalized tag set under fresh IVs
// and persists a version-1 note.
func (s *NoteService) Create(ctx context.Context, input CreateNoteInput) (*DecryptedNote, error) {
	key, err := s.keys.MasterKey()
	if err != nil {
		return nil, err
	}

	now := s.store.now().UTC()
	note := &Note{
		ID:             input.ID,
		CreatedAt:      now,
		ModifiedAt:     now,
		Pinned:         input.Pinned,
		Version:        1,
		WordWrap:       true,
		SyntaxLanguage: LangPlain,
		Attachments:    []AttachmentRef{},
	}
	if note.ID == "" {
		note.ID = jotcrypto.NewUUID()
	}
	if input.CreatedAt != nil {
		note.CreatedAt = input.CreatedAt.UTC()
	}
	if input.ModifiedAt != nil {
		note.ModifiedAt = input.ModifiedAt.UTC()
	}
	if input.WordWrap != nil {
		note.WordWrap = *input.WordWrap
	}
	if input.SyntaxLanguage != "" {
		note.SyntaxLanguage = input.SyntaxLanguage
	}

	tags := NormalizeTags(input.Tags)
	if err := s.encryptInto(note, input.Content, tags, key); err != nil {
		return nil, err
	}

	if err := s.store.Notes().Create(ctx, note); err != nil {
		return nil, err
	}
	s.markPending(ctx, note.ID)
	s.logger.Debug("created note", "note_id", note.ID)

	return &DecryptedNote{
		Note:        *note,
		Text:        input.Content,
		TagsClear:   tags,
		DecryptedAt: s.store.now().UTC(),
	}, nil
}

// Get returns the decrypted view of one note.
func (s *NoteService) Get(ctx context.Context, id string) (*DecryptedNote, error) {
	key, err := s.keys.MasterKey()
	if err != nil {
		return nil, err
	}
	note, err := s.store.Notes().Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.decrypt(note, key)
}

// ListOptions selects and orders the decrypted note list.
type ListOptions struct {
	Deleted bool // list the trash instead of active notes
	Order   SortOrder
	// Language drives locale-aware alpha ordering; empty means the
	// stored settings language.
	Language string
}

// List returns decrypted notes with pinned notes first, then the
// caller-selected order within each group.
func (s *NoteService) List(ctx context.Context, opts ListOptions) ([]*DecryptedNote, error) {
	key, err := s.keys.MasterKey()
	if err != nil {
		return nil, err
	}

	var notes []*Note
	if opts.Deleted {
		notes, err = s.store.Notes().GetDeleted(ctx)
	} else {
		notes, err = s.store.Notes().GetAllActive(ctx)
	}
	if err != nil {
		return nil, err
	}

	decrypted := make([]*DecryptedNote, 0, len(notes))
	for _, note := range notes {
		d, err := s.decrypt(note, key)
		if err != nil {
			return nil, err
		}
		decrypted = append(decrypted, d)
	}

	lang := opts.Language
	if lang == "" {
		if settings, err := s.store.Settings().Get(ctx); err == nil {
			lang = settings.Language
		}
	}
	sortNotes(decrypted, opts.Order, lang)
	return decrypted, nil
}

// FilterByTag returns the active notes carrying tag, compared
// case-insensitively.
func (s *NoteService) FilterByTag(ctx context.Context, tag string) ([]*DecryptedNote, error) {
	notes, err := s.List(ctx, ListOptions{})
	if err != nil {
		return nil, err
	}
	want := strings.ToLower(strings.TrimSpace(tag))
	var out []*DecryptedNote
	for _, n := range notes {
		for _, t := range n.TagsClear {
			if strings.ToLower(t) == want {
				out = append(out, n)
				break
			}
		}
	}
	return out, nil
}

// AllTags returns every distinct tag across active notes, first
// occurrence's case preserved, for autocomplete.
func (s *NoteService) AllTags(ctx context.Context) ([]string, error) {
	notes, err := s.List(ctx, ListOptions{})
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{})
	var tags []string
	for _, n := range notes {
		for _, t := range n.TagsClear {
			k := strings.ToLower(t)
			if _, ok := seen[k]; ok {
				continue
			}
			seen[k] = struct{}{}
			tags = append(tags, t)
		}
	}
	sort.Slice(tags, func(i, j int) bool {
		return strings.ToLower(tags[i]) < strings.ToLower(tags[j])
	})
	return tags, nil
}

// UpdateNoteInput is a partial update; nil fields are untouched.
type UpdateNoteInput struct {
	Content        *string
	Tags           *[]string
	Attachments    *[]AttachmentRef
	Pinned         *bool
	WordWrap       *bool
	SyntaxLanguage *SyntaxLanguage
}

// Update applies the provided fields, re-encrypting where applicable,
// and deletes the blobs of any attachments the update drops. The
// repository stamps version and modifiedAt.
func (s *NoteService) Update(ctx context.Context, id string, input UpdateNoteInput) (*DecryptedNote, error) {
	key, err := s.keys.MasterKey()
	if err != nil {
		return nil, err
	}
	note, err := s.store.Notes().Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if input.Content != nil {
		env, err := jotcrypto.EncryptText(*input.Content, key)
		if err != nil {
			return nil, fmt.Errorf("note %s: %w", id, err)
		}
		note.Content = env.Marshal()
		note.SyncHash = jotcrypto.Hash(note.Content)
	}
	if input.Tags != nil {
		env, err := jotcrypto.EncryptJSON(NormalizeTags(*input.Tags), key)
		if err != nil {
			return nil, fmt.Errorf("note %s: %w", id, err)
		}
		note.Tags = env.Marshal()
	}
	if input.Attachments != nil {
		removed := removedAttachmentIDs(note.Attachments, *input.Attachments)
		note.Attachments = *input.Attachments
		for _, attID := range removed {
			if err := s.store.Attachments().DeleteBlob(ctx, attID); err != nil {
				return nil, err
			}
			if err := s.store.Attachments().DeleteThumbnail(ctx, attID); err != nil {
				return nil, err
			}
		}
	}
	if input.Pinned != nil {
		note.Pinned = *input.Pinned
	}
	if input.WordWrap != nil {
		note.WordWrap = *input.WordWrap
	}
	if input.SyntaxLanguage != nil {
		note.SyntaxLanguage = *input.SyntaxLanguage
	}

	if err := s.store.Notes().Update(ctx, note); err != nil {
		return nil, err
	}
	s.markPending(ctx, id)
	return s.decrypt(note, key)
}

// TogglePin flips the pinned flag through the repository so stamping
// occurs.
func (s *NoteService) TogglePin(ctx context.Context, id string) (*DecryptedNote, error) {
	note, err := s.store.Notes().Get(ctx, id)
	if err != nil {
		return nil, err
	}
	pinned := !note.Pinned
	return s.Update(ctx, id, UpdateNoteInput{Pinned: &pinned})
}

// SoftDelete marks a note deleted; attachments are retained for
// restore.
func (s *NoteService) SoftDelete(ctx context.Context, id string) error {
	if err := s.store.Notes().SoftDelete(ctx, id); err != nil {
		return err
	}
	s.markPending(ctx, id)
	return nil
}

// Restore undoes a soft delete.
func (s *NoteService) Restore(ctx context.Context, id string) error {
	if err := s.store.Notes().Restore(ctx, id); err != nil {
		return err
	}
	s.markPending(ctx, id)
	return nil
}

// PermanentDelete removes a note and everything it owns. Delete order
// is blobs, then the sync record, then the note row, so a crash between
// steps never leaves a dangling attachment; re-running is idempotent.
func (s *NoteService) PermanentDelete(ctx context.Context, id string) error {
	note, err := s.store.Notes().Get(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	for _, ref := range note.Attachments {
		if err := s.store.Attachments().DeleteBlob(ctx, ref.ID); err != nil {
			return err
		}
		if err := s.store.Attachments().DeleteThumbnail(ctx, ref.ID); err != nil {
			return err
		}
	}
	if err := s.store.SyncMeta().DeleteNote(ctx, id); err != nil {
		return err
	}
	if err := s.store.Notes().Purge(ctx, id); err != nil {
		return err
	}
	s.logger.Debug("permanently deleted note", "note_id", id)
	return nil
}

// PurgeOld permanently deletes soft-deleted notes whose deletion
// predates now minus retention. Returns the number removed.
func (s *NoteService) PurgeOld(ctx context.Context, retention time.Duration) (int, error) {
	if retention <= 0 {
		retention = DefaultRetention
	}
	cutoff := s.store.now().UTC().Add(-retention)

	deleted, err := s.store.Notes().GetDeleted(ctx)
	if err != nil {
		return 0, err
	}
	purged := 0
	for _, note := range deleted {
		if note.DeletedAt == nil || !note.DeletedAt.Before(cutoff) {
			continue
		}
		if err := s.PermanentDelete(ctx, note.ID); err != nil {
			return purged, err
		}
		purged++
	}
	if purged > 0 {
		s.logger.Info("purged old notes", "count", purged)
	}
	return purged, nil
}

// AddAttachment encrypts and stores a file against a note: filename and
// bytes under the master key, thumbnail too when given. The note update
// stamps version and modifiedAt.
func (s *NoteService) AddAttachment(ctx context.Context, noteID, filename, mimeType string, data, thumbnail []byte) (*AttachmentRef, error) {
	key, err := s.keys.MasterKey()
	if err != nil {
		return nil, err
	}
	note, err := s.store.Notes().Get(ctx, noteID)
	if err != nil {
		return nil, err
	}

	nameEnv, err := jotcrypto.EncryptText(filename, key)
	if err != nil {
		return nil, err
	}
	dataEnv, err := jotcrypto.EncryptBytes(data, key)
	if err != nil {
		return nil, err
	}

	ref := AttachmentRef{
		ID:       jotcrypto.NewUUID(),
		Filename: nameEnv.Marshal(),
		MimeType: mimeType,
		Size:     int64(len(data)),
	}
	ref.Data = ref.ID

	if err := s.store.Attachments().PutBlob(ctx, ref.ID, dataEnv.Marshal()); err != nil {
		return nil, err
	}
	if thumbnail != nil {
		thumbEnv, err := jotcrypto.EncryptBytes(thumbnail, key)
		if err != nil {
			return nil, err
		}
		if err := s.store.Attachments().PutThumbnail(ctx, ref.ID, thumbEnv.Marshal()); err != nil {
			return nil, err
		}
		ref.ThumbnailData = &ref.ID
	}

	attachments := append(append([]AttachmentRef{}, note.Attachments...), ref)
	if _, err := s.Update(ctx, noteID, UpdateNoteInput{Attachments: &attachments}); err != nil {
		return nil, err
	}
	return &ref, nil
}

// GetAttachment decrypts an attachment's filename and bytes.
func (s *NoteService) GetAttachment(ctx context.Context, noteID, attachmentID string) (string, []byte, error) {
	key, err := s.keys.MasterKey()
	if err != nil {
		return "", nil, err
	}
	note, err := s.store.Notes().Get(ctx, noteID)
	if err != nil {
		return "", nil, err
	}

	var ref *AttachmentRef
	for i := range note.Attachments {
		if note.Attachments[i].ID == attachmentID {
			ref = &note.Attachments[i]
			break
		}
	}
	if ref == nil {
		return "", nil, fmt.Errorf("attachment %s: %w", attachmentID, ErrNotFound)
	}

	nameEnv, err := jotcrypto.ParseEnvelope(ref.Filename)
	if err != nil {
		return "", nil, err
	}
	filename, err := jotcrypto.DecryptText(nameEnv, key)
	if err != nil {
		return "", nil, fmt.Errorf("attachment %s: %w", attachmentID, err)
	}

	blob, err := s.store.Attachments().GetBlob(ctx, ref.ID)
	if err != nil {
		return "", nil, err
	}
	dataEnv, err := jotcrypto.ParseEnvelope(blob)
	if err != nil {
		return "", nil, err
	}
	data, err := jotcrypto.DecryptBytes(dataEnv, key)
	if err != nil {
		return "", nil, fmt.Errorf("attachment %s: %w", attachmentID, err)
	}
	return filename, data, nil
}

// PurgeOrphanBlobs removes blobs no note references. It is not part of
// any automatic path; shells invoke it explicitly.
func (s *NoteService) PurgeOrphanBlobs(ctx context.Context) (int, error) {
	notes, err := s.store.Notes().GetAll(ctx)
	if err != nil {
		return 0, err
	}
	referenced := make(map[string]struct{})
	for _, note := range notes {
		for _, ref := range note.Attachments {
			referenced[ref.ID] = struct{}{}
		}
	}

	ids, err := s.store.Attachments().ListBlobIDs(ctx)
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, id := range ids {
		if _, ok := referenced[id]; ok {
			continue
		}
		if err := s.store.Attachments().DeleteBlob(ctx, id); err != nil {
			return removed, err
		}
		if err := s.store.Attachments().DeleteThumbnail(ctx, id); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

func (s *NoteService) encryptInto(note *Note, content string, tags []string, key []byte) error {
	contentEnv, err := jotcrypto.EncryptText(content, key)
	if err != nil {
		return err
	}
	tagsEnv, err := jotcrypto.EncryptJSON(tags, key)
	if err != nil {
		return err
	}
	note.Content = contentEnv.Marshal()
	note.Tags = tagsEnv.Marshal()
	note.SyncHash = jotcrypto.Hash(note.Content)
	return nil
}

func (s *NoteService) decrypt(note *Note, key []byte) (*DecryptedNote, error) {
	contentEnv, err := jotcrypto.ParseEnvelope(note.Content)
	if err != nil {
		return nil, fmt.Errorf("note %s: content: %w", note.ID, err)
	}
	text, err := jotcrypto.DecryptText(contentEnv, key)
	if err != nil {
		return nil, fmt.Errorf("note %s: content: %w", note.ID, err)
	}

	tagsEnv, err := jotcrypto.ParseEnvelope(note.Tags)
	if err != nil {
		return nil, fmt.Errorf("note %s: tags: %w", note.ID, err)
	}
	var tags []string
	if err := jotcrypto.DecryptJSON(tagsEnv, key, &tags); err != nil {
		return nil, fmt.Errorf("note %s: tags: %w", note.ID, err)
	}

	return &DecryptedNote{
		Note:        *note,
		Text:        text,
		TagsClear:   tags,
		DecryptedAt: s.store.now().UTC(),
	}, nil
}

// markPending flips the per-note sync status on any local mutation.
// Failures are logged, never fatal — sync will rediscover the note via
// its modifiedAt anyway.
func (s *NoteService) markPending(ctx context.Context, id string) {
	status := SyncStatusPending
	if err := s.store.SyncMeta().UpdateNote(ctx, id, NoteSyncPatch{Status: &status}); err != nil {
		s.logger.Warn("failed to mark note pending", "note_id", id, "error", err)
	}
}

// NormalizeTags trims tags, drops empties, and deduplicates
// case-insensitively while preserving the first occurrence's case.
func NormalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	seen := make(map[string]struct{}, len(tags))
	for _, tag := range tags {
		tag = strings.TrimSpace(tag)
		if tag == "" {
			continue
		}
		k := strings.ToLower(tag)
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, tag)
	}
	return out
}

func removedAttachmentIDs(old, new []AttachmentRef) []string {
	kept := make(map[string]struct{}, len(new))
	for _, ref := range new {
		kept[ref.ID] = struct{}{}
	}
	var removed []string
	for _, ref := range old {
		if _, ok := kept[ref.ID]; !ok {
			removed = append(removed, ref.ID)
		}
	}
	return removed
}

// sortNotes orders pinned notes before unpinned, then applies the
// selected order within each group. Ordering is defined on the
// cleartext view; alpha compares the case-folded first line under the
// store's language.
func sortNotes(notes []*DecryptedNote, order SortOrder, lang string) {
	var less func(a, b *DecryptedNote) bool
	switch order {
	case SortOldest:
		less = func(a, b *DecryptedNote) bool { return a.ModifiedAt.Before(b.ModifiedAt) }
	case SortCreated:
		less = func(a, b *DecryptedNote) bool { return a.CreatedAt.After(b.CreatedAt) }
	case SortAlpha:
		tag, err := language.Parse(lang)
		if err != nil {
			tag = language.English
		}
		c := collate.New(tag, collate.IgnoreCase)
		less = func(a, b *DecryptedNote) bool {
			return c.CompareString(a.FirstLine(), b.FirstLine()) < 0
		}
	default: // SortRecent
		less = func(a, b *DecryptedNote) bool { return a.ModifiedAt.After(b.ModifiedAt) }
	}

	sort.SliceStable(notes, func(i, j int) bool {
		if notes[i].Pinned != notes[j].Pinned {
			return notes[i].Pinned
		}
		return less(notes[i], notes[j])
	})
}

// ExportData is the decrypted export envelope, matching the format the
// browser client writes.
type ExportData struct {
	Version    string       `json:"version"`
	ExportDate string       `json:"exportDate"`
	Notes      []ExportNote `json:"notes"`
}

// ExportNote is one decrypted note in an export document.
type ExportNote struct {
	ID             string   `json:"id"`
	CreatedAt      string   `json:"createdAt"`
	ModifiedAt     string   `json:"modifiedAt"`
	Content        string   `json:"content"`
	Tags           []string `json:"tags"`
	Pinned         bool     `json:"pinned"`
	WordWrap       *bool    `json:"wordWrap,omitempty"`
	SyntaxLanguage *string  `json:"syntaxLanguage,omitempty"`
}

// Export writes all notes, deleted included, as decrypted JSON.
func (s *NoteService) Export(ctx context.Context, w io.Writer) (int, error) {
	key, err := s.keys.MasterKey()
	if err != nil {
		return 0, err
	}
	notes, err := s.store.Notes().GetAll(ctx)
	if err != nil {
		return 0, err
	}

	data := ExportData{
		Version:    "1.0",
		ExportDate: formatTime(s.store.now()),
		Notes:      make([]ExportNote, 0, len(notes)),
	}
	for _, note := range notes {
		d, err := s.decrypt(note, key)
		if err != nil {
			return 0, err
		}
		lang := string(d.SyntaxLanguage)
		wordWrap := d.WordWrap
		data.Notes = append(data.Notes, ExportNote{
			ID:             d.ID,
			CreatedAt:      formatTime(d.CreatedAt),
			ModifiedAt:     formatTime(d.ModifiedAt),
			Content:        d.Text,
			Tags:           d.TagsClear,
			Pinned:         d.Pinned,
			WordWrap:       &wordWrap,
			SyntaxLanguage: &lang,
		})
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(&data); err != nil {
		return 0, fmt.Errorf("write export: %w", err)
	}
	return len(data.Notes), nil
}

// Import reads an export document and re-encrypts its notes under the
// local key, preserving ids and timestamps. Existing ids are updated
// rather than duplicated. Returns the number imported.
func (s *NoteService) Import(ctx context.Context, r io.Reader) (int, error) {
	var data ExportData
	if err := json.NewDecoder(r).Decode(&data); err != nil {
		return 0, fmt.Errorf("%w: parse import: %v", ErrInvalidInput, err)
	}

	imported := 0
	for _, en := range data.Notes {
		createdAt, err := parseTime(en.CreatedAt)
		if err != nil {
			return imported, fmt.Errorf("%w: note %s: createdAt: %v", ErrInvalidInput, en.ID, err)
		}
		modifiedAt, err := parseTime(en.ModifiedAt)
		if err != nil {
			return imported, fmt.Errorf("%w: note %s: modifiedAt: %v", ErrInvalidInput, en.ID, err)
		}

		var lang SyntaxLanguage
		if en.SyntaxLanguage != nil {
			lang = ParseSyntaxLanguage(*en.SyntaxLanguage)
		}

		_, err = s.store.Notes().Get(ctx, en.ID)
		switch {
		case errors.Is(err, ErrNotFound):
			_, err = s.Create(ctx, CreateNoteInput{
				ID:             en.ID,
				Content:        en.Content,
				Tags:           en.Tags,
				Pinned:         en.Pinned,
				WordWrap:       en.WordWrap,
				SyntaxLanguage: lang,
				CreatedAt:      &createdAt,
				ModifiedAt:     &modifiedAt,
			})
			if err != nil {
				return imported, err
			}
		case err != nil:
			return imported, err
		default:
			input := UpdateNoteInput{Content: &en.Content, Tags: &en.Tags, Pinned: &en.Pinned}
			if en.WordWrap != nil {
				input.WordWrap = en.WordWrap
			}
			if en.SyntaxLanguage != nil {
				input.SyntaxLanguage = &lang
			}
			if _, err := s.Update(ctx, en.ID, input); err != nil {
				return imported, err
			}
		}
		imported++
	}
	s.logger.Info("imported notes", "count", imported)
	return imported, nil
}
