// Copyright 2025 The Jottery Authors
// SPDX-License-Identifier: Apache-2.0

package jotsync

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/mattn/go-sqlite3"

	"github.com/seesee/jottery/jotcrypto"
)

// RejectReasonStale is the reason string attached to pushes that lose
// against the stored copy.
const RejectReasonStale = "Server version is newer"

// Service is the sync server core. One instance serves all registered
// clients over a shared SQLite database.
type Service struct {
	db     *sqlx.DB
	logger *slog.Logger

	now func() time.Time // test seam
}

// NewService creates the service and initializes the schema.
func NewService(db *sqlx.DB, logger *slog.Logger) (*Service, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := initializeSchema(db); err != nil {
		return nil, err
	}
	return &Service{db: db, logger: logger, now: time.Now}, nil
}

// Register creates a client record and returns the plaintext API key —
// the only time it ever leaves the server.
func (s *Service) Register(ctx context.Context, req *RegisterRequest) (*RegisterResponse, error) {
	if req.DeviceName == "" {
		return nil, fmt.Errorf("%w: deviceName is required", ErrInvalidRequest)
	}
	if req.DeviceType != "web" && req.DeviceType != "cli" {
		return nil, fmt.Errorf("%w: deviceType must be \"web\" or \"cli\"", ErrInvalidRequest)
	}

	apiKey, err := generateAPIKey()
	if err != nil {
		return nil, err
	}

	clientID := jotcrypto.NewUUID()
	now := FormatTime(s.now())

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO clients (id, api_key, device_name, device_type, created_at, last_seen_at, is_active)
		VALUES (?, ?, ?, ?, ?, ?, 1)`,
		clientID, hashAPIKey(apiKey), req.DeviceName, req.DeviceType, now, now)
	if err != nil {
		return nil, mapSQLiteErr(err)
	}

	s.logger.Info("registered client", "client_id", clientID, "device_name", req.DeviceName, "device_type", req.DeviceType)

	return &RegisterResponse{APIKey: apiKey, ClientID: clientID, CreatedAt: now}, nil
}

// Authenticate resolves a bearer key to a client id, updating the
// client's last-seen timestamp on success.
func (s *Service) Authenticate(ctx context.Context, apiKey string) (string, error) {
	var c registeredClient
	err := s.db.GetContext(ctx, &c,
		`SELECT id, api_key, device_name, device_type, created_at, last_seen_at, is_active
		 FROM clients WHERE api_key = ?`, hashAPIKey(apiKey))
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrUnauthorized
	}
	if err != nil {
		return "", mapSQLiteErr(err)
	}
	if c.IsActive == 0 {
		return "", ErrForbidden
	}

	if _, err := s.db.ExecContext(ctx,
		`UPDATE clients SET last_seen_at = ? WHERE id = ?`,
		FormatTime(s.now()), c.ID); err != nil {
		s.logger.Warn("failed to update last_seen_at", "client_id", c.ID, "error", err)
	}
	return c.ID, nil
}

// Status summarizes the authenticated client's server-side state.
func (s *Service) Status(ctx context.Context, clientID string) (*StatusResponse, error) {
	var noteCount int64
	if err := s.db.GetContext(ctx, &noteCount,
		`SELECT COUNT(*) FROM notes WHERE client_id = ?`, clientID); err != nil {
		return nil, mapSQLiteErr(err)
	}

	var lastModified sql.NullString
	if err := s.db.GetContext(ctx, &lastModified,
		`SELECT MAX(server_modified_at) FROM notes WHERE client_id = ?`, clientID); err != nil {
		return nil, mapSQLiteErr(err)
	}
	serverLastModified := lastModified.String
	if !lastModified.Valid {
		serverLastModified = FormatTime(s.now())
	}

	return &StatusResponse{
		ClientID:           clientID,
		ServerLastModified: serverLastModified,
		NoteCount:          noteCount,
	}, nil
}

// Push applies a batch of client notes. Each note is decided inside its
// own immediate transaction, so concurrent pushes for the same
// (client, note) row serialize and the version counter increments under
// the same lock that writes the fields. Blobs are stored outside the
// note transactions; they are content-addressed by id and
// overwrite-safe.
func (s *Service) Push(ctx context.Context, clientID string, req *PushRequest) (*PushResponse, error) {
	resp := &PushResponse{
		Accepted: []PushAccepted{},
		Rejected: []PushRejected{},
		Errors:   []string{},
	}

	for i := range req.Notes {
		note := &req.Notes[i]
		if note.ID == "" {
			resp.Errors = append(resp.Errors, "note with empty id skipped")
			continue
		}
		accepted, rejected, err := s.pushNote(ctx, clientID, note)
		if err != nil {
			if errors.Is(err, ErrBusy) {
				return nil, err
			}
			s.logger.Error("push note failed", "client_id", clientID, "note_id", note.ID, "error", err)
			resp.Errors = append(resp.Errors, fmt.Sprintf("%s: %v", note.ID, err))
			continue
		}
		if accepted != nil {
			resp.Accepted = append(resp.Accepted, *accepted)
		} else {
			resp.Rejected = append(resp.Rejected, *rejected)
		}
	}

	for _, att := range req.Attachments {
		if err := s.storeBlob(ctx, &att); err != nil {
			s.logger.Error("store attachment failed", "attachment_id", att.ID, "error", err)
			resp.Errors = append(resp.Errors, fmt.Sprintf("attachment %s: %v", att.ID, err))
		}
	}

	s.recordOperation(ctx, clientID, "push", len(req.Notes), len(req.Attachments))
	s.logger.Info("push processed", "client_id", clientID,
		"accepted", len(resp.Accepted), "rejected", len(resp.Rejected), "errors", len(resp.Errors))

	return resp, nil
}

func (s *Service) pushNote(ctx context.Context, clientID string, note *SyncNote) (*PushAccepted, *PushRejected, error) {
	incomingModified, err := ParseTime(note.ModifiedAt)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: modifiedAt: %v", ErrInvalidRequest, err)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, nil, mapSQLiteErr(err)
	}
	defer tx.Rollback() //nolint:errcheck

	var existing serverNote
	err = tx.GetContext(ctx, &existing,
		`SELECT id, client_id, created_at, modified_at, server_modified_at, content, tags,
		        pinned, deleted, deleted_at, version, server_version, word_wrap, syntax_language
		 FROM notes WHERE client_id = ? AND id = ?`, clientID, note.ID)
	haveExisting := err == nil
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, nil, mapSQLiteErr(err)
	}

	now := FormatTime(s.now())

	if haveExisting {
		storedModified, perr := ParseTime(existing.ModifiedAt)
		if perr != nil {
			return nil, nil, fmt.Errorf("stored modified_at unreadable: %w", perr)
		}
		if incomingModified.Equal(storedModified) {
			// Identical write replayed; accept without touching the row.
			if err := tx.Commit(); err != nil {
				return nil, nil, mapSQLiteErr(err)
			}
			return &PushAccepted{ID: note.ID, ServerVersion: existing.ServerVersion, SyncedAt: now}, nil, nil
		}
		// Stale echo: the client has not seen the current server version,
		// so another device wrote in between. The client reconciles via
		// pull and re-invokes.
		if note.ServerVersion < existing.ServerVersion {
			if err := tx.Commit(); err != nil {
				return nil, nil, mapSQLiteErr(err)
			}
			return nil, &PushRejected{
				ID:               note.ID,
				Reason:           RejectReasonStale,
				ServerModifiedAt: existing.ModifiedAt,
			}, nil
		}
	}

	serverVersion := int64(1)
	if haveExisting {
		serverVersion = existing.ServerVersion + 1
	}

	row := wireToRow(clientID, note, now, serverVersion)
	_, err = tx.NamedExecContext(ctx, `
		INSERT INTO notes (id, client_id, created_at, modified_at, server_modified_at,
		                   content, tags, pinned, deleted, deleted_at, version, server_version,
		                   word_wrap, syntax_language)
		VALUES (:id, :client_id, :created_at, :modified_at, :server_modified_at,
		        :content, :tags, :pinned, :deleted, :deleted_at, :version, :server_version,
		        :word_wrap, :syntax_language)
		ON CONFLICT(client_id, id) DO UPDATE SET
			modified_at = excluded.modified_at,
			server_modified_at = excluded.server_modified_at,
			content = excluded.content,
			tags = excluded.tags,
			pinned = excluded.pinned,
			deleted = excluded.deleted,
			deleted_at = excluded.deleted_at,
			version = excluded.version,
			server_version = excluded.server_version,
			word_wrap = excluded.word_wrap,
			syntax_language = excluded.syntax_language`, row)
	if err != nil {
		return nil, nil, mapSQLiteErr(err)
	}

	for _, ref := range note.Attachments {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO attachments_meta (id, client_id, note_id, filename, mime_type, size, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				filename = excluded.filename,
				mime_type = excluded.mime_type,
				size = excluded.size`,
			ref.ID, clientID, note.ID, ref.Filename, ref.MimeType, ref.Size, now)
		if err != nil {
			return nil, nil, mapSQLiteErr(err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, mapSQLiteErr(err)
	}
	return &PushAccepted{ID: note.ID, ServerVersion: serverVersion, SyncedAt: now}, nil, nil
}

func (s *Service) storeBlob(ctx context.Context, att *SyncAttachment) error {
	data, err := base64.StdEncoding.DecodeString(att.Data)
	if err != nil {
		return fmt.Errorf("%w: invalid base64", ErrInvalidRequest)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO attachments_data (id, data, created_at)
		VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET data = excluded.data`,
		att.ID, data, FormatTime(s.now()))
	return mapSQLiteErr(err)
}

// Pull returns every note changed after LastSyncAt, soft-delete
// tombstones, and the blobs belonging to notes the client does not
// already hold.
func (s *Service) Pull(ctx context.Context, clientID string, req *PullRequest) (*PullResponse, error) {
	resp := &PullResponse{
		Notes:       []SyncNote{},
		Deletions:   []SyncDeletion{},
		Attachments: []SyncAttachment{},
		SyncedAt:    FormatTime(s.now()),
	}

	since := ""
	if req.LastSyncAt != nil {
		t, err := ParseTime(*req.LastSyncAt)
		if err != nil {
			return nil, fmt.Errorf("%w: lastSyncAt: %v", ErrInvalidRequest, err)
		}
		since = FormatTime(t)
	}

	var rows []serverNote
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, client_id, created_at, modified_at, server_modified_at, content, tags,
		       pinned, deleted, deleted_at, version, server_version, word_wrap, syntax_language
		FROM notes
		WHERE client_id = ? AND server_modified_at > ?
		ORDER BY server_modified_at`, clientID, since)
	if err != nil {
		return nil, mapSQLiteErr(err)
	}

	known := make(map[string]struct{}, len(req.KnownNoteIDs))
	for _, id := range req.KnownNoteIDs {
		known[id] = struct{}{}
	}

	var blobIDs []string
	for i := range rows {
		row := &rows[i]
		if row.Deleted != 0 {
			deletedAt := row.ModifiedAt
			if row.DeletedAt != nil {
				deletedAt = *row.DeletedAt
			}
			resp.Deletions = append(resp.Deletions, SyncDeletion{ID: row.ID, DeletedAt: deletedAt})
			continue
		}

		note := row.toWire()
		refs, err := s.attachmentRefs(ctx, clientID, row.ID)
		if err != nil {
			return nil, err
		}
		note.Attachments = refs
		resp.Notes = append(resp.Notes, note)

		if _, ok := known[row.ID]; !ok {
			for _, ref := range refs {
				blobIDs = append(blobIDs, ref.ID)
			}
		}
	}

	for _, id := range blobIDs {
		var data []byte
		err := s.db.GetContext(ctx, &data, `SELECT data FROM attachments_data WHERE id = ?`, id)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return nil, mapSQLiteErr(err)
		}
		resp.Attachments = append(resp.Attachments, SyncAttachment{
			ID:   id,
			Data: base64.StdEncoding.EncodeToString(data),
		})
	}

	s.recordOperation(ctx, clientID, "pull", len(resp.Notes)+len(resp.Deletions), len(resp.Attachments))
	s.logger.Info("pull processed", "client_id", clientID,
		"notes", len(resp.Notes), "deletions", len(resp.Deletions), "attachments", len(resp.Attachments))

	return resp, nil
}

func (s *Service) attachmentRefs(ctx context.Context, clientID, noteID string) ([]AttachmentRef, error) {
	type metaRow struct {
		ID       string `db:"id"`
		Filename string `db:"filename"`
		MimeType string `db:"mime_type"`
		Size     int64  `db:"size"`
	}
	var metas []metaRow
	err := s.db.SelectContext(ctx, &metas, `
		SELECT id, filename, mime_type, size
		FROM attachments_meta WHERE client_id = ? AND note_id = ?`, clientID, noteID)
	if err != nil {
		return nil, mapSQLiteErr(err)
	}
	refs := make([]AttachmentRef, 0, len(metas))
	for _, m := range metas {
		refs = append(refs, AttachmentRef{
			ID: m.ID, Filename: m.Filename, MimeType: m.MimeType, Size: m.Size, Data: m.ID,
		})
	}
	return refs, nil
}

// DeleteNote hard-deletes a server row and its attachments. Admin-style
// operation; regular clients propagate soft-deletes through push.
func (s *Service) DeleteNote(ctx context.Context, clientID, noteID string) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return mapSQLiteErr(err)
	}
	defer tx.Rollback() //nolint:errcheck

	var blobIDs []string
	if err := tx.SelectContext(ctx, &blobIDs,
		`SELECT id FROM attachments_meta WHERE client_id = ? AND note_id = ?`, clientID, noteID); err != nil {
		return mapSQLiteErr(err)
	}
	for _, id := range blobIDs {
		if _, err := tx.ExecContext(ctx, `DELETE FROM attachments_data WHERE id = ?`, id); err != nil {
			return mapSQLiteErr(err)
		}
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM attachments_meta WHERE client_id = ? AND note_id = ?`, clientID, noteID); err != nil {
		return mapSQLiteErr(err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM notes WHERE client_id = ? AND id = ?`, clientID, noteID); err != nil {
		return mapSQLiteErr(err)
	}
	if err := tx.Commit(); err != nil {
		return mapSQLiteErr(err)
	}

	s.recordOperation(ctx, clientID, "delete", 1, len(blobIDs))
	s.logger.Info("deleted note", "client_id", clientID, "note_id", noteID)
	return nil
}

func wireToRow(clientID string, note *SyncNote, serverModifiedAt string, serverVersion int64) *serverNote {
	row := &serverNote{
		ID:               note.ID,
		ClientID:         clientID,
		CreatedAt:        note.CreatedAt,
		ModifiedAt:       note.ModifiedAt,
		ServerModifiedAt: serverModifiedAt,
		Content:          note.Content,
		Tags:             note.Tags,
		Version:          note.Version,
		ServerVersion:    serverVersion,
		DeletedAt:        note.DeletedAt,
		SyntaxLanguage:   note.SyntaxLanguage,
	}
	if note.Pinned {
		row.Pinned = 1
	}
	if note.Deleted {
		row.Deleted = 1
	}
	if note.WordWrap != nil {
		w := 0
		if *note.WordWrap {
			w = 1
		}
		row.WordWrap = &w
	}
	return row
}

func generateAPIKey() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate api key: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

func hashAPIKey(apiKey string) string {
	sum := sha256.Sum256([]byte(apiKey))
	return hex.EncodeToString(sum[:])
}

// mapSQLiteErr converts lock-wait exhaustion into ErrBusy so the
// handler layer can answer 503; everything else passes through.
func mapSQLiteErr(err error) error {
	if err == nil {
		return nil
	}
	var serr sqlite3.Error
	if errors.As(err, &serr) {
		if serr.Code == sqlite3.ErrBusy || serr.Code == sqlite3.ErrLocked {
			return fmt.Errorf("%w: %v", ErrBusy, err)
		}
	}
	return err
}
