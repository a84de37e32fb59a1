// Copyright 2025 The Jottery Authors
// SPDX-License-Identifier: Apache-2.0

package jotsqlite

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/seesee/jottery/jotcrypto"
	"github.com/seesee/jottery/jotsync"
)

// SyncClient is the client-side sync engine: registration, credential
// portability, and the bidirectional syncNow flow.
type SyncClient struct {
	store  *Store
	keys   *jotcrypto.KeyManager
	logger *slog.Logger

	// HTTP is the transport; callers may replace it.
	HTTP *http.Client

	syncing atomic.Bool

	// OnComplete, when set, is invoked after a successful syncNow so the
	// shell can reload its note list and rebuild the search index.
	OnComplete func()
}

// NewSyncClient wires the engine against a store and key manager.
func NewSyncClient(store *Store, keys *jotcrypto.KeyManager, logger *slog.Logger) *SyncClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &SyncClient{
		store:  store,
		keys:   keys,
		logger: logger,
		HTTP:   &http.Client{Timeout: 120 * time.Second},
	}
}

// NormalizeEndpoint strips the trailing slash so path concatenation
// never doubles one.
func NormalizeEndpoint(endpoint string) string {
	return strings.TrimRight(strings.TrimSpace(endpoint), "/")
}

// Register creates a server-side client record and persists encrypted
// credentials. The returned plaintext API key is surfaced exactly once;
// the server never returns it again.
func (c *SyncClient) Register(ctx context.Context, endpoint, deviceName, deviceType string) (string, error) {
	key, err := c.keys.MasterKey()
	if err != nil {
		return "", err
	}
	endpoint = NormalizeEndpoint(endpoint)
	if endpoint == "" {
		return "", fmt.Errorf("%w: endpoint is required", ErrInvalidInput)
	}

	var resp jotsync.RegisterResponse
	status, err := c.doJSON(ctx, http.MethodPost, endpoint+"/api/v1/auth/register", "",
		&jotsync.RegisterRequest{DeviceName: deviceName, DeviceType: deviceType}, &resp)
	if err != nil {
		return "", err
	}
	if status != http.StatusCreated {
		return "", fmt.Errorf("%w: register returned %d", ErrServer, status)
	}
	if resp.APIKey == "" || resp.ClientID == "" {
		return "", fmt.Errorf("%w: register response missing fields", ErrProtocol)
	}

	env, err := jotcrypto.EncryptText(resp.APIKey, key)
	if err != nil {
		return "", err
	}

	enabled := true
	interval := 5
	_, err = c.store.SyncMeta().UpdateGlobal(ctx, SyncMetadataPatch{
		APIKey:           &APIKey{State: APIKeyEncrypted, Envelope: env},
		ClientID:         &resp.ClientID,
		SyncEndpoint:     &endpoint,
		SyncEnabled:      &enabled,
		AutoSyncInterval: &interval,
	})
	if err != nil {
		return "", err
	}

	c.logger.Info("registered with sync server", "client_id", resp.ClientID, "endpoint", endpoint)
	return resp.APIKey, nil
}

// credentialPayload is the base64-wrapped JSON carried between devices.
// Exactly these four keys; import rejects anything else.
type credentialPayload struct {
	Endpoint string `json:"endpoint"`
	ClientID string `json:"clientId"`
	APIKey   string `json:"apiKey"`
	Salt     string `json:"salt"`
}

// ExportCredentials emits the cross-device seeding payload. It carries
// the encryption salt: without it the second device cannot derive the
// same data key from the same password.
func (c *SyncClient) ExportCredentials(ctx context.Context) (string, error) {
	key, err := c.keys.MasterKey()
	if err != nil {
		return "", err
	}
	meta, err := c.store.SyncMeta().GetGlobal(ctx)
	if err != nil {
		return "", err
	}
	if meta.APIKey.State != APIKeyEncrypted {
		return "", fmt.Errorf("%w: no registered credentials to export", ErrSyncDisabled)
	}
	apiKey, err := jotcrypto.DecryptText(meta.APIKey.Envelope, key)
	if err != nil {
		return "", err
	}
	encMeta, err := c.store.Encryption().Get(ctx)
	if err != nil {
		return "", err
	}

	payload := credentialPayload{
		Endpoint: meta.SyncEndpoint,
		ClientID: meta.ClientID,
		APIKey:   apiKey,
		Salt:     base64.StdEncoding.EncodeToString(encMeta.Salt),
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal credentials: %w", err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// ImportCredentials seeds this device from another device's export. The
// encryption metadata is overwritten with the imported salt — existing
// notes are left alone; the path assumes an empty or compatible store.
// The API key lands in the pending-import state and the app locks; the
// next successful unlock finalizes it.
func (c *SyncClient) ImportCredentials(ctx context.Context, encoded string) error {
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
	if err != nil {
		return fmt.Errorf("%w: credentials are not valid base64", ErrInvalidInput)
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	var payload credentialPayload
	if err := dec.Decode(&payload); err != nil {
		return fmt.Errorf("%w: credentials: %v", ErrInvalidInput, err)
	}
	var missing []string
	if payload.Endpoint == "" {
		missing = append(missing, "endpoint")
	}
	if payload.ClientID == "" {
		missing = append(missing, "clientId")
	}
	if payload.APIKey == "" {
		missing = append(missing, "apiKey")
	}
	if payload.Salt == "" {
		missing = append(missing, "salt")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: credentials missing %s", ErrInvalidInput, strings.Join(missing, ", "))
	}

	salt, err := base64.StdEncoding.DecodeString(payload.Salt)
	if err != nil || len(salt) < jotcrypto.SaltSize {
		return fmt.Errorf("%w: credentials salt is invalid", ErrInvalidInput)
	}

	err = c.store.Encryption().Set(ctx, &EncryptionMetadata{
		Salt:       salt,
		Iterations: jotcrypto.DefaultIterations,
		CreatedAt:  c.store.now().UTC(),
		Algorithm:  AlgorithmAESGCM,
	})
	if err != nil {
		return err
	}

	endpoint := NormalizeEndpoint(payload.Endpoint)
	disabled := false
	_, err = c.store.SyncMeta().UpdateGlobal(ctx, SyncMetadataPatch{
		APIKey:       &APIKey{State: APIKeyPendingImport, Plaintext: payload.APIKey},
		ClientID:     &payload.ClientID,
		SyncEndpoint: &endpoint,
		SyncEnabled:  &disabled,
	})
	if err != nil {
		return err
	}

	// Force a re-unlock against the imported salt.
	c.keys.Lock()
	c.logger.Info("imported sync credentials", "client_id", payload.ClientID, "endpoint", endpoint)
	return nil
}

// FinalizeImport re-wraps a pending-import API key under the freshly
// derived master key and re-enables sync. The unlock path calls this;
// with no pending import it is a no-op.
func (c *SyncClient) FinalizeImport(ctx context.Context) error {
	meta, err := c.store.SyncMeta().GetGlobal(ctx)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if meta.APIKey.State != APIKeyPendingImport {
		return nil
	}

	key, err := c.keys.MasterKey()
	if err != nil {
		return err
	}
	env, err := jotcrypto.EncryptText(meta.APIKey.Plaintext, key)
	if err != nil {
		return err
	}

	enabled := true
	_, err = c.store.SyncMeta().UpdateGlobal(ctx, SyncMetadataPatch{
		APIKey:      &APIKey{State: APIKeyEncrypted, Envelope: env},
		SyncEnabled: &enabled,
	})
	if err != nil {
		return err
	}
	c.logger.Info("finalized credential import")
	return nil
}

// ClearCredentials forgets registration, per-note sync state, and the
// pushed-blob cache. Notes are untouched.
func (c *SyncClient) ClearCredentials(ctx context.Context) error {
	return c.store.SyncMeta().ClearAll(ctx)
}

// SyncResult summarizes one syncNow invocation.
type SyncResult struct {
	Success   bool
	Reason    string
	Pushed    int
	Rejected  int
	Pulled    int
	Deletions int
}

// SyncNow runs one bidirectional sync: push, then pull, then stamp.
// Invocations are serialized by a single in-flight flag; a concurrent
// call returns ErrSyncInProgress without touching the server.
func (c *SyncClient) SyncNow(ctx context.Context) (*SyncResult, error) {
	if !c.syncing.CompareAndSwap(false, true) {
		return &SyncResult{Success: false, Reason: "already in progress"}, ErrSyncInProgress
	}
	defer c.syncing.Store(false)

	meta, err := c.store.SyncMeta().GetGlobal(ctx)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrSyncDisabled
	}
	if err != nil {
		return nil, err
	}
	if !meta.SyncEnabled || meta.APIKey.State != APIKeyEncrypted {
		return nil, ErrSyncDisabled
	}

	key, err := c.keys.MasterKey()
	if err != nil {
		return nil, err
	}
	apiKey, err := jotcrypto.DecryptText(meta.APIKey.Envelope, key)
	if err != nil {
		return nil, err
	}

	// Status probe is advisory; a failure is a warning, not an abort.
	var statusResp jotsync.StatusResponse
	if _, err := c.doJSON(ctx, http.MethodGet, meta.SyncEndpoint+"/api/v1/sync/status", apiKey, nil, &statusResp); err != nil {
		c.logger.Warn("sync status probe failed", "error", err)
	}

	result := &SyncResult{}
	if err := c.push(ctx, meta, apiKey, result); err != nil {
		return result, err
	}
	if err := c.pull(ctx, meta, apiKey, result); err != nil {
		return result, err
	}

	result.Success = true
	if c.OnComplete != nil {
		c.OnComplete()
	}
	c.logger.Info("sync complete",
		"pushed", result.Pushed, "rejected", result.Rejected,
		"pulled", result.Pulled, "deletions", result.Deletions)
	return result, nil
}

// push uploads the snapshot of notes modified since the last sync —
// plus pending and conflicted stragglers — with any referenced blobs
// the server is not known to hold.
func (c *SyncClient) push(ctx context.Context, meta *SyncMetadata, apiKey string, result *SyncResult) error {
	var notes []*Note
	var err error
	if meta.LastSyncAt != nil {
		notes, err = c.store.Notes().GetModifiedAfter(ctx, *meta.LastSyncAt)
	} else {
		notes, err = c.store.Notes().GetAll(ctx)
	}
	if err != nil {
		return err
	}

	// A rejected push leaves its note conflicted with an unchanged
	// modifiedAt; include those so a reconciling pull is followed by a
	// winning re-push.
	unsynced, err := c.store.SyncMeta().ListUnsynced(ctx)
	if err != nil {
		return err
	}
	have := make(map[string]struct{}, len(notes))
	for _, n := range notes {
		have[n.ID] = struct{}{}
	}
	for _, id := range unsynced {
		if _, ok := have[id]; ok {
			continue
		}
		note, err := c.store.Notes().Get(ctx, id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return err
		}
		notes = append(notes, note)
	}

	now := c.store.now().UTC()
	if _, err := c.store.SyncMeta().UpdateGlobal(ctx, SyncMetadataPatch{LastPushAt: &now}); err != nil {
		return err
	}
	if len(notes) == 0 {
		return nil
	}

	req := &jotsync.PushRequest{
		Notes:       make([]jotsync.SyncNote, 0, len(notes)),
		Attachments: []jotsync.SyncAttachment{},
	}
	inBatch := make(map[string]struct{})
	for _, note := range notes {
		wire := localToWire(note)
		// Echo the last server version we saw; the server rejects stale
		// echoes so concurrent writers cannot silently overwrite.
		if rec, err := c.store.SyncMeta().GetNote(ctx, note.ID); err == nil {
			wire.ServerVersion = rec.ServerVersion
		} else if !errors.Is(err, ErrNotFound) {
			return err
		}
		req.Notes = append(req.Notes, wire)
		for _, ref := range note.Attachments {
			if _, ok := inBatch[ref.ID]; ok {
				continue
			}
			pushed, err := c.store.SyncMeta().IsBlobPushed(ctx, ref.ID)
			if err != nil {
				return err
			}
			if pushed {
				continue
			}
			blob, err := c.store.Attachments().GetBlob(ctx, ref.ID)
			if errors.Is(err, ErrNotFound) {
				c.logger.Warn("referenced blob missing, skipping", "attachment_id", ref.ID)
				continue
			}
			if err != nil {
				return err
			}
			inBatch[ref.ID] = struct{}{}
			req.Attachments = append(req.Attachments, jotsync.SyncAttachment{
				ID:   ref.ID,
				Data: base64.StdEncoding.EncodeToString([]byte(blob)),
			})
		}
	}

	var resp jotsync.PushResponse
	status, err := c.doJSON(ctx, http.MethodPost, meta.SyncEndpoint+"/api/v1/sync/push", apiKey, req, &resp)
	if err != nil || status != http.StatusOK {
		if err == nil {
			err = fmt.Errorf("%w: push returned %d", ErrServer, status)
		}
		c.markAllError(ctx, notes, err)
		return err
	}

	for _, acc := range resp.Accepted {
		syncedAt, perr := jotsync.ParseTime(acc.SyncedAt)
		if perr != nil {
			syncedAt = c.store.now().UTC()
		}
		note := findNote(notes, acc.ID)
		hash := ""
		if note != nil {
			hash = note.SyncHash
			if err := c.store.Notes().SetSyncedAt(ctx, acc.ID, syncedAt); err != nil && !errors.Is(err, ErrNotFound) {
				return err
			}
		}
		synced := SyncStatusSynced
		empty := ""
		if err := c.store.SyncMeta().UpdateNote(ctx, acc.ID, NoteSyncPatch{
			SyncedAt:      &syncedAt,
			SyncHash:      &hash,
			ServerVersion: &acc.ServerVersion,
			Status:        &synced,
			ErrorMessage:  &empty,
		}); err != nil {
			return err
		}
		result.Pushed++
	}
	for _, rej := range resp.Rejected {
		conflict := SyncStatusConflict
		reason := rej.Reason
		if err := c.store.SyncMeta().UpdateNote(ctx, rej.ID, NoteSyncPatch{
			Status:       &conflict,
			ErrorMessage: &reason,
		}); err != nil {
			return err
		}
		result.Rejected++
		c.logger.Warn("push rejected", "note_id", rej.ID,
			"reason", rej.Reason, "server_modified_at", rej.ServerModifiedAt)
	}
	for _, msg := range resp.Errors {
		c.logger.Warn("push reported error", "message", msg)
	}

	// Blobs travel inside an accepted push; remember them.
	for id := range inBatch {
		if err := c.store.SyncMeta().MarkBlobPushed(ctx, id, c.store.now().UTC()); err != nil {
			return err
		}
	}
	return nil
}

// pull merges server state into the local store. Last-Write-Wins on
// modifiedAt decides per note; ties keep local. The current local row
// is re-read just before comparison so an edit landing mid-sync is
// never overwritten by a stale snapshot.
func (c *SyncClient) pull(ctx context.Context, meta *SyncMetadata, apiKey string, result *SyncResult) error {
	all, err := c.store.Notes().GetAll(ctx)
	if err != nil {
		return err
	}
	knownIDs := make([]string, 0, len(all))
	for _, n := range all {
		knownIDs = append(knownIDs, n.ID)
	}

	req := &jotsync.PullRequest{KnownNoteIDs: knownIDs}
	if meta.LastSyncAt != nil {
		ts := jotsync.FormatTime(*meta.LastSyncAt)
		req.LastSyncAt = &ts
	}

	var resp jotsync.PullResponse
	status, err := c.doJSON(ctx, http.MethodPost, meta.SyncEndpoint+"/api/v1/sync/pull", apiKey, req, &resp)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return fmt.Errorf("%w: pull returned %d", ErrServer, status)
	}

	syncedAt, err := jotsync.ParseTime(resp.SyncedAt)
	if err != nil {
		return fmt.Errorf("%w: syncedAt: %v", ErrProtocol, err)
	}

	for i := range resp.Notes {
		wire := &resp.Notes[i]
		incoming, err := wireToLocal(wire)
		if err != nil {
			return err
		}
		incoming.SyncedAt = &syncedAt

		adopted := false
		local, err := c.store.Notes().Get(ctx, wire.ID)
		switch {
		case errors.Is(err, ErrNotFound):
			if err := c.store.Notes().Create(ctx, incoming); err != nil {
				return err
			}
			adopted = true
			result.Pulled++
		case err != nil:
			return err
		default:
			// LWW: adopt the remote copy only when strictly newer; ties
			// keep local.
			if incoming.ModifiedAt.After(local.ModifiedAt) {
				if err := c.store.Notes().Replace(ctx, incoming); err != nil {
					return err
				}
				adopted = true
				result.Pulled++
			}
		}

		patch := NoteSyncPatch{
			SyncedAt:      &syncedAt,
			ServerVersion: &wire.ServerVersion,
		}
		if adopted {
			// Only adoption resolves a conflict; a kept-local copy stays
			// unsynced so the next push retries with the fresh echo.
			synced := SyncStatusSynced
			empty := ""
			patch.Status = &synced
			patch.ErrorMessage = &empty
		}
		if err := c.store.SyncMeta().UpdateNote(ctx, wire.ID, patch); err != nil {
			return err
		}
	}

	for _, att := range resp.Attachments {
		blob, err := base64.StdEncoding.DecodeString(att.Data)
		if err != nil {
			return fmt.Errorf("%w: attachment %s is not valid base64", ErrProtocol, att.ID)
		}
		if err := c.store.Attachments().PutBlob(ctx, att.ID, string(blob)); err != nil {
			return err
		}
		if err := c.store.SyncMeta().MarkBlobPushed(ctx, att.ID, syncedAt); err != nil {
			return err
		}
	}

	for _, del := range resp.Deletions {
		local, err := c.store.Notes().Get(ctx, del.ID)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return err
		}
		if !local.Deleted {
			deletedAt := syncedAt
			if t, err := jotsync.ParseTime(del.DeletedAt); err == nil {
				deletedAt = t
			}
			// Soft-delete only; local retention handles permanent removal.
			if err := c.store.Notes().ApplyRemoteDelete(ctx, del.ID, deletedAt); err != nil {
				return err
			}
			result.Deletions++
		}
		// Both sides agree the note is deleted.
		synced := SyncStatusSynced
		if err := c.store.SyncMeta().UpdateNote(ctx, del.ID, NoteSyncPatch{
			SyncedAt: &syncedAt,
			Status:   &synced,
		}); err != nil {
			return err
		}
	}

	now := c.store.now().UTC()
	_, err = c.store.SyncMeta().UpdateGlobal(ctx, SyncMetadataPatch{
		LastSyncAt: &syncedAt,
		LastPullAt: &now,
	})
	return err
}

func (c *SyncClient) markAllError(ctx context.Context, notes []*Note, cause error) {
	status := SyncStatusError
	msg := cause.Error()
	for _, note := range notes {
		if err := c.store.SyncMeta().UpdateNote(ctx, note.ID, NoteSyncPatch{
			Status:       &status,
			ErrorMessage: &msg,
		}); err != nil {
			c.logger.Warn("failed to mark note errored", "note_id", note.ID, "error", err)
		}
	}
}

// SyncStatusSummary is the shell-facing snapshot of sync health.
type SyncStatusSummary struct {
	Enabled       bool
	Syncing       bool
	LastSyncAt    *time.Time
	PendingNotes  int
	ConflictCount int64
	ClientID      string
	Endpoint      string
}

// Status assembles the summary without touching the network.
func (c *SyncClient) Status(ctx context.Context) (*SyncStatusSummary, error) {
	summary := &SyncStatusSummary{Syncing: c.syncing.Load()}

	meta, err := c.store.SyncMeta().GetGlobal(ctx)
	if errors.Is(err, ErrNotFound) {
		return summary, nil
	}
	if err != nil {
		return nil, err
	}
	summary.Enabled = meta.SyncEnabled
	summary.LastSyncAt = meta.LastSyncAt
	summary.ClientID = meta.ClientID
	summary.Endpoint = meta.SyncEndpoint

	pending, err := c.store.SyncMeta().ListPending(ctx)
	if err != nil {
		return nil, err
	}
	summary.PendingNotes = len(pending)

	if summary.ConflictCount, err = c.store.SyncMeta().CountConflicts(ctx); err != nil {
		return nil, err
	}
	return summary, nil
}

// doJSON performs one JSON round-trip. 5xx maps to ErrServer, transport
// failures to a wrapped network error, undecodable bodies to
// ErrProtocol. The status code is returned for non-5xx decisions.
func (c *SyncClient) doJSON(ctx context.Context, method, url, apiKey string, body, out any) (int, error) {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return 0, fmt.Errorf("network error: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return resp.StatusCode, fmt.Errorf("%w: %s returned %d", ErrServer, url, resp.StatusCode)
	}
	if out != nil && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("%w: %v", ErrProtocol, err)
		}
	}
	return resp.StatusCode, nil
}

func findNote(notes []*Note, id string) *Note {
	for _, n := range notes {
		if n.ID == id {
			return n
		}
	}
	return nil
}

// localToWire converts a stored note to its wire form. Envelopes pass
// through untouched; thumbnails stay local.
func localToWire(note *Note) jotsync.SyncNote {
	wire := jotsync.SyncNote{
		ID:         note.ID,
		CreatedAt:  jotsync.FormatTime(note.CreatedAt),
		ModifiedAt: jotsync.FormatTime(note.ModifiedAt),
		Content:    note.Content,
		Tags:       note.Tags,
		Pinned:     note.Pinned,
		Deleted:    note.Deleted,
		Version:    note.Version,
	}
	if note.DeletedAt != nil {
		s := jotsync.FormatTime(*note.DeletedAt)
		wire.DeletedAt = &s
	}
	w := note.WordWrap
	wire.WordWrap = &w
	lang := string(note.SyntaxLanguage)
	wire.SyntaxLanguage = &lang

	wire.Attachments = make([]jotsync.AttachmentRef, 0, len(note.Attachments))
	for _, ref := range note.Attachments {
		wire.Attachments = append(wire.Attachments, jotsync.AttachmentRef{
			ID:       ref.ID,
			Filename: ref.Filename,
			MimeType: ref.MimeType,
			Size:     ref.Size,
			Data:     ref.ID,
		})
	}
	return wire
}

// wireToLocal converts a pulled note for verbatim storage — still
// encrypted, server's version and hints preserved.
func wireToLocal(wire *jotsync.SyncNote) (*Note, error) {
	createdAt, err := jotsync.ParseTime(wire.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("%w: note %s: createdAt: %v", ErrProtocol, wire.ID, err)
	}
	modifiedAt, err := jotsync.ParseTime(wire.ModifiedAt)
	if err != nil {
		return nil, fmt.Errorf("%w: note %s: modifiedAt: %v", ErrProtocol, wire.ID, err)
	}

	note := &Note{
		ID:             wire.ID,
		CreatedAt:      createdAt,
		ModifiedAt:     modifiedAt,
		Content:        wire.Content,
		Tags:           wire.Tags,
		Pinned:         wire.Pinned,
		Deleted:        wire.Deleted,
		Version:        wire.Version,
		WordWrap:       true,
		SyntaxLanguage: LangPlain,
		SyncHash:       jotcrypto.Hash(wire.Content),
		Attachments:    make([]AttachmentRef, 0, len(wire.Attachments)),
	}
	if wire.DeletedAt != nil {
		t, err := jotsync.ParseTime(*wire.DeletedAt)
		if err != nil {
			return nil, fmt.Errorf("%w: note %s: deletedAt: %v", ErrProtocol, wire.ID, err)
		}
		note.DeletedAt = &t
	}
	if wire.WordWrap != nil {
		note.WordWrap = *wire.WordWrap
	}
	if wire.SyntaxLanguage != nil {
		note.SyntaxLanguage = ParseSyntaxLanguage(*wire.SyntaxLanguage)
	}
	for _, ref := range wire.Attachments {
		note.Attachments = append(note.Attachments, AttachmentRef{
			ID:       ref.ID,
			Filename: ref.Filename,
			MimeType: ref.MimeType,
			Size:     ref.Size,
			Data:     ref.ID,
		})
	}
	return note, nil
}
