// Package jotsync implements the Jottery sync server core: the
// registered-client registry, the per-client opaque note store with
// server-monotonic versioning, and the push/pull endpoints.
//
// The server never holds a key. Note content, tag sets, attachment
// filenames and blobs arrive as client-encrypted envelopes and are
// stored and returned verbatim.
// Copyright 2025 The Jottery Authors
// SPDX-License-Identifier: Apache-2.0

package jotsync

import (
	"fmt"
	"time"
)

// TimeLayout is the canonical timestamp form used in storage and on the
// wire: RFC 3339 with fixed-width nanoseconds, so that UTC timestamps
// order lexicographically.
const TimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// FormatTime renders t in the canonical layout, normalized to UTC.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// ParseTime accepts the canonical layout plus plain RFC 3339 variants
// produced by other clients.
func ParseTime(s string) (time.Time, error) {
	for _, layout := range []string{TimeLayout, time.RFC3339Nano, time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

// RegisterRequest registers a new device.
type RegisterRequest struct {
	DeviceName string `json:"deviceName"`
	DeviceType string `json:"deviceType"` // "web" or "cli"
}

// RegisterResponse carries the only copy of the plaintext API key the
// server will ever emit.
type RegisterResponse struct {
	APIKey    string `json:"apiKey"`
	ClientID  string `json:"clientId"`
	CreatedAt string `json:"createdAt"`
}

// SyncNote is the wire form of a note. Content, the tag-set ciphertext
// and attachment filenames are opaque envelope documents; presentation
// hints travel cleartext.
type SyncNote struct {
	ID             string          `json:"id"`
	CreatedAt      string          `json:"createdAt"`
	ModifiedAt     string          `json:"modifiedAt"`
	Content        string          `json:"content"`
	Tags           string          `json:"tags"`
	Attachments    []AttachmentRef `json:"attachments"`
	Pinned         bool            `json:"pinned"`
	Deleted        bool            `json:"deleted"`
	DeletedAt      *string         `json:"deletedAt,omitempty"`
	Version        int64           `json:"version"`
	WordWrap       *bool           `json:"wordWrap,omitempty"`
	SyntaxLanguage *string         `json:"syntaxLanguage,omitempty"`

	// ServerVersion carries the server's counter. On pull responses the
	// server populates it; on push it is the client's echo of the last
	// version it saw, which the server checks for staleness.
	ServerVersion int64 `json:"serverVersion,omitempty"`
}

// AttachmentRef is attachment metadata carried inside a note. Filename
// is an envelope document; mime type and size are cleartext.
type AttachmentRef struct {
	ID       string `json:"id"`
	Filename string `json:"filename"`
	MimeType string `json:"mimeType"`
	Size     int64  `json:"size"`
	Data     string `json:"data"` // blob handle, equal to ID
}

// SyncAttachment is an attachment blob in transit: base64 of the
// encrypted blob document.
type SyncAttachment struct {
	ID   string `json:"id"`
	Data string `json:"data"`
}

// PushRequest uploads locally modified notes plus any blobs the server
// is not known to hold.
type PushRequest struct {
	Notes       []SyncNote       `json:"notes"`
	Attachments []SyncAttachment `json:"attachments"`
}

// PushResponse reports the per-note outcome of a push.
type PushResponse struct {
	Accepted []PushAccepted `json:"accepted"`
	Rejected []PushRejected `json:"rejected"`
	Errors   []string       `json:"errors"`
}

// PushAccepted acknowledges one stored note.
type PushAccepted struct {
	ID            string `json:"id"`
	ServerVersion int64  `json:"serverVersion"`
	SyncedAt      string `json:"syncedAt"`
}

// PushRejected reports one stale note. ServerModifiedAt is the
// modification timestamp of the copy the server kept.
type PushRejected struct {
	ID               string `json:"id"`
	Reason           string `json:"reason"`
	ServerModifiedAt string `json:"serverModifiedAt"`
}

// PullRequest asks for everything newer than LastSyncAt. KnownNoteIDs
// lets the server skip blobs for notes the client already holds.
type PullRequest struct {
	LastSyncAt   *string  `json:"lastSyncAt,omitempty"`
	KnownNoteIDs []string `json:"knownNoteIds"`
}

// PullResponse carries changed notes, soft-deletions, and the blobs of
// new-to-client notes.
type PullResponse struct {
	Notes       []SyncNote       `json:"notes"`
	Deletions   []SyncDeletion   `json:"deletions"`
	Attachments []SyncAttachment `json:"attachments"`
	SyncedAt    string           `json:"syncedAt"`
}

// SyncDeletion is a soft-delete tombstone.
type SyncDeletion struct {
	ID        string `json:"id"`
	DeletedAt string `json:"deletedAt"`
}

// StatusResponse summarizes the authenticated client's server state.
type StatusResponse struct {
	ClientID           string  `json:"clientId"`
	ServerLastModified string  `json:"serverLastModified"`
	NoteCount          int64   `json:"noteCount"`
	LastSyncedAt       *string `json:"lastSyncedAt,omitempty"`
}

// ErrorResponse is the JSON body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
}
