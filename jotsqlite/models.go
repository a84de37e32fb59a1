// Package jotsqlite is the Jottery client core: a SQLite-backed local
// store with typed repositories, the encrypt-on-write/decrypt-on-read
// note service, and the bidirectional sync engine.
// Copyright 2025 The Jottery Authors
// SPDX-License-Identifier: Apache-2.0

package jotsqlite

import (
	"strings"
	"time"

	"github.com/seesee/jottery/jotcrypto"
)

// Note is the stored form of a note. Content and Tags are serialized
// encryption envelopes; only the note service ever sees cleartext.
type Note struct {
	ID             string
	CreatedAt      time.Time
	ModifiedAt     time.Time
	SyncedAt       *time.Time
	Content        string // envelope document
	Tags           string // envelope document over a JSON string array
	Attachments    []AttachmentRef
	Pinned         bool
	Deleted        bool
	DeletedAt      *time.Time
	SyncHash       string
	Version        int64
	WordWrap       bool
	SyntaxLanguage SyntaxLanguage
}

// AttachmentRef is attachment metadata embedded in a note. Filename is
// an envelope document; mime type and size stay cleartext so lists can
// render without the key.
type AttachmentRef struct {
	ID            string  `json:"id"`
	Filename      string  `json:"filename"`
	MimeType      string  `json:"mimeType"`
	Size          int64   `json:"size"`
	Data          string  `json:"data"` // blob handle, equal to ID
	ThumbnailData *string `json:"thumbnailData,omitempty"`
}

// DecryptedNote is the note service's read view: the stored fields plus
// cleartext content and tags, and the decryption time for cache aging.
type DecryptedNote struct {
	Note
	Text        string
	TagsClear   []string
	DecryptedAt time.Time
}

// FirstLine returns the first line of the cleartext content, for list
// previews and alpha ordering.
func (n *DecryptedNote) FirstLine() string {
	line, _, _ := strings.Cut(n.Text, "\n")
	return strings.TrimSpace(line)
}

// SyntaxLanguage is the closed set of syntax hint values a note can
// carry. Unknown values parse to Plain.
type SyntaxLanguage string

const (
	LangPlain      SyntaxLanguage = "plain"
	LangJavascript SyntaxLanguage = "javascript"
	LangPython     SyntaxLanguage = "python"
	LangMarkdown   SyntaxLanguage = "markdown"
	LangJSON       SyntaxLanguage = "json"
	LangHTML       SyntaxLanguage = "html"
	LangCSS        SyntaxLanguage = "css"
	LangSQL        SyntaxLanguage = "sql"
	LangBash       SyntaxLanguage = "bash"
)

// ParseSyntaxLanguage resolves a stored or user-typed value, accepting
// the common aliases. Anything unrecognized falls back to plain.
func ParseSyntaxLanguage(s string) SyntaxLanguage {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "javascript", "js":
		return LangJavascript
	case "python", "py":
		return LangPython
	case "markdown", "md":
		return LangMarkdown
	case "json":
		return LangJSON
	case "html":
		return LangHTML
	case "css":
		return LangCSS
	case "sql":
		return LangSQL
	case "bash", "sh":
		return LangBash
	default:
		return LangPlain
	}
}

// SortOrder selects note list ordering. Pinned notes always precede
// unpinned regardless of order.
type SortOrder string

const (
	SortRecent  SortOrder = "recent"
	SortOldest  SortOrder = "oldest"
	SortAlpha   SortOrder = "alpha"
	SortCreated SortOrder = "created"
)

// ParseSortOrder falls back to recent on unknown values.
func ParseSortOrder(s string) SortOrder {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "oldest":
		return SortOldest
	case "alpha":
		return SortAlpha
	case "created":
		return SortCreated
	default:
		return SortRecent
	}
}

// Theme is the shell theme preference; stored, never interpreted here.
type Theme string

const (
	ThemeLight Theme = "light"
	ThemeDark  Theme = "dark"
	ThemeAuto  Theme = "auto"
)

// UserSettings is the cleartext per-store settings record.
type UserSettings struct {
	Language        string
	Theme           Theme
	SortOrder       SortOrder
	AutoLockTimeout int // minutes, 1..1440
	SyncEnabled     bool
	SyncEndpoint    string
}

// DefaultSettings returns the settings a fresh store starts with.
func DefaultSettings() UserSettings {
	return UserSettings{
		Language:        "en-GB",
		Theme:           ThemeAuto,
		SortOrder:       SortRecent,
		AutoLockTimeout: 15,
		SyncEnabled:     false,
	}
}

// SettingsPatch updates a subset of settings. Nil fields are left alone.
type SettingsPatch struct {
	Language        *string
	Theme           *Theme
	SortOrder       *SortOrder
	AutoLockTimeout *int
	SyncEnabled     *bool
	SyncEndpoint    *string
}

// EncryptionMetadata is the per-store key derivation record, immutable
// after initialization.
type EncryptionMetadata struct {
	Salt       []byte
	Iterations int
	CreatedAt  time.Time
	Algorithm  string
}

// AlgorithmAESGCM is the only algorithm tag this build writes.
const AlgorithmAESGCM = "AES-256-GCM"

// SyncStatus is the per-note sync state machine value.
type SyncStatus string

const (
	SyncStatusSynced   SyncStatus = "synced"
	SyncStatusPending  SyncStatus = "pending"
	SyncStatusConflict SyncStatus = "conflict"
	SyncStatusError    SyncStatus = "error"
)

// ParseSyncStatus falls back to pending on unknown values.
func ParseSyncStatus(s string) SyncStatus {
	switch strings.ToLower(s) {
	case "synced":
		return SyncStatusSynced
	case "conflict":
		return SyncStatusConflict
	case "error":
		return SyncStatusError
	default:
		return SyncStatusPending
	}
}

// APIKeyState discriminates the stored API key representation.
type APIKeyState int

const (
	// APIKeyAbsent means the store has never registered.
	APIKeyAbsent APIKeyState = iota
	// APIKeyEncrypted is the steady state: an envelope under the master key.
	APIKeyEncrypted
	// APIKeyPendingImport is the transient post-import state: the key is
	// cleartext until the next successful unlock re-wraps it.
	APIKeyPendingImport
)

// importSentinel marks a pending-import key at the storage boundary.
// The tagged APIKey type is the only thing the rest of the code sees.
const importSentinel = "IMPORT:"

// APIKey is the tagged stored form of the sync API key.
type APIKey struct {
	State     APIKeyState
	Envelope  jotcrypto.Envelope // set when State == APIKeyEncrypted
	Plaintext string             // set when State == APIKeyPendingImport
}

// decodeAPIKey parses the storage representation.
func decodeAPIKey(stored string) APIKey {
	switch {
	case stored == "":
		return APIKey{State: APIKeyAbsent}
	case strings.HasPrefix(stored, importSentinel):
		return APIKey{State: APIKeyPendingImport, Plaintext: strings.TrimPrefix(stored, importSentinel)}
	default:
		env, err := jotcrypto.ParseEnvelope(stored)
		if err != nil {
			return APIKey{State: APIKeyAbsent}
		}
		return APIKey{State: APIKeyEncrypted, Envelope: env}
	}
}

// encode renders the storage representation.
func (k APIKey) encode() string {
	switch k.State {
	case APIKeyEncrypted:
		return k.Envelope.Marshal()
	case APIKeyPendingImport:
		return importSentinel + k.Plaintext
	default:
		return ""
	}
}

// SyncMetadata is the global sync configuration singleton.
type SyncMetadata struct {
	LastSyncAt       *time.Time
	LastPushAt       *time.Time
	LastPullAt       *time.Time
	APIKey           APIKey
	ClientID         string
	SyncEnabled      bool
	SyncEndpoint     string
	AutoSyncInterval int // minutes, 0 = disabled
}

// SyncMetadataPatch updates a subset of the global sync metadata.
type SyncMetadataPatch struct {
	LastSyncAt       *time.Time
	LastPushAt       *time.Time
	LastPullAt       *time.Time
	APIKey           *APIKey
	ClientID         *string
	SyncEnabled      *bool
	SyncEndpoint     *string
	AutoSyncInterval *int
}

// NoteSyncMetadata is the per-note sync tracking record.
type NoteSyncMetadata struct {
	NoteID        string
	SyncedAt      time.Time
	SyncHash      string
	ServerVersion int64
	Status        SyncStatus
	ErrorMessage  string
}

// NoteSyncPatch updates a subset of a per-note record.
type NoteSyncPatch struct {
	SyncedAt      *time.Time
	SyncHash      *string
	ServerVersion *int64
	Status        *SyncStatus
	ErrorMessage  *string
}
