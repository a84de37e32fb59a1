// Copyright 2025 The Jottery Authors
// SPDX-License-Identifier: Apache-2.0

package jotsqlite

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/seesee/jottery/jotcrypto"
)

// Vault assembles the client core: one store, one key manager, the note
// service and the sync engine, wired together so the unlock flow can
// run verification and import finalization in the right order.
type Vault struct {
	Store *Store
	Keys  *jotcrypto.KeyManager
	Notes *NoteService
	Sync  *SyncClient

	logger *slog.Logger
}

// Open opens or creates the store at path and wires the components.
// The vault starts with no key; its key manager is in the uninitialized
// state until Initialize or Unlock.
func Open(path string, logger *slog.Logger) (*Vault, error) {
	if logger == nil {
		logger = slog.Default()
	}
	store, err := OpenStore(path, logger)
	if err != nil {
		return nil, err
	}
	keys := jotcrypto.NewKeyManager()
	return &Vault{
		Store:  store,
		Keys:   keys,
		Notes:  NewNoteService(store, keys, logger),
		Sync:   NewSyncClient(store, keys, logger),
		logger: logger,
	}, nil
}

// IsInitialized reports whether encryption metadata exists.
func (v *Vault) IsInitialized(ctx context.Context) (bool, error) {
	return v.Store.Encryption().Exists(ctx)
}

// Initialize performs first-time setup: generates the per-store salt,
// persists encryption metadata, derives the key and unlocks.
func (v *Vault) Initialize(ctx context.Context, password string) error {
	exists, err := v.Store.Encryption().Exists(ctx)
	if err != nil {
		return err
	}
	if exists {
		return jotcrypto.ErrAlreadyInitialized
	}

	salt, err := jotcrypto.RandomSalt()
	if err != nil {
		return err
	}
	meta := &EncryptionMetadata{
		Salt:       salt,
		Iterations: jotcrypto.DefaultIterations,
		CreatedAt:  v.Store.now().UTC(),
		Algorithm:  AlgorithmAESGCM,
	}
	if err := v.Store.Encryption().Set(ctx, meta); err != nil {
		return err
	}

	key, err := jotcrypto.DeriveKey(password, meta.Salt, meta.Iterations)
	if err != nil {
		return err
	}
	if err := v.Keys.Initialize(key); err != nil {
		return err
	}

	settingsExist, err := v.Store.Settings().Exists(ctx)
	if err != nil {
		return err
	}
	if !settingsExist {
		if err := v.Store.Settings().Reset(ctx); err != nil {
			return err
		}
	}

	v.logger.Info("store initialized")
	return nil
}

// Unlock rederives the key from the stored salt, verifies it against
// the newest note when one exists, and finalizes any pending credential
// import. A fresh store with no notes unlocks provisionally — the first
// write anchors the password.
func (v *Vault) Unlock(ctx context.Context, password string) error {
	meta, err := v.Store.Encryption().Get(ctx)
	if errors.Is(err, ErrNotFound) {
		return jotcrypto.ErrNotInitialized
	}
	if err != nil {
		return err
	}

	key, err := jotcrypto.DeriveKey(password, meta.Salt, meta.Iterations)
	if err != nil {
		return err
	}

	verify := func(candidate []byte) error {
		notes, err := v.Store.Notes().GetAll(ctx)
		if err != nil {
			return err
		}
		if len(notes) == 0 {
			return nil
		}
		env, err := jotcrypto.ParseEnvelope(notes[0].Content)
		if err != nil {
			return err
		}
		_, err = jotcrypto.DecryptText(env, candidate)
		return err
	}

	if err := v.Keys.Unlock(key, verify); err != nil {
		return err
	}

	if err := v.Sync.FinalizeImport(ctx); err != nil {
		// The key is good; a finalize failure must not re-lock the app.
		v.logger.Warn("credential import finalization failed", "error", err)
	}
	return nil
}

// Lock zeroizes the key.
func (v *Vault) Lock() {
	v.Keys.Lock()
}

// WipeAll destroys every row in the store and permanently retires the
// key manager.
func (v *Vault) WipeAll(ctx context.Context) error {
	if err := v.Store.Wipe(ctx); err != nil {
		return fmt.Errorf("wipe store: %w", err)
	}
	v.Keys.Wipe()
	return nil
}

// Close releases the store.
func (v *Vault) Close() error {
	return v.Store.Close()
}
