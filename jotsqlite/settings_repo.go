// Copyright 2025 The Jottery Authors
// SPDX-License-Identifier: Apache-2.0

package jotsqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// SettingsRepo stores the cleartext user settings singleton.
type SettingsRepo struct {
	store *Store
}

// Get returns stored settings, or the defaults when none were saved.
func (r *SettingsRepo) Get(ctx context.Context) (UserSettings, error) {
	var (
		s           UserSettings
		theme       string
		sortOrder   string
		syncEnabled int
		endpoint    sql.NullString
	)
	err := r.store.db.QueryRowContext(ctx, `
		SELECT language, theme, sort_order, auto_lock_timeout, sync_enabled, sync_endpoint
		FROM settings WHERE id = 1`).
		Scan(&s.Language, &theme, &sortOrder, &s.AutoLockTimeout, &syncEnabled, &endpoint)
	if errors.Is(err, sql.ErrNoRows) {
		return DefaultSettings(), nil
	}
	if err != nil {
		return UserSettings{}, fmt.Errorf("get settings: %w", err)
	}
	s.Theme = Theme(theme)
	s.SortOrder = ParseSortOrder(sortOrder)
	s.SyncEnabled = syncEnabled != 0
	s.SyncEndpoint = endpoint.String
	return s, nil
}

// Exists reports whether settings were ever written.
func (r *SettingsRepo) Exists(ctx context.Context) (bool, error) {
	var n int
	if err := r.store.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM settings WHERE id = 1`).Scan(&n); err != nil {
		return false, fmt.Errorf("check settings: %w", err)
	}
	return n > 0, nil
}

// Update merges patch into the stored settings and validates the
// result before writing.
func (r *SettingsRepo) Update(ctx context.Context, patch SettingsPatch) (UserSettings, error) {
	current, err := r.Get(ctx)
	if err != nil {
		return UserSettings{}, err
	}

	if patch.Language != nil {
		current.Language = *patch.Language
	}
	if patch.Theme != nil {
		current.Theme = *patch.Theme
	}
	if patch.SortOrder != nil {
		current.SortOrder = *patch.SortOrder
	}
	if patch.AutoLockTimeout != nil {
		current.AutoLockTimeout = *patch.AutoLockTimeout
	}
	if patch.SyncEnabled != nil {
		current.SyncEnabled = *patch.SyncEnabled
	}
	if patch.SyncEndpoint != nil {
		current.SyncEndpoint = *patch.SyncEndpoint
	}

	if err := validateSettings(current); err != nil {
		return UserSettings{}, err
	}
	if err := r.write(ctx, current); err != nil {
		return UserSettings{}, err
	}
	return current, nil
}

// Reset restores the defaults.
func (r *SettingsRepo) Reset(ctx context.Context) error {
	return r.write(ctx, DefaultSettings())
}

func (r *SettingsRepo) write(ctx context.Context, s UserSettings) error {
	r.store.writeMu.Lock()
	defer r.store.writeMu.Unlock()
	_, err := r.store.db.ExecContext(ctx, `
		INSERT INTO settings (id, language, theme, sort_order, auto_lock_timeout, sync_enabled, sync_endpoint)
		VALUES (1, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			language = excluded.language,
			theme = excluded.theme,
			sort_order = excluded.sort_order,
			auto_lock_timeout = excluded.auto_lock_timeout,
			sync_enabled = excluded.sync_enabled,
			sync_endpoint = excluded.sync_endpoint`,
		s.Language, string(s.Theme), string(s.SortOrder),
		s.AutoLockTimeout, boolToInt(s.SyncEnabled), nullIfEmpty(s.SyncEndpoint))
	if err != nil {
		return fmt.Errorf("write settings: %w", err)
	}
	return nil
}

func validateSettings(s UserSettings) error {
	if s.AutoLockTimeout < 1 || s.AutoLockTimeout > 1440 {
		return fmt.Errorf("%w: autoLockTimeout must be between 1 and 1440 minutes", ErrInvalidInput)
	}
	if s.SyncEnabled && s.SyncEndpoint == "" {
		return fmt.Errorf("%w: syncEndpoint is required when sync is enabled", ErrInvalidInput)
	}
	return nil
}
