// Copyright 2025 The Jottery Authors
// SPDX-License-Identifier: Apache-2.0

package jotsqlite

import "errors"

var (
	// ErrNotFound means the addressed row does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConflict means a row's version moved underneath an optimistic
	// update; the caller should re-read and retry.
	ErrConflict = errors.New("conflicting concurrent update")

	// ErrStorageUnavailable means the backing database cannot be
	// reached or opened.
	ErrStorageUnavailable = errors.New("storage unavailable")

	// ErrSchemaTooNew means the store was written by a newer release.
	// The data is intact; the binary is too old to open it.
	ErrSchemaTooNew = errors.New("store schema is newer than this build supports")

	// ErrSyncDisabled means sync metadata is absent or sync is switched off.
	ErrSyncDisabled = errors.New("sync is not enabled")

	// ErrSyncInProgress means a syncNow is already in flight.
	ErrSyncInProgress = errors.New("sync already in progress")

	// ErrInvalidInput flags rejected caller input; the message names the
	// offending fields.
	ErrInvalidInput = errors.New("invalid input")

	// ErrProtocol means the server answered with a body the client
	// cannot interpret.
	ErrProtocol = errors.New("malformed server response")

	// ErrServer wraps 5xx responses.
	ErrServer = errors.New("server error")
)
