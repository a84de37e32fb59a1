// Copyright 2025 The Jottery Authors
// SPDX-License-Identifier: Apache-2.0

package jotsync

import "errors"

// Service-level failure modes, mapped onto HTTP status codes by the
// handler layer.
var (
	// ErrUnauthorized means the bearer key hashed to no registered client.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrForbidden means the client exists but has been deactivated.
	ErrForbidden = errors.New("client is inactive")

	// ErrNotFound means the addressed row does not exist for this client.
	ErrNotFound = errors.New("not found")

	// ErrBusy means the per-note write lock could not be acquired within
	// the bounded wait; the client should retry.
	ErrBusy = errors.New("storage busy")

	// ErrInvalidRequest flags malformed request bodies.
	ErrInvalidRequest = errors.New("invalid request")
)
