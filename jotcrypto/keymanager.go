// Copyright 2025 The Jottery Authors
// SPDX-License-Identifier: Apache-2.0

package jotcrypto

import (
	"errors"
	"sync"
	"time"
)

// Key manager failure modes. Locked is the one every consumer has to
// handle; the rest surface from unlock and lifecycle transitions.
var (
	ErrNotInitialized     = errors.New("store is not initialized")
	ErrAlreadyInitialized = errors.New("store is already initialized")
	ErrIncorrectPassword  = errors.New("incorrect password")
	ErrLocked             = errors.New("store is locked")
	ErrWiped              = errors.New("store has been wiped")
)

// State is the key manager lifecycle state.
type State int

const (
	StateUninitialized State = iota
	StateUnlocked
	StateLocked
	StateWiped
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateUnlocked:
		return "unlocked"
	case StateLocked:
		return "locked"
	case StateWiped:
		return "wiped"
	}
	return "unknown"
}

// VerifyFunc checks a candidate key against stored ciphertext, typically
// by decrypting the newest note's content field. It returns ErrDecrypt
// (possibly wrapped) when the key does not fit, nil when it does or when
// there is nothing to verify against.
type VerifyFunc func(key []byte) error

// DefaultAutoLockMinutes is the auto-lock timeout applied when the
// shell never configures one.
const DefaultAutoLockMinutes = 15

// KeyManager holds the master key in volatile memory and enforces the
// lifecycle uninitialized -> unlocked -> locked -> unlocked..., with the
// terminal wiped state after a full-store delete. It is the only place a
// raw key lives; consumers call MasterKey per operation and never cache
// the result.
type KeyManager struct {
	mu           sync.Mutex
	state        State
	key          []byte
	lastActivity time.Time
	timeout      time.Duration
	onLock       func()

	now func() time.Time // test seam
}

// NewKeyManager returns a locked-out manager in the uninitialized state
// with the default auto-lock timeout.
func NewKeyManager() *KeyManager {
	return &KeyManager{
		state:   StateUninitialized,
		timeout: DefaultAutoLockMinutes * time.Minute,
		now:     time.Now,
	}
}

// SetLockHook registers a function invoked (outside the manager lock)
// whenever the key is cleared, so shells can drop decrypted caches.
func (m *KeyManager) SetLockHook(fn func()) {
	m.mu.Lock()
	m.onLock = fn
	m.mu.Unlock()
}

// Initialize installs the first key for a freshly created store. The
// caller derives the key after persisting encryption metadata.
func (m *KeyManager) Initialize(key []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch m.state {
	case StateWiped:
		return ErrWiped
	case StateUnlocked, StateLocked:
		return ErrAlreadyInitialized
	}
	m.setKeyLocked(key)
	return nil
}

// Unlock rederives nothing itself: the caller passes the derived
// candidate key plus a verification probe. On probe failure the key is
// discarded before the error is returned; the caller never observes a
// half-unlocked manager.
func (m *KeyManager) Unlock(key []byte, verify VerifyFunc) error {
	if verify != nil {
		if err := verify(key); err != nil {
			zeroize(key)
			if errors.Is(err, ErrDecrypt) {
				return ErrIncorrectPassword
			}
			return err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == StateWiped {
		zeroize(key)
		return ErrWiped
	}
	m.setKeyLocked(key)
	return nil
}

// MasterKey returns a copy of the key, or ErrLocked. The auto-lock
// deadline is checked on every access, so an expired key is zeroized
// before any caller can use it.
func (m *KeyManager) MasterKey() ([]byte, error) {
	m.mu.Lock()
	hook, key, err := m.masterKeyLocked()
	m.mu.Unlock()
	if hook != nil {
		hook()
	}
	return key, err
}

func (m *KeyManager) masterKeyLocked() (func(), []byte, error) {
	if m.state != StateUnlocked {
		return nil, nil, ErrLocked
	}
	if m.timeout > 0 && m.now().Sub(m.lastActivity) > m.timeout {
		m.clearKeyLocked()
		return m.onLock, nil, ErrLocked
	}
	out := make([]byte, len(m.key))
	copy(out, m.key)
	return nil, out, nil
}

// Lock zeroizes the key and moves to the locked state.
func (m *KeyManager) Lock() {
	m.mu.Lock()
	hook := m.onLock
	cleared := m.state == StateUnlocked
	m.clearKeyLocked()
	m.mu.Unlock()
	if cleared && hook != nil {
		hook()
	}
}

// Wipe is terminal: the key is zeroized and the manager refuses all
// subsequent unlocks. Used after a full-store delete.
func (m *KeyManager) Wipe() {
	m.mu.Lock()
	hook := m.onLock
	cleared := m.state == StateUnlocked
	zeroize(m.key)
	m.key = nil
	m.state = StateWiped
	m.mu.Unlock()
	if cleared && hook != nil {
		hook()
	}
}

// IsLocked reports whether no usable key is present. It observes
// auto-lock expiry the same way MasterKey does.
func (m *KeyManager) IsLocked() bool {
	_, err := m.MasterKey()
	return err != nil
}

// State returns the current lifecycle state without touching the
// auto-lock clock.
func (m *KeyManager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// RegisterActivity resets the auto-lock timer. Shells call this on any
// user-activity event.
func (m *KeyManager) RegisterActivity() {
	m.mu.Lock()
	m.lastActivity = m.now()
	m.mu.Unlock()
}

// SetTimeout configures the auto-lock timeout. Zero disables auto-lock.
func (m *KeyManager) SetTimeout(minutes int) {
	m.mu.Lock()
	if minutes <= 0 {
		m.timeout = 0
	} else {
		m.timeout = time.Duration(minutes) * time.Minute
	}
	m.mu.Unlock()
}

// TimeSinceActivity returns the idle duration.
func (m *KeyManager) TimeSinceActivity() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now().Sub(m.lastActivity)
}

// TimeUntilLock returns the remaining time before auto-lock fires, or
// false when auto-lock is disabled.
func (m *KeyManager) TimeUntilLock() (time.Duration, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.timeout == 0 {
		return 0, false
	}
	elapsed := m.now().Sub(m.lastActivity)
	if elapsed >= m.timeout {
		return 0, true
	}
	return m.timeout - elapsed, true
}

// ShouldLock reports whether the auto-lock deadline has passed while a
// key is still held. Drivers poll this between ticks.
func (m *KeyManager) ShouldLock() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state == StateUnlocked && m.timeout > 0 &&
		m.now().Sub(m.lastActivity) > m.timeout
}

func (m *KeyManager) setKeyLocked(key []byte) {
	m.key = key
	m.state = StateUnlocked
	m.lastActivity = m.now()
}

func (m *KeyManager) clearKeyLocked() {
	zeroize(m.key)
	m.key = nil
	if m.state != StateWiped {
		m.state = StateLocked
	}
}

func zeroize(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
