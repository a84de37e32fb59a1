// Copyright 2025 The Jottery Authors
// SPDX-License-Identifier: Apache-2.0

package jotcrypto

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock drives the manager's notion of time in tests.
type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func withClock(m *KeyManager, c *fakeClock) { m.now = c.now }

func key32(b byte) []byte {
	k := make([]byte, KeySize)
	for i := range k {
		k[i] = b
	}
	return k
}

func TestKeyManagerLifecycle(t *testing.T) {
	m := NewKeyManager()
	assert.Equal(t, StateUninitialized, m.State())
	assert.True(t, m.IsLocked())

	_, err := m.MasterKey()
	assert.ErrorIs(t, err, ErrLocked)

	require.NoError(t, m.Initialize(key32(1)))
	assert.Equal(t, StateUnlocked, m.State())

	got, err := m.MasterKey()
	require.NoError(t, err)
	assert.Equal(t, key32(1), got)

	assert.ErrorIs(t, m.Initialize(key32(2)), ErrAlreadyInitialized)

	m.Lock()
	assert.Equal(t, StateLocked, m.State())
	_, err = m.MasterKey()
	assert.ErrorIs(t, err, ErrLocked)

	require.NoError(t, m.Unlock(key32(1), nil))
	assert.Equal(t, StateUnlocked, m.State())
}

func TestUnlockVerificationFailureDiscardsKey(t *testing.T) {
	m := NewKeyManager()
	require.NoError(t, m.Initialize(key32(1)))
	m.Lock()

	candidate := key32(9)
	err := m.Unlock(candidate, func([]byte) error { return ErrDecrypt })
	assert.ErrorIs(t, err, ErrIncorrectPassword)

	// The candidate was zeroized before the error surfaced.
	assert.Equal(t, make([]byte, KeySize), candidate)

	_, err = m.MasterKey()
	assert.ErrorIs(t, err, ErrLocked)
}

func TestUnlockVerificationOtherErrorPassesThrough(t *testing.T) {
	m := NewKeyManager()
	storeErr := errors.New("disk on fire")
	err := m.Unlock(key32(1), func([]byte) error { return storeErr })
	assert.ErrorIs(t, err, storeErr)
	assert.True(t, m.IsLocked())
}

func TestMasterKeyReturnsCopy(t *testing.T) {
	m := NewKeyManager()
	require.NoError(t, m.Initialize(key32(3)))

	k1, err := m.MasterKey()
	require.NoError(t, err)
	k1[0] = 0xEE

	k2, err := m.MasterKey()
	require.NoError(t, err)
	assert.Equal(t, byte(3), k2[0])
}

func TestAutoLockExpiry(t *testing.T) {
	clock := newFakeClock()
	m := NewKeyManager()
	withClock(m, clock)
	m.SetTimeout(15)

	require.NoError(t, m.Initialize(key32(1)))

	clock.advance(14 * time.Minute)
	_, err := m.MasterKey()
	require.NoError(t, err)

	clock.advance(2 * time.Minute)
	_, err = m.MasterKey()
	assert.ErrorIs(t, err, ErrLocked)
	assert.Equal(t, StateLocked, m.State())
}

func TestActivityResetsAutoLock(t *testing.T) {
	clock := newFakeClock()
	m := NewKeyManager()
	withClock(m, clock)
	m.SetTimeout(15)
	require.NoError(t, m.Initialize(key32(1)))

	clock.advance(10 * time.Minute)
	m.RegisterActivity()
	clock.advance(10 * time.Minute)

	_, err := m.MasterKey()
	assert.NoError(t, err)
}

func TestAutoLockDisabled(t *testing.T) {
	clock := newFakeClock()
	m := NewKeyManager()
	withClock(m, clock)
	m.SetTimeout(0)
	require.NoError(t, m.Initialize(key32(1)))

	clock.advance(48 * time.Hour)
	_, err := m.MasterKey()
	assert.NoError(t, err)
}

func TestLockHookFiresOnExpiry(t *testing.T) {
	clock := newFakeClock()
	m := NewKeyManager()
	withClock(m, clock)
	m.SetTimeout(1)

	fired := 0
	m.SetLockHook(func() { fired++ })

	require.NoError(t, m.Initialize(key32(1)))
	clock.advance(2 * time.Minute)

	_, err := m.MasterKey()
	assert.ErrorIs(t, err, ErrLocked)
	assert.Equal(t, 1, fired)
}

func TestShouldLockAndTimeUntilLock(t *testing.T) {
	clock := newFakeClock()
	m := NewKeyManager()
	withClock(m, clock)
	m.SetTimeout(10)
	require.NoError(t, m.Initialize(key32(1)))

	left, enabled := m.TimeUntilLock()
	assert.True(t, enabled)
	assert.Equal(t, 10*time.Minute, left)
	assert.False(t, m.ShouldLock())

	clock.advance(11 * time.Minute)
	left, enabled = m.TimeUntilLock()
	assert.True(t, enabled)
	assert.Equal(t, time.Duration(0), left)
	assert.True(t, m.ShouldLock())
}

func TestWipeIsTerminal(t *testing.T) {
	m := NewKeyManager()
	require.NoError(t, m.Initialize(key32(1)))

	m.Wipe()
	assert.Equal(t, StateWiped, m.State())

	assert.ErrorIs(t, m.Unlock(key32(1), nil), ErrWiped)
	assert.ErrorIs(t, m.Initialize(key32(1)), ErrWiped)
}

func TestAutoLockDriver(t *testing.T) {
	clock := newFakeClock()
	m := NewKeyManager()
	withClock(m, clock)
	m.SetTimeout(1)
	require.NoError(t, m.Initialize(key32(1)))

	d := NewAutoLockDriver(m, 5*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		d.Run(ctx)
		close(done)
	}()

	clock.advance(2 * time.Minute)
	assert.Eventually(t, func() bool {
		return m.State() == StateLocked
	}, time.Second, 5*time.Millisecond)

	cancel()
	<-done
}
