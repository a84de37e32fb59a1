// Copyright 2025 The Jottery Authors
// SPDX-License-Identifier: Apache-2.0

package jotcrypto

import (
	"context"
	"time"
)

// AutoLockDriver turns the key manager's deadline into an event loop:
// it consumes activity pings from the shell and periodic ticks, and
// locks the manager when the idle deadline passes. Cancellation is the
// context; there is no other control surface.
type AutoLockDriver struct {
	keys     *KeyManager
	interval time.Duration
	activity chan struct{}
}

// NewAutoLockDriver creates a driver polling at the given interval. A
// zero interval defaults to one second, fine-grained enough for a
// minutes-scale timeout.
func NewAutoLockDriver(keys *KeyManager, interval time.Duration) *AutoLockDriver {
	if interval <= 0 {
		interval = time.Second
	}
	return &AutoLockDriver{
		keys:     keys,
		interval: interval,
		activity: make(chan struct{}, 1),
	}
}

// Ping records a user-activity event. Non-blocking; coalesces with any
// ping not yet consumed.
func (d *AutoLockDriver) Ping() {
	select {
	case d.activity <- struct{}{}:
	default:
	}
}

// Run consumes activity and tick events until ctx is cancelled.
func (d *AutoLockDriver) Run(ctx context.Context) {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-d.activity:
			d.keys.RegisterActivity()
		case <-ticker.C:
			if d.keys.ShouldLock() {
				d.keys.Lock()
			}
		}
	}
}
