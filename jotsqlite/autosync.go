// Copyright 2025 The Jottery Authors
// SPDX-License-Identifier: Apache-2.0

package jotsqlite

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// AutoSync fires SyncNow on a fixed cadence while enabled. It is a
// driver loop over channels: ticks trigger syncs, enable/disable are
// messages, cancellation is the context. Missed ticks coalesce — the
// single-flight flag inside SyncNow guarantees at most one outstanding
// sync, and an in-progress result is simply dropped.
type AutoSync struct {
	client   *SyncClient
	logger   *slog.Logger
	interval time.Duration
	control  chan bool
}

// NewAutoSync creates a scheduler firing every interval. Values under a
// minute are accepted to keep tests fast; production callers pass the
// configured autoSyncInterval in minutes.
func NewAutoSync(client *SyncClient, interval time.Duration, logger *slog.Logger) *AutoSync {
	if logger == nil {
		logger = slog.Default()
	}
	return &AutoSync{
		client:   client,
		logger:   logger,
		interval: interval,
		control:  make(chan bool, 1),
	}
}

// Enable starts (or restarts) the periodic timer.
func (a *AutoSync) Enable() { a.send(true) }

// Disable cancels the timer; a sync already in flight finishes.
func (a *AutoSync) Disable() { a.send(false) }

func (a *AutoSync) send(enabled bool) {
	select {
	case a.control <- enabled:
	default:
		// A queued state change is superseded by this one.
		select {
		case <-a.control:
		default:
		}
		a.control <- enabled
	}
}

// Run consumes control and tick events until ctx is cancelled.
func (a *AutoSync) Run(ctx context.Context) {
	var ticker *time.Ticker
	var tick <-chan time.Time

	stop := func() {
		if ticker != nil {
			ticker.Stop()
			ticker = nil
			tick = nil
		}
	}
	defer stop()

	for {
		select {
		case <-ctx.Done():
			return
		case enabled := <-a.control:
			stop()
			if enabled {
				ticker = time.NewTicker(a.interval)
				tick = ticker.C
			}
		case <-tick:
			if _, err := a.client.SyncNow(ctx); err != nil {
				switch {
				case errors.Is(err, ErrSyncInProgress):
					// Coalesced; the running sync covers this tick.
				case errors.Is(err, ErrSyncDisabled):
					a.logger.Debug("auto-sync tick with sync disabled")
				default:
					// Transient errors retry on the next tick by design.
					a.logger.Warn("auto-sync failed", "error", err)
				}
			}
		}
	}
}
