// Copyright 2025 The Jottery Authors
// SPDX-License-Identifier: Apache-2.0

package jotsync

import (
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatTimeOrdersLexically(t *testing.T) {
	base := time.Date(2025, 3, 1, 12, 0, 0, 900000000, time.UTC)
	times := []time.Time{
		base,
		base.Add(100 * time.Millisecond), // .000000000 rollover case
		base.Add(time.Nanosecond),
		base.Add(time.Second),
	}

	formatted := make([]string, len(times))
	for i, ts := range times {
		formatted[i] = FormatTime(ts)
	}

	sorted := append([]string{}, formatted...)
	sort.Strings(sorted)

	byTime := append([]time.Time{}, times...)
	sort.Slice(byTime, func(i, j int) bool { return byTime[i].Before(byTime[j]) })
	want := make([]string, len(byTime))
	for i, ts := range byTime {
		want[i] = FormatTime(ts)
	}
	assert.Equal(t, want, sorted)
}

func TestParseTimeAcceptsVariants(t *testing.T) {
	for _, in := range []string{
		"2025-03-01T12:00:00.000000000Z",
		"2025-03-01T12:00:00Z",
		"2025-03-01T12:00:00.5+02:00",
	} {
		_, err := ParseTime(in)
		assert.NoError(t, err, in)
	}
	_, err := ParseTime("yesterday")
	assert.Error(t, err)
}

func TestFormatParseRoundtrip(t *testing.T) {
	now := time.Now()
	got, err := ParseTime(FormatTime(now))
	require.NoError(t, err)
	assert.True(t, got.Equal(now))
}
