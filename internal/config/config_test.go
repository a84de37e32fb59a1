// Copyright 2025 The Jottery Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaults(t *testing.T) {
	for _, key := range []string{"DATABASE_URL", "PORT", "MAX_PAYLOAD_SIZE", "LOG_LEVEL"} {
		t.Setenv(key, "")
	}
	cfg := FromEnv()
	assert.Equal(t, "jottery.db", cfg.DatabaseURL)
	assert.Equal(t, 3030, cfg.Port)
	assert.Equal(t, int64(10<<20), cfg.MaxPayloadSize)
	assert.Equal(t, slog.LevelInfo, cfg.LogLevel)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("DATABASE_URL", "sqlite:/tmp/x.db")
	t.Setenv("PORT", "8080")
	t.Setenv("MAX_PAYLOAD_SIZE", "1048576")
	t.Setenv("LOG_LEVEL", "debug")

	cfg := FromEnv()
	assert.Equal(t, "/tmp/x.db", cfg.DatabaseURL, "sqlite: scheme stripped")
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, int64(1<<20), cfg.MaxPayloadSize)
	assert.Equal(t, slog.LevelDebug, cfg.LogLevel)
}

func TestUnparsableFallsBack(t *testing.T) {
	t.Setenv("PORT", "not-a-port")
	t.Setenv("LOG_LEVEL", "chatty")
	cfg := FromEnv()
	assert.Equal(t, 3030, cfg.Port)
	assert.Equal(t, slog.LevelInfo, cfg.LogLevel)
}
