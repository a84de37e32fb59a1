// Copyright 2025 The Jottery Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"github.com/seesee/jottery/internal/config"
	"github.com/seesee/jottery/jotsync"
)

const (
	readTimeout  = 30 * time.Second
	writeTimeout = 60 * time.Second
	idleTimeout  = 120 * time.Second
)

func main() {
	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := config.FromEnv()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)

	logger.Info("starting jottery sync server",
		"database", cfg.DatabaseURL, "port", cfg.Port)

	db, err := sqlx.Open("sqlite3", cfg.DatabaseURL+"?_busy_timeout=5000&_foreign_keys=on&_txlock=immediate")
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()
	// One writer at a time keeps SQLite contention out of request paths.
	db.SetMaxOpenConns(1)

	svc, err := jotsync.NewService(db, logger)
	if err != nil {
		return fmt.Errorf("initialize sync service: %w", err)
	}

	router := jotsync.NewRouter(svc, jotsync.RouterConfig{MaxBodyBytes: cfg.MaxPayloadSize}, logger)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  idleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-stop:
		logger.Info("shutting down", "signal", sig.String())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(ctx)
}
