// Copyright 2025 The Jottery Authors
// SPDX-License-Identifier: Apache-2.0

package jotsync

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

type contextKey string

const clientIDKey contextKey = "clientID"

// ClientIDFromContext returns the authenticated client id placed by the
// bearer middleware.
func ClientIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(clientIDKey).(string)
	return id, ok
}

// RouterConfig tunes the HTTP surface.
type RouterConfig struct {
	// MaxBodyBytes caps request bodies; zero means the 10 MiB default.
	MaxBodyBytes int64
}

const defaultMaxBodyBytes = 10 << 20

// NewRouter mounts the sync API. CORS is permissive by default and
// intended to be restricted at a reverse proxy.
func NewRouter(svc *Service, cfg RouterConfig, logger *slog.Logger) *chi.Mux {
	if logger == nil {
		logger = slog.Default()
	}
	maxBody := cfg.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = defaultMaxBodyBytes
	}

	h := &httpHandlers{svc: svc, logger: logger}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
	}))
	r.Use(limitBody(maxBody))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	r.Post("/api/v1/auth/register", h.register)

	r.Group(func(r chi.Router) {
		r.Use(h.authenticator)
		r.Get("/api/v1/sync/status", h.status)
		r.Post("/api/v1/sync/push", h.push)
		r.Post("/api/v1/sync/pull", h.pull)
		r.Delete("/api/v1/sync/notes/{id}", h.deleteNote)
	})

	return r
}

type httpHandlers struct {
	svc    *Service
	logger *slog.Logger
}

func limitBody(n int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r.Body = http.MaxBytesReader(w, r.Body, n)
			next.ServeHTTP(w, r)
		})
	}
}

// authenticator enforces "Authorization: Bearer <key>" on the sync
// group. The key itself never reaches a log line.
func (h *httpHandlers) authenticator(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if header == "" {
			h.writeError(w, http.StatusUnauthorized, "authentication required")
			return
		}
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			h.writeError(w, http.StatusUnauthorized, "invalid authorization header")
			return
		}

		clientID, err := h.svc.Authenticate(r.Context(), parts[1])
		switch {
		case errors.Is(err, ErrUnauthorized):
			h.writeError(w, http.StatusUnauthorized, "invalid api key")
			return
		case errors.Is(err, ErrForbidden):
			h.writeError(w, http.StatusForbidden, "client is inactive")
			return
		case err != nil:
			h.logger.Error("authentication failed", "error", err)
			h.writeError(w, http.StatusInternalServerError, "internal error")
			return
		}

		ctx := context.WithValue(r.Context(), clientIDKey, clientID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (h *httpHandlers) register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "failed to parse register request")
		return
	}
	resp, err := h.svc.Register(r.Context(), &req)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, resp)
}

func (h *httpHandlers) status(w http.ResponseWriter, r *http.Request) {
	clientID, _ := ClientIDFromContext(r.Context())
	resp, err := h.svc.Status(r.Context(), clientID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *httpHandlers) push(w http.ResponseWriter, r *http.Request) {
	clientID, _ := ClientIDFromContext(r.Context())
	var req PushRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "failed to parse push request")
		return
	}
	resp, err := h.svc.Push(r.Context(), clientID, &req)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *httpHandlers) pull(w http.ResponseWriter, r *http.Request) {
	clientID, _ := ClientIDFromContext(r.Context())
	var req PullRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "failed to parse pull request")
		return
	}
	resp, err := h.svc.Pull(r.Context(), clientID, &req)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *httpHandlers) deleteNote(w http.ResponseWriter, r *http.Request) {
	clientID, _ := ClientIDFromContext(r.Context())
	noteID := chi.URLParam(r, "id")
	if noteID == "" {
		h.writeError(w, http.StatusBadRequest, "note id is required")
		return
	}
	if err := h.svc.DeleteNote(r.Context(), clientID, noteID); err != nil {
		h.writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *httpHandlers) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrInvalidRequest):
		h.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrUnauthorized):
		h.writeError(w, http.StatusUnauthorized, "unauthorized")
	case errors.Is(err, ErrForbidden):
		h.writeError(w, http.StatusForbidden, "forbidden")
	case errors.Is(err, ErrNotFound):
		h.writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, ErrBusy):
		h.writeError(w, http.StatusServiceUnavailable, "storage busy, retry later")
	default:
		h.logger.Error("request failed", "error", err)
		h.writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func (h *httpHandlers) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *httpHandlers) writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ErrorResponse{Error: msg})
}
