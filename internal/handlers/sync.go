package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"finsync/internal/auth"
	"finsync/internal/middleware"
	"finsync/internal/sync"
	"finsync/internal/websocket"

	"github.com/go-chi/chi/v5"
)

// runLockKey guards against overlapping orchestration passes, including
// ones started by other instances sharing the lock backend.
const runLockKey = "finsync:sync-run"

const runLockTTL = 30 * time.Minute

type triggerSyncRequest struct {
	ForceSync     bool `json:"force_sync"`
	MaxConcurrent int  `json:"max_concurrent"`
}

func (h *Handler) TriggerSync(w http.ResponseWriter, r *http.Request) {
	caller, ok := middleware.CallerFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req triggerSyncRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}
	if req.MaxConcurrent < 0 {
		respondError(w, http.StatusBadRequest, "max_concurrent must not be negative")
		return
	}

	acquired, err := h.locker.Acquire(r.Context(), runLockKey, runLockTTL)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to acquire sync lock")
		return
	}
	if !acquired {
		respondError(w, http.StatusConflict, "a sync run is already in progress")
		return
	}
	// The request context dies with the client; the lock release must
	// not, or the lock strands until its TTL.
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = h.locker.Release(releaseCtx, runLockKey)
	}()

	report, err := h.engine.Run(r.Context(), sync.Options{
		ForceSync:     req.ForceSync,
		MaxConcurrent: req.MaxConcurrent,
	})
	if err != nil {
		respondError(w, http.StatusInternalServerError, "sync run failed")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"triggered_by": caller,
		"report":       report,
	})
}

func (h *Handler) ListSyncAccounts(w http.ResponseWriter, r *http.Request) {
	if _, ok := middleware.CallerFromContext(r.Context()); !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	accounts, err := h.accounts.ListAll(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to load accounts")
		return
	}
	normalized := make([]map[string]any, 0, len(accounts))
	for _, account := range accounts {
		normalized = append(normalized, map[string]any{
			"id":                   account.ID,
			"user_id":              account.UserID,
			"display_name":         account.DisplayName,
			"platform":             account.Platform,
			"sync_status":          account.SyncStatus,
			"last_synced_at":       account.LastSyncedAt,
			"consecutive_failures": account.ConsecutiveFailures,
			"error_message":        account.ErrorMessage,
		})
	}
	respondJSON(w, http.StatusOK, normalized)
}

func (h *Handler) GetSyncAccount(w http.ResponseWriter, r *http.Request) {
	if _, ok := middleware.CallerFromContext(r.Context()); !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	account, err := h.accounts.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusNotFound, "account not found")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"id":                   account.ID,
		"user_id":              account.UserID,
		"display_name":         account.DisplayName,
		"platform":             account.Platform,
		"handle":               account.Handle,
		"sync_status":          account.SyncStatus,
		"last_synced_at":       account.LastSyncedAt,
		"consecutive_failures": account.ConsecutiveFailures,
		"error_message":        account.ErrorMessage,
	})
}

func (h *Handler) SyncStats(w http.ResponseWriter, r *http.Request) {
	if _, ok := middleware.CallerFromContext(r.Context()); !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	window := 24 * time.Hour
	if raw := r.URL.Query().Get("hours"); raw != "" {
		parsed, err := time.ParseDuration(raw + "h")
		if err != nil || parsed <= 0 {
			respondError(w, http.StatusBadRequest, "invalid hours parameter")
			return
		}
		window = parsed
	}
	since := time.Now().Add(-window)
	count, err := h.transactions.CountSyncedSince(r.Context(), since)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to load stats")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"since":               since,
		"transactions_synced": count,
	})
}

func (h *Handler) WSSync(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		authHeader := r.Header.Get("Authorization")
		if strings.HasPrefix(authHeader, "Bearer ") {
			token = strings.TrimPrefix(authHeader, "Bearer ")
		}
	}
	if token == "" {
		respondError(w, http.StatusUnauthorized, "missing token")
		return
	}
	claims, err := auth.ParseToken(h.cfg.JWTSecret, token)
	if err != nil {
		respondError(w, http.StatusUnauthorized, "invalid token")
		return
	}
	websocket.ServeWS(w, r, h.hub, claims.Subject)
}
