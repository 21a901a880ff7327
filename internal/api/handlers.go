package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/hyperengineering/habitsync/internal/snapshot"
	hsync "github.com/hyperengineering/habitsync/internal/sync"
	"github.com/hyperengineering/habitsync/internal/types"
)

// SyncStore is the server store as seen by the HTTP layer. Implemented by
// *serverstore.Store.
type SyncStore interface {
	Ping(ctx context.Context) error
	Push(ctx context.Context, req hsync.PushRequest) (*hsync.PushResponse, error)
	Pull(ctx context.Context, req hsync.PullRequest) (*hsync.PullResponse, error)
	Stats(ctx context.Context) (*types.ServerStats, error)
}

// Handler implements the API handlers
type Handler struct {
	store    SyncStore
	uploader snapshot.Uploader
	apiKey   string
	version  string
}

// NewHandler creates a Handler. A nil uploader disables the snapshot URL
// endpoint; an empty apiKey disables authentication.
func NewHandler(s SyncStore, uploader snapshot.Uploader, apiKey, version string) *Handler {
	if uploader == nil {
		uploader = snapshot.NoopUploader{}
	}
	return &Handler{
		store:    s,
		uploader: uploader,
		apiKey:   apiKey,
		version:  version,
	}
}

// Ping handles GET /ping. Clients use it as their connectivity probe.
func (h *Handler) Ping(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Ping(r.Context()); err != nil {
		slog.Error("ping: store unavailable", "component", "api", "error", err)
		WriteProblem(w, r, http.StatusServiceUnavailable, "Store unavailable")
		return
	}
	writeJSON(w, http.StatusOK, types.PingResponse{Status: "ok", Version: h.version})
}

// Stats handles GET /sync/stats.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.store.Stats(r.Context())
	if err != nil {
		slog.Error("stats failed", "component", "api", "error", err)
		MapStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

type snapshotURLResponse struct {
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// SnapshotURL handles GET /sync/snapshot with a pre-signed download URL
// for the latest uploaded server snapshot.
func (h *Handler) SnapshotURL(w http.ResponseWriter, r *http.Request) {
	url, expiry, err := h.uploader.PresignedURL(r.Context())
	if err != nil {
		MapStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snapshotURLResponse{URL: url, ExpiresAt: expiry})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("failed to encode response", "component", "api", "error", err)
	}
}
