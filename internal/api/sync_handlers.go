package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	hsync "github.com/hyperengineering/habitsync/internal/sync"
	"github.com/hyperengineering/habitsync/internal/validation"
)

// maxPushBody bounds the size of a push request body.
const maxPushBody = 8 << 20

// SyncPush handles POST /sync/push
func (h *Handler) SyncPush(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()

	var req hsync.PushRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxPushBody)).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			WriteProblem(w, r, http.StatusRequestEntityTooLarge, fmt.Sprintf("Body exceeds %d bytes", maxPushBody))
			return
		}
		WriteProblem(w, r, http.StatusBadRequest, fmt.Sprintf("Invalid JSON: %s", err))
		return
	}

	if errs := validation.ValidatePushRequest(req); len(errs) > 0 {
		WriteProblemWithErrors(w, r, errs)
		return
	}

	resp, err := h.store.Push(ctx, req)
	if err != nil {
		slog.Error("push failed",
			"component", "api",
			"action", "sync_push_failed",
			"device_id", req.DeviceID,
			"push_id", req.PushID,
			"request_id", RequestIDFromContext(ctx),
			"error", err,
		)
		MapStoreError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)

	slog.Info("push completed",
		"component", "api",
		"action", "sync_push",
		"device_id", req.DeviceID,
		"push_id", req.PushID,
		"entries", resp.Accepted,
		"duration_ms", time.Since(start).Milliseconds(),
	)
}

// SyncPull handles GET /sync/pull
func (h *Handler) SyncPull(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()

	req, errs := parsePullRequest(r)
	if len(errs) > 0 {
		WriteProblemWithErrors(w, r, errs)
		return
	}

	resp, err := h.store.Pull(ctx, req)
	if err != nil {
		slog.Error("pull failed",
			"component", "api",
			"action", "sync_pull_failed",
			"device_id", req.DeviceID,
			"since", req.Since,
			"request_id", RequestIDFromContext(ctx),
			"error", err,
		)
		MapStoreError(w, r, err)
		return
	}

	// Ensure changes is [] not null in JSON
	if resp.Changes == nil {
		resp.Changes = []hsync.ServerChange{}
	}

	writeJSON(w, http.StatusOK, resp)

	slog.Info("pull served",
		"component", "api",
		"action", "sync_pull",
		"device_id", req.DeviceID,
		"since", req.Since,
		"changes_returned", len(resp.Changes),
		"has_more", resp.HasMore,
		"duration_ms", time.Since(start).Milliseconds(),
	)
}

// parsePullRequest extracts and validates query parameters for
// GET /sync/pull. since is optional (absent means from the beginning) and
// limit is clamped to MaxPullLimit.
func parsePullRequest(r *http.Request) (hsync.PullRequest, []validation.ValidationError) {
	var (
		req hsync.PullRequest
		v   validation.Collector
		q   = r.URL.Query()
	)

	req.DeviceID = q.Get("deviceId")
	v.Add(validation.ValidateDeviceID("deviceId", req.DeviceID))

	if s := q.Get("since"); s != "" {
		since, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			v.Add(&validation.ValidationError{Field: "since", Message: "must be an RFC 3339 timestamp"})
		} else {
			req.Since = since.UTC()
		}
	}

	req.Limit = hsync.DefaultPullLimit
	if s := q.Get("limit"); s != "" {
		limit, err := strconv.Atoi(s)
		switch {
		case err != nil:
			v.Add(&validation.ValidationError{Field: "limit", Message: "must be an integer"})
		case limit < 1:
			v.Add(&validation.ValidationError{Field: "limit", Message: "must be >= 1"})
		case limit > hsync.MaxPullLimit:
			req.Limit = hsync.MaxPullLimit
		default:
			req.Limit = limit
		}
	}

	return req, v.Errors()
}
