package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/hyperengineering/habitsync/internal/snapshot"
)

// SnapshotStore generates database snapshots.
type SnapshotStore interface {
	GenerateSnapshot(ctx context.Context) error
	SnapshotPath() string
}

// SnapshotWorker generates a snapshot immediately on start and on every
// interval, then uploads it when an uploader is configured.
type SnapshotWorker struct {
	store    SnapshotStore
	uploader snapshot.Uploader
	interval time.Duration
}

// NewSnapshotWorker creates a snapshot worker. uploader may be nil.
func NewSnapshotWorker(store SnapshotStore, uploader snapshot.Uploader, interval time.Duration) *SnapshotWorker {
	return &SnapshotWorker{
		store:    store,
		uploader: uploader,
		interval: interval,
	}
}

// Run starts the worker loop. Blocks until ctx is cancelled.
func (w *SnapshotWorker) Run(ctx context.Context) {
	slog.Info("worker started",
		"component", "worker",
		"worker", "snapshot",
		"interval", w.interval.String(),
	)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.generate(ctx)

	for {
		select {
		case <-ctx.Done():
			slog.Info("worker stopped",
				"component", "worker",
				"worker", "snapshot",
				"reason", "context_cancelled",
			)
			return
		case <-ticker.C:
			w.generate(ctx)
		}
	}
}

// generate creates a snapshot and uploads it. Upload failures are logged
// but not fatal: the local snapshot remains valid.
func (w *SnapshotWorker) generate(ctx context.Context) {
	if err := w.store.GenerateSnapshot(ctx); err != nil {
		if ctx.Err() != nil {
			return
		}
		slog.Warn("snapshot generation failed",
			"component", "worker",
			"worker", "snapshot",
			"action", "snapshot_failed",
			"error", err,
		)
		return
	}

	if w.uploader == nil {
		return
	}

	key, err := w.uploader.Upload(ctx, w.store.SnapshotPath())
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		slog.Warn("snapshot upload failed",
			"component", "worker",
			"worker", "snapshot",
			"action", "snapshot_upload_failed",
			"error", err,
		)
		return
	}
	if key != "" {
		slog.Info("snapshot uploaded",
			"component", "worker",
			"worker", "snapshot",
			"action", "snapshot_uploaded",
			"key", key,
		)
	}
}
