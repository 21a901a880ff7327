package worker

import (
	"context"
	"log/slog"
	"time"
)

// IdempotencyStore drops expired push idempotency records.
type IdempotencyStore interface {
	CleanExpiredIdempotency(ctx context.Context) (int64, error)
}

// IdempotencyCleanupWorker periodically removes expired pushId records.
type IdempotencyCleanupWorker struct {
	store    IdempotencyStore
	interval time.Duration
}

// NewIdempotencyCleanupWorker creates a cleanup worker.
func NewIdempotencyCleanupWorker(store IdempotencyStore, interval time.Duration) *IdempotencyCleanupWorker {
	return &IdempotencyCleanupWorker{store: store, interval: interval}
}

// Run starts the worker loop. Blocks until ctx is cancelled.
func (w *IdempotencyCleanupWorker) Run(ctx context.Context) {
	slog.Info("worker started",
		"component", "worker",
		"worker", "idempotency-cleanup",
		"interval", w.interval.String(),
	)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("worker stopped",
				"component", "worker",
				"worker", "idempotency-cleanup",
				"reason", "context_cancelled",
			)
			return
		case <-ticker.C:
			removed, err := w.store.CleanExpiredIdempotency(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				slog.Warn("idempotency cleanup failed",
					"component", "worker",
					"worker", "idempotency-cleanup",
					"error", err,
				)
				continue
			}
			if removed > 0 {
				slog.Info("expired push records removed",
					"component", "worker",
					"worker", "idempotency-cleanup",
					"removed", removed,
				)
			}
		}
	}
}
