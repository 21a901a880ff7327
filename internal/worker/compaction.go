package worker

import (
	"context"
	"log/slog"
	"time"
)

// CompactionStore trims the server change journal.
type CompactionStore interface {
	CompactChanges(ctx context.Context, cutoff time.Time) (int64, error)
}

// CompactionWorker periodically removes journal entries older than the
// retention window, keeping the newest entry of every record.
type CompactionWorker struct {
	store     CompactionStore
	interval  time.Duration
	retention time.Duration
	now       func() time.Time
}

// NewCompactionWorker creates a compaction worker.
func NewCompactionWorker(store CompactionStore, interval, retention time.Duration) *CompactionWorker {
	return &CompactionWorker{
		store:     store,
		interval:  interval,
		retention: retention,
		now:       time.Now,
	}
}

// Run starts the worker loop. Blocks until ctx is cancelled.
//
// The first compaction waits one interval so server startup stays light.
func (w *CompactionWorker) Run(ctx context.Context) {
	slog.Info("worker started",
		"component", "worker",
		"worker", "compaction",
		"interval", w.interval.String(),
		"retention", w.retention.String(),
	)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("worker stopped",
				"component", "worker",
				"worker", "compaction",
				"reason", "context_cancelled",
			)
			return
		case <-ticker.C:
			w.compact(ctx)
		}
	}
}

func (w *CompactionWorker) compact(ctx context.Context) {
	start := w.now()
	cutoff := start.Add(-w.retention)

	deleted, err := w.store.CompactChanges(ctx, cutoff)
	if err != nil {
		if ctx.Err() != nil {
			return // Graceful shutdown
		}
		slog.Error("compaction failed",
			"component", "worker",
			"worker", "compaction",
			"action", "compaction_failed",
			"error", err,
		)
		return
	}

	if deleted == 0 {
		slog.Debug("no entries to compact",
			"component", "worker",
			"worker", "compaction",
		)
		return
	}

	slog.Info("compaction completed",
		"component", "worker",
		"worker", "compaction",
		"action", "compaction_complete",
		"cutoff", cutoff.UTC().Format(time.RFC3339),
		"entries_deleted", deleted,
		"duration_ms", w.now().Sub(start).Milliseconds(),
	)
}
