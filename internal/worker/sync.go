// Package worker runs the periodic background jobs of the client and the
// server. Every worker blocks in Run until its context is cancelled.
package worker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/hyperengineering/habitsync/internal/syncer"
)

// Syncer runs one sync cycle. Implemented by *syncer.Orchestrator.
type Syncer interface {
	Sync(ctx context.Context) (syncer.Result, error)
}

// SyncWorker triggers sync cycles on a timer and on demand. A cycle that
// finds another cycle running is skipped, never queued.
type SyncWorker struct {
	syncer   Syncer
	interval time.Duration
	nudge    chan struct{}
}

// NewSyncWorker creates a worker that syncs every interval.
func NewSyncWorker(s Syncer, interval time.Duration) *SyncWorker {
	return &SyncWorker{
		syncer:   s,
		interval: interval,
		nudge:    make(chan struct{}, 1),
	}
}

// Nudge requests a cycle as soon as possible, for example when the host
// learns connectivity is back. Nudges coalesce while one is pending.
func (w *SyncWorker) Nudge() {
	select {
	case w.nudge <- struct{}{}:
	default:
	}
}

// Run syncs once on start, then on every tick or nudge, until ctx is
// cancelled.
func (w *SyncWorker) Run(ctx context.Context) {
	slog.Info("worker started",
		"component", "worker",
		"worker", "sync",
		"interval", w.interval.String(),
	)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.runCycle(ctx, "startup")

	for {
		select {
		case <-ctx.Done():
			slog.Info("worker stopped",
				"component", "worker",
				"worker", "sync",
				"reason", "context_cancelled",
			)
			return
		case <-ticker.C:
			w.runCycle(ctx, "timer")
		case <-w.nudge:
			w.runCycle(ctx, "nudge")
		}
	}
}

// runCycle runs one cycle. Failures are already recorded on the session,
// so they are only logged here at low level.
func (w *SyncWorker) runCycle(ctx context.Context, trigger string) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("sync cycle panicked",
				"component", "worker",
				"worker", "sync",
				"trigger", trigger,
				"panic", r,
			)
		}
	}()

	if ctx.Err() != nil {
		return
	}

	res, err := w.syncer.Sync(ctx)
	switch {
	case errors.Is(err, syncer.ErrSyncInProgress):
		slog.Debug("sync skipped, cycle already running",
			"component", "worker",
			"worker", "sync",
			"trigger", trigger,
		)
	case err != nil:
		slog.Debug("sync cycle ended with error",
			"component", "worker",
			"worker", "sync",
			"trigger", trigger,
			"outcome", string(res.Outcome),
			"error", err,
		)
	default:
		slog.Debug("sync cycle finished",
			"component", "worker",
			"worker", "sync",
			"trigger", trigger,
			"uploaded", res.Uploaded,
			"downloaded", res.Downloaded,
		)
	}
}
