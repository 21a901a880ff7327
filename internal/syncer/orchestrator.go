// Package syncer drives the push/pull cycle between the local store and the
// sync server.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	hsync "github.com/hyperengineering/habitsync/internal/sync"
	"github.com/oklog/ulid/v2"
)

// Outcome summarises how a sync request ended.
type Outcome string

const (
	OutcomeCompleted      Outcome = "completed"
	OutcomeAlreadySyncing Outcome = "already_syncing"
	OutcomeOffline        Outcome = "offline"
	OutcomeFailed         Outcome = "failed"
)

// Default cycle parameters.
const (
	DefaultPingTimeout    = 3 * time.Second
	DefaultRequestTimeout = 10 * time.Second
	DefaultPushBatchSize  = 200
)

// LocalStore is the part of the local store a sync cycle touches. The
// orchestrator never reads entity tables to decide what to push.
type LocalStore interface {
	DeviceID() string
	PendingChanges(ctx context.Context) ([]hsync.ChangeLogEntry, error)
	MarkSynced(ctx context.Context, ids []int64) (int64, error)
	ApplyRemote(ctx context.Context, changes []hsync.ServerChange) (int, error)
	SetLastSyncTimestamp(ctx context.Context, t time.Time) error
}

// Remote is the sync server as seen by the client.
type Remote interface {
	Ping(ctx context.Context) error
	Push(ctx context.Context, req hsync.PushRequest) (*hsync.PushResponse, error)
	Pull(ctx context.Context, req hsync.PullRequest) (*hsync.PullResponse, error)
}

// Options tunes a sync cycle. Zero values take the defaults.
type Options struct {
	PingTimeout    time.Duration
	RequestTimeout time.Duration
	PushBatchSize  int
	PullLimit      int

	// TransparentOffline returns to idle without an error notification
	// when the ping fails.
	TransparentOffline bool
}

func (o Options) withDefaults() Options {
	if o.PingTimeout <= 0 {
		o.PingTimeout = DefaultPingTimeout
	}
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = DefaultRequestTimeout
	}
	if o.PushBatchSize <= 0 {
		o.PushBatchSize = DefaultPushBatchSize
	}
	if o.PushBatchSize > hsync.MaxPushChanges {
		o.PushBatchSize = hsync.MaxPushChanges
	}
	if o.PullLimit <= 0 {
		o.PullLimit = hsync.DefaultPullLimit
	}
	return o
}

// Result describes one sync request.
type Result struct {
	Outcome    Outcome
	Uploaded   int
	Downloaded int
	LastSync   time.Time
	Duration   time.Duration
}

// Orchestrator runs sync cycles. At most one cycle runs at a time.
type Orchestrator struct {
	store   LocalStore
	remote  Remote
	session *Session
	opts    Options

	now       func() time.Time
	newPushID func() string

	gate sync.Mutex
}

// New creates an Orchestrator. The session is owned by the caller.
func New(store LocalStore, remote Remote, session *Session, opts Options) *Orchestrator {
	return &Orchestrator{
		store:     store,
		remote:    remote,
		session:   session,
		opts:      opts.withDefaults(),
		now:       time.Now,
		newPushID: func() string { return ulid.Make().String() },
	}
}

// Session returns the session the orchestrator writes to.
func (o *Orchestrator) Session() *Session { return o.session }

// Status returns the current session status.
func (o *Orchestrator) Status() Status { return o.session.Status() }

// Sync runs one cycle: ping, push the outbox, pull remote changes, then
// advance the pull anchor. A concurrent call returns ErrSyncInProgress at
// once. Failures are recorded on the session and returned.
func (o *Orchestrator) Sync(ctx context.Context) (Result, error) {
	if !o.gate.TryLock() {
		return Result{Outcome: OutcomeAlreadySyncing}, ErrSyncInProgress
	}
	defer o.gate.Unlock()

	start := o.now()
	if err := o.session.begin(start); err != nil {
		return Result{Outcome: OutcomeFailed}, err
	}

	deviceID := o.store.DeviceID()
	slog.Debug("sync cycle started",
		"component", "syncer",
		"action", "sync",
		"device_id", deviceID,
	)

	res, err := o.safeCycle(ctx, deviceID)
	res.Duration = o.now().Sub(start)

	switch {
	case err == nil:
		res.Outcome = OutcomeCompleted
		o.session.complete(res, o.now())
		slog.Info("sync cycle completed",
			"component", "syncer",
			"action", "sync",
			"device_id", deviceID,
			"uploaded", res.Uploaded,
			"downloaded", res.Downloaded,
			"last_sync", res.LastSync,
			"duration_ms", res.Duration.Milliseconds(),
		)

	case IsOffline(err):
		res.Outcome = OutcomeOffline
		if o.opts.TransparentOffline {
			o.session.settle(o.now())
		} else {
			o.session.fail(res, err, o.now())
		}
		slog.Info("sync cycle skipped, server unreachable",
			"component", "syncer",
			"action", "sync",
			"device_id", deviceID,
			"uploaded", res.Uploaded,
			"error", err,
		)

	default:
		res.Outcome = OutcomeFailed
		o.session.fail(res, err, o.now())
		attrs := []any{
			"component", "syncer",
			"action", "sync",
			"device_id", deviceID,
			"uploaded", res.Uploaded,
			"downloaded", res.Downloaded,
			"error", err,
		}
		var re *ServerRejectedError
		if errors.As(err, &re) {
			attrs = append(attrs, "status", re.StatusCode, "detail", re.Detail)
		}
		slog.Warn("sync cycle failed", attrs...)
	}

	return res, err
}

// Reset waits for any in-flight cycle, then runs wipe with no cycle able to
// start. On success the session forgets its pull anchor and last error so
// the next cycle pulls from the beginning.
func (o *Orchestrator) Reset(ctx context.Context, wipe func(ctx context.Context) error) error {
	o.gate.Lock()
	defer o.gate.Unlock()

	if err := wipe(ctx); err != nil {
		return err
	}
	o.session.reset(o.now())
	return nil
}

// safeCycle turns a panic inside the cycle into an error so the session
// still settles and the gate is released.
func (o *Orchestrator) safeCycle(ctx context.Context, deviceID string) (res Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sync cycle panicked: %v", r)
		}
	}()
	return o.cycle(ctx, deviceID)
}

func (o *Orchestrator) cycle(ctx context.Context, deviceID string) (Result, error) {
	var res Result

	if err := o.ping(ctx); err != nil {
		return res, err
	}

	uploaded, err := o.push(ctx, deviceID)
	res.Uploaded = uploaded
	if err != nil {
		return res, err
	}

	if err := ctx.Err(); err != nil {
		return res, &ConnectivityError{Op: "sync", Err: err}
	}

	downloaded, anchor, err := o.pull(ctx, deviceID)
	res.Downloaded = downloaded
	if err != nil {
		return res, err
	}

	if err := o.store.SetLastSyncTimestamp(ctx, anchor); err != nil {
		return res, fmt.Errorf("persist last sync timestamp: %w", err)
	}
	res.LastSync = anchor
	return res, nil
}

func (o *Orchestrator) ping(ctx context.Context) error {
	pctx, cancel := context.WithTimeout(ctx, o.opts.PingTimeout)
	defer cancel()

	if err := o.remote.Ping(pctx); err != nil {
		if IsOffline(err) {
			return err
		}
		return &ConnectivityError{Op: "ping", Err: err}
	}
	return nil
}

// push uploads the outbox in FIFO batches. Each acknowledged batch is
// marked synced before the next is sent, so a failure leaves exactly the
// unacknowledged entries pending, in order.
func (o *Orchestrator) push(ctx context.Context, deviceID string) (int, error) {
	pending, err := o.store.PendingChanges(ctx)
	if err != nil {
		return 0, fmt.Errorf("read pending changes: %w", err)
	}

	uploaded := 0
	for start := 0; start < len(pending); start += o.opts.PushBatchSize {
		end := min(start+o.opts.PushBatchSize, len(pending))
		batch := pending[start:end]

		req := hsync.PushRequest{
			DeviceID: deviceID,
			PushID:   o.newPushID(),
			Changes:  batch,
		}

		rctx, cancel := context.WithTimeout(ctx, o.opts.RequestTimeout)
		_, err := o.remote.Push(rctx, req)
		cancel()
		if err != nil {
			return uploaded, classify("push", err)
		}

		ids := make([]int64, len(batch))
		for i := range batch {
			ids[i] = batch[i].ID
		}
		if _, err := o.store.MarkSynced(ctx, ids); err != nil {
			return uploaded, fmt.Errorf("mark synced: %w", err)
		}
		uploaded += len(batch)

		slog.Debug("push batch acknowledged",
			"component", "syncer",
			"action", "push",
			"device_id", deviceID,
			"push_id", req.PushID,
			"entries", len(batch),
		)
	}
	return uploaded, nil
}

// pull fetches every page since the last anchor and applies each in order.
// It returns the number of changes received and the new anchor.
func (o *Orchestrator) pull(ctx context.Context, deviceID string) (int, time.Time, error) {
	previous := o.session.LastSync()
	since := previous
	// Fallback anchor for servers that do not report one, read before the
	// first request so nothing committed during the pull is skipped.
	localAnchor := o.now().UTC()

	var anchor time.Time
	received := 0
	for page := 0; ; page++ {
		if page > 0 {
			if err := ctx.Err(); err != nil {
				return received, time.Time{}, &ConnectivityError{Op: "pull", Err: err}
			}
		}

		rctx, cancel := context.WithTimeout(ctx, o.opts.RequestTimeout)
		resp, err := o.remote.Pull(rctx, hsync.PullRequest{
			Since:    since,
			DeviceID: deviceID,
			Limit:    o.opts.PullLimit,
		})
		cancel()
		if err != nil {
			return received, time.Time{}, classify("pull", err)
		}

		if _, err := o.store.ApplyRemote(ctx, resp.Changes); err != nil {
			return received, time.Time{}, fmt.Errorf("apply remote changes: %w", err)
		}
		received += len(resp.Changes)

		if !resp.ServerTimestamp.IsZero() {
			anchor = resp.ServerTimestamp
		}
		if !resp.HasMore {
			break
		}
		if resp.ServerTimestamp.IsZero() || !resp.ServerTimestamp.After(since) {
			return received, time.Time{}, fmt.Errorf("sync pull: server reported more changes without advancing past %s", since.Format(time.RFC3339Nano))
		}
		since = resp.ServerTimestamp
	}

	if anchor.IsZero() {
		anchor = localAnchor
	}
	if anchor.Before(previous) {
		anchor = previous
	}
	return received, anchor.UTC(), nil
}
