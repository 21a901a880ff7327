// Package habitsync is the host-facing client of the habit sync core: a
// local store that works offline, and a background worker that keeps it in
// step with a sync server.
package habitsync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/hyperengineering/habitsync/internal/store"
	"github.com/hyperengineering/habitsync/internal/syncer"
	"github.com/hyperengineering/habitsync/internal/types"
	"github.com/hyperengineering/habitsync/internal/worker"
)

// ErrClosed is returned by every method after Shutdown.
var ErrClosed = errors.New("habitsync: client is closed")

// Client owns one device's local store and sync session.
type Client struct {
	config Config
	store  *store.SQLiteStore
	orch   *syncer.Orchestrator
	worker *worker.SyncWorker

	// life ends at Shutdown and cancels every cycle still running.
	life     context.Context
	stop     context.CancelFunc
	inflight sync.WaitGroup

	mu       sync.RWMutex
	closed   bool
	started  bool
	cancel   context.CancelFunc
	workerWG sync.WaitGroup
}

// New opens the local store at config.DataPath and restores the persisted
// pull anchor. Nothing touches the network until Start or SyncNow.
func New(config Config) (*Client, error) {
	if config.DataPath == "" {
		return nil, errors.New("habitsync: DataPath is required")
	}
	if config.SyncInterval <= 0 {
		config.SyncInterval = 5 * time.Minute
	}

	st, err := store.NewSQLiteStore(config.DataPath)
	if err != nil {
		return nil, err
	}

	lastSync, err := st.LastSyncTimestamp(context.Background())
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("read last sync timestamp: %w", err)
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		timeout := config.RequestTimeout
		if timeout <= 0 {
			timeout = syncer.DefaultRequestTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	orch := syncer.New(
		st,
		syncer.NewHTTPRemote(config.ServerURL, config.APIKey, httpClient),
		syncer.NewSession(lastSync),
		syncer.Options{
			PingTimeout:        config.PingTimeout,
			RequestTimeout:     config.RequestTimeout,
			PushBatchSize:      config.PushBatchSize,
			PullLimit:          config.PullLimit,
			TransparentOffline: config.TransparentOffline,
		},
	)

	life, stop := context.WithCancel(context.Background())
	return &Client{
		config: config,
		store:  st,
		orch:   orch,
		worker: worker.NewSyncWorker(orch, config.SyncInterval),
		life:   life,
		stop:   stop,
	}, nil
}

// Start launches the background sync worker when AutoSync is set. It
// returns immediately; the worker stops on Shutdown or when ctx ends.
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	if c.started || !c.config.AutoSync {
		return nil
	}
	c.started = true

	ctx, c.cancel = context.WithCancel(ctx)
	c.workerWG.Add(1)
	go func() {
		defer c.workerWG.Done()
		c.worker.Run(ctx)
	}()

	slog.Info("client started",
		"component", "habitsync",
		"device_id", c.store.DeviceID(),
		"server_url", c.config.ServerURL,
		"sync_interval", c.config.SyncInterval.String(),
	)
	return nil
}

// Shutdown cancels any running cycle, stops the worker, waits for both to
// return, and closes the store. Pending changes stay in the outbox for the
// next run.
func (c *Client) Shutdown() error {
	c.stop()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	cancel := c.cancel
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	c.workerWG.Wait()
	c.inflight.Wait()

	return c.store.Close()
}

func (c *Client) check() error {
	if c.closed {
		return ErrClosed
	}
	return nil
}

// DeviceID returns the identifier stamped on this device's changes.
func (c *Client) DeviceID() string {
	return c.store.DeviceID()
}

// Put inserts e when its ID is zero, otherwise updates it. The returned
// entity carries the assigned id and timestamps.
func (c *Client) Put(ctx context.Context, e Entity) (Entity, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if err := c.check(); err != nil {
		return nil, err
	}
	return c.store.Put(ctx, e)
}

// Get returns the entity, or nil when it does not exist.
func (c *Client) Get(ctx context.Context, kind Kind, id int64) (Entity, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if err := c.check(); err != nil {
		return nil, err
	}
	return c.store.Get(ctx, kind, id)
}

// List returns the entities of kind matching filter.
func (c *Client) List(ctx context.Context, kind Kind, filter ListFilter) ([]Entity, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if err := c.check(); err != nil {
		return nil, err
	}
	return c.store.List(ctx, kind, filter)
}

// Delete removes the entity, or deactivates it for soft-delete kinds.
func (c *Client) Delete(ctx context.Context, kind Kind, id int64) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if err := c.check(); err != nil {
		return err
	}
	return c.store.Delete(ctx, kind, id)
}

// HabitsFor returns the active habits of a category, or every active habit
// when categoryID is zero.
func (c *Client) HabitsFor(ctx context.Context, categoryID int64) ([]*Habit, error) {
	entities, err := c.List(ctx, types.KindHabit, ListFilter{CategoryID: categoryID})
	if err != nil {
		return nil, err
	}
	habits := make([]*Habit, 0, len(entities))
	for _, e := range entities {
		habits = append(habits, e.(*Habit))
	}
	return habits, nil
}

// EntriesBetween returns the daily entries of a habit dated from..to
// inclusive, in date order.
func (c *Client) EntriesBetween(ctx context.Context, habitID int64, from, to time.Time) ([]*DailyEntry, error) {
	entities, err := c.List(ctx, types.KindDailyEntry, ListFilter{
		HabitID:     habitID,
		From:        types.FormatDate(from),
		To:          types.FormatDate(to),
		OrderByDate: true,
	})
	if err != nil {
		return nil, err
	}
	entries := make([]*DailyEntry, 0, len(entities))
	for _, e := range entities {
		entries = append(entries, e.(*DailyEntry))
	}
	return entries, nil
}

// SyncNow runs a cycle in the caller's goroutine. If a cycle is already
// running it returns ErrSyncInProgress at once. The cycle is cancelled when
// ctx ends or the client shuts down.
func (c *Client) SyncNow(ctx context.Context) (SyncResult, error) {
	c.mu.RLock()
	if err := c.check(); err != nil {
		c.mu.RUnlock()
		return SyncResult{}, err
	}
	c.inflight.Add(1)
	c.mu.RUnlock()
	defer c.inflight.Done()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer context.AfterFunc(c.life, cancel)()

	return c.orch.Sync(ctx)
}

// Nudge asks the background worker for a cycle soon, typically when the
// host sees connectivity return. It is a no-op unless the worker runs.
func (c *Client) Nudge() {
	c.worker.Nudge()
}

// Subscribe returns a channel of session status events and a func that
// closes it. Slow subscribers miss events; State is always current.
func (c *Client) Subscribe(buffer int) (<-chan StatusEvent, func()) {
	return c.orch.Session().Subscribe(buffer)
}

// Status returns the current session status.
func (c *Client) Status() SyncStatus {
	return c.orch.Status()
}

// State returns a snapshot of the sync session.
func (c *Client) State() SessionState {
	return c.orch.Session().State()
}

// Pending returns the number of local changes not yet acknowledged by the
// server.
func (c *Client) Pending(ctx context.Context) (int64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if err := c.check(); err != nil {
		return 0, err
	}
	return c.store.PendingCount(ctx)
}

// Stats returns per-kind row counts and the outbox depth.
func (c *Client) Stats(ctx context.Context) (*StoreStats, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if err := c.check(); err != nil {
		return nil, err
	}
	return c.store.Stats(ctx)
}

// ResetLocalData waits for any running cycle, then wipes every entity, the
// outbox and the pull anchor, and assigns a new device id, which it
// returns. Unsynced changes are lost.
func (c *Client) ResetLocalData(ctx context.Context) (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if err := c.check(); err != nil {
		return "", err
	}

	var id string
	err := c.orch.Reset(ctx, func(ctx context.Context) error {
		var err error
		id, err = c.store.ResetLocalData(ctx)
		return err
	})
	if err != nil {
		return "", err
	}

	slog.Warn("local data reset",
		"component", "habitsync",
		"device_id", id,
	)
	return id, nil
}
