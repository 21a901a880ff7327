// Package serverstore persists the server side of sync: an append-only
// journal of pushed changes, a last-write-wins mirror of every record, and
// the push idempotency cache.
package serverstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/hyperengineering/habitsync/internal/store"
	hsync "github.com/hyperengineering/habitsync/internal/sync"
	"github.com/hyperengineering/habitsync/internal/types"
	"github.com/hyperengineering/habitsync/migrations"
)

// ErrNotFound is returned when a record or meta key does not exist.
var ErrNotFound = errors.New("not found")

// DefaultIdempotencyTTL is how long a push response is replayed for a
// repeated pushId.
const DefaultIdempotencyTTL = 24 * time.Hour

// Store is the SQLite-backed server store.
type Store struct {
	db  *sql.DB
	now func() time.Time

	// mu is held exclusively by Push and shared by Pull, so a pull anchor
	// never precedes a committed change it did not return.
	mu sync.RWMutex

	stampMu   sync.Mutex
	lastStamp int64

	idempotencyTTL time.Duration
	snapshotPath   string
}

// Option configures a Store.
type Option func(*Store)

// WithIdempotencyTTL overrides DefaultIdempotencyTTL.
func WithIdempotencyTTL(ttl time.Duration) Option {
	return func(s *Store) { s.idempotencyTTL = ttl }
}

// WithSnapshotPath sets where GenerateSnapshot writes. Defaults to
// snapshots/current.db next to the database.
func WithSnapshotPath(path string) Option {
	return func(s *Store) { s.snapshotPath = path }
}

// Open opens (creating if needed) the server database at path and applies
// the server migrations.
func Open(path string, opts ...Option) (*Store, error) {
	db, err := store.OpenDB(path)
	if err != nil {
		return nil, err
	}
	if err := store.MigrateFS(db, migrations.ServerFS, "server"); err != nil {
		db.Close()
		return nil, fmt.Errorf("run server migrations: %w", err)
	}

	s := &Store{
		db:             db,
		now:            time.Now,
		idempotencyTTL: DefaultIdempotencyTTL,
		snapshotPath:   filepath.Join(filepath.Dir(path), "snapshots", "current.db"),
	}
	for _, opt := range opts {
		opt(s)
	}

	// Resume the stamper past anything already journaled.
	var last sql.NullInt64
	if err := db.QueryRow(`SELECT MAX(received_at) FROM changes`).Scan(&last); err != nil {
		db.Close()
		return nil, fmt.Errorf("read latest stamp: %w", err)
	}
	s.lastStamp = last.Int64

	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database is usable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// stamp returns a server timestamp strictly greater than every stamp issued
// before it, in unix nanoseconds.
func (s *Store) stamp() int64 {
	s.stampMu.Lock()
	defer s.stampMu.Unlock()

	n := s.now().UnixNano()
	if n <= s.lastStamp {
		n = s.lastStamp + 1
	}
	s.lastStamp = n
	return n
}

func fromStamp(n int64) time.Time {
	return time.Unix(0, n).UTC()
}

// GetMeta returns a server_meta value.
func (s *Store) GetMeta(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM server_meta WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("server meta key %q: %w", key, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("get server meta: %w", err)
	}
	return value, nil
}

// SetMeta upserts a server_meta value.
func (s *Store) SetMeta(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO server_meta (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	if err != nil {
		return fmt.Errorf("set server meta: %w", err)
	}
	return nil
}

// Stats returns journal and mirror counts.
func (s *Store) Stats(ctx context.Context) (*types.ServerStats, error) {
	stats := &types.ServerStats{}

	var latest sql.NullInt64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*), MAX(received_at) FROM changes`).Scan(&stats.ChangeCount, &latest); err != nil {
		return nil, fmt.Errorf("count changes: %w", err)
	}
	if latest.Valid {
		t := fromStamp(latest.Int64)
		stats.LatestChange = &t
	}

	if err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(deleted), 0) FROM entities
	`).Scan(&stats.EntityCount, &stats.DeletedCount); err != nil {
		return nil, fmt.Errorf("count entities: %w", err)
	}

	if v, err := s.GetMeta(ctx, hsync.MetaLastSnapshotAt); err == nil {
		if t, perr := time.Parse(time.RFC3339Nano, v); perr == nil {
			stats.LastSnapshot = &t
		}
	}
	if v, err := s.GetMeta(ctx, hsync.MetaLastSnapshotSize); err == nil {
		fmt.Sscan(v, &stats.SnapshotBytes)
	}

	return stats, nil
}

// SnapshotPath returns the path GenerateSnapshot writes to.
func (s *Store) SnapshotPath() string {
	return s.snapshotPath
}

// GenerateSnapshot writes a consistent copy of the database to the snapshot
// path with VACUUM INTO, replacing any previous snapshot atomically.
func (s *Store) GenerateSnapshot(ctx context.Context) error {
	start := s.now()
	if err := os.MkdirAll(filepath.Dir(s.snapshotPath), 0755); err != nil {
		return fmt.Errorf("create snapshot directory: %w", err)
	}

	tmp := s.snapshotPath + ".tmp"
	os.Remove(tmp)

	if _, err := s.db.ExecContext(ctx, `VACUUM INTO ?`, tmp); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("vacuum into snapshot: %w", err)
	}
	if err := os.Rename(tmp, s.snapshotPath); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replace snapshot: %w", err)
	}

	info, err := os.Stat(s.snapshotPath)
	if err != nil {
		return fmt.Errorf("stat snapshot: %w", err)
	}

	if err := s.SetMeta(ctx, hsync.MetaLastSnapshotAt, s.now().UTC().Format(time.RFC3339Nano)); err != nil {
		return err
	}
	if err := s.SetMeta(ctx, hsync.MetaLastSnapshotSize, fmt.Sprint(info.Size())); err != nil {
		return err
	}

	slog.Info("snapshot generated",
		"component", "serverstore",
		"action", "snapshot_generated",
		"path", s.snapshotPath,
		"size_bytes", info.Size(),
		"duration_ms", s.now().Sub(start).Milliseconds(),
	)
	return nil
}
