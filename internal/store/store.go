package store

import (
	"context"
	"time"

	hsync "github.com/hyperengineering/habitsync/internal/sync"
	"github.com/hyperengineering/habitsync/internal/types"
)

// Store defines the interface contract for the per-device entity store.
type Store interface {
	DeviceID() string
	Get(ctx context.Context, kind types.Kind, id int64) (types.Entity, error)
	List(ctx context.Context, kind types.Kind, filter ListFilter) ([]types.Entity, error)
	Put(ctx context.Context, e types.Entity) (types.Entity, error)
	Delete(ctx context.Context, kind types.Kind, id int64) error
	ApplyRemote(ctx context.Context, changes []hsync.ServerChange) (int, error)
	Stats(ctx context.Context) (*types.StoreStats, error)
	ResetLocalData(ctx context.Context) (string, error)
	Close() error

	Outbox
	Settings
}

// Outbox is the change log surface the sync orchestrator drains.
type Outbox interface {
	AppendChangeLog(ctx context.Context, entry hsync.ChangeLogEntry) (int64, error)
	PendingChanges(ctx context.Context) ([]hsync.ChangeLogEntry, error)
	PendingCount(ctx context.Context) (int64, error)
	MarkSynced(ctx context.Context, ids []int64) (int64, error)
}

// Settings is the local key/value surface, device identity and the pull
// anchor included.
type Settings interface {
	GetSetting(ctx context.Context, key string) (string, bool, error)
	SetSetting(ctx context.Context, key, value string) error
	LastSyncTimestamp(ctx context.Context) (time.Time, error)
	SetLastSyncTimestamp(ctx context.Context, t time.Time) error
}

var _ Store = (*SQLiteStore)(nil)
