package habitsync

import (
	"net/http"
	"time"

	"github.com/hyperengineering/habitsync/internal/store"
	"github.com/hyperengineering/habitsync/internal/syncer"
	"github.com/hyperengineering/habitsync/internal/types"
)

// Config holds the client configuration
type Config struct {
	DataPath     string        // Local database path (required)
	ServerURL    string        // Sync server base URL; empty keeps the client offline
	APIKey       string        // Bearer token for the sync server
	SyncInterval time.Duration // Background sync interval (default: 5 minutes)
	AutoSync     bool          // Run the background sync worker from Start

	PingTimeout        time.Duration
	RequestTimeout     time.Duration
	PushBatchSize      int
	PullLimit          int
	TransparentOffline bool // Return to idle without an error event when offline

	HTTPClient *http.Client // Optional; a client with RequestTimeout is built when nil
}

// Entity types re-exported for host code.
type (
	Kind           = types.Kind
	Entity         = types.Entity
	Record         = types.Record
	Category       = types.Category
	Habit          = types.Habit
	DailyEntry     = types.DailyEntry
	MetricDef      = types.MetricDefinition
	MetricValue    = types.MetricValue
	Exercise       = types.Exercise
	ExerciseLog    = types.ExerciseLog
	StoreStats     = types.StoreStats
	ListFilter     = store.ListFilter
	SyncResult     = syncer.Result
	SyncStatus     = syncer.Status
	SessionState   = syncer.SessionState
	StatusEvent    = syncer.StatusEvent
	ReferentialErr = store.ReferentialError
)

// Entity kinds.
const (
	KindCategory         = types.KindCategory
	KindHabit            = types.KindHabit
	KindDailyEntry       = types.KindDailyEntry
	KindMetricDefinition = types.KindMetricDefinition
	KindMetricValue      = types.KindMetricValue
	KindExercise         = types.KindExercise
	KindExerciseLog      = types.KindExerciseLog
)

// Session statuses.
const (
	StatusIdle      = syncer.StatusIdle
	StatusSyncing   = syncer.StatusSyncing
	StatusCompleted = syncer.StatusCompleted
	StatusError     = syncer.StatusError
)

// Errors callers may test for with errors.Is.
var (
	ErrNotFound       = store.ErrNotFound
	ErrUnknownKind    = store.ErrUnknownKind
	ErrSyncInProgress = syncer.ErrSyncInProgress
)

// IsOffline reports whether err means the server could not be reached.
func IsOffline(err error) bool { return syncer.IsOffline(err) }
