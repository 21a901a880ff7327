package types

import (
	"fmt"
	"time"
)

// Kind names an entity table. The kind string is also the table name used on
// the wire and in the change log.
type Kind string

const (
	KindCategory         Kind = "categories"
	KindHabit            Kind = "habits"
	KindDailyEntry       Kind = "daily_entries"
	KindMetricDefinition Kind = "metric_definitions"
	KindMetricValue      Kind = "metric_values"
	KindExercise         Kind = "exercises"
	KindExerciseLog      Kind = "exercise_logs"
)

// Kinds lists every entity kind in parent-before-child order.
var Kinds = []Kind{
	KindCategory,
	KindHabit,
	KindDailyEntry,
	KindMetricDefinition,
	KindMetricValue,
	KindExercise,
	KindExerciseLog,
}

// Valid reports whether k is a known entity kind.
func (k Kind) Valid() bool {
	for _, known := range Kinds {
		if k == known {
			return true
		}
	}
	return false
}

// SyncStatus is derived on read from the outbox. It is never persisted.
type SyncStatus string

const (
	SyncStatusPending SyncStatus = "pending"
	SyncStatusSynced  SyncStatus = "synced"
)

// DateLayout is the calendar date format used by dated entities.
const DateLayout = "2006-01-02"

// FormatDate renders t as a calendar date in its own location.
func FormatDate(t time.Time) string {
	return t.Format(DateLayout)
}

// ParseDate validates a YYYY-MM-DD calendar date.
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: want YYYY-MM-DD", s)
	}
	return t, nil
}

// Record holds the sync metadata every entity carries.
type Record struct {
	ID         int64      `json:"id"`
	DeviceID   string     `json:"deviceId"`
	CreatedAt  time.Time  `json:"createdAt"`
	UpdatedAt  time.Time  `json:"updatedAt"`
	SyncStatus SyncStatus `json:"syncStatus,omitempty"`
}

// Meta returns the record itself so embedding types satisfy Entity.
func (r *Record) Meta() *Record { return r }

// Entity is implemented by every syncable domain type.
type Entity interface {
	Kind() Kind
	Meta() *Record
}

// Category groups habits.
type Category struct {
	Record
	Name     string `json:"name"`
	Color    string `json:"color"`
	Icon     string `json:"icon"`
	IsActive bool   `json:"isActive"`
}

func (*Category) Kind() Kind { return KindCategory }

// Habit is a recurring behaviour the user tracks.
type Habit struct {
	Record
	Name        string `json:"name"`
	Description string `json:"description"`
	CategoryID  *int64 `json:"categoryId"`
	Frequency   string `json:"frequency"`
	TargetCount int64  `json:"targetCount"`
	Color       string `json:"color"`
	IsActive    bool   `json:"isActive"`
}

func (*Habit) Kind() Kind { return KindHabit }

// DailyEntry records a habit's completion for one calendar date.
type DailyEntry struct {
	Record
	HabitID   int64  `json:"habitId"`
	Date      string `json:"date"`
	Completed bool   `json:"completed"`
	Count     int64  `json:"count"`
	Note      string `json:"note"`
}

func (*DailyEntry) Kind() Kind { return KindDailyEntry }

// MetricDefinition describes a measured quantity, optionally tied to a habit.
type MetricDefinition struct {
	Record
	Name      string `json:"name"`
	Unit      string `json:"unit"`
	ValueType string `json:"valueType"`
	HabitID   *int64 `json:"habitId"`
}

func (*MetricDefinition) Kind() Kind { return KindMetricDefinition }

// MetricValue is one observation of a metric on a date.
type MetricValue struct {
	Record
	MetricID int64   `json:"metricId"`
	Date     string  `json:"date"`
	Value    float64 `json:"value"`
	Note     string  `json:"note"`
}

func (*MetricValue) Kind() Kind { return KindMetricValue }

// Exercise is a catalogue entry for workout logging.
type Exercise struct {
	Record
	Name        string `json:"name"`
	MuscleGroup string `json:"muscleGroup"`
	Unit        string `json:"unit"`
	IsActive    bool   `json:"isActive"`
}

func (*Exercise) Kind() Kind { return KindExercise }

// ExerciseLog records one performed exercise.
type ExerciseLog struct {
	Record
	ExerciseID      int64   `json:"exerciseId"`
	Date            string  `json:"date"`
	Sets            int64   `json:"sets"`
	Reps            int64   `json:"reps"`
	Weight          float64 `json:"weight"`
	DurationSeconds int64   `json:"durationSeconds"`
	Note            string  `json:"note"`
}

func (*ExerciseLog) Kind() Kind { return KindExerciseLog }

// New returns a zero value of the entity type for kind.
func New(kind Kind) (Entity, error) {
	switch kind {
	case KindCategory:
		return &Category{}, nil
	case KindHabit:
		return &Habit{}, nil
	case KindDailyEntry:
		return &DailyEntry{}, nil
	case KindMetricDefinition:
		return &MetricDefinition{}, nil
	case KindMetricValue:
		return &MetricValue{}, nil
	case KindExercise:
		return &Exercise{}, nil
	case KindExerciseLog:
		return &ExerciseLog{}, nil
	default:
		return nil, fmt.Errorf("unknown entity kind %q", kind)
	}
}

// StoreStats holds aggregate local store statistics.
type StoreStats struct {
	DeviceID          string         `json:"deviceId"`
	Counts            map[Kind]int64 `json:"counts"`
	PendingChanges    int64          `json:"pendingChanges"`
	LastSyncTimestamp *time.Time     `json:"lastSyncTimestamp,omitempty"`
}

// ServerStats holds aggregate server journal statistics.
type ServerStats struct {
	ChangeCount   int64      `json:"changeCount"`
	EntityCount   int64      `json:"entityCount"`
	DeletedCount  int64      `json:"deletedCount"`
	LatestChange  *time.Time `json:"latestChange,omitempty"`
	LastSnapshot  *time.Time `json:"lastSnapshot,omitempty"`
	SnapshotBytes int64      `json:"snapshotBytes,omitempty"`
}

// PingResponse is returned by the server's liveness endpoint.
type PingResponse struct {
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
}
