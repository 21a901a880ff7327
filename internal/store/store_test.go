package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/hyperengineering/habitsync/internal/device"
	"github.com/hyperengineering/habitsync/internal/types"
)

// The local store doubles as the device identity's settings backend.
var _ device.Settings = (*SQLiteStore)(nil)

// newTestStore opens a store in a temp directory.
func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "habits.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func mustPut(t *testing.T, s *SQLiteStore, e types.Entity) types.Entity {
	t.Helper()
	got, err := s.Put(context.Background(), e)
	if err != nil {
		t.Fatalf("Put %s: %v", e.Kind(), err)
	}
	return got
}

func seedHabit(t *testing.T, s *SQLiteStore, name string) *types.Habit {
	t.Helper()
	return mustPut(t, s, &types.Habit{Name: name, Frequency: "daily", TargetCount: 1}).(*types.Habit)
}

func int64Ptr(v int64) *int64 { return &v }
