package types

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestHabit_JSONRoundTrip(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)
	cat := int64(3)

	habit := Habit{
		Record: Record{
			ID:        7,
			DeviceID:  "device-a",
			CreatedAt: now,
			UpdatedAt: now,
		},
		Name:        "Read",
		Description: "20 pages",
		CategoryID:  &cat,
		Frequency:   "daily",
		TargetCount: 1,
		IsActive:    true,
	}

	data, err := json.Marshal(habit)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	var decoded Habit
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}

	if decoded.ID != habit.ID {
		t.Errorf("ID: got %d, want %d", decoded.ID, habit.ID)
	}
	if decoded.DeviceID != habit.DeviceID {
		t.Errorf("DeviceID: got %q, want %q", decoded.DeviceID, habit.DeviceID)
	}
	if decoded.CategoryID == nil || *decoded.CategoryID != cat {
		t.Errorf("CategoryID: got %v, want %d", decoded.CategoryID, cat)
	}
	if !decoded.UpdatedAt.Equal(now) {
		t.Errorf("UpdatedAt: got %v, want %v", decoded.UpdatedAt, now)
	}
}

func TestRecord_JSONFieldNames(t *testing.T) {
	entry := DailyEntry{Record: Record{ID: 1, DeviceID: "d"}, HabitID: 2, Date: "2024-03-01"}

	data, err := json.Marshal(entry)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	s := string(data)
	for _, want := range []string{`"id":1`, `"deviceId":"d"`, `"createdAt"`, `"updatedAt"`, `"habitId":2`, `"date":"2024-03-01"`} {
		if !strings.Contains(s, want) {
			t.Errorf("JSON missing %s: %s", want, s)
		}
	}
	if strings.Contains(s, "syncStatus") {
		t.Errorf("empty syncStatus should be omitted: %s", s)
	}
}

func TestHabit_NullCategory(t *testing.T) {
	data, err := json.Marshal(Habit{Name: "Walk"})
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	if !strings.Contains(string(data), `"categoryId":null`) {
		t.Errorf("expected null categoryId, got %s", data)
	}
}

func TestNew_AllKinds(t *testing.T) {
	for _, kind := range Kinds {
		e, err := New(kind)
		if err != nil {
			t.Fatalf("New(%q): %v", kind, err)
		}
		if e.Kind() != kind {
			t.Errorf("New(%q).Kind() = %q", kind, e.Kind())
		}
		if e.Meta() == nil {
			t.Errorf("New(%q).Meta() is nil", kind)
		}
	}
}

func TestNew_UnknownKind(t *testing.T) {
	if _, err := New("journal_notes"); err == nil {
		t.Fatal("expected error for unknown kind")
	}
}

func TestKind_Valid(t *testing.T) {
	if !KindExerciseLog.Valid() {
		t.Error("exercise_logs should be valid")
	}
	if Kind("users").Valid() {
		t.Error("users should not be valid")
	}
}

func TestParseDate(t *testing.T) {
	tests := []struct {
		in      string
		wantErr bool
	}{
		{"2024-02-29", false},
		{"2023-02-29", true},
		{"2024-3-1", true},
		{"", true},
	}
	for _, tt := range tests {
		_, err := ParseDate(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseDate(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
	}
}

func TestFormatDate(t *testing.T) {
	d := time.Date(2024, 1, 5, 23, 0, 0, 0, time.UTC)
	if got := FormatDate(d); got != "2024-01-05" {
		t.Errorf("FormatDate: got %q, want %q", got, "2024-01-05")
	}
}
