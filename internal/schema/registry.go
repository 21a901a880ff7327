package schema

import (
	"github.com/hyperengineering/habitsync/internal/types"
)

var schemas = map[types.Kind]TableSchema{
	types.KindCategory: {
		Kind: types.KindCategory,
		Columns: base(
			Column{Name: "name", Field: "name", Type: Text},
			Column{Name: "color", Field: "color", Type: Text},
			Column{Name: "icon", Field: "icon", Type: Text},
			Column{Name: ColumnIsActive, Field: FieldIsActive, Type: Bool},
		),
		SoftDelete: true,
	},
	types.KindHabit: {
		Kind: types.KindHabit,
		Columns: base(
			Column{Name: "name", Field: "name", Type: Text},
			Column{Name: "description", Field: "description", Type: Text},
			Column{Name: "category_id", Field: "categoryId", Type: Int, Nullable: true, Ref: types.KindCategory},
			Column{Name: "frequency", Field: "frequency", Type: Text},
			Column{Name: "target_count", Field: "targetCount", Type: Int},
			Column{Name: "color", Field: "color", Type: Text},
			Column{Name: ColumnIsActive, Field: FieldIsActive, Type: Bool},
		),
		SoftDelete: true,
	},
	types.KindDailyEntry: {
		Kind: types.KindDailyEntry,
		Columns: base(
			Column{Name: "habit_id", Field: "habitId", Type: Int, Ref: types.KindHabit},
			Column{Name: ColumnDate, Field: "date", Type: Text},
			Column{Name: "completed", Field: "completed", Type: Bool},
			Column{Name: "count", Field: "count", Type: Int},
			Column{Name: "note", Field: "note", Type: Text},
		),
	},
	types.KindMetricDefinition: {
		Kind: types.KindMetricDefinition,
		Columns: base(
			Column{Name: "name", Field: "name", Type: Text},
			Column{Name: "unit", Field: "unit", Type: Text},
			Column{Name: "value_type", Field: "valueType", Type: Text},
			Column{Name: "habit_id", Field: "habitId", Type: Int, Nullable: true, Ref: types.KindHabit},
		),
	},
	types.KindMetricValue: {
		Kind: types.KindMetricValue,
		Columns: base(
			Column{Name: "metric_id", Field: "metricId", Type: Int, Ref: types.KindMetricDefinition},
			Column{Name: ColumnDate, Field: "date", Type: Text},
			Column{Name: "value", Field: "value", Type: Real},
			Column{Name: "note", Field: "note", Type: Text},
		),
	},
	types.KindExercise: {
		Kind: types.KindExercise,
		Columns: base(
			Column{Name: "name", Field: "name", Type: Text},
			Column{Name: "muscle_group", Field: "muscleGroup", Type: Text},
			Column{Name: "unit", Field: "unit", Type: Text},
			Column{Name: ColumnIsActive, Field: FieldIsActive, Type: Bool},
		),
		SoftDelete: true,
	},
	types.KindExerciseLog: {
		Kind: types.KindExerciseLog,
		Columns: base(
			Column{Name: "exercise_id", Field: "exerciseId", Type: Int, Ref: types.KindExercise},
			Column{Name: ColumnDate, Field: "date", Type: Text},
			Column{Name: "sets", Field: "sets", Type: Int},
			Column{Name: "reps", Field: "reps", Type: Int},
			Column{Name: "weight", Field: "weight", Type: Real},
			Column{Name: "duration_seconds", Field: "durationSeconds", Type: Int},
			Column{Name: "note", Field: "note", Type: Text},
		),
	},
}

// Get returns the schema for kind.
func Get(kind types.Kind) (TableSchema, bool) {
	s, ok := schemas[kind]
	return s, ok
}

// All returns every schema in parent-before-child order.
func All() []TableSchema {
	out := make([]TableSchema, 0, len(types.Kinds))
	for _, k := range types.Kinds {
		out = append(out, schemas[k])
	}
	return out
}

// Dependent is a child table column that references a parent kind.
type Dependent struct {
	Schema TableSchema
	Column Column
}

// Dependents returns the columns in other tables that reference parent.
func Dependents(parent types.Kind) []Dependent {
	var deps []Dependent
	for _, s := range All() {
		for _, c := range s.References() {
			if c.Ref == parent {
				deps = append(deps, Dependent{Schema: s, Column: c})
			}
		}
	}
	return deps
}
