// Package schema declares the SQL layout of each syncable entity table.
// The store builds parameterized SQL from these declarations at runtime, so
// every entity kind shares one write path, one read path and one replay path.
package schema

import (
	"github.com/hyperengineering/habitsync/internal/types"
)

// ColumnType selects the conversion between JSON snapshot values and SQL.
type ColumnType int

const (
	Int ColumnType = iota
	Real
	Text
	Bool
	Time
)

// Column maps one SQL column to one JSON snapshot field.
type Column struct {
	// Name is the SQL column name.
	Name string

	// Field is the JSON key in the entity snapshot.
	Field string

	Type ColumnType

	// Nullable columns store NULL for absent or null snapshot fields.
	// Non-nullable columns store the type's zero value instead.
	Nullable bool

	// Ref names the parent kind when the column is a foreign key.
	Ref types.Kind
}

// TableSchema declares the structure of an entity table.
type TableSchema struct {
	// Kind is also the SQL table name (must match the migration).
	Kind types.Kind

	// Columns lists every column, starting with "id".
	Columns []Column

	// SoftDelete indicates whether Delete clears is_active instead of
	// removing the row.
	SoftDelete bool
}

// Base columns carried by every entity table.
const (
	ColumnID        = "id"
	ColumnDeviceID  = "device_id"
	ColumnCreatedAt = "created_at"
	ColumnUpdatedAt = "updated_at"
	ColumnIsActive  = "is_active"
	ColumnDate      = "date"
)

// Snapshot fields the store rewrites during local writes.
const (
	FieldID        = "id"
	FieldDeviceID  = "deviceId"
	FieldCreatedAt = "createdAt"
	FieldUpdatedAt = "updatedAt"
	FieldIsActive  = "isActive"
)

// Table returns the SQL table name.
func (s TableSchema) Table() string { return string(s.Kind) }

// ColumnNames returns the SQL column names in declaration order.
func (s TableSchema) ColumnNames() []string {
	names := make([]string, len(s.Columns))
	for i, c := range s.Columns {
		names[i] = c.Name
	}
	return names
}

// Column looks up a column by SQL name.
func (s TableSchema) Column(name string) (Column, bool) {
	for _, c := range s.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

// HasColumn reports whether the table declares the named column.
func (s TableSchema) HasColumn(name string) bool {
	_, ok := s.Column(name)
	return ok
}

// References returns the foreign key columns.
func (s TableSchema) References() []Column {
	var refs []Column
	for _, c := range s.Columns {
		if c.Ref != "" {
			refs = append(refs, c)
		}
	}
	return refs
}

func base(cols ...Column) []Column {
	out := []Column{{Name: ColumnID, Field: FieldID, Type: Int}}
	out = append(out, cols...)
	return append(out,
		Column{Name: ColumnDeviceID, Field: FieldDeviceID, Type: Text},
		Column{Name: ColumnCreatedAt, Field: FieldCreatedAt, Type: Time},
		Column{Name: ColumnUpdatedAt, Field: FieldUpdatedAt, Type: Time},
	)
}
