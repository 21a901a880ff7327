package store

import (
	"errors"
	"fmt"

	"github.com/hyperengineering/habitsync/internal/types"
)

var (
	ErrNotFound      = errors.New("record not found")
	ErrUnknownKind   = errors.New("unknown entity kind")
	ErrInvalidFilter = errors.New("filter not supported for kind")
)

// ReferentialError reports a foreign key that points at a missing row, or a
// delete blocked by rows that still reference the target.
type ReferentialError struct {
	Table    types.Kind
	Column   string
	RefTable types.Kind
	RefID    int64

	// Dependents is non-zero when a delete was blocked.
	Dependents int64
}

func (e *ReferentialError) Error() string {
	if e.Dependents > 0 {
		return fmt.Sprintf("%s %d is referenced by %d %s rows (%s)", e.RefTable, e.RefID, e.Dependents, e.Table, e.Column)
	}
	if e.RefID == 0 {
		return fmt.Sprintf("%s.%s is required", e.Table, e.Column)
	}
	return fmt.Sprintf("%s.%s references missing %s %d", e.Table, e.Column, e.RefTable, e.RefID)
}

// StorageError wraps a failure of the underlying database.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

func storageErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Op: op, Err: err}
}
