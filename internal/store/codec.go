package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/hyperengineering/habitsync/internal/schema"
	"github.com/hyperengineering/habitsync/internal/types"
)

// timeLayout is the on-disk format of every timestamp column.
const timeLayout = time.RFC3339Nano

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// cloneEntity returns a deep copy of e made through its JSON form.
func cloneEntity(e types.Entity) (types.Entity, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", e.Kind(), err)
	}
	c, err := types.New(e.Kind())
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("copy %s: %w", e.Kind(), err)
	}
	return c, nil
}

// snapshotOf renders an entity as its JSON snapshot map.
func snapshotOf(e types.Entity) (map[string]any, error) {
	raw, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", e.Kind(), err)
	}
	return decodeSnapshot(raw)
}

// decodeSnapshot parses a JSON object, keeping numbers exact.
func decodeSnapshot(raw []byte) (map[string]any, error) {
	if isNullJSON(raw) {
		return nil, fmt.Errorf("empty snapshot")
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var snap map[string]any
	if err := dec.Decode(&snap); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	if snap == nil {
		return nil, fmt.Errorf("snapshot is not an object")
	}
	return snap, nil
}

func isNullJSON(raw []byte) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

// columnValue converts one snapshot value into the SQL argument for c.
func columnValue(c schema.Column, v any) (any, error) {
	if v == nil {
		if c.Nullable {
			return nil, nil
		}
		switch c.Type {
		case schema.Int, schema.Bool:
			return int64(0), nil
		case schema.Real:
			return float64(0), nil
		case schema.Text:
			return "", nil
		default:
			return nil, fmt.Errorf("%s: required", c.Field)
		}
	}

	switch c.Type {
	case schema.Int:
		n, ok := asInt64(v)
		if !ok {
			return nil, fmt.Errorf("%s: want integer, got %v", c.Field, v)
		}
		if n == 0 && c.Ref != "" && c.Nullable {
			return nil, nil
		}
		return n, nil

	case schema.Real:
		f, ok := asFloat64(v)
		if !ok {
			return nil, fmt.Errorf("%s: want number, got %v", c.Field, v)
		}
		return f, nil

	case schema.Text:
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("%s: want string, got %T", c.Field, v)
		}
		return s, nil

	case schema.Bool:
		switch b := v.(type) {
		case bool:
			if b {
				return int64(1), nil
			}
			return int64(0), nil
		default:
			n, ok := asInt64(v)
			if !ok {
				return nil, fmt.Errorf("%s: want boolean, got %v", c.Field, v)
			}
			if n != 0 {
				return int64(1), nil
			}
			return int64(0), nil
		}

	case schema.Time:
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("%s: want timestamp string, got %T", c.Field, v)
		}
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", c.Field, err)
		}
		return t.UTC().Format(timeLayout), nil
	}

	return nil, fmt.Errorf("%s: unsupported column type %d", c.Field, c.Type)
}

// snapshotValue converts one scanned SQL value back into its JSON form.
func snapshotValue(c schema.Column, v any) any {
	if v == nil {
		return nil
	}
	switch c.Type {
	case schema.Int:
		if n, ok := asInt64(v); ok {
			return n
		}
	case schema.Real:
		if f, ok := asFloat64(v); ok {
			return f
		}
	case schema.Bool:
		if n, ok := asInt64(v); ok {
			return n != 0
		}
	case schema.Text, schema.Time:
		switch s := v.(type) {
		case string:
			return s
		case []byte:
			return string(s)
		}
	}
	return v
}

// scanEntity reads one row selected by selectEntities into a typed entity.
func scanEntity(ts schema.TableSchema, row rowScanner) (types.Entity, error) {
	values := make([]any, len(ts.Columns)+1)
	dest := make([]any, len(values))
	for i := range values {
		dest[i] = &values[i]
	}
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}

	snap := make(map[string]any, len(ts.Columns))
	for i, c := range ts.Columns {
		snap[c.Field] = snapshotValue(c, values[i])
	}

	raw, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("marshal %s row: %w", ts.Kind, err)
	}
	e, err := types.New(ts.Kind)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(raw, e); err != nil {
		return nil, fmt.Errorf("decode %s row: %w", ts.Kind, err)
	}

	e.Meta().SyncStatus = types.SyncStatusSynced
	if pending, ok := asInt64(values[len(values)-1]); ok && pending != 0 {
		e.Meta().SyncStatus = types.SyncStatusPending
	}
	return e, nil
}

// snapshotID returns the "id" field of a snapshot, 0 when absent.
func snapshotID(snap map[string]any) (int64, error) {
	v, ok := snap[schema.FieldID]
	if !ok || v == nil {
		return 0, nil
	}
	id, ok := asInt64(v)
	if !ok {
		return 0, fmt.Errorf("id: want integer, got %v", v)
	}
	return id, nil
}

func asInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case float64:
		if n != math.Trunc(n) {
			return 0, false
		}
		return int64(n), true
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i, true
		}
		f, err := n.Float64()
		if err != nil || f != math.Trunc(f) {
			return 0, false
		}
		return int64(f), true
	case string:
		i, err := strconv.ParseInt(n, 10, 64)
		return i, err == nil
	}
	return 0, false
}

func asFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int64:
		return float64(n), true
	case int:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}
