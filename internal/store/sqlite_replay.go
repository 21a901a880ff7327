package store

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/hyperengineering/habitsync/internal/schema"
	hsync "github.com/hyperengineering/habitsync/internal/sync"
	"github.com/hyperengineering/habitsync/internal/types"
)

// ApplyRemote applies pulled changes in order inside one transaction and
// never appends to the change log. Each upsert overwrites the local row with
// the remote snapshot, timestamps included, so applying the same changes
// twice leaves the store unchanged. Changes for unknown tables or with
// unusable payloads are skipped and logged. Returns the number applied.
func (s *SQLiteStore) ApplyRemote(ctx context.Context, changes []hsync.ServerChange) (int, error) {
	if len(changes) == 0 {
		return 0, nil
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, storageErr("begin apply remote", err)
	}
	defer tx.Rollback()

	applied := 0
	for i := range changes {
		c := &changes[i]

		ts, ok := schema.Get(types.Kind(c.TableName))
		if !ok {
			slog.Warn("skipping remote change for unknown table",
				"component", "store",
				"action", "apply_remote",
				"table", c.TableName,
				"record_id", c.RecordID,
			)
			continue
		}

		switch c.Operation {
		case hsync.OperationInsert, hsync.OperationUpdate:
			err = replayUpsert(ctx, tx, ts, c)
		case hsync.OperationDelete:
			err = replayDelete(ctx, tx, ts, c)
		default:
			err = &payloadError{msg: fmt.Sprintf("unknown operation %q", c.Operation)}
		}

		if pe, ok := err.(*payloadError); ok {
			slog.Warn("skipping malformed remote change",
				"component", "store",
				"action", "apply_remote",
				"table", c.TableName,
				"record_id", c.RecordID,
				"device_id", c.DeviceID,
				"error", pe.msg,
			)
			continue
		}
		if err != nil {
			return 0, fmt.Errorf("apply %s %s %d: %w", c.Operation, c.TableName, c.RecordID, err)
		}
		applied++
	}

	if err := tx.Commit(); err != nil {
		return 0, storageErr("commit apply remote", err)
	}
	return applied, nil
}

// payloadError marks a remote change whose content cannot be applied. It
// is skipped rather than failing the whole page.
type payloadError struct{ msg string }

func (e *payloadError) Error() string { return e.msg }

// remoteSnapshot decodes a change's data and reconciles its id with the
// change's record id.
func remoteSnapshot(c *hsync.ServerChange) (map[string]any, error) {
	if c.RecordID <= 0 {
		return nil, &payloadError{msg: fmt.Sprintf("invalid record id %d", c.RecordID)}
	}
	snap, err := decodeSnapshot(c.Data)
	if err != nil {
		return nil, &payloadError{msg: err.Error()}
	}

	id, err := snapshotID(snap)
	if err != nil {
		return nil, &payloadError{msg: err.Error()}
	}
	switch {
	case id == 0:
		snap[schema.FieldID] = c.RecordID
	case id != c.RecordID:
		return nil, &payloadError{msg: fmt.Sprintf("payload id %d does not match record id %d", id, c.RecordID)}
	}
	return snap, nil
}

func replayUpsert(ctx context.Context, execer execContext, ts schema.TableSchema, c *hsync.ServerChange) error {
	snap, err := remoteSnapshot(c)
	if err != nil {
		return err
	}
	// Inserts of soft-delete kinds default to active, as local puts do.
	if ts.SoftDelete && c.Operation == hsync.OperationInsert {
		if _, ok := snap[schema.FieldIsActive]; !ok {
			snap[schema.FieldIsActive] = true
		}
	}
	if _, err := upsertRow(ctx, execer, ts, snap); err != nil {
		if _, ok := err.(*StorageError); ok {
			return err
		}
		return &payloadError{msg: err.Error()}
	}
	return nil
}

// replayDelete removes or deactivates the row. A delete for a row this
// device never had is a no-op.
func replayDelete(ctx context.Context, q queryer, ts schema.TableSchema, c *hsync.ServerChange) error {
	if !ts.SoftDelete {
		if _, err := q.ExecContext(ctx, "DELETE FROM "+ts.Table()+" WHERE id = ?", c.RecordID); err != nil {
			return storageErr("delete "+ts.Table(), err)
		}
		return nil
	}

	existing, err := getEntity(ctx, q, ts, c.RecordID)
	if err != nil {
		return err
	}
	if existing == nil {
		return nil
	}

	if isNullJSON(c.Data) {
		_, err := q.ExecContext(ctx,
			"UPDATE "+ts.Table()+" SET is_active = 0 WHERE id = ?", c.RecordID)
		if err != nil {
			return storageErr("deactivate "+ts.Table(), err)
		}
		return nil
	}

	snap, err := remoteSnapshot(c)
	if err != nil {
		return err
	}
	snap[schema.FieldIsActive] = false
	if _, err := upsertRow(ctx, q, ts, snap); err != nil {
		if _, ok := err.(*StorageError); ok {
			return err
		}
		return &payloadError{msg: err.Error()}
	}
	return nil
}

// upsertRow writes snap into the table. An id of 0 inserts a new row and
// returns the assigned id. Otherwise it uses INSERT ... ON CONFLICT(id) DO
// UPDATE so the row is overwritten in place.
func upsertRow(ctx context.Context, execer execContext, ts schema.TableSchema, snap map[string]any) (int64, error) {
	id, err := snapshotID(snap)
	if err != nil {
		return 0, err
	}

	cols := make([]string, 0, len(ts.Columns))
	placeholders := make([]string, 0, len(ts.Columns))
	updateClauses := make([]string, 0, len(ts.Columns))
	args := make([]any, 0, len(ts.Columns))

	for _, c := range ts.Columns {
		if c.Name == schema.ColumnID {
			if id == 0 {
				continue
			}
			cols = append(cols, c.Name)
			placeholders = append(placeholders, "?")
			args = append(args, id)
			continue
		}

		v, err := columnValue(c, snap[c.Field])
		if err != nil {
			return 0, fmt.Errorf("%s: %w", ts.Kind, err)
		}
		cols = append(cols, c.Name)
		placeholders = append(placeholders, "?")
		args = append(args, v)
		updateClauses = append(updateClauses, fmt.Sprintf("%s = excluded.%s", c.Name, c.Name))
	}

	sqlStr := fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s)",
		ts.Table(),
		strings.Join(cols, ", "),
		strings.Join(placeholders, ", "),
	)
	if id != 0 {
		sqlStr += " ON CONFLICT(id) DO UPDATE SET " + strings.Join(updateClauses, ", ")
	}

	result, err := execer.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return 0, storageErr("upsert "+ts.Table(), err)
	}
	if id != 0 {
		return id, nil
	}

	id, err = result.LastInsertId()
	if err != nil {
		return 0, storageErr("upsert "+ts.Table(), err)
	}
	return id, nil
}
