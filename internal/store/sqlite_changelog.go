package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	sq "github.com/Masterminds/squirrel"
	hsync "github.com/hyperengineering/habitsync/internal/sync"
)

// SettingLastSyncTimestamp holds the pull anchor of the last successful
// sync cycle, RFC3339Nano.
const SettingLastSyncTimestamp = "last_sync_timestamp"

// markSyncedChunk bounds the IN list of a single MarkSynced statement.
const markSyncedChunk = 500

const insertChangeLogSQL = `
	INSERT INTO change_log (table_name, record_id, operation, data, device_id, timestamp)
	VALUES (?, ?, ?, ?, ?, ?)`

// execContext is satisfied by both *sql.DB and *sql.Tx.
type execContext interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// changeLogArgs returns the SQL arguments for inserting a ChangeLogEntry.
func changeLogArgs(e *hsync.ChangeLogEntry) []any {
	return []any{
		e.TableName, e.RecordID, string(e.Operation),
		nullableData(e.Data), e.DeviceID,
		e.Timestamp.UTC().Format(timeLayout),
	}
}

// appendChangeLog appends one entry on execer, normally the transaction of
// the entity write it records. Returns the assigned outbox id.
func appendChangeLog(ctx context.Context, execer execContext, entry hsync.ChangeLogEntry) (int64, error) {
	if !entry.Operation.Valid() {
		return 0, fmt.Errorf("append change log: invalid operation %q", entry.Operation)
	}
	result, err := execer.ExecContext(ctx, insertChangeLogSQL, changeLogArgs(&entry)...)
	if err != nil {
		return 0, storageErr("append change log", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, storageErr("append change log", err)
	}
	return id, nil
}

// AppendChangeLog appends a single entry outside of an entity write.
// Missing device ids and timestamps are filled in. Returns the outbox id.
func (s *SQLiteStore) AppendChangeLog(ctx context.Context, entry hsync.ChangeLogEntry) (int64, error) {
	if entry.DeviceID == "" {
		entry.DeviceID = s.DeviceID()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = s.now().UTC()
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return appendChangeLog(ctx, s.db, entry)
}

// PendingChanges returns every unacknowledged entry in the order it was
// recorded.
func (s *SQLiteStore) PendingChanges(ctx context.Context) ([]hsync.ChangeLogEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, table_name, record_id, operation, data, device_id, timestamp
		FROM change_log
		ORDER BY id ASC
	`)
	if err != nil {
		return nil, storageErr("query change log", err)
	}
	defer rows.Close()

	var entries []hsync.ChangeLogEntry
	for rows.Next() {
		var e hsync.ChangeLogEntry
		var op, ts string
		var data sql.NullString
		if err := rows.Scan(&e.ID, &e.TableName, &e.RecordID, &op, &data, &e.DeviceID, &ts); err != nil {
			return nil, storageErr("scan change log", err)
		}
		e.Operation = hsync.Operation(op)
		if data.Valid {
			e.Data = json.RawMessage(data.String)
		}
		e.Timestamp, err = time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			slog.Warn("change_log: failed to parse timestamp",
				"component", "store",
				"id", e.ID,
				"value", ts,
				"error", err,
			)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("iterate change log", err)
	}
	return entries, nil
}

// PendingCount returns the number of unacknowledged entries.
func (s *SQLiteStore) PendingCount(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM change_log`).Scan(&n); err != nil {
		return 0, storageErr("count change log", err)
	}
	return n, nil
}

// MarkSynced removes acknowledged entries. Ids that are already gone are
// ignored, so a repeated call is harmless. Returns the rows removed.
func (s *SQLiteStore) MarkSynced(ctx context.Context, ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, storageErr("begin mark synced", err)
	}
	defer tx.Rollback()

	var removed int64
	for start := 0; start < len(ids); start += markSyncedChunk {
		end := min(start+markSyncedChunk, len(ids))

		query, args, err := sq.Delete("change_log").Where(sq.Eq{"id": ids[start:end]}).ToSql()
		if err != nil {
			return 0, fmt.Errorf("build mark synced query: %w", err)
		}
		result, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return 0, storageErr("mark synced", err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return 0, storageErr("mark synced", err)
		}
		removed += n
	}

	if err := tx.Commit(); err != nil {
		return 0, storageErr("commit mark synced", err)
	}
	return removed, nil
}

// GetSetting retrieves a setting. ok is false when the key is unset.
func (s *SQLiteStore) GetSetting(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, storageErr("get setting", err)
	}
	return value, true, nil
}

// SetSetting stores a setting, replacing any previous value.
func (s *SQLiteStore) SetSetting(ctx context.Context, key, value string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO settings (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	if err != nil {
		return storageErr("set setting", err)
	}
	return nil
}

// LastSyncTimestamp returns the persisted pull anchor, or the zero time
// before the first successful sync.
func (s *SQLiteStore) LastSyncTimestamp(ctx context.Context) (time.Time, error) {
	value, ok, err := s.GetSetting(ctx, SettingLastSyncTimestamp)
	if err != nil || !ok {
		return time.Time{}, err
	}
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse %s %q: %w", SettingLastSyncTimestamp, value, err)
	}
	return t, nil
}

// SetLastSyncTimestamp persists the pull anchor.
func (s *SQLiteStore) SetLastSyncTimestamp(ctx context.Context, t time.Time) error {
	return s.SetSetting(ctx, SettingLastSyncTimestamp, t.UTC().Format(time.RFC3339Nano))
}

// nullableData converts a json.RawMessage to a sql-friendly value.
// Returns nil for empty/null payloads, string otherwise.
func nullableData(p json.RawMessage) any {
	if isNullJSON(p) {
		return nil
	}
	return string(p)
}
