package serverstore

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
	"github.com/hyperengineering/habitsync/internal/types"
)

// Push journals req.Changes in order, each under a fresh server stamp, and
// updates the record mirror. A repeated non-empty pushId within the
// idempotency TTL returns the original response without writing.
func (s *Store) Push(ctx context.Context, req hsync.PushRequest) (*hsync.PushResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if req.PushID != "" {
		cached, ok, err := s.CheckPushIdempotency(ctx, req.PushID)
		if err != nil {
			return nil, err
		}
		if ok {
			var resp hsync.PushResponse
			if err := json.Unmarshal(cached, &resp); err == nil {
				slog.Info("push replayed",
					"component", "serverstore",
					"action", "push_replayed",
					"push_id", req.PushID,
					"device_id", req.DeviceID,
				)
				return &resp, nil
			}
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("push: begin: %w", err)
	}
	defer tx.Rollback()

	var last int64
	for i, c := range req.Changes {
		last = s.stamp()
		if err := journal(ctx, tx, req.DeviceID, c, last); err != nil {
			return nil, fmt.Errorf("push: change %d: %w", i, err)
		}
	}
	if last == 0 {
		last = s.stamp()
	}

	resp := &hsync.PushResponse{
		Accepted:        len(req.Changes),
		ServerTimestamp: fromStamp(last),
	}

	if req.PushID != "" {
		body, err := json.Marshal(resp)
		if err != nil {
			return nil, fmt.Errorf("push: encode response: %w", err)
		}
		if err := recordPushIdempotency(ctx, tx, req.PushID, req.DeviceID, body, s.now(), s.idempotencyTTL); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("push: commit: %w", err)
	}
	return resp, nil
}

func journal(ctx context.Context, tx *sql.Tx, deviceID string, c hsync.ChangeLogEntry, stamp int64) error {
	data := nullableData(c.Data)
	ts := c.Timestamp
	if ts.IsZero() {
		ts = fromStamp(stamp)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO changes (table_name, record_id, operation, data, device_id, client_timestamp, received_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, c.TableName, c.RecordID, string(c.Operation), data, deviceID, ts.UTC().Format(time.RFC3339Nano), stamp); err != nil {
		return fmt.Errorf("insert change: %w", err)
	}

	deleted := 0
	if c.Operation == hsync.OperationDelete {
		deleted = 1
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO entities (table_name, record_id, data, deleted, device_id, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(table_name, record_id) DO UPDATE SET
			data = COALESCE(excluded.data, entities.data),
			deleted = excluded.deleted,
			device_id = excluded.device_id,
			updated_at = excluded.updated_at
	`, c.TableName, c.RecordID, data, deleted, deviceID, stamp); err != nil {
		return fmt.Errorf("upsert entity: %w", err)
	}
	return nil
}

// Pull returns up to limit changes journaled after since, oldest first. The
// requesting device's own changes are included so that it replays them in
// arrival order against anything another device journaled in between.
// ServerTimestamp is the anchor for the next
// pull: the stamp of the last returned change when more remain, otherwise a
// stamp taken before the query.
func (s *Store) Pull(ctx context.Context, req hsync.PullRequest) (*hsync.PullResponse, error) {
	limit := req.Limit
	if limit <= 0 {
		limit = hsync.DefaultPullLimit
	}
	if limit > hsync.MaxPullLimit {
		limit = hsync.MaxPullLimit
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	anchor := s.stamp()

	b := sq.Select("table_name", "record_id", "operation", "data", "device_id", "client_timestamp", "received_at").
		From("changes").
		OrderBy("seq").
		Limit(uint64(limit + 1))
	if !req.Since.IsZero() {
		b = b.Where(sq.Gt{"received_at": req.Since.UnixNano()})
	}

	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("pull: build query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("pull: query: %w", err)
	}
	defer rows.Close()

	changes := make([]hsync.ServerChange, 0)
	var stamps []int64
	for rows.Next() {
		var (
			c        hsync.ServerChange
			op       string
			data     sql.NullString
			clientTS string
			received int64
		)
		if err := rows.Scan(&c.TableName, &c.RecordID, &op, &data, &c.DeviceID, &clientTS, &received); err != nil {
			return nil, fmt.Errorf("pull: scan: %w", err)
		}
		c.Operation = hsync.Operation(op)
		if data.Valid {
			c.Data = json.RawMessage(data.String)
		}
		if t, err := time.Parse(time.RFC3339Nano, clientTS); err == nil {
			c.Timestamp = t
		}
		changes = append(changes, c)
		stamps = append(stamps, received)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("pull: rows: %w", err)
	}

	resp := &hsync.PullResponse{ServerTimestamp: fromStamp(anchor)}
	if len(changes) > limit {
		changes = changes[:limit]
		resp.HasMore = true
		resp.ServerTimestamp = fromStamp(stamps[limit-1])
	}
	resp.Changes = changes
	return resp, nil
}

// EntityState is the server's last-write-wins view of one record.
type EntityState struct {
	TableName types.Kind      `json:"tableName"`
	RecordID  int64           `json:"recordId"`
	Data      json.RawMessage `json:"data,omitempty"`
	Deleted   bool            `json:"deleted"`
	DeviceID  string          `json:"deviceId"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// GetEntity returns the mirror row of one record.
func (s *Store) GetEntity(ctx context.Context, kind types.Kind, id int64) (*EntityState, error) {
	var (
		e       = EntityState{TableName: kind, RecordID: id}
		data    sql.NullString
		deleted int
		updated int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT data, deleted, device_id, updated_at FROM entities
		WHERE table_name = ? AND record_id = ?
	`, string(kind), id).Scan(&data, &deleted, &e.DeviceID, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s %d: %w", kind, id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get entity: %w", err)
	}
	if data.Valid {
		e.Data = json.RawMessage(data.String)
	}
	e.Deleted = deleted != 0
	e.UpdatedAt = fromStamp(updated)
	return &e, nil
}

// CompactChanges removes journal rows received before cutoff, keeping the
// newest row of every record so a device pulling from zero still converges.
func (s *Store) CompactChanges(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.db.ExecContext(ctx, `
		DELETE FROM changes
		WHERE received_at < ?
		  AND seq NOT IN (SELECT MAX(seq) FROM changes GROUP BY table_name, record_id)
	`, cutoff.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("compact changes: %w", err)
	}
	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("compact changes: %w", err)
	}

	if err := s.SetMeta(ctx, hsync.MetaLastCompactionAt, s.now().UTC().Format(time.RFC3339Nano)); err != nil {
		return deleted, err
	}
	return deleted, nil
}

func nullableData(p json.RawMessage) any {
	if len(p) == 0 || string(p) == "null" {
		return nil
	}
	return string(p)
}
