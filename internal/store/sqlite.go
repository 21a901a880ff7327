package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/hyperengineering/habitsync/internal/device"
	"github.com/hyperengineering/habitsync/internal/schema"
	hsync "github.com/hyperengineering/habitsync/internal/sync"
	"github.com/hyperengineering/habitsync/internal/types"
	_ "modernc.org/sqlite"
)

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	execContext
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

var (
	activeJSON   = []byte(`{"isActive":true}`)
	inactiveJSON = []byte(`{"isActive":false}`)
)

// SQLiteStore is the per-device entity store. Every local write appends to
// the change log in the same transaction.
type SQLiteStore struct {
	db       *sql.DB
	identity *device.Identity
	now      func() time.Time

	// writeMu serializes writers; the last write to complete wins.
	writeMu sync.Mutex

	deviceMu sync.RWMutex
	deviceID string
}

// NewSQLiteStore creates a new SQLiteStore instance.
// It initializes the database with WAL mode, applies pragmas, runs
// migrations and resolves the device identity.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := OpenDB(dbPath)
	if err != nil {
		return nil, err
	}

	if err := RunMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	s := &SQLiteStore{db: db, now: time.Now}
	s.identity = device.NewIdentity(s)

	id, err := s.identity.GetOrCreate(context.Background())
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("resolve device identity: %w", err)
	}
	s.deviceID = id

	return s, nil
}

// OpenDB opens a SQLite database at dbPath with the pragmas both stores use.
func OpenDB(dbPath string) (*sql.DB, error) {
	// Ensure parent directory exists
	if dir := filepath.Dir(dbPath); dir != "." && dir != "" && !strings.HasPrefix(dbPath, ":memory:") {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// A single connection keeps per-connection pragmas in force and lets
	// an in-memory database survive between statements.
	db.SetMaxOpenConns(1)

	if err := enablePragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable pragmas: %w", err)
	}

	return db, nil
}

// enablePragmas sets SQLite pragmas for optimal performance and safety.
func enablePragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA synchronous=NORMAL",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("execute %s: %w", pragma, err)
		}
	}

	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// DeviceID returns the identifier stamped on every local write.
func (s *SQLiteStore) DeviceID() string {
	s.deviceMu.RLock()
	defer s.deviceMu.RUnlock()
	return s.deviceID
}

// Get returns the entity of kind with id, or nil when no such row exists.
// Soft-deleted rows are returned with isActive false.
func (s *SQLiteStore) Get(ctx context.Context, kind types.Kind, id int64) (types.Entity, error) {
	ts, ok := schema.Get(kind)
	if !ok {
		return nil, fmt.Errorf("get %q: %w", kind, ErrUnknownKind)
	}
	return getEntity(ctx, s.db, ts, id)
}

// ListFilter narrows List results. Zero fields are ignored. A filter on a
// column the kind does not have returns ErrInvalidFilter.
type ListFilter struct {
	HabitID    int64
	CategoryID int64
	MetricID   int64
	ExerciseID int64

	// Date matches one calendar date; From and To bound an inclusive range.
	Date string
	From string
	To   string

	IncludeInactive bool
	OrderByDate     bool
	Limit           int
}

// List returns the entities of kind matching filter, ordered by id unless
// OrderByDate is set.
func (s *SQLiteStore) List(ctx context.Context, kind types.Kind, filter ListFilter) ([]types.Entity, error) {
	ts, ok := schema.Get(kind)
	if !ok {
		return nil, fmt.Errorf("list %q: %w", kind, ErrUnknownKind)
	}

	b := selectEntities(ts)

	eq := []struct {
		column string
		value  int64
	}{
		{"habit_id", filter.HabitID},
		{"category_id", filter.CategoryID},
		{"metric_id", filter.MetricID},
		{"exercise_id", filter.ExerciseID},
	}
	for _, f := range eq {
		if f.value == 0 {
			continue
		}
		if !ts.HasColumn(f.column) {
			return nil, fmt.Errorf("list %s by %s: %w", kind, f.column, ErrInvalidFilter)
		}
		b = b.Where(sq.Eq{f.column: f.value})
	}

	if filter.Date != "" || filter.From != "" || filter.To != "" || filter.OrderByDate {
		if !ts.HasColumn(schema.ColumnDate) {
			return nil, fmt.Errorf("list %s by date: %w", kind, ErrInvalidFilter)
		}
	}
	if filter.Date != "" {
		b = b.Where(sq.Eq{schema.ColumnDate: filter.Date})
	}
	if filter.From != "" {
		b = b.Where(sq.GtOrEq{schema.ColumnDate: filter.From})
	}
	if filter.To != "" {
		b = b.Where(sq.LtOrEq{schema.ColumnDate: filter.To})
	}

	if ts.SoftDelete && !filter.IncludeInactive {
		b = b.Where(sq.Eq{schema.ColumnIsActive: 1})
	}

	if filter.OrderByDate {
		b = b.OrderBy(schema.ColumnDate, schema.ColumnID)
	} else {
		b = b.OrderBy(schema.ColumnID)
	}
	if filter.Limit > 0 {
		b = b.Limit(uint64(filter.Limit))
	}

	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storageErr("list "+ts.Table(), err)
	}
	defer rows.Close()

	var out []types.Entity
	for rows.Next() {
		e, err := scanEntity(ts, rows)
		if err != nil {
			return nil, storageErr("scan "+ts.Table(), err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("list "+ts.Table(), err)
	}
	return out, nil
}

// Put inserts or overwrites e and appends the matching change log entry in
// the same transaction. An id of 0 assigns the next id for the kind. After a
// successful commit e is updated in place with its id, timestamps and device,
// and returned. On error e is left as the caller passed it.
func (s *SQLiteStore) Put(ctx context.Context, e types.Entity) (types.Entity, error) {
	ts, ok := schema.Get(e.Kind())
	if !ok {
		return nil, fmt.Errorf("put %q: %w", e.Kind(), ErrUnknownKind)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, storageErr("begin put", err)
	}
	defer tx.Rollback()

	work, err := cloneEntity(e)
	if err != nil {
		return nil, err
	}
	meta := work.Meta()
	now := s.now().UTC()

	op := hsync.OperationInsert
	if meta.ID != 0 {
		existing, err := getEntity(ctx, tx, ts, meta.ID)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			op = hsync.OperationUpdate
			meta.CreatedAt = existing.Meta().CreatedAt
		}
	}
	if op == hsync.OperationInsert {
		meta.CreatedAt = now
		if ts.SoftDelete {
			if err := json.Unmarshal(activeJSON, work); err != nil {
				return nil, fmt.Errorf("activate %s: %w", ts.Kind, err)
			}
		}
	}
	meta.UpdatedAt = now
	meta.DeviceID = s.DeviceID()
	meta.SyncStatus = ""

	snap, err := snapshotOf(work)
	if err != nil {
		return nil, err
	}
	if err := checkReferences(ctx, tx, ts, snap); err != nil {
		return nil, err
	}

	id, err := upsertRow(ctx, tx, ts, snap)
	if err != nil {
		return nil, err
	}
	meta.ID = id

	data, err := json.Marshal(work)
	if err != nil {
		return nil, fmt.Errorf("marshal %s snapshot: %w", ts.Kind, err)
	}

	if _, err := appendChangeLog(ctx, tx, hsync.ChangeLogEntry{
		TableName: ts.Table(),
		RecordID:  id,
		Operation: op,
		Data:      data,
		DeviceID:  meta.DeviceID,
		Timestamp: now,
	}); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, storageErr("commit put", err)
	}

	if err := json.Unmarshal(data, e); err != nil {
		return nil, fmt.Errorf("refresh %s: %w", ts.Kind, err)
	}
	e.Meta().SyncStatus = types.SyncStatusPending
	return e, nil
}

// Delete removes the entity of kind with id. Soft-delete kinds are marked
// inactive instead. The delete entry carries the last snapshot of the row.
func (s *SQLiteStore) Delete(ctx context.Context, kind types.Kind, id int64) error {
	ts, ok := schema.Get(kind)
	if !ok {
		return fmt.Errorf("delete %q: %w", kind, ErrUnknownKind)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr("begin delete", err)
	}
	defer tx.Rollback()

	existing, err := getEntity(ctx, tx, ts, id)
	if err != nil {
		return err
	}
	if existing == nil {
		return fmt.Errorf("delete %s %d: %w", kind, id, ErrNotFound)
	}

	now := s.now().UTC()
	meta := existing.Meta()
	meta.UpdatedAt = now
	meta.DeviceID = s.DeviceID()
	meta.SyncStatus = ""

	if ts.SoftDelete {
		if err := json.Unmarshal(inactiveJSON, existing); err != nil {
			return fmt.Errorf("deactivate %s: %w", kind, err)
		}
		snap, err := snapshotOf(existing)
		if err != nil {
			return err
		}
		if _, err := upsertRow(ctx, tx, ts, snap); err != nil {
			return err
		}
	} else {
		if err := checkDependents(ctx, tx, ts, id); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+ts.Table()+" WHERE id = ?", id); err != nil {
			return storageErr("delete "+ts.Table(), err)
		}
	}

	data, err := json.Marshal(existing)
	if err != nil {
		return fmt.Errorf("marshal %s snapshot: %w", kind, err)
	}

	if _, err := appendChangeLog(ctx, tx, hsync.ChangeLogEntry{
		TableName: ts.Table(),
		RecordID:  id,
		Operation: hsync.OperationDelete,
		Data:      data,
		DeviceID:  meta.DeviceID,
		Timestamp: now,
	}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return storageErr("commit delete", err)
	}
	return nil
}

// Stats returns row counts per kind and the outbox depth.
func (s *SQLiteStore) Stats(ctx context.Context) (*types.StoreStats, error) {
	stats := &types.StoreStats{
		DeviceID: s.DeviceID(),
		Counts:   make(map[types.Kind]int64, len(types.Kinds)),
	}

	for _, ts := range schema.All() {
		var n int64
		if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+ts.Table()).Scan(&n); err != nil {
			return nil, storageErr("count "+ts.Table(), err)
		}
		stats.Counts[ts.Kind] = n
	}

	pending, err := s.PendingCount(ctx)
	if err != nil {
		return nil, err
	}
	stats.PendingChanges = pending

	last, err := s.LastSyncTimestamp(ctx)
	if err != nil {
		return nil, err
	}
	if !last.IsZero() {
		stats.LastSyncTimestamp = &last
	}

	return stats, nil
}

// ResetLocalData wipes every entity, the outbox and all settings, then
// generates a new device identity. It returns the new device id.
func (s *SQLiteStore) ResetLocalData(ctx context.Context) (string, error) {
	if err := s.wipe(ctx); err != nil {
		return "", err
	}

	id, err := s.identity.Reset(ctx)
	if err != nil {
		return "", fmt.Errorf("regenerate device identity: %w", err)
	}

	s.deviceMu.Lock()
	s.deviceID = id
	s.deviceMu.Unlock()

	return id, nil
}

func (s *SQLiteStore) wipe(ctx context.Context) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr("begin reset", err)
	}
	defer tx.Rollback()

	tables := []string{"change_log", "settings"}
	for _, ts := range schema.All() {
		tables = append(tables, ts.Table())
	}
	for _, table := range tables {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return storageErr("reset "+table, err)
		}
	}
	// Restart AUTOINCREMENT counters along with the data.
	if _, err := tx.ExecContext(ctx, "DELETE FROM sqlite_sequence"); err != nil {
		return storageErr("reset sqlite_sequence", err)
	}

	if err := tx.Commit(); err != nil {
		return storageErr("commit reset", err)
	}
	return nil
}

// selectEntities selects every column of ts plus a trailing pending flag
// derived from the outbox.
func selectEntities(ts schema.TableSchema) sq.SelectBuilder {
	table := ts.Table()
	return sq.Select(ts.ColumnNames()...).
		Column(sq.Expr(
			"EXISTS (SELECT 1 FROM change_log WHERE change_log.table_name = ? AND change_log.record_id = "+table+".id)",
			table,
		)).
		From(table)
}

func getEntity(ctx context.Context, q queryer, ts schema.TableSchema, id int64) (types.Entity, error) {
	query, args, err := selectEntities(ts).Where(sq.Eq{schema.ColumnID: id}).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build get query: %w", err)
	}

	e, err := scanEntity(ts, q.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storageErr("get "+ts.Table(), err)
	}
	return e, nil
}

// checkReferences verifies every foreign key in snap points at an existing
// row. Null optional references pass.
func checkReferences(ctx context.Context, q queryer, ts schema.TableSchema, snap map[string]any) error {
	for _, c := range ts.References() {
		v := snap[c.Field]
		var ref int64
		if v != nil {
			n, ok := asInt64(v)
			if !ok {
				return fmt.Errorf("%s: want integer, got %v", c.Field, v)
			}
			ref = n
		}
		if ref == 0 {
			if c.Nullable {
				continue
			}
			return &ReferentialError{Table: ts.Kind, Column: c.Name, RefTable: c.Ref}
		}

		var one int
		err := q.QueryRowContext(ctx, "SELECT 1 FROM "+string(c.Ref)+" WHERE id = ?", ref).Scan(&one)
		if errors.Is(err, sql.ErrNoRows) {
			return &ReferentialError{Table: ts.Kind, Column: c.Name, RefTable: c.Ref, RefID: ref}
		}
		if err != nil {
			return storageErr("check "+c.Name, err)
		}
	}
	return nil
}

// checkDependents blocks a hard delete while child rows still reference id.
func checkDependents(ctx context.Context, q queryer, ts schema.TableSchema, id int64) error {
	for _, dep := range schema.Dependents(ts.Kind) {
		var n int64
		query := "SELECT COUNT(*) FROM " + dep.Schema.Table() + " WHERE " + dep.Column.Name + " = ?"
		if err := q.QueryRowContext(ctx, query, id).Scan(&n); err != nil {
			return storageErr("count "+dep.Schema.Table(), err)
		}
		if n > 0 {
			return &ReferentialError{
				Table:      dep.Schema.Kind,
				Column:     dep.Column.Name,
				RefTable:   ts.Kind,
				RefID:      id,
				Dependents: n,
			}
		}
	}
	return nil
}
