package sync

import (
	"encoding/json"
	"time"
)

// Operation is the kind of mutation a change records.
type Operation string

// Operation constants
const (
	OperationInsert Operation = "insert"
	OperationUpdate Operation = "update"
	OperationDelete Operation = "delete"
)

// Valid reports whether o is a known operation.
func (o Operation) Valid() bool {
	switch o {
	case OperationInsert, OperationUpdate, OperationDelete:
		return true
	}
	return false
}

// ChangeLogEntry is one local mutation awaiting upload. ID is the outbox
// sequence and never leaves the device.
type ChangeLogEntry struct {
	ID        int64           `json:"-"`
	TableName string          `json:"tableName"`
	RecordID  int64           `json:"recordId"`
	Operation Operation       `json:"operation"`
	Data      json.RawMessage `json:"data,omitempty"`
	DeviceID  string          `json:"deviceId,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Synced    bool            `json:"-"`
}

// ServerChange is a change as returned by a pull, tagged with its author.
type ServerChange struct {
	TableName string          `json:"tableName"`
	RecordID  int64           `json:"recordId"`
	Operation Operation       `json:"operation"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	DeviceID  string          `json:"deviceId"`
}

// PushRequest is the body of POST /sync/push.
type PushRequest struct {
	DeviceID string           `json:"deviceId"`
	PushID   string           `json:"pushId,omitempty"`
	Changes  []ChangeLogEntry `json:"changes"`
}

// PushResponse acknowledges a push. The whole batch is accepted or none of it.
type PushResponse struct {
	Accepted        int       `json:"accepted"`
	ServerTimestamp time.Time `json:"serverTimestamp"`
}

// PullRequest carries the query parameters of GET /sync/pull.
type PullRequest struct {
	Since    time.Time
	DeviceID string
	Limit    int
}

// PullResponse is the body of GET /sync/pull. ServerTimestamp is the anchor
// the caller should pass as since on its next pull.
type PullResponse struct {
	Changes         []ServerChange `json:"changes"`
	ServerTimestamp time.Time      `json:"serverTimestamp"`
	HasMore         bool           `json:"hasMore"`
}

// Pull page sizes.
const (
	DefaultPullLimit = 500
	MaxPullLimit     = 5000
)

// MaxPushChanges bounds a single push request.
const MaxPushChanges = 1000

// Server meta keys
const (
	MetaLastCompactionAt = "last_compaction_at"
	MetaLastSnapshotAt   = "last_snapshot_at"
	MetaLastSnapshotSize = "last_snapshot_size"
)
