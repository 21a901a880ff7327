package syncer

import (
	"context"
	"errors"
	"sync"
	"time"

	hsync "github.com/hyperengineering/habitsync/internal/sync"
)

type fakeStore struct {
	mu       sync.Mutex
	deviceID string
	pending  []hsync.ChangeLogEntry
	applied  []hsync.ServerChange
	lastSync time.Time
	saved    int

	applyErr error
	markErr  error
}

func newFakeStore(entries int) *fakeStore {
	s := &fakeStore{deviceID: "device-a"}
	for i := 1; i <= entries; i++ {
		s.pending = append(s.pending, hsync.ChangeLogEntry{
			ID:        int64(i),
			TableName: "habits",
			RecordID:  int64(i),
			Operation: hsync.OperationInsert,
			DeviceID:  "device-a",
		})
	}
	return s
}

func (s *fakeStore) DeviceID() string { return s.deviceID }

func (s *fakeStore) PendingChanges(context.Context) ([]hsync.ChangeLogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]hsync.ChangeLogEntry(nil), s.pending...), nil
}

func (s *fakeStore) MarkSynced(_ context.Context, ids []int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.markErr != nil {
		return 0, s.markErr
	}
	drop := make(map[int64]bool, len(ids))
	for _, id := range ids {
		drop[id] = true
	}
	var keep []hsync.ChangeLogEntry
	var n int64
	for _, e := range s.pending {
		if drop[e.ID] {
			n++
			continue
		}
		keep = append(keep, e)
	}
	s.pending = keep
	return n, nil
}

func (s *fakeStore) ApplyRemote(_ context.Context, changes []hsync.ServerChange) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.applyErr != nil {
		return 0, s.applyErr
	}
	s.applied = append(s.applied, changes...)
	return len(changes), nil
}

func (s *fakeStore) SetLastSyncTimestamp(_ context.Context, t time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastSync = t
	s.saved++
	return nil
}

func (s *fakeStore) pendingIDs() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]int64, len(s.pending))
	for i, e := range s.pending {
		ids[i] = e.ID
	}
	return ids
}

type fakeRemote struct {
	mu sync.Mutex

	pingErr error
	// pingGate, when set, blocks Ping until it is closed.
	pingGate chan struct{}
	pinged   chan struct{}

	// pushFailAt fails the Nth push (1-based) with pushErr.
	pushFailAt int
	pushErr    error
	pushes     []hsync.PushRequest

	pages   []*hsync.PullResponse
	pullErr error
	pulls   []hsync.PullRequest
}

func (r *fakeRemote) Ping(ctx context.Context) error {
	if r.pinged != nil {
		r.pinged <- struct{}{}
	}
	if r.pingGate != nil {
		select {
		case <-r.pingGate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return r.pingErr
}

func (r *fakeRemote) Push(_ context.Context, req hsync.PushRequest) (*hsync.PushResponse, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pushes = append(r.pushes, req)
	if r.pushFailAt > 0 && len(r.pushes) == r.pushFailAt {
		return nil, r.pushErr
	}
	return &hsync.PushResponse{Accepted: len(req.Changes)}, nil
}

func (r *fakeRemote) Pull(_ context.Context, req hsync.PullRequest) (*hsync.PullResponse, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pulls = append(r.pulls, req)
	if r.pullErr != nil {
		return nil, r.pullErr
	}
	if len(r.pages) == 0 {
		return &hsync.PullResponse{}, nil
	}
	page := r.pages[0]
	r.pages = r.pages[1:]
	return page, nil
}

var errNetwork = &ConnectivityError{Op: "test", Err: errors.New("connection refused")}
