package syncer

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Status is the lifecycle state of the sync session.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusSyncing   Status = "syncing"
	StatusCompleted Status = "completed"
	StatusError     Status = "error"
)

// transitions lists the legal next states of each state.
var transitions = map[Status][]Status{
	StatusIdle:      {StatusSyncing},
	StatusSyncing:   {StatusCompleted, StatusError, StatusIdle},
	StatusCompleted: {StatusIdle},
	StatusError:     {StatusIdle},
}

// StatusEvent is published on every state change.
type StatusEvent struct {
	Status     Status
	Uploaded   int
	Downloaded int
	LastSync   time.Time
	Err        error
	At         time.Time
}

// SessionState is a point-in-time copy of the session.
type SessionState struct {
	Status            Status    `json:"status"`
	LastSyncTimestamp time.Time `json:"lastSyncTimestamp"`
	Uploaded          int       `json:"uploaded"`
	Downloaded        int       `json:"downloaded"`
	LastError         string    `json:"lastError,omitempty"`
	LastCycleAt       time.Time `json:"lastCycleAt"`
}

// Session holds the sync state of one device. It is created by the host
// and handed to the orchestrator, which is its only writer.
type Session struct {
	mu          sync.RWMutex
	status      Status
	lastSync    time.Time
	uploaded    int
	downloaded  int
	lastErr     error
	lastCycleAt time.Time

	subMu   sync.Mutex
	subs    map[int]chan StatusEvent
	nextSub int
}

// NewSession creates an idle session resuming from lastSync, the persisted
// pull anchor (zero before the first successful sync).
func NewSession(lastSync time.Time) *Session {
	return &Session{
		status:   StatusIdle,
		lastSync: lastSync,
		subs:     make(map[int]chan StatusEvent),
	}
}

// Status returns the current state.
func (s *Session) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// LastSync returns the anchor of the last successful cycle.
func (s *Session) LastSync() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastSync
}

// LastError returns the error of the last failed cycle, nil after a
// successful one.
func (s *Session) LastError() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastErr
}

// State returns a copy of the session.
func (s *Session) State() SessionState {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := SessionState{
		Status:            s.status,
		LastSyncTimestamp: s.lastSync,
		Uploaded:          s.uploaded,
		Downloaded:        s.downloaded,
		LastCycleAt:       s.lastCycleAt,
	}
	if s.lastErr != nil {
		st.LastError = s.lastErr.Error()
	}
	return st
}

// Subscribe returns a channel of status events and a cancel func that
// closes it. Publishing never blocks: a subscriber whose buffer is full
// misses events and should read State for the current value.
func (s *Session) Subscribe(buffer int) (<-chan StatusEvent, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan StatusEvent, buffer)

	s.subMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch
	s.subMu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.subMu.Lock()
			delete(s.subs, id)
			s.subMu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

// begin moves idle to syncing.
func (s *Session) begin(now time.Time) error {
	s.mu.Lock()
	if err := s.transition(StatusSyncing); err != nil {
		s.mu.Unlock()
		return err
	}
	s.lastCycleAt = now
	ev := s.event(now)
	s.mu.Unlock()

	s.publish(ev)
	return nil
}

// complete records a successful cycle, publishes completed, then idle.
func (s *Session) complete(res Result, now time.Time) {
	s.mu.Lock()
	s.mustTransition(StatusCompleted)
	s.lastSync = res.LastSync
	s.uploaded = res.Uploaded
	s.downloaded = res.Downloaded
	s.lastErr = nil
	done := s.event(now)
	s.mustTransition(StatusIdle)
	idle := s.event(now)
	s.mu.Unlock()

	s.publish(done)
	s.publish(idle)
}

// fail records a failed cycle, publishes error, then idle. The pull anchor
// is left untouched.
func (s *Session) fail(res Result, err error, now time.Time) {
	s.mu.Lock()
	s.mustTransition(StatusError)
	s.uploaded = res.Uploaded
	s.downloaded = res.Downloaded
	s.lastErr = err
	failed := s.event(now)
	failed.Err = err
	s.mustTransition(StatusIdle)
	idle := s.event(now)
	s.mu.Unlock()

	s.publish(failed)
	s.publish(idle)
}

// settle returns to idle without a terminal notification.
func (s *Session) settle(now time.Time) {
	s.mu.Lock()
	s.mustTransition(StatusIdle)
	ev := s.event(now)
	s.mu.Unlock()

	s.publish(ev)
}

// reset clears the anchor, counters and last error after local data is
// wiped. Only called while no cycle runs.
func (s *Session) reset(now time.Time) {
	s.mu.Lock()
	s.lastSync = time.Time{}
	s.uploaded = 0
	s.downloaded = 0
	s.lastErr = nil
	ev := s.event(now)
	s.mu.Unlock()

	s.publish(ev)
}

func (s *Session) transition(next Status) error {
	for _, allowed := range transitions[s.status] {
		if allowed == next {
			s.status = next
			return nil
		}
	}
	return fmt.Errorf("invalid sync status transition %s -> %s", s.status, next)
}

func (s *Session) mustTransition(next Status) {
	if err := s.transition(next); err != nil {
		// Unreachable unless the orchestrator misorders calls.
		slog.Error("sync session", "component", "syncer", "error", err)
		s.status = next
	}
}

// event must be called with mu held.
func (s *Session) event(now time.Time) StatusEvent {
	return StatusEvent{
		Status:     s.status,
		Uploaded:   s.uploaded,
		Downloaded: s.downloaded,
		LastSync:   s.lastSync,
		At:         now,
	}
}

func (s *Session) publish(ev StatusEvent) {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	for _, ch := range s.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}
