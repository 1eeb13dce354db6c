package history

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dj-oyu/live-detect-client/internal/detection"
)

// DefaultUICapacity bounds the display log.
const DefaultUICapacity = 50

// Entry is a detection stamped with the time its response was accepted.
type Entry struct {
	detection.Detection
	CapturedAt time.Time `json:"captured_at"`
	SessionID  uuid.UUID `json:"session_id"`
}

// Store owns the bounded UI log (newest first) and the unbounded session
// log (chronological). Both are fed by Record but never share storage.
type Store struct {
	mu         sync.RWMutex
	capacity   int
	uiLog      []Entry
	sessionLog []Entry
	version    uint64
}

// NewStore creates a Store whose UI log keeps at most capacity entries.
func NewStore(capacity int) *Store {
	if capacity <= 0 {
		capacity = DefaultUICapacity
	}
	return &Store{capacity: capacity}
}

// Record stamps dets with now and adds them to both logs. An empty slice
// is a no-op.
func (s *Store) Record(session uuid.UUID, dets []detection.Detection, now time.Time) int {
	if len(dets) == 0 {
		return 0
	}

	entries := make([]Entry, len(dets))
	for i, d := range dets {
		entries[i] = Entry{Detection: d, CapturedAt: now, SessionID: session}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ui := make([]Entry, 0, min(len(entries)+len(s.uiLog), s.capacity))
	ui = append(ui, entries...)
	ui = append(ui, s.uiLog...)
	if len(ui) > s.capacity {
		ui = ui[:s.capacity]
	}
	s.uiLog = ui

	s.sessionLog = append(s.sessionLog, entries...)
	s.version++
	return len(entries)
}

// ClearSession empties the session log. The UI log is untouched.
func (s *Store) ClearSession() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessionLog = nil
	s.version++
}

// UILog returns a copy of the display log, newest first.
func (s *Store) UILog() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Entry, len(s.uiLog))
	copy(out, s.uiLog)
	return out
}

// SessionLog returns a copy of the session log, oldest first.
func (s *Store) SessionLog() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Entry, len(s.sessionLog))
	copy(out, s.sessionLog)
	return out
}

// Sizes returns the lengths of the UI and session logs.
func (s *Store) Sizes() (ui, session int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.uiLog), len(s.sessionLog)
}

// Version changes on every mutation of either log.
func (s *Store) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}
