// Package session owns the per-client conversation state: the correlation
// identifier sent with every request, the most recently uploaded image
// reference, and the generation flag that serializes request cycles.
//
// State is mutated only through the transition methods below. The zero value
// is not useful - use New.
package session

import (
	"sync"

	"github.com/google/uuid"
)

// Notify receives the generating flag after every state mutation so the
// rendering layer can keep its submit/stop affordances in sync: submit is
// enabled iff !generating, stop iff generating.
type Notify func(generating bool)

// Session is the process-wide conversation state for one client instance.
// Exactly one Session exists per client; its id is created at construction
// and rotated only by an explicit clear. Safe for concurrent use.
type Session struct {
	mu         sync.Mutex
	id         uuid.UUID
	imagePath  string
	generating bool
	notify     Notify
}

// New creates a Session with a fresh correlation id. notify may be nil.
func New(notify Notify) *Session {
	return &Session{
		id:     uuid.New(),
		notify: notify,
	}
}

// StartCycle marks a request cycle in flight. Returns ErrAlreadyGenerating
// if one already is; a second submission is rejected, never queued.
func (s *Session) StartCycle() error {
	s.mu.Lock()
	if s.generating {
		s.mu.Unlock()
		return ErrAlreadyGenerating
	}
	s.generating = true
	s.mu.Unlock()

	s.notifyState(true)
	return nil
}

// EndCycle marks the cycle finished. Idempotent: safe to call on any
// terminal path (done, stopped, error, cancel, transport failure).
func (s *Session) EndCycle() {
	s.mu.Lock()
	s.generating = false
	s.mu.Unlock()

	s.notifyState(false)
}

// SetImage records the most recently uploaded image reference.
// Empty paths are ignored.
func (s *Session) SetImage(path string) {
	if path == "" {
		return
	}

	s.mu.Lock()
	s.imagePath = path
	generating := s.generating
	s.mu.Unlock()

	s.notifyState(generating)
}

// RotateID replaces the correlation id with a fresh one and returns it.
// Used only by the clear action.
func (s *Session) RotateID() string {
	s.mu.Lock()
	s.id = uuid.New()
	id := s.id.String()
	generating := s.generating
	s.mu.Unlock()

	s.notifyState(generating)
	return id
}

// ID returns the current correlation id.
func (s *Session) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id.String()
}

// ImagePath returns the active image reference, or "" if none was uploaded.
func (s *Session) ImagePath() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.imagePath
}

// Generating reports whether a request cycle is in flight.
func (s *Session) Generating() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generating
}

// notifyState invokes the callback outside the lock so a re-entrant
// callback cannot deadlock.
func (s *Session) notifyState(generating bool) {
	if s.notify != nil {
		s.notify(generating)
	}
}
