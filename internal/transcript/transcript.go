// Package transcript provides the ordered message store behind the chat
// display. The store is the source of truth: the rendering layer keeps its
// own index keyed by the same opaque message ids and queries on demand.
package transcript

import (
	"sync"

	"github.com/google/uuid"
)

// Role classifies a transcript message for display.
type Role string

// Message roles.
const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleRound     Role = "round"
	RoleStatus    Role = "status"
	RoleError     Role = "error"
)

// MessageID is the opaque, stable handle for one message. It is the only
// way external callers may target an update.
type MessageID string

// Message is one transcript entry. Text is mutable through AppendText;
// identity is stable for the message's lifetime.
type Message struct {
	ID   MessageID
	Role Role
	Text string
}

// Store is an ordered, uniquely-identified collection of messages.
// Insertion order is display order. Ids are generated fresh and never
// reused within a session, even after Remove. Safe for concurrent use.
type Store struct {
	mu       sync.RWMutex
	messages []Message
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{}
}

// Append creates a message with a fresh id, appends it, and returns the id.
func (s *Store) Append(role Role, text string) MessageID {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := MessageID(uuid.NewString())
	s.messages = append(s.messages, Message{ID: id, Role: role, Text: text})
	return id
}

// Remove deletes the message with the given id. A missing id is a no-op,
// which tolerates a late removal racing with a prior clear.
func (s *Store) Remove(id MessageID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.messages {
		if s.messages[i].ID == id {
			s.messages = append(s.messages[:i], s.messages[i+1:]...)
			return
		}
	}
}

// AppendText concatenates delta onto the message's text. A missing id is a
// no-op.
func (s *Store) AppendText(id MessageID, delta string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.messages {
		if s.messages[i].ID == id {
			s.messages[i].Text += delta
			return
		}
	}
}

// SetText replaces the message's text. A missing id is a no-op.
func (s *Store) SetText(id MessageID, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.messages {
		if s.messages[i].ID == id {
			s.messages[i].Text = text
			return
		}
	}
}

// Clear empties the transcript, restoring the empty-placeholder state.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = nil
}

// Messages returns a snapshot copy in insertion order.
func (s *Store) Messages() []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// Get returns the message with the given id.
func (s *Store) Get(id MessageID) (Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for i := range s.messages {
		if s.messages[i].ID == id {
			return s.messages[i], true
		}
	}
	return Message{}, false
}

// Len returns the number of messages.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages)
}

// Empty reports whether the transcript has no messages; the rendering layer
// shows its "start conversation" placeholder in that state.
func (s *Store) Empty() bool {
	return s.Len() == 0
}
