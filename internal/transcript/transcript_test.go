package transcript

import "testing"

func TestAppend_OrderAndIDs(t *testing.T) {
	s := NewStore()

	id1 := s.Append(RoleUser, "first")
	id2 := s.Append(RoleAssistant, "second")

	if id1 == id2 {
		t.Fatal("message ids must be unique")
	}

	msgs := s.Messages()
	if len(msgs) != 2 {
		t.Fatalf("Len = %d, want 2", len(msgs))
	}
	if msgs[0].ID != id1 || msgs[1].ID != id2 {
		t.Error("messages out of insertion order")
	}
	if msgs[0].Role != RoleUser || msgs[0].Text != "first" {
		t.Errorf("first message = %+v", msgs[0])
	}
}

func TestAppendText_Concatenates(t *testing.T) {
	s := NewStore()
	id := s.Append(RoleAssistant, "")

	s.AppendText(id, "a")
	s.AppendText(id, "b")

	msg, ok := s.Get(id)
	if !ok {
		t.Fatal("message not found")
	}
	if msg.Text != "ab" {
		t.Errorf("Text = %q, want %q", msg.Text, "ab")
	}
}

func TestAppendText_MissingIDIsNoop(t *testing.T) {
	s := NewStore()
	s.Append(RoleUser, "keep")

	s.AppendText("nonexistent", "x")

	if got := s.Messages()[0].Text; got != "keep" {
		t.Errorf("Text = %q, want unchanged", got)
	}
}

func TestRemove(t *testing.T) {
	s := NewStore()
	id1 := s.Append(RoleUser, "a")
	id2 := s.Append(RoleAssistant, "b")
	id3 := s.Append(RoleStatus, "c")

	s.Remove(id2)

	msgs := s.Messages()
	if len(msgs) != 2 {
		t.Fatalf("Len = %d, want 2", len(msgs))
	}
	if msgs[0].ID != id1 || msgs[1].ID != id3 {
		t.Error("remaining messages out of order")
	}

	// Removing again, or removing an unknown id, must not panic.
	s.Remove(id2)
	s.Remove("unknown")
}

func TestSetText(t *testing.T) {
	s := NewStore()
	id := s.Append(RoleAssistant, "placeholder")

	s.SetText(id, "final")

	msg, _ := s.Get(id)
	if msg.Text != "final" {
		t.Errorf("Text = %q, want %q", msg.Text, "final")
	}

	s.SetText("unknown", "x") // no-op
}

func TestClear_RestoresEmptyState(t *testing.T) {
	s := NewStore()
	if !s.Empty() {
		t.Error("new store should be empty")
	}

	s.Append(RoleUser, "a")
	if s.Empty() {
		t.Error("store with messages should not be empty")
	}

	s.Clear()
	if !s.Empty() {
		t.Error("cleared store should be empty")
	}
}

func TestIDsNotReusedAfterRemove(t *testing.T) {
	s := NewStore()
	seen := make(map[MessageID]bool)

	for i := 0; i < 50; i++ {
		id := s.Append(RoleUser, "m")
		if seen[id] {
			t.Fatalf("id %s reused", id)
		}
		seen[id] = true
		s.Remove(id)
	}
}

func TestMessages_ReturnsSnapshot(t *testing.T) {
	s := NewStore()
	id := s.Append(RoleAssistant, "original")

	snapshot := s.Messages()
	snapshot[0].Text = "mutated"

	msg, _ := s.Get(id)
	if msg.Text != "original" {
		t.Error("mutating the snapshot must not affect the store")
	}
}
