package store

import (
	"context"
	"testing"
	"time"
)

// TestMemoryStoreFindUser verifies the (nil, nil) contract for unknown users.
func TestMemoryStoreFindUser(t *testing.T) {
	s := NewMemoryStore()
	s.AddUser(User{ID: "u1", Username: "alice"})

	u, err := s.FindUser(context.Background(), "u1")
	if err != nil || u == nil || u.Username != "alice" {
		t.Fatalf("FindUser(u1) = %v, %v", u, err)
	}

	u, err = s.FindUser(context.Background(), "missing")
	if err != nil {
		t.Fatalf("unexpected error for missing user: %v", err)
	}
	if u != nil {
		t.Errorf("expected nil user for missing id, got %v", u)
	}
}

// TestMemoryStoreSaveMessage verifies that the caller-assigned identity is
// preserved and messages are filed per room.
func TestMemoryStoreSaveMessage(t *testing.T) {
	s := NewMemoryStore()
	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	saved, err := s.SaveMessage(context.Background(), Message{
		ID: "m1", Content: "hi", UserID: "u1", RoomID: "r1", CreatedAt: at,
	})
	if err != nil {
		t.Fatalf("SaveMessage: %v", err)
	}
	if saved.ID != "m1" || !saved.CreatedAt.Equal(at) {
		t.Errorf("saved identity = %+v, want m1 at %v", saved, at)
	}

	if got := len(s.Messages("r1")); got != 1 {
		t.Errorf("r1 has %d messages, want 1", got)
	}
	if got := len(s.Messages("r2")); got != 0 {
		t.Errorf("r2 has %d messages, want 0", got)
	}
}
