package store

import (
	"context"
	"sync"
	"time"
)

// MemoryStore backs PersistenceStore with maps. Used when no DATABASE_URL
// is configured and throughout the tests.
type MemoryStore struct {
	mu       sync.Mutex
	users    map[string]User
	messages []Message
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{users: make(map[string]User)}
}

// AddUser seeds a user record.
func (s *MemoryStore) AddUser(u User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = u
}

// FindUser looks up a user by id, returning (nil, nil) when absent.
func (s *MemoryStore) FindUser(_ context.Context, id string) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return nil, nil
	}
	return &u, nil
}

// SaveMessage appends the message, filling CreatedAt if the caller left it
// zero.
func (s *MemoryStore) SaveMessage(_ context.Context, msg Message) (SavedMessage, error) {
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, msg)
	return SavedMessage{ID: msg.ID, CreatedAt: msg.CreatedAt}, nil
}

// Messages returns the stored messages for a room in insertion order.
func (s *MemoryStore) Messages(roomID string) []Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Message
	for _, m := range s.messages {
		if m.RoomID == roomID {
			out = append(out, m)
		}
	}
	return out
}
