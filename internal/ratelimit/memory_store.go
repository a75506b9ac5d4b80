package ratelimit

import (
	"context"
	"sync"
	"time"
)

// MemoryCounterStore is an in-process CounterStore for single-instance
// deployments and tests. It honors the same TTL semantics as the Redis
// store but shares nothing across processes.
type MemoryCounterStore struct {
	mu       sync.Mutex
	counters map[string]*memCounter
	now      func() time.Time
}

type memCounter struct {
	count     int64
	expiresAt time.Time
}

// NewMemoryCounterStore creates an empty in-memory counter store.
func NewMemoryCounterStore() *MemoryCounterStore {
	return &MemoryCounterStore{
		counters: make(map[string]*memCounter),
		now:      time.Now,
	}
}

func (s *MemoryCounterStore) liveLocked(key string) *memCounter {
	c, ok := s.counters[key]
	if !ok {
		return nil
	}
	if !s.now().Before(c.expiresAt) {
		delete(s.counters, key)
		return nil
	}
	return c
}

// Get returns the current count for a key, or zero when the counter does not
// exist or has expired.
func (s *MemoryCounterStore) Get(_ context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c := s.liveLocked(key); c != nil {
		return c.count, nil
	}
	return 0, nil
}

// IncrementWithExpiry increments the counter, starting the TTL on first use,
// and returns the new count.
func (s *MemoryCounterStore) IncrementWithExpiry(_ context.Context, key string, ttl time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.liveLocked(key)
	if c == nil {
		c = &memCounter{expiresAt: s.now().Add(ttl)}
		s.counters[key] = c
	}
	c.count++
	return c.count, nil
}

// TTL returns the counter's remaining lifetime, or zero when the key does
// not exist.
func (s *MemoryCounterStore) TTL(_ context.Context, key string) (time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c := s.liveLocked(key); c != nil {
		return c.expiresAt.Sub(s.now()), nil
	}
	return 0, nil
}

// Delete removes the counter immediately.
func (s *MemoryCounterStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.counters, key)
	return nil
}
