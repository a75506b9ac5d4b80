package ratelimit

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// incrWithExpiry increments the counter and starts its TTL in one atomic
// server-side script, so concurrent checks from different instances can
// never both observe "under limit" for the last remaining slot.
var incrWithExpiry = redis.NewScript(`
local count = redis.call('INCR', KEYS[1])
if count == 1 then
	redis.call('EXPIRE', KEYS[1], ARGV[1])
end
return count
`)

// RedisCounterStore implements CounterStore on a shared Redis instance so
// every server process enforces the same window.
type RedisCounterStore struct {
	rdb *redis.Client
}

// NewRedisCounterStore creates a counter store backed by the given client.
func NewRedisCounterStore(rdb *redis.Client) *RedisCounterStore {
	return &RedisCounterStore{rdb: rdb}
}

// Get returns the current count for a key, or zero when the counter does not
// exist.
func (s *RedisCounterStore) Get(ctx context.Context, key string) (int64, error) {
	count, err := s.rdb.Get(ctx, key).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return count, err
}

// IncrementWithExpiry atomically increments the counter, starting the TTL on
// first use, and returns the new count.
func (s *RedisCounterStore) IncrementWithExpiry(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	seconds := int(ttl / time.Second)
	if seconds < 1 {
		seconds = 1
	}
	return incrWithExpiry.Run(ctx, s.rdb, []string{key}, seconds).Int64()
}

// TTL returns the counter's remaining lifetime, or zero when the key does
// not exist or has no expiry.
func (s *RedisCounterStore) TTL(ctx context.Context, key string) (time.Duration, error) {
	d, err := s.rdb.TTL(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, nil
	}
	return d, nil
}

// Delete removes the counter immediately.
func (s *RedisCounterStore) Delete(ctx context.Context, key string) error {
	return s.rdb.Del(ctx, key).Err()
}
