package pubsub

import (
	"context"
	"sync"

	"github.com/redis/go-redis/v9"
)

// RedisChannel implements Channel on Redis pub/sub. One subscriber
// connection serves every room channel; a single receive goroutine
// dispatches incoming payloads to the handler registered for each channel.
type RedisChannel struct {
	rdb *redis.Client

	mu       sync.Mutex
	handlers map[string]Handler
	sub      *redis.PubSub
}

// NewRedisChannel creates a channel over the given client. The subscriber
// connection is opened lazily on the first Subscribe.
func NewRedisChannel(rdb *redis.Client) *RedisChannel {
	return &RedisChannel{
		rdb:      rdb,
		handlers: make(map[string]Handler),
	}
}

// Subscribe registers the handler for a channel and joins it on the shared
// subscriber connection. An existing handler for the channel is replaced.
func (c *RedisChannel) Subscribe(ctx context.Context, channel string, h Handler) error {
	c.mu.Lock()
	if c.sub == nil {
		c.sub = c.rdb.Subscribe(ctx)
		go c.receive(c.sub)
	}
	c.handlers[channel] = h
	sub := c.sub
	c.mu.Unlock()

	return sub.Subscribe(ctx, channel)
}

func (c *RedisChannel) receive(sub *redis.PubSub) {
	for msg := range sub.Channel() {
		c.mu.Lock()
		h := c.handlers[msg.Channel]
		c.mu.Unlock()
		if h != nil {
			h([]byte(msg.Payload))
		}
	}
}

// Unsubscribe leaves the channel and drops its handler.
func (c *RedisChannel) Unsubscribe(ctx context.Context, channel string) error {
	c.mu.Lock()
	delete(c.handlers, channel)
	sub := c.sub
	c.mu.Unlock()

	if sub == nil {
		return nil
	}
	return sub.Unsubscribe(ctx, channel)
}

// Publish sends the payload to every subscriber of the channel across all
// instances.
func (c *RedisChannel) Publish(ctx context.Context, channel string, payload []byte) error {
	return c.rdb.Publish(ctx, channel, payload).Err()
}

// SubscriberCount reports how many connections are subscribed to the
// channel across all instances.
func (c *RedisChannel) SubscriberCount(ctx context.Context, channel string) (int64, error) {
	counts, err := c.rdb.PubSubNumSub(ctx, channel).Result()
	if err != nil {
		return 0, err
	}
	return counts[channel], nil
}

// Close shuts down the subscriber connection, ending the receive loop.
func (c *RedisChannel) Close() error {
	c.mu.Lock()
	sub := c.sub
	c.sub = nil
	c.mu.Unlock()

	if sub == nil {
		return nil
	}
	return sub.Close()
}
