package pubsub

import (
	"context"
	"sync"
)

// MemoryChannel is an in-process Channel for single-instance deployments and
// tests. Channels created with Join share one broker, which makes
// cross-instance fan-out observable without a running Redis.
type MemoryChannel struct {
	broker *memoryBroker
}

type memoryBroker struct {
	mu       sync.Mutex
	handlers map[string]map[*MemoryChannel]Handler
}

// NewMemoryChannel creates a channel with its own private broker.
func NewMemoryChannel() *MemoryChannel {
	return &MemoryChannel{
		broker: &memoryBroker{
			handlers: make(map[string]map[*MemoryChannel]Handler),
		},
	}
}

// Join returns a new channel attached to the same broker, standing in for
// another server instance sharing the broker.
func (c *MemoryChannel) Join() *MemoryChannel {
	return &MemoryChannel{broker: c.broker}
}

// Subscribe registers the handler for a channel, replacing any existing one
// held by this instance.
func (c *MemoryChannel) Subscribe(_ context.Context, channel string, h Handler) error {
	b := c.broker
	b.mu.Lock()
	defer b.mu.Unlock()

	subs, ok := b.handlers[channel]
	if !ok {
		subs = make(map[*MemoryChannel]Handler)
		b.handlers[channel] = subs
	}
	subs[c] = h
	return nil
}

// Unsubscribe drops this instance's handler for the channel.
func (c *MemoryChannel) Unsubscribe(_ context.Context, channel string) error {
	b := c.broker
	b.mu.Lock()
	defer b.mu.Unlock()

	if subs, ok := b.handlers[channel]; ok {
		delete(subs, c)
		if len(subs) == 0 {
			delete(b.handlers, channel)
		}
	}
	return nil
}

// Publish delivers the payload to every subscribed instance, including the
// publisher.
func (c *MemoryChannel) Publish(_ context.Context, channel string, payload []byte) error {
	b := c.broker
	b.mu.Lock()
	handlers := make([]Handler, 0, len(b.handlers[channel]))
	for _, h := range b.handlers[channel] {
		handlers = append(handlers, h)
	}
	b.mu.Unlock()

	for _, h := range handlers {
		h(payload)
	}
	return nil
}

// SubscriberCount reports how many instances hold a subscription to the
// channel.
func (c *MemoryChannel) SubscriberCount(_ context.Context, channel string) (int64, error) {
	b := c.broker
	b.mu.Lock()
	defer b.mu.Unlock()

	return int64(len(b.handlers[channel])), nil
}
