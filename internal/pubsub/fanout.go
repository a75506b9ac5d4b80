// Package pubsub bridges local socket delivery with a shared broadcast
// channel so every instance's clients see each room message exactly once.
//
// Publishing through the Fanout is the only path by which a frame reaches
// any socket, local or remote: the publishing instance receives its own
// publishes through the same subscription as everyone else, which removes
// the double-delivery hazard of broadcasting locally and relaying remotely.
package pubsub

import (
	"context"
	"log"
	"sync"
)

// Handler consumes a raw payload published to a room.
type Handler func(payload []byte)

// Channel is the shared broker collaborator. Subscribe replaces any existing
// handler for the channel, so re-subscribing after a retained subscription
// is safe. Publish must deliver to every subscriber of the channel,
// including the publisher's own.
type Channel interface {
	Subscribe(ctx context.Context, channel string, h Handler) error
	Unsubscribe(ctx context.Context, channel string) error
	Publish(ctx context.Context, channel string, payload []byte) error
	SubscriberCount(ctx context.Context, channel string) (int64, error)
}

// Fanout reference-counts room subscriptions on this instance. Only the
// first local subscriber for a room opens the underlying channel
// subscription; later calls just bump the count.
type Fanout struct {
	channel Channel

	mu   sync.Mutex
	refs map[string]int
}

// NewFanout creates a fan-out over the given shared channel.
func NewFanout(channel Channel) *Fanout {
	return &Fanout{
		channel: channel,
		refs:    make(map[string]int),
	}
}

func roomChannel(roomID string) string {
	return "room:" + roomID
}

// Subscribe registers interest in a room on behalf of one local member.
// Redundant calls while the room is already subscribed are no-ops beyond
// the reference count.
func (f *Fanout) Subscribe(ctx context.Context, roomID string, h Handler) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.refs[roomID] > 0 {
		f.refs[roomID]++
		return nil
	}
	if err := f.channel.Subscribe(ctx, roomChannel(roomID), h); err != nil {
		return err
	}
	f.refs[roomID] = 1
	return nil
}

// Unsubscribe drops one local member's interest in a room. When the last
// local reference is released, the underlying channel subscription is torn
// down only if the shared subscriber count says this instance is the last
// one listening.
func (f *Fanout) Unsubscribe(ctx context.Context, roomID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	n := f.refs[roomID]
	if n == 0 {
		return nil
	}
	if n > 1 {
		f.refs[roomID] = n - 1
		return nil
	}
	delete(f.refs, roomID)

	count, err := f.channel.SubscriberCount(ctx, roomChannel(roomID))
	if err != nil {
		// Without a count we cannot tell whether anyone else is listening;
		// with zero local refs, holding the subscription would only leak.
		log.Printf("Subscriber count unavailable for room %s, tearing down: %v", roomID, err)
		count = 0
	}
	if count <= 1 {
		return f.channel.Unsubscribe(ctx, roomChannel(roomID))
	}
	return nil
}

// Publish delivers a payload to every instance's handler for the room,
// including this one's.
func (f *Fanout) Publish(ctx context.Context, roomID string, payload []byte) error {
	return f.channel.Publish(ctx, roomChannel(roomID), payload)
}
