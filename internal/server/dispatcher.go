// Package server maintains the table of socket event handlers and dispatches
// inbound events to every handler registered for them.
package server

import (
	"context"
	"encoding/json"
	"log"
	"sync"
)

// EventHandler consumes one inbound socket event for a connection.
type EventHandler func(ctx context.Context, c *Client, data json.RawMessage)

// Dispatcher routes inbound socket events to registered handlers. Multiple
// handlers may observe one event name; Register returns a token that
// removes exactly that handler, so registrations never overwrite each
// other. A panicking handler is recovered and logged without affecting the
// other handlers, the connection, or the process.
type Dispatcher struct {
	mu       sync.RWMutex
	nextID   int
	handlers map[string]map[int]EventHandler
}

// NewDispatcher creates an empty dispatch table.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{handlers: make(map[string]map[int]EventHandler)}
}

// Register adds a handler for an event name and returns its removal token.
func (d *Dispatcher) Register(event string, h EventHandler) int {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.nextID++
	id := d.nextID
	if d.handlers[event] == nil {
		d.handlers[event] = make(map[int]EventHandler)
	}
	d.handlers[event][id] = h
	return id
}

// Remove deletes a previously registered handler. Unknown tokens are
// ignored.
func (d *Dispatcher) Remove(event string, id int) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if hs, ok := d.handlers[event]; ok {
		delete(hs, id)
		if len(hs) == 0 {
			delete(d.handlers, event)
		}
	}
}

// Dispatch invokes every handler registered for the event with the raw
// payload.
func (d *Dispatcher) Dispatch(ctx context.Context, c *Client, event string, data json.RawMessage) {
	d.mu.RLock()
	snapshot := make([]EventHandler, 0, len(d.handlers[event]))
	for _, h := range d.handlers[event] {
		snapshot = append(snapshot, h)
	}
	d.mu.RUnlock()

	if len(snapshot) == 0 {
		log.Printf("No handler registered for event %q from %s", event, c.addr)
		return
	}

	for _, h := range snapshot {
		d.invoke(ctx, c, event, data, h)
	}
}

func (d *Dispatcher) invoke(ctx context.Context, c *Client, event string, data json.RawMessage, h EventHandler) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("Recovered from panic in %q handler for %s: %v", event, c.addr, r)
		}
	}()
	h(ctx, c, data)
}

func (d *Dispatcher) handlerCount(event string) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.handlers[event])
}
