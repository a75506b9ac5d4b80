// Package server implements the connection event router: the per-connection
// protocol state machine that wires the rate limiter, presence registry,
// persistence store, and pub/sub fan-out together.
package server

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Tyrowin/roomchat/internal/presence"
	"github.com/Tyrowin/roomchat/internal/protocol"
	"github.com/Tyrowin/roomchat/internal/pubsub"
	"github.com/Tyrowin/roomchat/internal/ratelimit"
	"github.com/Tyrowin/roomchat/internal/store"
)

// connState tracks where a connection is in the join lifecycle.
type connState int

const (
	stateConnected connState = iota
	stateJoinPending
	stateJoined
	stateDisconnected
)

// Router dispatches inbound socket events through its handler table and
// applies the protocol state machine per connection. Every room-directed
// frame leaves through the fan-out publish path; the router never writes
// room broadcasts straight to local sockets, which is what guarantees each
// client sees a message exactly once.
type Router struct {
	presence   *presence.Registry
	limiter    *ratelimit.Limiter
	store      store.PersistenceStore
	fanout     *pubsub.Fanout
	hub        *Hub
	dispatcher *Dispatcher

	mu    sync.Mutex
	conns map[string]connState

	newID func() string
	now   func() time.Time
}

// NewRouter creates a router over the given collaborators and registers the
// protocol event handlers.
func NewRouter(reg *presence.Registry, limiter *ratelimit.Limiter, st store.PersistenceStore, fanout *pubsub.Fanout, hub *Hub) *Router {
	r := &Router{
		presence:   reg,
		limiter:    limiter,
		store:      st,
		fanout:     fanout,
		hub:        hub,
		dispatcher: NewDispatcher(),
		conns:      make(map[string]connState),
		newID:      uuid.NewString,
		now:        time.Now,
	}
	r.dispatcher.Register(protocol.EventJoin, r.guard(protocol.EventJoinError, r.handleJoin))
	r.dispatcher.Register(protocol.EventLeave, r.guard("", r.handleLeave))
	r.dispatcher.Register(protocol.EventMessage, r.guard(protocol.EventMessageError, r.handleMessage))
	return r
}

// guard isolates a handler failure to the triggering event: a panic is
// recovered, logged, and reported to the client as the handler's error
// event. The connection and the process keep running.
func (r *Router) guard(errEvent string, h EventHandler) EventHandler {
	return func(ctx context.Context, c *Client, data json.RawMessage) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			log.Printf("Recovered from panic in event handler for %s: %v", c.addr, rec)
			switch errEvent {
			case protocol.EventJoinError:
				r.sendEvent(c, errEvent, protocol.JoinError{Error: "Internal server error"})
			case protocol.EventMessageError:
				r.sendEvent(c, errEvent, protocol.MessageError{Error: "Internal server error"})
			}
		}()
		h(ctx, c, data)
	}
}

// Dispatcher exposes the event dispatch table so additional handlers can be
// registered and removed.
func (r *Router) Dispatcher() *Dispatcher {
	return r.dispatcher
}

// Attach starts tracking a connection in the Connected state. Must be
// called before the client's read pump delivers events.
func (r *Router) Attach(c *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[c.id] = stateConnected
}

func (r *Router) connActive(connectionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.conns[connectionID]
	return ok && s != stateDisconnected
}

func (r *Router) setState(connectionID string, s connState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.conns[connectionID]; ok && cur != stateDisconnected {
		r.conns[connectionID] = s
	}
}

// DispatchFrame parses an inbound frame and hands it to the event handlers.
// Handlers may block on persistence or counter round trips, so each event
// runs off the read loop and the connection keeps processing. Ordering
// across a connection's in-flight events is therefore not guaranteed;
// handlers check current membership instead of assuming it.
func (r *Router) DispatchFrame(c *Client, raw []byte) {
	var frame protocol.Frame
	if err := json.Unmarshal(raw, &frame); err != nil {
		log.Printf("Invalid frame from %s: %v", c.addr, err)
		return
	}
	if frame.Event == "" {
		log.Printf("Frame without event name from %s", c.addr)
		return
	}

	go r.dispatcher.Dispatch(context.Background(), c, frame.Event, frame.Data)
}

// HandleDisconnect removes the connection's memberships from every room and
// announces each departure. It runs unconditionally when the read pump
// exits and is safe to run concurrently with in-flight handlers for the
// same connection: the registry scan is idempotent and late joins undo
// themselves once they observe the Disconnected state.
func (r *Router) HandleDisconnect(c *Client) {
	ctx := context.Background()

	r.mu.Lock()
	if _, ok := r.conns[c.id]; ok {
		r.conns[c.id] = stateDisconnected
	}
	r.mu.Unlock()

	removed := r.presence.RemoveAllForConnection(c.id)
	for roomID, userIDs := range removed {
		for _, userID := range userIDs {
			r.publish(ctx, roomID, protocol.EventUserLeft, protocol.UserLeft{UserID: userID})
		}
		r.publish(ctx, roomID, protocol.EventUserList, protocol.UserList{Users: r.presence.List(roomID)})
		// The connection held one fan-out reference per membership.
		for range userIDs {
			if err := r.fanout.Unsubscribe(ctx, roomID); err != nil {
				log.Printf("Error unsubscribing room %s on disconnect: %v", roomID, err)
			}
		}
	}

	r.mu.Lock()
	delete(r.conns, c.id)
	r.mu.Unlock()
}

func (r *Router) handleJoin(ctx context.Context, c *Client, data json.RawMessage) {
	var req protocol.JoinRequest
	if err := json.Unmarshal(data, &req); err != nil || req.UserID == "" || req.RoomID == "" {
		r.sendEvent(c, protocol.EventJoinError, protocol.JoinError{Error: "Invalid join request"})
		return
	}
	if !r.connActive(c.id) {
		return
	}
	r.setState(c.id, stateJoinPending)

	res := r.limiter.Check(ctx, req.UserID, ratelimit.ActionJoins)
	if !res.Allowed {
		log.Printf("Join rate limit exceeded for user %s", req.UserID)
		r.sendEvent(c, protocol.EventJoinError, protocol.JoinError{
			Error:     "Rate limit exceeded. Too many room joins. Please wait before trying again.",
			ResetTime: res.ResetAt.UnixMilli(),
		})
		r.setState(c.id, stateConnected)
		return
	}

	user, err := r.store.FindUser(ctx, req.UserID)
	if err != nil {
		log.Printf("User lookup failed for %s: %v", req.UserID, err)
		r.sendEvent(c, protocol.EventJoinError, protocol.JoinError{Error: "Failed to join room"})
		r.setState(c.id, stateConnected)
		return
	}
	if user == nil {
		r.sendEvent(c, protocol.EventJoinError, protocol.JoinError{Error: "User not found"})
		r.setState(c.id, stateConnected)
		return
	}

	info := protocol.UserInfo{UserID: user.ID, Username: user.Username, ConnectionID: c.id}
	added := r.presence.Add(req.RoomID, info)
	if added {
		if err := r.fanout.Subscribe(ctx, req.RoomID, r.roomDelivery(req.RoomID)); err != nil {
			log.Printf("Room subscription failed for %s: %v", req.RoomID, err)
			r.presence.Remove(req.RoomID, user.ID)
			r.sendEvent(c, protocol.EventJoinError, protocol.JoinError{Error: "Failed to join room"})
			r.setState(c.id, stateConnected)
			return
		}
	}

	// A disconnect may have raced the blocking calls above. Undo only what
	// this handler still owns: when cleanup already removed the membership
	// it also released the fan-out reference, and releasing it again here
	// would tear the room subscription away from members who joined since.
	if !r.connActive(c.id) {
		if added && r.presence.Remove(req.RoomID, user.ID) {
			if err := r.fanout.Unsubscribe(ctx, req.RoomID); err != nil {
				log.Printf("Error unsubscribing room %s after raced join: %v", req.RoomID, err)
			}
		}
		return
	}
	r.setState(c.id, stateJoined)

	log.Printf("User %s (%s) joined room %s", user.Username, user.ID, req.RoomID)
	r.publish(ctx, req.RoomID, protocol.EventUserJoined, protocol.UserJoined{User: info})
	r.sendEvent(c, protocol.EventUserList, protocol.UserList{Users: r.presence.List(req.RoomID)})
	r.sendEvent(c, protocol.EventJoinSuccess, protocol.JoinSuccess{RoomID: req.RoomID, User: info})
}

func (r *Router) handleLeave(ctx context.Context, c *Client, data json.RawMessage) {
	var req protocol.LeaveRequest
	if err := json.Unmarshal(data, &req); err != nil || req.UserID == "" || req.RoomID == "" {
		return
	}

	// Events for one connection may complete out of order; only a current
	// member can leave.
	member, ok := r.presence.Member(req.RoomID, req.UserID)
	if !ok || !r.presence.Remove(req.RoomID, req.UserID) {
		return
	}

	log.Printf("User %s left room %s", req.UserID, req.RoomID)
	r.publish(ctx, req.RoomID, protocol.EventUserLeft, protocol.UserLeft{UserID: req.UserID})
	r.publish(ctx, req.RoomID, protocol.EventUserList, protocol.UserList{Users: r.presence.List(req.RoomID)})
	if err := r.fanout.Unsubscribe(ctx, req.RoomID); err != nil {
		log.Printf("Error unsubscribing room %s on leave: %v", req.RoomID, err)
	}
	// The state transition belongs to the connection that held the
	// membership, which is not necessarily the one that sent the event.
	if member.ConnectionID == c.id {
		r.setState(c.id, stateConnected)
	}
}

func (r *Router) handleMessage(ctx context.Context, c *Client, data json.RawMessage) {
	var req protocol.MessageRequest
	if err := json.Unmarshal(data, &req); err != nil || req.UserID == "" || req.RoomID == "" {
		r.sendEvent(c, protocol.EventMessageError, protocol.MessageError{Error: "Invalid message"})
		return
	}

	res := r.limiter.Check(ctx, req.UserID, ratelimit.ActionMessages)
	if !res.Allowed {
		log.Printf("Message rate limit exceeded for user %s", req.UserID)
		r.sendEvent(c, protocol.EventMessageError, protocol.MessageError{
			Error:     "Rate limit exceeded. Too many messages. Please wait before sending another message.",
			ResetTime: res.ResetAt.UnixMilli(),
		})
		return
	}

	user, err := r.store.FindUser(ctx, req.UserID)
	if err != nil {
		log.Printf("User lookup failed for %s: %v", req.UserID, err)
		r.sendEvent(c, protocol.EventMessageError, protocol.MessageError{Error: "Failed to send message"})
		return
	}
	if user == nil {
		r.sendEvent(c, protocol.EventMessageError, protocol.MessageError{Error: "User not found"})
		return
	}

	// The broadcast identity is assigned here, before the durable write, so
	// clients can deduplicate on the id whether or not the write succeeds.
	msg := store.Message{
		ID:        r.newID(),
		Content:   req.Text,
		UserID:    user.ID,
		RoomID:    req.RoomID,
		CreatedAt: r.now().UTC(),
	}
	saved, err := r.store.SaveMessage(ctx, msg)
	if err != nil {
		log.Printf("Message %s delivered without durability, save failed: %v", msg.ID, err)
		saved = store.SavedMessage{ID: msg.ID, CreatedAt: msg.CreatedAt}
	}

	r.publish(ctx, req.RoomID, protocol.EventMessage, protocol.MessageEvent{
		ID:        saved.ID,
		Text:      req.Text,
		User:      user.Username,
		UserID:    user.ID,
		RoomID:    req.RoomID,
		CreatedAt: saved.CreatedAt,
	})
}

// roomDelivery is the fan-out handler that lands published frames on this
// instance's sockets. Local delivery is just one more subscriber of the
// shared channel.
func (r *Router) roomDelivery(roomID string) pubsub.Handler {
	return func(payload []byte) {
		r.hub.DeliverToRoom(roomID, payload)
	}
}

func (r *Router) publish(ctx context.Context, roomID, event string, payload any) {
	frame, err := protocol.Encode(event, payload)
	if err != nil {
		log.Printf("Error encoding %s event for room %s: %v", event, roomID, err)
		return
	}
	if err := r.fanout.Publish(ctx, roomID, frame); err != nil {
		log.Printf("Error publishing %s event to room %s: %v", event, roomID, err)
	}
}

func (r *Router) sendEvent(c *Client, event string, payload any) {
	frame, err := protocol.Encode(event, payload)
	if err != nil {
		log.Printf("Error encoding %s event for %s: %v", event, c.addr, err)
		return
	}
	r.hub.SendTo(c.id, frame)
}
