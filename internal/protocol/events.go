// Package protocol defines the JSON socket frames exchanged between RoomChat
// clients and the server, together with helpers for encoding outbound events.
//
// Every message in either direction is wrapped in a Frame envelope carrying
// the event name and a raw payload, so new event types can be added without
// touching the transport layer.
package protocol

import (
	"encoding/json"
	"time"
)

// Client to server event names.
const (
	EventJoin    = "join"
	EventLeave   = "leave"
	EventMessage = "message"
)

// Server to client event names.
const (
	EventJoinSuccess  = "joinSuccess"
	EventJoinError    = "joinError"
	EventUserJoined   = "userJoined"
	EventUserLeft     = "userLeft"
	EventUserList     = "userList"
	EventMessageError = "messageError"
)

// Frame is the envelope for every socket message in either direction.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// UserInfo identifies a connected user within a room. It is ephemeral state:
// the presence registry owns it and it is never persisted.
type UserInfo struct {
	UserID       string `json:"userId"`
	Username     string `json:"username"`
	ConnectionID string `json:"connectionId"`
}

// JoinRequest asks to join a room as an existing user.
type JoinRequest struct {
	Username string `json:"username"`
	UserID   string `json:"userId"`
	RoomID   string `json:"roomId"`
}

// LeaveRequest asks to leave a room.
type LeaveRequest struct {
	UserID string `json:"userId"`
	RoomID string `json:"roomId"`
}

// MessageRequest submits a chat message to a room.
type MessageRequest struct {
	Text   string `json:"text"`
	UserID string `json:"userId"`
	RoomID string `json:"roomId"`
}

// JoinSuccess confirms a completed join to the requesting socket only.
type JoinSuccess struct {
	RoomID string   `json:"roomId"`
	User   UserInfo `json:"user"`
}

// JoinError reports a rejected join. ResetTime is set (unix milliseconds)
// when the rejection came from the rate limiter.
type JoinError struct {
	Error     string `json:"error"`
	ResetTime int64  `json:"resetTime,omitempty"`
}

// UserJoined announces a new room member to everyone in the room.
type UserJoined struct {
	User UserInfo `json:"user"`
}

// UserLeft announces a departed room member to everyone in the room.
type UserLeft struct {
	UserID string `json:"userId"`
}

// UserList carries a snapshot of the room's current members.
type UserList struct {
	Users []UserInfo `json:"users"`
}

// MessageEvent is the broadcast form of a chat message. ID and CreatedAt are
// assigned by the server before persistence, so they are stable whether or
// not the durable write succeeded.
type MessageEvent struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	User      string    `json:"user"`
	UserID    string    `json:"userId"`
	RoomID    string    `json:"roomId"`
	CreatedAt time.Time `json:"createdAt"`
}

// MessageError reports a rejected message. ResetTime is set (unix
// milliseconds) when the rejection came from the rate limiter.
type MessageError struct {
	Error     string `json:"error"`
	ResetTime int64  `json:"resetTime,omitempty"`
}

// Encode marshals an event payload into a framed wire message.
func Encode(event string, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Frame{Event: event, Data: raw})
}
