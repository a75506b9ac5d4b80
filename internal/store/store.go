// Package store defines the persistence collaborator the room coordination
// core validates users against and writes durable messages through, with a
// Postgres implementation for production and an in-memory one for
// single-binary development and tests.
package store

import (
	"context"
	"time"
)

// User is the durable account record the core validates against. Creation
// and authentication live in the account service, not here.
type User struct {
	ID       string
	Username string
}

// Message is the durable form of a chat message. ID and CreatedAt are
// assigned by the caller before the write, so the broadcast identity never
// depends on whether the write succeeded.
type Message struct {
	ID        string
	Content   string
	UserID    string
	RoomID    string
	CreatedAt time.Time
}

// SavedMessage reports the stored identity of a message. CreatedAt may be
// refined by the database clock.
type SavedMessage struct {
	ID        string
	CreatedAt time.Time
}

// PersistenceStore is the collaborator interface consumed by the event
// router. FindUser returns (nil, nil) when the user does not exist.
type PersistenceStore interface {
	FindUser(ctx context.Context, id string) (*User, error)
	SaveMessage(ctx context.Context, msg Message) (SavedMessage, error)
}
