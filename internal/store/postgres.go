package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements PersistenceStore on a pgx connection pool. The
// schema it expects is in schema.sql.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// Connect creates a connection pool for the given connection string and
// verifies it with a ping.
func Connect(ctx context.Context, connString string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("parse connection string: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

// Close releases the connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// FindUser looks up a user by id, returning (nil, nil) when absent.
func (s *PostgresStore) FindUser(ctx context.Context, id string) (*User, error) {
	var u User
	err := s.pool.QueryRow(ctx,
		`SELECT id, username FROM users WHERE id = $1`, id,
	).Scan(&u.ID, &u.Username)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find user %s: %w", id, err)
	}
	return &u, nil
}

// SaveMessage writes the message under its caller-assigned id. The returned
// CreatedAt is the timestamp the row was stored with.
func (s *PostgresStore) SaveMessage(ctx context.Context, msg Message) (SavedMessage, error) {
	var createdAt time.Time
	err := s.pool.QueryRow(ctx,
		`INSERT INTO messages (id, content, user_id, room_id, created_at)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING created_at`,
		msg.ID, msg.Content, msg.UserID, msg.RoomID, msg.CreatedAt,
	).Scan(&createdAt)
	if err != nil {
		return SavedMessage{}, fmt.Errorf("save message %s: %w", msg.ID, err)
	}
	return SavedMessage{ID: msg.ID, CreatedAt: createdAt}, nil
}
