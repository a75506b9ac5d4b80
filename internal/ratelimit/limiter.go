// Package ratelimit enforces fixed-window per-action rate limits that are
// shared across server instances through an atomic counter store.
//
// The limiter never reads and then increments in separate steps: the single
// IncrementWithExpiry round trip both counts the request and starts the
// window, so two concurrent requests against the shared store can never both
// slip under the limit. When the store is unreachable the limiter degrades
// to a per-key local token bucket rather than enforcing nothing at all.
package ratelimit

import (
	"context"
	"fmt"
	"log"
	"time"
)

// Action names a rate-limited operation.
type Action string

// Actions tracked by the limiter. ActionGlobal is keyed by client IP rather
// than user id.
const (
	ActionMessages Action = "messages"
	ActionJoins    Action = "joins"
	ActionGlobal   Action = "global"
)

// Window defines a fixed-window limit for one action.
type Window struct {
	Limit  int
	Period time.Duration
}

// DefaultWindows returns the production limits: 10 messages, 5 joins, and
// 100 global requests per IP, each per 60 seconds.
func DefaultWindows() map[Action]Window {
	return map[Action]Window{
		ActionMessages: {Limit: 10, Period: time.Minute},
		ActionJoins:    {Limit: 5, Period: time.Minute},
		ActionGlobal:   {Limit: 100, Period: time.Minute},
	}
}

// Result is the outcome of a limit check.
type Result struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

// ActionStatus reports the current counter state for one action without
// mutating it.
type ActionStatus struct {
	Count     int64
	Remaining int
	ResetAt   time.Time
}

// CounterStore is the shared counter collaborator. IncrementWithExpiry must
// be atomic: it increments the counter, starts the TTL on first use, and
// returns the new count in one round trip.
type CounterStore interface {
	Get(ctx context.Context, key string) (int64, error)
	IncrementWithExpiry(ctx context.Context, key string, ttl time.Duration) (int64, error)
	TTL(ctx context.Context, key string) (time.Duration, error)
	Delete(ctx context.Context, key string) error
}

// Limiter checks and increments fixed-window counters per subject and
// action.
type Limiter struct {
	store    CounterStore
	windows  map[Action]Window
	fallback *localFallback
	now      func() time.Time
}

// Option customizes a Limiter.
type Option func(*Limiter)

// WithLocalFallback enables degraded-mode enforcement: while the counter
// store is unreachable, requests are throttled by a per-key local token
// bucket instead of being waved through unconditionally.
func WithLocalFallback() Option {
	return func(l *Limiter) { l.fallback = newLocalFallback() }
}

// WithClock overrides the limiter's time source.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// NewLimiter creates a limiter over the given store. A nil windows map
// selects DefaultWindows.
func NewLimiter(store CounterStore, windows map[Action]Window, opts ...Option) *Limiter {
	if windows == nil {
		windows = DefaultWindows()
	}
	l := &Limiter{
		store:   store,
		windows: windows,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func counterKey(subject string, action Action) string {
	if action == ActionGlobal {
		return "rate_limit:global:" + subject
	}
	return fmt.Sprintf("rate_limit:user:%s:%s", subject, action)
}

// Check counts one request for the subject and action and decides whether it
// is allowed. The request that would exceed the limit gets Allowed=false,
// Remaining=0, and a ResetAt derived from the counter's remaining TTL.
// Actions without a configured window are not limited.
func (l *Limiter) Check(ctx context.Context, subject string, action Action) Result {
	w, ok := l.windows[action]
	if !ok || w.Limit <= 0 {
		return Result{Allowed: true}
	}

	key := counterKey(subject, action)
	count, err := l.store.IncrementWithExpiry(ctx, key, w.Period)
	if err != nil {
		log.Printf("Rate limiter degraded, counter store unavailable for %s/%s: %v", subject, action, err)
		return l.degraded(key, w)
	}

	if count > int64(w.Limit) {
		resetAt := l.now().Add(w.Period)
		if ttl, err := l.store.TTL(ctx, key); err == nil && ttl > 0 {
			resetAt = l.now().Add(ttl)
		}
		return Result{Allowed: false, Remaining: 0, ResetAt: resetAt}
	}

	remaining := w.Limit - int(count)
	if remaining < 0 {
		remaining = 0
	}
	return Result{Allowed: true, Remaining: remaining, ResetAt: l.now().Add(w.Period)}
}

// degraded is the availability-over-enforcement path: without a fallback the
// request is allowed outright, with one it is throttled locally.
func (l *Limiter) degraded(key string, w Window) Result {
	resetAt := l.now().Add(w.Period)
	if l.fallback == nil || l.fallback.allow(key, w) {
		return Result{Allowed: true, Remaining: w.Limit, ResetAt: resetAt}
	}
	return Result{Allowed: false, Remaining: 0, ResetAt: resetAt}
}

// Reset deletes the counter for the subject and action immediately, so the
// next check starts a fresh window. Intended for tests and admin tooling.
func (l *Limiter) Reset(ctx context.Context, subject string, action Action) error {
	return l.store.Delete(ctx, counterKey(subject, action))
}

// Status reports the current counter state for each user-keyed action
// without incrementing anything.
func (l *Limiter) Status(ctx context.Context, subject string) (map[Action]ActionStatus, error) {
	out := make(map[Action]ActionStatus)
	for action, w := range l.windows {
		if action == ActionGlobal {
			// Keyed by IP, not by user subject.
			continue
		}
		key := counterKey(subject, action)
		count, err := l.store.Get(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("rate limit status for %s/%s: %w", subject, action, err)
		}
		resetAt := l.now()
		if ttl, err := l.store.TTL(ctx, key); err == nil && ttl > 0 {
			resetAt = l.now().Add(ttl)
		}
		remaining := w.Limit - int(count)
		if remaining < 0 {
			remaining = 0
		}
		out[action] = ActionStatus{Count: count, Remaining: remaining, ResetAt: resetAt}
	}
	return out, nil
}
