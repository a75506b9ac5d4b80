package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"
)

// fakeClock provides a controllable time source shared by the limiter and
// the memory store in these tests.
type fakeClock struct {
	t time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestLimiter(windows map[Action]Window) (*Limiter, *MemoryCounterStore, *fakeClock) {
	clock := newFakeClock()
	store := NewMemoryCounterStore()
	store.now = clock.now
	limiter := NewLimiter(store, windows, WithClock(clock.now))
	return limiter, store, clock
}

// TestCheckCountsDownThenBlocks verifies the fixed-window sequence for the
// joins limit: five allowed checks with decreasing remaining values, then a
// blocked sixth with remaining zero and a reset roughly one window away.
func TestCheckCountsDownThenBlocks(t *testing.T) {
	limiter, _, clock := newTestLimiter(map[Action]Window{
		ActionJoins: {Limit: 5, Period: time.Minute},
	})
	ctx := context.Background()

	for i, wantRemaining := range []int{4, 3, 2, 1, 0} {
		res := limiter.Check(ctx, "u1", ActionJoins)
		if !res.Allowed {
			t.Fatalf("check %d: expected allowed", i+1)
		}
		if res.Remaining != wantRemaining {
			t.Errorf("check %d: remaining = %d, want %d", i+1, res.Remaining, wantRemaining)
		}
	}

	res := limiter.Check(ctx, "u1", ActionJoins)
	if res.Allowed {
		t.Fatal("sixth check within the window was allowed")
	}
	if res.Remaining != 0 {
		t.Errorf("blocked check remaining = %d, want 0", res.Remaining)
	}
	if got := res.ResetAt.Sub(clock.now()); got != time.Minute {
		t.Errorf("blocked check resets in %v, want %v", got, time.Minute)
	}
}

// TestWindowExpiryResetsCounter verifies that once the window elapses a
// subsequent check starts a fresh counter.
func TestWindowExpiryResetsCounter(t *testing.T) {
	limiter, _, clock := newTestLimiter(map[Action]Window{
		ActionMessages: {Limit: 10, Period: time.Minute},
	})
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		limiter.Check(ctx, "u1", ActionMessages)
	}
	if res := limiter.Check(ctx, "u1", ActionMessages); res.Allowed {
		t.Fatal("11th message within the window was allowed")
	}

	clock.advance(61 * time.Second)

	res := limiter.Check(ctx, "u1", ActionMessages)
	if !res.Allowed {
		t.Fatal("check after window expiry was blocked")
	}
	if res.Remaining != 9 {
		t.Errorf("remaining after fresh window = %d, want 9", res.Remaining)
	}
}

// TestResetRestoresFullWindow verifies that an explicit reset immediately
// restores the full allowance for that subject and action.
func TestResetRestoresFullWindow(t *testing.T) {
	limiter, _, _ := newTestLimiter(map[Action]Window{
		ActionJoins: {Limit: 5, Period: time.Minute},
	})
	ctx := context.Background()

	for i := 0; i < 6; i++ {
		limiter.Check(ctx, "u1", ActionJoins)
	}

	if err := limiter.Reset(ctx, "u1", ActionJoins); err != nil {
		t.Fatalf("Reset: %v", err)
	}

	res := limiter.Check(ctx, "u1", ActionJoins)
	if !res.Allowed {
		t.Fatal("check after reset was blocked")
	}
	if res.Remaining != 4 {
		t.Errorf("remaining after reset = %d, want 4", res.Remaining)
	}
}

// TestSubjectsAreIndependent verifies that one subject exhausting its window
// does not affect another.
func TestSubjectsAreIndependent(t *testing.T) {
	limiter, _, _ := newTestLimiter(map[Action]Window{
		ActionJoins: {Limit: 1, Period: time.Minute},
	})
	ctx := context.Background()

	limiter.Check(ctx, "u1", ActionJoins)
	if res := limiter.Check(ctx, "u1", ActionJoins); res.Allowed {
		t.Fatal("u1 should be blocked")
	}
	if res := limiter.Check(ctx, "u2", ActionJoins); !res.Allowed {
		t.Fatal("u2 blocked by u1's counter")
	}
}

// TestStatusDoesNotMutate verifies that Status reports counts and remaining
// allowance per action without consuming any of it.
func TestStatusDoesNotMutate(t *testing.T) {
	limiter, _, _ := newTestLimiter(map[Action]Window{
		ActionMessages: {Limit: 10, Period: time.Minute},
		ActionJoins:    {Limit: 5, Period: time.Minute},
		ActionGlobal:   {Limit: 100, Period: time.Minute},
	})
	ctx := context.Background()

	limiter.Check(ctx, "u1", ActionMessages)
	limiter.Check(ctx, "u1", ActionMessages)
	limiter.Check(ctx, "u1", ActionJoins)

	for i := 0; i < 3; i++ {
		status, err := limiter.Status(ctx, "u1")
		if err != nil {
			t.Fatalf("Status: %v", err)
		}
		if _, ok := status[ActionGlobal]; ok {
			t.Error("Status included the IP-keyed global action")
		}
		if got := status[ActionMessages]; got.Count != 2 || got.Remaining != 8 {
			t.Errorf("messages status = %+v, want count 2 remaining 8", got)
		}
		if got := status[ActionJoins]; got.Count != 1 || got.Remaining != 4 {
			t.Errorf("joins status = %+v, want count 1 remaining 4", got)
		}
	}
}

// erroringStore fails every operation, standing in for an unreachable
// counter store.
type erroringStore struct{}

var errDown = errors.New("store down")

func (erroringStore) Get(context.Context, string) (int64, error) { return 0, errDown }
func (erroringStore) IncrementWithExpiry(context.Context, string, time.Duration) (int64, error) {
	return 0, errDown
}
func (erroringStore) TTL(context.Context, string) (time.Duration, error) { return 0, errDown }
func (erroringStore) Delete(context.Context, string) error               { return errDown }

// TestFailOpenWithoutFallback verifies the availability tradeoff: with no
// local fallback configured, an unreachable store allows every request.
func TestFailOpenWithoutFallback(t *testing.T) {
	limiter := NewLimiter(erroringStore{}, map[Action]Window{
		ActionMessages: {Limit: 2, Period: time.Minute},
	})
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		if res := limiter.Check(ctx, "u1", ActionMessages); !res.Allowed {
			t.Fatalf("check %d blocked while failing open", i+1)
		}
	}
}

// TestDegradedModeFallsBackLocally verifies that with the local fallback
// enabled an unreachable store still enforces roughly one window's worth of
// requests.
func TestDegradedModeFallsBackLocally(t *testing.T) {
	limiter := NewLimiter(erroringStore{}, map[Action]Window{
		ActionMessages: {Limit: 3, Period: time.Hour},
	}, WithLocalFallback())
	ctx := context.Background()

	allowed := 0
	for i := 0; i < 10; i++ {
		if res := limiter.Check(ctx, "u1", ActionMessages); res.Allowed {
			allowed++
		}
	}
	// Burst equals the window limit; the hour-long period refills nothing
	// during the test.
	if allowed != 3 {
		t.Errorf("degraded mode allowed %d requests, want 3", allowed)
	}
}

// TestUnconfiguredActionIsUnlimited verifies that actions without a window
// are never blocked.
func TestUnconfiguredActionIsUnlimited(t *testing.T) {
	limiter, _, _ := newTestLimiter(map[Action]Window{})
	for i := 0; i < 50; i++ {
		if res := limiter.Check(context.Background(), "u1", ActionMessages); !res.Allowed {
			t.Fatal("unconfigured action was blocked")
		}
	}
}

// TestCounterKeyLayout verifies the key layout shared with other instances.
func TestCounterKeyLayout(t *testing.T) {
	if got := counterKey("u1", ActionMessages); got != "rate_limit:user:u1:messages" {
		t.Errorf("user key = %q", got)
	}
	if got := counterKey("10.0.0.1", ActionGlobal); got != "rate_limit:global:10.0.0.1" {
		t.Errorf("global key = %q", got)
	}
}
