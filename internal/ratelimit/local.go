package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// fallbackMaxEntries caps the fallback cache; idle entries are pruned once
// the map grows past it.
const fallbackMaxEntries = 1024

// localFallback keeps per-key token buckets that are consulted only while
// the shared counter store is unreachable. The bucket refills at
// limit/period with a burst of one full window, approximating the fixed
// window without any shared state.
type localFallback struct {
	mu      sync.Mutex
	entries map[string]*fallbackEntry
	idleTTL time.Duration
}

type fallbackEntry struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

func newLocalFallback() *localFallback {
	return &localFallback{
		entries: make(map[string]*fallbackEntry),
		idleTTL: 15 * time.Minute,
	}
}

func (f *localFallback) allow(key string, w Window) bool {
	now := time.Now()

	f.mu.Lock()
	defer f.mu.Unlock()

	ent, ok := f.entries[key]
	if !ok {
		if len(f.entries) >= fallbackMaxEntries {
			f.pruneLocked(now)
		}
		rps := float64(w.Limit) / w.Period.Seconds()
		ent = &fallbackEntry{lim: rate.NewLimiter(rate.Limit(rps), w.Limit)}
		f.entries[key] = ent
	}
	ent.lastSeen = now
	return ent.lim.Allow()
}

func (f *localFallback) pruneLocked(now time.Time) {
	cutoff := now.Add(-f.idleTTL)
	for k, ent := range f.entries {
		if ent.lastSeen.Before(cutoff) {
			delete(f.entries, k)
		}
	}
}
