package security

import (
	"errors"
	"sync"
	"time"
)

// ErrRateLimited is returned when a caller exceeds the request limit.
var ErrRateLimited = errors.New("rate limit exceeded")

// Rate limiter defaults applied when config values are zero.
const (
	defaultRateLimit  = 60
	defaultRateWindow = time.Minute
)

// RateLimiter implements per-key sliding window rate limiting. Keys are
// typically remote addresses hitting the gateway's trigger endpoints.
// Each key tracks timestamps of recent events inside the window; keys
// whose window has fully drained are swept periodically so the map does
// not grow without bound.
type RateLimiter struct {
	mu        sync.Mutex
	limit     int
	window    time.Duration
	buckets   map[string][]time.Time
	lastSweep time.Time
	now       func() time.Time
}

// NewRateLimiter creates a rate limiter allowing limit events per key
// per window. Non-positive arguments fall back to 60 events per minute.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	if limit <= 0 {
		limit = defaultRateLimit
	}
	if window <= 0 {
		window = defaultRateWindow
	}
	return &RateLimiter{
		limit:   limit,
		window:  window,
		buckets: make(map[string][]time.Time),
		now:     time.Now,
	}
}

// Allow records an event for key and reports whether it stays within the
// limit. Returns ErrRateLimited once the key has used its budget for the
// current window; the rejected event is not recorded, so a steady
// over-limit caller recovers as soon as old events age out.
func (rl *RateLimiter) Allow(key string) error {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	rl.sweep(now)

	events := evictBefore(rl.buckets[key], now.Add(-rl.window))
	if len(events) >= rl.limit {
		rl.buckets[key] = events
		return ErrRateLimited
	}
	rl.buckets[key] = append(events, now)
	return nil
}

// sweep drops keys whose entire window has expired. It runs at most once
// per window so Allow stays cheap on the hot path.
func (rl *RateLimiter) sweep(now time.Time) {
	if now.Sub(rl.lastSweep) < rl.window {
		return
	}
	rl.lastSweep = now

	cutoff := now.Add(-rl.window)
	for key, events := range rl.buckets {
		remaining := evictBefore(events, cutoff)
		if len(remaining) == 0 {
			delete(rl.buckets, key)
			continue
		}
		rl.buckets[key] = remaining
	}
}

// evictBefore removes events older than cutoff. Events are appended in
// chronological order, so a single scan from the front suffices.
func evictBefore(events []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(events) && events[i].Before(cutoff) {
		i++
	}
	return events[i:]
}
