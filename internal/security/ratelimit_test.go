package security

import (
	"errors"
	"testing"
	"time"
)

func TestRateLimiter_AllowsWithinLimit(t *testing.T) {
	t.Parallel()

	rl := NewRateLimiter(3, time.Minute)
	for i := range 3 {
		if err := rl.Allow("10.0.0.1"); err != nil {
			t.Fatalf("request %d: unexpected error %v", i, err)
		}
	}
}

func TestRateLimiter_BlocksOverLimit(t *testing.T) {
	t.Parallel()

	rl := NewRateLimiter(2, time.Minute)
	_ = rl.Allow("10.0.0.1")
	_ = rl.Allow("10.0.0.1")

	err := rl.Allow("10.0.0.1")
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
}

func TestRateLimiter_KeysAreIndependent(t *testing.T) {
	t.Parallel()

	rl := NewRateLimiter(1, time.Minute)
	if err := rl.Allow("10.0.0.1"); err != nil {
		t.Fatalf("first key: %v", err)
	}
	if err := rl.Allow("10.0.0.2"); err != nil {
		t.Fatalf("second key should have its own budget: %v", err)
	}
	if err := rl.Allow("10.0.0.1"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("first key should be exhausted, got %v", err)
	}
}

func TestRateLimiter_WindowSlides(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(1, time.Minute)
	rl.now = func() time.Time { return now }

	if err := rl.Allow("k"); err != nil {
		t.Fatalf("first: %v", err)
	}
	if err := rl.Allow("k"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("second should be limited, got %v", err)
	}

	// Advance past the window; the old event ages out.
	now = now.Add(61 * time.Second)
	if err := rl.Allow("k"); err != nil {
		t.Fatalf("after window: %v", err)
	}
}

func TestRateLimiter_RejectedEventNotRecorded(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(1, time.Minute)
	rl.now = func() time.Time { return now }

	_ = rl.Allow("k")
	for range 10 {
		_ = rl.Allow("k") // hammering while limited must not extend the block
	}

	now = now.Add(61 * time.Second)
	if err := rl.Allow("k"); err != nil {
		t.Fatalf("caller should recover once the original event expires: %v", err)
	}
}

func TestRateLimiter_SweepDropsIdleKeys(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(5, time.Minute)
	rl.now = func() time.Time { return now }

	_ = rl.Allow("idle-key")
	_ = rl.Allow("busy-key")

	now = now.Add(2 * time.Minute)
	_ = rl.Allow("busy-key") // triggers the sweep

	rl.mu.Lock()
	_, idleExists := rl.buckets["idle-key"]
	rl.mu.Unlock()
	if idleExists {
		t.Error("idle key should have been swept")
	}
}

func TestRateLimiter_Defaults(t *testing.T) {
	t.Parallel()

	rl := NewRateLimiter(0, 0)
	if rl.limit != defaultRateLimit {
		t.Errorf("limit = %d, want %d", rl.limit, defaultRateLimit)
	}
	if rl.window != defaultRateWindow {
		t.Errorf("window = %v, want %v", rl.window, defaultRateWindow)
	}
}
