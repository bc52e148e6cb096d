package ratelimiter

import (
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func TestLimiter_Allow(t *testing.T) {
	tests := []struct {
		name     string
		interval time.Duration
		keys     []string
		delays   []time.Duration // clock advance before each Allow() call
		want     []bool
	}{
		{
			name:     "first call always allowed",
			interval: 100 * time.Millisecond,
			keys:     []string{"a"},
			delays:   []time.Duration{0},
			want:     []bool{true},
		},
		{
			name:     "second call immediately after is blocked",
			interval: 100 * time.Millisecond,
			keys:     []string{"a", "a"},
			delays:   []time.Duration{0, 0},
			want:     []bool{true, false},
		},
		{
			name:     "call after interval is allowed",
			interval: 50 * time.Millisecond,
			keys:     []string{"a", "a"},
			delays:   []time.Duration{0, 60 * time.Millisecond},
			want:     []bool{true, true},
		},
		{
			name:     "keys are independent",
			interval: 100 * time.Millisecond,
			keys:     []string{"a", "b", "a", "b"},
			delays:   []time.Duration{0, 0, 0, 0},
			want:     []bool{true, true, false, false},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clock := &fakeClock{t: time.Unix(1000, 0)}
			limiter := New(tt.interval)
			limiter.now = clock.now

			for i, key := range tt.keys {
				clock.advance(tt.delays[i])

				allowed, waitTime := limiter.Allow(key)
				if allowed != tt.want[i] {
					t.Errorf("call %d: Allow(%q) = %v, want %v", i, key, allowed, tt.want[i])
				}
				if !allowed && waitTime <= 0 {
					t.Errorf("call %d: blocked but waitTime = %v, want > 0", i, waitTime)
				}
				if allowed && waitTime != 0 {
					t.Errorf("call %d: allowed but waitTime = %v, want 0", i, waitTime)
				}
			}
		})
	}
}

func TestLimiter_Reset(t *testing.T) {
	limiter := New(time.Second)

	if allowed, _ := limiter.Allow("a"); !allowed {
		t.Fatal("first call should be allowed")
	}
	if allowed, _ := limiter.Allow("a"); allowed {
		t.Fatal("second call should be blocked")
	}

	limiter.Reset("a")
	if limiter.Len() != 0 {
		t.Errorf("Len() = %d after Reset, want 0", limiter.Len())
	}

	if allowed, _ := limiter.Allow("a"); !allowed {
		t.Fatal("call after reset should be allowed")
	}
}

func TestLimiter_WaitTime(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	limiter := New(100 * time.Millisecond)
	limiter.now = clock.now

	limiter.Allow("a")
	clock.advance(30 * time.Millisecond)

	_, wait := limiter.Allow("a")
	if wait != 70*time.Millisecond {
		t.Errorf("wait = %v, want 70ms", wait)
	}
}

func TestPerSecond(t *testing.T) {
	if got := PerSecond(10).Interval(); got != 100*time.Millisecond {
		t.Errorf("PerSecond(10).Interval() = %v, want 100ms", got)
	}
	if got := PerSecond(0).Interval(); got != time.Second {
		t.Errorf("PerSecond(0).Interval() = %v, want 1s", got)
	}
}

func TestLimiter_Concurrent(t *testing.T) {
	limiter := New(time.Hour)

	var wg sync.WaitGroup
	var mu sync.Mutex
	allowedCount := 0

	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if allowed, _ := limiter.Allow("same"); allowed {
				mu.Lock()
				allowedCount++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if allowedCount != 1 {
		t.Errorf("concurrent calls: %d allowed, want exactly 1", allowedCount)
	}
}
