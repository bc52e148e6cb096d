package ratelimiter

import (
	"sync"
	"time"
)

// Limiter gates actions per key to at most one per interval.
// The engine uses it to cap progress events per download.
// It is safe for concurrent use.
type Limiter struct {
	mu       sync.Mutex
	interval time.Duration
	last     map[string]time.Time
	now      func() time.Time
}

// New creates a keyed limiter with the specified interval
func New(interval time.Duration) *Limiter {
	return &Limiter{
		interval: interval,
		last:     make(map[string]time.Time),
		now:      time.Now,
	}
}

// PerSecond creates a limiter allowing n actions per second per key
func PerSecond(n int) *Limiter {
	if n <= 0 {
		n = 1
	}
	return New(time.Second / time.Duration(n))
}

// Allow checks if an action for key is allowed at this time.
// Returns true if allowed (and records it),
// or false with the remaining wait duration.
func (l *Limiter) Allow(key string) (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	last, seen := l.last[key]
	if !seen || now.Sub(last) >= l.interval {
		l.last[key] = now
		return true, 0
	}
	return false, l.interval - now.Sub(last)
}

// Reset lets the next action for key through immediately
func (l *Limiter) Reset(key string) {
	l.mu.Lock()
	delete(l.last, key)
	l.mu.Unlock()
}

// Len returns the number of tracked keys
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.last)
}

// Interval returns the configured interval
func (l *Limiter) Interval() time.Duration {
	return l.interval
}
