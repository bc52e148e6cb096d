package engine

import (
	"context"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// Throttle holds the global byte-rate limit shared by every worker.
// Each worker paces itself with its own token bucket, so aggregate
// throughput only approximates the limit.
type Throttle struct {
	limit atomic.Int64
}

// NewThrottle creates a Throttle; limit <= 0 disables it
func NewThrottle(limit int64) *Throttle {
	t := &Throttle{}
	t.SetLimit(limit)
	return t
}

// SetLimit updates the limit in bytes per second; 0 disables throttling.
// Running workers pick the new value up on their next chunk.
func (t *Throttle) SetLimit(bytesPerSec int64) {
	if bytesPerSec < 0 {
		bytesPerSec = 0
	}
	t.limit.Store(bytesPerSec)
}

// Limit returns the current limit in bytes per second
func (t *Throttle) Limit() int64 {
	return t.limit.Load()
}

// pacer is one worker's view of the throttle
type pacer struct {
	throttle *Throttle
	limiter  *rate.Limiter
	applied  int64
}

func (t *Throttle) pacer() *pacer {
	return &pacer{throttle: t}
}

// Wait blocks until n more bytes fit under the limit.
// The bucket holds one second of data; larger chunks are waited for in pieces.
func (p *pacer) Wait(ctx context.Context, n int) error {
	limit := p.throttle.Limit()
	if limit <= 0 {
		return nil
	}
	p.sync(limit)

	burst := p.limiter.Burst()
	for n > 0 {
		k := min(n, burst)
		if err := p.limiter.WaitN(ctx, k); err != nil {
			if ctx.Err() != nil {
				return context.Cause(ctx)
			}
			return err
		}
		n -= k
	}
	return nil
}

// sync applies a changed limit to the bucket
func (p *pacer) sync(limit int64) {
	if p.limiter != nil && p.applied == limit {
		return
	}
	burst := int(min(limit, int64(maxBurst)))
	if p.limiter == nil {
		p.limiter = rate.NewLimiter(rate.Limit(limit), burst)
	} else {
		p.limiter.SetLimit(rate.Limit(limit))
		p.limiter.SetBurst(burst)
	}
	p.applied = limit
}

// maxBurst caps the bucket size for very high limits
const maxBurst = 1 << 30

// sleepCtx waits for d or until ctx is done
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return context.Cause(ctx)
	case <-timer.C:
		return nil
	}
}

// speedMeter computes throughput over fixed sampling windows
type speedMeter struct {
	interval    time.Duration
	windowStart time.Time
	windowBytes int64
	speed       int64
}

func newSpeedMeter(interval time.Duration) *speedMeter {
	return &speedMeter{interval: interval, windowStart: time.Now()}
}

// add records n bytes and reports whether a new sample was taken
func (m *speedMeter) add(n int, now time.Time) bool {
	m.windowBytes += int64(n)
	elapsed := now.Sub(m.windowStart)
	if elapsed < m.interval {
		return false
	}
	m.speed = m.windowBytes * int64(time.Second) / int64(elapsed)
	m.windowBytes = 0
	m.windowStart = now
	return true
}

func (m *speedMeter) reset(now time.Time) {
	m.windowStart = now
	m.windowBytes = 0
	m.speed = 0
}
