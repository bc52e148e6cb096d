package engine

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"
)

func TestPacer_Disabled(t *testing.T) {
	p := NewThrottle(0).pacer()
	start := time.Now()
	for i := 0; i < 100; i++ {
		if err := p.Wait(context.Background(), 1<<20); err != nil {
			t.Fatal(err)
		}
	}
	if time.Since(start) > 50*time.Millisecond {
		t.Error("disabled throttle slept")
	}
}

func TestPacer_PacesToLimit(t *testing.T) {
	p := NewThrottle(100_000).pacer()

	// the bucket starts with one second of data
	start := time.Now()
	if err := p.Wait(context.Background(), 100_000); err != nil {
		t.Fatal(err)
	}
	if elapsed := time.Since(start); elapsed > 50*time.Millisecond {
		t.Errorf("first second of data waited %v", elapsed)
	}

	start = time.Now()
	if err := p.Wait(context.Background(), 20_000); err != nil {
		t.Fatal(err)
	}
	if elapsed := time.Since(start); elapsed < 150*time.Millisecond {
		t.Errorf("waited %v for 20KB at 100KB/s, want about 200ms", elapsed)
	}
}

func TestPacer_ChunkLargerThanBurst(t *testing.T) {
	p := NewThrottle(10_000).pacer()

	start := time.Now()
	if err := p.Wait(context.Background(), 15_000); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if elapsed := time.Since(start); elapsed < 400*time.Millisecond {
		t.Errorf("waited %v, want about 500ms", elapsed)
	}
}

func TestPacer_FollowsLimitChanges(t *testing.T) {
	th := NewThrottle(1000)
	p := th.pacer()
	if err := p.Wait(context.Background(), 10); err != nil {
		t.Fatal(err)
	}

	th.SetLimit(1 << 20)
	if err := p.Wait(context.Background(), 10); err != nil {
		t.Fatal(err)
	}
	if got := p.limiter.Limit(); got != 1<<20 {
		t.Errorf("limiter limit = %v, want %d", got, 1<<20)
	}
	if got := p.limiter.Burst(); got != 1<<20 {
		t.Errorf("limiter burst = %d, want %d", got, 1<<20)
	}
}

func TestPacer_Cancelled(t *testing.T) {
	p := NewThrottle(1).pacer()
	ctx, cancel := context.WithCancelCause(context.Background())
	cause := errors.New("paused")
	cancel(cause)

	if err := p.Wait(ctx, 1000); !errors.Is(err, cause) {
		t.Errorf("Wait() error = %v, want %v", err, cause)
	}
}

func TestThrottle_SetLimit(t *testing.T) {
	th := NewThrottle(-5)
	if th.Limit() != 0 {
		t.Errorf("Limit() = %d, want 0", th.Limit())
	}
	th.SetLimit(2048)
	if th.Limit() != 2048 {
		t.Errorf("Limit() = %d, want 2048", th.Limit())
	}
}

func TestSpeedMeter(t *testing.T) {
	now := time.Now()
	m := &speedMeter{interval: 100 * time.Millisecond, windowStart: now}

	if m.add(500, now.Add(50*time.Millisecond)) {
		t.Error("sampled before interval elapsed")
	}
	if !m.add(500, now.Add(100*time.Millisecond)) {
		t.Fatal("did not sample after interval")
	}
	if m.speed != 10_000 {
		t.Errorf("speed = %d, want 10000", m.speed)
	}
}

func TestWatchdog(t *testing.T) {
	ctx, wd := newWatchdog(context.Background(), 30*time.Millisecond)
	defer wd.Cancel()

	for i := 0; i < 5; i++ {
		time.Sleep(10 * time.Millisecond)
		wd.Kick()
	}
	if ctx.Err() != nil {
		t.Fatal("watchdog fired while being kicked")
	}

	<-ctx.Done()
	if !expired(ctx) {
		t.Errorf("cause = %v, want %v", context.Cause(ctx), os.ErrDeadlineExceeded)
	}
}

func TestWatchdog_Suspend(t *testing.T) {
	ctx, wd := newWatchdog(context.Background(), 20*time.Millisecond)
	defer wd.Cancel()

	wd.Suspend()
	time.Sleep(60 * time.Millisecond)
	if ctx.Err() != nil {
		t.Fatal("watchdog fired while suspended")
	}

	wd.Kick()
	<-ctx.Done()
	if !expired(ctx) {
		t.Errorf("cause = %v, want %v", context.Cause(ctx), os.ErrDeadlineExceeded)
	}
}

func TestWatchdog_ParentCancel(t *testing.T) {
	parent, cancel := context.WithCancel(context.Background())
	ctx, wd := newWatchdog(parent, time.Hour)
	defer wd.Cancel()

	cancel()
	<-ctx.Done()
	if expired(ctx) {
		t.Error("expired() = true after parent cancel")
	}
}
