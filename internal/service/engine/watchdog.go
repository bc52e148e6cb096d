package engine

import (
	"context"
	"os"
	"time"
)

// watchdog cancels its context when no progress is reported within timeout.
// Every received chunk calls Kick; time spent pacing is excluded with Suspend.
type watchdog struct {
	cancel  context.CancelCauseFunc
	timer   *time.Timer
	timeout time.Duration
}

func newWatchdog(parent context.Context, timeout time.Duration) (context.Context, *watchdog) {
	ctx, cancel := context.WithCancelCause(parent)
	wd := &watchdog{cancel: cancel, timeout: timeout}
	if timeout > 0 {
		wd.timer = time.AfterFunc(timeout, func() {
			cancel(os.ErrDeadlineExceeded)
		})
	}
	return ctx, wd
}

func (wd *watchdog) Kick() {
	if wd.timer != nil {
		wd.timer.Reset(wd.timeout)
	}
}

// Suspend stops the countdown until the next Kick
func (wd *watchdog) Suspend() {
	if wd.timer != nil {
		wd.timer.Stop()
	}
}

func (wd *watchdog) Cancel() {
	if wd.timer != nil {
		wd.timer.Stop()
	}
	wd.cancel(nil)
}

// expired reports whether ctx was cancelled by the watchdog rather than its parent
func expired(ctx context.Context) bool {
	return context.Cause(ctx) == os.ErrDeadlineExceeded
}
