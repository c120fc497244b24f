package gitlab

import (
	"context"
	"sync"
	"time"
)

// throttle enforces a minimum delay between consecutive requests. It is a
// token bucket of size one refilling every delay; waiters are served in
// lock-acquisition order.
type throttle struct {
	mu    sync.Mutex
	delay time.Duration
	last  time.Time
}

func newThrottle(delay time.Duration) *throttle {
	return &throttle{delay: delay}
}

func (t *throttle) wait(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.last.IsZero() {
		pause := t.delay - time.Since(t.last)
		if pause > 0 {
			timer := time.NewTimer(pause)
			defer timer.Stop()
			select {
			case <-timer.C:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}

	t.last = time.Now()
	return nil
}
