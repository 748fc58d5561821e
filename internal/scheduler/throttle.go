// Package scheduler runs the crawl: a fixed worker pool pulling from the
// priority queue, with per-host throttling and cooperative cancellation.
package scheduler

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// HostThrottle enforces a minimum interval between requests to the same
// host, plus an optional global requests-per-second ceiling.
type HostThrottle struct {
	mu     sync.Mutex
	next   map[string]time.Time
	delay  time.Duration
	global *rate.Limiter
}

// NewHostThrottle creates a throttle with the given per-host delay. A
// globalRPS <= 0 leaves the global ceiling unlimited.
func NewHostThrottle(delay time.Duration, globalRPS float64) *HostThrottle {
	limit := rate.Inf
	if globalRPS > 0 {
		limit = rate.Limit(globalRPS)
	}
	return &HostThrottle{
		next:   make(map[string]time.Time),
		delay:  delay,
		global: rate.NewLimiter(limit, 1),
	}
}

// Acquire reserves the next slot for a host and returns how long the caller
// must sleep before issuing the request. The host's next-available time
// advances by the configured delay.
func (t *HostThrottle) Acquire(host string) time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	var wait time.Duration
	if avail, ok := t.next[host]; ok && avail.After(now) {
		wait = avail.Sub(now)
	}
	t.next[host] = now.Add(wait).Add(t.delay)
	return wait
}

// Wait blocks until the host slot and the global limiter both permit a
// request, or the context is cancelled.
func (t *HostThrottle) Wait(ctx context.Context, host string) error {
	if err := t.global.Wait(ctx); err != nil {
		return err
	}

	wait := t.Acquire(host)
	if wait <= 0 {
		return nil
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
