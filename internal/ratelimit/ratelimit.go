// Package ratelimit implements a sliding-window limiter for the upstream
// market API. The upstream enforces a hard cap of N requests per window;
// a token bucket would admit bursts that exceed it, so acquisition times
// are tracked explicitly.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Limiter admits at most max acquisitions within any window of the
// configured length. Safe for concurrent use; acquisitions are globally
// serialized across all workers.
type Limiter struct {
	mu     sync.Mutex
	max    int
	window time.Duration
	stamps []time.Time

	// now is swappable for tests.
	now func() time.Time
}

// New creates a limiter admitting max acquisitions per window.
func New(max int, window time.Duration) *Limiter {
	return &Limiter{
		max:    max,
		window: window,
		now:    time.Now,
	}
}

// Acquire blocks until a request slot is available or ctx is done.
func (l *Limiter) Acquire(ctx context.Context) error {
	for {
		l.mu.Lock()
		now := l.now()
		l.prune(now)

		if len(l.stamps) < l.max {
			l.stamps = append(l.stamps, now)
			l.mu.Unlock()
			return nil
		}

		// Oldest recorded acquisition leaves the window first.
		wait := l.stamps[0].Add(l.window).Sub(now)
		l.mu.Unlock()

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// prune drops acquisition times that have left the window. Caller holds mu.
func (l *Limiter) prune(now time.Time) {
	cutoff := now.Add(-l.window)
	i := 0
	for i < len(l.stamps) && !l.stamps[i].After(cutoff) {
		i++
	}
	if i > 0 {
		l.stamps = append(l.stamps[:0], l.stamps[i:]...)
	}
}

// Pending returns the number of acquisitions currently inside the window.
func (l *Limiter) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.prune(l.now())
	return len(l.stamps)
}
