// Package rate implements a sliding window rate limiter used to bound
// how fast a single connection may push events at the coordinator.
package rate

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// Limiter implements a sliding window rate limiter.
//
// Multiple goroutines may invoke methods on a Limiter simultaneously.
type Limiter struct {
	window  time.Duration
	limit   int
	history []time.Time
	mu      sync.Mutex
	clock   clock.Clock
}

func NewLimiter(window time.Duration, limit int) *Limiter {
	return NewLimiterWithClock(window, limit, clock.New())
}

func NewLimiterWithClock(window time.Duration, limit int, clock clock.Clock) *Limiter {
	return &Limiter{
		window: window,
		limit:  limit,
		clock:  clock,
	}
}

// Allow reports whether another event fits in the current window and
// records it if it does. A rejected event is not recorded: the caller
// drops it and the window drains at its own pace.
func (l *Limiter) Allow() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	l.history = l.slide(now)

	if len(l.history) >= l.limit {
		return false
	}

	l.history = append(l.history, now)

	return true
}

func (l *Limiter) slide(now time.Time) []time.Time {
	window := now.Add(-l.window)
	i := 0
	for i < len(l.history) && l.history[i].Before(window) {
		i++
	}
	return append(l.history[:0:0], l.history[i:]...)
}
