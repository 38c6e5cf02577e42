package timer

import (
	"sync"
	"time"
)

// Throttler delivers values to fn at most once per interval.
// The first call in a quiet period is delivered immediately; calls inside
// the window collapse into one trailing delivery carrying the latest value.
type Throttler[T any] struct {
	clock    Clock
	interval time.Duration
	fn       func(T)

	mu       sync.Mutex
	last     time.Time
	fired    bool
	latest   T
	trailing Stopper
	stopped  bool
}

// NewThrottler constructs a Throttler. A nil clock means Real; a
// non-positive interval disables throttling.
func NewThrottler[T any](clock Clock, interval time.Duration, fn func(T)) *Throttler[T] {
	if clock == nil {
		clock = Real{}
	}
	return &Throttler[T]{clock: clock, interval: interval, fn: fn}
}

// Call offers v for delivery.
func (t *Throttler[T]) Call(v T) {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return
	}
	now := t.clock.Now()
	if t.interval <= 0 || !t.fired || now.Sub(t.last) >= t.interval {
		t.fired = true
		t.last = now
		t.mu.Unlock()
		t.fn(v)
		return
	}
	t.latest = v
	if t.trailing == nil {
		wait := t.interval - now.Sub(t.last)
		t.trailing = t.clock.AfterFunc(wait, t.flush)
	}
	t.mu.Unlock()
}

func (t *Throttler[T]) flush() {
	t.mu.Lock()
	t.trailing = nil
	if t.stopped {
		t.mu.Unlock()
		return
	}
	v := t.latest
	var zero T
	t.latest = zero
	t.last = t.clock.Now()
	t.mu.Unlock()
	t.fn(v)
}

// Stop drops any pending trailing delivery; later calls are ignored.
func (t *Throttler[T]) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopped = true
	if t.trailing != nil {
		t.trailing.Stop()
		t.trailing = nil
	}
}
