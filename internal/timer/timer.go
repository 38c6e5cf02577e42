// Package timer provides the explicit, cancellable timers owned by the
// scheduler and the streaming coordinator: a Clock abstraction, a
// coalescing Debouncer and a bounded-rate Throttler.
package timer

import (
	"sort"
	"sync"
	"time"
)

// Stopper cancels a scheduled function. Stop reports whether the call
// prevented the function from running.
type Stopper interface {
	Stop() bool
}

// Clock is the time source used by timers; swap in Manual for tests.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Stopper
}

// Real is the wall clock.
type Real struct{}

func (Real) Now() time.Time { return time.Now() }

func (Real) AfterFunc(d time.Duration, f func()) Stopper { return time.AfterFunc(d, f) }

var _ Clock = Real{}

// Manual is a deterministic Clock. Scheduled functions run only when
// Advance moves time past their deadline.
type Manual struct {
	mu     sync.Mutex
	now    time.Time
	seq    int
	timers []*manualTimer
}

type manualTimer struct {
	m    *Manual
	at   time.Time
	seq  int
	f    func()
	done bool
}

// NewManual returns a Manual clock starting at start.
func NewManual(start time.Time) *Manual { return &Manual{now: start} }

func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

func (m *Manual) AfterFunc(d time.Duration, f func()) Stopper {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	t := &manualTimer{m: m, at: m.now.Add(d), seq: m.seq, f: f}
	m.timers = append(m.timers, t)
	return t
}

// Advance moves the clock forward and runs every function that became due,
// in deadline order, outside the clock lock.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	m.now = m.now.Add(d)
	var due []*manualTimer
	keep := m.timers[:0]
	for _, t := range m.timers {
		if !t.done && !t.at.After(m.now) {
			t.done = true
			due = append(due, t)
			continue
		}
		if !t.done {
			keep = append(keep, t)
		}
	}
	m.timers = keep
	m.mu.Unlock()

	sort.Slice(due, func(i, j int) bool {
		if due[i].at.Equal(due[j].at) {
			return due[i].seq < due[j].seq
		}
		return due[i].at.Before(due[j].at)
	})
	for _, t := range due {
		t.f()
	}
}

// Pending returns the number of scheduled, not yet fired functions.
func (m *Manual) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.timers)
}

func (t *manualTimer) Stop() bool {
	t.m.mu.Lock()
	defer t.m.mu.Unlock()
	if t.done {
		return false
	}
	t.done = true
	return true
}

var _ Clock = (*Manual)(nil)
