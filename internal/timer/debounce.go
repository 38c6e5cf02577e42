package timer

import (
	"sync"
	"time"
)

// Debouncer batches bursts of triggers into a single call of fn.
// The first Trigger arms a timer for delay; triggers arriving while it is
// armed are absorbed. A non-positive delay runs fn synchronously.
type Debouncer struct {
	clock Clock
	delay time.Duration
	fn    func()

	mu      sync.Mutex
	pending Stopper
	stopped bool
}

// NewDebouncer constructs a Debouncer. A nil clock means Real.
func NewDebouncer(clock Clock, delay time.Duration, fn func()) *Debouncer {
	if clock == nil {
		clock = Real{}
	}
	return &Debouncer{clock: clock, delay: delay, fn: fn}
}

// Trigger requests a call of fn.
func (d *Debouncer) Trigger() {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	if d.delay <= 0 {
		d.mu.Unlock()
		d.fn()
		return
	}
	if d.pending != nil {
		d.mu.Unlock()
		return
	}
	d.pending = d.clock.AfterFunc(d.delay, d.fire)
	d.mu.Unlock()
}

func (d *Debouncer) fire() {
	d.mu.Lock()
	d.pending = nil
	stopped := d.stopped
	d.mu.Unlock()
	if !stopped {
		d.fn()
	}
}

// Stop cancels any armed call; later triggers are ignored.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
	if d.pending != nil {
		d.pending.Stop()
		d.pending = nil
	}
}
