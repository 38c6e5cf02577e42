package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/IvanBrykalov/volcache/internal/timer"
)

// ErrNilTask is wrapped by InvariantError when AddRequest gets a nil task.
var ErrNilTask = errors.New("scheduler: nil task")

// Scheduler drains a RequestPool within per-category concurrency quotas.
// Dispatch never blocks: each task runs on its own goroutine and the
// scheduler is re-ticked when it settles.
type Scheduler struct {
	// ---- guarded by mu ----
	mu     sync.Mutex
	pool   *RequestPool
	active map[Category]int
	total  int  // Σ active
	awake  bool // all slots were taken on the last tick; a settlement will re-tick
	closed bool

	opt    Options
	log    logrus.FieldLogger
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	retick *timer.Debouncer
}

// New constructs a Scheduler with the provided Options.
func New(opt Options) *Scheduler {
	if opt.MaxRequests == nil {
		opt.MaxRequests = func() int { return DefaultMaxRequests }
	}
	if len(opt.Categories) == 0 {
		opt.Categories = DefaultCategories
	}
	if opt.Quota == nil {
		opt.Quota = DefaultQuota
	}
	if opt.Metrics == nil {
		opt.Metrics = NoopMetrics{}
	}
	if opt.Logger == nil {
		opt.Logger = discardLogger()
	}
	if opt.Clock == nil {
		opt.Clock = timer.Real{}
	}
	if opt.NewID == nil {
		opt.NewID = func() string { return uuid.NewString() }
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		pool:   NewRequestPool(opt.Categories),
		active: make(map[Category]int, len(opt.Categories)),
		opt:    opt,
		log:    opt.Logger.WithField("component", "scheduler"),
		ctx:    ctx,
		cancel: cancel,
	}
	s.retick = timer.NewDebouncer(opt.Clock, opt.Debounce, s.tick)
	return s
}

// AddRequest appends task to the tail of pool[category][priority] and
// returns the request id. An unknown category or a nil task is rejected
// with an *InvariantError and nothing is enqueued.
func (s *Scheduler) AddRequest(task Task, category Category, details any, priority int) (string, error) {
	if task == nil {
		return "", &InvariantError{Op: "add request", Category: category, Err: ErrNilTask}
	}
	r := &Request{
		ID:       s.opt.NewID(),
		Category: category,
		Priority: priority,
		Task:     task,
		Details:  details,
		Enqueued: s.opt.Clock.Now(),
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return "", ErrClosed
	}
	if err := s.pool.Push(r); err != nil {
		s.mu.Unlock()
		return "", err
	}
	s.opt.Metrics.Enqueue(category)
	var ready []*Request
	if !s.awake {
		ready = s.tickLocked()
	}
	s.mu.Unlock()

	s.launch(ready)
	return r.ID, nil
}

// FilterRequests keeps only pending requests whose details satisfy keep.
// In-flight requests are never affected. It returns the number dropped.
func (s *Scheduler) FilterRequests(keep func(details any) bool) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := s.pool.Filter(keep)
	if n > 0 {
		s.opt.Metrics.Dropped(n)
		s.log.WithField("dropped", n).Debug("filtered pending requests")
	}
	return n
}

// ClearCategory drops every pending request of category.
func (s *Scheduler) ClearCategory(category Category) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, err := s.pool.Clear(category)
	if err != nil {
		return err
	}
	if n > 0 {
		s.opt.Metrics.Dropped(n)
	}
	return nil
}

// Snapshot returns a copy of the pending pool.
func (s *Scheduler) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pool.Snapshot()
}

// Active returns the number of in-flight requests of category.
func (s *Scheduler) Active(category Category) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active[category]
}

// ActiveTotal returns the number of in-flight requests.
func (s *Scheduler) ActiveTotal() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.total
}

// Pending returns the number of queued requests.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pool.Len()
}

// Quota returns the current limit for category, derived from the live M.
func (s *Scheduler) Quota(category Category) int {
	return s.opt.Quota(category, s.maxRequests())
}

// Categories returns the scan order.
func (s *Scheduler) Categories() []Category { return s.pool.Categories() }

// HasCategory reports whether AddRequest would accept category.
func (s *Scheduler) HasCategory(category Category) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pool.Has(category)
}

// Close rejects new requests and cancels the context handed to tasks.
// Pending requests are removed from the pool and their tasks run once
// with that cancelled context, so every request still settles exactly
// once. Close waits for all of them and for in-flight tasks.
func (s *Scheduler) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	var pending []*Request
	for {
		r := s.pool.PopNext(func(Category) bool { return true })
		if r == nil {
			break
		}
		pending = append(pending, r)
	}
	s.wg.Add(len(pending))
	s.mu.Unlock()

	s.retick.Stop()
	s.cancel()
	for _, r := range pending {
		go s.abandon(r)
	}
	s.wg.Wait()
	if len(pending) > 0 {
		s.log.WithField("pending", len(pending)).Debug("settled pending requests on close")
	}
	return nil
}

// -------------------- dispatch loop --------------------

// maxRequests reads M; anything below one would wedge the loop, so it is
// clamped to one.
func (s *Scheduler) maxRequests() int {
	return atLeastOne(s.opt.MaxRequests())
}

func (s *Scheduler) tick() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	ready := s.tickLocked()
	s.mu.Unlock()
	s.launch(ready)
}

// tickLocked fills free slots and returns the requests to start.
// Category precedence is re-evaluated for every slot.
func (s *Scheduler) tickLocked() []*Request {
	m := s.maxRequests()
	slots := m - s.total
	if slots <= 0 {
		s.awake = true
		return nil
	}

	quota := make(map[Category]int, len(s.opt.Categories))
	for _, c := range s.opt.Categories {
		quota[c] = s.opt.Quota(c, m)
	}
	underQuota := func(c Category) bool { return s.active[c] < quota[c] }

	s.awake = true
	var ready []*Request
	for i := 0; i < slots; i++ {
		r := s.pool.PopNext(underQuota)
		if r == nil {
			s.awake = false
			break
		}
		s.active[r.Category]++
		s.total++
		s.opt.Metrics.Active(r.Category, s.active[r.Category])
		ready = append(ready, r)
	}
	s.wg.Add(len(ready))
	return ready
}

func (s *Scheduler) launch(ready []*Request) {
	now := s.opt.Clock.Now()
	for _, r := range ready {
		s.opt.Metrics.Dispatch(r.Category, now.Sub(r.Enqueued))
		s.log.WithFields(logrus.Fields{
			"category": r.Category,
			"priority": r.Priority,
			"request":  r.ID,
		}).Debug("dispatch")
		go s.run(r, now)
	}
}

func (s *Scheduler) run(r *Request, started time.Time) {
	defer s.wg.Done()

	err := s.invoke(r)
	s.opt.Metrics.Settle(r.Category, s.opt.Clock.Now().Sub(started), err)
	if err != nil {
		s.log.WithFields(logrus.Fields{
			"category": r.Category,
			"request":  r.ID,
		}).WithError(err).Debug("request settled with error")
	}

	s.mu.Lock()
	s.active[r.Category]--
	s.total--
	s.opt.Metrics.Active(r.Category, s.active[r.Category])
	s.mu.Unlock()

	s.retick.Trigger()
}

// abandon settles a request that was never dispatched. Its task sees the
// cancelled base context; no slot is taken.
func (s *Scheduler) abandon(r *Request) {
	defer s.wg.Done()
	err := s.invoke(r)
	s.opt.Metrics.Settle(r.Category, 0, err)
}

func (s *Scheduler) invoke(r *Request) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("%w: %v", ErrTaskPanic, p)
		}
	}()
	return r.Task(s.ctx)
}
