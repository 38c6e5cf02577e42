package volume

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/IvanBrykalov/volcache/cache"
	"github.com/IvanBrykalov/volcache/internal/timer"
	"github.com/IvanBrykalov/volcache/scheduler"
)

// DefaultProgressRate is the progress callback rate when Options leaves it
// unset, roughly one per display frame.
const DefaultProgressRate = 60

// Log field keys.
const (
	fieldVolume   = "volume_id"
	fieldFrame    = "frame"
	fieldFrameID  = "frame_id"
	fieldCategory = "category"
)

// Options configures a Coordinator. Scheduler and Fetcher are required.
type Options struct {
	Scheduler *scheduler.Scheduler
	Fetcher   Fetcher
	// Decoder defaults to RawDecoder.
	Decoder Decoder
	// Order defaults to CenterOut.
	Order Order
	// Category defaults to scheduler.Prefetch.
	Category scheduler.Category
	// ProgressRate bounds progress callbacks per second; zero means
	// DefaultProgressRate, negative disables throttling.
	ProgressRate int
	// Registry backs GetOrCreate, RemoveFromCache and Decache. Optional.
	Registry cache.Cache
	Clock    timer.Clock
	Metrics  Metrics
	Logger   logrus.FieldLogger
}

// LoadOptions tunes a single Load call. Zero values take the coordinator
// defaults.
type LoadOptions struct {
	Category scheduler.Category
	// Priority is added to each frame's position in the dispatch order.
	Priority int
	Order    Order
}

// FrameDetails is attached to every frame request so scheduler filters can
// recognise it. All fields are computed when the request is created.
type FrameDetails struct {
	VolumeID   string
	FrameIndex int
	FrameID    string
	Timepoint  int
	Offset     int
	Length     int
	Voxels     int
	Cycle      uint64

	owner *Volume
}

// Owner returns the volume the frame belongs to.
func (d FrameDetails) Owner() *Volume { return d.owner }

// Coordinator turns a volume load into one scheduled request per frame and
// applies each frame's result to the volume buffer and load status.
type Coordinator struct {
	opt      Options
	log      logrus.FieldLogger
	interval time.Duration
}

// NewCoordinator constructs a Coordinator. It panics if Scheduler or
// Fetcher is nil.
func NewCoordinator(opt Options) *Coordinator {
	if opt.Scheduler == nil {
		panic("volume: nil scheduler")
	}
	if opt.Fetcher == nil {
		panic("volume: nil fetcher")
	}
	if opt.Decoder == nil {
		opt.Decoder = RawDecoder{}
	}
	if opt.Order == nil {
		opt.Order = CenterOut
	}
	if opt.Category == "" {
		opt.Category = scheduler.Prefetch
	}
	if opt.ProgressRate == 0 {
		opt.ProgressRate = DefaultProgressRate
	}
	if opt.Clock == nil {
		opt.Clock = timer.Real{}
	}
	if opt.Metrics == nil {
		opt.Metrics = NoopMetrics{}
	}
	if opt.Logger == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		opt.Logger = l
	}

	var interval time.Duration
	if opt.ProgressRate > 0 {
		interval = time.Second / time.Duration(opt.ProgressRate)
	}
	return &Coordinator{
		opt:      opt,
		log:      opt.Logger.WithField("component", "streaming"),
		interval: interval,
	}
}

// Scheduler returns the scheduler frame requests go through.
func (c *Coordinator) Scheduler() *scheduler.Scheduler { return c.opt.Scheduler }

// Registry returns the configured registry, or nil.
func (c *Coordinator) Registry() cache.Cache { return c.opt.Registry }

// NewVolume constructs a volume bound to c without registering it.
func (c *Coordinator) NewVolume(id string, meta Metadata, geom Geometry) (*Volume, error) {
	return New(id, meta, geom, c)
}

// GetOrCreate returns the registered volume for id, creating and
// registering it on first reference. Concurrent first references share
// one construction.
func (c *Coordinator) GetOrCreate(ctx context.Context, id string, meta Metadata, geom Geometry) (*Volume, error) {
	if c.opt.Registry == nil {
		return nil, ErrNoRegistry
	}
	e, err := c.opt.Registry.GetOrCreate(ctx, id, func(context.Context) (cache.Entry, error) {
		v, err := New(id, meta, geom, c)
		if err != nil {
			return nil, err
		}
		return v, nil
	})
	if err != nil {
		return nil, err
	}
	v, ok := e.(*Volume)
	if !ok {
		return nil, fmt.Errorf("volume: entry %q is %T, not a volume", id, e)
	}
	return v, nil
}

// -------------------- load cycle --------------------

func (c *Coordinator) load(v *Volume, cb Callback, opts LoadOptions) error {
	category := opts.Category
	if category == "" {
		category = c.opt.Category
	}
	if !c.opt.Scheduler.HasCategory(category) {
		return &scheduler.InvariantError{Op: "load", Category: category, Err: scheduler.ErrUnknownCategory}
	}
	order := opts.Order
	if order == nil {
		order = c.opt.Order
	}

	v.mu.Lock()
	if v.destroyed.Load() {
		v.mu.Unlock()
		return ErrDestroyed
	}
	if v.status.Loading {
		if cb != nil {
			v.callbacks = append(v.callbacks, cb)
		}
		v.mu.Unlock()
		return nil
	}
	if v.status.Loaded {
		p := v.settledProgressLocked()
		v.mu.Unlock()
		if cb != nil {
			cb(p)
		}
		return nil
	}

	cycle := v.cycle.Add(1)
	v.status.Loading = true
	v.errs = nil
	v.started = c.opt.Clock.Now()
	if cb != nil {
		v.callbacks = append(v.callbacks, cb)
	}
	v.progress = timer.NewThrottler(c.opt.Clock, c.interval, v.deliverProgress)
	cached := append([]bool(nil), v.status.CachedFrames...)
	n := 0
	for _, ok := range cached {
		if ok {
			n++
		}
	}
	v.status.FramesLoaded = n
	v.status.FramesProcessed = n
	if n == v.numFrames {
		fin := c.finishLocked(v, cycle, -1)
		v.mu.Unlock()
		fin()
		return nil
	}
	v.mu.Unlock()

	log := c.log.WithFields(logrus.Fields{fieldVolume: v.id, fieldCategory: category})
	log.WithField("frames", v.numFrames-n).Debug("load started")

	for pos, f := range dispatchOrder(order, v.numFrames, log) {
		if cached[f] {
			continue
		}
		if v.cycle.Load() != cycle {
			// Cancelled while issuing; the rest would be filtered anyway.
			break
		}
		s, err := v.slot(f)
		if err != nil {
			id := v.meta.FrameIDs[f]
			c.settle(v, cycle, f, id, &FrameError{Index: f, FrameID: id, Err: err})
			continue
		}
		d := FrameDetails{
			VolumeID:   v.id,
			FrameIndex: f,
			FrameID:    s.frameID,
			Timepoint:  s.timepoint,
			Offset:     s.offset,
			Length:     len(s.dst),
			Voxels:     v.geom.FrameVoxels(),
			Cycle:      cycle,
			owner:      v,
		}
		if _, err := c.opt.Scheduler.AddRequest(c.frameTask(v, cycle, s), category, d, opts.Priority+pos); err != nil {
			c.settle(v, cycle, f, s.frameID, &FrameError{Index: f, FrameID: s.frameID, Err: err})
		}
	}
	return nil
}

// dispatchOrder validates the order policy's output and falls back to
// Sequential if it is not a permutation of [0, n).
func dispatchOrder(o Order, n int, log logrus.FieldLogger) []int {
	idx := o.Order(n)
	if len(idx) == n {
		seen := make([]bool, n)
		ok := true
		for _, f := range idx {
			if f < 0 || f >= n || seen[f] {
				ok = false
				break
			}
			seen[f] = true
		}
		if ok {
			return idx
		}
	}
	log.WithField("len", len(idx)).Warn("order is not a permutation, loading sequentially")
	return Sequential.Order(n)
}

// frameTask fetches, decodes into the frame's slot, and settles the frame.
func (c *Coordinator) frameTask(v *Volume, cycle uint64, s frameSlot) scheduler.Task {
	return func(ctx context.Context) error {
		if v.cycle.Load() != cycle {
			c.opt.Metrics.FrameDiscarded()
			return nil
		}
		start := c.opt.Clock.Now()
		var data []byte
		err := ctx.Err()
		if err == nil {
			data, err = c.opt.Fetcher.Fetch(ctx, s.frameID)
		}
		if err == nil {
			info := v.frameInfo(s)
			err = v.writeFrame(cycle, s, func(dst []byte) error {
				return c.opt.Decoder.Decode(dst, data, info)
			})
		}
		if errors.Is(err, errStale) {
			c.opt.Metrics.FrameDiscarded()
			return nil
		}
		if err != nil {
			err = &FrameError{Index: s.index, FrameID: s.frameID, Err: err}
			c.opt.Metrics.FrameFailed()
			c.log.WithFields(logrus.Fields{
				fieldVolume:  v.id,
				fieldFrame:   s.index,
				fieldFrameID: s.frameID,
			}).WithError(err).Warn("frame failed")
		} else {
			c.opt.Metrics.FrameLoaded(c.opt.Clock.Now().Sub(start))
		}
		c.settle(v, cycle, s.index, s.frameID, err)
		return err
	}
}

// settle applies one frame result to the load status. Results of a cycle
// that is no longer current are discarded.
func (c *Coordinator) settle(v *Volume, cycle uint64, f int, frameID string, err error) {
	v.mu.Lock()
	if v.cycle.Load() != cycle || !v.status.Loading {
		v.mu.Unlock()
		c.opt.Metrics.FrameDiscarded()
		return
	}
	v.status.FramesProcessed++
	if err == nil {
		v.status.CachedFrames[f] = true
		v.status.FramesLoaded++
	} else {
		v.errs = append(v.errs, err)
	}
	if v.status.FramesProcessed == v.numFrames {
		fin := c.finishLocked(v, cycle, f)
		v.mu.Unlock()
		fin()
		return
	}
	p := Progress{
		Success:         err == nil,
		FrameIndex:      f,
		FrameID:         frameID,
		FramesLoaded:    v.status.FramesLoaded,
		FramesProcessed: v.status.FramesProcessed,
		NumFrames:       v.numFrames,
		Err:             err,
		cycle:           cycle,
	}
	th := v.progress
	v.mu.Unlock()
	if th != nil {
		th.Call(p)
	}
}

// finishLocked marks the cycle settled and returns the delivery of the
// final payload, to be run after v.mu is released. v.mu held.
func (c *Coordinator) finishLocked(v *Volume, cycle uint64, last int) func() {
	v.status.Loaded = true
	v.status.Loading = false
	cbs := v.callbacks
	v.callbacks = nil
	th := v.progress
	v.progress = nil
	failed := len(v.errs)
	took := c.opt.Clock.Now().Sub(v.started)

	p := v.settledProgressLocked()
	p.cycle = cycle
	if last >= 0 {
		p.FrameIndex = last
		p.FrameID = v.meta.FrameIDs[last]
	}

	return func() {
		if th != nil {
			th.Stop()
		}
		v.notify(p, cbs, true)
		c.opt.Metrics.LoadSettled(v.numFrames, failed, took)
		c.log.WithFields(logrus.Fields{
			fieldVolume: v.id,
			"loaded":    p.FramesLoaded,
			"failed":    failed,
			"took":      took,
		}).Info("load settled")
	}
}

// settledProgressLocked builds the payload describing a settled cycle.
// v.mu held.
func (v *Volume) settledProgressLocked() Progress {
	return Progress{
		Success:         len(v.errs) == 0,
		FrameIndex:      -1,
		FramesLoaded:    v.status.FramesLoaded,
		FramesProcessed: v.status.FramesProcessed,
		NumFrames:       v.numFrames,
		Loaded:          true,
		Err:             errors.Join(v.errs...),
		cycle:           v.cycle.Load(),
	}
}

// cancel drops v's pending requests and resets its status, returning the
// CachedFrames bitmap as it stood at the reset. Holding the guard
// exclusively waits out frame writes already in progress; later writes of
// the old cycle observe the new cycle and discard themselves.
func (c *Coordinator) cancel(v *Volume) []bool {
	v.guard.Lock()
	v.mu.Lock()
	wasLoading := v.status.Loading
	cached := v.status.CachedFrames
	v.cycle.Add(1)
	dropped, th := v.resetLocked()
	removed := c.opt.Scheduler.FilterRequests(func(d any) bool {
		fd, ok := d.(FrameDetails)
		return !ok || fd.owner != v
	})
	v.mu.Unlock()
	v.guard.Unlock()

	if th != nil {
		th.Stop()
	}
	if !wasLoading {
		return cached
	}
	c.opt.Metrics.LoadCancelled()
	c.log.WithFields(logrus.Fields{
		fieldVolume: v.id,
		"requests":  removed,
		"callbacks": dropped,
	}).Info("load cancelled")
	return cached
}
