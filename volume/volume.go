package volume

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/IvanBrykalov/volcache/cache"
	"github.com/IvanBrykalov/volcache/internal/timer"
)

// ErrNoCoordinator is returned by Load on a volume built without one.
var ErrNoCoordinator = errors.New("volume: no coordinator")

// Volume is a cache entry backed by one contiguous buffer (or one buffer per
// timepoint for dynamic volumes) that is filled frame by frame.
//
// Shape, geometry and buffer length are fixed at construction; only buffer
// contents change, in place.
type Volume struct {
	id        string
	meta      Metadata
	geom      Geometry
	numFrames int
	perTP     int // frames per timepoint
	frameLen  int // bytes per frame
	size      int64

	coord *Coordinator

	// guard orders buffer writes against cancellation and destruction:
	// frame writers hold it shared, CancelLoading and Destroy exclusively.
	guard     sync.RWMutex
	buffers   [][]byte
	active    int // active timepoint for ScalarData
	destroyed atomic.Bool

	// cycle identifies the current load cycle; bumped on every Load start
	// and every cancel. Frame results from another cycle are discarded.
	cycle atomic.Uint64

	// ---- guarded by mu ----
	mu        sync.Mutex
	status    LoadStatus
	callbacks []Callback
	errs      []error
	progress  *timer.Throttler[Progress]
	started   time.Time

	// notifyMu serialises callback delivery so no progress payload can
	// follow the final one of its cycle.
	notifyMu  sync.Mutex
	finalized uint64
}

// New allocates a volume for meta and geom. The buffer is sized
// columns*rows*slices*bytesPerVoxel per timepoint and never resized.
// A nil coordinator yields a volume that can hold data but not Load.
func New(id string, meta Metadata, geom Geometry, c *Coordinator) (*Volume, error) {
	if err := geom.validate(); err != nil {
		return nil, err
	}
	tps := meta.Timepoints
	if tps < 1 {
		tps = 1
	}
	perTP := geom.Dimensions[2]
	frames := perTP * tps
	if len(meta.FrameIDs) != frames {
		return nil, fmt.Errorf("%w: %d ids for %d frames", ErrFrameCount, len(meta.FrameIDs), frames)
	}

	bpv := meta.ScalarType.BytesPerVoxel()
	bufLen := geom.Voxels() * bpv
	buffers := make([][]byte, tps)
	for i := range buffers {
		buffers[i] = make([]byte, bufLen)
	}

	meta.FrameIDs = append([]string(nil), meta.FrameIDs...)
	meta.Timepoints = tps
	return &Volume{
		id:        id,
		meta:      meta,
		geom:      geom,
		numFrames: frames,
		perTP:     perTP,
		frameLen:  geom.FrameVoxels() * bpv,
		size:      int64(bufLen) * int64(tps),
		coord:     c,
		buffers:   buffers,
		status:    newStatus(frames),
	}, nil
}

func (v *Volume) ID() string { return v.id }

// Geometry returns the immutable geometry.
func (v *Volume) Geometry() Geometry { return v.geom }

// ScalarType returns the voxel sample type.
func (v *Volume) ScalarType() ScalarType { return v.meta.ScalarType }

// FrameIDs returns a copy of the per-frame ids.
func (v *Volume) FrameIDs() []string { return append([]string(nil), v.meta.FrameIDs...) }

// NumFrames returns F, the number of frames across all timepoints.
func (v *Volume) NumFrames() int { return v.numFrames }

// Timepoints returns 1 for static volumes.
func (v *Volume) Timepoints() int { return v.meta.Timepoints }

// Dynamic reports whether the volume has more than one timepoint.
func (v *Volume) Dynamic() bool { return v.meta.Timepoints > 1 }

// SizeInBytes returns the total buffer length.
func (v *Volume) SizeInBytes() int64 { return v.size }

// Loading reports whether a load cycle is in progress.
func (v *Volume) Loading() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.status.Loading
}

// Status returns a copy of the load status.
func (v *Volume) Status() LoadStatus {
	v.mu.Lock()
	defer v.mu.Unlock()
	s := v.status.clone()
	s.Callbacks = len(v.callbacks)
	return s
}

// ScalarData returns the buffer of the active timepoint (the only buffer
// for static volumes). The slice aliases the volume; read it after the
// load settles.
func (v *Volume) ScalarData() ([]byte, error) {
	v.guard.RLock()
	defer v.guard.RUnlock()
	if v.destroyed.Load() {
		return nil, ErrDestroyed
	}
	return v.buffers[v.active], nil
}

// ScalarDataArrays returns one buffer per timepoint.
func (v *Volume) ScalarDataArrays() ([][]byte, error) {
	v.guard.RLock()
	defer v.guard.RUnlock()
	if v.destroyed.Load() {
		return nil, ErrDestroyed
	}
	return append([][]byte(nil), v.buffers...), nil
}

// SetActiveTimepoint selects the buffer ScalarData returns.
func (v *Volume) SetActiveTimepoint(tp int) error {
	v.guard.Lock()
	defer v.guard.Unlock()
	if v.destroyed.Load() {
		return ErrDestroyed
	}
	if tp < 0 || tp >= len(v.buffers) {
		return fmt.Errorf("%w: %d of %d", ErrTimepoint, tp, len(v.buffers))
	}
	v.active = tp
	return nil
}

// Load streams every frame not yet cached into the buffer. cb receives
// throttled progress and exactly one final payload per cycle. Calling Load
// while a cycle is running only subscribes cb; calling it on a loaded
// volume invokes cb once with the settled status.
func (v *Volume) Load(cb Callback, opts LoadOptions) error {
	if v.coord == nil {
		return ErrNoCoordinator
	}
	return v.coord.load(v, cb, opts)
}

// CancelLoading drops this volume's pending frame requests and resets the
// load status. Callbacks still waiting are dropped without being invoked.
// Frames already in flight finish, but their results are discarded.
func (v *Volume) CancelLoading() {
	v.cancelLoading()
}

// cancelLoading cancels and returns the CachedFrames bitmap taken under
// the exclusive guard, right before the reset.
func (v *Volume) cancelLoading() []bool {
	if v.coord != nil {
		return v.coord.cancel(v)
	}
	v.guard.Lock()
	v.mu.Lock()
	cached := v.status.CachedFrames
	v.cycle.Add(1)
	v.resetLocked()
	v.mu.Unlock()
	v.guard.Unlock()
	return cached
}

// RemoveFromCache cancels loading, so no dispatched frame can land on a
// released buffer, then removes the volume from the registry.
func (v *Volume) RemoveFromCache() error {
	v.CancelLoading()
	reg := v.registry()
	if reg == nil {
		return ErrNoRegistry
	}
	if e, ok := reg.Get(v.id); ok && e == cache.Entry(v) {
		reg.Remove(v.id)
	}
	return nil
}

// Decache releases the volume-level entry. With completelyRemove the
// volume is removed and destroyed. Otherwise every cached frame is first
// copied into its own Image entry in the registry, keyed by frame id.
func (v *Volume) Decache(completelyRemove bool) error {
	if completelyRemove {
		err := v.RemoveFromCache()
		v.Destroy()
		return err
	}
	reg := v.registry()
	if reg == nil {
		return ErrNoRegistry
	}

	// The bitmap is taken while cancel holds the guard exclusively, so no
	// write is in progress and every flagged frame is complete.
	cached := v.cancelLoading()

	images, err := v.splitFrames(cached)
	if err != nil {
		return err
	}
	for _, img := range images {
		reg.Set(img)
	}
	if err := v.RemoveFromCache(); err != nil {
		return err
	}
	v.Destroy()
	return nil
}

// Destroy cancels any load and releases the buffers. Accessors fail with
// ErrDestroyed afterwards. Destroy is idempotent.
func (v *Volume) Destroy() {
	if !v.destroyed.CompareAndSwap(false, true) {
		return
	}
	v.CancelLoading()
	v.guard.Lock()
	defer v.guard.Unlock()
	v.buffers = nil
}

var _ cache.Entry = (*Volume)(nil)

// -------------------- internals --------------------

func (v *Volume) registry() cache.Cache {
	if v.coord == nil {
		return nil
	}
	return v.coord.opt.Registry
}

// resetLocked returns the status to NotLoaded. mu held.
func (v *Volume) resetLocked() (dropped int, th *timer.Throttler[Progress]) {
	dropped = len(v.callbacks)
	th = v.progress
	v.status = newStatus(v.numFrames)
	v.callbacks = nil
	v.errs = nil
	v.progress = nil
	return dropped, th
}

// frameSlot is the exclusive destination of one frame. It is computed when
// the frame's request is created and handed only to that request's task.
type frameSlot struct {
	index     int
	frameID   string
	timepoint int
	offset    int
	dst       []byte
}

// slot carves frame f out of its timepoint buffer. The three-index slice
// caps dst at the frame's end, so a task cannot reach a neighbour.
func (v *Volume) slot(f int) (frameSlot, error) {
	v.guard.RLock()
	defer v.guard.RUnlock()
	if v.destroyed.Load() {
		return frameSlot{}, ErrDestroyed
	}
	tp := f / v.perTP
	off := (f % v.perTP) * v.frameLen
	end := off + v.frameLen
	return frameSlot{
		index:     f,
		frameID:   v.meta.FrameIDs[f],
		timepoint: tp,
		offset:    off,
		dst:       v.buffers[tp][off:end:end],
	}, nil
}

// writeFrame runs fill against the slot if cycle is still current. The
// shared guard keeps CancelLoading from returning while a write of the
// cancelled cycle is still in progress.
func (v *Volume) writeFrame(cycle uint64, s frameSlot, fill func(dst []byte) error) error {
	v.guard.RLock()
	defer v.guard.RUnlock()
	if v.destroyed.Load() || v.cycle.Load() != cycle {
		return errStale
	}
	return fill(s.dst)
}

func (v *Volume) frameInfo(s frameSlot) FrameInfo {
	return FrameInfo{
		VolumeID:   v.id,
		FrameIndex: s.index,
		FrameID:    s.frameID,
		Columns:    v.geom.Dimensions[0],
		Rows:       v.geom.Dimensions[1],
		ScalarType: v.meta.ScalarType,
	}
}

// splitFrames copies each cached frame into an Image entry.
func (v *Volume) splitFrames(cached []bool) ([]*Image, error) {
	v.guard.RLock()
	defer v.guard.RUnlock()
	if v.destroyed.Load() {
		return nil, ErrDestroyed
	}
	var out []*Image
	for f, ok := range cached {
		if !ok {
			continue
		}
		tp := f / v.perTP
		off := (f % v.perTP) * v.frameLen
		px := append([]byte(nil), v.buffers[tp][off:off+v.frameLen]...)
		out = append(out, newImage(v, f, px))
	}
	return out, nil
}

// notify delivers p to cbs. Progress for a cycle that already delivered
// its final payload, or that is no longer current, is dropped.
func (v *Volume) notify(p Progress, cbs []Callback, final bool) {
	v.notifyMu.Lock()
	defer v.notifyMu.Unlock()
	if final {
		v.finalized = p.cycle
	} else if v.finalized >= p.cycle || v.cycle.Load() != p.cycle {
		return
	}
	for _, cb := range cbs {
		cb(p)
	}
}

// deliverProgress is the throttler sink for one cycle.
func (v *Volume) deliverProgress(p Progress) {
	v.mu.Lock()
	if v.cycle.Load() != p.cycle || !v.status.Loading {
		v.mu.Unlock()
		return
	}
	cbs := append([]Callback(nil), v.callbacks...)
	v.mu.Unlock()
	v.notify(p, cbs, false)
}
