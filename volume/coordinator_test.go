package volume

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/IvanBrykalov/volcache/cache"
	"github.com/IvanBrykalov/volcache/internal/timer"
	"github.com/IvanBrykalov/volcache/scheduler"
)

func TestLoad_FillsBufferInPlace(t *testing.T) {
	t.Parallel()

	const frames = 8
	f := newFakeFetcher()
	c := newCoordinator(t, 6, f, Options{})
	v, err := c.NewVolume("v", meta(frames), stack(frames))
	require.NoError(t, err)

	before, err := v.ScalarData()
	require.NoError(t, err)

	rec := newRecorder()
	require.NoError(t, v.Load(rec.cb, LoadOptions{}))
	p := rec.wait(t)

	assert.True(t, p.Success)
	assert.NoError(t, p.Err)
	assert.Equal(t, frames, p.FramesLoaded)
	assert.Equal(t, frames, p.FramesProcessed)
	assert.Equal(t, frames, p.NumFrames)

	after, err := v.ScalarData()
	require.NoError(t, err)
	assert.Same(t, &before[0], &after[0], "buffer must be filled in place")
	for i := 0; i < frames; i++ {
		assert.Equal(t, frameBytes(1, i), after[i*frameLen:(i+1)*frameLen], "frame %d", i)
	}

	st := v.Status()
	assert.True(t, st.Loaded)
	assert.False(t, st.Loading)
	assert.Equal(t, frames, st.FramesLoaded)
	for i, ok := range st.CachedFrames {
		assert.True(t, ok, "frame %d", i)
	}
	assert.Zero(t, st.Callbacks)
}

func TestLoad_FinalCallbackIsLastAndUnique(t *testing.T) {
	t.Parallel()

	const frames = 12
	c := newCoordinator(t, 4, newFakeFetcher(), Options{})
	v, err := c.NewVolume("v", meta(frames), stack(frames))
	require.NoError(t, err)

	rec := newRecorder()
	require.NoError(t, v.Load(rec.cb, LoadOptions{}))
	rec.wait(t)

	// Give stray progress deliveries a chance to show up.
	time.Sleep(20 * time.Millisecond)
	events := rec.all()
	require.NotEmpty(t, events)
	assert.LessOrEqual(t, len(events), frames)
	finals := 0
	for _, e := range events {
		if e.Loaded {
			finals++
		}
	}
	assert.Equal(t, 1, finals)
	assert.True(t, events[len(events)-1].Loaded, "no progress may follow the final payload")
}

func TestLoad_ProgressIsThrottled(t *testing.T) {
	t.Parallel()

	clk := timer.NewManual(time.Unix(0, 0))
	// One slot keeps settlements strictly sequential.
	c := newCoordinator(t, 1, newFakeFetcher(), Options{Clock: clk, ProgressRate: 10})
	v, err := c.NewVolume("v", meta(6), stack(6))
	require.NoError(t, err)

	rec := newRecorder()
	require.NoError(t, v.Load(rec.cb, LoadOptions{}))
	rec.wait(t)

	// The clock never moves: one leading progress, trailing ones collapse
	// and are dropped when the cycle settles.
	events := rec.all()
	require.Len(t, events, 2)
	assert.False(t, events[0].Loaded)
	assert.True(t, events[1].Loaded)

	clk.Advance(time.Second)
	assert.Len(t, rec.all(), 2)
	assert.Zero(t, clk.Pending())
}

func TestLoad_SecondCallSubscribes(t *testing.T) {
	t.Parallel()

	const frames = 4
	f := newFakeFetcher()
	f.hold.Store(true)
	c := newCoordinator(t, 6, f, Options{})
	v, err := c.NewVolume("v", meta(frames), stack(frames))
	require.NoError(t, err)

	r1, r2 := newRecorder(), newRecorder()
	require.NoError(t, v.Load(r1.cb, LoadOptions{}))
	require.NoError(t, v.Load(r2.cb, LoadOptions{}))
	assert.True(t, v.Loading())
	assert.Equal(t, 2, v.Status().Callbacks)

	close(f.gate)
	r1.wait(t)
	r2.wait(t)
	assert.Equal(t, int32(frames), f.calls.Load(), "second Load must not issue requests")

	// Loading a loaded volume answers immediately.
	r3 := newRecorder()
	require.NoError(t, v.Load(r3.cb, LoadOptions{}))
	select {
	case p := <-r3.final:
		assert.True(t, p.Success)
		assert.Equal(t, frames, p.FramesLoaded)
	default:
		t.Fatal("callback on a loaded volume must run before Load returns")
	}
	assert.Equal(t, int32(frames), f.calls.Load())
}

func TestLoad_FrameFailureDoesNotAbort(t *testing.T) {
	t.Parallel()

	const frames = 6
	f := newFakeFetcher()
	f.fail = map[string]bool{"f3": true}
	c := newCoordinator(t, 2, f, Options{Order: Sequential})
	v, err := c.NewVolume("v", meta(frames), stack(frames))
	require.NoError(t, err)

	rec := newRecorder()
	require.NoError(t, v.Load(rec.cb, LoadOptions{}))
	p := rec.wait(t)

	assert.True(t, p.Loaded)
	assert.False(t, p.Success)
	assert.Equal(t, frames-1, p.FramesLoaded)
	assert.Equal(t, frames, p.FramesProcessed)
	require.ErrorIs(t, p.Err, errFetch)
	var fe *FrameError
	require.ErrorAs(t, p.Err, &fe)
	assert.Equal(t, 3, fe.Index)
	assert.Equal(t, "f3", fe.FrameID)

	st := v.Status()
	assert.True(t, st.Loaded)
	assert.False(t, st.CachedFrames[3])
	assert.True(t, st.CachedFrames[4])
}

func TestLoad_UnknownCategory(t *testing.T) {
	t.Parallel()

	c := newCoordinator(t, 6, newFakeFetcher(), Options{})
	v, err := c.NewVolume("v", meta(2), stack(2))
	require.NoError(t, err)

	err = v.Load(nil, LoadOptions{Category: "bogus"})
	require.ErrorIs(t, err, scheduler.ErrUnknownCategory)
	var ie *scheduler.InvariantError
	require.ErrorAs(t, err, &ie)
	assert.False(t, v.Loading())
	assert.Zero(t, c.Scheduler().Pending())
}

func TestLoad_DestroyedVolume(t *testing.T) {
	t.Parallel()

	c := newCoordinator(t, 6, newFakeFetcher(), Options{})
	v, err := c.NewVolume("v", meta(2), stack(2))
	require.NoError(t, err)
	v.Destroy()
	require.ErrorIs(t, v.Load(nil, LoadOptions{}), ErrDestroyed)
}

func TestLoad_PriorityFollowsOrder(t *testing.T) {
	t.Parallel()

	const frames = 5
	f := newFakeFetcher()
	f.hold.Store(true)
	c := newCoordinator(t, 1, f, Options{})
	v, err := c.NewVolume("v", meta(frames), stack(frames))
	require.NoError(t, err)

	require.NoError(t, v.Load(nil, LoadOptions{Priority: 10}))
	first := f.waitStarted(t, 1)
	assert.Equal(t, []string{"f2"}, first, "center-out dispatches the middle slice first")

	snap := c.Scheduler().Snapshot()[scheduler.Prefetch]
	want := map[int]string{11: "f1", 12: "f3", 13: "f0", 14: "f4"}
	for prio, id := range want {
		require.Len(t, snap[prio], 1, "priority %d", prio)
		d, ok := snap[prio][0].Details.(FrameDetails)
		require.True(t, ok)
		assert.Equal(t, id, d.FrameID)
		assert.Equal(t, "v", d.VolumeID)
		assert.Same(t, v, d.Owner())
		assert.Equal(t, d.FrameIndex*frameLen, d.Offset)
		assert.Equal(t, frameLen, d.Length)
	}
	close(f.gate)
}

func TestCancel_DropsPendingAndDiscardsInFlight(t *testing.T) {
	t.Parallel()

	const frames = 8
	f := newFakeFetcher()
	f.hold.Store(true)
	c := newCoordinator(t, 2, f, Options{})
	s := c.Scheduler()
	v, err := c.NewVolume("v", meta(frames), stack(frames))
	require.NoError(t, err)

	rec := newRecorder()
	require.NoError(t, v.Load(rec.cb, LoadOptions{}))
	f.waitStarted(t, 2)
	require.Equal(t, frames-2, s.Pending())

	v.CancelLoading()
	assert.Zero(t, s.Pending(), "pending frame requests must be filtered")
	st := v.Status()
	assert.False(t, st.Loading)
	assert.False(t, st.Loaded)
	assert.Zero(t, st.FramesProcessed)
	assert.Zero(t, st.Callbacks)

	close(f.gate)
	require.Eventually(t, func() bool { return s.ActiveTotal() == 0 }, 2*time.Second, time.Millisecond)

	buf, err := v.ScalarData()
	require.NoError(t, err)
	assert.Equal(t, make([]byte, frames*frameLen), buf, "cancelled frames must not be written")
	assert.Empty(t, rec.all(), "dropped callbacks are never invoked")
	for _, ok := range v.Status().CachedFrames {
		assert.False(t, ok)
	}
}

func TestCancel_ThenReloadIgnoresStaleFrames(t *testing.T) {
	t.Parallel()

	const frames = 6
	f := newFakeFetcher()
	f.hold.Store(true)
	c := newCoordinator(t, 2, f, Options{})
	v, err := c.NewVolume("v", meta(frames), stack(frames))
	require.NoError(t, err)

	stale := newRecorder()
	require.NoError(t, v.Load(stale.cb, LoadOptions{}))
	f.waitStarted(t, 2)
	v.CancelLoading()

	// The two in-flight fetches of the cancelled cycle still hold both
	// slots; the new cycle queues behind them.
	f.gen.Store(2)
	f.hold.Store(false)
	fresh := newRecorder()
	require.NoError(t, v.Load(fresh.cb, LoadOptions{}))
	close(f.gate)

	p := fresh.wait(t)
	assert.True(t, p.Success)
	assert.Equal(t, frames, p.FramesLoaded)
	assert.Empty(t, stale.all())

	buf, err := v.ScalarData()
	require.NoError(t, err)
	for i := 0; i < frames; i++ {
		assert.Equal(t, frameBytes(2, i), buf[i*frameLen:(i+1)*frameLen], "frame %d", i)
	}
}

func TestCancel_LeavesOtherVolumes(t *testing.T) {
	t.Parallel()

	const frames = 4
	f := newFakeFetcher()
	f.hold.Store(true)
	c := newCoordinator(t, 1, f, Options{Order: Sequential})
	s := c.Scheduler()

	a, err := New("a", meta(frames), stack(frames), c)
	require.NoError(t, err)
	b, err := New("b", Metadata{FrameIDs: frameIDs(frames), ScalarType: Uint8}, stack(frames), c)
	require.NoError(t, err)

	require.NoError(t, a.Load(nil, LoadOptions{}))
	f.waitStarted(t, 1)
	rb := newRecorder()
	require.NoError(t, b.Load(rb.cb, LoadOptions{}))
	require.Equal(t, 2*frames-1, s.Pending())

	a.CancelLoading()
	require.Equal(t, frames, s.Pending())
	for _, byPrio := range s.Snapshot() {
		for _, infos := range byPrio {
			for _, info := range infos {
				d := info.Details.(FrameDetails)
				assert.Same(t, b, d.Owner())
			}
		}
	}

	close(f.gate)
	p := rb.wait(t)
	assert.True(t, p.Success)
	assert.False(t, a.Status().Loaded)
}

func TestRegistry_GetOrCreateCoalesces(t *testing.T) {
	t.Parallel()

	reg := cache.New(cache.Options{})
	c := newCoordinator(t, 6, newFakeFetcher(), Options{Registry: reg})

	var got [16]*Volume
	var g errgroup.Group
	for i := range got {
		g.Go(func() error {
			v, err := c.GetOrCreate(context.Background(), "vol", meta(4), stack(4))
			got[i] = v
			return err
		})
	}
	require.NoError(t, g.Wait())
	for _, v := range got {
		assert.Same(t, got[0], v)
	}
	assert.Equal(t, 1, reg.Len())
	assert.Equal(t, got[0].SizeInBytes(), reg.Bytes())
}

func TestRegistry_GetOrCreateWrongType(t *testing.T) {
	t.Parallel()

	reg := cache.New(cache.Options{})
	c := newCoordinator(t, 6, newFakeFetcher(), Options{Registry: reg})
	v, err := New("x", meta(1), stack(1), c)
	require.NoError(t, err)
	require.True(t, reg.Put(newImage(v, 0, make([]byte, frameLen))))

	_, err = c.GetOrCreate(context.Background(), "f0", meta(1), stack(1))
	require.Error(t, err)
}

func TestDecache_SplitsFramesIntoImages(t *testing.T) {
	t.Parallel()

	const frames = 4
	reg := cache.New(cache.Options{})
	c := newCoordinator(t, 6, newFakeFetcher(), Options{Registry: reg})
	v, err := c.GetOrCreate(context.Background(), "vol", meta(frames), stack(frames))
	require.NoError(t, err)

	rec := newRecorder()
	require.NoError(t, v.Load(rec.cb, LoadOptions{}))
	rec.wait(t)

	require.NoError(t, v.Decache(false))
	_, ok := reg.Get("vol")
	assert.False(t, ok)
	assert.Equal(t, frames, reg.Len())
	assert.Equal(t, int64(frames*frameLen), reg.Bytes())

	e, ok := reg.Get("f2")
	require.True(t, ok)
	img, ok := e.(*Image)
	require.True(t, ok)
	px, err := img.PixelData()
	require.NoError(t, err)
	assert.Equal(t, frameBytes(1, 2), px)
	assert.Equal(t, "vol", img.VolumeID())
	assert.Equal(t, 2, img.FrameIndex())
	assert.Equal(t, 1, img.Geometry().Dimensions[2])
	assert.InDelta(t, 4.0, img.Geometry().Origin[2], 1e-9)

	_, err = v.ScalarData()
	require.ErrorIs(t, err, ErrDestroyed)
}

func TestDecache_SkipsFramesNeverLoaded(t *testing.T) {
	t.Parallel()

	reg := cache.New(cache.Options{})
	c := newCoordinator(t, 6, newFakeFetcher(), Options{Registry: reg})
	v, err := c.GetOrCreate(context.Background(), "vol", meta(3), stack(3))
	require.NoError(t, err)

	require.NoError(t, v.Decache(false))
	assert.Zero(t, reg.Len())
}

func TestDecache_CompletelyRemove(t *testing.T) {
	t.Parallel()

	f := newFakeFetcher()
	f.hold.Store(true)
	reg := cache.New(cache.Options{})
	c := newCoordinator(t, 2, f, Options{Registry: reg})
	v, err := c.GetOrCreate(context.Background(), "vol", meta(4), stack(4))
	require.NoError(t, err)

	require.NoError(t, v.Load(nil, LoadOptions{}))
	f.waitStarted(t, 2)
	require.NoError(t, v.Decache(true))

	assert.Zero(t, reg.Len())
	assert.Zero(t, c.Scheduler().Pending())
	_, err = v.ScalarData()
	require.ErrorIs(t, err, ErrDestroyed)
	close(f.gate)
}

func TestRemoveFromCache_KeepsOtherEntryWithSameID(t *testing.T) {
	t.Parallel()

	reg := cache.New(cache.Options{})
	c := newCoordinator(t, 6, newFakeFetcher(), Options{Registry: reg})
	stray, err := c.NewVolume("vol", meta(2), stack(2))
	require.NoError(t, err)
	registered, err := c.GetOrCreate(context.Background(), "vol", meta(2), stack(2))
	require.NoError(t, err)

	require.NoError(t, stray.RemoveFromCache())
	got, ok := reg.Get("vol")
	require.True(t, ok)
	assert.Same(t, registered, got)
}

func TestRegistry_EvictionSkipsLoadingVolumes(t *testing.T) {
	t.Parallel()

	f := newFakeFetcher()
	f.hold.Store(true)
	reg := cache.New(cache.Options{
		MaxBytes: 4 * frameLen,
		Shards:   1,
		OnEvict:  func(e cache.Entry, _ cache.EvictReason) { e.Destroy() },
	})
	c := newCoordinator(t, 6, f, Options{Registry: reg})

	busy, err := c.GetOrCreate(context.Background(), "busy", meta(4), stack(4))
	require.NoError(t, err)
	require.NoError(t, busy.Load(nil, LoadOptions{}))

	idle, err := c.GetOrCreate(context.Background(), "idle", meta(4), stack(4))
	require.NoError(t, err)

	// Over budget, but the only evictable entry is the newcomer itself.
	_, ok := reg.Get("busy")
	assert.True(t, ok, "a loading volume must not be evicted")
	_, err = busy.ScalarData()
	require.NoError(t, err)
	_, ok = reg.Get("idle")
	assert.False(t, ok)
	_, err = idle.ScalarData()
	require.True(t, errors.Is(err, ErrDestroyed))
	close(f.gate)
}

func TestLoad_FourFramesOneRejected(t *testing.T) {
	t.Parallel()

	f := newFakeFetcher()
	f.fail = map[string]bool{"f2": true}
	c := newCoordinator(t, 6, f, Options{})
	v, err := c.NewVolume("v", meta(4), stack(4))
	require.NoError(t, err)

	r1, r2 := newRecorder(), newRecorder()
	require.NoError(t, v.Load(r1.cb, LoadOptions{}))
	require.NoError(t, v.Load(r2.cb, LoadOptions{}))
	p := r1.wait(t)
	r2.wait(t)

	assert.Equal(t, 4, p.FramesProcessed)
	assert.True(t, p.Loaded)
	assert.False(t, p.Success)
	assert.Error(t, p.Err)

	st := v.Status()
	assert.Equal(t, []bool{true, true, false, true}, st.CachedFrames)
	cached := 0
	for _, ok := range st.CachedFrames {
		if ok {
			cached++
		}
	}
	assert.Equal(t, 4, cached+len(multiErrs(p.Err)))
}

// multiErrs unpacks an errors.Join result.
func multiErrs(err error) []error {
	if u, ok := err.(interface{ Unwrap() []error }); ok {
		return u.Unwrap()
	}
	if err != nil {
		return []error{err}
	}
	return nil
}

func TestLoad_SchedulerCloseSettlesQueuedFrames(t *testing.T) {
	t.Parallel()

	const frames = 6
	f := newFakeFetcher()
	f.hold.Store(true)
	c := newCoordinator(t, 2, f, Options{Order: Sequential})
	v, err := c.NewVolume("v", meta(frames), stack(frames))
	require.NoError(t, err)

	rec := newRecorder()
	require.NoError(t, v.Load(rec.cb, LoadOptions{}))
	f.waitStarted(t, 2)
	require.Equal(t, frames-2, c.Scheduler().Pending())

	require.NoError(t, c.Scheduler().Close())
	p := rec.wait(t)

	assert.True(t, p.Loaded)
	assert.False(t, p.Success)
	assert.Zero(t, p.FramesLoaded)
	assert.Equal(t, frames, p.FramesProcessed)
	require.ErrorIs(t, p.Err, context.Canceled)
	assert.Len(t, multiErrs(p.Err), frames)
	var fe *FrameError
	require.ErrorAs(t, p.Err, &fe)

	assert.False(t, v.Loading())
	assert.Equal(t, int32(2), f.calls.Load(), "queued frames must not be fetched after close")
}

// stallFetcher blocks fetches of one frame id until gate is closed.
type stallFetcher struct {
	*fakeFetcher
	stall string
	gate  chan struct{}
}

func (s *stallFetcher) Fetch(ctx context.Context, id string) ([]byte, error) {
	if id == s.stall {
		select {
		case <-s.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return s.fakeFetcher.Fetch(ctx, id)
}

func TestDecache_FrameSettlingDuringCancel(t *testing.T) {
	t.Parallel()

	const frames = 4
	f := &stallFetcher{fakeFetcher: newFakeFetcher(), stall: "f2", gate: make(chan struct{})}
	reg := cache.New(cache.Options{})
	c := newCoordinator(t, 1, f, Options{Registry: reg, Order: Sequential})
	v, err := c.GetOrCreate(context.Background(), "vol", meta(frames), stack(frames))
	require.NoError(t, err)

	require.NoError(t, v.Load(nil, LoadOptions{}))
	require.Eventually(t, func() bool { return v.Status().FramesLoaded == 2 }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, v.Decache(false))
	close(f.gate)

	assert.Equal(t, 2, reg.Len())
	for i := 0; i < frames; i++ {
		e, ok := reg.Get(frameIDs(frames)[i])
		if i >= 2 {
			assert.False(t, ok, "frame %d was never cached", i)
			continue
		}
		require.True(t, ok, "frame %d", i)
		px, err := e.(*Image).PixelData()
		require.NoError(t, err)
		assert.Equal(t, frameBytes(1, i), px)
	}
	assert.Zero(t, c.Scheduler().Pending())
}

func TestLoad_SlotFailureIsFrameError(t *testing.T) {
	t.Parallel()

	const frames = 3
	c := newCoordinator(t, 6, newFakeFetcher(), Options{})
	v, err := c.NewVolume("v", meta(frames), stack(frames))
	require.NoError(t, err)

	// The buffers go away after the load starts but before any frame is issued.
	order := OrderFunc(func(n int) []int {
		v.destroyed.Store(true)
		return Sequential.Order(n)
	})
	rec := newRecorder()
	require.NoError(t, v.Load(rec.cb, LoadOptions{Order: order}))
	p := rec.wait(t)

	assert.False(t, p.Success)
	assert.Equal(t, frames, p.FramesProcessed)
	require.ErrorIs(t, p.Err, ErrDestroyed)
	errs := multiErrs(p.Err)
	require.Len(t, errs, frames)
	for i, err := range errs {
		var fe *FrameError
		require.ErrorAs(t, err, &fe, "error %d", i)
		assert.Equal(t, frameIDs(frames)[fe.Index], fe.FrameID)
	}
	assert.Zero(t, c.Scheduler().Pending())
}

func TestVolume_ConcurrentDestroy(t *testing.T) {
	t.Parallel()

	f := newFakeFetcher()
	f.hold.Store(true)
	c := newCoordinator(t, 2, f, Options{})
	v, err := c.NewVolume("v", meta(6), stack(6))
	require.NoError(t, err)
	require.NoError(t, v.Load(nil, LoadOptions{}))
	f.waitStarted(t, 2)

	var g errgroup.Group
	for i := 0; i < 8; i++ {
		g.Go(func() error {
			v.Destroy()
			_, err := v.ScalarData()
			if !errors.Is(err, ErrDestroyed) {
				return err
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
	close(f.gate)

	assert.False(t, v.Loading())
	assert.Zero(t, c.Scheduler().Pending())
	require.ErrorIs(t, v.Load(nil, LoadOptions{}), ErrDestroyed)
}
