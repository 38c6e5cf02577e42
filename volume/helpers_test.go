package volume

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/IvanBrykalov/volcache/scheduler"
)

// Test volumes are 4x4 uint8 slices, so one frame is 16 bytes.
const frameLen = 16

var errFetch = errors.New("fetch failed")

func frameIDs(n int) []string {
	ids := make([]string, n)
	for i := range ids {
		ids[i] = fmt.Sprintf("f%d", i)
	}
	return ids
}

func stack(slices int) Geometry {
	return Geometry{
		Dimensions: [3]int{4, 4, slices},
		Spacing:    [3]float64{0.5, 0.5, 2},
		Direction:  IdentityDirection,
	}
}

func meta(frames int) Metadata {
	return Metadata{FrameIDs: frameIDs(frames), ScalarType: Uint8}
}

// frameValue is the sample every voxel of frame idx gets in generation gen.
func frameValue(gen int32, idx int) byte { return byte(int(gen)*50 + idx) }

func frameBytes(gen int32, idx int) []byte {
	return bytes.Repeat([]byte{frameValue(gen, idx)}, frameLen)
}

// fakeFetcher serves frames "f<i>" filled with frameValue(gen, i). While
// hold is set, fetches block until gate is closed. The generation is read
// when the fetch starts.
type fakeFetcher struct {
	gen     atomic.Int32
	hold    atomic.Bool
	gate    chan struct{}
	started chan string
	fail    map[string]bool
	calls   atomic.Int32
}

func newFakeFetcher() *fakeFetcher {
	f := &fakeFetcher{gate: make(chan struct{}), started: make(chan string, 1024)}
	f.gen.Store(1)
	return f
}

func (f *fakeFetcher) Fetch(ctx context.Context, id string) ([]byte, error) {
	f.calls.Add(1)
	gen := f.gen.Load()
	hold := f.hold.Load()
	f.started <- id
	if hold {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.fail[id] {
		return nil, errFetch
	}
	idx, err := strconv.Atoi(strings.TrimPrefix(id, "f"))
	if err != nil {
		return nil, err
	}
	return frameBytes(gen, idx), nil
}

func (f *fakeFetcher) waitStarted(t *testing.T, n int) []string {
	t.Helper()
	var got []string
	deadline := time.After(2 * time.Second)
	for len(got) < n {
		select {
		case id := <-f.started:
			got = append(got, id)
		case <-deadline:
			t.Fatalf("timed out waiting for %d fetches, got %v", n, got)
		}
	}
	return got
}

// recorder collects every payload delivered to its callback.
type recorder struct {
	mu     sync.Mutex
	events []Progress
	final  chan Progress
}

func newRecorder() *recorder { return &recorder{final: make(chan Progress, 8)} }

func (r *recorder) cb(p Progress) {
	r.mu.Lock()
	r.events = append(r.events, p)
	r.mu.Unlock()
	if p.Loaded {
		r.final <- p
	}
}

func (r *recorder) wait(t *testing.T) Progress {
	t.Helper()
	select {
	case p := <-r.final:
		return p
	case <-time.After(5 * time.Second):
		t.Fatal("load did not settle")
		return Progress{}
	}
}

func (r *recorder) all() []Progress {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Progress(nil), r.events...)
}

// newCoordinator wires a coordinator to a fresh scheduler with a fixed M.
// Progress is unthrottled unless opt sets a rate.
func newCoordinator(t *testing.T, maxRequests int, f Fetcher, opt Options) *Coordinator {
	t.Helper()
	s := scheduler.New(scheduler.Options{MaxRequests: func() int { return maxRequests }})
	t.Cleanup(func() { _ = s.Close() })
	opt.Scheduler = s
	opt.Fetcher = f
	if opt.ProgressRate == 0 {
		opt.ProgressRate = -1
	}
	return NewCoordinator(opt)
}
