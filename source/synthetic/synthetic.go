// Package synthetic generates deterministic frames with configurable
// latency and failure rate, for benchmarks and demos.
package synthetic

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/IvanBrykalov/volcache/internal/util"
	"github.com/IvanBrykalov/volcache/volume"
)

// ErrInjected is returned for frames picked by FailRate.
var ErrInjected = errors.New("synthetic: injected failure")

// Options configures a Fetcher.
type Options struct {
	// FrameLen is the byte length of every frame.
	FrameLen int
	// Latency is the base delay per fetch; Jitter adds up to that much more.
	Latency time.Duration
	Jitter  time.Duration
	// FailRate in [0,1] is the probability a fetch fails.
	FailRate float64
	Seed     int64
}

// Fetcher serves frames whose bytes are derived from the frame id.
type Fetcher struct {
	opt Options

	mu  sync.Mutex
	rng *rand.Rand
}

func New(opt Options) *Fetcher {
	return &Fetcher{opt: opt, rng: rand.New(rand.NewSource(opt.Seed))}
}

// Fetch waits the configured latency (or until ctx ends) and returns
// Frame(frameID, FrameLen).
func (f *Fetcher) Fetch(ctx context.Context, frameID string) ([]byte, error) {
	f.mu.Lock()
	delay := f.opt.Latency
	if f.opt.Jitter > 0 {
		delay += time.Duration(f.rng.Int63n(int64(f.opt.Jitter)))
	}
	fail := f.opt.FailRate > 0 && f.rng.Float64() < f.opt.FailRate
	f.mu.Unlock()

	if delay > 0 {
		t := time.NewTimer(delay)
		defer t.Stop()
		select {
		case <-t.C:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if fail {
		return nil, ErrInjected
	}
	return Frame(frameID, f.opt.FrameLen), nil
}

// Frame returns the n bytes served for frameID.
func Frame(frameID string, n int) []byte {
	out := make([]byte, n)
	h := util.HashID(frameID)
	for i := range out {
		out[i] = byte(h >> (8 * (i % 8)))
	}
	return out
}

var _ volume.Fetcher = (*Fetcher)(nil)
