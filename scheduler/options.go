package scheduler

import (
	"io"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/IvanBrykalov/volcache/internal/timer"
)

// DefaultMaxRequests is used when Options.MaxRequests is nil.
const DefaultMaxRequests = 6

// MaxRequestsFunc returns the global simultaneous request limit M.
// It is read on every tick, so it may change at runtime.
type MaxRequestsFunc func() int

// QuotaFunc derives the per-category limit from M.
type QuotaFunc func(c Category, max int) int

// DefaultQuota is the asymmetric quota: interactive work starves least,
// thumbnails most.
func DefaultQuota(c Category, max int) int {
	switch c {
	case Thumbnail:
		return atLeastOne(max - 2)
	case Prefetch:
		return atLeastOne(max - 1)
	default:
		return atLeastOne(max)
	}
}

func atLeastOne(n int) int {
	if n < 1 {
		return 1
	}
	return n
}

// Metrics exposes scheduler observability hooks.
// NoopMetrics is used by default.
type Metrics interface {
	Enqueue(c Category)
	Dispatch(c Category, waited time.Duration)
	Settle(c Category, took time.Duration, err error)
	Dropped(n int)
	Active(c Category, n int)
}

// Options configures a Scheduler. Zero values are safe; defaults are
// applied in New():
//   - nil MaxRequests  => constant DefaultMaxRequests
//   - empty Categories => DefaultCategories
//   - nil Quota        => DefaultQuota
//   - nil Metrics      => NoopMetrics
//   - nil Logger       => discard
//   - nil Clock        => wall clock
type Options struct {
	MaxRequests MaxRequestsFunc

	// Categories lists the known categories in precedence order.
	Categories []Category
	Quota      QuotaFunc

	// Debounce delays the re-tick after a settlement so near-simultaneous
	// completions are batched. Zero re-ticks immediately.
	Debounce time.Duration

	Metrics Metrics
	Logger  logrus.FieldLogger
	Clock   timer.Clock

	// NewID generates request ids; nil => random UUIDs.
	NewID func() string
}

func discardLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}
