package volume

import "time"

// Metrics receives streaming-load events. Implementations must be safe for
// concurrent use; frame events arrive from scheduler goroutines.
type Metrics interface {
	FrameLoaded(took time.Duration)
	FrameFailed()
	// FrameDiscarded counts results of a cancelled cycle.
	FrameDiscarded()
	LoadSettled(frames, failed int, took time.Duration)
	LoadCancelled()
}

// NoopMetrics is a no-op implementation of Metrics.
type NoopMetrics struct{}

func (NoopMetrics) FrameLoaded(time.Duration)           {}
func (NoopMetrics) FrameFailed()                        {}
func (NoopMetrics) FrameDiscarded()                     {}
func (NoopMetrics) LoadSettled(int, int, time.Duration) {}
func (NoopMetrics) LoadCancelled()                      {}

// Compile-time check.
var _ Metrics = NoopMetrics{}
