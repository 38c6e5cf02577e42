package scheduler

import "time"

// NoopMetrics is a Metrics implementation that does nothing.
type NoopMetrics struct{}

func (NoopMetrics) Enqueue(Category)                      {}
func (NoopMetrics) Dispatch(Category, time.Duration)      {}
func (NoopMetrics) Settle(Category, time.Duration, error) {}
func (NoopMetrics) Dropped(int)                           {}
func (NoopMetrics) Active(Category, int)                  {}

var _ Metrics = NoopMetrics{}
