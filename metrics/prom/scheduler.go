package prom

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/IvanBrykalov/volcache/scheduler"
)

// SchedulerAdapter implements scheduler.Metrics.
type SchedulerAdapter struct {
	enqueued *prometheus.CounterVec
	settled  *prometheus.CounterVec
	dropped  prometheus.Counter
	active   *prometheus.GaugeVec
	wait     *prometheus.HistogramVec
	run      *prometheus.HistogramVec
}

// NewScheduler registers scheduler collectors under ns/sub.
func NewScheduler(reg prometheus.Registerer, ns, sub string, constLabels prometheus.Labels) *SchedulerAdapter {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	a := &SchedulerAdapter{
		enqueued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "requests_enqueued_total",
			Help:        "Requests added to the pool",
			ConstLabels: constLabels,
		}, []string{"category"}),
		settled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "requests_settled_total",
			Help:        "Requests settled by outcome",
			ConstLabels: constLabels,
		}, []string{"category", "outcome"}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "requests_dropped_total",
			Help:        "Pending requests removed by filter or clear",
			ConstLabels: constLabels,
		}),
		active: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "requests_active",
			Help:        "In-flight requests",
			ConstLabels: constLabels,
		}, []string{"category"}),
		wait: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "request_wait_seconds",
			Help:        "Time from enqueue to dispatch",
			Buckets:     prometheus.ExponentialBuckets(0.001, 4, 8),
			ConstLabels: constLabels,
		}, []string{"category"}),
		run: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "request_duration_seconds",
			Help:        "Time from dispatch to settlement",
			Buckets:     prometheus.ExponentialBuckets(0.001, 4, 8),
			ConstLabels: constLabels,
		}, []string{"category"}),
	}
	reg.MustRegister(a.enqueued, a.settled, a.dropped, a.active, a.wait, a.run)
	return a
}

func (a *SchedulerAdapter) Enqueue(c scheduler.Category) {
	a.enqueued.WithLabelValues(string(c)).Inc()
}

func (a *SchedulerAdapter) Dispatch(c scheduler.Category, waited time.Duration) {
	a.wait.WithLabelValues(string(c)).Observe(waited.Seconds())
}

func (a *SchedulerAdapter) Settle(c scheduler.Category, took time.Duration, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	a.settled.WithLabelValues(string(c), outcome).Inc()
	a.run.WithLabelValues(string(c)).Observe(took.Seconds())
}

func (a *SchedulerAdapter) Dropped(n int) { a.dropped.Add(float64(n)) }

func (a *SchedulerAdapter) Active(c scheduler.Category, n int) {
	a.active.WithLabelValues(string(c)).Set(float64(n))
}

var _ scheduler.Metrics = (*SchedulerAdapter)(nil)
