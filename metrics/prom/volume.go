package prom

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/IvanBrykalov/volcache/volume"
)

// VolumeAdapter implements volume.Metrics.
type VolumeAdapter struct {
	frames    *prometheus.CounterVec
	frameTime prometheus.Histogram
	loads     *prometheus.CounterVec
	loadTime  prometheus.Histogram
}

// NewVolume registers streaming-load collectors under ns/sub.
func NewVolume(reg prometheus.Registerer, ns, sub string, constLabels prometheus.Labels) *VolumeAdapter {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	a := &VolumeAdapter{
		frames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "frames_total",
			Help:        "Frame results by outcome (loaded, failed, discarded)",
			ConstLabels: constLabels,
		}, []string{"outcome"}),
		frameTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "frame_duration_seconds",
			Help:        "Fetch plus decode time of loaded frames",
			Buckets:     prometheus.ExponentialBuckets(0.001, 4, 8),
			ConstLabels: constLabels,
		}),
		loads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "loads_total",
			Help:        "Load cycles by outcome (complete, partial, cancelled)",
			ConstLabels: constLabels,
		}, []string{"outcome"}),
		loadTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "load_duration_seconds",
			Help:        "Time from Load to settlement",
			Buckets:     prometheus.ExponentialBuckets(0.01, 4, 8),
			ConstLabels: constLabels,
		}),
	}
	reg.MustRegister(a.frames, a.frameTime, a.loads, a.loadTime)
	return a
}

func (a *VolumeAdapter) FrameLoaded(took time.Duration) {
	a.frames.WithLabelValues("loaded").Inc()
	a.frameTime.Observe(took.Seconds())
}

func (a *VolumeAdapter) FrameFailed() { a.frames.WithLabelValues("failed").Inc() }

func (a *VolumeAdapter) FrameDiscarded() { a.frames.WithLabelValues("discarded").Inc() }

func (a *VolumeAdapter) LoadSettled(_, failed int, took time.Duration) {
	outcome := "complete"
	if failed > 0 {
		outcome = "partial"
	}
	a.loads.WithLabelValues(outcome).Inc()
	a.loadTime.Observe(took.Seconds())
}

func (a *VolumeAdapter) LoadCancelled() { a.loads.WithLabelValues("cancelled").Inc() }

var _ volume.Metrics = (*VolumeAdapter)(nil)
