package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	_ "net/http/pprof" // registers /debug/pprof/* on DefaultServeMux
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/IvanBrykalov/volcache/cache"
	"github.com/IvanBrykalov/volcache/config"
	pmet "github.com/IvanBrykalov/volcache/metrics/prom"
	"github.com/IvanBrykalov/volcache/volume"
)

// benchFlags holds command-line overrides; zero values keep the config.
type benchFlags struct {
	configPath  string
	volumes     int
	frames      int
	width       int
	height      int
	maxRequests int
	latency     time.Duration
	failRate    float64
	thumbnails  bool
	decache     bool
	metricsAddr string
	pprofAddr   string
}

func newRootCmd() *cobra.Command {
	var f benchFlags
	cmd := &cobra.Command{
		Use:   "volbench",
		Short: "Stream volumes through the request scheduler and report load statistics",
		Long: `volbench builds a scheduler, an entry registry and a streaming-load
coordinator from the configuration, then loads several volumes concurrently.
Every frame is a prefetch request; with --thumbnails an interaction request
per volume competes with them.

Examples:
  # Eight synthetic 256-slice volumes, 6 concurrent requests
  volbench --volumes 8 --frames 256

  # Use a config file and expose Prometheus metrics
  volbench --config volcache.yaml --metrics-addr :9090`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(f.configPath)
			if err != nil {
				return err
			}
			applyFlags(cmd, cfg, f)
			if err := cfg.Validate(); err != nil {
				return err
			}
			return runBench(cmd.Context(), cfg, f, cmd.OutOrStdout())
		},
	}

	fl := cmd.Flags()
	fl.StringVar(&f.configPath, "config", "", "path to a YAML config file")
	fl.IntVar(&f.volumes, "volumes", 4, "number of volumes to load concurrently")
	fl.IntVar(&f.frames, "frames", 64, "frames (slices) per volume")
	fl.IntVar(&f.width, "width", 256, "frame columns")
	fl.IntVar(&f.height, "height", 256, "frame rows")
	fl.IntVar(&f.maxRequests, "max-requests", 0, "override scheduler.max_requests")
	fl.DurationVar(&f.latency, "latency", 0, "override synthetic source latency")
	fl.Float64Var(&f.failRate, "fail-rate", 0, "override synthetic source failure rate")
	fl.BoolVar(&f.thumbnails, "thumbnails", true, "issue one interaction request per volume during the load")
	fl.BoolVar(&f.decache, "decache", false, "split loaded volumes into per-frame entries when done")
	fl.StringVar(&f.metricsAddr, "metrics-addr", "", "serve Prometheus metrics at addr (overrides metrics.addr)")
	fl.StringVar(&f.pprofAddr, "pprof", "", "serve pprof at addr (e.g. :6060); empty = disabled")
	return cmd
}

func applyFlags(cmd *cobra.Command, cfg *config.Config, f benchFlags) {
	fl := cmd.Flags()
	if fl.Changed("max-requests") {
		cfg.Scheduler.MaxRequests = f.maxRequests
	}
	if fl.Changed("latency") {
		cfg.Source.Latency = f.latency
	}
	if fl.Changed("fail-rate") {
		cfg.Source.FailRate = f.failRate
	}
	if fl.Changed("metrics-addr") {
		cfg.Metrics.Addr = f.metricsAddr
	}
}

// stats aggregates results across volumes.
type stats struct {
	loaded      atomic.Int64
	failed      atomic.Int64
	partial     atomic.Int64
	thumbs      atomic.Int64
	thumbNanos  atomic.Int64
	firstFrames sync.Map // volume id -> time to first progress
}

func runBench(ctx context.Context, cfg *config.Config, f benchFlags, out io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	log, err := cfg.NewLogger()
	if err != nil {
		return err
	}

	// ---- pprof server (on DefaultServeMux) ----
	if f.pprofAddr != "" {
		go func() {
			log.WithField("addr", f.pprofAddr).Info("pprof: serving")
			log.WithError(http.ListenAndServe(f.pprofAddr, nil)).Warn("pprof server stopped")
		}()
	}

	// ---- Prometheus metrics ----
	reg := prometheus.NewRegistry()
	ns := cfg.Metrics.Namespace
	if cfg.Metrics.Addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		srv := &http.Server{Addr: cfg.Metrics.Addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			log.WithField("addr", cfg.Metrics.Addr).Info("metrics: serving")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.WithError(err).Warn("metrics server stopped")
			}
		}()
		defer func() { _ = srv.Close() }()
	}

	// ---- Build the stack ----
	st, err := newStack(ctx, cfg, stackDeps{
		log:       log,
		frameLen:  f.width * f.height * volume.Uint16.BytesPerVoxel(),
		cacheMet:  pmet.New(reg, ns, "registry", nil),
		schedMet:  pmet.NewScheduler(reg, ns, "scheduler", nil),
		volumeMet: pmet.NewVolume(reg, ns, "streaming", nil),
	})
	if err != nil {
		return err
	}
	defer st.Close()

	geom := volume.Geometry{
		Dimensions: [3]int{f.width, f.height, f.frames},
		Spacing:    [3]float64{1, 1, 1},
		Direction:  volume.IdentityDirection,
	}

	// ---- Load generation ----
	var s stats
	start := time.Now()
	g, gctx := errgroup.WithContext(ctx)
	vols := make([]*volume.Volume, f.volumes)
	for i := 0; i < f.volumes; i++ {
		g.Go(func() error {
			id := fmt.Sprintf("vol-%03d", i)
			meta := volume.Metadata{FrameIDs: frameIDs(id, f.frames), ScalarType: volume.Uint16}
			v, err := st.coord.GetOrCreate(gctx, id, meta, geom)
			if err != nil {
				return err
			}
			vols[i] = v
			if f.thumbnails {
				st.thumbnail(meta.FrameIDs[f.frames/2], &s)
			}
			return loadVolume(gctx, v, start, &s)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	st.thumbs.Wait()
	elapsed := time.Since(start)

	// ---- Decache ----
	if f.decache {
		for _, v := range vols {
			if err := v.Decache(false); err != nil {
				return err
			}
		}
	}

	// ---- Report ----
	report(out, cfg, f, &s, elapsed, st.registry)
	return nil
}

func frameIDs(volumeID string, n int) []string {
	ids := make([]string, n)
	for i := range ids {
		ids[i] = fmt.Sprintf("%s/f%04d", volumeID, i)
	}
	return ids
}

// loadVolume runs one load cycle to settlement.
func loadVolume(ctx context.Context, v *volume.Volume, start time.Time, s *stats) error {
	done := make(chan volume.Progress, 1)
	var first sync.Once
	err := v.Load(func(p volume.Progress) {
		first.Do(func() { s.firstFrames.Store(v.ID(), time.Since(start)) })
		if p.Loaded {
			done <- p
		}
	}, volume.LoadOptions{})
	if err != nil {
		return err
	}
	select {
	case p := <-done:
		s.loaded.Add(int64(p.FramesLoaded))
		s.failed.Add(int64(p.FramesProcessed - p.FramesLoaded))
		if !p.Success {
			s.partial.Add(1)
		}
		return nil
	case <-ctx.Done():
		v.CancelLoading()
		return ctx.Err()
	}
}

func report(out io.Writer, cfg *config.Config, f benchFlags, s *stats, elapsed time.Duration, reg cache.Cache) {
	frames := s.loaded.Load() + s.failed.Load()
	var firstSum time.Duration
	var firstN int
	s.firstFrames.Range(func(_, v any) bool {
		firstSum += v.(time.Duration)
		firstN++
		return true
	})

	fmt.Fprintf(out, "volumes=%d frames=%d size=%dx%d source=%s max_requests=%d order=%s dur=%v\n",
		f.volumes, f.frames, f.width, f.height, cfg.Source.Kind, cfg.Scheduler.MaxRequests, cfg.Streaming.Order, elapsed)
	fmt.Fprintf(out, "frames: loaded=%d failed=%d (%.0f frames/s)  partial volumes=%d\n",
		s.loaded.Load(), s.failed.Load(), float64(frames)/elapsed.Seconds(), s.partial.Load())
	if firstN > 0 {
		fmt.Fprintf(out, "first progress: avg=%v\n", firstSum/time.Duration(firstN))
	}
	if n := s.thumbs.Load(); n > 0 {
		fmt.Fprintf(out, "thumbnails: n=%d avg=%v\n", n, time.Duration(s.thumbNanos.Load()/n))
	}
	fmt.Fprintf(out, "registry: entries=%d bytes=%d\n", reg.Len(), reg.Bytes())
}
