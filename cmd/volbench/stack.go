package main

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/IvanBrykalov/volcache/cache"
	"github.com/IvanBrykalov/volcache/config"
	"github.com/IvanBrykalov/volcache/scheduler"
	"github.com/IvanBrykalov/volcache/source/file"
	"github.com/IvanBrykalov/volcache/source/s3"
	"github.com/IvanBrykalov/volcache/source/synthetic"
	"github.com/IvanBrykalov/volcache/volume"
)

type stackDeps struct {
	log       *logrus.Logger
	frameLen  int
	cacheMet  cache.Metrics
	schedMet  scheduler.Metrics
	volumeMet volume.Metrics
}

// stack is the wired scheduler, registry and coordinator.
type stack struct {
	sched    *scheduler.Scheduler
	registry cache.Cache
	coord    *volume.Coordinator
	fetcher  volume.Fetcher
	log      logrus.FieldLogger

	thumbs sync.WaitGroup
}

func newStack(ctx context.Context, cfg *config.Config, d stackDeps) (*stack, error) {
	fetcher, err := newFetcher(ctx, cfg, d.frameLen, d.log)
	if err != nil {
		return nil, err
	}
	order, err := cfg.Order()
	if err != nil {
		return nil, err
	}

	maxRequests := cfg.Scheduler.MaxRequests
	sched := scheduler.New(scheduler.Options{
		MaxRequests: func() int { return maxRequests },
		Categories:  cfg.Categories(),
		Debounce:    cfg.Scheduler.Debounce,
		Metrics:     d.schedMet,
		Logger:      d.log,
	})
	registry := cache.New(cache.Options{
		MaxBytes:   cfg.Cache.MaxBytes,
		MaxEntries: cfg.Cache.MaxEntries,
		Shards:     cfg.Cache.Shards,
		OnEvict:    func(e cache.Entry, _ cache.EvictReason) { e.Destroy() },
		Metrics:    d.cacheMet,
		Logger:     d.log,
	})
	coord := volume.NewCoordinator(volume.Options{
		Scheduler:    sched,
		Fetcher:      fetcher,
		Order:        order,
		Category:     scheduler.Category(cfg.Streaming.DefaultCategory),
		ProgressRate: cfg.Streaming.ProgressRate,
		Registry:     registry,
		Metrics:      d.volumeMet,
		Logger:       d.log,
	})
	return &stack{
		sched:    sched,
		registry: registry,
		coord:    coord,
		fetcher:  fetcher,
		log:      d.log,
	}, nil
}

func newFetcher(ctx context.Context, cfg *config.Config, frameLen int, log logrus.FieldLogger) (volume.Fetcher, error) {
	src := cfg.Source
	switch src.Kind {
	case "synthetic":
		return synthetic.New(synthetic.Options{
			FrameLen: frameLen,
			Latency:  src.Latency,
			Jitter:   src.Jitter,
			FailRate: src.FailRate,
			Seed:     time.Now().UnixNano(),
		}), nil
	case "file":
		return file.New(file.Options{Dir: src.Dir, Ext: src.Ext, Logger: log})
	case "s3":
		client, err := s3.NewClient(ctx, s3.ClientConfig{
			Region:         src.Region,
			Endpoint:       src.Endpoint,
			ForcePathStyle: src.ForcePathStyle,
		})
		if err != nil {
			return nil, err
		}
		return s3.New(s3.Options{
			Client:        client,
			Bucket:        src.Bucket,
			Prefix:        src.Prefix,
			MaxFrameBytes: int64(frameLen),
			Logger:        log,
		})
	default:
		return nil, fmt.Errorf("unknown source kind %q", src.Kind)
	}
}

// thumbnail fetches one frame as an interaction request, bypassing the
// volume, and records its latency.
func (st *stack) thumbnail(frameID string, s *stats) {
	enqueued := time.Now()
	st.thumbs.Add(1)
	_, err := st.sched.AddRequest(func(ctx context.Context) error {
		defer st.thumbs.Done()
		if _, err := st.fetcher.Fetch(ctx, frameID); err != nil {
			return err
		}
		s.thumbs.Add(1)
		s.thumbNanos.Add(int64(time.Since(enqueued)))
		return nil
	}, scheduler.Interaction, nil, 0)
	if err != nil {
		st.thumbs.Done()
		st.log.WithError(err).Warn("thumbnail request rejected")
	}
}

// Close waits for outstanding thumbnails and shuts the stack down.
func (st *stack) Close() {
	st.thumbs.Wait()
	_ = st.sched.Close()
	_ = st.registry.Close()
}
