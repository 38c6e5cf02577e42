package cache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/IvanBrykalov/volcache/internal/util"
	"github.com/IvanBrykalov/volcache/policy/lru"
)

var (
	// ErrClosed is returned by GetOrCreate after Close.
	ErrClosed = errors.New("cache: closed")
	// ErrIDMismatch is returned when a CreateFunc builds an entry for a
	// different id than the one requested.
	ErrIDMismatch = errors.New("cache: created entry has a different id")
)

// registry is a sharded id -> Entry map with an optional eviction budget.
type registry struct {
	shards []*shard
	closed atomic.Bool
	opt    Options

	// coalesces concurrent first references in GetOrCreate.
	sf singleflight.Group
}

// New constructs a registry with the provided Options.
func New(opt Options) Cache {
	if opt.MaxBytes < 0 || opt.MaxEntries < 0 {
		panic("cache: MaxBytes and MaxEntries must be >= 0")
	}
	if opt.Metrics == nil {
		opt.Metrics = NoopMetrics{}
	}
	if opt.Policy == nil {
		opt.Policy = lru.New()
	}
	if opt.Logger == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		opt.Logger = l
	}
	opt.Logger = opt.Logger.WithField("component", "cache")

	sh := opt.Shards
	if sh <= 0 {
		sh = util.ReasonableShardCount()
	} else {
		sh = int(util.NextPow2(uint64(sh)))
	}

	cs := make([]*shard, sh)
	for i := range cs {
		cs[i] = newShard(sh, opt)
	}
	return &registry{shards: cs, opt: opt}
}

func (c *registry) Get(id string) (Entry, bool) {
	if c.closed.Load() {
		return nil, false
	}
	return c.getShard(id).Get(id)
}

func (c *registry) Put(e Entry) bool {
	if c.closed.Load() {
		return false
	}
	return c.getShard(e.ID()).Put(e)
}

func (c *registry) Set(e Entry) {
	if c.closed.Load() {
		return
	}
	c.getShard(e.ID()).Set(e)
}

func (c *registry) Remove(id string) bool {
	if c.closed.Load() {
		return false
	}
	return c.getShard(id).Remove(id)
}

func (c *registry) Len() int {
	total := 0
	for _, s := range c.shards {
		total += s.Len()
	}
	return total
}

func (c *registry) Bytes() int64 {
	var total int64
	for _, s := range c.shards {
		total += s.Bytes()
	}
	return total
}

func (c *registry) Close() error {
	c.closed.Store(true)
	return nil
}

// GetOrCreate returns the entry for id, building it on first reference.
// A follower whose ctx ends stops waiting; the leader's create keeps
// running with the leader's ctx.
func (c *registry) GetOrCreate(ctx context.Context, id string, create CreateFunc) (Entry, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}
	if e, ok := c.Get(id); ok {
		return e, nil
	}

	ch := c.sf.DoChan(id, func() (any, error) {
		// double-check after joining the flight
		if e, ok := c.Get(id); ok {
			return e, nil
		}
		e, err := create(ctx)
		if err != nil {
			return nil, err
		}
		if e.ID() != id {
			return nil, fmt.Errorf("%w: want %q, got %q", ErrIDMismatch, id, e.ID())
		}
		if !c.Put(e) {
			// Someone Put directly between our Get and Put; theirs wins.
			if cur, ok := c.Get(id); ok {
				e.Destroy()
				return cur, nil
			}
			c.Set(e)
		}
		c.opt.Logger.WithField("entry", id).Debug("created")
		return e, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(Entry), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// getShard picks a shard by hashing the id; len(c.shards) is a power of two.
func (c *registry) getShard(id string) *shard {
	return c.shards[util.ShardIndex(util.HashID(id), len(c.shards))]
}
