package cache

import (
	"github.com/sirupsen/logrus"

	"github.com/IvanBrykalov/volcache/policy"
)

// EvictReason explains why an entry left the registry without Remove.
type EvictReason int

const (
	// EvictBytes: removed to satisfy MaxBytes.
	EvictBytes EvictReason = iota
	// EvictCount: removed to satisfy MaxEntries.
	EvictCount
	// EvictReplaced: replaced by Set with a new entry for the same id.
	EvictReplaced
)

func (r EvictReason) String() string {
	switch r {
	case EvictBytes:
		return "bytes"
	case EvictCount:
		return "count"
	case EvictReplaced:
		return "replaced"
	default:
		return "unknown"
	}
}

// Metrics exposes registry observability hooks.
// A NoopMetrics implementation is provided and used by default.
type Metrics interface {
	Hit()
	Miss()
	Evict(reason EvictReason)
	Size(entries int, bytes int64)
}

// Options configures the registry. Zero values are safe;
// defaults are applied in New():
//   - MaxBytes == 0 and MaxEntries == 0 => explicit removal only
//   - nil Policy   => LRU
//   - Shards <= 0  => auto (rounded up to power of two)
//   - nil Metrics  => NoopMetrics
type Options struct {
	// MaxBytes bounds the total SizeInBytes of resident entries; 0 disables.
	MaxBytes int64
	// MaxEntries bounds the number of resident entries; 0 disables.
	MaxEntries int

	Shards int
	Policy policy.Policy

	// OnEvict is called for every evicted or replaced entry, under the
	// shard lock; keep it short. It must not call back into the registry.
	OnEvict func(e Entry, reason EvictReason)
	Metrics Metrics
	Logger  logrus.FieldLogger
}
