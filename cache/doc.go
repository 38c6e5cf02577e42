// Package cache is the process-wide registry of loaded image data: volumes
// being streamed in and the per-frame images they can be redistributed into.
//
// Design
//
//   - Concurrency: the registry is split into shards, each protected by a
//     mutex, keyed by an FNV-1a hash of the entry id. The shard count is a
//     power of two.
//
//   - Storage: each shard keeps a map[string]*node and an intrusive MRU<->LRU
//     list used by the eviction policy.
//
//   - Eviction: explicit removal only unless MaxBytes or MaxEntries is set.
//     With a budget, the policy (LRU by default) evicts the least recently
//     used entry that is not loading; entries still streaming are pinned.
//     Options.OnEvict receives every evicted entry.
//
//   - GetOrCreate: coalesces concurrent first references to the same id, so
//     exactly one caller constructs the entry (and allocates its buffer).
//
//   - Metrics: Options.Metrics receives Hit/Miss/Evict/Size signals;
//     NoopMetrics is the default, metrics/prom exports them.
//
// Basic usage
//
//	reg := cache.New(cache.Options{MaxBytes: 2 << 30})
//	e, err := reg.GetOrCreate(ctx, "volume:ct-1", func(ctx context.Context) (cache.Entry, error) {
//	    return volume.New("volume:ct-1", meta, geom, opts)
//	})
//
// All methods on Cache are safe for concurrent use.
package cache
