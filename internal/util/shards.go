package util

import "runtime"

// ReasonableShardCount picks a default shard count for the entry registry.
// Registries hold few, large entries (volumes, frames), so the heuristic is
// nextPow2(GOMAXPROCS) clamped to [1..64] rather than a per-core multiple.
func ReasonableShardCount() int {
	p := runtime.GOMAXPROCS(0)
	if p < 1 {
		p = 1
	}
	n := int(NextPow2(uint64(p)))
	if n > 64 {
		n = 64
	}
	return n
}

// ShardIndex maps a 64-bit hash to a shard index.
// Power-of-two shard counts take the mask path; other counts use modulo.
func ShardIndex(hash uint64, shards int) int {
	if shards <= 1 {
		return 0
	}
	if IsPowerOfTwo(uint64(shards)) {
		return int(hash & uint64(shards-1))
	}
	return int(hash % uint64(shards))
}
