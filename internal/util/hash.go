// Package util contains internal helpers (hashing, sharding, padding).
//revive:disable:var-naming  // allow 'util' as an internal helpers package name
package util

// HashID hashes a cache entry id with 64-bit FNV-1a.
// Entry ids are image/volume identifiers (URIs or scheme-prefixed ids) that
// share long common prefixes, so the whole string is mixed in, not a suffix.
func HashID(id string) uint64 {
	h := uint64(fnvOffset64)
	for i := 0; i < len(id); i++ {
		h ^= uint64(id[i])
		h *= fnvPrime64
	}
	return h
}

const (
	fnvOffset64 = 1469598103934665603
	fnvPrime64  = 1099511628211
)
