package cache

import "context"

// Entry is anything the registry can hold.
type Entry interface {
	ID() string
	// SizeInBytes is the resident size accounted against MaxBytes. It must
	// not change while the entry is resident.
	SizeInBytes() int64
	// Loading reports that the entry is mid-load and must not be evicted.
	Loading() bool
	// Destroy releases the entry's buffers.
	Destroy()
}

// CreateFunc builds the entry for a first reference to an id.
type CreateFunc func(ctx context.Context) (Entry, error)

// Cache is the registry surface consumed by volumes and loaders.
// All methods are safe for concurrent use by multiple goroutines.
type Cache interface {
	// Get returns the entry for id and promotes it in the eviction order.
	Get(id string) (Entry, bool)

	// Put inserts e only if its id is absent and reports whether it did.
	Put(e Entry) bool

	// Set inserts or replaces e. A replaced entry is handed to OnEvict with
	// EvictReplaced.
	Set(e Entry)

	// Remove drops id from the registry without destroying the entry.
	Remove(id string) bool

	// GetOrCreate returns the entry for id, building it with create on the
	// first reference. Concurrent first references share one create call.
	GetOrCreate(ctx context.Context, id string, create CreateFunc) (Entry, error)

	// Len returns the number of resident entries.
	Len() int

	// Bytes returns the total resident size.
	Bytes() int64

	// Close marks the registry closed; later writes are ignored.
	Close() error
}
