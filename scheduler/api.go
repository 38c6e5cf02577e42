package scheduler

import (
	"context"
	"time"
)

// Category is a class of request with its own concurrency quota.
type Category string

// Built-in categories, in precedence order.
const (
	Interaction Category = "interaction"
	Thumbnail   Category = "thumbnail"
	Prefetch    Category = "prefetch"
)

// DefaultCategories is the scan order used when Options.Categories is empty.
var DefaultCategories = []Category{Interaction, Thumbnail, Prefetch}

// Task is the unit of work behind a request. It settles exactly once, by
// returning; the returned error is reported to Metrics but never inspected
// for scheduling.
type Task func(ctx context.Context) error

// Request is one queued unit of work.
type Request struct {
	ID       string
	Category Category
	// Priority orders buckets within a category; lower is more urgent.
	Priority int
	Task     Task
	// Details is opaque to the pool; FilterRequests predicates inspect it.
	Details  any
	Enqueued time.Time
}

// RequestInfo is the read-only view of a pending request in a Snapshot.
type RequestInfo struct {
	ID       string
	Priority int
	Details  any
	Enqueued time.Time
}

// Snapshot is a copy of the pending pool: category -> priority -> FIFO order.
type Snapshot map[Category]map[int][]RequestInfo

// Len returns the number of pending requests in the snapshot.
func (s Snapshot) Len() int {
	n := 0
	for _, byPrio := range s {
		for _, reqs := range byPrio {
			n += len(reqs)
		}
	}
	return n
}
