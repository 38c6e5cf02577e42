// Package scheduler implements a category/priority request pool and the
// self-re-arming dispatch loop that drains it under concurrency quotas.
//
// Design
//
//   - Pool: category -> priority -> FIFO bucket. Priorities are kept in a
//     sorted slice per category; buckets are created lazily and never pruned.
//
//   - Quotas: each tick reads the global maximum M from Options.MaxRequests
//     and derives per-category quotas (Interaction=M, Thumbnail=M-2,
//     Prefetch=M-1, each at least 1). Total in-flight never exceeds M.
//
//   - Fairness: categories are scanned in strict order (Interaction,
//     Thumbnail, Prefetch) for every slot, not once per tick, so a request
//     added between slots can still claim the next one.
//
//   - Settlement: a task settles when it returns (or panics). Success and
//     failure are accounted identically; retries belong to the task.
//
//   - Cancellation: FilterRequests/ClearCategory drop pending requests only.
//     In-flight tasks run to completion with the scheduler's base context,
//     which is cancelled by Close.
//
// Basic usage
//
//	s := scheduler.New(scheduler.Options{
//	    MaxRequests: func() int { return 6 },
//	})
//	defer s.Close()
//
//	_, err := s.AddRequest(func(ctx context.Context) error {
//	    return fetch(ctx, "frame-1")
//	}, scheduler.Interaction, nil, 0)
//
// All methods are safe for concurrent use.
package scheduler
