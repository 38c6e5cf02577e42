// Package volume assembles multi-frame image volumes in memory.
//
// A Volume owns one pre-allocated buffer (one per timepoint for dynamic
// volumes) sized from its geometry. Load hands every frame that is not yet
// cached to a scheduler.Scheduler as its own request; each request fetches
// the frame through a Fetcher, decodes it straight into the frame's slice
// of the buffer and updates the volume's LoadStatus. Callbacks receive
// throttled progress and exactly one final payload per load cycle.
//
// CancelLoading removes the volume's pending requests from the scheduler.
// Requests already dispatched run to completion but their results are
// discarded, so a cancelled cycle never writes into the buffer once
// CancelLoading has returned.
//
// Volumes and the per-frame Images produced by Decache(false) implement
// cache.Entry and live in a cache.Cache registry.
package volume
