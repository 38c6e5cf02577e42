package volume

import (
	"errors"
	"fmt"
)

var (
	// ErrDestroyed is returned by accessors after Destroy.
	ErrDestroyed = errors.New("volume: entry destroyed")
	// ErrInvalidGeometry reports dimensions that cannot back a buffer.
	ErrInvalidGeometry = errors.New("volume: invalid geometry")
	// ErrFrameCount reports a frame id list that does not match the geometry.
	ErrFrameCount = errors.New("volume: frame count does not match geometry")
	// ErrFrameSize is returned by decoders when the source does not fill
	// the destination exactly.
	ErrFrameSize = errors.New("volume: decoded frame size mismatch")
	// ErrNoRegistry is returned by Decache and RemoveFromCache when the
	// coordinator has no registry.
	ErrNoRegistry = errors.New("volume: no registry configured")
	// ErrTimepoint reports an out-of-range timepoint index.
	ErrTimepoint = errors.New("volume: timepoint out of range")

	// errStale marks a frame result whose load cycle was cancelled. It never
	// leaves the package.
	errStale = errors.New("volume: stale load cycle")
)

// FrameError is a per-frame fetch or decode failure. It is reported through
// the load callbacks and never aborts the load cycle.
type FrameError struct {
	Index   int
	FrameID string
	Err     error
}

func (e *FrameError) Error() string {
	return fmt.Sprintf("volume: frame %d (%s): %v", e.Index, e.FrameID, e.Err)
}

func (e *FrameError) Unwrap() error { return e.Err }
