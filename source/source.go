// Package source holds volume.Fetcher implementations over concrete
// transports. Subpackages share the errors defined here.
package source

import "errors"

var (
	// ErrNotFound reports a frame id with no backing object.
	ErrNotFound = errors.New("source: frame not found")
	// ErrInvalidID reports a frame id that cannot be mapped to a key.
	ErrInvalidID = errors.New("source: invalid frame id")
)
