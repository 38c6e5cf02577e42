package scheduler

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownCategory is wrapped by InvariantError when a caller names a
	// category the scheduler was not configured with.
	ErrUnknownCategory = errors.New("scheduler: unknown category")
	// ErrClosed is returned by AddRequest after Close.
	ErrClosed = errors.New("scheduler: closed")
	// ErrTaskPanic wraps a recovered panic from a task.
	ErrTaskPanic = errors.New("scheduler: task panicked")
)

// InvariantError reports a programming error: the call can never succeed
// as written and is rejected synchronously.
type InvariantError struct {
	Op       string
	Category Category
	Err      error
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("scheduler: %s %q: %v", e.Op, e.Category, e.Err)
}

func (e *InvariantError) Unwrap() error { return e.Err }
