package vclock

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidDuration is returned by Advance for a duration below one tick.
	ErrInvalidDuration = errors.New("duration must be a positive number of ticks")
	// ErrInactiveClock is returned by Advance while the clock is not active.
	ErrInactiveClock = errors.New("virtual clock is not active")
	// ErrAlreadyActive is returned by Activate while the clock is active.
	ErrAlreadyActive = errors.New("virtual clock is already active")
)

// Error represents a failed clock operation.
type Error struct {
	Op  string // The operation that failed (e.g., "advance", "activate")
	Err error  // The underlying error that caused the failure
}

func (e *Error) Error() string {
	return fmt.Sprintf("vclock %s failed: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newAdvanceError(err error) error {
	return &Error{Op: "advance", Err: err}
}

func newActivateError(err error) error {
	return &Error{Op: "activate", Err: err}
}
