// Package intercept provides functionality for instrumenting functions.
// This file defines the custom error types and error handling utilities.
package intercept

import (
	"fmt"

	"github.com/jjshanks/myrtle/pkg/host"
)

// ErrNotCallable is the cause of an Instrument call on a member that is
// missing or is not a *host.Func.
var ErrNotCallable = host.ErrNotCallable

// Error represents a failed registry operation.
// It provides context about the operation that failed and the member involved.
type Error struct {
	Op     string // The operation that failed (e.g., "instrument")
	Member string // Member name on the host object
	Err    error  // The underlying error that caused the failure
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Member != "" {
		return fmt.Sprintf("intercept %s failed for %q: %v", e.Op, e.Member, e.Err)
	}
	return fmt.Sprintf("intercept %s failed: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error to support errors.Is and errors.As.
func (e *Error) Unwrap() error {
	return e.Err
}

// newNotCallableError creates an error for members that cannot be instrumented.
func newNotCallableError(member string, value any) error {
	return &Error{
		Op:     "instrument",
		Member: member,
		Err:    fmt.Errorf("%w: found %T", ErrNotCallable, value),
	}
}

// PanicError is recorded in a CallRecord when the wrapped function panicked.
// The panic itself is re-raised with the original value.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

// Unwrap returns the panic value if it was an error.
func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}
