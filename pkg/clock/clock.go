// Package clock is the wall-clock time source used for profiling and for the
// real host timers. Tests substitute a clockwork fake clock.
package clock

import (
	"time"

	"github.com/jonboulle/clockwork"
)

// Clock is an interface that wraps the time-based methods we need.
// Every clockwork.Clock satisfies it.
type Clock interface {
	// Now returns the current time.
	Now() time.Time
	// AfterFunc calls f on its own goroutine after d has elapsed. The
	// returned Timer cancels the call.
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer represents a pending AfterFunc callback.
type Timer = clockwork.Timer

// New returns a Clock that uses the actual system time.
func New() Clock {
	return clockwork.NewRealClock()
}

// NewFake returns a clock set to t that only moves on Advance. Callbacks that
// fall due during Advance run on their own goroutines.
func NewFake(t time.Time) *clockwork.FakeClock {
	return clockwork.NewFakeClockAt(t)
}
