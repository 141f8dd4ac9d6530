package intercept

import (
	"time"

	"github.com/google/uuid"
)

// CallRecord describes one call through an instrumented function.
// Return, Args and This are only set when spying; Elapsed only when profiling.
type CallRecord struct {
	Elapsed  time.Duration
	Profiled bool
	Return   any
	Args     []any
	This     any
	Err      error
}

// Handle inspects and controls one interception. After Release every method
// is inert and returns zero values.
type Handle struct {
	registry *Registry
	rec      *record
}

// ID returns the interception's identifier, or uuid.Nil once released.
func (h *Handle) ID() uuid.UUID {
	h.registry.mu.Lock()
	defer h.registry.mu.Unlock()
	if h.rec == nil {
		return uuid.Nil
	}
	return h.rec.id
}

// Member returns the instrumented member name, or "" once released.
func (h *Handle) Member() string {
	h.registry.mu.Lock()
	defer h.registry.mu.Unlock()
	if h.rec == nil {
		return ""
	}
	return h.rec.member
}

// Released reports whether the handle has been released.
func (h *Handle) Released() bool {
	h.registry.mu.Lock()
	defer h.registry.mu.Unlock()
	return h.rec == nil
}

// CallCount returns the number of recorded calls since the last Reset.
func (h *Handle) CallCount() int {
	h.registry.mu.Lock()
	defer h.registry.mu.Unlock()
	if h.rec == nil {
		return 0
	}
	return len(h.rec.history)
}

// Last returns the most recent call.
func (h *Handle) Last() (CallRecord, bool) {
	h.registry.mu.Lock()
	defer h.registry.mu.Unlock()
	if h.rec == nil || len(h.rec.history) == 0 {
		return CallRecord{}, false
	}
	return h.rec.history[len(h.rec.history)-1], true
}

// LastReturn returns the value returned by the most recent call.
func (h *Handle) LastReturn() any {
	last, _ := h.Last()
	return last.Return
}

// LastArgs returns the arguments of the most recent call.
func (h *Handle) LastArgs() []any {
	last, _ := h.Last()
	return last.Args
}

// LastThis returns the calling context of the most recent call.
func (h *Handle) LastThis() any {
	last, _ := h.Last()
	return last.This
}

// LastError returns the error of the most recent call, if it failed.
func (h *Handle) LastError() error {
	last, _ := h.Last()
	return last.Err
}

// History returns a copy of the recorded calls in call order.
func (h *Handle) History() []CallRecord {
	h.registry.mu.Lock()
	defer h.registry.mu.Unlock()
	if h.rec == nil {
		return nil
	}
	out := make([]CallRecord, len(h.rec.history))
	copy(out, h.rec.history)
	return out
}

// AverageTime returns the mean duration of profiled calls, or 0 if none were
// profiled.
func (h *Handle) AverageTime() time.Duration {
	var total time.Duration
	count := 0
	for _, call := range h.History() {
		if call.Profiled {
			total += call.Elapsed
			count++
		}
	}
	if count == 0 {
		return 0
	}
	return total / time.Duration(count)
}

// Quickest returns the profiled call with the shortest duration. Ties go to
// the earliest call.
func (h *Handle) Quickest() (CallRecord, bool) {
	return h.extreme(func(a, b time.Duration) bool { return a < b })
}

// Slowest returns the profiled call with the longest duration. Ties go to the
// earliest call.
func (h *Handle) Slowest() (CallRecord, bool) {
	return h.extreme(func(a, b time.Duration) bool { return a > b })
}

func (h *Handle) extreme(better func(a, b time.Duration) bool) (CallRecord, bool) {
	var (
		best  CallRecord
		found bool
	)
	for _, call := range h.History() {
		if !call.Profiled {
			continue
		}
		if !found || better(call.Elapsed, best.Elapsed) {
			best = call
			found = true
		}
	}
	return best, found
}

// Reset clears the call history.
func (h *Handle) Reset() {
	h.registry.mu.Lock()
	defer h.registry.mu.Unlock()
	if h.rec == nil {
		return
	}
	h.rec.history = nil
}

// Release restores the original member and invalidates the handle.
func (h *Handle) Release() {
	h.registry.mu.Lock()
	defer h.registry.mu.Unlock()
	if h.rec == nil {
		return
	}
	h.registry.release(h.rec)
}
