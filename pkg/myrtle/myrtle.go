// Package myrtle is the process-wide entry point to the test-double library.
// It owns one interception registry and one virtual clock over the process
// host environment returned by Global.
//
//	h, err := myrtle.Spy(obj, "add")
//	defer myrtle.ReleaseAll()
//
//	err = myrtle.ScopedClock(func() error {
//		_, _ = myrtle.Global().Invoke(host.SetTimeout, cb, 100)
//		return myrtle.AdvanceClock(100)
//	})
//
// Tests that need isolation should build their own intercept.Registry and
// vclock.Clock instead.
package myrtle

import (
	"github.com/jjshanks/myrtle/pkg/fnbuild"
	"github.com/jjshanks/myrtle/pkg/host"
	"github.com/jjshanks/myrtle/pkg/intercept"
	"github.com/jjshanks/myrtle/pkg/vclock"
)

var (
	global   = host.NewGlobal()
	registry = mustRegistry()
	vclk     = mustClock()
)

func mustRegistry() *intercept.Registry {
	r, err := intercept.NewRegistry()
	if err != nil {
		panic(err)
	}
	return r
}

func mustClock() *vclock.Clock {
	c, err := vclock.New(registry, global)
	if err != nil {
		panic(err)
	}
	return c
}

// Global returns the process host environment holding the timer members.
func Global() *host.Entity {
	return global
}

// Registry returns the process-wide interception registry.
func Registry() *intercept.Registry {
	return registry
}

// Clock returns the process-wide virtual clock.
func Clock() *vclock.Clock {
	return vclk
}

// Instrument wraps obj's member; see intercept.Registry.Instrument.
func Instrument(obj host.Object, member string, settings ...intercept.Setting) (*intercept.Handle, error) {
	return registry.Instrument(obj, member, settings...)
}

// Spy records calls to obj's member.
func Spy(obj host.Object, member string) (*intercept.Handle, error) {
	return registry.Spy(obj, member)
}

// Stub replaces obj's member with a no-op, or with fn when one is given.
func Stub(obj host.Object, member string, fn ...intercept.Replacement) (*intercept.Handle, error) {
	if len(fn) > 0 && fn[0] != nil {
		return StubWith(obj, member, fn[0])
	}
	return registry.Stub(obj, member)
}

// StubWith replaces obj's member with fn.
func StubWith(obj host.Object, member string, fn intercept.Replacement) (*intercept.Handle, error) {
	return registry.StubWith(obj, member, fn)
}

// Profile times calls to obj's member.
func Profile(obj host.Object, member string) (*intercept.Handle, error) {
	return registry.Profile(obj, member)
}

// Size returns the number of instrumented functions.
func Size() int {
	return registry.Size()
}

// ReleaseAll restores every instrumented function.
func ReleaseAll() {
	registry.ReleaseAll()
}

// HasModified reports whether fn is an installed instrumentation wrapper.
func HasModified(fn *host.Func) bool {
	return registry.HasModified(fn)
}

// ActivateClock replaces the Global timers with the virtual clock. When fn is
// given the clock is only active while fn runs, as with ScopedClock.
func ActivateClock(fn ...func() error) error {
	if len(fn) > 0 && fn[0] != nil {
		return vclk.Scoped(fn[0])
	}
	return vclk.Activate()
}

// ScopedClock runs fn with the virtual clock active and restores the real
// timers afterwards.
func ScopedClock(fn func() error) error {
	return vclk.Scoped(fn)
}

// DeactivateClock restores the real timers.
func DeactivateClock() {
	vclk.Deactivate()
}

// AdvanceClock moves the virtual clock forward by ticks.
func AdvanceClock(ticks int64) error {
	return vclk.Advance(ticks)
}

// BuildFunction starts a pattern-matching function, optionally falling back
// to base for unmatched calls.
func BuildFunction(base ...*host.Func) *fnbuild.Builder {
	if len(base) > 0 && base[0] != nil {
		return fnbuild.New(fnbuild.WithBase(base[0]))
	}
	return fnbuild.New()
}
