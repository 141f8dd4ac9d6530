// Package fnbuild builds throwaway functions whose result is chosen by
// matching the call's arguments against declared patterns.
//
//	b := fnbuild.New()
//	b.When(1, 2).Then("x").When(3).Run(compute).Otherwise("none")
//	fn, err := b.Get()
//
// Declaring a pattern (When) must alternate with declaring its action (Then
// or Run). The most recently declared pattern is checked first.
//
// A Builder is not safe for concurrent configuration; the built function may
// be called from any goroutine once sealed or exported.
package fnbuild

import (
	"errors"
	"fmt"
	"reflect"

	"github.com/jjshanks/myrtle/pkg/host"
)

// ErrProtocol is recorded when chain methods are called out of sequence.
var ErrProtocol = errors.New("builder methods called out of sequence")

// Error describes a protocol violation.
type Error struct {
	Op     string // The chain method that was misused (e.g., "when")
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("fnbuild %s: %s: %v", e.Op, e.Reason, ErrProtocol)
}

func (e *Error) Unwrap() error {
	return ErrProtocol
}

// State is the configuration state of a Builder.
type State int

const (
	// Open accepts chain methods.
	Open State = iota
	// Sealed ignores chain methods; behavior is fixed.
	Sealed
	// Exported rejects chain methods; only the built function remains.
	Exported
)

func (s State) String() string {
	switch s {
	case Open:
		return "open"
	case Sealed:
		return "sealed"
	case Exported:
		return "exported"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// action is either a fixed value or a function to run.
type action struct {
	value any
	run   host.Impl
}

func (a action) do(this any, args []any) (any, error) {
	if a.run != nil {
		return a.run(this, args...)
	}
	return a.value, nil
}

type pattern struct {
	args   []any
	action action
}

// Builder configures a pattern-matching function.
type Builder struct {
	state    State
	err      error
	patterns []pattern // most recent first
	fallback *action

	staged         []any
	hasStaged      bool
	stagedFallback bool

	base *host.Func
	stub bool
	fn   *host.Func
}

// Option configures New.
type Option func(*Builder)

// WithBase makes unmatched calls delegate to base.
func WithBase(base *host.Func) Option {
	return func(b *Builder) {
		b.base = base
	}
}

// New creates an open builder.
func New(opts ...Option) *Builder {
	b := &Builder{}
	for _, opt := range opts {
		opt(b)
	}
	b.fn = host.NewFunc("built", b.Call)
	return b
}

// NewStub creates a builder for use as a stub of an instrumented function
// (see intercept.WithStubFunc). Calls receive the original function as their
// first argument. It is stripped before matching and before any action runs,
// and unmatched calls with no fallback or base delegate to it.
func NewStub() *Builder {
	b := New()
	b.stub = true
	return b
}

// State returns the builder's configuration state.
func (b *Builder) State() State {
	return b.state
}

// Err returns the first protocol violation, if any.
func (b *Builder) Err() error {
	return b.err
}

// chainable reports whether a chain method should take effect. Violations are
// recorded and leave the configuration unchanged; after the first one every
// chain method is a no-op.
func (b *Builder) chainable(op string) bool {
	if b.err != nil {
		return false
	}
	switch b.state {
	case Sealed:
		return false
	case Exported:
		b.fail(op, "builder has been exported")
		return false
	}
	return true
}

func (b *Builder) fail(op, reason string) {
	if b.err == nil {
		b.err = &Error{Op: op, Reason: reason}
	}
}

// When stages a pattern matching exactly args.
func (b *Builder) When(args ...any) *Builder {
	if !b.chainable("when") {
		return b
	}
	if b.hasStaged || b.stagedFallback {
		b.fail("when", "previous declaration has no action")
		return b
	}
	b.staged = append([]any(nil), args...)
	b.hasStaged = true
	return b
}

// Then completes the staged pattern with a fixed return value.
func (b *Builder) Then(value any) *Builder {
	if !b.chainable("then") {
		return b
	}
	if !b.hasStaged {
		b.fail("then", "no pattern staged")
		return b
	}
	b.complete(action{value: value})
	return b
}

// Otherwise sets the value returned when no pattern matches. With no
// argument it stages the fallback so that the next Run supplies it.
func (b *Builder) Otherwise(value ...any) *Builder {
	if !b.chainable("otherwise") {
		return b
	}
	if b.hasStaged || b.stagedFallback {
		b.fail("otherwise", "previous declaration has no action")
		return b
	}
	switch len(value) {
	case 0:
		b.stagedFallback = true
	case 1:
		b.fallback = &action{value: value[0]}
	default:
		b.fail("otherwise", "at most one fallback value")
	}
	return b
}

// Run completes the staged pattern, or the staged fallback, with fn. fn is
// called with the built function's context and arguments.
func (b *Builder) Run(fn host.Impl) *Builder {
	if !b.chainable("run") {
		return b
	}
	if fn == nil {
		b.fail("run", "nil function")
		return b
	}
	switch {
	case b.hasStaged:
		b.complete(action{run: fn})
	case b.stagedFallback:
		b.fallback = &action{run: fn}
		b.stagedFallback = false
	default:
		b.fail("run", "no pattern or fallback staged")
	}
	return b
}

func (b *Builder) complete(a action) {
	b.patterns = append([]pattern{{args: b.staged, action: a}}, b.patterns...)
	b.staged = nil
	b.hasStaged = false
}

// Seal fixes the configuration. Later chain methods are ignored, and any
// declaration still waiting for an action is dropped.
func (b *Builder) Seal() *Builder {
	if b.state != Open {
		return b
	}
	b.staged, b.hasStaged, b.stagedFallback = nil, false, false
	b.state = Sealed
	return b
}

// Get seals the builder and returns the plain function. Chain methods called
// afterwards are protocol violations. The first violation recorded before
// Get is returned as the error.
func (b *Builder) Get() (*host.Func, error) {
	b.Seal()
	b.state = Exported
	return b.fn, b.err
}

// Func returns the built function without changing the builder's state. It
// does not check Err; use Get to fail on a protocol violation.
func (b *Builder) Func() *host.Func {
	return b.fn
}

// Call runs the built function.
func (b *Builder) Call(this any, args ...any) (any, error) {
	matched := args
	var original *host.Func
	if b.stub && len(args) > 0 {
		original, _ = args[0].(*host.Func)
		matched = args[1:]
	}

	for _, p := range b.patterns {
		if argsEqual(p.args, matched) {
			return p.action.do(this, matched)
		}
	}
	if b.fallback != nil {
		return b.fallback.do(this, matched)
	}
	if b.base != nil {
		return b.base.Call(this, matched...)
	}
	if original != nil {
		return original.Call(this, matched...)
	}
	return nil, nil
}

func argsEqual(want, got []any) bool {
	if len(want) != len(got) {
		return false
	}
	for i := range want {
		if !same(want[i], got[i]) {
			return false
		}
	}
	return true
}

// same is strict equality: == for comparable values, reference identity for
// slices, maps, funcs and channels.
func same(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	ta := reflect.TypeOf(a)
	if ta != reflect.TypeOf(b) {
		return false
	}
	if ta.Comparable() {
		return safeEqual(a, b)
	}
	va, vb := reflect.ValueOf(a), reflect.ValueOf(b)
	switch ta.Kind() {
	case reflect.Slice:
		return va.Len() == vb.Len() && va.Pointer() == vb.Pointer()
	case reflect.Map, reflect.Func, reflect.Chan:
		return va.Pointer() == vb.Pointer()
	}
	return false
}

// safeEqual compares with ==, treating a run-time panic (an interface field
// holding an uncomparable value) as unequal.
func safeEqual(a, b any) (eq bool) {
	defer func() {
		if recover() != nil {
			eq = false
		}
	}()
	return a == b
}
