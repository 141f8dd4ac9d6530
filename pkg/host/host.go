// Package host models the object system that instrumented functions live in.
// Objects expose named members through the Object capability; Entity is a
// generic key-value implementation with prototype-style inheritance.
package host

import (
	"errors"
	"fmt"
	"sync"
)

// ErrNotCallable is returned when a member or callback cannot be invoked.
var ErrNotCallable = errors.New("value is not callable")

// Object is the capability the interception registry needs from a host object.
type Object interface {
	// Get returns the member, walking any inherited values.
	Get(name string) (any, bool)
	// Set assigns an own member.
	Set(name string, value any)
	// Has reports whether name is an own member (not inherited).
	Has(name string) bool
	// Delete removes an own member, exposing any inherited value.
	Delete(name string)
}

// Impl is the body of a callable member.
type Impl func(this any, args ...any) (any, error)

// Func is a callable value. Two Funcs are the same function only if they are
// the same pointer.
type Func struct {
	name string
	impl Impl
}

// NewFunc creates a named callable.
func NewFunc(name string, impl Impl) *Func {
	return &Func{name: name, impl: impl}
}

// Name returns the name the function was created with.
func (f *Func) Name() string {
	return f.name
}

// Call invokes the function with the given calling context.
func (f *Func) Call(this any, args ...any) (any, error) {
	if f == nil || f.impl == nil {
		return nil, ErrNotCallable
	}
	return f.impl(this, args...)
}

// Bind returns a new function that always runs with this as its context.
func (f *Func) Bind(this any) *Func {
	return NewFunc(f.name, func(_ any, args ...any) (any, error) {
		return f.Call(this, args...)
	})
}

// Invoke calls a callback value. It accepts *Func, Impl, func() and
// func() error.
func Invoke(cb any, this any, args ...any) (any, error) {
	switch fn := cb.(type) {
	case *Func:
		return fn.Call(this, args...)
	case Impl:
		return fn(this, args...)
	case func(this any, args ...any) (any, error):
		return fn(this, args...)
	case func() error:
		return nil, fn()
	case func():
		fn()
		return nil, nil
	default:
		return nil, fmt.Errorf("%w: %T", ErrNotCallable, cb)
	}
}

// Callable reports whether Invoke would accept v.
func Callable(v any) bool {
	switch v.(type) {
	case *Func, Impl, func(this any, args ...any) (any, error), func() error, func():
		return v != nil
	}
	return false
}

// Entity is a thread-safe Object with an optional prototype.
type Entity struct {
	mu      sync.RWMutex
	proto   *Entity
	members map[string]any
}

// NewEntity creates an empty entity inheriting from proto (which may be nil).
func NewEntity(proto *Entity) *Entity {
	return &Entity{proto: proto, members: make(map[string]any)}
}

// Prototype returns the entity this one inherits from.
func (e *Entity) Prototype() *Entity {
	return e.proto
}

func (e *Entity) Get(name string) (any, bool) {
	for cur := e; cur != nil; cur = cur.proto {
		cur.mu.RLock()
		v, ok := cur.members[name]
		cur.mu.RUnlock()
		if ok {
			return v, true
		}
	}
	return nil, false
}

func (e *Entity) Set(name string, value any) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.members[name] = value
}

func (e *Entity) Has(name string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	_, ok := e.members[name]
	return ok
}

func (e *Entity) Delete(name string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.members, name)
}

// Method attaches fn as an own member named name and returns the Func.
func (e *Entity) Method(name string, fn Impl) *Func {
	f := NewFunc(name, fn)
	e.Set(name, f)
	return f
}

// Invoke calls the member name with the entity as its context.
func (e *Entity) Invoke(name string, args ...any) (any, error) {
	v, ok := e.Get(name)
	if !ok {
		return nil, fmt.Errorf("%w: member %q is undefined", ErrNotCallable, name)
	}
	f, ok := v.(*Func)
	if !ok {
		return nil, fmt.Errorf("%w: member %q is %T", ErrNotCallable, name, v)
	}
	return f.Call(e, args...)
}
