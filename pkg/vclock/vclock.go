// Package vclock provides a deterministic virtual clock. While active it
// replaces the timer registration members of a host environment so that
// callbacks are queued against a simulated tick counter and only run when the
// clock is advanced.
//
// A Clock is not safe for concurrent use. Callbacks run synchronously inside
// Advance and may themselves schedule, cancel or advance.
package vclock

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/jjshanks/myrtle/pkg/host"
	"github.com/jjshanks/myrtle/pkg/intercept"
)

// minDelay is the smallest delay a callback can be scheduled with.
const minDelay int64 = 1

// Clock is a virtual replacement for a host environment's timers.
type Clock struct {
	registry *intercept.Registry
	global   host.Object

	logger  zerolog.Logger
	metrics *metrics
	tracer  trace.Tracer

	active  bool
	handles []*intercept.Handle

	now     int64
	nextID  int64
	pending map[int64][]*entry // tick -> callbacks in scheduling order
	index   map[int64]int64    // id -> tick
}

// entry is one queued callback. Interval entries keep their id across
// re-scheduling.
type entry struct {
	id       int64
	cb       any
	this     any
	args     []any
	interval int64
}

func (e *entry) kind() string {
	if e.interval > 0 {
		return kindInterval
	}
	return kindTimeout
}

// Option configures a Clock.
type Option func(*Clock) error

// WithLogger sets the logger for clock events.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Clock) error {
		c.logger = logger
		return nil
	}
}

// WithMetrics registers the clock metrics with reg.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(c *Clock) error {
		m, err := initMetrics(reg)
		if err != nil {
			return fmt.Errorf("failed to initialize metrics: %w", err)
		}
		c.metrics = m
		return nil
	}
}

// WithTracer emits a span for every Advance.
func WithTracer(tracer trace.Tracer) Option {
	return func(c *Clock) error {
		c.tracer = tracer
		return nil
	}
}

// New creates an inactive clock that instruments global's timers through reg.
func New(reg *intercept.Registry, global host.Object, opts ...Option) (*Clock, error) {
	c := &Clock{
		registry: reg,
		global:   global,
		logger:   zerolog.Nop(),
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	c.reset()
	return c, nil
}

func (c *Clock) reset() {
	c.now = 0
	c.nextID = 0
	c.pending = make(map[int64][]*entry)
	c.index = make(map[int64]int64)
	c.metrics.setTick(0)
}

// Active reports whether the virtual timers are installed.
func (c *Clock) Active() bool {
	return c.active
}

// Now returns the current simulated tick.
func (c *Clock) Now() int64 {
	return c.now
}

// Pending returns the number of queued callbacks.
func (c *Clock) Pending() int {
	return len(c.index)
}

// Activate installs the virtual timers. It fails with ErrAlreadyActive if the
// clock is already active. If any timer member cannot be instrumented the
// environment is left unchanged.
//
// A timer member that is already instrumented keeps its record: the clock's
// replacement is merged into it and the existing Handle sees the calls.
// Deactivate releases that record along with the others.
func (c *Clock) Activate() error {
	if c.active {
		return newActivateError(ErrAlreadyActive)
	}

	primitives := []struct {
		name string
		fn   intercept.Replacement
	}{
		{host.SetTimeout, c.setTimeout},
		{host.ClearTimeout, c.clearTimeout},
		{host.SetInterval, c.setInterval},
		{host.ClearInterval, c.clearTimeout},
	}

	handles := make([]*intercept.Handle, 0, len(primitives))
	for _, p := range primitives {
		h, err := c.registry.Instrument(c.global, p.name, intercept.WithReplacement(p.fn))
		if err != nil {
			for _, done := range handles {
				done.Release()
			}
			return newActivateError(err)
		}
		handles = append(handles, h)
	}

	c.reset()
	c.handles = handles
	c.active = true
	c.logger.Debug().Msg("Virtual clock activated")
	return nil
}

// Deactivate restores the real timers and discards all queued callbacks.
func (c *Clock) Deactivate() {
	if !c.active {
		return
	}
	for _, h := range c.handles {
		h.Release()
	}
	c.handles = nil
	c.active = false
	dropped := len(c.index)
	c.reset()
	c.logger.Debug().Int("dropped_callbacks", dropped).Msg("Virtual clock deactivated")
}

// Scoped activates the clock, runs fn and deactivates the clock again however
// fn exits. fn's error is returned; a panic is re-raised after deactivation.
func (c *Clock) Scoped(fn func() error) error {
	if err := c.Activate(); err != nil {
		return err
	}
	defer c.Deactivate()
	return fn()
}

// Advance moves the clock forward by ticks, firing every callback that falls
// due in order of its tick and, within a tick, in scheduling order. Callbacks
// scheduled while advancing fire too if they fall inside the window. Errors
// returned by callbacks do not stop the advance; they are joined and returned.
func (c *Clock) Advance(ticks int64) error {
	if ticks < minDelay {
		return newAdvanceError(fmt.Errorf("%w: got %d", ErrInvalidDuration, ticks))
	}
	if !c.active {
		return newAdvanceError(ErrInactiveClock)
	}

	start := c.now
	target := start + ticks
	if c.tracer != nil {
		var span trace.Span
		_, span = c.tracer.Start(context.Background(), "vclock.advance",
			trace.WithAttributes(
				attribute.Int64("vclock.from", start),
				attribute.Int64("vclock.ticks", ticks),
			))
		defer span.End()
	}

	var errs []error
	fired := 0
	for c.active {
		tick, ok := c.nextDue(target)
		if !ok {
			break
		}
		if tick > c.now {
			c.now = tick
		}
		for c.active {
			e := c.pop(tick)
			if e == nil {
				break
			}
			fired++
			if err := c.fire(tick, e); err != nil {
				errs = append(errs, err)
			}
		}
	}

	if c.active && target > c.now {
		c.now = target
	}
	c.metrics.setTick(c.now)
	c.logger.Debug().
		Int64("from", start).
		Int64("to", c.now).
		Int("fired", fired).
		Msg("Virtual clock advanced")

	if len(errs) > 0 {
		return newAdvanceError(errors.Join(errs...))
	}
	return nil
}

// nextDue returns the earliest tick with queued callbacks, if it is <= limit.
func (c *Clock) nextDue(limit int64) (int64, bool) {
	var (
		best  int64
		found bool
	)
	for tick := range c.pending {
		if tick <= limit && (!found || tick < best) {
			best = tick
			found = true
		}
	}
	return best, found
}

// pop removes and returns the first callback queued at tick.
func (c *Clock) pop(tick int64) *entry {
	queue := c.pending[tick]
	if len(queue) == 0 {
		return nil
	}
	e := queue[0]
	if len(queue) == 1 {
		delete(c.pending, tick)
	} else {
		c.pending[tick] = queue[1:]
	}
	delete(c.index, e.id)
	return e
}

func (c *Clock) fire(tick int64, e *entry) error {
	if e.interval > 0 {
		// Requeue first so the callback can cancel its own chain.
		c.enqueue(e, tick+e.interval)
	}
	c.metrics.recordFired(e.kind())
	c.logger.Trace().Int64("tick", tick).Int64("timer_id", e.id).Str("kind", e.kind()).Msg("Firing callback")

	if _, err := host.Invoke(e.cb, e.this, e.args...); err != nil {
		return fmt.Errorf("timer %d at tick %d: %w", e.id, tick, err)
	}
	return nil
}

func (c *Clock) enqueue(e *entry, tick int64) {
	c.pending[tick] = append(c.pending[tick], e)
	c.index[e.id] = tick
}

// Delay parses a delay argument the way the virtual timers do: anything that
// does not read as an integer of at least one tick becomes one tick.
func Delay(v any) int64 {
	n, ok := host.ToInt(v)
	if !ok || n < minDelay {
		return minDelay
	}
	return n
}

func (c *Clock) schedule(this any, args []any, repeat bool) (any, error) {
	if len(args) == 0 || !host.Callable(args[0]) {
		var got any
		if len(args) > 0 {
			got = args[0]
		}
		return nil, fmt.Errorf("%w: callback is %T", host.ErrNotCallable, got)
	}

	var delayArg any
	if len(args) > 1 {
		delayArg = args[1]
	}
	delay := Delay(delayArg)

	c.nextID++
	e := &entry{id: c.nextID, cb: args[0], this: this}
	if len(args) > 2 {
		e.args = append([]any(nil), args[2:]...)
	}
	if repeat {
		e.interval = delay
	}
	c.enqueue(e, c.now+delay)
	c.metrics.recordScheduled(e.kind())
	return e.id, nil
}

func (c *Clock) setTimeout(_ *host.Func, this any, args ...any) (any, error) {
	return c.schedule(this, args, false)
}

func (c *Clock) setInterval(_ *host.Func, this any, args ...any) (any, error) {
	return c.schedule(this, args, true)
}

// clearTimeout also serves clearInterval: ids are shared between both kinds.
func (c *Clock) clearTimeout(_ *host.Func, _ any, args ...any) (any, error) {
	if len(args) == 0 {
		return nil, nil
	}
	id, ok := host.ToInt(args[0])
	if !ok {
		return nil, nil
	}
	tick, ok := c.index[id]
	if !ok {
		return nil, nil
	}

	queue := c.pending[tick]
	for i, e := range queue {
		if e.id == id {
			queue = append(queue[:i:i], queue[i+1:]...)
			break
		}
	}
	if len(queue) == 0 {
		delete(c.pending, tick)
	} else {
		c.pending[tick] = queue
	}
	delete(c.index, id)
	c.metrics.recordCancelled()
	return nil, nil
}
