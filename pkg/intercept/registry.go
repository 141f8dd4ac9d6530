package intercept

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jjshanks/myrtle/pkg/clock"
	"github.com/jjshanks/myrtle/pkg/host"
)

// Behavior labels used in logs, metrics and spans.
const (
	behaviorPassThrough = "passthrough"
	behaviorNoop        = "noop"
	behaviorReplaced    = "replaced"
)

// Replacement stands in for an instrumented function. original is the
// function that was instrumented, bound to the object that owns it; this and
// args are those of the intercepted call.
type Replacement func(original *host.Func, this any, args ...any) (any, error)

type stubKind int

const (
	stubDisabled stubKind = iota
	stubNoop
	stubReplace
)

// Registry tracks every function that is currently instrumented.
// It is safe for concurrent use; the lock is never held while user code runs.
type Registry struct {
	mu      sync.Mutex
	records []*record

	logger  zerolog.Logger
	metrics *metrics
	tracer  trace.Tracer
	clock   clock.Clock
}

// Option configures a Registry.
type Option func(*Registry) error

// WithLogger sets the logger for instrument and release events.
func WithLogger(logger zerolog.Logger) Option {
	return func(r *Registry) error {
		r.logger = logger
		return nil
	}
}

// WithMetrics registers the registry metrics with reg.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(r *Registry) error {
		m, err := initMetrics(reg)
		if err != nil {
			return fmt.Errorf("failed to initialize metrics: %w", err)
		}
		r.metrics = m
		return nil
	}
}

// WithTracer emits a span for every profiled call.
func WithTracer(tracer trace.Tracer) Option {
	return func(r *Registry) error {
		r.tracer = tracer
		return nil
	}
}

// WithClock sets the time source used to measure profiled calls.
func WithClock(c clock.Clock) Option {
	return func(r *Registry) error {
		r.clock = c
		return nil
	}
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...Option) (*Registry, error) {
	r := &Registry{
		logger: zerolog.Nop(),
		clock:  clock.New(),
	}
	for _, opt := range opts {
		if err := opt(r); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// record is the private state behind one Handle.
type record struct {
	id              uuid.UUID
	target          host.Object
	member          string
	original        *host.Func
	wrapper         *host.Func
	definedDirectly bool

	spying      bool
	profiling   bool
	stub        stubKind
	replacement Replacement

	history  []CallRecord
	handle   *Handle
	released bool
}

// Setting changes one mode of an interception. Settings that are not passed
// to Instrument keep their previous value.
type Setting func(*record)

// WithSpy turns call recording on or off.
func WithSpy(on bool) Setting {
	return func(rec *record) {
		rec.spying = on
	}
}

// WithProfile turns timing on or off.
func WithProfile(on bool) Setting {
	return func(rec *record) {
		rec.profiling = on
	}
}

// WithStub replaces the function with a no-op when on is true and restores
// pass-through to the original when on is false.
func WithStub(on bool) Setting {
	return func(rec *record) {
		rec.replacement = nil
		if on {
			rec.stub = stubNoop
		} else {
			rec.stub = stubDisabled
		}
	}
}

// WithReplacement runs fn instead of the original. A later replacement
// overwrites an earlier one.
func WithReplacement(fn Replacement) Setting {
	if fn == nil {
		return WithStub(true)
	}
	return func(rec *record) {
		rec.stub = stubReplace
		rec.replacement = fn
	}
}

// WithStubFunc runs fn instead of the original. fn receives the bound
// original as its first argument, followed by the call's arguments.
func WithStubFunc(fn *host.Func) Setting {
	if fn == nil {
		return WithStub(true)
	}
	return WithReplacement(func(original *host.Func, this any, args ...any) (any, error) {
		full := make([]any, 0, len(args)+1)
		full = append(full, original)
		full = append(full, args...)
		return fn.Call(this, full...)
	})
}

// Instrument wraps obj's member so calls through it can be recorded, timed or
// replaced. Instrumenting a member whose current value is already tracked
// returns the existing Handle with the settings merged in.
func (r *Registry) Instrument(obj host.Object, member string, settings ...Setting) (*Handle, error) {
	value, _ := obj.Get(member)
	fn, ok := value.(*host.Func)
	if !ok || fn == nil {
		return nil, newNotCallableError(member, value)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	rec := r.lookup(fn)
	if rec == nil {
		rec = r.track(obj, member, fn)
	}
	for _, s := range settings {
		s(rec)
	}

	r.logger.Debug().
		Str("record_id", rec.id.String()).
		Str("member", member).
		Bool("spy", rec.spying).
		Bool("profile", rec.profiling).
		Str("behavior", rec.behavior()).
		Msg("Instrumented function")

	return rec.handle, nil
}

// Spy records calls to obj's member without changing its behavior.
func (r *Registry) Spy(obj host.Object, member string) (*Handle, error) {
	return r.Instrument(obj, member, WithSpy(true))
}

// Stub replaces obj's member with a no-op.
func (r *Registry) Stub(obj host.Object, member string) (*Handle, error) {
	return r.Instrument(obj, member, WithStub(true))
}

// StubWith replaces obj's member with fn.
func (r *Registry) StubWith(obj host.Object, member string, fn Replacement) (*Handle, error) {
	return r.Instrument(obj, member, WithReplacement(fn))
}

// Profile times calls to obj's member.
func (r *Registry) Profile(obj host.Object, member string) (*Handle, error) {
	return r.Instrument(obj, member, WithProfile(true))
}

// Size returns the number of tracked interceptions.
func (r *Registry) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records)
}

// HasModified reports whether fn is the current value of a tracked member.
func (r *Registry) HasModified(fn *host.Func) bool {
	if fn == nil {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lookup(fn) != nil
}

// ReleaseAll restores every tracked member.
func (r *Registry) ReleaseAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for len(r.records) > 0 {
		r.release(r.records[len(r.records)-1])
	}
}

// lookup finds the record whose member currently holds fn. Caller holds mu.
func (r *Registry) lookup(fn *host.Func) *record {
	for _, rec := range r.records {
		if cur, ok := rec.target.Get(rec.member); ok && cur == any(fn) {
			return rec
		}
	}
	return nil
}

// track captures fn and installs the wrapper. Caller holds mu.
func (r *Registry) track(obj host.Object, member string, fn *host.Func) *record {
	rec := &record{
		id:              uuid.New(),
		target:          obj,
		member:          member,
		original:        fn,
		definedDirectly: obj.Has(member),
	}
	rec.handle = &Handle{registry: r, rec: rec}
	rec.wrapper = host.NewFunc(member, func(this any, args ...any) (any, error) {
		return r.invoke(rec, this, args)
	})
	obj.Set(member, rec.wrapper)

	r.records = append(r.records, rec)
	r.metrics.setRecords(len(r.records))
	return rec
}

// release restores the member and drops the record. Caller holds mu.
func (r *Registry) release(rec *record) {
	idx := -1
	for i, other := range r.records {
		if other == rec {
			idx = i
			break
		}
	}
	if idx == -1 {
		return
	}
	r.records = append(r.records[:idx], r.records[idx+1:]...)
	r.metrics.setRecords(len(r.records))

	if rec.definedDirectly {
		rec.target.Set(rec.member, rec.original)
	} else {
		rec.target.Delete(rec.member)
	}

	r.logger.Debug().
		Str("record_id", rec.id.String()).
		Str("member", rec.member).
		Bool("own_member", rec.definedDirectly).
		Msg("Released function")

	rec.handle.rec = nil
	*rec = record{released: true}
}

func (rec *record) behavior() string {
	switch rec.stub {
	case stubNoop:
		return behaviorNoop
	case stubReplace:
		return behaviorReplaced
	default:
		return behaviorPassThrough
	}
}

// invoke is the body of every installed wrapper.
func (r *Registry) invoke(rec *record, this any, args []any) (ret any, err error) {
	r.mu.Lock()
	if rec.released {
		r.mu.Unlock()
		return nil, nil
	}
	spying, profiling := rec.spying, rec.profiling
	stub, replacement := rec.stub, rec.replacement
	original, target := rec.original, rec.target
	member, id := rec.member, rec.id
	behavior := rec.behavior()
	r.mu.Unlock()

	captured := make([]any, len(args))
	copy(captured, args)

	var (
		start time.Time
		span  trace.Span
	)
	if profiling {
		if r.tracer != nil {
			_, span = r.tracer.Start(context.Background(), member,
				trace.WithAttributes(
					attribute.String("myrtle.record_id", id.String()),
					attribute.String("myrtle.behavior", behavior),
				))
		}
		start = r.clock.Now()
	}

	finish := func(ret any, err error) {
		var elapsed time.Duration
		if profiling {
			elapsed = r.clock.Now().Sub(start)
			r.metrics.observeDuration(elapsed)
			if span != nil {
				if err != nil {
					span.RecordError(err)
					span.SetStatus(codes.Error, err.Error())
				}
				span.End()
			}
		}
		r.metrics.recordCall(behavior, err != nil)
		if !spying && !profiling {
			return
		}

		call := CallRecord{Err: err}
		if profiling {
			call.Profiled = true
			call.Elapsed = elapsed
		}
		if spying {
			call.Return = ret
			call.Args = captured
			call.This = this
		}

		r.mu.Lock()
		if !rec.released {
			rec.history = append(rec.history, call)
		}
		r.mu.Unlock()
	}

	defer func() {
		if p := recover(); p != nil {
			finish(nil, &PanicError{Value: p})
			panic(p)
		}
	}()

	switch stub {
	case stubDisabled:
		ret, err = original.Call(this, args...)
	case stubReplace:
		ret, err = replacement(original.Bind(target), this, args...)
	default:
		ret, err = nil, nil
	}

	finish(ret, err)
	return ret, err
}
