package simulate

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/jjshanks/myrtle/pkg/host"
	"github.com/jjshanks/myrtle/pkg/intercept"
	"github.com/jjshanks/myrtle/pkg/vclock"
)

// Firing is one callback invocation observed during a replay.
type Firing struct {
	Name string
	Tick int64
}

// Result summarizes a replay.
type Result struct {
	// Firings in the order the callbacks ran.
	Firings []Firing
	// Counts holds the number of calls per timer name, read from the spies.
	Counts map[string]int
	// Elapsed holds the mean wall time spent in each timer's callback.
	Elapsed map[string]time.Duration
	// Cleared lists the timers cancelled by clear_at, in clearing order.
	Cleared []string
	// Now is the virtual tick reached at the end of the replay.
	Now int64
	// Pending is the number of callbacks still queued at the end.
	Pending int
}

// Runner replays schedules. Each Run builds a fresh registry and clock.
type Runner struct {
	logger     zerolog.Logger
	registerer prometheus.Registerer
	tracer     trace.Tracer
}

// Option configures a Runner.
type Option func(*Runner)

// WithLogger sets the logger used for the replay and handed to the registry
// and clock.
func WithLogger(logger zerolog.Logger) Option {
	return func(r *Runner) {
		r.logger = logger
	}
}

// WithRegisterer registers the registry and clock metrics with reg. A
// registerer can back only one Run.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(r *Runner) {
		r.registerer = reg
	}
}

// WithTracer traces the replay, its clock advances and the spied callbacks.
func WithTracer(tracer trace.Tracer) Option {
	return func(r *Runner) {
		r.tracer = tracer
	}
}

// NewRunner creates a Runner.
func NewRunner(opts ...Option) *Runner {
	r := &Runner{
		logger: zerolog.Nop(),
		tracer: noop.NewTracerProvider().Tracer(""),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Runner) build() (*intercept.Registry, *vclock.Clock, *host.Entity, error) {
	regOpts := []intercept.Option{
		intercept.WithLogger(r.logger),
		intercept.WithTracer(r.tracer),
	}
	clockOpts := []vclock.Option{
		vclock.WithLogger(r.logger),
		vclock.WithTracer(r.tracer),
	}
	if r.registerer != nil {
		regOpts = append(regOpts, intercept.WithMetrics(r.registerer))
		clockOpts = append(clockOpts, vclock.WithMetrics(r.registerer))
	}

	reg, err := intercept.NewRegistry(regOpts...)
	if err != nil {
		return nil, nil, nil, err
	}
	global := host.NewGlobal(host.WithLogger(r.logger))
	clk, err := vclock.New(reg, global, clockOpts...)
	if err != nil {
		return nil, nil, nil, err
	}
	return reg, clk, global, nil
}

// Run replays s: every timer is registered at tick zero, the clock advances
// s.Ticks and timers with a clear_at are cancelled along the way.
func (r *Runner) Run(ctx context.Context, s *Schedule) (*Result, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}

	_, span := r.tracer.Start(ctx, "simulate.run",
		trace.WithAttributes(
			attribute.Int64("simulate.ticks", s.Ticks),
			attribute.Int("simulate.timers", len(s.Timers)),
		))
	defer span.End()

	reg, clk, global, err := r.build()
	if err != nil {
		return nil, err
	}
	defer reg.ReleaseAll()

	res := &Result{
		Counts:  make(map[string]int, len(s.Timers)),
		Elapsed: make(map[string]time.Duration, len(s.Timers)),
	}
	callbacks := host.NewEntity(nil)
	handles := make(map[string]*intercept.Handle, len(s.Timers))
	ids := make(map[string]any, len(s.Timers))

	err = clk.Scoped(func() error {
		for _, t := range s.Timers {
			name := t.Name
			callbacks.Method(name, func(any, ...any) (any, error) {
				res.Firings = append(res.Firings, Firing{Name: name, Tick: clk.Now()})
				r.logger.Info().Str("timer", name).Int64("tick", clk.Now()).Msg("Timer fired")
				return nil, nil
			})
			h, err := reg.Instrument(callbacks, name, intercept.WithSpy(true), intercept.WithProfile(true))
			if err != nil {
				return err
			}
			handles[name] = h

			cb, _ := callbacks.Get(name)
			register := host.SetTimeout
			if t.Kind == KindInterval {
				register = host.SetInterval
			}
			id, err := global.Invoke(register, cb, t.Delay)
			if err != nil {
				return fmt.Errorf("timer %q: %w", name, err)
			}
			ids[name] = id
		}

		for _, step := range clearSteps(s) {
			if step.tick > clk.Now() {
				if err := clk.Advance(step.tick - clk.Now()); err != nil {
					return err
				}
			}
			cancel := host.ClearTimeout
			if step.kind == KindInterval {
				cancel = host.ClearInterval
			}
			if _, err := global.Invoke(cancel, ids[step.name]); err != nil {
				return err
			}
			res.Cleared = append(res.Cleared, step.name)
			r.logger.Debug().Str("timer", step.name).Int64("tick", clk.Now()).Msg("Timer cleared")
		}

		if s.Ticks > clk.Now() {
			if err := clk.Advance(s.Ticks - clk.Now()); err != nil {
				return err
			}
		}
		res.Now = clk.Now()
		res.Pending = clk.Pending()
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	for name, h := range handles {
		res.Counts[name] = h.CallCount()
		res.Elapsed[name] = h.AverageTime()
	}
	span.SetAttributes(attribute.Int("simulate.firings", len(res.Firings)))
	return res, nil
}

type clearStep struct {
	tick int64
	name string
	kind string
}

// clearSteps returns the clear_at cancellations inside the replay window,
// ordered by tick and then by schedule position.
func clearSteps(s *Schedule) []clearStep {
	var steps []clearStep
	for _, t := range s.Timers {
		if t.ClearAt > 0 && t.ClearAt <= s.Ticks {
			steps = append(steps, clearStep{tick: t.ClearAt, name: t.Name, kind: t.Kind})
		}
	}
	sort.SliceStable(steps, func(i, j int) bool {
		return steps[i].tick < steps[j].tick
	})
	return steps
}
