package host

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/jjshanks/myrtle/pkg/clock"
)

// Names of the timer registration members on a global environment.
const (
	SetTimeout    = "setTimeout"
	ClearTimeout  = "clearTimeout"
	SetInterval   = "setInterval"
	ClearInterval = "clearInterval"
)

// GlobalOption configures NewGlobal.
type GlobalOption func(*timers)

// WithClock sets the time source for real timers.
func WithClock(c clock.Clock) GlobalOption {
	return func(t *timers) {
		t.clock = c
	}
}

// WithLogger sets the logger used to report callback failures.
func WithLogger(logger zerolog.Logger) GlobalOption {
	return func(t *timers) {
		t.logger = logger
	}
}

// NewGlobal returns an environment entity whose timer members schedule real
// callbacks on a clock. Delays are milliseconds, at least one. Callbacks run on the clock's
// goroutine; a failing callback is logged and does not affect other timers.
func NewGlobal(opts ...GlobalOption) *Entity {
	t := &timers{
		clock:   clock.New(),
		logger:  zerolog.Nop(),
		pending: make(map[int64]clock.Timer),
	}
	for _, opt := range opts {
		opt(t)
	}

	g := NewEntity(nil)
	g.Method(SetTimeout, t.setTimeout)
	g.Method(ClearTimeout, t.clear)
	g.Method(SetInterval, t.setInterval)
	g.Method(ClearInterval, t.clear)
	return g
}

type timers struct {
	mu      sync.Mutex
	clock   clock.Clock
	logger  zerolog.Logger
	nextID  int64
	pending map[int64]clock.Timer
}

// minRealDelay keeps a zero-delay interval from re-arming with no gap.
const minRealDelay = time.Millisecond

func realDelay(args []any) time.Duration {
	if len(args) < 2 {
		return minRealDelay
	}
	n, ok := ToInt(args[1])
	if !ok || n < 1 {
		return minRealDelay
	}
	return time.Duration(n) * time.Millisecond
}

func (t *timers) setTimeout(this any, args ...any) (any, error) {
	return t.schedule(this, args, false)
}

func (t *timers) setInterval(this any, args ...any) (any, error) {
	return t.schedule(this, args, true)
}

func (t *timers) schedule(this any, args []any, repeat bool) (any, error) {
	if len(args) == 0 || !Callable(args[0]) {
		return nil, ErrNotCallable
	}
	cb, delay := args[0], realDelay(args)
	var extra []any
	if len(args) > 2 {
		extra = append(extra, args[2:]...)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.nextID++
	id := t.nextID

	var fire func()
	fire = func() {
		t.mu.Lock()
		if _, ok := t.pending[id]; !ok {
			t.mu.Unlock()
			return
		}
		if repeat {
			t.pending[id] = t.clock.AfterFunc(delay, fire)
		} else {
			delete(t.pending, id)
		}
		t.mu.Unlock()

		if _, err := Invoke(cb, this, extra...); err != nil {
			t.logger.Warn().Err(err).Int64("timer_id", id).Msg("Timer callback failed")
		}
	}
	t.pending[id] = t.clock.AfterFunc(delay, fire)
	return id, nil
}

func (t *timers) clear(_ any, args ...any) (any, error) {
	if len(args) == 0 {
		return nil, nil
	}
	id, ok := ToInt(args[0])
	if !ok {
		return nil, nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if timer, ok := t.pending[id]; ok {
		timer.Stop()
		delete(t.pending, id)
	}
	return nil, nil
}
