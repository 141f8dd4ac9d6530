package host

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jjshanks/myrtle/pkg/clock"
)

func TestEntityInheritance(t *testing.T) {
	proto := NewEntity(nil)
	proto.Set("greeting", "hello")
	obj := NewEntity(proto)

	v, ok := obj.Get("greeting")
	require.True(t, ok)
	assert.Equal(t, "hello", v)
	assert.False(t, obj.Has("greeting"), "inherited members are not own members")
	assert.Same(t, proto, obj.Prototype())

	obj.Set("greeting", "hi")
	v, _ = obj.Get("greeting")
	assert.Equal(t, "hi", v)
	assert.True(t, obj.Has("greeting"))

	obj.Delete("greeting")
	v, _ = obj.Get("greeting")
	assert.Equal(t, "hello", v, "deleting the own member exposes the inherited one")

	_, ok = obj.Get("missing")
	assert.False(t, ok)
}

func TestEntityInvoke(t *testing.T) {
	obj := NewEntity(nil)
	obj.Set("value", 3)
	obj.Set("notFn", 12)
	obj.Method("triple", func(this any, args ...any) (any, error) {
		v, _ := this.(*Entity).Get("value")
		return v.(int) * 3, nil
	})

	got, err := obj.Invoke("triple")
	require.NoError(t, err)
	assert.Equal(t, 9, got)

	_, err = obj.Invoke("notFn")
	assert.ErrorIs(t, err, ErrNotCallable)

	_, err = obj.Invoke("missing")
	assert.ErrorIs(t, err, ErrNotCallable)
}

func TestFuncBind(t *testing.T) {
	f := NewFunc("self", func(this any, _ ...any) (any, error) { return this, nil })
	bound := f.Bind("owner")

	got, err := bound.Call("caller")
	require.NoError(t, err)
	assert.Equal(t, "owner", got)
	assert.Equal(t, "self", bound.Name())

	var nilFunc *Func
	_, err = nilFunc.Call(nil)
	assert.ErrorIs(t, err, ErrNotCallable)
}

func TestInvoke(t *testing.T) {
	boom := errors.New("boom")
	ran := false

	tests := []struct {
		name    string
		cb      any
		want    any
		wantErr error
	}{
		{name: "host func", cb: NewFunc("f", func(_ any, args ...any) (any, error) { return len(args), nil }), want: 2},
		{name: "impl", cb: Impl(func(any, ...any) (any, error) { return "impl", nil }), want: "impl"},
		{name: "func with error", cb: func() error { return boom }, wantErr: boom},
		{name: "plain func", cb: func() { ran = true }},
		{name: "not callable", cb: "nope", wantErr: ErrNotCallable},
		{name: "nil", cb: nil, wantErr: ErrNotCallable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Invoke(tt.cb, nil, 1, 2)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.False(t, Callable(tt.cb) && tt.wantErr == ErrNotCallable)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.True(t, Callable(tt.cb))
		})
	}
	assert.True(t, ran)
}

func TestToInt(t *testing.T) {
	tests := []struct {
		name   string
		in     any
		want   int64
		wantOK bool
	}{
		{name: "int", in: 5, want: 5, wantOK: true},
		{name: "uint8", in: uint8(200), want: 200, wantOK: true},
		{name: "float", in: -2.7, want: -2, wantOK: true},
		{name: "string", in: "17", want: 17, wantOK: true},
		{name: "signed string", in: "+8x", want: 8, wantOK: true},
		{name: "overflowing string saturates", in: "99999999999999999999ms", want: math.MaxInt64, wantOK: true},
		{name: "underflowing string saturates", in: "-99999999999999999999", want: math.MinInt64, wantOK: true},
		{name: "sign only", in: "-", wantOK: false},
		{name: "empty string", in: "", wantOK: false},
		{name: "letters", in: "abc", wantOK: false},
		{name: "duration", in: 1500 * time.Millisecond, want: 1500, wantOK: true},
		{name: "slice", in: []string{"4", "5"}, want: 4, wantOK: true},
		{name: "nil", in: nil, wantOK: false},
		{name: "struct", in: struct{}{}, wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ToInt(tt.in)
			assert.Equal(t, tt.wantOK, ok)
			if tt.wantOK {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func receive[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(time.Second):
		t.Fatal("timer callback did not run")
	}
	var zero T
	return zero
}

func assertQuiet[T any](t *testing.T, ch <-chan T) {
	t.Helper()
	select {
	case v := <-ch:
		t.Fatalf("unexpected timer callback: %v", v)
	case <-time.After(20 * time.Millisecond):
	}
}

func waitTimers(t *testing.T, fake *clockwork.FakeClock, n int) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, fake.BlockUntilContext(ctx, n))
}

func TestGlobalTimers(t *testing.T) {
	fake := clock.NewFake(time.Unix(0, 0))
	g := NewGlobal(WithClock(fake))

	fired := make(chan string, 8)
	_, err := g.Invoke(SetTimeout, func() { fired <- "timeout" }, 100)
	require.NoError(t, err)

	id, err := g.Invoke(SetInterval, func() { fired <- "interval" }, "30")
	require.NoError(t, err)

	cancelled, err := g.Invoke(SetTimeout, func() { fired <- "cancelled" }, 50)
	require.NoError(t, err)
	_, err = g.Invoke(ClearTimeout, cancelled)
	require.NoError(t, err)
	waitTimers(t, fake, 2)

	for i := 0; i < 3; i++ {
		fake.Advance(30 * time.Millisecond)
		assert.Equal(t, "interval", receive(t, fired))
	}

	fake.Advance(10 * time.Millisecond)
	assert.Equal(t, "timeout", receive(t, fired))
	waitTimers(t, fake, 1)

	_, err = g.Invoke(ClearInterval, id)
	require.NoError(t, err)
	waitTimers(t, fake, 0)

	fake.Advance(time.Second)
	assertQuiet(t, fired)
}

func TestGlobalTimersPassArguments(t *testing.T) {
	fake := clock.NewFake(time.Unix(0, 0))
	g := NewGlobal(WithClock(fake))

	got := make(chan []any, 1)
	cb := NewFunc("cb", func(_ any, args ...any) (any, error) {
		got <- args
		return nil, nil
	})
	_, err := g.Invoke(SetTimeout, cb, 0, "a", 1)
	require.NoError(t, err)
	waitTimers(t, fake, 1)

	fake.Advance(time.Millisecond)
	assert.Equal(t, []any{"a", 1}, receive(t, got))

	_, err = g.Invoke(SetTimeout, 42, 10)
	assert.ErrorIs(t, err, ErrNotCallable)
}

func TestGlobalZeroDelayInterval(t *testing.T) {
	tests := []struct {
		name  string
		delay any
	}{
		{name: "zero", delay: 0},
		{name: "negative", delay: -5},
		{name: "missing", delay: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := clock.NewFake(time.Unix(0, 0))
			g := NewGlobal(WithClock(fake))

			ticks := make(chan time.Time, 16)
			args := []any{func() { ticks <- fake.Now() }}
			if tt.delay != nil {
				args = append(args, tt.delay)
			}
			id, err := g.Invoke(SetInterval, args...)
			require.NoError(t, err)
			waitTimers(t, fake, 1)

			fake.Advance(time.Millisecond)
			receive(t, ticks)
			assertQuiet(t, ticks)

			waitTimers(t, fake, 1)
			fake.Advance(time.Millisecond)
			receive(t, ticks)
			assertQuiet(t, ticks)

			_, err = g.Invoke(ClearInterval, id)
			require.NoError(t, err)
			waitTimers(t, fake, 0)
		})
	}
}
