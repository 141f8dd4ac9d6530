package simulate

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

const scheduleYAML = `
ticks: 100
timers:
  - name: a
    kind: timeout
    delay: 30
  - name: b
    kind: interval
    delay: 25
    clear_at: 60
  - name: c
    kind: interval
    delay: 40
  - name: d
    kind: timeout
    delay: 200
`

func writeSchedule(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadSchedule(t *testing.T) {
	s, err := LoadSchedule(writeSchedule(t, "schedule.yaml", scheduleYAML))
	require.NoError(t, err)

	assert.Equal(t, int64(100), s.Ticks)
	require.Len(t, s.Timers, 4)
	assert.Equal(t, Timer{Name: "b", Kind: KindInterval, Delay: 25, ClearAt: 60}, s.Timers[1])
}

func TestLoadScheduleJSON(t *testing.T) {
	s, err := LoadSchedule(writeSchedule(t, "schedule.json",
		`{"ticks": 10, "timers": [{"name": "x", "kind": "timeout", "delay": 5}]}`))
	require.NoError(t, err)
	assert.Equal(t, []Timer{{Name: "x", Kind: KindTimeout, Delay: 5}}, s.Timers)
}

func TestLoadScheduleErrors(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		errMsg string
	}{
		{
			name:   "malformed yaml",
			body:   "ticks: 10\n  timers:\n - bad",
			errMsg: "error parsing schedule",
		},
		{
			name:   "missing ticks",
			body:   "timers: []",
			errMsg: "ticks must be positive",
		},
		{
			name:   "unknown kind",
			body:   "ticks: 5\ntimers:\n  - {name: x, kind: cron, delay: 1}",
			errMsg: `unknown kind "cron"`,
		},
		{
			name:   "duplicate name",
			body:   "ticks: 5\ntimers:\n  - {name: x, kind: timeout}\n  - {name: x, kind: interval}",
			errMsg: "duplicate name",
		},
		{
			name:   "missing name",
			body:   "ticks: 5\ntimers:\n  - {kind: timeout}",
			errMsg: "name is required",
		},
		{
			name:   "negative delay",
			body:   "ticks: 5\ntimers:\n  - {name: x, kind: timeout, delay: -1}",
			errMsg: "delay must not be negative",
		},
		{
			name:   "wrong type",
			body:   "ticks: soon",
			errMsg: "error unmarshaling schedule",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadSchedule(writeSchedule(t, "schedule.yaml", tt.body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}

	_, err := LoadSchedule(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "error reading schedule file")
}

func TestRun(t *testing.T) {
	s, err := LoadSchedule(writeSchedule(t, "schedule.yaml", scheduleYAML))
	require.NoError(t, err)

	res, err := NewRunner().Run(context.Background(), s)
	require.NoError(t, err)

	assert.Equal(t, []Firing{
		{Name: "b", Tick: 25},
		{Name: "a", Tick: 30},
		{Name: "c", Tick: 40},
		{Name: "b", Tick: 50},
		{Name: "c", Tick: 80},
	}, res.Firings)
	assert.Equal(t, map[string]int{"a": 1, "b": 2, "c": 2, "d": 0}, res.Counts)
	assert.Equal(t, []string{"b"}, res.Cleared)
	assert.Equal(t, int64(100), res.Now)
	assert.Equal(t, 2, res.Pending, "c at 120 and d at 200")
	assert.Len(t, res.Elapsed, 4)
	assert.Zero(t, res.Elapsed["d"])
}

func TestRunClearsWithinSameTick(t *testing.T) {
	s := &Schedule{
		Ticks: 30,
		Timers: []Timer{
			{Name: "tick", Kind: KindInterval, Delay: 10, ClearAt: 20},
			{Name: "late", Kind: KindTimeout, Delay: 25, ClearAt: 20},
		},
	}

	res, err := NewRunner().Run(context.Background(), s)
	require.NoError(t, err)

	assert.Equal(t, 2, res.Counts["tick"], "callbacks due at the clearing tick still run")
	assert.Zero(t, res.Counts["late"])
	assert.Equal(t, []string{"tick", "late"}, res.Cleared)
	assert.Zero(t, res.Pending)
}

func TestRunZeroDelayFiresOnFirstTick(t *testing.T) {
	s := &Schedule{Ticks: 3, Timers: []Timer{{Name: "now", Kind: KindInterval}}}

	res, err := NewRunner().Run(context.Background(), s)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Counts["now"])
	assert.Equal(t, int64(1), res.Firings[0].Tick)
}

func TestRunInvalidSchedule(t *testing.T) {
	_, err := NewRunner().Run(context.Background(), &Schedule{})
	assert.ErrorContains(t, err, "ticks must be positive")
}

func TestRunMetrics(t *testing.T) {
	s, err := LoadSchedule(writeSchedule(t, "schedule.yaml", scheduleYAML))
	require.NoError(t, err)

	reg := prometheus.NewRegistry()
	_, err = NewRunner(WithRegisterer(reg)).Run(context.Background(), s)
	require.NoError(t, err)

	families, err := reg.Gather()
	require.NoError(t, err)
	names := make([]string, 0, len(families))
	for _, mf := range families {
		names = append(names, mf.GetName())
	}
	assert.Contains(t, names, "myrtle_vclock_fired_total")
	assert.Contains(t, names, "myrtle_intercept_calls_total")
	assert.Equal(t, 1, testutil.CollectAndCount(reg, "myrtle_vclock_cancelled_total"))

	var buf bytes.Buffer
	require.NoError(t, WriteMetrics(&buf, reg))
	out := buf.String()
	assert.Contains(t, out, `myrtle_vclock_fired_total{kind="interval"} 4`)
	assert.Contains(t, out, `myrtle_vclock_fired_total{kind="timeout"} 1`)
	assert.Contains(t, out, `myrtle_vclock_cancelled_total 1`)
	assert.Contains(t, out, `myrtle_intercept_calls_total{behavior="passthrough"} 5`)
	assert.Contains(t, out, "myrtle_intercept_call_duration_seconds count=5")
	assert.Contains(t, out, "myrtle_intercept_records 0", "released after the run")
}

func TestRunTracing(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))

	s := &Schedule{Ticks: 20, Timers: []Timer{{Name: "x", Kind: KindTimeout, Delay: 5, ClearAt: 10}}}
	_, err := NewRunner(WithTracer(tp.Tracer("test"))).Run(context.Background(), s)
	require.NoError(t, err)

	var names []string
	for _, span := range sr.Ended() {
		names = append(names, span.Name())
	}
	assert.Contains(t, names, "simulate.run")
	assert.Contains(t, names, "vclock.advance")
}

func TestRunLogsFirings(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	s := &Schedule{Ticks: 10, Timers: []Timer{{Name: "ping", Kind: KindTimeout, Delay: 10}}}
	_, err := NewRunner(WithLogger(logger)).Run(context.Background(), s)
	require.NoError(t, err)

	assert.Contains(t, buf.String(), `"timer":"ping"`)
	assert.Contains(t, buf.String(), `"message":"Timer fired"`)
}

func TestWriteSummary(t *testing.T) {
	s, err := LoadSchedule(writeSchedule(t, "schedule.yaml", scheduleYAML))
	require.NoError(t, err)
	res, err := NewRunner().Run(context.Background(), s)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, WriteSummary(&buf, s, res))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 5)
	assert.Equal(t, "advanced to tick 100, 2 callbacks pending", lines[0])
	assert.Contains(t, lines[2], "fired=2 cleared_at=60")
	assert.Contains(t, lines[4], "fired=0")
}
