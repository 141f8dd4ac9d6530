package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSimulateCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "schedule.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
ticks: 50
timers:
  - name: heartbeat
    kind: interval
    delay: 10
  - name: once
    kind: timeout
    delay: 20
`), 0o644))

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"simulate", "--schedule", path, "--ticks", "30", "--metrics", "--log-level", "error"})
	t.Cleanup(func() {
		rootCmd.SetArgs(nil)
		rootCmd.SetOut(nil)
	})

	require.NoError(t, rootCmd.Execute())

	got := out.String()
	assert.Contains(t, got, "advanced to tick 30")
	assert.Regexp(t, `heartbeat\s+interval\s+delay=10\s+fired=3`, got)
	assert.Regexp(t, `once\s+timeout\s+delay=20\s+fired=1`, got)
	assert.Contains(t, got, `myrtle_vclock_fired_total{kind="interval"} 3`)
}
