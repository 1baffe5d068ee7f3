package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"arbflow/internal/config"
	"arbflow/internal/pipeline"
	"arbflow/internal/scheduler"
)

func execCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := buildCLI()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestCronNext(t *testing.T) {
	out, err := execCLI(t, "cron-next", "*/15 * * * *", "--count", "3")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)
	for _, l := range lines {
		ts, err := time.Parse(time.RFC3339, l)
		require.NoError(t, err)
		assert.Zero(t, ts.Minute()%15)
	}

	_, err = execCLI(t, "cron-next", "not a cron")
	assert.Error(t, err)
}

func TestSnapshotCommand(t *testing.T) {
	dir := t.TempDir()
	state := filepath.Join(dir, "state.json")
	cfgPath := filepath.Join(dir, "arbflow.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("scheduler:\n  state_path: "+state+"\n"), 0o644))

	_, err := execCLI(t, "snapshot", "-c", cfgPath)
	assert.Error(t, err, "no snapshot yet")

	require.NoError(t, scheduler.NewSnapshotStore(state).Write(scheduler.Snapshot{
		Name:    "arbflow",
		Context: map[string]any{"manual_mode": true},
	}))
	out, err := execCLI(t, "snapshot", "-c", cfgPath)
	require.NoError(t, err)
	assert.Contains(t, out, `"manual_mode": true`)
}

func TestPipelineSettingsFromConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Pipeline.Price = "95.10"
	cfg.Pipeline.AutoFund = true
	cfg.Pipeline.Intervals.ChatListener = 2 * time.Second

	s, err := pipelineSettings(cfg)
	require.NoError(t, err)
	assert.Equal(t, "95.1", s.Price.String())
	assert.True(t, s.AutoFund)
	assert.Equal(t, 2*time.Second, s.ChatEvery)
	assert.Equal(t, "10", s.ReceiptTolerance.String())
	assert.NotEmpty(t, s.PaymentMessage)
}

func TestConfiguredManualModeWinsOverSnapshot(t *testing.T) {
	restart := func(t *testing.T, saved bool, manual *bool) bool {
		t.Helper()
		cfg := config.Default()
		cfg.Scheduler.StatePath = filepath.Join(t.TempDir(), "state.json")
		cfg.Pipeline.Manual = manual
		require.NoError(t, scheduler.NewSnapshotStore(cfg.Scheduler.StatePath).Write(scheduler.Snapshot{
			Name:    cfg.Scheduler.Name,
			Context: map[string]any{pipeline.KeyManualMode: saved},
		}))

		e := scheduler.New(engineOptions(cfg))
		require.NoError(t, e.Initialize(context.Background()))
		t.Cleanup(func() { _ = e.Stop() })
		return e.Shared().Bool(pipeline.KeyManualMode)
	}
	on, off := true, false

	assert.True(t, restart(t, false, &on), "config turns manual mode on")
	assert.False(t, restart(t, true, &off), "config turns manual mode off")
	assert.True(t, restart(t, true, nil), "unset config keeps the saved value")
}
