package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "arbflow.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadDefaultsWhenFileMissing(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"), false)
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, cfg.Scheduler.CheckpointInterval)
	assert.Equal(t, 5*time.Second, cfg.Scheduler.ShutdownGrace)
	assert.Equal(t, 4, cfg.Scheduler.MaxConcurrentTasks)
	assert.Equal(t, 2*time.Minute, cfg.Pipeline.HoldDelay)
	_, set := cfg.ManualMode()
	assert.False(t, set)
	assert.False(t, cfg.HTTPDebug)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"), true)
	assert.Error(t, err)
}

func TestLoadFileAndEnv(t *testing.T) {
	path := writeFile(t, `
db_path: /var/lib/arbflow/arbflow.db
scheduler:
  max_concurrent_tasks: 2
  checkpoint_interval: 1m
gateway:
  base_url: https://sidecar.local:9000
  requests: 10
  window: 5s
pipeline:
  price: "96.5"
  intervals:
    chat_listener: 3s
  templates:
    - id: pay
      keywords: [оплата, платеж]
      body: Оплата в течение 5 минут
      priority: 5
`)
	t.Setenv("ARBFLOW_MAX_CONCURRENT", "8")
	t.Setenv("ARBFLOW_MANUAL", "true")

	cfg, err := Load(path, true)
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/arbflow/arbflow.db", cfg.DBPath)
	assert.Equal(t, 8, cfg.Scheduler.MaxConcurrentTasks)
	assert.Equal(t, time.Minute, cfg.Scheduler.CheckpointInterval)
	assert.Equal(t, 3*time.Second, cfg.Pipeline.Intervals.ChatListener)
	assert.Equal(t, 10*time.Second, cfg.Pipeline.Intervals.Releaser, "unset keys keep defaults")
	manual, set := cfg.ManualMode()
	assert.True(t, manual)
	assert.True(t, set)

	price, err := cfg.Price()
	require.NoError(t, err)
	assert.Equal(t, "96.5", price.String())

	tpls := cfg.Templates()
	require.Len(t, tpls, 1)
	assert.True(t, tpls[0].Active)
	assert.Equal(t, []string{"оплата", "платеж"}, tpls[0].Keywords)
}

func TestValidateRejectsBadValues(t *testing.T) {
	path := writeFile(t, `
gateway:
  base_url: "not a url"
  mailbox: true
pipeline:
  price: abc
  intervals:
    releaser: 0s
`)
	_, err := Load(path, true)
	require.Error(t, err)
	msg := err.Error()
	assert.Contains(t, msg, "gateway.base_url")
	assert.Contains(t, msg, "ocr.command")
	assert.Contains(t, msg, "pipeline.price")
	assert.Contains(t, msg, "pipeline.intervals.releaser")
}

func TestManualModeSetInFileIsReported(t *testing.T) {
	path := writeFile(t, "http_debug: true\npipeline:\n  manual: false\n")
	cfg, err := Load(path, true)
	require.NoError(t, err)
	manual, set := cfg.ManualMode()
	assert.False(t, manual)
	assert.True(t, set, "an explicit false still counts as set")
	assert.True(t, cfg.HTTPDebug)
}
