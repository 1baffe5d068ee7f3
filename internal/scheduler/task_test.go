package scheduler

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIntervalAdvanceKeepsCadence(t *testing.T) {
	base := time.Date(2026, 1, 1, 10, 0, 0, 0, time.Local)
	tk := &task{kind: KindInterval, period: time.Minute, nextRunAt: base}

	tk.advance(base.Add(2 * time.Second))
	assert.Equal(t, base.Add(time.Minute), tk.nextRunAt)

	// a long stall does not produce a burst of catch-up runs
	tk.advance(base.Add(10 * time.Minute))
	assert.Equal(t, base.Add(11*time.Minute), tk.nextRunAt)
}

func TestFirstRun(t *testing.T) {
	now := time.Date(2026, 1, 1, 10, 0, 30, 0, time.Local)

	fresh := &task{kind: KindInterval, period: time.Minute}
	assert.Equal(t, now.Add(time.Minute), fresh.firstRun(now))

	eager := &task{kind: KindInterval, period: time.Minute, runOnStart: true, nextRunAt: now.Add(time.Hour)}
	assert.Equal(t, now, eager.firstRun(now))

	restored := &task{kind: KindInterval, period: time.Minute, nextRunAt: now.Add(20 * time.Second)}
	assert.Equal(t, now.Add(20*time.Second), restored.firstRun(now))

	sched, err := ParseCron("*/15 * * * *")
	require.NoError(t, err)
	cronTask := &task{kind: KindCron, schedule: sched}
	assert.True(t, time.Date(2026, 1, 1, 10, 15, 0, 0, time.Local).Equal(cronTask.firstRun(now)))
}

func TestNextRunTimesUsesLocalFields(t *testing.T) {
	from := time.Date(2026, 5, 4, 8, 59, 0, 0, time.Local)
	times, err := NextRunTimes("0 9 * * 1-5", from, 2)
	require.NoError(t, err)
	require.Len(t, times, 2)
	assert.True(t, time.Date(2026, 5, 4, 9, 0, 0, 0, time.Local).Equal(times[0]))
	assert.True(t, time.Date(2026, 5, 5, 9, 0, 0, 0, time.Local).Equal(times[1]))

	_, err = ParseCron("61 * * * *")
	assert.Error(t, err)
	_, err = ParseCron("@hourly")
	assert.NoError(t, err)
}

func TestSharedAccessors(t *testing.T) {
	sh := NewShared(map[string]any{"n": json.Number("3"), "f": 1.5, "at": "2026-01-02T03:04:05Z"})
	assert.Equal(t, int64(3), sh.Int("n"))
	assert.Equal(t, int64(5), sh.Incr("n", 2))
	assert.Equal(t, 1.5, sh.Float("f"))
	assert.True(t, time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC).Equal(sh.Time("at")))
	assert.False(t, sh.Bool("missing"))

	snap := sh.Snapshot()
	sh.Set("n", 0)
	assert.Equal(t, int64(5), snap["n"])

	sh.Merge(map[string]any{"a": "b"})
	assert.Equal(t, "b", sh.String("a"))
	sh.Delete("a")
	_, ok := sh.Get("a")
	assert.False(t, ok)
}
