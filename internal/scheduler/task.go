package scheduler

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
)

type Kind string

const (
	KindOneTime     Kind = "one_time"
	KindInterval    Kind = "interval"
	KindCron        Kind = "cron"
	KindConditional Kind = "conditional"
)

type TaskState string

const (
	TaskIdle      TaskState = "idle"
	TaskScheduled TaskState = "scheduled"
	TaskRunning   TaskState = "running"
	TaskSucceeded TaskState = "succeeded"
	TaskFailed    TaskState = "failed"
)

type (
	// OneTimeFunc runs once during Initialize.
	OneTimeFunc func(ctx context.Context, sh *Shared) error
	// IntervalFunc may return a result that is delivered to completion subscribers.
	IntervalFunc func(ctx context.Context, sh *Shared) (any, error)
	TaskFunc     func(ctx context.Context, sh *Shared) error
	// Predicate must be cheap and side-effect free; it runs on the dispatcher.
	Predicate func(sh *Shared) bool
)

type IntervalOptions struct {
	RunOnStart bool
}

type task struct {
	id         string
	kind       Kind
	period     time.Duration
	cronExpr   string
	schedule   cron.Schedule
	predicate  Predicate
	runOnStart bool
	enabled    bool

	state     TaskState
	abandoned bool // a run left behind by Stop is still executing
	lastRunAt time.Time
	nextRunAt time.Time

	handler func(ctx context.Context, sh *Shared) (any, error)
}

// TaskInfo is a read-only view of a registered task.
type TaskInfo struct {
	ID         string        `json:"id"`
	Kind       Kind          `json:"kind"`
	Period     time.Duration `json:"period,omitempty"`
	CronExpr   string        `json:"cron_expr,omitempty"`
	RunOnStart bool          `json:"run_on_start,omitempty"`
	Enabled    bool          `json:"enabled"`
	State      TaskState     `json:"state"`
	LastRunAt  time.Time     `json:"last_run_at"`
	NextRunAt  time.Time     `json:"next_run_at"`
}

func (t *task) info() TaskInfo {
	return TaskInfo{
		ID:         t.id,
		Kind:       t.kind,
		Period:     t.period,
		CronExpr:   t.cronExpr,
		RunOnStart: t.runOnStart,
		Enabled:    t.enabled,
		State:      t.state,
		LastRunAt:  t.lastRunAt,
		NextRunAt:  t.nextRunAt,
	}
}

// busy reports whether a run of t is queued or executing, including a run
// abandoned by an earlier Stop.
func (t *task) busy() bool {
	return t.abandoned || t.state == TaskScheduled || t.state == TaskRunning
}

// firstRun computes the initial nextRunAt when the tick loop starts.
func (t *task) firstRun(now time.Time) time.Time {
	switch t.kind {
	case KindInterval:
		if t.runOnStart {
			return now
		}
		if !t.nextRunAt.IsZero() {
			return t.nextRunAt
		}
		return now.Add(t.period)
	case KindConditional:
		if !t.nextRunAt.IsZero() {
			return t.nextRunAt
		}
		return now.Add(t.period)
	case KindCron:
		return t.schedule.Next(now)
	}
	return time.Time{}
}

// advance moves nextRunAt past now after the task became due.
func (t *task) advance(now time.Time) {
	switch t.kind {
	case KindInterval, KindConditional:
		next := t.nextRunAt.Add(t.period)
		if !next.After(now) {
			next = now.Add(t.period)
		}
		t.nextRunAt = next
	case KindCron:
		t.nextRunAt = t.schedule.Next(now)
	}
}

// ParseCron parses a standard 5-field cron expression (minute, hour, day of
// month, month, day of week). Schedules are evaluated in the location of the
// time passed to Next, which the engine keeps local.
func ParseCron(expr string) (cron.Schedule, error) {
	return cron.ParseStandard(expr)
}

// NextRunTimes returns the next n firing times after from.
func NextRunTimes(expr string, from time.Time, n int) ([]time.Time, error) {
	s, err := ParseCron(expr)
	if err != nil {
		return nil, err
	}
	out := make([]time.Time, 0, n)
	for i := 0; i < n; i++ {
		from = s.Next(from)
		out = append(out, from)
	}
	return out, nil
}
