// Package metrics exposes scheduler and pipeline activity to Prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"arbflow/internal/domain"
	"arbflow/internal/scheduler"
)

// EventSource is the part of the engine the collector listens to.
type EventSource interface {
	OnTaskCompleted(fn func(scheduler.TaskCompleted)) func()
	OnTaskError(fn func(scheduler.TaskError)) func()
	Tasks() []scheduler.TaskInfo
}

type Collector struct {
	reg prometheus.Registerer

	taskRuns     *prometheus.CounterVec
	taskDuration *prometheus.HistogramVec
	transitions  *prometheus.CounterVec
}

func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		reg: reg,
		taskRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "arbflow_task_runs_total",
			Help: "Scheduler task runs by outcome",
		}, []string{"task", "outcome"}),
		taskDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "arbflow_task_duration_seconds",
			Help:    "Scheduler task handler duration in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"task"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "arbflow_pipeline_transitions_total",
			Help: "Transaction status transitions made by the pipeline",
		}, []string{"status"}),
	}
	reg.MustRegister(c.taskRuns, c.taskDuration, c.transitions)
	return c
}

// Attach subscribes to src's events and exports its running-task count.
// The returned func unsubscribes.
func (c *Collector) Attach(src EventSource) func() {
	offOK := src.OnTaskCompleted(func(e scheduler.TaskCompleted) {
		c.taskRuns.WithLabelValues(e.ID, "success").Inc()
		c.taskDuration.WithLabelValues(e.ID).Observe(e.FinishedAt.Sub(e.StartedAt).Seconds())
	})
	offErr := src.OnTaskError(func(e scheduler.TaskError) {
		c.taskRuns.WithLabelValues(e.ID, "error").Inc()
		c.taskDuration.WithLabelValues(e.ID).Observe(e.FinishedAt.Sub(e.StartedAt).Seconds())
	})

	running := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "arbflow_tasks_running",
		Help: "Tasks currently executing",
	}, func() float64 {
		n := 0
		for _, t := range src.Tasks() {
			if t.State == scheduler.TaskRunning {
				n++
			}
		}
		return float64(n)
	})
	c.reg.MustRegister(running)

	return func() {
		offOK()
		offErr()
		c.reg.Unregister(running)
	}
}

func (c *Collector) ObserveTransition(status domain.TxStatus) {
	c.transitions.WithLabelValues(string(status)).Inc()
}
