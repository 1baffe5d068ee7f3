package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"arbflow/internal/worker"
)

type State string

const (
	StateStopped      State = "stopped"
	StateInitializing State = "initializing"
	StateRunning      State = "running"
	StatePaused       State = "paused"
)

var (
	ErrNotInitialized = errors.New("scheduler not initialized")
	ErrInvalidState   = errors.New("invalid scheduler state")
	ErrDuplicateTask  = errors.New("task already registered")
	ErrUnknownTask    = errors.New("unknown task")
	ErrInvalidTrigger = errors.New("invalid trigger")
	ErrTaskPanicked   = errors.New("task panicked")
)

const (
	DefaultMaxConcurrentTasks = 4
	DefaultCheckpointInterval = 30 * time.Second
	DefaultShutdownGrace      = 5 * time.Second
	DefaultTickInterval       = 50 * time.Millisecond
)

type Options struct {
	Name    string
	Context map[string]any
	// Pinned names Context keys whose configured value is kept over the
	// value found in a restored snapshot.
	Pinned []string
	// StatePath is where snapshots are written. Empty disables persistence.
	StatePath          string
	MaxConcurrentTasks int
	CheckpointInterval time.Duration
	ShutdownGrace      time.Duration
	TickInterval       time.Duration
}

// Engine owns a table of named tasks, fires them according to their
// triggers and runs their handlers on a bounded worker pool.
type Engine struct {
	opts      Options
	shared    *Shared
	snapshots *SnapshotStore
	now       func() time.Time

	mu          sync.Mutex
	state       State
	initialized bool
	stopping    bool
	tasks       map[string]*task
	order       []string
	restored    map[string]TaskRecord
	pool        *worker.Pool
	gen         uint64
	stopLoops   context.CancelFunc
	loops       sync.WaitGroup

	completed subscribers[TaskCompleted]
	failed    subscribers[TaskError]
}

func New(opts Options) *Engine {
	if opts.Name == "" {
		opts.Name = "scheduler"
	}
	if opts.MaxConcurrentTasks <= 0 {
		opts.MaxConcurrentTasks = DefaultMaxConcurrentTasks
	}
	if opts.CheckpointInterval == 0 {
		opts.CheckpointInterval = DefaultCheckpointInterval
	}
	if opts.ShutdownGrace <= 0 {
		opts.ShutdownGrace = DefaultShutdownGrace
	}
	if opts.TickInterval <= 0 {
		opts.TickInterval = DefaultTickInterval
	}
	e := &Engine{
		opts:   opts,
		shared: NewShared(opts.Context),
		now:    time.Now,
		state:  StateStopped,
		tasks:  make(map[string]*task),
	}
	if opts.StatePath != "" {
		e.snapshots = NewSnapshotStore(opts.StatePath)
	}
	return e
}

func (e *Engine) Name() string { return e.opts.Name }

func (e *Engine) Shared() *Shared { return e.shared }

func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// RegisterOneTime registers a task that runs exactly once during Initialize.
func (e *Engine) RegisterOneTime(name string, fn OneTimeFunc) error {
	if fn == nil {
		return fmt.Errorf("%w: nil handler for %q", ErrInvalidTrigger, name)
	}
	e.mu.Lock()
	late := e.initialized || e.state != StateStopped
	e.mu.Unlock()
	if late {
		return fmt.Errorf("%w: one-time task %q registered after initialize", ErrInvalidState, name)
	}
	return e.register(&task{
		id:   name,
		kind: KindOneTime,
		handler: func(ctx context.Context, sh *Shared) (any, error) {
			return nil, fn(ctx, sh)
		},
	})
}

func (e *Engine) RegisterInterval(id string, fn IntervalFunc, period time.Duration, opts IntervalOptions) error {
	if fn == nil || period <= 0 {
		return fmt.Errorf("%w: interval task %q needs a handler and a positive period", ErrInvalidTrigger, id)
	}
	return e.register(&task{
		id:         id,
		kind:       KindInterval,
		period:     period,
		runOnStart: opts.RunOnStart,
		handler:    fn,
	})
}

func (e *Engine) RegisterCron(id string, fn TaskFunc, expr string) error {
	if fn == nil {
		return fmt.Errorf("%w: nil handler for %q", ErrInvalidTrigger, id)
	}
	sched, err := ParseCron(expr)
	if err != nil {
		return fmt.Errorf("%w: cron %q: %v", ErrInvalidTrigger, expr, err)
	}
	return e.register(&task{
		id:       id,
		kind:     KindCron,
		cronExpr: expr,
		schedule: sched,
		handler: func(ctx context.Context, sh *Shared) (any, error) {
			return nil, fn(ctx, sh)
		},
	})
}

// RegisterConditional polls predicate every poll period and runs fn each
// time it holds. The task keeps polling after firing.
func (e *Engine) RegisterConditional(id string, fn TaskFunc, predicate Predicate, poll time.Duration) error {
	if fn == nil || predicate == nil || poll <= 0 {
		return fmt.Errorf("%w: conditional task %q needs a handler, a predicate and a positive poll period", ErrInvalidTrigger, id)
	}
	return e.register(&task{
		id:        id,
		kind:      KindConditional,
		period:    poll,
		predicate: predicate,
		handler: func(ctx context.Context, sh *Shared) (any, error) {
			return nil, fn(ctx, sh)
		},
	})
}

func (e *Engine) register(t *task) error {
	if t.id == "" {
		return fmt.Errorf("%w: empty task id", ErrInvalidTrigger)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.tasks[t.id]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateTask, t.id)
	}
	t.state = TaskIdle
	t.enabled = true
	if rec, ok := e.restored[t.id]; ok && rec.Kind == t.kind {
		applyRecord(t, rec)
	}
	if e.state == StateRunning || e.state == StatePaused {
		t.nextRunAt = t.firstRun(e.now())
	}
	e.tasks[t.id] = t
	e.order = append(e.order, t.id)
	return nil
}

func applyRecord(t *task, rec TaskRecord) {
	t.nextRunAt = rec.NextRunAt
	t.lastRunAt = rec.LastRunAt
	t.enabled = rec.Enabled
	if t.kind == KindOneTime && (rec.State == TaskSucceeded || rec.State == TaskFailed) {
		t.state = rec.State
	}
}

// Initialize restores the snapshot, if one exists, and runs every one-time
// task that has not already succeeded. A failing one-time task is logged and
// reported but does not abort startup; a corrupted snapshot does.
func (e *Engine) Initialize(ctx context.Context) error {
	e.mu.Lock()
	if e.state != StateStopped || e.stopping {
		e.mu.Unlock()
		return fmt.Errorf("%w: initialize from %s", ErrInvalidState, e.state)
	}
	e.state = StateInitializing
	e.mu.Unlock()

	if e.snapshots != nil {
		snap, ok, err := e.snapshots.Load()
		if err != nil {
			e.mu.Lock()
			e.state = StateStopped
			e.mu.Unlock()
			return fmt.Errorf("restore %s: %w", e.snapshots.Path(), err)
		}
		if ok {
			e.restore(snap)
		}
	}

	e.mu.Lock()
	var pending []*task
	for _, id := range e.order {
		t := e.tasks[id]
		if t.kind == KindOneTime && t.state != TaskSucceeded {
			pending = append(pending, t)
		}
	}
	e.mu.Unlock()

	for _, t := range pending {
		e.runOneTime(ctx, t)
	}

	e.mu.Lock()
	e.initialized = true
	e.mu.Unlock()
	log.Info().Str("engine", e.opts.Name).Int("tasks", len(e.order)).Int("one_time", len(pending)).Msg("scheduler initialized")
	return nil
}

func (e *Engine) restore(snap Snapshot) {
	for _, k := range e.opts.Pinned {
		if _, ok := e.opts.Context[k]; ok {
			delete(snap.Context, k)
		}
	}
	e.shared.Merge(snap.Context)
	e.mu.Lock()
	defer e.mu.Unlock()
	e.restored = make(map[string]TaskRecord, len(snap.Tasks))
	for _, rec := range snap.Tasks {
		e.restored[rec.ID] = rec
		if t, ok := e.tasks[rec.ID]; ok && t.kind == rec.Kind {
			applyRecord(t, rec)
		}
	}
	log.Info().Str("path", e.snapshots.Path()).Time("saved_at", snap.SavedAt).Int("tasks", len(snap.Tasks)).Msg("scheduler snapshot restored")
}

func (e *Engine) runOneTime(ctx context.Context, t *task) {
	e.mu.Lock()
	t.state = TaskRunning
	e.mu.Unlock()

	start := e.now()
	res, err := e.invoke(ctx, t)
	e.finish(t, res, err, start)
}

// Start begins the tick loop, or resumes dispatching when paused.
func (e *Engine) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch e.state {
	case StateRunning:
		return nil
	case StatePaused:
		e.pool.Resume()
		e.state = StateRunning
		log.Info().Str("engine", e.opts.Name).Msg("scheduler resumed")
		return nil
	}
	if !e.initialized || e.stopping {
		return ErrNotInitialized
	}

	now := e.now()
	for _, id := range e.order {
		t := e.tasks[id]
		if t.kind == KindOneTime {
			continue
		}
		t.state = TaskIdle
		t.nextRunAt = t.firstRun(now)
	}

	e.pool = worker.NewPool(e.opts.MaxConcurrentTasks)
	go e.pool.Run(context.Background())

	ctx, cancel := context.WithCancel(context.Background())
	e.stopLoops = cancel
	e.loops.Add(1)
	go e.tickLoop(ctx)
	if e.snapshots != nil && e.opts.CheckpointInterval > 0 {
		e.loops.Add(1)
		go e.checkpointLoop(ctx)
	}

	e.state = StateRunning
	log.Info().
		Str("engine", e.opts.Name).
		Int("max_concurrent", e.opts.MaxConcurrentTasks).
		Dur("tick", e.opts.TickInterval).
		Msg("scheduler started")
	return nil
}

// Pause stops dispatching new runs. Runs already executing are not cancelled.
func (e *Engine) Pause() error {
	e.mu.Lock()
	switch e.state {
	case StatePaused:
		e.mu.Unlock()
		return nil
	case StateRunning:
	default:
		st := e.state
		e.mu.Unlock()
		return fmt.Errorf("%w: pause from %s", ErrInvalidState, st)
	}
	e.state = StatePaused
	e.pool.Pause()
	e.mu.Unlock()

	log.Info().Str("engine", e.opts.Name).Msg("scheduler paused")
	return e.persist()
}

// Stop halts the tick loop, waits up to the shutdown grace period for
// running handlers, cancels the rest and writes a final snapshot.
// Completions that arrive after Stop returns are ignored.
func (e *Engine) Stop() error {
	e.mu.Lock()
	switch e.state {
	case StateStopped:
		if !e.initialized {
			e.mu.Unlock()
			return nil
		}
		// initialized but never started
		e.initialized = false
		e.mu.Unlock()
		return e.persist()
	case StateInitializing:
		e.state = StateStopped
		e.initialized = false
		e.mu.Unlock()
		return e.persist()
	}
	e.state = StateStopped
	e.initialized = false
	e.stopping = true
	pool, cancel := e.pool, e.stopLoops
	e.mu.Unlock()

	cancel()
	e.loops.Wait()

	ctx, done := context.WithTimeout(context.Background(), e.opts.ShutdownGrace)
	dropped, err := pool.Shutdown(ctx)
	done()

	e.mu.Lock()
	for _, j := range dropped {
		if t, ok := e.tasks[j.ID]; ok {
			t.state = TaskIdle
		}
	}
	if err != nil {
		for _, id := range e.order {
			t := e.tasks[id]
			if t.state == TaskRunning {
				log.Warn().Str("task_id", id).Dur("grace", e.opts.ShutdownGrace).Msg("task did not finish within shutdown grace, abandoning")
				t.state = TaskIdle
				t.abandoned = true
			}
		}
	}
	e.gen++
	e.pool = nil
	e.stopping = false
	e.mu.Unlock()

	log.Info().Str("engine", e.opts.Name).Int("dropped", len(dropped)).Msg("scheduler stopped")
	return e.persist()
}

// UpdateContext merges patch into the shared context. Call it while paused
// or from inside a running task.
func (e *Engine) UpdateContext(patch map[string]any) {
	e.shared.Merge(patch)
}

func (e *Engine) SetEnabled(id string, enabled bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	t, ok := e.tasks[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTask, id)
	}
	t.enabled = enabled
	return nil
}

func (e *Engine) Tasks() []TaskInfo {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]TaskInfo, 0, len(e.order))
	for _, id := range e.order {
		out = append(out, e.tasks[id].info())
	}
	return out
}

func (e *Engine) OnTaskCompleted(fn func(TaskCompleted)) (unsubscribe func()) {
	return e.completed.add(fn)
}

func (e *Engine) OnTaskError(fn func(TaskError)) (unsubscribe func()) {
	return e.failed.add(fn)
}

func (e *Engine) tickLoop(ctx context.Context) {
	defer e.loops.Done()
	e.tick(e.now())

	ticker := time.NewTicker(e.opts.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.tick(e.now())
		}
	}
}

func (e *Engine) checkpointLoop(ctx context.Context) {
	defer e.loops.Done()
	ticker := time.NewTicker(e.opts.CheckpointInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = e.persist()
		}
	}
}

// tick evaluates every trigger and hands due tasks to the pool. A task whose
// previous run is queued or executing is skipped.
func (e *Engine) tick(now time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != StateRunning {
		return
	}

	var due []*task
	for _, id := range e.order {
		t := e.tasks[id]
		if t.kind == KindOneTime || !t.enabled || t.busy() {
			continue
		}
		if t.state == TaskSucceeded || t.state == TaskFailed {
			t.state = TaskIdle
		}
		if now.Before(t.nextRunAt) {
			continue
		}
		due = append(due, t)
	}
	sort.SliceStable(due, func(i, j int) bool { return due[i].nextRunAt.Before(due[j].nextRunAt) })

	for _, t := range due {
		t.advance(now)
		if t.kind == KindConditional && !e.evaluate(t) {
			continue
		}
		t.state = TaskScheduled
		e.submit(t)
	}
}

func (e *Engine) evaluate(t *task) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("task_id", t.id).Interface("panic", r).Msg("task predicate panicked")
			ok = false
		}
	}()
	return t.predicate(e.shared)
}

// submit must be called with e.mu held.
func (e *Engine) submit(t *task) {
	gen := e.gen
	e.pool.Submit(worker.Job{
		ID:  t.id,
		Run: func(ctx context.Context) { e.execute(ctx, t, gen) },
	})
}

func (e *Engine) execute(ctx context.Context, t *task, gen uint64) {
	e.mu.Lock()
	if gen != e.gen {
		e.mu.Unlock()
		return
	}
	t.state = TaskRunning
	e.mu.Unlock()

	start := e.now()
	res, err := e.invoke(ctx, t)

	e.mu.Lock()
	orphaned := gen != e.gen
	if orphaned {
		t.abandoned = false
	}
	e.mu.Unlock()
	if orphaned {
		log.Warn().Str("task_id", t.id).Err(err).Msg("orphaned task completion ignored")
		return
	}
	e.finish(t, res, err, start)
}

func (e *Engine) invoke(ctx context.Context, t *task) (res any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrTaskPanicked, r)
		}
	}()
	return t.handler(ctx, e.shared)
}

func (e *Engine) finish(t *task, res any, err error, start time.Time) {
	finished := e.now()
	e.mu.Lock()
	t.lastRunAt = start
	if err != nil {
		t.state = TaskFailed
	} else {
		t.state = TaskSucceeded
	}
	e.mu.Unlock()

	if err != nil {
		log.Error().Err(err).Str("task_id", t.id).Dur("took", finished.Sub(start)).Msg("task failed")
		e.failed.emit(TaskError{ID: t.id, Err: err, StartedAt: start, FinishedAt: finished})
		return
	}
	log.Debug().Str("task_id", t.id).Dur("took", finished.Sub(start)).Msg("task completed")
	e.completed.emit(TaskCompleted{ID: t.id, Result: res, StartedAt: start, FinishedAt: finished})
}

// persist writes the current snapshot when a state path is configured.
func (e *Engine) persist() error {
	if e.snapshots == nil {
		return nil
	}
	e.mu.Lock()
	records := make([]TaskRecord, 0, len(e.order))
	for _, id := range e.order {
		t := e.tasks[id]
		records = append(records, TaskRecord{
			ID:        t.id,
			Kind:      t.kind,
			NextRunAt: t.nextRunAt,
			LastRunAt: t.lastRunAt,
			Enabled:   t.enabled,
			State:     t.state,
		})
	}
	e.mu.Unlock()

	err := e.snapshots.Write(Snapshot{
		Name:    e.opts.Name,
		SavedAt: e.now(),
		Tasks:   records,
		Context: e.shared.Snapshot(),
	})
	if err != nil {
		log.Error().Err(err).Str("path", e.snapshots.Path()).Msg("failed to write scheduler snapshot")
	}
	return err
}
