package worker

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"
)

// Job is one unit of admitted work. Run receives the pool's job context,
// which is cancelled when a shutdown outlives its grace period.
type Job struct {
	ID  string
	Run func(ctx context.Context)
}

// Pool runs at most size jobs at once. Jobs that arrive while the pool is
// saturated or paused wait in a FIFO admission queue.
type Pool struct {
	sem  chan struct{}
	wake chan struct{}

	mu     sync.Mutex
	queue  []Job
	paused bool
	closed bool

	jobs   sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

func NewPool(size int) *Pool {
	if size <= 0 {
		size = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		sem:    make(chan struct{}, size),
		wake:   make(chan struct{}, 1),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Submit enqueues j without blocking. It returns false once the pool is shut down.
func (p *Pool) Submit(j Job) bool {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return false
	}
	p.queue = append(p.queue, j)
	p.mu.Unlock()
	p.signal()
	return true
}

// Pause holds queued jobs; running jobs are not affected.
func (p *Pool) Pause() {
	p.mu.Lock()
	p.paused = true
	p.mu.Unlock()
}

func (p *Pool) Resume() {
	p.mu.Lock()
	p.paused = false
	p.mu.Unlock()
	p.signal()
}

func (p *Pool) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}

func (p *Pool) Active() int { return len(p.sem) }

func (p *Pool) signal() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// Run admits queued jobs until ctx is done or the pool is shut down.
// Cancelling ctx also cancels the context seen by running jobs.
func (p *Pool) Run(ctx context.Context) {
	stop := context.AfterFunc(ctx, p.cancel)
	defer stop()
	for {
		p.mu.Lock()
		for !p.closed && (p.paused || len(p.queue) == 0) {
			p.mu.Unlock()
			select {
			case <-ctx.Done():
				return
			case <-p.wake:
			}
			p.mu.Lock()
		}
		if p.closed {
			p.mu.Unlock()
			return
		}
		p.mu.Unlock()

		select {
		case <-ctx.Done():
			return
		case <-p.wake:
			continue
		case p.sem <- struct{}{}:
		}

		p.mu.Lock()
		if p.closed || p.paused || len(p.queue) == 0 {
			p.mu.Unlock()
			<-p.sem
			continue
		}
		j := p.queue[0]
		p.queue = p.queue[1:]
		p.jobs.Add(1)
		p.mu.Unlock()

		go p.run(j)
	}
}

func (p *Pool) run(j Job) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("job_id", j.ID).Interface("panic", r).Msg("worker job panicked")
		}
		<-p.sem
		p.jobs.Done()
		p.signal()
	}()
	j.Run(p.ctx)
}

// Shutdown stops admission and returns the jobs that never started. It waits
// for running jobs until ctx is done, then cancels their context and returns
// ctx.Err() without waiting further.
func (p *Pool) Shutdown(ctx context.Context) ([]Job, error) {
	p.mu.Lock()
	p.closed = true
	dropped := p.queue
	p.queue = nil
	p.mu.Unlock()
	p.signal()

	done := make(chan struct{})
	go func() {
		p.jobs.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.cancel()
		return dropped, nil
	case <-ctx.Done():
		p.cancel()
		return dropped, ctx.Err()
	}
}
