package worker

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoolAdmitsInFIFOOrder(t *testing.T) {
	p := NewPool(1)
	var mu sync.Mutex
	var order []string
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		id := fmt.Sprintf("job-%d", i)
		wg.Add(1)
		p.Submit(Job{ID: id, Run: func(context.Context) {
			defer wg.Done()
			mu.Lock()
			order = append(order, id)
			mu.Unlock()
			time.Sleep(5 * time.Millisecond)
		}})
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)
	wg.Wait()

	assert.Equal(t, []string{"job-0", "job-1", "job-2", "job-3", "job-4"}, order)
}

func TestPoolRespectsCeiling(t *testing.T) {
	p := NewPool(2)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	var active, peak int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		p.Submit(Job{ID: fmt.Sprint(i), Run: func(context.Context) {
			defer wg.Done()
			n := atomic.AddInt32(&active, 1)
			for {
				old := atomic.LoadInt32(&peak)
				if n <= old || atomic.CompareAndSwapInt32(&peak, old, n) {
					break
				}
			}
			time.Sleep(10 * time.Millisecond)
			atomic.AddInt32(&active, -1)
		}})
	}
	wg.Wait()
	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(2))
}

func TestPoolPauseHoldsQueue(t *testing.T) {
	p := NewPool(1)
	p.Pause()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	ran := make(chan struct{})
	p.Submit(Job{ID: "held", Run: func(context.Context) { close(ran) }})

	select {
	case <-ran:
		t.Fatal("job ran while paused")
	case <-time.After(50 * time.Millisecond):
	}
	assert.Equal(t, 1, p.Pending())

	p.Resume()
	select {
	case <-ran:
	case <-time.After(time.Second):
		t.Fatal("job did not run after resume")
	}
}

func TestPoolShutdownDropsQueuedAndWaits(t *testing.T) {
	p := NewPool(1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	started := make(chan struct{})
	var finished atomic.Bool
	p.Submit(Job{ID: "slow", Run: func(context.Context) {
		close(started)
		time.Sleep(30 * time.Millisecond)
		finished.Store(true)
	}})
	<-started
	p.Submit(Job{ID: "queued", Run: func(context.Context) { t.Error("queued job must not run") }})

	sctx, scancel := context.WithTimeout(context.Background(), time.Second)
	defer scancel()
	dropped, err := p.Shutdown(sctx)
	require.NoError(t, err)
	assert.True(t, finished.Load())
	require.Len(t, dropped, 1)
	assert.Equal(t, "queued", dropped[0].ID)
	assert.False(t, p.Submit(Job{ID: "late", Run: func(context.Context) {}}))
}

func TestPoolShutdownCancelsStragglers(t *testing.T) {
	p := NewPool(1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	started := make(chan struct{})
	observed := make(chan struct{})
	p.Submit(Job{ID: "stuck", Run: func(jctx context.Context) {
		close(started)
		<-jctx.Done()
		close(observed)
	}})
	<-started

	sctx, scancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer scancel()
	_, err := p.Shutdown(sctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	select {
	case <-observed:
	case <-time.After(time.Second):
		t.Fatal("job context was not cancelled")
	}
}
