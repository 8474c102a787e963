package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// ErrPoolShutdown is returned when work is submitted to a shut-down pool.
var ErrPoolShutdown = errors.New("worker pool is shut down")

// WorkerPool is a bounded goroutine pool for concurrent step dispatch. A
// step's blocking I/O occupies only its own slot, so independent steps keep
// flowing. Step failures are the engine's business; the pool only tracks
// panics, which count as a defect in the submitted task.
type WorkerPool struct {
	sem    chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
	done   chan struct{}
	closed bool

	active    int64
	completed int64
	panics    int64
}

// NewWorkerPool creates a pool with the given max concurrency.
func NewWorkerPool(size int) *WorkerPool {
	if size <= 0 {
		size = 1
	}
	return &WorkerPool{
		sem:  make(chan struct{}, size),
		done: make(chan struct{}),
	}
}

// Submit enqueues work into the pool. It blocks while the pool is at capacity
// (backpressure) and respects context cancellation while waiting. Returns
// ErrPoolShutdown if the pool has been shut down.
func (p *WorkerPool) Submit(ctx context.Context, task func(ctx context.Context)) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrPoolShutdown
	}
	p.mu.Unlock()

	select {
	case p.sem <- struct{}{}:
		// Slot acquired.
	case <-ctx.Done():
		return ctx.Err()
	case <-p.done:
		return ErrPoolShutdown
	}

	// Re-check closed after acquiring the slot, in case Shutdown raced.
	// wg.Add(1) MUST happen inside the lock to prevent a race with
	// Shutdown's wg.Wait().
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		<-p.sem // release slot
		return ErrPoolShutdown
	}
	p.wg.Add(1)
	atomic.AddInt64(&p.active, 1)
	p.mu.Unlock()

	go func() {
		defer func() {
			if r := recover(); r != nil {
				atomic.AddInt64(&p.panics, 1)
			}
			atomic.AddInt64(&p.active, -1)
			atomic.AddInt64(&p.completed, 1)
			<-p.sem // release slot
			p.wg.Done()
		}()
		task(ctx)
	}()

	return nil
}

// Wait blocks until all submitted work completes.
func (p *WorkerPool) Wait() {
	p.wg.Wait()
}

// Shutdown gracefully stops the pool: no new submissions, waits for all
// active work to complete.
func (p *WorkerPool) Shutdown() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.done)
	p.mu.Unlock()

	p.wg.Wait()
}

// Active returns the number of tasks currently running.
func (p *WorkerPool) Active() int64 { return atomic.LoadInt64(&p.active) }

// Completed returns the number of tasks that have finished (panics included).
func (p *WorkerPool) Completed() int64 { return atomic.LoadInt64(&p.completed) }

// Panics returns the number of tasks that panicked.
func (p *WorkerPool) Panics() int64 { return atomic.LoadInt64(&p.panics) }
