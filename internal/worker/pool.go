// Package worker runs webhook deliveries on a fixed-size pool. The queue is
// bounded; saturation is reported to the caller instead of growing goroutines.
package worker

import (
	"context"
	"errors"
	"log"
	"sync"
	"sync/atomic"
	"time"
)

var (
	// ErrQueueFull indicates the task queue is saturated.
	ErrQueueFull = errors.New("worker: queue full")
	// ErrStopped indicates the pool no longer accepts tasks.
	ErrStopped = errors.New("worker: pool stopped")
)

// Task is a unit of background work.
type Task func(ctx context.Context)

// Pool runs tasks on a fixed number of workers over a buffered queue.
type Pool struct {
	tasks    chan Task
	wg       sync.WaitGroup
	logger   *log.Logger
	stopped  atomic.Bool
	inflight atomic.Int64
	baseCtx  context.Context
	cancel   context.CancelFunc

	// mu serializes Submit's channel send against Shutdown's close so a
	// racing Submit cannot hit a closed channel.
	mu sync.RWMutex
}

// NewPool starts a pool with the given worker count and queue depth.
func NewPool(workers, queueDepth int, logger *log.Logger) *Pool {
	if workers <= 0 {
		workers = 4
	}
	if queueDepth <= 0 {
		queueDepth = 64
	}
	if logger == nil {
		logger = log.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		tasks:   make(chan Task, queueDepth),
		logger:  logger,
		baseCtx: ctx,
		cancel:  cancel,
	}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
	logger.Printf("[worker] started %d worker(s), queue_depth=%d", workers, queueDepth)
	return p
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()
	for task := range p.tasks {
		p.inflight.Add(1)
		p.run(id, task)
		p.inflight.Add(-1)
	}
}

func (p *Pool) run(id int, task Task) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Printf("[worker] worker-%d recovered from panic: %v", id, r)
		}
	}()
	task(p.baseCtx)
}

// Submit queues a task. It never blocks: a saturated queue returns
// ErrQueueFull so the caller can apply backpressure.
func (p *Pool) Submit(task Task) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.stopped.Load() {
		return ErrStopped
	}
	select {
	case p.tasks <- task:
		return nil
	default:
		return ErrQueueFull
	}
}

// Depth returns the number of queued tasks.
func (p *Pool) Depth() int { return len(p.tasks) }

// InFlight returns the number of tasks currently executing.
func (p *Pool) InFlight() int64 { return p.inflight.Load() }

// Shutdown stops accepting tasks and waits for queued and in-flight work to
// finish, up to the context deadline. Remaining tasks are abandoned after the
// deadline.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if p.stopped.Swap(true) {
		p.mu.Unlock()
		return nil
	}
	close(p.tasks)
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.cancel()
		return nil
	case <-ctx.Done():
		p.cancel()
		// give canceled tasks a moment to unwind
		select {
		case <-done:
		case <-time.After(time.Second):
		}
		return ctx.Err()
	}
}
