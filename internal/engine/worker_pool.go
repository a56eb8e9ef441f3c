package engine

import (
	"context"
	"log/slog"
	"sync"
)

// workerPool is a fixed-size goroutine pool with a bounded input queue.
// Submit never blocks; a full queue is reported to the caller as back-pressure.
type workerPool[T any] struct {
	queue   chan T
	process func(ctx context.Context, t T)
	logger  *slog.Logger
	wg      sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// newWorkerPool creates and starts a pool with n goroutines and queue capacity depth.
// Workers run until Drain closes the queue; cancelling ctx does not drop
// queued tasks, and tasks receive ctx without its cancellation.
func newWorkerPool[T any](ctx context.Context, n, depth int, logger *slog.Logger, fn func(context.Context, T)) *workerPool[T] {
	if n < 1 {
		n = 1
	}
	if depth < 1 {
		depth = 1
	}
	p := &workerPool[T]{
		queue:   make(chan T, depth),
		process: fn,
		logger:  logger,
	}
	taskCtx := context.WithoutCancel(ctx)
	for i := 0; i < n; i++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			p.run(taskCtx)
		}()
	}
	return p
}

func (p *workerPool[T]) run(ctx context.Context) {
	for t := range p.queue {
		p.safeProcess(ctx, t)
	}
}

// safeProcess keeps a worker alive when one task panics.
func (p *workerPool[T]) safeProcess(ctx context.Context, t T) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("worker task panicked", "panic", r)
		}
	}()
	p.process(ctx, t)
}

// Submit enqueues a task without blocking (returns false if full or drained).
func (p *workerPool[T]) Submit(t T) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return false
	}
	select {
	case p.queue <- t:
		return true
	default:
		return false
	}
}

// Drain closes the queue and waits for all workers to finish queued work.
func (p *workerPool[T]) Drain() {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.queue)
	}
	p.mu.Unlock()
	p.wg.Wait()
}

// QueueLen returns how many tasks are currently queued.
func (p *workerPool[T]) QueueLen() int {
	return len(p.queue)
}

// QueueCap returns the total queue capacity.
func (p *workerPool[T]) QueueCap() int {
	return cap(p.queue)
}
