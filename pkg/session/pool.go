package session

import (
	"context"
	"errors"
	"sync"

	"parley/pkg/logger"
)

// ErrPoolClosed is returned by Do once Close has run.
var ErrPoolClosed = errors.New("worker pool closed")

// Pool is the offload boundary between connection loops and the store.
// Store transactions block on disk and on the single-writer lock, so they
// run on a fixed set of workers fed by a bounded queue instead of on the
// goroutine that also pumps a socket. A session blocks on its own request
// until the transaction ran, which preserves per-connection arrival order
// while one slow transaction only delays connections whose requests are
// behind it in the queue.
type Pool struct {
	tasks chan task
	wg    sync.WaitGroup

	// mu orders enqueues against Close so a late Do fails with
	// ErrPoolClosed instead of sending on a closed channel.
	mu     sync.RWMutex
	closed bool

	closeOnce sync.Once
}

type task struct {
	fn   func()
	done chan struct{}
}

// NewPool starts workers goroutines over a queue of the given depth.
func NewPool(workers, depth int) *Pool {
	if workers <= 0 {
		workers = 4
	}
	if depth <= 0 {
		depth = 64
	}
	p := &Pool{tasks: make(chan task, depth)}
	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.worker()
	}
	logger.Info("store_pool_started", "workers", workers, "depth", depth)
	return p
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for t := range p.tasks {
		t.fn()
		close(t.done)
	}
}

// Do runs fn on a pool worker and blocks until it completed. The context
// only guards the enqueue: once a transaction is running it is never
// cancelled mid-flight, so after a successful enqueue Do always waits for
// completion.
func (p *Pool) Do(ctx context.Context, fn func()) error {
	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return ErrPoolClosed
	}
	t := task{fn: fn, done: make(chan struct{})}
	select {
	case p.tasks <- t:
	case <-ctx.Done():
		p.mu.RUnlock()
		return ctx.Err()
	}
	p.mu.RUnlock()
	<-t.done
	return nil
}

// Close stops accepting work and waits for in-flight tasks to finish.
// Later Do calls fail with ErrPoolClosed.
func (p *Pool) Close() {
	p.closeOnce.Do(func() {
		p.mu.Lock()
		p.closed = true
		close(p.tasks)
		p.mu.Unlock()
		p.wg.Wait()
	})
}
