package queue

import (
	"context"
	"errors"
	"expvar"
	"sync"
)

// Executor runs units of work asynchronously.
// Units submitted to the same Executor are started in submission order.
type Executor interface {
	Submit(work func()) error
}

// Errors
var (
	ErrShutdown = errors.New("queue has been shutdown")
)

var pendingWork = expvar.NewInt("gauge_queue_pending_work")

// Queue is a worker queue with a fixed amount of workers.
// Submit never blocks; with a single worker, units run strictly one after another.
type Queue struct {
	ctx     context.Context
	workers int

	mu       sync.Mutex
	cond     *sync.Cond
	pending  []func()
	shutdown bool
}

// New creates a new Queue with the specified amount of workers
func New(ctx context.Context, workers int) *Queue {
	if workers < 1 {
		workers = 1
	}

	q := &Queue{
		ctx:     ctx,
		workers: workers,
	}
	q.cond = sync.NewCond(&q.mu)

	return q
}

// Run starts the workers and blocks until the context is cancelled.
// Work that was already submitted is still run before the workers exit.
func (q *Queue) Run() {
	var wg sync.WaitGroup
	wg.Add(q.workers)
	for i := 0; i < q.workers; i++ {
		go func() {
			defer wg.Done()
			q.worker()
		}()
	}

	<-q.ctx.Done()

	q.mu.Lock()
	q.shutdown = true
	q.cond.Broadcast()
	q.mu.Unlock()

	wg.Wait()
}

func (q *Queue) worker() {
	for {
		work, ok := q.next()
		if !ok {
			return
		}

		pendingWork.Add(-1)
		work()
	}
}

func (q *Queue) next() (func(), bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.pending) == 0 {
		if q.shutdown {
			return nil, false
		}

		q.cond.Wait()
	}

	work := q.pending[0]
	q.pending[0] = nil
	q.pending = q.pending[1:]

	return work, true
}

// Submit adds a unit of work to the queue without waiting for it to run
func (q *Queue) Submit(work func()) error {
	if q.ctx.Err() != nil {
		return ErrShutdown
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.shutdown {
		return ErrShutdown
	}

	q.pending = append(q.pending, work)
	pendingWork.Add(1)
	q.cond.Signal()

	return nil
}

var (
	shared     *Queue
	sharedOnce sync.Once
)

// Shared returns the process-wide fallback queue.
// It is created on first use, runs a single worker and is never shut down.
func Shared() *Queue {
	sharedOnce.Do(func() {
		shared = New(context.Background(), 1)
		go shared.Run()
	})

	return shared
}
