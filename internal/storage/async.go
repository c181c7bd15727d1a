package storage

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/notekit/nbstore/internal/logging"
)

// bgTask is a best-effort side effect (activity append, access-stat bump).
// Failures are counted and logged, never surfaced to the primary caller.
type bgTask struct {
	name     string
	deadline time.Duration
	fn       func(ctx context.Context) error
}

// taskQueue runs best-effort work on a single background worker. Enqueue
// never blocks: when the queue is full the task is dropped, which is the
// correct degradation for stat bumps and activity appends.
type taskQueue struct {
	tasks  chan bgTask
	logger logging.Logger
	wg     sync.WaitGroup

	// mu orders channel sends against Close: senders hold the read side, so
	// the channel is never closed while a send is in flight.
	mu     sync.RWMutex
	closed bool

	failures atomic.Uint64
	dropped  atomic.Uint64
}

func newTaskQueue(logger logging.Logger, depth int) *taskQueue {
	if depth <= 0 {
		depth = 256
	}
	q := &taskQueue{
		tasks:  make(chan bgTask, depth),
		logger: logger,
	}
	q.wg.Add(1)
	go q.run()
	return q
}

func (q *taskQueue) run() {
	defer q.wg.Done()
	for t := range q.tasks {
		ctx, cancel := context.WithTimeout(context.Background(), t.deadline)
		if err := t.fn(ctx); err != nil {
			q.failures.Add(1)
			q.logger.Warn("background task failed", "task", t.name, "error", err)
		}
		cancel()
	}
}

// Enqueue schedules fn; returns false when the task was dropped
func (q *taskQueue) Enqueue(name string, deadline time.Duration, fn func(ctx context.Context) error) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return false
	}
	select {
	case q.tasks <- bgTask{name: name, deadline: deadline, fn: fn}:
		return true
	default:
		q.dropped.Add(1)
		q.logger.Debug("background queue full, task dropped", "task", name)
		return false
	}
}

// Flush blocks until every task enqueued before it has run
func (q *taskQueue) Flush() {
	done := make(chan struct{})
	q.mu.RLock()
	if q.closed {
		q.mu.RUnlock()
		return
	}
	q.tasks <- bgTask{name: "flush", deadline: time.Second, fn: func(context.Context) error {
		close(done)
		return nil
	}}
	q.mu.RUnlock()
	<-done
}

// Close stops accepting tasks and waits for in-flight work to drain
func (q *taskQueue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.tasks)
	q.mu.Unlock()
	q.wg.Wait()
}

// Failures reports how many background tasks have errored since startup
func (q *taskQueue) Failures() uint64 { return q.failures.Load() }
