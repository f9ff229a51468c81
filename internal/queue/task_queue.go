// Package queue carries sync work off the request and polling paths: a Redis list for
// logical transfers awaiting reconciliation and an in-process queue for background tasks.
package queue

import (
	"context"
	"sync"

	"github.com/nft-syncer/internal/logging"
	"github.com/nft-syncer/internal/metrics"
)

// Task is a unit of background work
type Task func(ctx context.Context)

// TaskQueue runs submitted tasks on a fixed worker pool. Submissions never block: when the
// buffer is full the task is dropped with a warning. Nothing guarantees a task has run
// by the time Submit returns.
type TaskQueue struct {
	name    string
	tasks   chan Task
	workers int

	mu      sync.RWMutex
	started bool
	closed  bool
	wg      sync.WaitGroup
	log     *logging.Logger
}

// NewTaskQueue creates a queue with a buffer of size and the given number of workers
func NewTaskQueue(name string, size, workers int) *TaskQueue {
	if size <= 0 {
		size = 1024
	}
	if workers <= 0 {
		workers = 2
	}
	return &TaskQueue{
		name:    name,
		tasks:   make(chan Task, size),
		workers: workers,
		log:     logging.Component("queue").WithField("queue", name),
	}
}

// Start launches the workers. Tasks run with ctx until Stop drains the queue.
func (q *TaskQueue) Start(ctx context.Context) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.started || q.closed {
		return
	}
	q.started = true

	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.work(ctx)
	}
	q.log.WithField("workers", q.workers).Info("Task queue started")
}

func (q *TaskQueue) work(ctx context.Context) {
	defer q.wg.Done()
	for task := range q.tasks {
		q.run(ctx, task)
	}
}

func (q *TaskQueue) run(ctx context.Context, task Task) {
	defer func() {
		if r := recover(); r != nil {
			q.log.WithField("panic", r).Error("Background task panicked")
		}
	}()
	task(ctx)
}

// Submit enqueues task and reports whether it was accepted
func (q *TaskQueue) Submit(task Task) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return false
	}
	select {
	case q.tasks <- task:
		return true
	default:
		metrics.QueueDropped(q.name)
		q.log.Warn("Task queue full, dropping task")
		return false
	}
}

// Len returns the number of tasks waiting for a worker
func (q *TaskQueue) Len() int {
	return len(q.tasks)
}

// Stop refuses new tasks and waits for the workers to drain the buffer
func (q *TaskQueue) Stop() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.tasks)
	q.mu.Unlock()

	q.wg.Wait()
	q.log.Info("Task queue stopped")
}
