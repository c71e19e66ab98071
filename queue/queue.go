// Package queue runs moderation work on a bounded worker pool so that
// stream read loops never block on remote calls. Submission is
// non-blocking: when the backlog is full the task is dropped with a
// warning, never queued unboundedly.
package queue

import (
	"context"
	"log/slog"
	"sync"
)

// Task is one unit of background work. The error return exists so the
// pool can guarantee every failure gets logged; tasks should still handle
// their own domain-specific recovery.
type Task func(ctx context.Context) error

type submission struct {
	name string
	task Task
}

// Queue is a fixed-size worker pool over a bounded backlog.
type Queue struct {
	logger *slog.Logger
	tasks  chan submission

	mu     sync.RWMutex
	closed bool

	wg sync.WaitGroup
}

var (
	DefaultWorkers = 8
	DefaultBacklog = 1024
)

// New starts a pool of workers draining a backlog of the given depth.
// Tasks run with the provided context; cancelling it aborts in-flight
// tasks but the pool still drains the backlog on Close.
func New(ctx context.Context, workers, backlog int, logger *slog.Logger) *Queue {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	if backlog <= 0 {
		backlog = DefaultBacklog
	}
	if logger == nil {
		logger = slog.Default()
	}

	q := &Queue{
		logger: logger.With("system", "queue"),
		tasks:  make(chan submission, backlog),
	}
	for i := 0; i < workers; i++ {
		q.wg.Add(1)
		go q.worker(ctx)
	}
	return q
}

func (q *Queue) worker(ctx context.Context) {
	defer q.wg.Done()
	for sub := range q.tasks {
		backlogGauge.Set(float64(len(q.tasks)))
		if err := sub.task(ctx); err != nil {
			q.logger.Error("background task failed", "task", sub.name, "err", err)
			taskErrorCount.WithLabelValues(sub.name).Inc()
			continue
		}
		taskDoneCount.WithLabelValues(sub.name).Inc()
	}
}

// Submit enqueues a task without blocking. Returns false when the backlog
// is full or the queue is closed; the task is dropped in both cases.
func (q *Queue) Submit(name string, t Task) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		q.logger.Warn("task submitted after queue close, dropping", "task", name)
		taskDropCount.WithLabelValues(name, "closed").Inc()
		return false
	}

	select {
	case q.tasks <- submission{name: name, task: t}:
		backlogGauge.Set(float64(len(q.tasks)))
		return true
	default:
		q.logger.Warn("task backlog full, dropping", "task", name)
		taskDropCount.WithLabelValues(name, "full").Inc()
		return false
	}
}

// Close stops intake and blocks until every queued task has been drained.
// Safe to call more than once.
func (q *Queue) Close() {
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

// Len reports the current backlog depth.
func (q *Queue) Len() int {
	return len(q.tasks)
}
