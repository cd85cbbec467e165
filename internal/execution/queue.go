package execution

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"
)

// ErrQueueClosed is returned by Enqueue after the workers stopped.
var ErrQueueClosed = errors.New("retry queue closed")

// RetryJob asks a worker to run a pending retry execution.
type RetryJob struct {
	ExecutionID string `json:"executionId"`
}

// RetryHandler runs one job.
type RetryHandler func(ctx context.Context, job RetryJob) error

// RetryQueue is a bounded producer/consumer queue drained by a fixed-size
// worker pool.
type RetryQueue struct {
	jobs    chan RetryJob
	pool    chan struct{}
	stopped chan struct{}
	once    sync.Once
	logger  *zap.Logger
}

// NewRetryQueue creates a queue holding up to size jobs, processed by
// workers goroutines at a time.
func NewRetryQueue(size, workers int, logger *zap.Logger) *RetryQueue {
	if size <= 0 {
		size = 64
	}
	if workers <= 0 {
		workers = 4
	}
	return &RetryQueue{
		jobs:    make(chan RetryJob, size),
		pool:    make(chan struct{}, workers),
		stopped: make(chan struct{}),
		logger:  logger,
	}
}

// Enqueue blocks until the job is accepted, ctx is done or the queue stops.
func (q *RetryQueue) Enqueue(ctx context.Context, job RetryJob) error {
	select {
	case <-q.stopped:
		return ErrQueueClosed
	default:
	}
	select {
	case q.jobs <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-q.stopped:
		return ErrQueueClosed
	}
}

// Pending returns the number of jobs waiting for a worker.
func (q *RetryQueue) Pending() int { return len(q.jobs) }

// Run dispatches jobs to handle until ctx is cancelled, then waits for
// in-flight jobs. Jobs not started by then stay pending in the repository
// and are picked up again by Executor.ResumePending.
func (q *RetryQueue) Run(ctx context.Context, handle RetryHandler) error {
	var wg sync.WaitGroup
	defer func() {
		q.once.Do(func() { close(q.stopped) })
		wg.Wait()
		if n := len(q.jobs); n > 0 {
			q.logger.Warn("retry queue stopped with jobs left", zap.Int("pending", n))
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case job := <-q.jobs:
			if !q.acquire(ctx) {
				q.logger.Warn("retry queue stopping, job left pending", zap.String("execution", job.ExecutionID))
				return nil
			}
			wg.Add(1)
			go func(job RetryJob) {
				defer wg.Done()
				defer func() { <-q.pool }() // release slot
				if err := handle(ctx, job); err != nil {
					q.logger.Error("retry job failed", zap.String("execution", job.ExecutionID), zap.Error(err))
				}
			}(job)
		}
	}
}

// acquire takes a worker slot. It fails once ctx is done, even when a slot
// was free.
func (q *RetryQueue) acquire(ctx context.Context) bool {
	select {
	case q.pool <- struct{}{}:
	case <-ctx.Done():
		return false
	}
	if ctx.Err() != nil {
		<-q.pool
		return false
	}
	return true
}
