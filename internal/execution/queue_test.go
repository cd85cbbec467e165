package execution

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestRetryQueueRunsJobs(t *testing.T) {
	q := NewRetryQueue(8, 2, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())

	var mu sync.Mutex
	seen := map[string]bool{}
	var wg sync.WaitGroup
	wg.Add(3)
	stopped := make(chan struct{})
	go func() {
		_ = q.Run(ctx, func(_ context.Context, job RetryJob) error {
			mu.Lock()
			seen[job.ExecutionID] = true
			mu.Unlock()
			wg.Done()
			return nil
		})
		close(stopped)
	}()

	for _, id := range []string{"exec-1", "exec-2", "exec-3"} {
		if err := q.Enqueue(context.Background(), RetryJob{ExecutionID: id}); err != nil {
			t.Fatal(err)
		}
	}

	waited := make(chan struct{})
	go func() { wg.Wait(); close(waited) }()
	select {
	case <-waited:
	case <-time.After(2 * time.Second):
		t.Fatal("jobs not processed")
	}
	cancel()
	<-stopped

	if len(seen) != 3 {
		t.Fatalf("seen = %v", seen)
	}
	if err := q.Enqueue(context.Background(), RetryJob{ExecutionID: "late"}); !errors.Is(err, ErrQueueClosed) {
		t.Fatalf("enqueue after stop: %v", err)
	}
}

func TestRetryQueueEnqueueHonoursContext(t *testing.T) {
	q := NewRetryQueue(1, 1, zap.NewNop())
	if err := q.Enqueue(context.Background(), RetryJob{ExecutionID: "a"}); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := q.Enqueue(ctx, RetryJob{ExecutionID: "b"}); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v", err)
	}
	if q.Pending() != 1 {
		t.Fatalf("pending = %d", q.Pending())
	}
}

func TestRetryQueueShutdownLeavesWaitingJobs(t *testing.T) {
	q := NewRetryQueue(4, 1, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())

	started := make(chan struct{})
	release := make(chan struct{})
	var mu sync.Mutex
	var handled []string
	stopped := make(chan struct{})
	go func() {
		_ = q.Run(ctx, func(_ context.Context, job RetryJob) error {
			mu.Lock()
			handled = append(handled, job.ExecutionID)
			mu.Unlock()
			if job.ExecutionID == "exec-a" {
				close(started)
				<-release
			}
			return nil
		})
		close(stopped)
	}()

	if err := q.Enqueue(context.Background(), RetryJob{ExecutionID: "exec-a"}); err != nil {
		t.Fatal(err)
	}
	<-started
	if err := q.Enqueue(context.Background(), RetryJob{ExecutionID: "exec-b"}); err != nil {
		t.Fatal(err)
	}

	cancel()
	close(release)
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(handled) != 1 || handled[0] != "exec-a" {
		t.Fatalf("handled = %v", handled)
	}
}
