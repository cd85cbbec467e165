package execution

import (
	"context"

	"go.uber.org/zap"

	"github.com/nidhogg/taskcrew/internal/events"
	"github.com/nidhogg/taskcrew/internal/task"
)

// DefaultMaxAttempts caps automatic retries.
const DefaultMaxAttempts = 3

// AutoRetry reacts to failed-execution events. Events flagged with
// autoRetry are retried while the execution has attempts left.
type AutoRetry struct {
	tracker     *Tracker
	executor    *Executor
	enabled     bool
	maxAttempts int
	logger      *zap.Logger
}

// NewAutoRetry creates the failure handler.
func NewAutoRetry(tracker *Tracker, executor *Executor, enabled bool, maxAttempts int, logger *zap.Logger) *AutoRetry {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return &AutoRetry{tracker: tracker, executor: executor, enabled: enabled, maxAttempts: maxAttempts, logger: logger}
}

// HandleFailed records the failure and schedules a retry when allowed.
func (a *AutoRetry) HandleFailed(ctx context.Context, evt events.Event) error {
	if evt.Type != events.ExecutionFailed || evt.ExecutionID == "" {
		return nil
	}
	if _, err := a.tracker.TrackExecutionFailure(ctx, evt.ExecutionID, evt.Error); err != nil {
		return err
	}
	if !evt.AutoRetry || !a.enabled {
		return nil
	}

	e, err := a.tracker.repo.FindExecutionByID(ctx, evt.ExecutionID)
	if err != nil {
		return err
	}
	if e.Attempts >= a.maxAttempts {
		a.logger.Info("auto retry exhausted",
			zap.String("execution", e.ID), zap.Int("attempts", e.Attempts))
		return nil
	}
	if !e.Status.Retryable() {
		return nil
	}
	retry, err := a.executor.RetryExecution(ctx, e.ID)
	if err != nil {
		return err
	}
	a.logger.Info("auto retry scheduled",
		zap.String("execution", e.ID), zap.String("retry", retry.ID), zap.Int("attempt", retry.Attempts))
	return nil
}

// Run consumes events from src until ctx is done.
func (a *AutoRetry) Run(ctx context.Context, src events.Source) {
	for evt := range src.Subscribe(ctx) {
		if evt.Type != events.ExecutionFailed {
			continue
		}
		if err := a.HandleFailed(ctx, evt); err != nil && !task.IsNotFound(err) {
			a.logger.Warn("auto retry handling failed", zap.String("execution", evt.ExecutionID), zap.Error(err))
		}
	}
}
