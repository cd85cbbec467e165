package execution

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/nidhogg/taskcrew/internal/task"
)

const (
	outputPreviewLen = 200
	recentLimit      = 5
)

// Tracker records lifecycle changes reported by external runners and builds
// execution reports. Every track method is idempotent: when the execution is
// not in the expected status the call is a logged no-op.
type Tracker struct {
	repo     task.Repository
	registry *Registry
	logger   *zap.Logger
	now      func() time.Time
}

// NewTracker creates a tracker. registry may be nil when no executor runs in
// this process.
func NewTracker(repo task.Repository, registry *Registry, logger *zap.Logger) *Tracker {
	if registry == nil {
		registry = NewRegistry()
	}
	return &Tracker{repo: repo, registry: registry, logger: logger, now: time.Now}
}

// TrackExecutionStart moves a pending execution to in-progress.
func (t *Tracker) TrackExecutionStart(ctx context.Context, id string) (bool, error) {
	e, err := t.repo.FindExecutionByID(ctx, id)
	if err != nil {
		return false, err
	}
	if e.Status != task.StatusPending {
		t.skip(e, "start")
		return false, nil
	}
	now := t.now()
	e.Status = task.StatusInProgress
	e.StartedAt = now
	e.AppendLog(now, task.LogInfo, "Execution started", nil)
	return true, t.repo.SaveExecution(ctx, e)
}

// TrackExecutionCompletion finishes an in-progress execution. success=false
// records it as failed.
func (t *Tracker) TrackExecutionCompletion(ctx context.Context, id, output string, success bool, metrics *task.Metrics) (bool, error) {
	e, err := t.repo.FindExecutionByID(ctx, id)
	if err != nil {
		return false, err
	}
	if e.Status != task.StatusInProgress {
		t.skip(e, "completion")
		return false, nil
	}
	to, level, msg := task.StatusCompleted, task.LogInfo, "Execution completed successfully"
	if !success {
		to, level, msg = task.StatusFailed, task.LogError, "Execution completed with failure"
	}
	now := t.now()
	if err := e.Finish(to, now); err != nil {
		return false, err
	}
	e.Output = output
	if metrics != nil {
		m := *metrics
		e.Metrics = &m
	}
	e.AppendLog(now, level, msg, map[string]any{"executionTime": *e.ExecutionTime})
	return true, t.repo.SaveExecution(ctx, e)
}

// TrackExecutionFailure fails a pending or in-progress execution.
func (t *Tracker) TrackExecutionFailure(ctx context.Context, id, reason string) (bool, error) {
	e, err := t.repo.FindExecutionByID(ctx, id)
	if err != nil {
		return false, err
	}
	if !e.Status.Active() {
		t.skip(e, "failure")
		return false, nil
	}
	now := t.now()
	if err := e.Finish(task.StatusFailed, now); err != nil {
		return false, err
	}
	e.Error = reason
	e.AppendLog(now, task.LogError, "Execution failed: "+reason, nil)
	return true, t.repo.SaveExecution(ctx, e)
}

func (t *Tracker) skip(e *task.Execution, what string) {
	t.logger.Info("ignoring tracking update",
		zap.String("execution", e.ID), zap.String("update", what), zap.String("status", string(e.Status)))
}

// AddExecutionLog appends a log entry. Entries for executions running in this
// process go through the registry so the executor's final write keeps them.
// Unknown executions are logged and ignored.
func (t *Tracker) AddExecutionLog(ctx context.Context, id string, level task.LogLevel, msg string, meta map[string]any) error {
	switch level {
	case task.LogDebug, task.LogInfo, task.LogWarn, task.LogError:
	default:
		return fmt.Errorf("%w: unknown log level %q", task.ErrValidation, level)
	}
	now := t.now()
	if active, ok := t.registry.Lookup(id); ok {
		active.Update(func(e *task.Execution) { e.AppendLog(now, level, msg, meta) })
		return nil
	}
	e, err := t.repo.FindExecutionByID(ctx, id)
	if task.IsNotFound(err) {
		t.logger.Warn("log for unknown execution dropped", zap.String("execution", id))
		return nil
	}
	if err != nil {
		return err
	}
	e.AppendLog(now, level, msg, meta)
	return t.repo.SaveExecution(ctx, e)
}

// Report is a detailed view of one execution.
type Report struct {
	ExecutionID     string                `json:"executionId"`
	TaskID          string                `json:"taskId"`
	TaskDescription string                `json:"taskDescription"`
	AgentID         string                `json:"agentId,omitempty"`
	CrewID          string                `json:"crewId,omitempty"`
	Status          task.Status           `json:"status"`
	StartedAt       time.Time             `json:"startedAt"`
	FinishedAt      *time.Time            `json:"finishedAt"`
	ExecutionTime   *int64                `json:"executionTime"`
	Attempts        int                   `json:"attempts"`
	Metrics         *task.Metrics         `json:"metrics"`
	Error           string                `json:"error,omitempty"`
	Input           map[string]any        `json:"input"`
	OutputPreview   *string               `json:"outputPreview"`
	Logs            int                   `json:"logs"`
	LogSummary      map[task.LogLevel]int `json:"logSummary"`
	Timestamp       time.Time             `json:"timestamp"`
}

// GenerateExecutionReport builds a Report. The owning task must still exist.
func (t *Tracker) GenerateExecutionReport(ctx context.Context, id string) (*Report, error) {
	e, err := t.repo.FindExecutionByID(ctx, id)
	if err != nil {
		return nil, err
	}
	tk, err := t.repo.FindByID(ctx, e.TaskID)
	if err != nil {
		return nil, err
	}

	summary := map[task.LogLevel]int{task.LogDebug: 0, task.LogInfo: 0, task.LogWarn: 0, task.LogError: 0}
	for _, l := range e.Logs {
		summary[l.Level]++
	}
	var preview *string
	if e.Output != "" {
		p := e.Output
		if r := []rune(p); len(r) > outputPreviewLen {
			p = string(r[:outputPreviewLen]) + "..."
		}
		preview = &p
	}
	return &Report{
		ExecutionID:     e.ID,
		TaskID:          e.TaskID,
		TaskDescription: tk.Description,
		AgentID:         e.AgentID,
		CrewID:          e.CrewID,
		Status:          e.Status,
		StartedAt:       e.StartedAt,
		FinishedAt:      e.FinishedAt,
		ExecutionTime:   e.ExecutionTime,
		Attempts:        e.Attempts,
		Metrics:         e.Metrics,
		Error:           e.Error,
		Input:           e.Input,
		OutputPreview:   preview,
		Logs:            len(e.Logs),
		LogSummary:      summary,
		Timestamp:       t.now(),
	}, nil
}

// Statistics aggregates the executions of one task.
type Statistics struct {
	Successful       int    `json:"successful"`
	Failed           int    `json:"failed"`
	Cancelled        int    `json:"cancelled"`
	InProgress       int    `json:"inProgress"`
	Pending          int    `json:"pending"`
	SuccessRate      string `json:"successRate"`
	AvgExecutionTime string `json:"avgExecutionTime"`
}

// RecentExecution is the short form used in summaries.
type RecentExecution struct {
	ID            string      `json:"id"`
	Status        task.Status `json:"status"`
	StartedAt     time.Time   `json:"startedAt"`
	FinishedAt    *time.Time  `json:"finishedAt"`
	ExecutionTime *int64      `json:"executionTime"`
	Attempts      int         `json:"attempts"`
}

// Summary is the execution overview of a task.
type Summary struct {
	TaskID           string            `json:"taskId"`
	TaskDescription  string            `json:"taskDescription,omitempty"`
	TotalExecutions  int               `json:"totalExecutions"`
	Message          string            `json:"message,omitempty"`
	Statistics       *Statistics       `json:"statistics,omitempty"`
	RecentExecutions []RecentExecution `json:"recentExecutions,omitempty"`
	Timestamp        time.Time         `json:"timestamp"`
}

// GenerateTaskExecutionSummary aggregates every execution of a task.
func (t *Tracker) GenerateTaskExecutionSummary(ctx context.Context, taskID string) (*Summary, error) {
	execs, err := t.repo.FindExecutions(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if len(execs) == 0 {
		return &Summary{TaskID: taskID, Message: "No executions found for this task", Timestamp: t.now()}, nil
	}
	tk, err := t.repo.FindByID(ctx, taskID)
	if err != nil {
		return nil, err
	}

	var stats Statistics
	var totalMs, timed int64
	for _, e := range execs {
		switch e.Status {
		case task.StatusCompleted:
			stats.Successful++
			if e.ExecutionTime != nil {
				totalMs += *e.ExecutionTime
				timed++
			}
		case task.StatusFailed:
			stats.Failed++
		case task.StatusCancelled:
			stats.Cancelled++
		case task.StatusInProgress:
			stats.InProgress++
		case task.StatusPending:
			stats.Pending++
		}
	}
	stats.SuccessRate = fmt.Sprintf("%.2f%%", float64(stats.Successful)/float64(len(execs))*100)
	stats.AvgExecutionTime = "N/A"
	if timed > 0 {
		stats.AvgExecutionTime = fmt.Sprintf("%.2fs", float64(totalMs)/float64(timed)/1000)
	}

	sorted := make([]*task.Execution, len(execs))
	copy(sorted, execs)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].StartedAt.After(sorted[j].StartedAt) })
	if len(sorted) > recentLimit {
		sorted = sorted[:recentLimit]
	}
	recent := make([]RecentExecution, len(sorted))
	for i, e := range sorted {
		recent[i] = RecentExecution{
			ID: e.ID, Status: e.Status, StartedAt: e.StartedAt,
			FinishedAt: e.FinishedAt, ExecutionTime: e.ExecutionTime, Attempts: e.Attempts,
		}
	}

	return &Summary{
		TaskID:           taskID,
		TaskDescription:  tk.Description,
		TotalExecutions:  len(execs),
		Statistics:       &stats,
		RecentExecutions: recent,
		Timestamp:        t.now(),
	}, nil
}
