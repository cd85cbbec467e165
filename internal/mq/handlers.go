// Package mq exposes task commands, queries and lifecycle events over NATS.
package mq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/nidhogg/taskcrew/internal/events"
	"github.com/nidhogg/taskcrew/internal/execution"
	"github.com/nidhogg/taskcrew/internal/task"
)

// Command names, delivered through JetStream.
const (
	CmdCreateTask       = "create_task"
	CmdBatchCreateTasks = "batch_create_tasks"
	CmdUpdateTask       = "update_task"
	CmdDeleteTask       = "delete_task"
	CmdExecuteTask      = "execute_task"
	CmdCancelExecution  = "cancel_execution"
	CmdRetryExecution   = "retry_execution"
)

// Query names, answered with core request/reply.
const (
	QueryGetTask                 = "get_task"
	QueryFindTasks               = "find_tasks"
	QueryGetTaskExecution        = "get_task_execution"
	QueryGetTaskExecutions       = "get_task_executions"
	QueryGetExecutionReport      = "get_execution_report"
	QueryGetTaskExecutionSummary = "get_task_execution_summary"
	QueryAnalyzeTask             = "analyze_task"
)

// Reply is the envelope returned for every command and query. Payload
// fields are merged next to success, e.g. {"success":true,"taskId":"..."}.
type Reply map[string]any

func ok(kv ...any) Reply {
	r := Reply{"success": true}
	for i := 0; i+1 < len(kv); i += 2 {
		r[kv[i].(string)] = kv[i+1]
	}
	return r
}

// Failure builds the error reply.
func Failure(err error) Reply {
	return Reply{"success": false, "error": err.Error()}
}

// ErrUnknownSubject is returned for a command or query name nobody handles.
var ErrUnknownSubject = errors.New("unknown subject")

type taskRef struct {
	TaskID string `json:"taskId" validate:"required"`
}

type executionRef struct {
	ExecutionID string `json:"executionId" validate:"required"`
}

type updateTaskRequest struct {
	TaskID  string      `json:"taskId" validate:"required"`
	Updates task.Update `json:"updates"`
}

type batchCreateRequest struct {
	Tasks []task.CreateTask `json:"tasks" validate:"required,min=1"`
}

type findTasksRequest struct {
	Filters task.Filter `json:"filters"`
}

type analyzeRequest struct {
	Description string         `json:"description" validate:"required"`
	Context     map[string]any `json:"context,omitempty"`
}

// Handlers maps message payloads onto the task services. They know
// nothing about NATS so they can be driven directly.
type Handlers struct {
	tasks     *task.Service
	executor  *execution.Executor
	tracker   *execution.Tracker
	autoRetry *execution.AutoRetry
	validate  *validator.Validate
	logger    *zap.Logger
}

// NewHandlers creates the handler set. autoRetry may be nil, in which case
// failed events are only tracked.
func NewHandlers(tasks *task.Service, executor *execution.Executor, tracker *execution.Tracker, autoRetry *execution.AutoRetry, logger *zap.Logger) *Handlers {
	return &Handlers{
		tasks:     tasks,
		executor:  executor,
		tracker:   tracker,
		autoRetry: autoRetry,
		validate:  validator.New(validator.WithRequiredStructEnabled()),
		logger:    logger,
	}
}

func (h *Handlers) decode(data []byte, v any) error {
	if len(data) > 0 {
		if err := json.Unmarshal(data, v); err != nil {
			return fmt.Errorf("%w: invalid payload: %w", task.ErrValidation, err)
		}
	}
	if err := h.validate.Struct(v); err != nil {
		return fmt.Errorf("%w: %v", task.ErrValidation, err)
	}
	return nil
}

// Command runs a state-changing command.
func (h *Handlers) Command(ctx context.Context, name string, data []byte) (Reply, error) {
	h.logger.Debug("command received", zap.String("command", name), zap.Int("bytes", len(data)))
	switch name {
	case CmdCreateTask:
		var in task.CreateTask
		if err := h.decode(data, &in); err != nil {
			return nil, err
		}
		t, err := h.tasks.Create(ctx, in)
		if err != nil {
			return nil, err
		}
		return ok("taskId", t.ID), nil

	case CmdBatchCreateTasks:
		var req batchCreateRequest
		if err := h.decode(data, &req); err != nil {
			return nil, err
		}
		res := h.tasks.BatchCreate(ctx, req.Tasks)
		return ok("taskIds", res.Success, "failed", res.Failed), nil

	case CmdUpdateTask:
		var req updateTaskRequest
		if err := h.decode(data, &req); err != nil {
			return nil, err
		}
		if _, err := h.tasks.Update(ctx, req.TaskID, req.Updates); err != nil {
			return nil, err
		}
		return ok(), nil

	case CmdDeleteTask:
		var ref taskRef
		if err := h.decode(data, &ref); err != nil {
			return nil, err
		}
		if err := h.tasks.Delete(ctx, ref.TaskID); err != nil {
			return nil, err
		}
		return ok(), nil

	case CmdExecuteTask:
		var req execution.Request
		if err := h.decode(data, &req); err != nil {
			return nil, err
		}
		if req.AgentID != "" && req.CrewID != "" {
			return nil, fmt.Errorf("%w: agentId and crewId are mutually exclusive", task.ErrValidation)
		}
		res, err := h.executor.Execute(ctx, req)
		if err != nil {
			return nil, err
		}
		return ok("result", res), nil

	case CmdCancelExecution:
		var ref executionRef
		if err := h.decode(data, &ref); err != nil {
			return nil, err
		}
		if _, err := h.executor.CancelExecution(ctx, ref.ExecutionID); err != nil {
			return nil, err
		}
		return ok(), nil

	case CmdRetryExecution:
		var ref executionRef
		if err := h.decode(data, &ref); err != nil {
			return nil, err
		}
		e, err := h.executor.RetryExecution(ctx, ref.ExecutionID)
		if err != nil {
			return nil, err
		}
		return ok("executionId", e.ID), nil
	}
	return nil, fmt.Errorf("%w: command %s", ErrUnknownSubject, name)
}

// Query answers a read-only request.
func (h *Handlers) Query(ctx context.Context, name string, data []byte) (Reply, error) {
	switch name {
	case QueryGetTask:
		var ref taskRef
		if err := h.decode(data, &ref); err != nil {
			return nil, err
		}
		t, err := h.tasks.Get(ctx, ref.TaskID)
		if err != nil {
			return nil, err
		}
		return ok("task", t), nil

	case QueryFindTasks:
		var req findTasksRequest
		if err := h.decode(data, &req); err != nil {
			return nil, err
		}
		tasks, err := h.tasks.List(ctx, req.Filters)
		if err != nil {
			return nil, err
		}
		return ok("tasks", tasks), nil

	case QueryGetTaskExecution:
		var ref executionRef
		if err := h.decode(data, &ref); err != nil {
			return nil, err
		}
		e, err := h.tasks.Execution(ctx, ref.ExecutionID)
		if err != nil {
			return nil, err
		}
		return ok("execution", e), nil

	case QueryGetTaskExecutions:
		var ref taskRef
		if err := h.decode(data, &ref); err != nil {
			return nil, err
		}
		execs, err := h.tasks.Executions(ctx, ref.TaskID)
		if err != nil {
			return nil, err
		}
		return ok("executions", execs), nil

	case QueryGetExecutionReport:
		var ref executionRef
		if err := h.decode(data, &ref); err != nil {
			return nil, err
		}
		rep, err := h.tracker.GenerateExecutionReport(ctx, ref.ExecutionID)
		if err != nil {
			return nil, err
		}
		return ok("report", rep), nil

	case QueryGetTaskExecutionSummary:
		var ref taskRef
		if err := h.decode(data, &ref); err != nil {
			return nil, err
		}
		sum, err := h.tracker.GenerateTaskExecutionSummary(ctx, ref.TaskID)
		if err != nil {
			return nil, err
		}
		return ok("summary", sum), nil

	case QueryAnalyzeTask:
		var req analyzeRequest
		if err := h.decode(data, &req); err != nil {
			return nil, err
		}
		a, err := h.tasks.Analyze(ctx, req.Description, req.Context)
		if err != nil {
			return nil, err
		}
		return ok("analysis", a), nil
	}
	return nil, fmt.Errorf("%w: query %s", ErrUnknownSubject, name)
}

// Event applies a lifecycle event published by an executor, local or remote.
func (h *Handlers) Event(ctx context.Context, evt events.Event) error {
	switch evt.Type {
	case events.TaskCreated:
		h.logger.Info("task created event", zap.String("task", evt.TaskID))
		return nil
	case events.ExecutionStarted:
		_, err := h.tracker.TrackExecutionStart(ctx, evt.ExecutionID)
		return err
	case events.ExecutionCompleted:
		_, err := h.tracker.TrackExecutionCompletion(ctx, evt.ExecutionID, evt.Output, evt.Success, metricsFrom(evt.Data))
		return err
	case events.ExecutionFailed:
		if h.autoRetry != nil {
			return h.autoRetry.HandleFailed(ctx, evt)
		}
		_, err := h.tracker.TrackExecutionFailure(ctx, evt.ExecutionID, evt.Error)
		return err
	}
	return nil
}

// metricsFrom reads the optional "metrics" entry of an event's data.
func metricsFrom(data map[string]any) *task.Metrics {
	raw, found := data["metrics"]
	if !found {
		return nil
	}
	b, err := json.Marshal(raw)
	if err != nil {
		return nil
	}
	var m task.Metrics
	if err := json.Unmarshal(b, &m); err != nil {
		return nil
	}
	return &m
}
