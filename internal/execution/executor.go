package execution

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/nidhogg/taskcrew/internal/events"
	"github.com/nidhogg/taskcrew/internal/prompt"
	"github.com/nidhogg/taskcrew/internal/provider"
	"github.com/nidhogg/taskcrew/internal/task"
)

// Generator is the text generation capability the executor needs.
type Generator interface {
	GenerateText(ctx context.Context, prompt string, opts provider.GenerateOptions) (*provider.Generation, error)
}

// Scheduler accepts retry jobs for asynchronous processing.
type Scheduler interface {
	Enqueue(ctx context.Context, job RetryJob) error
}

// Options tune an Executor.
type Options struct {
	DefaultTemperature float64
}

// Request describes one task execution.
type Request struct {
	TaskID      string         `json:"taskId" validate:"required"`
	AgentID     string         `json:"agentId,omitempty"`
	CrewID      string         `json:"crewId,omitempty"`
	Input       map[string]any `json:"input,omitempty"`
	ModelName   string         `json:"modelName,omitempty"`
	Temperature *float64       `json:"temperature,omitempty" validate:"omitempty,gte=0,lte=2"`
	SessionID   string         `json:"sessionId,omitempty"`
	SaveHistory *bool          `json:"saveHistory,omitempty"`
}

// Result is returned by a successful Execute.
type Result struct {
	TaskID        string         `json:"taskId"`
	ExecutionID   string         `json:"executionId"`
	Output        string         `json:"output"`
	Success       bool           `json:"success"`
	ExecutionTime int64          `json:"executionTime"`
	Metadata      map[string]any `json:"metadata"`
}

// Executor runs tasks against the text generator and owns the execution
// lifecycle: start, terminal transition, cancel and retry.
type Executor struct {
	repo        task.Repository
	gen         Generator
	registry    *Registry
	scheduler   Scheduler
	publisher   events.Publisher
	logger      *zap.Logger
	now         func() time.Time
	temperature float64
}

// NewExecutor wires an executor. A nil publisher discards events.
func NewExecutor(repo task.Repository, gen Generator, registry *Registry, scheduler Scheduler,
	pub events.Publisher, logger *zap.Logger, opts Options) *Executor {
	if pub == nil {
		pub = events.Discard
	}
	if opts.DefaultTemperature <= 0 {
		opts.DefaultTemperature = provider.DefaultTemperature
	}
	return &Executor{
		repo:        repo,
		gen:         gen,
		registry:    registry,
		scheduler:   scheduler,
		publisher:   pub,
		logger:      logger,
		now:         time.Now,
		temperature: opts.DefaultTemperature,
	}
}

type runOptions struct {
	model       string
	temperature float64
	persist     bool
}

// Execute runs a task synchronously and returns its output. Provider errors
// are recorded on the execution and returned wrapped in task.ErrProviderFailure.
func (x *Executor) Execute(ctx context.Context, req Request) (*Result, error) {
	if req.TaskID == "" {
		return nil, fmt.Errorf("%w: taskId is required", task.ErrValidation)
	}
	t, err := x.repo.FindByID(ctx, req.TaskID)
	if err != nil {
		return nil, err
	}
	if req.AgentID == "" && req.CrewID == "" {
		req.AgentID, req.CrewID = t.AssignedAgentID, t.AssignedCrewID
	}

	now := x.now()
	e := &task.Execution{
		ID:        task.NewExecutionID(),
		TaskID:    t.ID,
		AgentID:   req.AgentID,
		CrewID:    req.CrewID,
		SessionID: req.SessionID,
		Model:     req.ModelName,
		Input:     req.Input,
		Status:    task.StatusInProgress,
		StartedAt: now,
		Attempts:  1,
	}
	e.AppendLog(now, task.LogInfo, "Execution started for task: "+t.Description, nil)

	opts := runOptions{model: req.ModelName, temperature: x.temperature, persist: true}
	if req.Temperature != nil {
		opts.temperature = *req.Temperature
	}
	if req.SaveHistory != nil {
		opts.persist = *req.SaveHistory
	}
	return x.run(ctx, t, e, opts)
}

func (x *Executor) run(ctx context.Context, t *task.Task, e *task.Execution, opts runOptions) (*Result, error) {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	active := x.registry.Register(e, cancel, opts.persist)
	defer x.registry.Unregister(e.ID)

	if opts.persist {
		if err := x.repo.SaveExecution(ctx, active.Snapshot()); err != nil {
			x.logger.Error("persist execution start failed", zap.String("execution", e.ID), zap.Error(err))
			return nil, err
		}
	}
	x.logger.Info("execution started",
		zap.String("execution", e.ID), zap.String("task", t.ID), zap.Int("attempt", e.Attempts))
	x.emit(ctx, events.Event{Type: events.ExecutionStarted, ExecutionID: e.ID, TaskID: t.ID,
		AgentID: e.AgentID, CrewID: e.CrewID})

	text, strategy, model := x.buildPrompt(ctx, t, e.Input, opts.model)
	active.Update(func(e *task.Execution) {
		e.Model = model
		e.AppendLog(x.now(), task.LogDebug, "Prompt built",
			map[string]any{"strategy": string(strategy), "model": model})
	})

	temp := opts.temperature
	gen, genErr := x.gen.GenerateText(runCtx, text, provider.GenerateOptions{Model: model, Temperature: &temp})
	finishedAt := x.now()

	// The terminal state is written even when the caller has gone away.
	ctx = context.WithoutCancel(ctx)

	if genErr != nil {
		msg := genErr.Error()
		final, err := active.Finish(task.StatusFailed, finishedAt, func(e *task.Execution) {
			e.Error = msg
			e.AppendLog(finishedAt, task.LogError, "Execution failed: "+msg, nil)
		})
		if err != nil {
			return nil, x.cancelled(e.ID)
		}
		x.logger.Warn("execution failed", zap.String("execution", e.ID), zap.Error(genErr))
		failure := fmt.Errorf("%w: %w", task.ErrProviderFailure, genErr)
		if opts.persist {
			if err := x.repo.SaveExecution(ctx, final); err != nil {
				x.logger.Error("persist failed execution", zap.String("execution", e.ID), zap.Error(err))
				failure = errors.Join(failure, err)
			}
		}
		x.emit(ctx, events.Event{Type: events.ExecutionFailed, ExecutionID: e.ID, TaskID: t.ID,
			AgentID: e.AgentID, CrewID: e.CrewID, Error: msg, AutoRetry: false})
		return nil, failure
	}

	final, err := active.Finish(task.StatusCompleted, finishedAt, func(e *task.Execution) {
		e.Output = gen.Text
		e.Model = gen.Model
		e.Metrics = &task.Metrics{
			PromptTokens:     gen.Usage.PromptTokens,
			CompletionTokens: gen.Usage.CompletionTokens,
			TotalTokens:      gen.Usage.TotalTokens,
			LatencyMs:        gen.Latency.Milliseconds(),
		}
		e.AppendLog(finishedAt, task.LogInfo, "Execution completed successfully",
			map[string]any{"executionTime": finishedAt.Sub(e.StartedAt).Milliseconds()})
	})
	if err != nil {
		return nil, x.cancelled(e.ID)
	}
	if opts.persist {
		if err := x.repo.SaveExecution(ctx, final); err != nil {
			x.logger.Error("persist completed execution", zap.String("execution", e.ID), zap.Error(err))
			return nil, err
		}
	}
	x.logger.Info("execution completed",
		zap.String("execution", e.ID), zap.Int64("ms", *final.ExecutionTime))
	x.emit(ctx, events.Event{Type: events.ExecutionCompleted, ExecutionID: e.ID, TaskID: t.ID,
		AgentID: e.AgentID, CrewID: e.CrewID, Output: final.Output, Success: true,
		ExecutionTime: *final.ExecutionTime})

	return &Result{
		TaskID:        t.ID,
		ExecutionID:   e.ID,
		Output:        final.Output,
		Success:       true,
		ExecutionTime: *final.ExecutionTime,
		Metadata: map[string]any{
			"agentId":   final.AgentID,
			"crewId":    final.CrewID,
			"sessionId": final.SessionID,
			"model":     final.Model,
			"strategy":  string(strategy),
			"timestamp": finishedAt,
		},
	}, nil
}

func (x *Executor) cancelled(id string) error {
	x.logger.Info("discarding result of cancelled execution", zap.String("execution", id))
	return fmt.Errorf("%w: execution %s was cancelled", task.ErrInvalidState, id)
}

// buildPrompt renders the task template when there is one and falls back to
// the generic strategies otherwise. The returned model is the requested one,
// else the template default, else empty for the generator default.
func (x *Executor) buildPrompt(ctx context.Context, t *task.Task, input map[string]any, model string) (string, prompt.Strategy, string) {
	subject := t.Subject()
	if t.TemplateID != "" {
		tmpl, err := x.repo.FindTemplateByID(ctx, t.TemplateID)
		if err == nil {
			if model == "" {
				model = tmpl.DefaultModelName
			}
			return prompt.BuildFromTemplate(tmpl.PromptTemplate, prompt.Variables(subject, input)),
				prompt.StrategyTemplate, model
		}
		x.logger.Warn("template unavailable, using generic prompt",
			zap.String("task", t.ID), zap.String("template", t.TemplateID), zap.Error(err))
	}
	text, strategy := prompt.BuildGeneric(subject, input)
	return text, strategy, model
}

// CancelExecution stops an execution that is pending or in progress.
func (x *Executor) CancelExecution(ctx context.Context, id string) (*task.Execution, error) {
	if active, ok := x.registry.Lookup(id); ok {
		at := x.now()
		final, err := active.Finish(task.StatusCancelled, at, func(e *task.Execution) {
			e.AppendLog(at, task.LogInfo, "Execution cancelled by user", nil)
		})
		if err != nil {
			return nil, fmt.Errorf("%w: Cannot cancel execution with status: %s", task.ErrInvalidState, active.Status())
		}
		active.cancel()
		x.registry.Unregister(id)
		ctx = context.WithoutCancel(ctx)
		if active.persist {
			if err := x.repo.SaveExecution(ctx, final); err != nil {
				return nil, err
			}
		}
		x.afterCancel(ctx, final)
		return final, nil
	}

	e, err := x.repo.FindExecutionByID(ctx, id)
	if err != nil {
		return nil, err
	}
	at := x.now()
	if err := e.Finish(task.StatusCancelled, at); err != nil {
		return nil, fmt.Errorf("%w: Cannot cancel execution with status: %s", task.ErrInvalidState, e.Status)
	}
	e.AppendLog(at, task.LogInfo, "Execution cancelled by user", nil)
	if err := x.repo.SaveExecution(ctx, e); err != nil {
		return nil, err
	}
	x.afterCancel(ctx, e)
	return e, nil
}

func (x *Executor) afterCancel(ctx context.Context, e *task.Execution) {
	x.logger.Info("execution cancelled", zap.String("execution", e.ID))
	x.emit(ctx, events.Event{Type: events.ExecutionCancelled, ExecutionID: e.ID, TaskID: e.TaskID,
		AgentID: e.AgentID, CrewID: e.CrewID})
}

// RetryExecution creates a new pending execution from a failed or cancelled
// one and hands it to the scheduler. It returns without waiting for the run.
func (x *Executor) RetryExecution(ctx context.Context, id string) (*task.Execution, error) {
	orig, err := x.repo.FindExecutionByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !orig.Status.Retryable() {
		return nil, fmt.Errorf("%w: Cannot retry execution with status: %s", task.ErrInvalidState, orig.Status)
	}

	now := x.now()
	retry := &task.Execution{
		ID:        task.NewExecutionID(),
		TaskID:    orig.TaskID,
		AgentID:   orig.AgentID,
		CrewID:    orig.CrewID,
		SessionID: orig.SessionID,
		Model:     orig.Model,
		Input:     orig.Input,
		Status:    task.StatusPending,
		StartedAt: now,
		Attempts:  orig.Attempts + 1,
	}
	retry.AppendLog(now, task.LogInfo, "Retry of execution "+orig.ID+" started",
		map[string]any{"originalExecutionId": orig.ID})
	if err := x.repo.SaveExecution(ctx, retry); err != nil {
		return nil, err
	}
	x.emit(ctx, events.Event{Type: events.ExecutionRetry, ExecutionID: retry.ID, TaskID: retry.TaskID,
		AgentID: retry.AgentID, CrewID: retry.CrewID, OriginalExecutionID: orig.ID, NewExecutionID: retry.ID})

	if err := x.scheduler.Enqueue(ctx, RetryJob{ExecutionID: retry.ID}); err != nil {
		at := x.now()
		if ferr := retry.Finish(task.StatusFailed, at); ferr == nil {
			retry.Error = "retry not scheduled: " + err.Error()
			retry.AppendLog(at, task.LogError, retry.Error, nil)
			if serr := x.repo.SaveExecution(context.WithoutCancel(ctx), retry); serr != nil {
				x.logger.Error("persist unscheduled retry", zap.String("execution", retry.ID), zap.Error(serr))
			}
		}
		return nil, fmt.Errorf("schedule retry of %s: %w", orig.ID, err)
	}
	x.logger.Info("retry scheduled",
		zap.String("original", orig.ID), zap.String("execution", retry.ID), zap.Int("attempt", retry.Attempts))
	return retry.Clone(), nil
}

// ProcessRetry runs a pending retry execution in place. Records that are no
// longer pending, for example because they were cancelled while queued, are
// skipped.
func (x *Executor) ProcessRetry(ctx context.Context, job RetryJob) error {
	e, err := x.repo.FindExecutionByID(ctx, job.ExecutionID)
	if err != nil {
		return err
	}
	if e.Status != task.StatusPending {
		x.logger.Info("skipping retry job", zap.String("execution", e.ID), zap.String("status", string(e.Status)))
		return nil
	}
	t, err := x.repo.FindByID(ctx, e.TaskID)
	if err != nil {
		return x.abandon(ctx, e, err)
	}
	if err := task.Transition(e.Status, task.StatusInProgress); err != nil {
		return err
	}
	e.Status = task.StatusInProgress
	e.StartedAt = x.now()

	_, err = x.run(ctx, t, e, runOptions{model: e.Model, temperature: x.temperature, persist: true})
	return err
}

// ResumePending schedules retries that were persisted as pending but never
// started, for example because the previous process stopped first. It
// returns how many were scheduled.
func (x *Executor) ResumePending(ctx context.Context) (int, error) {
	pending, err := x.repo.FindAllExecutions(ctx, task.ExecutionFilter{Status: task.StatusPending})
	if err != nil {
		return 0, err
	}
	n := 0
	// Oldest first; the repository returns newest first.
	for i := len(pending) - 1; i >= 0; i-- {
		e := pending[i]
		if _, ok := x.registry.Lookup(e.ID); ok {
			continue
		}
		if err := x.scheduler.Enqueue(ctx, RetryJob{ExecutionID: e.ID}); err != nil {
			return n, fmt.Errorf("resume execution %s: %w", e.ID, err)
		}
		n++
	}
	if n > 0 {
		x.logger.Info("resumed pending executions", zap.Int("count", n))
	}
	return n, nil
}

func (x *Executor) abandon(ctx context.Context, e *task.Execution, cause error) error {
	at := x.now()
	if err := e.Finish(task.StatusFailed, at); err != nil {
		return err
	}
	e.Error = cause.Error()
	e.AppendLog(at, task.LogError, "Execution failed: "+e.Error, nil)
	ctx = context.WithoutCancel(ctx)
	if err := x.repo.SaveExecution(ctx, e); err != nil {
		return err
	}
	x.emit(ctx, events.Event{Type: events.ExecutionFailed, ExecutionID: e.ID, TaskID: e.TaskID,
		AgentID: e.AgentID, CrewID: e.CrewID, Error: e.Error})
	return cause
}

// ListActive returns the executions currently in flight.
func (x *Executor) ListActive() []*task.Execution {
	return x.registry.Snapshot()
}

func (x *Executor) emit(ctx context.Context, evt events.Event) {
	evt.Timestamp = x.now()
	if err := x.publisher.Publish(ctx, evt); err != nil {
		x.logger.Warn("event publish failed", zap.String("type", string(evt.Type)), zap.Error(err))
	}
}
