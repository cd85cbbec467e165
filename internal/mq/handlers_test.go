package mq

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"go.uber.org/zap"

	"github.com/nidhogg/taskcrew/internal/events"
	"github.com/nidhogg/taskcrew/internal/execution"
	"github.com/nidhogg/taskcrew/internal/provider"
	"github.com/nidhogg/taskcrew/internal/store"
	"github.com/nidhogg/taskcrew/internal/task"
)

type cannedGenerator struct {
	text string
	err  error
}

func (g *cannedGenerator) GenerateText(context.Context, string, provider.GenerateOptions) (*provider.Generation, error) {
	if g.err != nil {
		return nil, g.err
	}
	return &provider.Generation{Text: g.text, Model: "gpt-3"}, nil
}

type queued struct {
	mu   sync.Mutex
	jobs []execution.RetryJob
}

func (q *queued) Enqueue(_ context.Context, job execution.RetryJob) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.jobs = append(q.jobs, job)
	return nil
}

type env struct {
	h    *Handlers
	repo *store.Memory
	gen  *cannedGenerator
	jobs *queued
}

func newEnv(t *testing.T) *env {
	t.Helper()
	logger := zap.NewNop()
	repo := store.NewMemory()
	gen := &cannedGenerator{text: "ok"}
	jobs := &queued{}
	registry := execution.NewRegistry()
	exec := execution.NewExecutor(repo, gen, registry, jobs, nil, logger, execution.Options{})
	tracker := execution.NewTracker(repo, registry, logger)
	auto := execution.NewAutoRetry(tracker, exec, true, 3, logger)
	tasks := task.NewService(repo, nil, logger)
	return &env{h: NewHandlers(tasks, exec, tracker, auto, logger), repo: repo, gen: gen, jobs: jobs}
}

func payload(t *testing.T, v any) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func TestCommandLifecycle(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	reply, err := e.h.Command(ctx, CmdCreateTask, payload(t, map[string]any{"description": "Write a changelog"}))
	if err != nil {
		t.Fatal(err)
	}
	taskID, _ := reply["taskId"].(string)
	if reply["success"] != true || taskID == "" {
		t.Fatalf("create reply = %v", reply)
	}

	if _, err := e.h.Command(ctx, CmdUpdateTask, payload(t, map[string]any{
		"taskId":  taskID,
		"updates": map[string]any{"priority": "high"},
	})); err != nil {
		t.Fatal(err)
	}
	got, _ := e.repo.FindByID(ctx, taskID)
	if got.Priority != task.PriorityHigh {
		t.Errorf("priority = %q", got.Priority)
	}

	reply, err = e.h.Command(ctx, CmdExecuteTask, payload(t, map[string]any{"taskId": taskID}))
	if err != nil {
		t.Fatal(err)
	}
	res, ok := reply["result"].(*execution.Result)
	if !ok || res.Output != "ok" {
		t.Fatalf("execute reply = %v", reply)
	}

	// A completed execution cannot be cancelled.
	_, err = e.h.Command(ctx, CmdCancelExecution, payload(t, map[string]any{"executionId": res.ExecutionID}))
	if !errors.Is(err, task.ErrInvalidState) {
		t.Errorf("cancel err = %v", err)
	}

	reply, err = e.h.Query(ctx, QueryGetTaskExecutions, payload(t, map[string]any{"taskId": taskID}))
	if err != nil {
		t.Fatal(err)
	}
	if execs := reply["executions"].([]*task.Execution); len(execs) != 1 {
		t.Errorf("expected 1 execution, got %d", len(execs))
	}

	reply, err = e.h.Query(ctx, QueryGetTaskExecutionSummary, payload(t, map[string]any{"taskId": taskID}))
	if err != nil {
		t.Fatal(err)
	}
	if sum := reply["summary"].(*execution.Summary); sum.TotalExecutions != 1 {
		t.Errorf("summary = %+v", sum)
	}

	if _, err := e.h.Command(ctx, CmdDeleteTask, payload(t, map[string]any{"taskId": taskID})); err != nil {
		t.Fatal(err)
	}
	_, err = e.h.Query(ctx, QueryGetTask, payload(t, map[string]any{"taskId": taskID}))
	if !task.IsNotFound(err) {
		t.Errorf("get after delete err = %v", err)
	}
}

func TestCommandValidation(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	cases := []struct {
		name string
		data []byte
	}{
		{CmdCreateTask, []byte(`{"priority":"low"}`)},
		{CmdCreateTask, []byte(`{not json`)},
		{CmdBatchCreateTasks, []byte(`{"tasks":[]}`)},
		{CmdExecuteTask, nil},
		{CmdExecuteTask, []byte(`{"taskId":"t","agentId":"a","crewId":"c"}`)},
		{CmdRetryExecution, []byte(`{}`)},
	}
	for _, tc := range cases {
		if _, err := e.h.Command(ctx, tc.name, tc.data); !errors.Is(err, task.ErrValidation) {
			t.Errorf("%s %s: err = %v", tc.name, tc.data, err)
		}
	}

	if _, err := e.h.Command(ctx, "launch_rockets", nil); !errors.Is(err, ErrUnknownSubject) {
		t.Errorf("unknown command err = %v", err)
	}
	if _, err := e.h.Query(ctx, "everything", nil); !errors.Is(err, ErrUnknownSubject) {
		t.Errorf("unknown query err = %v", err)
	}
}

func TestBatchCreateAndFind(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	reply, err := e.h.Command(ctx, CmdBatchCreateTasks, payload(t, map[string]any{
		"tasks": []map[string]any{
			{"description": "one", "tags": []string{"a"}},
			{"description": ""},
			{"description": "three", "tags": []string{"a"}},
		},
	}))
	if err != nil {
		t.Fatal(err)
	}
	if ids := reply["taskIds"].([]string); len(ids) != 2 {
		t.Errorf("taskIds = %v", ids)
	}
	if failed := reply["failed"].([]task.BatchFailure); len(failed) != 1 || failed[0].Index != 1 {
		t.Errorf("failed = %v", failed)
	}

	reply, err = e.h.Query(ctx, QueryFindTasks, payload(t, map[string]any{"filters": map[string]any{"tag": "a"}}))
	if err != nil {
		t.Fatal(err)
	}
	if tasks := reply["tasks"].([]*task.Task); len(tasks) != 2 {
		t.Errorf("expected 2 tasks, got %d", len(tasks))
	}

	reply, err = e.h.Query(ctx, QueryAnalyzeTask, payload(t, map[string]any{"description": "Design a database schema"}))
	if err != nil {
		t.Fatal(err)
	}
	if a := reply["analysis"].(*task.Analysis); a.Domain == "" {
		t.Errorf("analysis = %+v", a)
	}
}

func TestFailedEventSchedulesAutoRetry(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	reply, _ := e.h.Command(ctx, CmdCreateTask, payload(t, map[string]any{"description": "Flaky job"}))
	taskID := reply["taskId"].(string)

	e.gen.err = errors.New("timeout")
	_, err := e.h.Command(ctx, CmdExecuteTask, payload(t, map[string]any{"taskId": taskID}))
	if !errors.Is(err, task.ErrProviderFailure) {
		t.Fatalf("execute err = %v", err)
	}
	execs, _ := e.repo.FindExecutions(ctx, taskID)
	if len(execs) != 1 {
		t.Fatalf("expected 1 execution, got %d", len(execs))
	}

	err = e.h.Event(ctx, events.Event{
		Type: events.ExecutionFailed, ExecutionID: execs[0].ID, TaskID: taskID, Error: "timeout", AutoRetry: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(e.jobs.jobs) != 1 {
		t.Fatalf("expected a scheduled retry, got %d", len(e.jobs.jobs))
	}
	retry, err := e.repo.FindExecutionByID(ctx, e.jobs.jobs[0].ExecutionID)
	if err != nil {
		t.Fatal(err)
	}
	if retry.Attempts != 2 || retry.Status != task.StatusPending {
		t.Errorf("retry = %+v", retry)
	}
}

func TestTrackingEvents(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	exec := &task.Execution{ID: "exec-remote", TaskID: "task-x", Status: task.StatusPending, Attempts: 1}
	if err := e.repo.SaveExecution(ctx, exec); err != nil {
		t.Fatal(err)
	}

	if err := e.h.Event(ctx, events.Event{Type: events.ExecutionStarted, ExecutionID: exec.ID}); err != nil {
		t.Fatal(err)
	}
	err := e.h.Event(ctx, events.Event{
		Type: events.ExecutionCompleted, ExecutionID: exec.ID, Output: "remote output", Success: true,
		Data: map[string]any{"metrics": map[string]any{"totalTokens": 42, "latencyMs": 900}},
	})
	if err != nil {
		t.Fatal(err)
	}
	got, _ := e.repo.FindExecutionByID(ctx, exec.ID)
	if got.Status != task.StatusCompleted || got.Output != "remote output" {
		t.Fatalf("execution = %+v", got)
	}
	if got.Metrics == nil || got.Metrics.TotalTokens != 42 || got.Metrics.LatencyMs != 900 {
		t.Errorf("metrics = %+v", got.Metrics)
	}

	// Unknown types are ignored.
	if err := e.h.Event(ctx, events.Event{Type: events.TaskAssigned}); err != nil {
		t.Errorf("ignored event err = %v", err)
	}
}

func TestSubjects(t *testing.T) {
	s := NewSubjects("prod")
	if got := s.Command(CmdCreateTask); got != "taskcrew.prod.cmd.create_task" {
		t.Errorf("command subject = %q", got)
	}
	if got := s.Event(events.ExecutionFailed); got != "taskcrew.prod.events.task_execution_failed" {
		t.Errorf("event subject = %q", got)
	}
	if got := s.name("query", s.Query(QueryGetTask)); got != QueryGetTask {
		t.Errorf("name = %q", got)
	}
	if got := NewSubjects("").wildcard("cmd"); got != "taskcrew.development.cmd.>" {
		t.Errorf("wildcard = %q", got)
	}
}

func TestFailureReply(t *testing.T) {
	r := Failure(task.NotFoundError("task", "task-1"))
	if r["success"] != false || r["error"] == "" {
		t.Errorf("reply = %v", r)
	}
}
