package execution

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/nidhogg/taskcrew/internal/events"
	"github.com/nidhogg/taskcrew/internal/provider"
	"github.com/nidhogg/taskcrew/internal/store"
	"github.com/nidhogg/taskcrew/internal/task"
)

type stubGenerator struct {
	mu      sync.Mutex
	text    string
	err     error
	prompts []string
	opts    []provider.GenerateOptions
	started chan struct{}
	block   bool
}

func (g *stubGenerator) GenerateText(ctx context.Context, prompt string, opts provider.GenerateOptions) (*provider.Generation, error) {
	g.mu.Lock()
	g.prompts = append(g.prompts, prompt)
	g.opts = append(g.opts, opts)
	text, err, block := g.text, g.err, g.block
	g.mu.Unlock()

	if g.started != nil {
		close(g.started)
	}
	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if err != nil {
		return nil, err
	}
	model := opts.Model
	if model == "" {
		model = provider.DefaultModelName
	}
	return &provider.Generation{
		Text:    text,
		Model:   model,
		Usage:   provider.Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
		Latency: 20 * time.Millisecond,
	}, nil
}

type jobRecorder struct {
	mu   sync.Mutex
	jobs []RetryJob
	err  error
}

func (r *jobRecorder) Enqueue(_ context.Context, job RetryJob) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.jobs = append(r.jobs, job)
	return nil
}

type eventLog struct {
	mu     sync.Mutex
	events []events.Event
}

func (l *eventLog) Publish(_ context.Context, evt events.Event) error {
	l.mu.Lock()
	l.events = append(l.events, evt)
	l.mu.Unlock()
	return nil
}

func (l *eventLog) types() []events.Type {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]events.Type, len(l.events))
	for i, e := range l.events {
		out[i] = e.Type
	}
	return out
}

type fixture struct {
	repo  *store.Memory
	gen   *stubGenerator
	jobs  *jobRecorder
	log   *eventLog
	exec  *Executor
	track *Tracker
	reg   *Registry
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		repo: store.NewMemory(),
		gen:  &stubGenerator{text: "Hi there"},
		jobs: &jobRecorder{},
		log:  &eventLog{},
		reg:  NewRegistry(),
	}
	f.exec = NewExecutor(f.repo, f.gen, f.reg, f.jobs, f.log, zap.NewNop(), Options{})
	f.track = NewTracker(f.repo, f.reg, zap.NewNop())
	return f
}

func (f *fixture) addTask(t *testing.T, tk *task.Task) *task.Task {
	t.Helper()
	if tk.ID == "" {
		tk.ID = task.NewTaskID()
	}
	if tk.Priority == "" {
		tk.Priority = task.PriorityMedium
	}
	now := time.Now()
	tk.CreatedAt, tk.UpdatedAt = now, now
	if err := f.repo.Create(context.Background(), tk); err != nil {
		t.Fatal(err)
	}
	return tk
}

func sameTypes(got []events.Type, want ...events.Type) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}

func TestExecuteSuccess(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tk := f.addTask(t, &task.Task{Description: "Say hello", AssignedAgentID: "agent-1"})

	res, err := f.exec.Execute(ctx, Request{TaskID: tk.ID, Input: map[string]any{"name": "Ana"}})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !res.Success || res.Output != "Hi there" || res.ExecutionTime < 0 {
		t.Fatalf("result = %+v", res)
	}
	if res.Metadata["agentId"] != "agent-1" || res.Metadata["strategy"] != "chain_of_thought" {
		t.Fatalf("metadata = %v", res.Metadata)
	}
	if got := *f.gen.opts[0].Temperature; got != provider.DefaultTemperature {
		t.Errorf("temperature = %v", got)
	}

	e, err := f.repo.FindExecutionByID(ctx, res.ExecutionID)
	if err != nil {
		t.Fatal(err)
	}
	if e.Status != task.StatusCompleted || e.FinishedAt == nil || e.ExecutionTime == nil {
		t.Fatalf("stored execution = %+v", e)
	}
	if *e.ExecutionTime != e.FinishedAt.Sub(e.StartedAt).Milliseconds() {
		t.Errorf("executionTime %d does not match timestamps", *e.ExecutionTime)
	}
	if e.Metrics == nil || e.Metrics.TotalTokens != 15 || e.Attempts != 1 {
		t.Errorf("metrics/attempts = %+v %d", e.Metrics, e.Attempts)
	}
	if len(e.Logs) < 3 || e.Logs[0].Level != task.LogInfo {
		t.Errorf("logs = %+v", e.Logs)
	}
	if !sameTypes(f.log.types(), events.ExecutionStarted, events.ExecutionCompleted) {
		t.Errorf("events = %v", f.log.types())
	}
	if f.reg.Len() != 0 {
		t.Errorf("registry still holds %d executions", f.reg.Len())
	}
}

func TestExecuteWithoutHistory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tk := f.addTask(t, &task.Task{Description: "Say hello"})

	off := false
	res, err := f.exec.Execute(ctx, Request{TaskID: tk.ID, SaveHistory: &off})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.repo.FindExecutionByID(ctx, res.ExecutionID); !task.IsNotFound(err) {
		t.Fatalf("execution should not be stored: %v", err)
	}
}

func TestExecuteUnknownTask(t *testing.T) {
	f := newFixture(t)
	if _, err := f.exec.Execute(context.Background(), Request{TaskID: "task-missing"}); !task.IsNotFound(err) {
		t.Fatalf("err = %v", err)
	}
	if _, err := f.exec.Execute(context.Background(), Request{}); !errors.Is(err, task.ErrValidation) {
		t.Fatalf("err = %v", err)
	}
}

func TestExecuteUsesTemplate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tmpl := &task.Template{ID: "template-1", Name: "greet", PromptTemplate: "Greet {{name}} for {{taskId}}",
		DefaultModelName: "llama3"}
	if err := f.repo.SaveTemplate(ctx, tmpl); err != nil {
		t.Fatal(err)
	}
	tk := f.addTask(t, &task.Task{Description: "Greet", TemplateID: tmpl.ID})

	res, err := f.exec.Execute(ctx, Request{TaskID: tk.ID, Input: map[string]any{"name": "Ana"}})
	if err != nil {
		t.Fatal(err)
	}
	if want := "Greet Ana for " + tk.ID; f.gen.prompts[0] != want {
		t.Fatalf("prompt = %q, want %q", f.gen.prompts[0], want)
	}
	if res.Metadata["strategy"] != "template" || res.Metadata["model"] != "llama3" {
		t.Fatalf("metadata = %v", res.Metadata)
	}
}

func TestExecuteMissingTemplateFallsBack(t *testing.T) {
	f := newFixture(t)
	tk := f.addTask(t, &task.Task{Description: "Review this module", TemplateID: "template-gone"})

	res, err := f.exec.Execute(context.Background(), Request{TaskID: tk.ID})
	if err != nil {
		t.Fatal(err)
	}
	if res.Metadata["strategy"] != "analysis" {
		t.Fatalf("strategy = %v", res.Metadata["strategy"])
	}
}

func TestExecuteFailureThenRetry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tk := f.addTask(t, &task.Task{Description: "Say hello"})
	f.gen.err = errors.New("rate limited")

	_, err := f.exec.Execute(ctx, Request{TaskID: tk.ID, ModelName: "gpt-4", SessionID: "s-1"})
	if !errors.Is(err, task.ErrProviderFailure) || !strings.Contains(err.Error(), "rate limited") {
		t.Fatalf("err = %v", err)
	}
	failed, _ := f.repo.FindAllExecutions(ctx, task.ExecutionFilter{TaskID: tk.ID})
	if len(failed) != 1 || failed[0].Status != task.StatusFailed || failed[0].Error != "rate limited" {
		t.Fatalf("executions = %+v", failed)
	}
	last := f.log.events[len(f.log.events)-1]
	if last.Type != events.ExecutionFailed || last.AutoRetry {
		t.Fatalf("last event = %+v", last)
	}

	retry, err := f.exec.RetryExecution(ctx, failed[0].ID)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if retry.Attempts != 2 || retry.Status != task.StatusPending || retry.ID == failed[0].ID {
		t.Fatalf("retry = %+v", retry)
	}
	if retry.Model != "gpt-4" || retry.SessionID != "s-1" {
		t.Fatalf("retry lost model/session: %+v", retry)
	}
	if len(f.jobs.jobs) != 1 || f.jobs.jobs[0].ExecutionID != retry.ID {
		t.Fatalf("jobs = %+v", f.jobs.jobs)
	}
	evt := f.log.events[len(f.log.events)-1]
	if evt.Type != events.ExecutionRetry || evt.OriginalExecutionID != failed[0].ID || evt.NewExecutionID != retry.ID {
		t.Fatalf("retry event = %+v", evt)
	}

	f.gen.err = nil
	if err := f.exec.ProcessRetry(ctx, f.jobs.jobs[0]); err != nil {
		t.Fatalf("process retry: %v", err)
	}
	done, _ := f.repo.FindExecutionByID(ctx, retry.ID)
	if done.Status != task.StatusCompleted || done.Attempts != 2 || done.Output != "Hi there" {
		t.Fatalf("retried execution = %+v", done)
	}
	if f.gen.opts[1].Model != "gpt-4" {
		t.Errorf("retry model = %q", f.gen.opts[1].Model)
	}

	// A second delivery of the same job is skipped.
	if err := f.exec.ProcessRetry(ctx, f.jobs.jobs[0]); err != nil {
		t.Fatalf("duplicate job: %v", err)
	}
	if len(f.gen.prompts) != 2 {
		t.Fatalf("generator called %d times", len(f.gen.prompts))
	}
}

func TestRetryRejectsCompleted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tk := f.addTask(t, &task.Task{Description: "Say hello"})
	res, _ := f.exec.Execute(ctx, Request{TaskID: tk.ID})

	_, err := f.exec.RetryExecution(ctx, res.ExecutionID)
	if !errors.Is(err, task.ErrInvalidState) || !strings.Contains(err.Error(), "completed") {
		t.Fatalf("err = %v", err)
	}
}

func TestRetryEnqueueFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tk := f.addTask(t, &task.Task{Description: "x"})
	_ = f.repo.SaveExecution(ctx, &task.Execution{ID: "exec-1", TaskID: tk.ID, Status: task.StatusFailed,
		StartedAt: time.Now(), Attempts: 1})
	f.jobs.err = ErrQueueClosed

	if _, err := f.exec.RetryExecution(ctx, "exec-1"); !errors.Is(err, ErrQueueClosed) {
		t.Fatalf("err = %v", err)
	}
	all, _ := f.repo.FindExecutions(ctx, tk.ID)
	for _, e := range all {
		if e.Status == task.StatusPending {
			t.Fatalf("unscheduled retry left pending: %+v", e)
		}
	}
}

func TestCancelGating(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tk := f.addTask(t, &task.Task{Description: "x"})
	now := time.Now()
	_ = f.repo.SaveExecution(ctx, &task.Execution{ID: "exec-pending", TaskID: tk.ID, Status: task.StatusPending, StartedAt: now, Attempts: 1})

	got, err := f.exec.CancelExecution(ctx, "exec-pending")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != task.StatusCancelled || got.FinishedAt == nil || got.ExecutionTime == nil {
		t.Fatalf("cancelled = %+v", got)
	}

	finished := now.Add(time.Second)
	for _, status := range []task.Status{task.StatusCompleted, task.StatusFailed, task.StatusCancelled} {
		id := "exec-" + string(status)
		_ = f.repo.SaveExecution(ctx, &task.Execution{ID: id, TaskID: tk.ID, Status: status,
			StartedAt: now, FinishedAt: &finished, Attempts: 1, Error: "earlier"})
		before, _ := f.repo.FindExecutionByID(ctx, id)

		_, err := f.exec.CancelExecution(ctx, id)
		want := fmt.Sprintf("Cannot cancel execution with status: %s", status)
		if !errors.Is(err, task.ErrInvalidState) || !strings.Contains(err.Error(), want) {
			t.Fatalf("%s: err = %v", status, err)
		}
		after, _ := f.repo.FindExecutionByID(ctx, id)
		if !reflect.DeepEqual(before, after) {
			t.Fatalf("%s: record changed by rejected cancel:\n%+v\n%+v", status, before, after)
		}
	}
	if _, err := f.exec.CancelExecution(ctx, "exec-nope"); !task.IsNotFound(err) {
		t.Fatalf("missing: %v", err)
	}

	// A cancelled pending retry is skipped by the worker.
	if err := f.exec.ProcessRetry(ctx, RetryJob{ExecutionID: "exec-pending"}); err != nil {
		t.Fatal(err)
	}
	if len(f.gen.prompts) != 0 {
		t.Fatal("generator should not run for a cancelled retry")
	}
}

// contextBoundRepo fails writes made on a finished context, like a database
// driver would.
type contextBoundRepo struct {
	*store.Memory
	failStatus task.Status
}

func (r *contextBoundRepo) SaveExecution(ctx context.Context, e *task.Execution) error {
	if err := ctx.Err(); err != nil {
		return task.RepositoryError("save execution", err)
	}
	if r.failStatus != "" && e.Status == r.failStatus {
		return task.RepositoryError("save execution", errors.New("connection reset"))
	}
	return r.Memory.SaveExecution(ctx, e)
}

func TestCallerCancelStillRecordsFailure(t *testing.T) {
	f := newFixture(t)
	repo := &contextBoundRepo{Memory: f.repo}
	exec := NewExecutor(repo, f.gen, f.reg, f.jobs, f.log, zap.NewNop(), Options{})
	tk := f.addTask(t, &task.Task{Description: "x"})
	f.gen.block = true
	f.gen.started = make(chan struct{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := exec.Execute(ctx, Request{TaskID: tk.ID})
		done <- err
	}()
	select {
	case <-f.gen.started:
	case <-time.After(2 * time.Second):
		t.Fatal("generator never called")
	}
	cancel()

	var err error
	select {
	case err = <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("execute did not return")
	}
	if !errors.Is(err, task.ErrProviderFailure) || errors.Is(err, task.ErrRepositoryFailure) {
		t.Fatalf("err = %v", err)
	}

	all, _ := f.repo.FindExecutions(context.Background(), tk.ID)
	if len(all) != 1 {
		t.Fatalf("executions = %d", len(all))
	}
	e := all[0]
	if e.Status != task.StatusFailed || e.FinishedAt == nil || !strings.Contains(e.Error, "context canceled") {
		t.Fatalf("persisted = %+v", e)
	}
	if len(f.reg.Snapshot()) != 0 {
		t.Fatal("execution still registered as active")
	}
	if types := f.log.types(); types[len(types)-1] != events.ExecutionFailed {
		t.Fatalf("events = %v", types)
	}
}

func TestFailurePersistErrorIsReturned(t *testing.T) {
	f := newFixture(t)
	repo := &contextBoundRepo{Memory: f.repo, failStatus: task.StatusFailed}
	exec := NewExecutor(repo, f.gen, f.reg, f.jobs, f.log, zap.NewNop(), Options{})
	tk := f.addTask(t, &task.Task{Description: "x"})
	f.gen.err = errors.New("rate limited")

	_, err := exec.Execute(context.Background(), Request{TaskID: tk.ID})
	if !errors.Is(err, task.ErrProviderFailure) || !errors.Is(err, task.ErrRepositoryFailure) {
		t.Fatalf("err = %v", err)
	}
	if !strings.Contains(err.Error(), "rate limited") || !strings.Contains(err.Error(), "connection reset") {
		t.Fatalf("err = %v", err)
	}
}

func TestCancelInFlightWinsOverProvider(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tk := f.addTask(t, &task.Task{Description: "x"})
	f.gen.block = true
	f.gen.started = make(chan struct{})

	type outcome struct {
		res *Result
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := f.exec.Execute(ctx, Request{TaskID: tk.ID})
		done <- outcome{res, err}
	}()

	select {
	case <-f.gen.started:
	case <-time.After(2 * time.Second):
		t.Fatal("generator never called")
	}
	active := f.exec.ListActive()
	if len(active) != 1 || active[0].Status != task.StatusInProgress {
		t.Fatalf("active = %+v", active)
	}

	cancelled, err := f.exec.CancelExecution(ctx, active[0].ID)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if cancelled.Status != task.StatusCancelled {
		t.Fatalf("status = %s", cancelled.Status)
	}

	var out outcome
	select {
	case out = <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("execute did not return after cancel")
	}
	if out.res != nil || !errors.Is(out.err, task.ErrInvalidState) {
		t.Fatalf("execute outcome = %+v", out)
	}
	stored, _ := f.repo.FindExecutionByID(ctx, active[0].ID)
	if stored.Status != task.StatusCancelled {
		t.Fatalf("stored status = %s", stored.Status)
	}
	types := f.log.types()
	if types[len(types)-1] != events.ExecutionCancelled {
		t.Fatalf("events = %v", types)
	}
}

func TestResumePendingAfterRestart(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tk := f.addTask(t, &task.Task{Description: "Summarize the release notes"})
	now := time.Now()
	_ = f.repo.SaveExecution(ctx, &task.Execution{ID: "exec-old", TaskID: tk.ID, Status: task.StatusPending, StartedAt: now.Add(-time.Minute), Attempts: 2})
	_ = f.repo.SaveExecution(ctx, &task.Execution{ID: "exec-new", TaskID: tk.ID, Status: task.StatusPending, StartedAt: now, Attempts: 2})
	_ = f.repo.SaveExecution(ctx, &task.Execution{ID: "exec-failed", TaskID: tk.ID, Status: task.StatusFailed, StartedAt: now, Attempts: 1})

	n, err := f.exec.ResumePending(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 || len(f.jobs.jobs) != 2 || f.jobs.jobs[0].ExecutionID != "exec-old" || f.jobs.jobs[1].ExecutionID != "exec-new" {
		t.Fatalf("n = %d, jobs = %+v", n, f.jobs.jobs)
	}

	for _, job := range f.jobs.jobs {
		if err := f.exec.ProcessRetry(ctx, job); err != nil {
			t.Fatal(err)
		}
		e, _ := f.repo.FindExecutionByID(ctx, job.ExecutionID)
		if e.Status != task.StatusCompleted || e.Output != "Hi there" {
			t.Fatalf("%s = %+v", job.ExecutionID, e)
		}
	}

	f.jobs.err = ErrQueueClosed
	_ = f.repo.SaveExecution(ctx, &task.Execution{ID: "exec-late", TaskID: tk.ID, Status: task.StatusPending, StartedAt: now, Attempts: 2})
	if _, err := f.exec.ResumePending(ctx); !errors.Is(err, ErrQueueClosed) {
		t.Fatalf("err = %v", err)
	}
}
