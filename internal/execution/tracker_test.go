package execution

import (
	"context"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/nidhogg/taskcrew/internal/events"
	"github.com/nidhogg/taskcrew/internal/task"
)

func TestTrackingIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tk := f.addTask(t, &task.Task{Description: "x"})
	_ = f.repo.SaveExecution(ctx, &task.Execution{ID: "exec-1", TaskID: tk.ID, Status: task.StatusPending,
		StartedAt: time.Now(), Attempts: 1})

	steps := []struct {
		name string
		run  func() (bool, error)
		want bool
	}{
		{"start", func() (bool, error) { return f.track.TrackExecutionStart(ctx, "exec-1") }, true},
		{"start again", func() (bool, error) { return f.track.TrackExecutionStart(ctx, "exec-1") }, false},
		{"complete", func() (bool, error) {
			return f.track.TrackExecutionCompletion(ctx, "exec-1", "ok", true, &task.Metrics{TotalTokens: 3})
		}, true},
		{"complete again", func() (bool, error) {
			return f.track.TrackExecutionCompletion(ctx, "exec-1", "other", true, nil)
		}, false},
		{"fail after complete", func() (bool, error) { return f.track.TrackExecutionFailure(ctx, "exec-1", "boom") }, false},
	}
	for _, s := range steps {
		changed, err := s.run()
		if err != nil {
			t.Fatalf("%s: %v", s.name, err)
		}
		if changed != s.want {
			t.Fatalf("%s: changed = %v, want %v", s.name, changed, s.want)
		}
	}

	e, _ := f.repo.FindExecutionByID(ctx, "exec-1")
	if e.Status != task.StatusCompleted || e.Output != "ok" || e.Metrics.TotalTokens != 3 || e.ExecutionTime == nil {
		t.Fatalf("execution = %+v", e)
	}
}

func TestTrackCompletionWithFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tk := f.addTask(t, &task.Task{Description: "x"})
	_ = f.repo.SaveExecution(ctx, &task.Execution{ID: "exec-1", TaskID: tk.ID, Status: task.StatusInProgress,
		StartedAt: time.Now(), Attempts: 1})

	if changed, err := f.track.TrackExecutionCompletion(ctx, "exec-1", "partial", false, nil); err != nil || !changed {
		t.Fatalf("changed=%v err=%v", changed, err)
	}
	e, _ := f.repo.FindExecutionByID(ctx, "exec-1")
	if e.Status != task.StatusFailed {
		t.Fatalf("status = %s", e.Status)
	}
}

func TestAddExecutionLog(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tk := f.addTask(t, &task.Task{Description: "x"})
	_ = f.repo.SaveExecution(ctx, &task.Execution{ID: "exec-1", TaskID: tk.ID, Status: task.StatusFailed,
		StartedAt: time.Now(), Attempts: 1})

	if err := f.track.AddExecutionLog(ctx, "exec-1", task.LogWarn, "late note", map[string]any{"k": 1}); err != nil {
		t.Fatal(err)
	}
	e, _ := f.repo.FindExecutionByID(ctx, "exec-1")
	if len(e.Logs) != 1 || e.Logs[0].Message != "late note" || e.Logs[0].Level != task.LogWarn {
		t.Fatalf("logs = %+v", e.Logs)
	}

	if err := f.track.AddExecutionLog(ctx, "exec-unknown", task.LogInfo, "x", nil); err != nil {
		t.Fatalf("unknown execution: %v", err)
	}
	if err := f.track.AddExecutionLog(ctx, "exec-1", "trace", "x", nil); err == nil {
		t.Fatal("expected validation error for unknown level")
	}
}

func TestAddExecutionLogReachesActiveExecution(t *testing.T) {
	f := newFixture(t)
	e := &task.Execution{ID: "exec-live", Status: task.StatusInProgress, StartedAt: time.Now(), Attempts: 1}
	active := f.reg.Register(e, func() {}, false)

	if err := f.track.AddExecutionLog(context.Background(), "exec-live", task.LogInfo, "progress 50%", nil); err != nil {
		t.Fatal(err)
	}
	snap := active.Snapshot()
	if len(snap.Logs) != 1 || snap.Logs[0].Message != "progress 50%" {
		t.Fatalf("logs = %+v", snap.Logs)
	}
}

func TestExecutionReport(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tk := f.addTask(t, &task.Task{Description: "Write docs"})
	start := time.Now()
	e := &task.Execution{ID: "exec-1", TaskID: tk.ID, Status: task.StatusInProgress, StartedAt: start, Attempts: 1,
		Output: strings.Repeat("a", 250)}
	e.AppendLog(start, task.LogInfo, "started", nil)
	e.AppendLog(start, task.LogError, "oops", nil)
	_ = e.Finish(task.StatusCompleted, start.Add(time.Second))
	_ = f.repo.SaveExecution(ctx, e)

	r, err := f.track.GenerateExecutionReport(ctx, "exec-1")
	if err != nil {
		t.Fatal(err)
	}
	if r.TaskDescription != "Write docs" || r.Logs != 2 || *r.ExecutionTime != 1000 {
		t.Fatalf("report = %+v", r)
	}
	if r.LogSummary[task.LogInfo] != 1 || r.LogSummary[task.LogError] != 1 || r.LogSummary[task.LogDebug] != 0 {
		t.Fatalf("logSummary = %v", r.LogSummary)
	}
	if r.OutputPreview == nil || len(*r.OutputPreview) != 203 || !strings.HasSuffix(*r.OutputPreview, "...") {
		t.Fatalf("preview = %v", r.OutputPreview)
	}

	_ = f.repo.SaveExecution(ctx, &task.Execution{ID: "exec-2", TaskID: tk.ID, Status: task.StatusPending, StartedAt: start})
	r, _ = f.track.GenerateExecutionReport(ctx, "exec-2")
	if r.OutputPreview != nil {
		t.Fatalf("preview for empty output = %q", *r.OutputPreview)
	}
}

func TestSummaryWithoutExecutions(t *testing.T) {
	f := newFixture(t)
	s, err := f.track.GenerateTaskExecutionSummary(context.Background(), "task-unknown")
	if err != nil {
		t.Fatal(err)
	}
	if s.TotalExecutions != 0 || s.Message != "No executions found for this task" || s.Statistics != nil {
		t.Fatalf("summary = %+v", s)
	}
}

func TestSummaryStatistics(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tk := f.addTask(t, &task.Task{Description: "x"})
	base := time.Now().Add(-time.Hour)
	save := func(id string, offset time.Duration, final task.Status, ms time.Duration) {
		e := &task.Execution{ID: id, TaskID: tk.ID, Status: task.StatusInProgress, StartedAt: base.Add(offset), Attempts: 1}
		if final != task.StatusInProgress {
			_ = e.Finish(final, e.StartedAt.Add(ms))
		}
		_ = f.repo.SaveExecution(ctx, e)
	}
	save("exec-1", 0, task.StatusCompleted, time.Second)
	save("exec-2", time.Minute, task.StatusCompleted, 2*time.Second)
	save("exec-3", 2*time.Minute, task.StatusFailed, time.Second)
	save("exec-4", 3*time.Minute, task.StatusCancelled, 0)
	save("exec-5", 4*time.Minute, task.StatusInProgress, 0)
	save("exec-6", 5*time.Minute, task.StatusFailed, 0)

	s, err := f.track.GenerateTaskExecutionSummary(ctx, tk.ID)
	if err != nil {
		t.Fatal(err)
	}
	st := s.Statistics
	if s.TotalExecutions != 6 || st.Successful != 2 || st.Failed != 2 || st.Cancelled != 1 || st.InProgress != 1 {
		t.Fatalf("summary = %+v stats = %+v", s, st)
	}
	if st.SuccessRate != "33.33%" || st.AvgExecutionTime != "1.50s" {
		t.Fatalf("rate=%s avg=%s", st.SuccessRate, st.AvgExecutionTime)
	}
	if len(s.RecentExecutions) != 5 || s.RecentExecutions[0].ID != "exec-6" || s.RecentExecutions[4].ID != "exec-2" {
		t.Fatalf("recent = %+v", s.RecentExecutions)
	}
}

func TestAutoRetry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tk := f.addTask(t, &task.Task{Description: "x"})
	now := time.Now()
	_ = f.repo.SaveExecution(ctx, &task.Execution{ID: "exec-1", TaskID: tk.ID, Status: task.StatusInProgress, StartedAt: now, Attempts: 1})
	_ = f.repo.SaveExecution(ctx, &task.Execution{ID: "exec-3", TaskID: tk.ID, Status: task.StatusInProgress, StartedAt: now, Attempts: 3})

	ar := NewAutoRetry(f.track, f.exec, true, 0, zap.NewNop())
	if err := ar.HandleFailed(ctx, events.Event{Type: events.ExecutionFailed, ExecutionID: "exec-1", Error: "boom", AutoRetry: true}); err != nil {
		t.Fatal(err)
	}
	if len(f.jobs.jobs) != 1 {
		t.Fatalf("jobs = %+v", f.jobs.jobs)
	}
	e, _ := f.repo.FindExecutionByID(ctx, "exec-1")
	if e.Status != task.StatusFailed || e.Error != "boom" {
		t.Fatalf("execution = %+v", e)
	}

	if err := ar.HandleFailed(ctx, events.Event{Type: events.ExecutionFailed, ExecutionID: "exec-3", AutoRetry: true}); err != nil {
		t.Fatal(err)
	}
	if len(f.jobs.jobs) != 1 {
		t.Fatalf("exhausted execution retried: %+v", f.jobs.jobs)
	}

	off := NewAutoRetry(f.track, f.exec, false, 3, zap.NewNop())
	_ = f.repo.SaveExecution(ctx, &task.Execution{ID: "exec-9", TaskID: tk.ID, Status: task.StatusInProgress, StartedAt: now, Attempts: 1})
	_ = off.HandleFailed(ctx, events.Event{Type: events.ExecutionFailed, ExecutionID: "exec-9", AutoRetry: true})
	if len(f.jobs.jobs) != 1 {
		t.Fatal("disabled auto retry scheduled a job")
	}
}
