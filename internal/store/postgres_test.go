package store

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"go.uber.org/zap"

	"github.com/nidhogg/taskcrew/internal/task"
)

func newMockStore(t *testing.T) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	t.Cleanup(mock.Close)
	return NewWithDB(mock, zap.NewNop()), mock
}

func anyArgs(n int) []any {
	args := make([]any, n)
	for i := range args {
		args[i] = pgxmock.AnyArg()
	}
	return args
}

func TestStoreCreateTask(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec("INSERT INTO tasks").
		WithArgs(anyArgs(13)...).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	now := time.Now()
	err := s.Create(context.Background(), &task.Task{
		ID: "task-1", Description: "d", Priority: task.PriorityMedium, CreatedAt: now, UpdatedAt: now,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestStoreCreateTaskDriverError(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec("INSERT INTO tasks").
		WithArgs(anyArgs(13)...).
		WillReturnError(errors.New("connection reset"))

	err := s.Create(context.Background(), &task.Task{ID: "task-1", Description: "d"})
	if !errors.Is(err, task.ErrRepositoryFailure) {
		t.Fatalf("err = %v, want repository failure", err)
	}
}

func TestStoreDeleteMissingTask(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec("DELETE FROM tasks").
		WithArgs("task-x").
		WillReturnResult(pgxmock.NewResult("DELETE", 0))

	if err := s.Delete(context.Background(), "task-x"); !errors.Is(err, task.ErrNotFound) {
		t.Fatalf("err = %v, want not found", err)
	}
}

func TestStoreFindTaskByID(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Now()
	var noDeadline *time.Time
	rows := mock.NewRows(strings.Split(taskColumns, ", ")).
		AddRow("task-1", "desc", "out", []byte(`{"lang":"go"}`), "high", noDeadline,
			"agent-1", "", []string{"task-0"}, []string{"api"}, "", now, now)
	mock.ExpectQuery(`SELECT (.+) FROM tasks WHERE id = \$1`).
		WithArgs("task-1").
		WillReturnRows(rows)

	got, err := s.FindByID(context.Background(), "task-1")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if got.Priority != task.PriorityHigh || got.Context["lang"] != "go" || got.AssignedAgentID != "agent-1" {
		t.Fatalf("unexpected task %+v", got)
	}
	if len(got.Dependencies) != 1 || got.Dependencies[0] != "task-0" {
		t.Fatalf("dependencies = %v", got.Dependencies)
	}
}

func TestStoreFindTaskByIDMissing(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery(`SELECT (.+) FROM tasks WHERE id = \$1`).
		WithArgs("task-x").
		WillReturnRows(mock.NewRows(strings.Split(taskColumns, ", ")))

	if _, err := s.FindByID(context.Background(), "task-x"); !errors.Is(err, task.ErrNotFound) {
		t.Fatalf("err = %v, want not found", err)
	}
}

func TestStoreSaveExecutionUpserts(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec("INSERT INTO task_executions (.+) ON CONFLICT \\(id\\) DO UPDATE").
		WithArgs(anyArgs(16)...).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := s.SaveExecution(context.Background(), &task.Execution{
		ID: "exec-1", TaskID: "task-1", Status: task.StatusPending, StartedAt: time.Now(), Attempts: 1,
	})
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestTaskQueryFilters(t *testing.T) {
	from := time.Now()
	query, args, err := taskQuery(task.Filter{
		Priority:    task.PriorityHigh,
		Tag:         "api",
		Search:      "login",
		CreatedFrom: &from,
		SortBy:      "priority",
		SortOrder:   "asc",
		Limit:       10,
		Offset:      5,
	}).ToSql()
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"priority = $1", "$2 = ANY(tags)", "ILIKE", "created_at >=", "CASE priority", "LIMIT 10", "OFFSET 5"} {
		if !strings.Contains(query, want) {
			t.Errorf("query missing %q: %s", want, query)
		}
	}
	if len(args) != 5 {
		t.Errorf("args = %v", args)
	}
}
