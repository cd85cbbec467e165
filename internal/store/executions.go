package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"

	"github.com/nidhogg/taskcrew/internal/task"
)

const executionColumns = "id, task_id, agent_id, crew_id, session_id, model, input, status, " +
	"started_at, finished_at, execution_time, output, error, attempts, logs, metrics"

type executionRow struct {
	ID            string     `db:"id"`
	TaskID        string     `db:"task_id"`
	AgentID       string     `db:"agent_id"`
	CrewID        string     `db:"crew_id"`
	SessionID     string     `db:"session_id"`
	Model         string     `db:"model"`
	Input         []byte     `db:"input"`
	Status        string     `db:"status"`
	StartedAt     time.Time  `db:"started_at"`
	FinishedAt    *time.Time `db:"finished_at"`
	ExecutionTime *int64     `db:"execution_time"`
	Output        string     `db:"output"`
	Error         string     `db:"error"`
	Attempts      int        `db:"attempts"`
	Logs          []byte     `db:"logs"`
	Metrics       []byte     `db:"metrics"`
}

func (r *executionRow) toExecution() (*task.Execution, error) {
	e := &task.Execution{
		ID:            r.ID,
		TaskID:        r.TaskID,
		AgentID:       r.AgentID,
		CrewID:        r.CrewID,
		SessionID:     r.SessionID,
		Model:         r.Model,
		Status:        task.Status(r.Status),
		StartedAt:     r.StartedAt,
		FinishedAt:    r.FinishedAt,
		ExecutionTime: r.ExecutionTime,
		Output:        r.Output,
		Error:         r.Error,
		Attempts:      r.Attempts,
	}
	if len(r.Input) > 0 {
		if err := json.Unmarshal(r.Input, &e.Input); err != nil {
			return nil, fmt.Errorf("decode input of execution %s: %w", r.ID, err)
		}
	}
	if len(r.Logs) > 0 {
		if err := json.Unmarshal(r.Logs, &e.Logs); err != nil {
			return nil, fmt.Errorf("decode logs of execution %s: %w", r.ID, err)
		}
	}
	if len(r.Metrics) > 0 {
		e.Metrics = &task.Metrics{}
		if err := json.Unmarshal(r.Metrics, e.Metrics); err != nil {
			return nil, fmt.Errorf("decode metrics of execution %s: %w", r.ID, err)
		}
	}
	return e, nil
}

// SaveExecution upserts an execution record.
func (s *Store) SaveExecution(ctx context.Context, e *task.Execution) error {
	input, err := marshalJSON(e.Input)
	if err != nil {
		return fmt.Errorf("marshal input: %w", err)
	}
	logs := e.Logs
	if logs == nil {
		logs = []task.LogEntry{}
	}
	logsJSON, err := json.Marshal(logs)
	if err != nil {
		return fmt.Errorf("marshal logs: %w", err)
	}
	var metrics []byte
	if e.Metrics != nil {
		if metrics, err = json.Marshal(e.Metrics); err != nil {
			return fmt.Errorf("marshal metrics: %w", err)
		}
	}

	_, err = s.db.Exec(ctx, `
		INSERT INTO task_executions (`+executionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT (id) DO UPDATE SET
			agent_id = EXCLUDED.agent_id,
			crew_id = EXCLUDED.crew_id,
			session_id = EXCLUDED.session_id,
			model = EXCLUDED.model,
			input = EXCLUDED.input,
			status = EXCLUDED.status,
			started_at = EXCLUDED.started_at,
			finished_at = EXCLUDED.finished_at,
			execution_time = EXCLUDED.execution_time,
			output = EXCLUDED.output,
			error = EXCLUDED.error,
			attempts = EXCLUDED.attempts,
			logs = EXCLUDED.logs,
			metrics = EXCLUDED.metrics`,
		e.ID, e.TaskID, e.AgentID, e.CrewID, e.SessionID, e.Model, input, string(e.Status),
		e.StartedAt, e.FinishedAt, e.ExecutionTime, e.Output, e.Error, e.Attempts, logsJSON, metrics,
	)
	if err != nil {
		return task.RepositoryError("save execution "+e.ID, err)
	}
	return nil
}

// FindExecutionByID loads a single execution.
func (s *Store) FindExecutionByID(ctx context.Context, id string) (*task.Execution, error) {
	var row executionRow
	if err := pgxscan.Get(ctx, s.db, &row,
		"SELECT "+executionColumns+" FROM task_executions WHERE id = $1", id); err != nil {
		return nil, notFoundWrap("execution", id, err)
	}
	return row.toExecution()
}

// FindExecutions returns the executions of a task, oldest first.
func (s *Store) FindExecutions(ctx context.Context, taskID string) ([]*task.Execution, error) {
	return s.selectExecutions(ctx, psql.Select(strings.Split(executionColumns, ", ")...).
		From("task_executions").
		Where(sq.Eq{"task_id": taskID}).
		OrderBy("started_at ASC"))
}

// FindAllExecutions lists executions matching f, newest first.
func (s *Store) FindAllExecutions(ctx context.Context, f task.ExecutionFilter) ([]*task.Execution, error) {
	b := psql.Select(strings.Split(executionColumns, ", ")...).From("task_executions")
	if f.TaskID != "" {
		b = b.Where(sq.Eq{"task_id": f.TaskID})
	}
	if f.AgentID != "" {
		b = b.Where(sq.Eq{"agent_id": f.AgentID})
	}
	if f.CrewID != "" {
		b = b.Where(sq.Eq{"crew_id": f.CrewID})
	}
	if f.Status != "" {
		b = b.Where(sq.Eq{"status": string(f.Status)})
	}
	b = b.OrderBy("started_at DESC")
	if f.Limit > 0 {
		b = b.Limit(uint64(f.Limit))
	}
	return s.selectExecutions(ctx, b)
}

func (s *Store) selectExecutions(ctx context.Context, b sq.SelectBuilder) ([]*task.Execution, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build execution query: %w", err)
	}
	var rows []*executionRow
	if err := pgxscan.Select(ctx, s.db, &rows, query, args...); err != nil {
		return nil, task.RepositoryError("list executions", err)
	}
	out := make([]*task.Execution, 0, len(rows))
	for _, r := range rows {
		e, err := r.toExecution()
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}
