package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5"

	"github.com/nidhogg/taskcrew/internal/task"
)

const taskColumns = "id, description, expected_output, context, priority, deadline, " +
	"assigned_agent_id, assigned_crew_id, dependencies, tags, template_id, created_at, updated_at"

const priorityOrder = "CASE priority WHEN 'low' THEN 0 WHEN 'medium' THEN 1 " +
	"WHEN 'high' THEN 2 WHEN 'critical' THEN 3 ELSE 1 END"

type taskRow struct {
	ID              string     `db:"id"`
	Description     string     `db:"description"`
	ExpectedOutput  string     `db:"expected_output"`
	Context         []byte     `db:"context"`
	Priority        string     `db:"priority"`
	Deadline        *time.Time `db:"deadline"`
	AssignedAgentID string     `db:"assigned_agent_id"`
	AssignedCrewID  string     `db:"assigned_crew_id"`
	Dependencies    []string   `db:"dependencies"`
	Tags            []string   `db:"tags"`
	TemplateID      string     `db:"template_id"`
	CreatedAt       time.Time  `db:"created_at"`
	UpdatedAt       time.Time  `db:"updated_at"`
}

func (r *taskRow) toTask() (*task.Task, error) {
	t := &task.Task{
		ID:              r.ID,
		Description:     r.Description,
		ExpectedOutput:  r.ExpectedOutput,
		Priority:        task.Priority(r.Priority),
		Deadline:        r.Deadline,
		AssignedAgentID: r.AssignedAgentID,
		AssignedCrewID:  r.AssignedCrewID,
		Dependencies:    r.Dependencies,
		Tags:            r.Tags,
		TemplateID:      r.TemplateID,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
	}
	if len(r.Context) > 0 {
		if err := json.Unmarshal(r.Context, &t.Context); err != nil {
			return nil, fmt.Errorf("decode context of task %s: %w", r.ID, err)
		}
	}
	return t, nil
}

func marshalJSON(v any) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// Create inserts a new task.
func (s *Store) Create(ctx context.Context, t *task.Task) error {
	taskCtx, err := marshalJSON(t.Context)
	if err != nil {
		return fmt.Errorf("marshal context: %w", err)
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO tasks (`+taskColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		t.ID, t.Description, t.ExpectedOutput, taskCtx, string(t.Priority), t.Deadline,
		t.AssignedAgentID, t.AssignedCrewID, nonNil(t.Dependencies), nonNil(t.Tags), t.TemplateID,
		t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		return task.RepositoryError("create task "+t.ID, err)
	}
	return nil
}

// Update merges upd into the stored task under a row lock.
func (s *Store) Update(ctx context.Context, id string, upd task.Update) (*task.Task, error) {
	var updated *task.Task
	err := pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		var row taskRow
		if err := pgxscan.Get(ctx, tx, &row,
			"SELECT "+taskColumns+" FROM tasks WHERE id = $1 FOR UPDATE", id); err != nil {
			return notFoundWrap("task", id, err)
		}
		t, err := row.toTask()
		if err != nil {
			return err
		}
		upd.Apply(t)
		t.UpdatedAt = time.Now()

		taskCtx, err := marshalJSON(t.Context)
		if err != nil {
			return fmt.Errorf("marshal context: %w", err)
		}
		if _, err := tx.Exec(ctx, `
			UPDATE tasks SET
				description = $2, expected_output = $3, context = $4, priority = $5,
				deadline = $6, assigned_agent_id = $7, assigned_crew_id = $8,
				dependencies = $9, tags = $10, template_id = $11, updated_at = $12
			WHERE id = $1`,
			t.ID, t.Description, t.ExpectedOutput, taskCtx, string(t.Priority), t.Deadline,
			t.AssignedAgentID, t.AssignedCrewID, nonNil(t.Dependencies), nonNil(t.Tags),
			t.TemplateID, t.UpdatedAt,
		); err != nil {
			return task.RepositoryError("update task "+id, err)
		}
		updated = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// Delete removes a task and, through the foreign key, its executions.
func (s *Store) Delete(ctx context.Context, id string) error {
	tag, err := s.db.Exec(ctx, "DELETE FROM tasks WHERE id = $1", id)
	if err != nil {
		return task.RepositoryError("delete task "+id, err)
	}
	if tag.RowsAffected() == 0 {
		return task.NotFoundError("task", id)
	}
	return nil
}

// FindByID loads a single task.
func (s *Store) FindByID(ctx context.Context, id string) (*task.Task, error) {
	var row taskRow
	if err := pgxscan.Get(ctx, s.db, &row,
		"SELECT "+taskColumns+" FROM tasks WHERE id = $1", id); err != nil {
		return nil, notFoundWrap("task", id, err)
	}
	return row.toTask()
}

// FindAll lists tasks matching f.
func (s *Store) FindAll(ctx context.Context, f task.Filter) ([]*task.Task, error) {
	query, args, err := taskQuery(f).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build task query: %w", err)
	}
	var rows []*taskRow
	if err := pgxscan.Select(ctx, s.db, &rows, query, args...); err != nil {
		return nil, task.RepositoryError("list tasks", err)
	}
	out := make([]*task.Task, 0, len(rows))
	for _, r := range rows {
		t, err := r.toTask()
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

func taskQuery(f task.Filter) sq.SelectBuilder {
	b := psql.Select(strings.Split(taskColumns, ", ")...).From("tasks")
	if f.Priority != "" {
		b = b.Where(sq.Eq{"priority": string(f.Priority)})
	}
	if f.AssignedAgentID != "" {
		b = b.Where(sq.Eq{"assigned_agent_id": f.AssignedAgentID})
	}
	if f.AssignedCrewID != "" {
		b = b.Where(sq.Eq{"assigned_crew_id": f.AssignedCrewID})
	}
	if f.TemplateID != "" {
		b = b.Where(sq.Eq{"template_id": f.TemplateID})
	}
	if f.Tag != "" {
		b = b.Where("? = ANY(tags)", f.Tag)
	}
	if f.Search != "" {
		pattern := "%" + f.Search + "%"
		b = b.Where(sq.Or{sq.ILike{"description": pattern}, sq.ILike{"expected_output": pattern}})
	}
	if f.CreatedFrom != nil {
		b = b.Where(sq.GtOrEq{"created_at": *f.CreatedFrom})
	}
	if f.CreatedTo != nil {
		b = b.Where(sq.LtOrEq{"created_at": *f.CreatedTo})
	}
	if f.DeadlineFrom != nil {
		b = b.Where(sq.GtOrEq{"deadline": *f.DeadlineFrom})
	}
	if f.DeadlineTo != nil {
		b = b.Where(sq.LtOrEq{"deadline": *f.DeadlineTo})
	}

	dir := "DESC"
	if f.SortOrder == "asc" {
		dir = "ASC"
	}
	switch f.SortBy {
	case "priority":
		b = b.OrderBy(priorityOrder+" "+dir, "created_at DESC")
	case "deadline":
		b = b.OrderBy("deadline "+dir, "created_at DESC")
	default:
		b = b.OrderBy("created_at " + dir)
	}
	if f.Limit > 0 {
		b = b.Limit(uint64(f.Limit))
	}
	if f.Offset > 0 {
		b = b.Offset(uint64(f.Offset))
	}
	return b
}
