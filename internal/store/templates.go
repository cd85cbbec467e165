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

const templateColumns = "id, name, description, prompt_template, default_model_name, " +
	"parameters, category, tags, created_at, updated_at"

type templateRow struct {
	ID               string    `db:"id"`
	Name             string    `db:"name"`
	Description      string    `db:"description"`
	PromptTemplate   string    `db:"prompt_template"`
	DefaultModelName string    `db:"default_model_name"`
	Parameters       []byte    `db:"parameters"`
	Category         string    `db:"category"`
	Tags             []string  `db:"tags"`
	CreatedAt        time.Time `db:"created_at"`
	UpdatedAt        time.Time `db:"updated_at"`
}

func (r *templateRow) toTemplate() (*task.Template, error) {
	t := &task.Template{
		ID:               r.ID,
		Name:             r.Name,
		Description:      r.Description,
		PromptTemplate:   r.PromptTemplate,
		DefaultModelName: r.DefaultModelName,
		Category:         r.Category,
		Tags:             r.Tags,
		CreatedAt:        r.CreatedAt,
		UpdatedAt:        r.UpdatedAt,
	}
	if len(r.Parameters) > 0 {
		if err := json.Unmarshal(r.Parameters, &t.Parameters); err != nil {
			return nil, fmt.Errorf("decode parameters of template %s: %w", r.ID, err)
		}
	}
	return t, nil
}

// SaveTemplate upserts a template.
func (s *Store) SaveTemplate(ctx context.Context, t *task.Template) error {
	params := t.Parameters
	if params == nil {
		params = []task.TemplateParameter{}
	}
	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("marshal parameters: %w", err)
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO task_templates (`+templateColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			prompt_template = EXCLUDED.prompt_template,
			default_model_name = EXCLUDED.default_model_name,
			parameters = EXCLUDED.parameters,
			category = EXCLUDED.category,
			tags = EXCLUDED.tags,
			updated_at = EXCLUDED.updated_at`,
		t.ID, t.Name, t.Description, t.PromptTemplate, t.DefaultModelName,
		paramsJSON, t.Category, nonNil(t.Tags), t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		return task.RepositoryError("save template "+t.ID, err)
	}
	return nil
}

// FindTemplateByID loads a single template.
func (s *Store) FindTemplateByID(ctx context.Context, id string) (*task.Template, error) {
	var row templateRow
	if err := pgxscan.Get(ctx, s.db, &row,
		"SELECT "+templateColumns+" FROM task_templates WHERE id = $1", id); err != nil {
		return nil, notFoundWrap("template", id, err)
	}
	return row.toTemplate()
}

// FindAllTemplates lists templates matching f.
func (s *Store) FindAllTemplates(ctx context.Context, f task.TemplateFilter) ([]*task.Template, error) {
	b := psql.Select(strings.Split(templateColumns, ", ")...).From("task_templates")
	if f.Category != "" {
		b = b.Where(sq.Eq{"category": f.Category})
	}
	if f.Tag != "" {
		b = b.Where("? = ANY(tags)", f.Tag)
	}
	if f.Search != "" {
		pattern := "%" + f.Search + "%"
		b = b.Where(sq.Or{sq.ILike{"name": pattern}, sq.ILike{"description": pattern}})
	}
	query, args, err := b.OrderBy("created_at ASC").ToSql()
	if err != nil {
		return nil, fmt.Errorf("build template query: %w", err)
	}

	var rows []*templateRow
	if err := pgxscan.Select(ctx, s.db, &rows, query, args...); err != nil {
		return nil, task.RepositoryError("list templates", err)
	}
	out := make([]*task.Template, 0, len(rows))
	for _, r := range rows {
		t, err := r.toTemplate()
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

// DeleteTemplate removes a template.
func (s *Store) DeleteTemplate(ctx context.Context, id string) error {
	tag, err := s.db.Exec(ctx, "DELETE FROM task_templates WHERE id = $1", id)
	if err != nil {
		return task.RepositoryError("delete template "+id, err)
	}
	if tag.RowsAffected() == 0 {
		return task.NotFoundError("template", id)
	}
	return nil
}
