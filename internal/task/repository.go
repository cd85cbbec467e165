package task

import "context"

// Repository is the durable store for tasks, executions and templates.
// Implementations return ErrNotFound (wrapped) for unknown ids and wrap
// driver errors with ErrRepositoryFailure.
type Repository interface {
	Create(ctx context.Context, t *Task) error
	Update(ctx context.Context, id string, upd Update) (*Task, error)
	Delete(ctx context.Context, id string) error
	FindByID(ctx context.Context, id string) (*Task, error)
	FindAll(ctx context.Context, f Filter) ([]*Task, error)

	// SaveExecution upserts by id.
	SaveExecution(ctx context.Context, e *Execution) error
	FindExecutionByID(ctx context.Context, id string) (*Execution, error)
	// FindExecutions returns the executions of a task ordered by startedAt.
	FindExecutions(ctx context.Context, taskID string) ([]*Execution, error)
	FindAllExecutions(ctx context.Context, f ExecutionFilter) ([]*Execution, error)

	// SaveTemplate upserts by id.
	SaveTemplate(ctx context.Context, t *Template) error
	FindTemplateByID(ctx context.Context, id string) (*Template, error)
	FindAllTemplates(ctx context.Context, f TemplateFilter) ([]*Template, error)
	DeleteTemplate(ctx context.Context, id string) error
}
