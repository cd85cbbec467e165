package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/nidhogg/taskcrew/internal/task"
)

// Memory is an in-process task.Repository. Values are copied on the way in
// and out so callers never share state with the store.
type Memory struct {
	mu         sync.RWMutex
	tasks      map[string]*task.Task
	executions map[string]*task.Execution
	templates  map[string]*task.Template
}

var _ task.Repository = (*Memory)(nil)

// NewMemory returns an empty in-memory repository.
func NewMemory() *Memory {
	return &Memory{
		tasks:      make(map[string]*task.Task),
		executions: make(map[string]*task.Execution),
		templates:  make(map[string]*task.Template),
	}
}

func (m *Memory) Create(_ context.Context, t *task.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tasks[t.ID] = t.Clone()
	return nil
}

func (m *Memory) Update(_ context.Context, id string, upd task.Update) (*task.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.tasks[id]
	if !ok {
		return nil, task.NotFoundError("task", id)
	}
	t := cur.Clone()
	upd.Apply(t)
	t.UpdatedAt = time.Now()
	m.tasks[id] = t
	return t.Clone(), nil
}

func (m *Memory) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tasks[id]; !ok {
		return task.NotFoundError("task", id)
	}
	delete(m.tasks, id)
	for eid, e := range m.executions {
		if e.TaskID == id {
			delete(m.executions, eid)
		}
	}
	return nil
}

func (m *Memory) FindByID(_ context.Context, id string) (*task.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tasks[id]
	if !ok {
		return nil, task.NotFoundError("task", id)
	}
	return t.Clone(), nil
}

func (m *Memory) FindAll(_ context.Context, f task.Filter) ([]*task.Task, error) {
	m.mu.RLock()
	out := make([]*task.Task, 0, len(m.tasks))
	for _, t := range m.tasks {
		if f.Match(t) {
			out = append(out, t.Clone())
		}
	}
	m.mu.RUnlock()
	return f.Sort(out), nil
}

func (m *Memory) SaveExecution(_ context.Context, e *task.Execution) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.executions[e.ID] = e.Clone()
	return nil
}

func (m *Memory) FindExecutionByID(_ context.Context, id string) (*task.Execution, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.executions[id]
	if !ok {
		return nil, task.NotFoundError("execution", id)
	}
	return e.Clone(), nil
}

func (m *Memory) FindExecutions(_ context.Context, taskID string) ([]*task.Execution, error) {
	out := m.collectExecutions(task.ExecutionFilter{TaskID: taskID})
	sort.SliceStable(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out, nil
}

func (m *Memory) FindAllExecutions(_ context.Context, f task.ExecutionFilter) ([]*task.Execution, error) {
	out := m.collectExecutions(f)
	sort.SliceStable(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if f.Limit > 0 && f.Limit < len(out) {
		out = out[:f.Limit]
	}
	return out, nil
}

func (m *Memory) collectExecutions(f task.ExecutionFilter) []*task.Execution {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*task.Execution, 0)
	for _, e := range m.executions {
		if f.Match(e) {
			out = append(out, e.Clone())
		}
	}
	return out
}

func (m *Memory) SaveTemplate(_ context.Context, t *task.Template) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.templates[t.ID] = t.Clone()
	return nil
}

func (m *Memory) FindTemplateByID(_ context.Context, id string) (*task.Template, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.templates[id]
	if !ok {
		return nil, task.NotFoundError("template", id)
	}
	return t.Clone(), nil
}

func (m *Memory) FindAllTemplates(_ context.Context, f task.TemplateFilter) ([]*task.Template, error) {
	m.mu.RLock()
	out := make([]*task.Template, 0, len(m.templates))
	for _, t := range m.templates {
		if f.Match(t) {
			out = append(out, t.Clone())
		}
	}
	m.mu.RUnlock()
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) DeleteTemplate(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.templates[id]; !ok {
		return task.NotFoundError("template", id)
	}
	delete(m.templates, id)
	return nil
}
