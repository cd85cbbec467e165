package task

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/nidhogg/taskcrew/internal/events"
)

// CreateTask holds the caller-supplied fields of a new task.
type CreateTask struct {
	Description     string         `json:"description" validate:"required"`
	ExpectedOutput  string         `json:"expectedOutput,omitempty"`
	Context         map[string]any `json:"context,omitempty"`
	Priority        Priority       `json:"priority,omitempty" validate:"omitempty,oneof=low medium high critical"`
	Deadline        *time.Time     `json:"deadline,omitempty"`
	AssignedAgentID string         `json:"assignedAgentId,omitempty"`
	AssignedCrewID  string         `json:"assignedCrewId,omitempty"`
	Dependencies    []string       `json:"dependencies,omitempty"`
	Tags            []string       `json:"tags,omitempty"`
	TemplateID      string         `json:"templateId,omitempty"`
}

// BatchFailure describes one item of a batch that did not succeed.
type BatchFailure struct {
	Index       int    `json:"index"`
	ID          string `json:"id,omitempty"`
	Description string `json:"description,omitempty"`
	Error       string `json:"error"`
}

// BatchResult reports per-item outcomes of a batch operation.
type BatchResult struct {
	Success []string       `json:"success"`
	Failed  []BatchFailure `json:"failed"`
}

// Service implements task and template management on top of a Repository.
type Service struct {
	repo      Repository
	publisher events.Publisher
	logger    *zap.Logger
	now       func() time.Time
}

// NewService creates a task service. A nil publisher discards events.
func NewService(repo Repository, pub events.Publisher, logger *zap.Logger) *Service {
	if pub == nil {
		pub = events.Discard
	}
	return &Service{repo: repo, publisher: pub, logger: logger, now: time.Now}
}

// Create validates and stores a new task.
func (s *Service) Create(ctx context.Context, in CreateTask) (*Task, error) {
	if strings.TrimSpace(in.Description) == "" {
		return nil, fmt.Errorf("%w: description is required", ErrValidation)
	}
	if in.Priority == "" {
		in.Priority = PriorityMedium
	}
	if !in.Priority.Valid() {
		return nil, fmt.Errorf("%w: unknown priority %q", ErrValidation, in.Priority)
	}
	if in.AssignedAgentID != "" && in.AssignedCrewID != "" {
		return nil, fmt.Errorf("%w: a task cannot be assigned to both an agent and a crew", ErrInvalidState)
	}

	now := s.now()
	t := &Task{
		ID:              NewTaskID(),
		Description:     in.Description,
		ExpectedOutput:  in.ExpectedOutput,
		Context:         cloneMap(in.Context),
		Priority:        in.Priority,
		Deadline:        in.Deadline,
		AssignedAgentID: in.AssignedAgentID,
		AssignedCrewID:  in.AssignedCrewID,
		Dependencies:    append([]string(nil), in.Dependencies...),
		Tags:            append([]string(nil), in.Tags...),
		TemplateID:      in.TemplateID,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.repo.Create(ctx, t); err != nil {
		return nil, err
	}

	s.logger.Info("task created", zap.String("task", t.ID), zap.String("priority", string(t.Priority)))
	s.emit(ctx, events.Event{Type: events.TaskCreated, TaskID: t.ID,
		AgentID: t.AssignedAgentID, CrewID: t.AssignedCrewID})
	return t, nil
}

// BatchCreate creates tasks one by one. It never rolls back: items that
// fail are reported alongside the ids that were created.
func (s *Service) BatchCreate(ctx context.Context, items []CreateTask) BatchResult {
	res := BatchResult{Success: []string{}, Failed: []BatchFailure{}}
	for i, in := range items {
		t, err := s.Create(ctx, in)
		if err != nil {
			res.Failed = append(res.Failed, BatchFailure{Index: i, Description: in.Description, Error: err.Error()})
			continue
		}
		res.Success = append(res.Success, t.ID)
	}
	s.logger.Info("batch create finished",
		zap.Int("created", len(res.Success)), zap.Int("failed", len(res.Failed)))
	return res
}

// Get returns a task by id.
func (s *Service) Get(ctx context.Context, id string) (*Task, error) {
	return s.repo.FindByID(ctx, id)
}

// List returns tasks matching f.
func (s *Service) List(ctx context.Context, f Filter) ([]*Task, error) {
	if f.Priority != "" && !f.Priority.Valid() {
		return nil, fmt.Errorf("%w: unknown priority %q", ErrValidation, f.Priority)
	}
	return s.repo.FindAll(ctx, f)
}

// Update merges upd into the stored task.
func (s *Service) Update(ctx context.Context, id string, upd Update) (*Task, error) {
	if upd.Priority != nil && !upd.Priority.Valid() {
		return nil, fmt.Errorf("%w: unknown priority %q", ErrValidation, *upd.Priority)
	}
	if upd.Description != nil && strings.TrimSpace(*upd.Description) == "" {
		return nil, fmt.Errorf("%w: description cannot be empty", ErrValidation)
	}

	current, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	merged := current.Clone()
	upd.Apply(merged)
	if merged.AssignedAgentID != "" && merged.AssignedCrewID != "" {
		return nil, fmt.Errorf("%w: a task cannot be assigned to both an agent and a crew", ErrInvalidState)
	}

	updated, err := s.repo.Update(ctx, id, upd)
	if err != nil {
		return nil, err
	}
	s.logger.Info("task updated", zap.String("task", id))
	s.emit(ctx, events.Event{Type: events.TaskUpdated, TaskID: id})
	return updated, nil
}

// UpdatePriority changes only the priority of a task.
func (s *Service) UpdatePriority(ctx context.Context, id string, p Priority) (*Task, error) {
	return s.Update(ctx, id, Update{Priority: &p})
}

// AssignToAgent assigns the task to an agent and clears any crew assignment.
func (s *Service) AssignToAgent(ctx context.Context, id, agentID string) (*Task, error) {
	return s.assign(ctx, id, agentID, "")
}

// AssignToCrew assigns the task to a crew and clears any agent assignment.
func (s *Service) AssignToCrew(ctx context.Context, id, crewID string) (*Task, error) {
	return s.assign(ctx, id, "", crewID)
}

func (s *Service) assign(ctx context.Context, id, agentID, crewID string) (*Task, error) {
	if agentID == "" && crewID == "" {
		return nil, fmt.Errorf("%w: agent or crew id is required", ErrValidation)
	}
	t, err := s.repo.Update(ctx, id, Update{AssignedAgentID: &agentID, AssignedCrewID: &crewID})
	if err != nil {
		return nil, err
	}
	s.logger.Info("task assigned", zap.String("task", id),
		zap.String("agent", agentID), zap.String("crew", crewID))
	s.emit(ctx, events.Event{Type: events.TaskAssigned, TaskID: id, AgentID: agentID, CrewID: crewID})
	return t, nil
}

// Delete removes a task unless one of its executions is pending or in progress.
func (s *Service) Delete(ctx context.Context, id string) error {
	if _, err := s.repo.FindByID(ctx, id); err != nil {
		return err
	}
	execs, err := s.repo.FindExecutions(ctx, id)
	if err != nil {
		return err
	}
	active := 0
	for _, e := range execs {
		if e.Status.Active() {
			active++
		}
	}
	if active > 0 {
		return fmt.Errorf("%w: cannot delete task %s with %d active execution(s)", ErrInvalidState, id, active)
	}

	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.logger.Info("task deleted", zap.String("task", id))
	s.emit(ctx, events.Event{Type: events.TaskDeleted, TaskID: id})
	return nil
}

// BatchDelete deletes each task independently and reports per-item results.
func (s *Service) BatchDelete(ctx context.Context, ids []string) BatchResult {
	res := BatchResult{Success: []string{}, Failed: []BatchFailure{}}
	for i, id := range ids {
		if err := s.Delete(ctx, id); err != nil {
			res.Failed = append(res.Failed, BatchFailure{Index: i, ID: id, Error: err.Error()})
			continue
		}
		res.Success = append(res.Success, id)
	}
	return res
}

// Executions returns every execution recorded for a task.
func (s *Service) Executions(ctx context.Context, taskID string) ([]*Execution, error) {
	if _, err := s.repo.FindByID(ctx, taskID); err != nil {
		return nil, err
	}
	return s.repo.FindExecutions(ctx, taskID)
}

// Execution returns one execution by id.
func (s *Service) Execution(ctx context.Context, id string) (*Execution, error) {
	return s.repo.FindExecutionByID(ctx, id)
}

// ListExecutions returns executions across tasks, newest first.
func (s *Service) ListExecutions(ctx context.Context, f ExecutionFilter) ([]*Execution, error) {
	if f.Status != "" && !f.Status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrValidation, f.Status)
	}
	return s.repo.FindAllExecutions(ctx, f)
}

func (s *Service) emit(ctx context.Context, evt events.Event) {
	evt.Timestamp = s.now()
	if err := s.publisher.Publish(ctx, evt); err != nil {
		s.logger.Warn("event publish failed", zap.String("type", string(evt.Type)), zap.Error(err))
	}
}
