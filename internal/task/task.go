package task

import (
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Priority ranks how urgently a task should be picked up.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

var priorityRank = map[Priority]int{
	PriorityLow:      0,
	PriorityMedium:   1,
	PriorityHigh:     2,
	PriorityCritical: 3,
}

// Valid reports whether p is one of the known priorities.
func (p Priority) Valid() bool {
	_, ok := priorityRank[p]
	return ok
}

// Task is a describable unit of work that can be executed by an agent or crew.
type Task struct {
	ID              string         `json:"id"`
	Description     string         `json:"description"`
	ExpectedOutput  string         `json:"expectedOutput,omitempty"`
	Context         map[string]any `json:"context,omitempty"`
	Priority        Priority       `json:"priority"`
	Deadline        *time.Time     `json:"deadline,omitempty"`
	AssignedAgentID string         `json:"assignedAgentId,omitempty"`
	AssignedCrewID  string         `json:"assignedCrewId,omitempty"`
	Dependencies    []string       `json:"dependencies,omitempty"`
	Tags            []string       `json:"tags,omitempty"`
	TemplateID      string         `json:"templateId,omitempty"`
	CreatedAt       time.Time      `json:"createdAt"`
	UpdatedAt       time.Time      `json:"updatedAt"`
}

// NewTaskID returns a fresh task identifier.
func NewTaskID() string { return "task-" + uuid.New().String() }

// Clone returns a copy that shares no slices or maps with t.
func (t *Task) Clone() *Task {
	c := *t
	c.Context = cloneMap(t.Context)
	c.Dependencies = append([]string(nil), t.Dependencies...)
	c.Tags = append([]string(nil), t.Tags...)
	if t.Deadline != nil {
		d := *t.Deadline
		c.Deadline = &d
	}
	return &c
}

// Update is a partial task modification. Nil fields are left untouched.
type Update struct {
	Description     *string        `json:"description,omitempty"`
	ExpectedOutput  *string        `json:"expectedOutput,omitempty"`
	Context         map[string]any `json:"context,omitempty"`
	Priority        *Priority      `json:"priority,omitempty"`
	Deadline        *time.Time     `json:"deadline,omitempty"`
	AssignedAgentID *string        `json:"assignedAgentId,omitempty"`
	AssignedCrewID  *string        `json:"assignedCrewId,omitempty"`
	Dependencies    []string       `json:"dependencies,omitempty"`
	Tags            []string       `json:"tags,omitempty"`
	TemplateID      *string        `json:"templateId,omitempty"`
}

// Apply merges u into t.
func (u Update) Apply(t *Task) {
	if u.Description != nil {
		t.Description = *u.Description
	}
	if u.ExpectedOutput != nil {
		t.ExpectedOutput = *u.ExpectedOutput
	}
	if u.Context != nil {
		t.Context = cloneMap(u.Context)
	}
	if u.Priority != nil {
		t.Priority = *u.Priority
	}
	if u.Deadline != nil {
		d := *u.Deadline
		t.Deadline = &d
	}
	if u.AssignedAgentID != nil {
		t.AssignedAgentID = *u.AssignedAgentID
	}
	if u.AssignedCrewID != nil {
		t.AssignedCrewID = *u.AssignedCrewID
	}
	if u.Dependencies != nil {
		t.Dependencies = append([]string(nil), u.Dependencies...)
	}
	if u.Tags != nil {
		t.Tags = append([]string(nil), u.Tags...)
	}
	if u.TemplateID != nil {
		t.TemplateID = *u.TemplateID
	}
}

// Filter narrows task listings.
type Filter struct {
	Priority        Priority   `json:"priority,omitempty"`
	AssignedAgentID string     `json:"assignedAgentId,omitempty"`
	AssignedCrewID  string     `json:"assignedCrewId,omitempty"`
	TemplateID      string     `json:"templateId,omitempty"`
	Tag             string     `json:"tag,omitempty"`
	Search          string     `json:"search,omitempty"`
	CreatedFrom     *time.Time `json:"createdFrom,omitempty"`
	CreatedTo       *time.Time `json:"createdTo,omitempty"`
	DeadlineFrom    *time.Time `json:"deadlineFrom,omitempty"`
	DeadlineTo      *time.Time `json:"deadlineTo,omitempty"`
	SortBy          string     `json:"sortBy,omitempty"`    // createdAt|priority|deadline
	SortOrder       string     `json:"sortOrder,omitempty"` // asc|desc
	Limit           int        `json:"limit,omitempty"`
	Offset          int        `json:"offset,omitempty"`
}

// Match reports whether t satisfies every set field of f.
func (f Filter) Match(t *Task) bool {
	if f.Priority != "" && t.Priority != f.Priority {
		return false
	}
	if f.AssignedAgentID != "" && t.AssignedAgentID != f.AssignedAgentID {
		return false
	}
	if f.AssignedCrewID != "" && t.AssignedCrewID != f.AssignedCrewID {
		return false
	}
	if f.TemplateID != "" && t.TemplateID != f.TemplateID {
		return false
	}
	if f.Tag != "" && !containsString(t.Tags, f.Tag) {
		return false
	}
	if f.Search != "" {
		q := strings.ToLower(f.Search)
		if !strings.Contains(strings.ToLower(t.Description), q) &&
			!strings.Contains(strings.ToLower(t.ExpectedOutput), q) {
			return false
		}
	}
	if f.CreatedFrom != nil && t.CreatedAt.Before(*f.CreatedFrom) {
		return false
	}
	if f.CreatedTo != nil && t.CreatedAt.After(*f.CreatedTo) {
		return false
	}
	if f.DeadlineFrom != nil && (t.Deadline == nil || t.Deadline.Before(*f.DeadlineFrom)) {
		return false
	}
	if f.DeadlineTo != nil && (t.Deadline == nil || t.Deadline.After(*f.DeadlineTo)) {
		return false
	}
	return true
}

// Sort orders tasks in place according to f, then applies offset and limit.
func (f Filter) Sort(tasks []*Task) []*Task {
	desc := f.SortOrder != "asc"
	less := func(a, b *Task) bool { return a.CreatedAt.Before(b.CreatedAt) }
	switch f.SortBy {
	case "priority":
		less = func(a, b *Task) bool { return priorityRank[a.Priority] < priorityRank[b.Priority] }
	case "deadline":
		less = func(a, b *Task) bool {
			if a.Deadline == nil || b.Deadline == nil {
				return a.Deadline != nil
			}
			return a.Deadline.Before(*b.Deadline)
		}
	}
	sort.SliceStable(tasks, func(i, j int) bool {
		if desc {
			return less(tasks[j], tasks[i])
		}
		return less(tasks[i], tasks[j])
	})

	if f.Offset > 0 {
		if f.Offset >= len(tasks) {
			return []*Task{}
		}
		tasks = tasks[f.Offset:]
	}
	if f.Limit > 0 && f.Limit < len(tasks) {
		tasks = tasks[:f.Limit]
	}
	return tasks
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
