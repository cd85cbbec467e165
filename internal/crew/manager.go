package crew

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nidhogg/taskcrew/internal/task"
)

// Task is a crew-local unit of work. It is independent of stored tasks.
type Task struct {
	ID             string         `json:"id"`
	Description    string         `json:"description" validate:"required"`
	ExpectedOutput string         `json:"expectedOutput,omitempty"`
	Context        map[string]any `json:"context,omitempty"`
	AgentID        string         `json:"agentId,omitempty"`
}

// CrewConfig holds the caller-supplied fields of a new crew.
type CrewConfig struct {
	Name    string        `json:"name,omitempty"`
	Agents  []AgentConfig `json:"agents" validate:"required,min=1,dive"`
	Tasks   []Task        `json:"tasks" validate:"dive"`
	Verbose bool          `json:"verbose,omitempty"`
}

// Crew is a named group of agents with the tasks they can run.
type Crew struct {
	ID        string    `json:"id"`
	Name      string    `json:"name,omitempty"`
	Agents    []*Agent  `json:"agents"`
	Tasks     []Task    `json:"tasks"`
	Verbose   bool      `json:"verbose"`
	CreatedAt time.Time `json:"createdAt"`

	logger *zap.Logger
}

// RunResult is the outcome of Crew.RunTask.
type RunResult struct {
	TaskID        string         `json:"taskId"`
	AgentID       string         `json:"agentId"`
	Output        string         `json:"output"`
	Success       bool           `json:"success"`
	ExecutionTime int64          `json:"executionTime"`
	Metadata      map[string]any `json:"metadata"`
}

// RunTask runs a crew-local task with the crew's first agent. Provider
// errors do not fail the call; they are reported in the result.
func (c *Crew) RunTask(ctx context.Context, taskID string, input map[string]any) (*RunResult, error) {
	t, ok := c.findTask(taskID)
	if !ok {
		return nil, task.NotFoundError("crew task", taskID)
	}
	if len(c.Agents) == 0 {
		return nil, fmt.Errorf("%w: crew %s has no agents", task.ErrInvalidState, c.ID)
	}
	agent := c.Agents[0]

	text := fmt.Sprintf("Task: %s\nContext: %s\nExpected Output: %s\nInput: %s",
		t.Description, compactJSON(t.Context), t.ExpectedOutput, compactJSON(input))

	start := time.Now()
	output, err := agent.GenerateResponse(ctx, text)
	success := true
	if err != nil {
		output = "Error: " + err.Error()
		success = false
		c.logger.Warn("crew task failed", zap.String("crew", c.ID), zap.String("task", taskID), zap.Error(err))
	}
	elapsed := time.Since(start).Milliseconds()
	if c.Verbose {
		c.logger.Info("crew task finished",
			zap.String("crew", c.ID), zap.String("task", taskID),
			zap.String("agent", agent.ID), zap.Bool("success", success), zap.Int64("ms", elapsed))
	}

	return &RunResult{
		TaskID:        taskID,
		AgentID:       agent.ID,
		Output:        output,
		Success:       success,
		ExecutionTime: elapsed,
		Metadata:      map[string]any{"timestamp": time.Now().UTC().Format(time.RFC3339Nano)},
	}, nil
}

func (c *Crew) findTask(id string) (Task, bool) {
	for _, t := range c.Tasks {
		if t.ID == id {
			return t, true
		}
	}
	return Task{}, false
}

// Manager creates and holds agents and crews in memory.
type Manager struct {
	agents   map[string]*Agent
	crews    map[string]*Crew
	gen      Generator
	watchers []func(*Agent)
	mu       sync.RWMutex
	logger   *zap.Logger
}

// NewManager creates an empty manager.
func NewManager(gen Generator, logger *zap.Logger) *Manager {
	return &Manager{
		agents: make(map[string]*Agent),
		crews:  make(map[string]*Crew),
		gen:    gen,
		logger: logger,
	}
}

// OnAgentCreated calls fn for every agent created from now on, standalone
// or as part of a crew.
func (m *Manager) OnAgentCreated(fn func(*Agent)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.watchers = append(m.watchers, fn)
}

func (m *Manager) announce(agents ...*Agent) {
	m.mu.RLock()
	watchers := append(([]func(*Agent))(nil), m.watchers...)
	m.mu.RUnlock()
	for _, a := range agents {
		for _, fn := range watchers {
			fn(a)
		}
	}
}

// CreateAgent registers a new agent and returns it.
func (m *Manager) CreateAgent(cfg AgentConfig) (*Agent, error) {
	if err := validateAgent(cfg); err != nil {
		return nil, err
	}
	a := newAgent("agent-"+uuid.New().String(), cfg, m.gen, nil)
	m.mu.Lock()
	m.agents[a.ID] = a
	m.mu.Unlock()
	m.logger.Info("agent created", zap.String("id", a.ID), zap.String("role", a.Role))
	m.announce(a)
	return a, nil
}

// GetAgent returns an agent by id, including agents created for crews.
func (m *Manager) GetAgent(id string) (*Agent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.agents[id]
	if !ok {
		return nil, task.NotFoundError("agent", id)
	}
	return a, nil
}

// ListAgents returns all agents, oldest first.
func (m *Manager) ListAgents() []*Agent {
	m.mu.RLock()
	out := make([]*Agent, 0, len(m.agents))
	for _, a := range m.agents {
		out = append(out, a)
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// CreateCrew builds a fresh agent per config and groups them.
func (m *Manager) CreateCrew(cfg CrewConfig) (*Crew, error) {
	if len(cfg.Agents) == 0 {
		return nil, fmt.Errorf("%w: a crew needs at least one agent", task.ErrValidation)
	}
	for i, ac := range cfg.Agents {
		if err := validateAgent(ac); err != nil {
			return nil, fmt.Errorf("agent %d: %w", i, err)
		}
	}
	agents := make([]*Agent, len(cfg.Agents))
	for i, ac := range cfg.Agents {
		agents[i] = newAgent("agent-"+uuid.New().String(), ac, m.gen, nil)
	}
	return m.registerCrew(cfg, agents), nil
}

func (m *Manager) registerCrew(cfg CrewConfig, agents []*Agent) *Crew {
	tasks := make([]Task, len(cfg.Tasks))
	for i, t := range cfg.Tasks {
		if t.ID == "" {
			t.ID = fmt.Sprintf("task-%d", i+1)
		}
		tasks[i] = t
	}
	c := &Crew{
		ID:        "crew-" + uuid.New().String(),
		Name:      cfg.Name,
		Agents:    agents,
		Tasks:     tasks,
		Verbose:   cfg.Verbose,
		CreatedAt: time.Now(),
		logger:    m.logger,
	}

	m.mu.Lock()
	for _, a := range agents {
		m.agents[a.ID] = a
	}
	m.crews[c.ID] = c
	m.mu.Unlock()

	m.logger.Info("crew created",
		zap.String("id", c.ID), zap.Int("agents", len(agents)), zap.Int("tasks", len(tasks)))
	m.announce(agents...)
	return c
}

// GetCrew returns a crew by id.
func (m *Manager) GetCrew(id string) (*Crew, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.crews[id]
	if !ok {
		return nil, task.NotFoundError("crew", id)
	}
	return c, nil
}

// ListCrews returns all crews, oldest first.
func (m *Manager) ListCrews() []*Crew {
	m.mu.RLock()
	out := make([]*Crew, 0, len(m.crews))
	for _, c := range m.crews {
		out = append(out, c)
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// RunTask looks up a crew and runs one of its tasks.
func (m *Manager) RunTask(ctx context.Context, crewID, taskID string, input map[string]any) (*RunResult, error) {
	c, err := m.GetCrew(crewID)
	if err != nil {
		return nil, err
	}
	return c.RunTask(ctx, taskID, input)
}

func validateAgent(cfg AgentConfig) error {
	switch {
	case cfg.Role == "":
		return fmt.Errorf("%w: role is required", task.ErrValidation)
	case cfg.Goal == "":
		return fmt.Errorf("%w: goal is required", task.ErrValidation)
	case cfg.Backstory == "":
		return fmt.Errorf("%w: backstory is required", task.ErrValidation)
	}
	return nil
}

func compactJSON(v map[string]any) string {
	if v == nil {
		v = map[string]any{}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(data)
}
