// Package crew groups agents into crews that run crew-local tasks.
package crew

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/nidhogg/taskcrew/internal/prompt"
	"github.com/nidhogg/taskcrew/internal/provider"
)

// Generator is the provider capability agents use.
type Generator interface {
	GenerateText(ctx context.Context, prompt string, opts provider.GenerateOptions) (*provider.Generation, error)
	GenerateCode(ctx context.Context, prompt, language string, opts provider.GenerateOptions) (*provider.Generation, error)
}

// Status represents an agent's current state.
type Status string

const (
	StatusIdle    Status = "idle"
	StatusWorking Status = "working"
)

// AgentConfig holds the caller-supplied fields of a new agent.
type AgentConfig struct {
	Role            string     `json:"role" validate:"required"`
	Goal            string     `json:"goal" validate:"required"`
	Backstory       string     `json:"backstory" validate:"required"`
	Tools           []ToolSpec `json:"tools,omitempty" validate:"dive"`
	AllowDelegation bool       `json:"allowDelegation,omitempty"`
	ModelName       string     `json:"modelName,omitempty"`
}

// Agent is a role-bound wrapper over the text generator.
type Agent struct {
	ID              string     `json:"id"`
	Role            string     `json:"role"`
	Goal            string     `json:"goal"`
	Backstory       string     `json:"backstory"`
	Tools           []ToolSpec `json:"tools"`
	AllowDelegation bool       `json:"allowDelegation"`
	ModelName       string     `json:"modelName,omitempty"`
	SystemPrompt    string     `json:"systemPrompt"`
	Status          Status     `json:"status"`
	CreatedAt       time.Time  `json:"createdAt"`

	mu    sync.Mutex
	gen   Generator
	tools *ToolRegistry
}

func newAgent(id string, cfg AgentConfig, gen Generator, tools *ToolRegistry) *Agent {
	if tools == nil {
		tools = NewToolRegistry()
	}
	specs := append([]ToolSpec(nil), cfg.Tools...)
	for _, s := range tools.Specs() {
		if !hasTool(specs, s.Name) {
			specs = append(specs, s)
		}
	}
	a := &Agent{
		ID:              id,
		Role:            cfg.Role,
		Goal:            cfg.Goal,
		Backstory:       cfg.Backstory,
		Tools:           specs,
		AllowDelegation: cfg.AllowDelegation,
		ModelName:       cfg.ModelName,
		Status:          StatusIdle,
		CreatedAt:       time.Now(),
		gen:             gen,
		tools:           tools,
	}
	a.SystemPrompt = prompt.BuildFromTemplate(prompt.Skeleton("agent-creation"), map[string]any{
		"role":      a.Role,
		"goal":      a.Goal,
		"backstory": a.Backstory,
		"tools":     toolList(specs),
	})
	return a
}

// GenerateResponse answers prompt in the agent's role.
func (a *Agent) GenerateResponse(ctx context.Context, text string) (string, error) {
	a.setStatus(StatusWorking)
	defer a.setStatus(StatusIdle)

	gen, err := a.gen.GenerateText(ctx, text, provider.GenerateOptions{Model: a.ModelName, System: a.SystemPrompt})
	if err != nil {
		return "", err
	}
	return gen.Text, nil
}

// GenerateCode asks for code in language.
func (a *Agent) GenerateCode(ctx context.Context, text, language string) (string, error) {
	a.setStatus(StatusWorking)
	defer a.setStatus(StatusIdle)

	gen, err := a.gen.GenerateCode(ctx, text, language, provider.GenerateOptions{Model: a.ModelName})
	if err != nil {
		return "", err
	}
	return gen.Text, nil
}

// UseTool runs one of the agent's built-in tools.
func (a *Agent) UseTool(ctx context.Context, name string, args map[string]any) (string, error) {
	return a.tools.Execute(ctx, name, args)
}

// CurrentStatus returns the agent status.
func (a *Agent) CurrentStatus() Status {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.Status
}

func (a *Agent) setStatus(s Status) {
	a.mu.Lock()
	a.Status = s
	a.mu.Unlock()
}

func toolList(specs []ToolSpec) string {
	if len(specs) == 0 {
		return "None."
	}
	lines := make([]string, len(specs))
	for i, s := range specs {
		lines[i] = "- " + s.Name + ": " + s.Description
	}
	return strings.Join(lines, "\n")
}

func hasTool(specs []ToolSpec, name string) bool {
	for _, s := range specs {
		if s.Name == name {
			return true
		}
	}
	return false
}
