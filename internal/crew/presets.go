package crew

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/nidhogg/taskcrew/internal/provider"
	"github.com/nidhogg/taskcrew/internal/task"
)

// Preset names accepted by CreatePreset.
const (
	PresetBackend   = "backend"
	PresetFullstack = "fullstack"
)

// codeModel is used by the preset code tools.
const codeModel = "gpt-4"

var (
	backendAgent = AgentConfig{
		Role:      "Backend Developer",
		Goal:      "Create high-quality NestJS code following best practices and SOLID principles",
		Backstory: "I am an expert NestJS developer with years of experience in creating scalable backend applications.",
	}
	frontendAgent = AgentConfig{
		Role:      "Frontend Developer",
		Goal:      "Create beautiful and functional React components using Next.js",
		Backstory: "I am a frontend expert specializing in React and Next.js applications.",
	}
	dbDesignerAgent = AgentConfig{
		Role:      "Database Designer",
		Goal:      "Design efficient and normalized database schemas",
		Backstory: "I am a database expert specializing in PostgreSQL schema design.",
	}
	devOpsAgent = AgentConfig{
		Role:      "DevOps Engineer",
		Goal:      "Set up and manage infrastructure and deployment pipelines",
		Backstory: "I am a DevOps specialist with expertise in Docker, Kubernetes, and CI/CD.",
	}
)

// CreatePreset builds one of the named preset crews.
func (m *Manager) CreatePreset(name string) (*Crew, error) {
	switch name {
	case PresetBackend:
		return m.CreateBackendCrew(), nil
	case PresetFullstack:
		return m.CreateFullstackCrew(), nil
	}
	return nil, task.NotFoundError("crew preset", name)
}

// CreateBackendCrew builds a backend developer, a database designer and a
// DevOps engineer with API, schema and deployment tasks.
func (m *Manager) CreateBackendCrew() *Crew {
	agents := []*Agent{
		m.presetAgent(backendAgent, m.backendTools()),
		m.presetAgent(dbDesignerAgent, nil),
		m.presetAgent(devOpsAgent, nil),
	}
	return m.registerCrew(CrewConfig{
		Name: "backend",
		Tasks: []Task{
			{ID: "create-api", Description: "Create a complete REST API for a given resource",
				ExpectedOutput: "Complete NestJS module with controller, service, and DTOs"},
			{ID: "design-schema", Description: "Design database schema for a given domain",
				ExpectedOutput: "Prisma schema and migration files"},
			{ID: "setup-deployment", Description: "Create deployment configuration",
				ExpectedOutput: "Docker and Kubernetes configuration files"},
		},
		Verbose: true,
	}, agents)
}

// CreateFullstackCrew builds backend, frontend and DevOps agents sharing a
// single full-stack feature task.
func (m *Manager) CreateFullstackCrew() *Crew {
	agents := []*Agent{
		m.presetAgent(backendAgent, m.backendTools()),
		m.presetAgent(frontendAgent, m.frontendTools()),
		m.presetAgent(devOpsAgent, nil),
	}
	return m.registerCrew(CrewConfig{
		Name: "fullstack",
		Tasks: []Task{
			{ID: "create-fullstack-feature", Description: "Create a complete full-stack feature",
				ExpectedOutput: "Backend API and Frontend components"},
		},
		Verbose: true,
	}, agents)
}

func (m *Manager) presetAgent(cfg AgentConfig, tools *ToolRegistry) *Agent {
	return newAgent("agent-"+uuid.New().String(), cfg, m.gen, tools)
}

func (m *Manager) backendTools() *ToolRegistry {
	r := NewToolRegistry()
	r.Register(ToolSpec{Name: "generateController", Description: "Generate a NestJS controller with endpoints"},
		func(ctx context.Context, args map[string]any) (string, error) {
			return m.code(ctx, fmt.Sprintf("Create a NestJS controller for %s with the following endpoints: %s",
				stringArg(args, "resource"), strings.Join(listArg(args, "endpoints"), ", ")), "typescript")
		})
	r.Register(ToolSpec{Name: "generateService", Description: "Generate a NestJS service"},
		func(ctx context.Context, args map[string]any) (string, error) {
			return m.code(ctx, fmt.Sprintf("Create a NestJS service for %s with the following methods: %s",
				stringArg(args, "resource"), strings.Join(listArg(args, "methods"), ", ")), "typescript")
		})
	return r
}

func (m *Manager) frontendTools() *ToolRegistry {
	r := NewToolRegistry()
	r.Register(ToolSpec{Name: "generateComponent", Description: "Generate a React component"},
		func(ctx context.Context, args map[string]any) (string, error) {
			return m.code(ctx, fmt.Sprintf("Create a React component for %s with the following props: %s",
				stringArg(args, "purpose"), compactJSON(mapArg(args, "props"))), "typescript")
		})
	return r
}

func (m *Manager) code(ctx context.Context, text, language string) (string, error) {
	gen, err := m.gen.GenerateCode(ctx, text, language, provider.GenerateOptions{Model: codeModel})
	if err != nil {
		return "", err
	}
	return gen.Text, nil
}

func mapArg(args map[string]any, key string) map[string]any {
	if v, ok := args[key].(map[string]any); ok {
		return v
	}
	return nil
}
