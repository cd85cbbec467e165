package task

import (
	"context"
	"fmt"
	"strings"

	"github.com/nidhogg/taskcrew/internal/prompt"
	"go.uber.org/zap"
)

// Analysis is a heuristic breakdown of a task description.
type Analysis struct {
	Domain            string   `json:"domain"`
	Complexity        string   `json:"complexity"`
	RequiredKnowledge []string `json:"requiredKnowledge"`
	Subtasks          []string `json:"subtasks"`
	EstimatedTime     string   `json:"estimatedTime"`
	Dependencies      []string `json:"dependencies"`
	RecommendedAgents []string `json:"recommendedAgents"`
	Prompt            string   `json:"prompt"`
}

const (
	DomainBackend  = "backend-development"
	DomainFrontend = "frontend-development"
	DomainData     = "data-modeling"
	DomainGeneral  = "general-development"
)

var analysisSteps = []string{
	"1. Identify the main domain of the task",
	"2. Estimate its complexity (low, medium, high)",
	"3. List the knowledge needed to complete it",
	"4. Suggest a breakdown into subtasks where it applies",
	"5. Estimate the execution time",
	"6. Identify dependencies and prerequisites",
	"7. Recommend the agents best suited to run it",
}

var complexityKeywords = []string{"complex", "difficult", "advanced", "secure", "optimize", "performance"}

// Subject returns the fields the prompt builders read.
func (t *Task) Subject() prompt.Subject {
	return prompt.Subject{
		ID:             t.ID,
		Description:    t.Description,
		ExpectedOutput: t.ExpectedOutput,
		Context:        t.Context,
	}
}

// Analyze estimates domain, complexity and staffing for a task description.
func (s *Service) Analyze(_ context.Context, description string, taskCtx map[string]any) (*Analysis, error) {
	if strings.TrimSpace(description) == "" {
		return nil, fmt.Errorf("%w: description is required", ErrValidation)
	}

	question := fmt.Sprintf("Analyze the following task: %q", description)
	if len(taskCtx) > 0 {
		question += " with the additional context: " + prompt.Stringify(taskCtx)
	}

	domain := inferDomain(description)
	complexity := estimateComplexity(description)
	a := &Analysis{
		Domain:            domain,
		Complexity:        complexity,
		RequiredKnowledge: requiredKnowledge(description, taskCtx),
		Subtasks:          subtasksFor(domain),
		EstimatedTime:     estimatedTime(complexity),
		Dependencies:      dependenciesFor(domain),
		RecommendedAgents: agentsFor(domain),
		Prompt:            prompt.ChainOfThought(question, analysisSteps, "", ""),
	}
	s.logger.Info("task analyzed", zap.String("domain", domain), zap.String("complexity", complexity))
	return a, nil
}

func containsAny(text string, words ...string) bool {
	for _, w := range words {
		if strings.Contains(text, w) {
			return true
		}
	}
	return false
}

func inferDomain(description string) string {
	d := strings.ToLower(description)
	switch {
	case containsAny(d, "api", "backend", "controller", "database"):
		return DomainBackend
	case containsAny(d, "ui", "interface", "component", "frontend"):
		return DomainFrontend
	case containsAny(d, "design", "schema", "model", "entity"):
		return DomainData
	}
	return DomainGeneral
}

func estimateComplexity(description string) string {
	d := strings.ToLower(description)
	hits := 0
	for _, kw := range complexityKeywords {
		if strings.Contains(d, kw) {
			hits++
		}
	}
	switch {
	case len(description) > 200 || hits >= 2:
		return "high"
	case len(description) > 100 || hits >= 1:
		return "medium"
	}
	return "low"
}

func contextMentions(taskCtx map[string]any, key, value string) bool {
	switch v := taskCtx[key].(type) {
	case string:
		return strings.Contains(strings.ToLower(v), value)
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok && strings.EqualFold(s, value) {
				return true
			}
		}
	case []string:
		for _, s := range v {
			if strings.EqualFold(s, value) {
				return true
			}
		}
	}
	return false
}

func requiredKnowledge(description string, taskCtx map[string]any) []string {
	d := strings.ToLower(description)
	var out []string
	add := func(cond bool, k string) {
		if cond {
			out = append(out, k)
		}
	}
	add(strings.Contains(d, "nestjs") || contextMentions(taskCtx, "technologies", "nestjs"), "NestJS")
	add(strings.Contains(d, "prisma") || contextMentions(taskCtx, "database", "prisma"), "Prisma ORM")
	add(strings.Contains(d, "react") || contextMentions(taskCtx, "technologies", "react"), "React")
	add(strings.Contains(d, "next") || contextMentions(taskCtx, "technologies", "next"), "Next.js")
	out = append(out, "TypeScript")
	add(containsAny(d, "database", "model", "entity"), "Database Design")
	return out
}

func subtasksFor(domain string) []string {
	switch domain {
	case DomainBackend:
		return []string{
			"Define the controller structure",
			"Implement the REST endpoints",
			"Create validation DTOs",
			"Implement the service logic",
			"Document the API",
			"Write unit tests",
		}
	case DomainFrontend:
		return []string{
			"Create the components",
			"Implement custom hooks",
			"Style the components",
			"Integrate with the API",
			"Add component tests",
		}
	case DomainData:
		return []string{
			"Define entities and relationships",
			"Write the schema",
			"Define indexes and constraints",
			"Prepare migrations",
		}
	}
	return []string{}
}

func estimatedTime(complexity string) string {
	switch complexity {
	case "low":
		return "30-60 minutes"
	case "medium":
		return "1-3 hours"
	case "high":
		return "4-8 hours"
	}
	return "unknown"
}

func dependenciesFor(domain string) []string {
	switch domain {
	case DomainBackend:
		return []string{"Data model defined", "Database connection configured"}
	case DomainFrontend:
		return []string{"Backend API implemented", "Interface design agreed"}
	}
	return []string{}
}

func agentsFor(domain string) []string {
	switch domain {
	case DomainBackend:
		return []string{"Backend Developer", "Database Designer"}
	case DomainFrontend:
		return []string{"Frontend Developer", "UI Designer"}
	case DomainData:
		return []string{"Database Designer", "Backend Developer"}
	}
	return []string{"Fullstack Developer"}
}
