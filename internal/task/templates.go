package task

import (
	"context"
	"fmt"
	"strings"

	"github.com/nidhogg/taskcrew/internal/prompt"
	"go.uber.org/zap"
)

// CreateTemplate holds the caller-supplied fields of a template.
type CreateTemplate struct {
	Name             string              `json:"name" validate:"required"`
	Description      string              `json:"description"`
	PromptTemplate   string              `json:"promptTemplate" validate:"required"`
	DefaultModelName string              `json:"defaultModelName,omitempty"`
	Parameters       []TemplateParameter `json:"parameters,omitempty"`
	Category         string              `json:"category"`
	Tags             []string            `json:"tags,omitempty"`
}

// CreateTemplate stores a new template.
func (s *Service) CreateTemplate(ctx context.Context, in CreateTemplate) (*Template, error) {
	if err := validateTemplate(in); err != nil {
		return nil, err
	}
	now := s.now()
	tmpl := &Template{
		ID:               NewTemplateID(),
		Name:             in.Name,
		Description:      in.Description,
		PromptTemplate:   in.PromptTemplate,
		DefaultModelName: in.DefaultModelName,
		Parameters:       append([]TemplateParameter{}, in.Parameters...),
		Category:         in.Category,
		Tags:             append([]string(nil), in.Tags...),
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.repo.SaveTemplate(ctx, tmpl); err != nil {
		return nil, err
	}
	s.logger.Info("template created", zap.String("template", tmpl.ID), zap.String("name", tmpl.Name))
	return tmpl, nil
}

// GetTemplate returns a template by id.
func (s *Service) GetTemplate(ctx context.Context, id string) (*Template, error) {
	return s.repo.FindTemplateByID(ctx, id)
}

// ListTemplates returns templates matching f.
func (s *Service) ListTemplates(ctx context.Context, f TemplateFilter) ([]*Template, error) {
	return s.repo.FindAllTemplates(ctx, f)
}

// ReplaceTemplate swaps the content of a template, keeping its id and creation time.
func (s *Service) ReplaceTemplate(ctx context.Context, id string, in CreateTemplate) (*Template, error) {
	if err := validateTemplate(in); err != nil {
		return nil, err
	}
	current, err := s.repo.FindTemplateByID(ctx, id)
	if err != nil {
		return nil, err
	}
	tmpl := &Template{
		ID:               current.ID,
		Name:             in.Name,
		Description:      in.Description,
		PromptTemplate:   in.PromptTemplate,
		DefaultModelName: in.DefaultModelName,
		Parameters:       append([]TemplateParameter{}, in.Parameters...),
		Category:         in.Category,
		Tags:             append([]string(nil), in.Tags...),
		CreatedAt:        current.CreatedAt,
		UpdatedAt:        s.now(),
	}
	if err := s.repo.SaveTemplate(ctx, tmpl); err != nil {
		return nil, err
	}
	return tmpl, nil
}

// DeleteTemplate removes a template.
func (s *Service) DeleteTemplate(ctx context.Context, id string) error {
	return s.repo.DeleteTemplate(ctx, id)
}

// SeedTemplates installs the built-in templates whose names are not taken yet.
// It returns how many were created.
func (s *Service) SeedTemplates(ctx context.Context) (int, error) {
	existing, err := s.repo.FindAllTemplates(ctx, TemplateFilter{})
	if err != nil {
		return 0, err
	}
	taken := make(map[string]bool, len(existing))
	for _, t := range existing {
		taken[t.Name] = true
	}

	created := 0
	for _, b := range BuiltinTemplates() {
		if taken[b.Name] {
			continue
		}
		if _, err := s.CreateTemplate(ctx, b); err != nil {
			return created, fmt.Errorf("seed template %s: %w", b.Name, err)
		}
		created++
	}
	return created, nil
}

// BuiltinTemplates returns the templates shipped with the service.
func BuiltinTemplates() []CreateTemplate {
	params := []TemplateParameter{
		{Name: "taskDescription", Description: "What the task asks for", Required: true, Type: "string"},
		{Name: "expectedOutput", Description: "Deliverable the task expects", Type: "string"},
		{Name: "context", Description: "Task context as JSON", Type: "json"},
	}
	return []CreateTemplate{
		{
			Name:           "backend-task",
			Description:    "Backend implementation of a feature",
			PromptTemplate: prompt.Skeleton("backend-task"),
			Parameters:     params,
			Category:       "backend",
			Tags:           []string{"api", "server"},
		},
		{
			Name:           "frontend-task",
			Description:    "Frontend implementation of a feature",
			PromptTemplate: prompt.Skeleton("frontend-task"),
			Parameters:     params,
			Category:       "frontend",
			Tags:           []string{"ui"},
		},
		{
			Name:           "database-design",
			Description:    "Data model and schema design",
			PromptTemplate: prompt.Skeleton("database-design"),
			Parameters:     params,
			Category:       "data",
			Tags:           []string{"schema"},
		},
	}
}

func validateTemplate(in CreateTemplate) error {
	if strings.TrimSpace(in.Name) == "" {
		return fmt.Errorf("%w: template name is required", ErrValidation)
	}
	if strings.TrimSpace(in.PromptTemplate) == "" {
		return fmt.Errorf("%w: prompt template is required", ErrValidation)
	}
	return nil
}
