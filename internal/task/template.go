package task

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Template is a reusable prompt skeleton with {{name}} placeholders.
type Template struct {
	ID               string              `json:"id"`
	Name             string              `json:"name"`
	Description      string              `json:"description"`
	PromptTemplate   string              `json:"promptTemplate"`
	DefaultModelName string              `json:"defaultModelName,omitempty"`
	Parameters       []TemplateParameter `json:"parameters"`
	Category         string              `json:"category"`
	Tags             []string            `json:"tags,omitempty"`
	CreatedAt        time.Time           `json:"createdAt"`
	UpdatedAt        time.Time           `json:"updatedAt"`
}

// TemplateParameter describes one placeholder of a template.
type TemplateParameter struct {
	Name         string `json:"name"`
	Description  string `json:"description,omitempty"`
	Required     bool   `json:"required"`
	Type         string `json:"type"`
	DefaultValue any    `json:"defaultValue,omitempty"`
}

// NewTemplateID returns a fresh template identifier.
func NewTemplateID() string { return "template-" + uuid.New().String() }

// Clone returns a copy that shares no slices with t.
func (t *Template) Clone() *Template {
	c := *t
	c.Parameters = append([]TemplateParameter(nil), t.Parameters...)
	c.Tags = append([]string(nil), t.Tags...)
	return &c
}

// TemplateFilter narrows template listings.
type TemplateFilter struct {
	Category string `json:"category,omitempty"`
	Tag      string `json:"tag,omitempty"`
	Search   string `json:"search,omitempty"`
}

// Match reports whether t satisfies every set field of f.
func (f TemplateFilter) Match(t *Template) bool {
	if f.Category != "" && t.Category != f.Category {
		return false
	}
	if f.Tag != "" && !containsString(t.Tags, f.Tag) {
		return false
	}
	if f.Search != "" {
		q := strings.ToLower(f.Search)
		if !strings.Contains(strings.ToLower(t.Name), q) &&
			!strings.Contains(strings.ToLower(t.Description), q) {
			return false
		}
	}
	return true
}
