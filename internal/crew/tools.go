package crew

import (
	"context"
	"fmt"
)

// ToolSpec describes a tool an agent advertises.
type ToolSpec struct {
	Name        string `json:"name" validate:"required"`
	Description string `json:"description"`
}

// ToolHandler executes a tool call with decoded arguments.
type ToolHandler func(ctx context.Context, args map[string]any) (string, error)

// ToolRegistry holds the tools an agent can actually run.
type ToolRegistry struct {
	specs    []ToolSpec
	handlers map[string]ToolHandler
}

// NewToolRegistry creates an empty registry.
func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{handlers: make(map[string]ToolHandler)}
}

// Register adds a tool spec and its handler.
func (r *ToolRegistry) Register(spec ToolSpec, handler ToolHandler) {
	r.specs = append(r.specs, spec)
	r.handlers[spec.Name] = handler
}

// Specs returns the registered tool specs.
func (r *ToolRegistry) Specs() []ToolSpec {
	return r.specs
}

// Execute runs a tool by name.
func (r *ToolRegistry) Execute(ctx context.Context, name string, args map[string]any) (string, error) {
	h, ok := r.handlers[name]
	if !ok {
		return "", fmt.Errorf("unknown tool: %s", name)
	}
	return h(ctx, args)
}

func stringArg(args map[string]any, key string) string {
	if v, ok := args[key].(string); ok {
		return v
	}
	return ""
}

func listArg(args map[string]any, key string) []string {
	switch v := args[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, x := range v {
			out = append(out, fmt.Sprint(x))
		}
		return out
	}
	return nil
}
