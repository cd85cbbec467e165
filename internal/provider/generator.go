package provider

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

const (
	// DefaultTemperature applies when a caller does not set one.
	DefaultTemperature = 0.7
	codeTemperature    = 0.2
)

// GenerateOptions tune a single generation. A nil Temperature means default.
type GenerateOptions struct {
	Model       string
	Temperature *float64
	MaxTokens   int
	System      string
}

// Generation is the text produced by a provider plus routing details.
type Generation struct {
	Text     string        `json:"text"`
	Model    string        `json:"model"`
	Provider string        `json:"provider"`
	Usage    Usage         `json:"usage"`
	Latency  time.Duration `json:"latency"`
}

// ModelInfo describes a resolved model name.
type ModelInfo struct {
	Name         string   `json:"name"`
	Provider     string   `json:"provider"`
	Model        string   `json:"model"`
	Capabilities []string `json:"capabilities"`
}

// Generator is the prompt-in, text-out capability the rest of the system uses.
type Generator struct {
	router *Router
	logger *zap.Logger
}

// NewGenerator wraps a router.
func NewGenerator(router *Router, logger *zap.Logger) *Generator {
	return &Generator{router: router, logger: logger}
}

// GenerateText sends prompt as a single user message.
func (g *Generator) GenerateText(ctx context.Context, prompt string, opts GenerateOptions) (*Generation, error) {
	temp := DefaultTemperature
	if opts.Temperature != nil {
		temp = *opts.Temperature
	}
	req := &ChatRequest{Temperature: temp, MaxTokens: opts.MaxTokens}
	if opts.System != "" {
		req.Messages = append(req.Messages, Message{Role: "system", Content: opts.System})
	}
	req.Messages = append(req.Messages, Message{Role: "user", Content: prompt})

	start := time.Now()
	resp, binding, err := g.router.Route(ctx, opts.Model, req)
	if err != nil {
		return nil, err
	}
	latency := time.Since(start)
	g.logger.Debug("text generated",
		zap.String("model", binding.Name),
		zap.String("provider", binding.ProviderID),
		zap.Int("tokens", resp.Usage.TotalTokens),
		zap.Duration("latency", latency))

	return &Generation{
		Text:     resp.Content,
		Model:    binding.Name,
		Provider: binding.ProviderID,
		Usage:    resp.Usage,
		Latency:  latency,
	}, nil
}

// GenerateCode asks for code only, at a lower temperature unless overridden.
func (g *Generator) GenerateCode(ctx context.Context, prompt, language string, opts GenerateOptions) (*Generation, error) {
	if opts.Temperature == nil {
		t := codeTemperature
		opts.Temperature = &t
	}
	codePrompt := fmt.Sprintf("Generate %s code for the following task. Return ONLY the code without explanations or markdown:\n\n%s",
		language, prompt)
	return g.GenerateText(ctx, codePrompt, opts)
}

// ModelInfo resolves name the same way GenerateText would.
func (g *Generator) ModelInfo(name string) (ModelInfo, error) {
	b, err := g.router.Resolve(name)
	if err != nil {
		return ModelInfo{}, err
	}
	return ModelInfo{
		Name:         b.Name,
		Provider:     b.ProviderID,
		Model:        b.Model,
		Capabilities: []string{"text", "code", "reasoning"},
	}, nil
}

// DefaultModel returns the router's default model name.
func (g *Generator) DefaultModel() string { return g.router.DefaultModel() }
