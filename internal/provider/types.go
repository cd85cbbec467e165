package provider

import (
	"context"
	"time"
)

// Provider is an LLM backend reachable over HTTP.
type Provider interface {
	ID() string
	Name() string
	Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error)
	ListModels(ctx context.Context) ([]Model, error)
	HealthCheck(ctx context.Context) error
}

// ChatRequest represents a request to an LLM provider.
type ChatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Stop        []string  `json:"stop,omitempty"`
}

// Message represents a chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatResponse represents a response from an LLM provider.
type ChatResponse struct {
	ID           string `json:"id"`
	Model        string `json:"model"`
	Content      string `json:"content"`
	FinishReason string `json:"finish_reason"`
	Usage        Usage  `json:"usage"`
}

// Usage tracks token consumption.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Model describes an available LLM model.
type Model struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Provider  string `json:"provider"`
	MaxTokens int    `json:"max_tokens"`
}

// ProviderConfig holds configuration for a provider instance.
type ProviderConfig struct {
	ID       string        `json:"id"`
	Type     string        `json:"type"` // openai|anthropic|ollama
	Name     string        `json:"name"`
	Endpoint string        `json:"endpoint"`
	APIKey   string        `json:"api_key"`
	Timeout  time.Duration `json:"timeout,omitempty"`
}

// ModelBinding maps a public model name to a provider and its model id.
type ModelBinding struct {
	Name       string   `json:"name"`
	ProviderID string   `json:"provider"`
	Model      string   `json:"model"`
	MaxTokens  int      `json:"max_tokens,omitempty"`
	Fallbacks  []string `json:"fallbacks,omitempty"`
}

// DefaultModels is the model table used when the config declares none.
func DefaultModels() []ModelBinding {
	return []ModelBinding{
		{Name: "gpt-3", ProviderID: "openai", Model: "gpt-3.5-turbo", MaxTokens: 4000},
		{Name: "gpt-4", ProviderID: "openai", Model: "gpt-4-0125-preview", MaxTokens: 4000},
		{Name: "llama3", ProviderID: "ollama", Model: "llama3", MaxTokens: 4000},
		{Name: "mistral", ProviderID: "ollama", Model: "mistral", MaxTokens: 4000},
	}
}

// DefaultModelName is used when neither the request nor a template names a model.
const DefaultModelName = "gpt-3"

func defaultTimeout(d time.Duration) time.Duration {
	if d == 0 {
		return 120 * time.Second
	}
	return d
}
