package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"
)

const ollamaDefaultPredict = 2000

// OllamaProvider talks to a local Ollama server through /api/generate.
type OllamaProvider struct {
	config ProviderConfig
	client *http.Client
	logger *zap.Logger
}

// NewOllamaProvider creates a provider for an Ollama endpoint.
func NewOllamaProvider(cfg ProviderConfig, logger *zap.Logger) *OllamaProvider {
	if cfg.Endpoint == "" {
		cfg.Endpoint = "http://localhost:11434"
	}
	if cfg.Name == "" {
		cfg.Name = "Ollama"
	}
	return &OllamaProvider{
		config: cfg,
		client: &http.Client{Timeout: defaultTimeout(cfg.Timeout)},
		logger: logger,
	}
}

func (p *OllamaProvider) ID() string   { return p.config.ID }
func (p *OllamaProvider) Name() string { return p.config.Name }

type ollamaGenerateRequest struct {
	Model   string        `json:"model"`
	Prompt  string        `json:"prompt"`
	System  string        `json:"system,omitempty"`
	Stream  bool          `json:"stream"`
	Options ollamaOptions `json:"options"`
}

type ollamaOptions struct {
	Temperature float64  `json:"temperature,omitempty"`
	NumPredict  int      `json:"num_predict"`
	Stop        []string `json:"stop,omitempty"`
}

type ollamaGenerateResponse struct {
	Model           string `json:"model"`
	Response        string `json:"response"`
	Done            bool   `json:"done"`
	DoneReason      string `json:"done_reason"`
	PromptEvalCount int    `json:"prompt_eval_count"`
	EvalCount       int    `json:"eval_count"`
}

// Chat flattens the conversation into a single prompt for /api/generate.
func (p *OllamaProvider) Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	gen := ollamaGenerateRequest{
		Model:  req.Model,
		Stream: false,
		Options: ollamaOptions{
			Temperature: req.Temperature,
			NumPredict:  req.MaxTokens,
			Stop:        req.Stop,
		},
	}
	if gen.Options.NumPredict == 0 {
		gen.Options.NumPredict = ollamaDefaultPredict
	}
	var parts []string
	for _, m := range req.Messages {
		if m.Role == "system" {
			gen.System = m.Content
			continue
		}
		parts = append(parts, m.Content)
	}
	gen.Prompt = strings.Join(parts, "\n\n")

	body, err := json.Marshal(gen)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		p.config.Endpoint+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, &APIError{Provider: p.config.ID, Status: resp.StatusCode, Body: string(respBody)}
	}

	var out ollamaGenerateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &ChatResponse{
		Model:        out.Model,
		Content:      out.Response,
		FinishReason: out.DoneReason,
		Usage: Usage{
			PromptTokens:     out.PromptEvalCount,
			CompletionTokens: out.EvalCount,
			TotalTokens:      out.PromptEvalCount + out.EvalCount,
		},
	}, nil
}

// ListModels returns the models pulled into the Ollama server.
func (p *OllamaProvider) ListModels(ctx context.Context) ([]Model, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, p.config.Endpoint+"/api/tags", nil)
	if err != nil {
		return nil, err
	}
	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, &APIError{Provider: p.config.ID, Status: resp.StatusCode, Body: string(respBody)}
	}

	var result struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}
	models := make([]Model, len(result.Models))
	for i, m := range result.Models {
		models[i] = Model{ID: m.Name, Name: m.Name, Provider: p.config.ID}
	}
	return models, nil
}

// HealthCheck verifies the server answers.
func (p *OllamaProvider) HealthCheck(ctx context.Context) error {
	_, err := p.ListModels(ctx)
	return err
}
