package provider

import (
	"fmt"

	"go.uber.org/zap"
)

// New builds a provider from its config type.
func New(cfg ProviderConfig, logger *zap.Logger) (Provider, error) {
	switch cfg.Type {
	case "openai", "":
		return NewOpenAIProvider(cfg, logger), nil
	case "anthropic":
		return NewAnthropicProvider(cfg, logger), nil
	case "ollama":
		return NewOllamaProvider(cfg, logger), nil
	}
	return nil, fmt.Errorf("unknown provider type %q for %s", cfg.Type, cfg.ID)
}
