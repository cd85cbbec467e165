package config

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/nidhogg/taskcrew/internal/cache"
	"github.com/nidhogg/taskcrew/internal/provider"
)

// Config is the top-level configuration structure.
type Config struct {
	Server       ServerConfig     `json:"server"`
	Providers    []ProviderConfig `json:"providers" validate:"dive"`
	Models       []ModelConfig    `json:"models" validate:"dive"`
	DefaultModel string           `json:"default_model"`
	Database     DatabaseConfig   `json:"database"`
	NATS         NATSConfig       `json:"nats"`
	Executor     ExecutorConfig   `json:"executor"`
	Cache        CacheConfig      `json:"cache"`
	Gateway      GatewayConfig    `json:"gateway"`
}

type ServerConfig struct {
	Port     int    `json:"port" validate:"gte=1,lte=65535"`
	LogLevel string `json:"log_level" validate:"omitempty,oneof=debug info warn error production"`
	Env      string `json:"env" validate:"required"`
}

type ProviderConfig struct {
	ID             string `json:"id" validate:"required"`
	Type           string `json:"type" validate:"omitempty,oneof=openai anthropic ollama"`
	Name           string `json:"name"`
	Endpoint       string `json:"endpoint" validate:"omitempty,url"`
	APIKey         string `json:"api_key"`
	TimeoutSeconds int    `json:"timeout_seconds" validate:"gte=0"`
}

type ModelConfig struct {
	Name      string   `json:"name" validate:"required"`
	Provider  string   `json:"provider" validate:"required"`
	Model     string   `json:"model" validate:"required"`
	MaxTokens int      `json:"max_tokens,omitempty" validate:"gte=0"`
	Fallbacks []string `json:"fallbacks,omitempty"`
}

type DatabaseConfig struct {
	Postgres PostgresConfig `json:"postgres"`
	Redis    RedisConfig    `json:"redis"`
}

type PostgresConfig struct {
	DSN string `json:"dsn"`
}

type RedisConfig struct {
	URL string `json:"url"`
}

type NATSConfig struct {
	URL    string `json:"url"`
	Stream string `json:"stream"`
	Env    string `json:"env"`
}

type ExecutorConfig struct {
	RetryWorkers       int     `json:"retry_workers" validate:"gte=1"`
	RetryQueueSize     int     `json:"retry_queue_size" validate:"gte=1"`
	DefaultTemperature float64 `json:"default_temperature" validate:"gte=0,lte=2"`
	AutoRetry          bool    `json:"auto_retry"`
	MaxAttempts        int     `json:"max_attempts" validate:"gte=1"`
}

type CacheConfig struct {
	NumCounters int64 `json:"num_counters" validate:"gte=0"`
	MaxCost     int64 `json:"max_cost" validate:"gte=0"`
	TTLSeconds  int   `json:"ttl_seconds" validate:"gte=0"`
}

type GatewayConfig struct {
	Slack   ChannelConfig `json:"slack"`
	Discord ChannelConfig `json:"discord"`
}

// ChannelConfig is a chat bot token plus the channel notifications go to.
// WebhookURL is used by Discord to post under an agent's persona.
type ChannelConfig struct {
	Enabled    bool   `json:"enabled"`
	BotToken   string `json:"bot_token" validate:"required_if=Enabled true"`
	Channel    string `json:"channel" validate:"required_if=Enabled true"`
	WebhookURL string `json:"webhook_url,omitempty" validate:"omitempty,url"`
}

// envVarRe matches ${VAR} and ${VAR:default} patterns.
var envVarRe = regexp.MustCompile(`\$\{(\w+)(?::([^}]*))?\}`)

// Load reads a JSON config file, substitutes environment variable
// references, fills defaults and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Parse is Load without the file read.
func Parse(data []byte) (*Config, error) {
	resolved := envVarRe.ReplaceAllStringFunc(string(data), func(match string) string {
		parts := envVarRe.FindStringSubmatch(match)
		if v := os.Getenv(parts[1]); v != "" {
			return v
		}
		return parts[2]
	})

	cfg := Defaults()
	cfg.Providers, cfg.Models = nil, nil
	if err := json.Unmarshal([]byte(resolved), cfg); err != nil {
		return nil, err
	}
	cfg.fill()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Defaults returns the configuration used for anything a file leaves unset.
func Defaults() *Config {
	cfg := &Config{
		Server: ServerConfig{Port: 8080, LogLevel: "debug", Env: "development"},
		Providers: []ProviderConfig{
			{ID: "openai", Type: "openai", Name: "OpenAI", Endpoint: "https://api.openai.com/v1"},
			{ID: "ollama", Type: "ollama", Name: "Ollama", Endpoint: "http://localhost:11434"},
		},
		DefaultModel: provider.DefaultModelName,
		NATS:         NATSConfig{Stream: "TASKCREW"},
		Executor: ExecutorConfig{
			RetryWorkers:       4,
			RetryQueueSize:     64,
			DefaultTemperature: provider.DefaultTemperature,
			MaxAttempts:        3,
		},
		Cache: CacheConfig{NumCounters: 10_000, MaxCost: 1_000, TTLSeconds: 300},
	}
	for _, m := range provider.DefaultModels() {
		cfg.Models = append(cfg.Models, ModelConfig{
			Name: m.Name, Provider: m.ProviderID, Model: m.Model, MaxTokens: m.MaxTokens,
		})
	}
	return cfg
}

// fill restores defaults that an explicit zero value in the file wiped out.
func (c *Config) fill() {
	d := Defaults()
	if c.Server.Port == 0 {
		c.Server.Port = d.Server.Port
	}
	if c.Server.Env == "" {
		c.Server.Env = d.Server.Env
	}
	if c.NATS.Env == "" {
		c.NATS.Env = c.Server.Env
	}
	if c.NATS.Stream == "" {
		c.NATS.Stream = d.NATS.Stream
	}
	if c.DefaultModel == "" {
		c.DefaultModel = d.DefaultModel
	}
	if len(c.Providers) == 0 {
		c.Providers = d.Providers
	}
	if len(c.Models) == 0 {
		c.Models = d.Models
	}
	if c.Executor.RetryWorkers == 0 {
		c.Executor.RetryWorkers = d.Executor.RetryWorkers
	}
	if c.Executor.RetryQueueSize == 0 {
		c.Executor.RetryQueueSize = d.Executor.RetryQueueSize
	}
	if c.Executor.MaxAttempts == 0 {
		c.Executor.MaxAttempts = d.Executor.MaxAttempts
	}
}

// Validate checks struct tags and cross-field references.
func (c *Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	known := make(map[string]bool, len(c.Providers))
	for _, p := range c.Providers {
		known[p.ID] = true
	}
	names := make(map[string]bool, len(c.Models))
	for _, m := range c.Models {
		if !known[m.Provider] {
			return fmt.Errorf("invalid config: model %s references unknown provider %s", m.Name, m.Provider)
		}
		names[m.Name] = true
	}
	if !names[c.DefaultModel] {
		return fmt.Errorf("invalid config: default model %s is not declared", c.DefaultModel)
	}
	return nil
}

// Production reports whether the server should log in production mode.
func (c *Config) Production() bool { return c.Server.LogLevel == "production" }

// ProviderConfigs converts the provider section for provider.New.
func (c *Config) ProviderConfigs() []provider.ProviderConfig {
	out := make([]provider.ProviderConfig, 0, len(c.Providers))
	for _, p := range c.Providers {
		out = append(out, provider.ProviderConfig{
			ID:       p.ID,
			Type:     p.Type,
			Name:     p.Name,
			Endpoint: p.Endpoint,
			APIKey:   p.APIKey,
			Timeout:  time.Duration(p.TimeoutSeconds) * time.Second,
		})
	}
	return out
}

// ModelBindings converts the model section for provider.NewRouter.
func (c *Config) ModelBindings() []provider.ModelBinding {
	out := make([]provider.ModelBinding, 0, len(c.Models))
	for _, m := range c.Models {
		out = append(out, provider.ModelBinding{
			Name:       m.Name,
			ProviderID: m.Provider,
			Model:      m.Model,
			MaxTokens:  m.MaxTokens,
			Fallbacks:  m.Fallbacks,
		})
	}
	return out
}

// TemplateCache converts the cache section for cache.NewTemplates.
func (c *Config) TemplateCache() cache.Config {
	return cache.Config{
		NumCounters: c.Cache.NumCounters,
		MaxCost:     c.Cache.MaxCost,
		TTL:         time.Duration(c.Cache.TTLSeconds) * time.Second,
	}
}
