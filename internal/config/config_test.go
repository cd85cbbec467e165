package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultsValidate(t *testing.T) {
	cfg := Defaults()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
	if cfg.Server.Port != 8080 || cfg.DefaultModel != "gpt-3" || cfg.Executor.RetryWorkers != 4 {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
}

func TestParseSubstitutesEnv(t *testing.T) {
	t.Setenv("TASKCREW_TEST_PORT", "9090")
	t.Setenv("TASKCREW_TEST_KEY", "sk-test")

	cfg, err := Parse([]byte(`{
		"server": {"port": ${TASKCREW_TEST_PORT}, "env": "${TASKCREW_TEST_ENV:staging}"},
		"providers": [{"id": "openai", "type": "openai", "api_key": "${TASKCREW_TEST_KEY}", "timeout_seconds": 30}],
		"models": [{"name": "gpt-4", "provider": "openai", "model": "gpt-4o", "fallbacks": []}],
		"default_model": "gpt-4"
	}`))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("port = %d", cfg.Server.Port)
	}
	if cfg.Server.Env != "staging" || cfg.NATS.Env != "staging" {
		t.Errorf("env = %q, nats env = %q", cfg.Server.Env, cfg.NATS.Env)
	}
	pcs := cfg.ProviderConfigs()
	if len(pcs) != 1 || pcs[0].APIKey != "sk-test" || pcs[0].Timeout != 30*time.Second {
		t.Errorf("providers = %+v", pcs)
	}
	if b := cfg.ModelBindings(); len(b) != 1 || b[0].ProviderID != "openai" {
		t.Errorf("models = %+v", b)
	}
	if cfg.Executor.RetryQueueSize != 64 || cfg.Executor.MaxAttempts != 3 {
		t.Errorf("executor defaults lost: %+v", cfg.Executor)
	}
}

func TestParseRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"unknown provider type": `{"providers": [{"id": "x", "type": "cohere"}], "models": [{"name": "m", "provider": "x", "model": "m"}], "default_model": "m"}`,
		"model without provider": `{"models": [{"name": "m", "provider": "missing", "model": "m"}], "default_model": "m"}`,
		"undeclared default":     `{"default_model": "claude"}`,
		"slack without token":    `{"gateway": {"slack": {"enabled": true, "channel": "#ops"}}}`,
		"bad temperature":        `{"executor": {"default_temperature": 3}}`,
		"malformed":              `{"server":`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Parse([]byte(raw)); err == nil {
				t.Fatal("expected an error")
			}
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "taskcrew.json")
	if err := os.WriteFile(path, []byte(`{"server": {"log_level": "production"}}`), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if !cfg.Production() {
		t.Error("expected production logging")
	}
	if got := cfg.TemplateCache().TTL; got != 5*time.Minute {
		t.Errorf("cache ttl = %v", got)
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Error("expected an error for a missing file")
	}
}
