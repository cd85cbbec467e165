package provider

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// Router resolves public model names to providers and retries through
// each model's fallback chain.
type Router struct {
	providers    map[string]Provider
	models       map[string]ModelBinding
	defaultModel string
	mu           sync.RWMutex
	logger       *zap.Logger
}

// NewRouter creates a router with the given model table.
func NewRouter(models []ModelBinding, defaultModel string, logger *zap.Logger) *Router {
	r := &Router{
		providers:    make(map[string]Provider),
		models:       make(map[string]ModelBinding, len(models)),
		defaultModel: defaultModel,
		logger:       logger,
	}
	for _, m := range models {
		r.models[m.Name] = m
	}
	if r.defaultModel == "" {
		r.defaultModel = DefaultModelName
	}
	return r
}

// Register adds a provider to the router.
func (r *Router) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.ID()] = p
	r.logger.Info("registered provider", zap.String("id", p.ID()), zap.String("name", p.Name()))
}

// Bind adds or replaces a model binding.
func (r *Router) Bind(m ModelBinding) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.models[m.Name] = m
}

// DefaultModel returns the model used when a request names none.
func (r *Router) DefaultModel() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.defaultModel
}

// Resolve returns the binding for name. Empty and unknown names resolve
// to the default model.
func (r *Router) Resolve(name string) (ModelBinding, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.resolve(name)
}

func (r *Router) resolve(name string) (ModelBinding, error) {
	if m, ok := r.models[name]; ok {
		return m, nil
	}
	if name != "" {
		r.logger.Debug("unknown model, using default", zap.String("model", name), zap.String("default", r.defaultModel))
	}
	if m, ok := r.models[r.defaultModel]; ok {
		return m, nil
	}
	return ModelBinding{}, fmt.Errorf("no binding for model %q or default %q", name, r.defaultModel)
}

// Route sends req through the provider bound to modelName. The binding
// that answered is returned alongside the response.
func (r *Router) Route(ctx context.Context, modelName string, req *ChatRequest) (*ChatResponse, ModelBinding, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	primary, err := r.resolve(modelName)
	if err != nil {
		return nil, ModelBinding{}, err
	}
	chain := append([]string{primary.Name}, primary.Fallbacks...)

	var lastErr error
	for i, name := range chain {
		binding, ok := r.models[name]
		if !ok {
			continue
		}
		p, ok := r.providers[binding.ProviderID]
		if !ok {
			lastErr = fmt.Errorf("provider %s is not registered", binding.ProviderID)
			continue
		}
		attempt := *req
		attempt.Model = binding.Model
		if attempt.MaxTokens == 0 {
			attempt.MaxTokens = binding.MaxTokens
		}
		resp, err := p.Chat(ctx, &attempt)
		if err == nil {
			return resp, binding, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
		if i == 0 && len(chain) > 1 {
			r.logger.Warn("primary model failed, trying fallbacks", zap.String("model", name), zap.Error(err))
		} else if i > 0 {
			r.logger.Warn("fallback model failed", zap.String("model", name), zap.Error(err))
		}
	}
	return nil, primary, lastErr
}

// GetProvider returns a provider by ID.
func (r *Router) GetProvider(id string) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[id]
	return p, ok
}

// ListProviders returns all registered providers ordered by id.
func (r *Router) ListProviders() []Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]Provider, 0, len(r.providers))
	for _, p := range r.providers {
		result = append(result, p)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID() < result[j].ID() })
	return result
}

// ListModels returns the configured model bindings ordered by name.
func (r *Router) ListModels() []ModelBinding {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ModelBinding, 0, len(r.models))
	for _, m := range r.models {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
