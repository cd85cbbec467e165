package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/dgraph-io/ristretto/v2"
	"go.uber.org/zap"

	"github.com/nidhogg/taskcrew/internal/task"
)

// Config sizes the template cache.
type Config struct {
	NumCounters int64
	MaxCost     int64
	TTL         time.Duration
}

// Templates wraps a task.Repository and serves template lookups from memory.
// Every other method goes straight to the wrapped repository.
type Templates struct {
	task.Repository
	cache  *ristretto.Cache[string, *task.Template]
	ttl    time.Duration
	logger *zap.Logger
}

// NewTemplates builds the caching decorator.
func NewTemplates(repo task.Repository, cfg Config, logger *zap.Logger) (*Templates, error) {
	if cfg.NumCounters <= 0 {
		cfg.NumCounters = 10_000
	}
	if cfg.MaxCost <= 0 {
		cfg.MaxCost = 1_000
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 5 * time.Minute
	}
	c, err := ristretto.NewCache(&ristretto.Config[string, *task.Template]{
		NumCounters: cfg.NumCounters,
		MaxCost:     cfg.MaxCost,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("create template cache: %w", err)
	}
	return &Templates{Repository: repo, cache: c, ttl: cfg.TTL, logger: logger}, nil
}

// FindTemplateByID returns a cached copy when present.
func (t *Templates) FindTemplateByID(ctx context.Context, id string) (*task.Template, error) {
	if tmpl, ok := t.cache.Get(id); ok {
		return tmpl.Clone(), nil
	}
	tmpl, err := t.Repository.FindTemplateByID(ctx, id)
	if err != nil {
		return nil, err
	}
	t.cache.SetWithTTL(id, tmpl.Clone(), 1, t.ttl)
	return tmpl, nil
}

// SaveTemplate writes through and drops the cached entry.
func (t *Templates) SaveTemplate(ctx context.Context, tmpl *task.Template) error {
	if err := t.Repository.SaveTemplate(ctx, tmpl); err != nil {
		return err
	}
	t.cache.Del(tmpl.ID)
	return nil
}

// DeleteTemplate removes the template and its cached entry.
func (t *Templates) DeleteTemplate(ctx context.Context, id string) error {
	t.cache.Del(id)
	return t.Repository.DeleteTemplate(ctx, id)
}

// Wait blocks until buffered writes are applied.
func (t *Templates) Wait() { t.cache.Wait() }

// Close releases the cache goroutines.
func (t *Templates) Close() {
	m := t.cache.Metrics
	if m != nil {
		t.logger.Debug("template cache closed", zap.Uint64("hits", m.Hits()), zap.Uint64("misses", m.Misses()))
	}
	t.cache.Close()
}
