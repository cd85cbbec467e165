package gateway

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// Gateway manages all platform adapters.
type Gateway struct {
	adapters map[string]Adapter
	mu       sync.RWMutex
	logger   *zap.Logger
}

// NewGateway creates a gateway manager.
func NewGateway(logger *zap.Logger) *Gateway {
	return &Gateway{
		adapters: make(map[string]Adapter),
		logger:   logger,
	}
}

// Register adds an adapter, replacing any previous one for the same platform.
func (g *Gateway) Register(adapter Adapter) {
	g.mu.Lock()
	defer g.mu.Unlock()

	platform := adapter.Platform()
	g.adapters[platform] = adapter
	g.logger.Info("registered gateway adapter", zap.String("platform", platform))
}

// PersonaSetter is implemented by adapters that can post as an agent.
type PersonaSetter interface {
	SetPersona(agentID string, persona *AgentPersona)
}

// SetPersona hands an agent's persona to every adapter that supports one.
func (g *Gateway) SetPersona(agentID string, persona *AgentPersona) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	for _, adapter := range g.adapters {
		if ps, ok := adapter.(PersonaSetter); ok {
			ps.SetPersona(agentID, persona)
		}
	}
}

// ConnectAll starts all registered adapters.
func (g *Gateway) ConnectAll(ctx context.Context) error {
	g.mu.RLock()
	defer g.mu.RUnlock()

	for platform, adapter := range g.adapters {
		if err := adapter.Connect(ctx); err != nil {
			g.logger.Error("adapter connect failed",
				zap.String("platform", platform), zap.Error(err))
			return fmt.Errorf("connect %s: %w", platform, err)
		}
		g.logger.Info("adapter connected", zap.String("platform", platform))
	}
	return nil
}

// Broadcast sends n to every adapter, or only to n.Platforms when set.
// It returns the platforms that accepted the notification.
func (g *Gateway) Broadcast(ctx context.Context, n *Notification) ([]string, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	targets := g.adapters
	if len(n.Platforms) > 0 {
		targets = make(map[string]Adapter)
		for _, p := range n.Platforms {
			if a, ok := g.adapters[p]; ok {
				targets[p] = a
			}
		}
	}

	var (
		sent []string
		errs int
	)
	for platform, adapter := range targets {
		if err := adapter.Notify(ctx, n); err != nil {
			g.logger.Error("notification failed",
				zap.String("platform", platform), zap.String("execution", n.ExecutionID), zap.Error(err))
			errs++
			continue
		}
		sent = append(sent, platform)
	}
	sort.Strings(sent)
	if errs > 0 {
		return sent, fmt.Errorf("notification failed on %d platform(s)", errs)
	}
	return sent, nil
}

// Close shuts down all adapters.
func (g *Gateway) Close() error {
	g.mu.RLock()
	defer g.mu.RUnlock()

	for platform, adapter := range g.adapters {
		if err := adapter.Close(); err != nil {
			g.logger.Error("adapter close failed",
				zap.String("platform", platform), zap.Error(err))
		}
	}
	return nil
}

// Adapters returns the registered platform names in order.
func (g *Gateway) Adapters() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	names := make([]string, 0, len(g.adapters))
	for p := range g.adapters {
		names = append(names, p)
	}
	sort.Strings(names)
	return names
}

// Statuses reports every adapter's connection state.
func (g *Gateway) Statuses() []AdapterStatus {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]AdapterStatus, 0, len(g.adapters))
	for _, a := range g.adapters {
		out = append(out, a.Status())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Platform < out[j].Platform })
	return out
}
