package events

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Bus is an in-process fan-out bus. Slow subscribers lose events rather
// than blocking publishers.
type Bus struct {
	mu     sync.RWMutex
	subs   map[int]chan Event
	nextID int
	buffer int
	logger *zap.Logger
}

// NewBus creates an in-process bus with the given per-subscriber buffer.
func NewBus(buffer int, logger *zap.Logger) *Bus {
	if buffer <= 0 {
		buffer = 64
	}
	return &Bus{
		subs:   make(map[int]chan Event),
		buffer: buffer,
		logger: logger,
	}
}

// Publish delivers evt to every current subscriber.
func (b *Bus) Publish(_ context.Context, evt Event) error {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for id, ch := range b.subs {
		select {
		case ch <- evt:
		default:
			b.logger.Warn("event dropped, subscriber full",
				zap.Int("subscriber", id), zap.String("type", string(evt.Type)))
		}
	}
	return nil
}

// Subscribe registers a subscriber that lives until ctx is done.
func (b *Bus) Subscribe(ctx context.Context) <-chan Event {
	ch := make(chan Event, b.buffer)

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.subs, id)
		close(ch)
		b.mu.Unlock()
	}()
	return ch
}
