package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// DefaultStream is the Redis stream lifecycle events are appended to.
const DefaultStream = "taskcrew:events"

// RedisBus publishes and consumes lifecycle events through a Redis stream,
// so that several server processes share one event feed.
type RedisBus struct {
	rdb    *redis.Client
	stream string
	maxLen int64
	logger *zap.Logger
}

// NewRedisBus connects to Redis and returns a stream-backed bus.
func NewRedisBus(redisURL string, logger *zap.Logger) (*RedisBus, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return NewRedisBusFromClient(rdb, DefaultStream, logger), nil
}

// NewRedisBusFromClient wraps an existing client.
func NewRedisBusFromClient(rdb *redis.Client, stream string, logger *zap.Logger) *RedisBus {
	if stream == "" {
		stream = DefaultStream
	}
	return &RedisBus{rdb: rdb, stream: stream, maxLen: 10000, logger: logger}
}

// Publish appends evt to the stream.
func (rb *RedisBus) Publish(ctx context.Context, evt Event) error {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}
	data, err := json.Marshal(evt)
	if err != nil {
		return err
	}

	_, err = rb.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: rb.stream,
		MaxLen: rb.maxLen,
		Approx: true,
		Values: map[string]interface{}{
			"type": string(evt.Type),
			"data": string(data),
		},
	}).Result()
	if err != nil {
		return fmt.Errorf("publish to %s: %w", rb.stream, err)
	}

	rb.logger.Debug("published event",
		zap.String("type", string(evt.Type)),
		zap.String("execution", evt.ExecutionID))
	return nil
}

// Subscribe reads events appended after the call. Cancel ctx to stop.
func (rb *RedisBus) Subscribe(ctx context.Context) <-chan Event {
	ch := make(chan Event, 16)

	// Resolve the starting point now so events published right after
	// Subscribe returns are not skipped.
	lastID := "0-0"
	if last, err := rb.rdb.XRevRangeN(ctx, rb.stream, "+", "-", 1).Result(); err == nil && len(last) > 0 {
		lastID = last[0].ID
	}

	go func() {
		defer close(ch)

		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			results, err := rb.rdb.XRead(ctx, &redis.XReadArgs{
				Streams: []string{rb.stream, lastID},
				Count:   10,
				Block:   time.Second * 2,
			}).Result()

			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return
				}
				if !errors.Is(err, redis.Nil) {
					rb.logger.Warn("redis stream read failed", zap.Error(err))
					select {
					case <-ctx.Done():
						return
					case <-time.After(time.Second):
					}
				}
				continue
			}

			for _, r := range results {
				for _, msg := range r.Messages {
					lastID = msg.ID
					data, ok := msg.Values["data"].(string)
					if !ok {
						continue
					}
					var evt Event
					if json.Unmarshal([]byte(data), &evt) != nil {
						continue
					}
					select {
					case ch <- evt:
					case <-ctx.Done():
						return
					}
				}
			}
		}
	}()

	return ch
}

// Close shuts down the Redis connection.
func (rb *RedisBus) Close() error {
	return rb.rdb.Close()
}
