// Package events carries task and execution lifecycle notifications.
package events

import (
	"context"
	"errors"
	"time"
)

// Type names a lifecycle event.
type Type string

const (
	TaskCreated  Type = "task_created"
	TaskUpdated  Type = "task_updated"
	TaskDeleted  Type = "task_deleted"
	TaskAssigned Type = "task_assigned"

	ExecutionStarted   Type = "task_execution_started"
	ExecutionCompleted Type = "task_execution_completed"
	ExecutionFailed    Type = "task_execution_failed"
	ExecutionCancelled Type = "task_execution_cancelled"
	ExecutionRetry     Type = "task_execution_retry"
)

// Event is the envelope published for every lifecycle change.
type Event struct {
	Type                Type           `json:"type"`
	ExecutionID         string         `json:"executionId,omitempty"`
	TaskID              string         `json:"taskId,omitempty"`
	AgentID             string         `json:"agentId,omitempty"`
	CrewID              string         `json:"crewId,omitempty"`
	Output              string         `json:"output,omitempty"`
	Error               string         `json:"error,omitempty"`
	Success             bool           `json:"success,omitempty"`
	ExecutionTime       int64          `json:"executionTime,omitempty"`
	AutoRetry           bool           `json:"autoRetry,omitempty"`
	OriginalExecutionID string         `json:"originalExecutionId,omitempty"`
	NewExecutionID      string         `json:"newExecutionId,omitempty"`
	Data                map[string]any `json:"data,omitempty"`
	Timestamp           time.Time      `json:"timestamp"`
}

// Publisher emits events.
type Publisher interface {
	Publish(ctx context.Context, evt Event) error
}

// Source delivers events until ctx is cancelled, then closes the channel.
type Source interface {
	Subscribe(ctx context.Context) <-chan Event
}

// Discard drops every event.
var Discard Publisher = discard{}

type discard struct{}

func (discard) Publish(context.Context, Event) error { return nil }

// Multi fans an event out to several publishers.
func Multi(pubs ...Publisher) Publisher {
	return multi(pubs)
}

type multi []Publisher

func (m multi) Publish(ctx context.Context, evt Event) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, evt); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
