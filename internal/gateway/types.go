// Package gateway forwards execution outcomes to chat platforms.
package gateway

import (
	"context"
	"time"
)

// Adapter delivers notifications to one platform.
type Adapter interface {
	Platform() string
	Connect(ctx context.Context) error
	Notify(ctx context.Context, n *Notification) error
	Status() AdapterStatus
	Close() error
}

// Kind categorizes notifications.
type Kind string

const (
	KindCompleted Kind = "completed"
	KindFailed    Kind = "failed"
	KindCancelled Kind = "cancelled"
)

// Notification is a platform-neutral execution outcome.
type Notification struct {
	Kind          Kind      `json:"kind"`
	Title         string    `json:"title"`
	Content       string    `json:"content"`
	ExecutionID   string    `json:"executionId"`
	TaskID        string    `json:"taskId"`
	AgentID       string    `json:"agentId,omitempty"`
	CrewID        string    `json:"crewId,omitempty"`
	ExecutionTime int64     `json:"executionTime,omitempty"`
	Platforms     []string  `json:"platforms,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// AdapterStatus reports the connection state of an adapter.
type AdapterStatus struct {
	Platform    string     `json:"platform"`
	Connected   bool       `json:"connected"`
	ConnectedAt *time.Time `json:"connectedAt,omitempty"`
	Error       string     `json:"error,omitempty"`
	Details     string     `json:"details,omitempty"`
}
