package task

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Status represents the state of an execution.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in-progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"

	// Reserved. Nothing assigns these; they exist so stored records using them still decode.
	StatusWaiting  Status = "waiting"
	StatusRetrying Status = "retrying"
)

// AllStatuses lists every status in display order.
var AllStatuses = []Status{
	StatusPending, StatusInProgress, StatusCompleted, StatusFailed,
	StatusCancelled, StatusWaiting, StatusRetrying,
}

// validTransitions defines allowed state transitions.
var validTransitions = map[Status][]Status{
	StatusPending:    {StatusInProgress, StatusFailed, StatusCancelled},
	StatusInProgress: {StatusCompleted, StatusFailed, StatusCancelled},
}

// Transition validates and returns nil if from→to is a legal transition.
func Transition(from, to Status) error {
	allowed, ok := validTransitions[from]
	if !ok {
		return fmt.Errorf("%w: no transitions from %q", ErrInvalidState, from)
	}
	for _, s := range allowed {
		if s == to {
			return nil
		}
	}
	return fmt.Errorf("%w: invalid transition %q -> %q", ErrInvalidState, from, to)
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	for _, v := range AllStatuses {
		if v == s {
			return true
		}
	}
	return false
}

// Terminal reports whether no transition leaves s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Retryable reports whether an execution in status s may be retried.
func (s Status) Retryable() bool {
	return s == StatusFailed || s == StatusCancelled
}

// Active reports whether an execution in status s still blocks task deletion.
func (s Status) Active() bool {
	return s == StatusPending || s == StatusInProgress
}

// LogLevel is the severity of an execution log entry.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// LogEntry is one line of an execution's append-only log.
type LogEntry struct {
	Timestamp time.Time      `json:"timestamp"`
	Level     LogLevel       `json:"level"`
	Message   string         `json:"message"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Metrics tracks token consumption and latency of a provider call.
type Metrics struct {
	PromptTokens     int     `json:"promptTokens"`
	CompletionTokens int     `json:"completionTokens"`
	TotalTokens      int     `json:"totalTokens"`
	Cost             float64 `json:"cost,omitempty"`
	LatencyMs        int64   `json:"latencyMs"`
}

// Execution is one timed attempt to run a task.
type Execution struct {
	ID            string         `json:"id"`
	TaskID        string         `json:"taskId"`
	AgentID       string         `json:"agentId"`
	CrewID        string         `json:"crewId,omitempty"`
	SessionID     string         `json:"sessionId,omitempty"`
	Model         string         `json:"model,omitempty"`
	Input         map[string]any `json:"input"`
	Status        Status         `json:"status"`
	StartedAt     time.Time      `json:"startedAt"`
	FinishedAt    *time.Time     `json:"finishedAt,omitempty"`
	ExecutionTime *int64         `json:"executionTime,omitempty"` // milliseconds
	Output        string         `json:"output,omitempty"`
	Error         string         `json:"error,omitempty"`
	Attempts      int            `json:"attempts"`
	Logs          []LogEntry     `json:"logs"`
	Metrics       *Metrics       `json:"metrics,omitempty"`
}

// NewExecutionID returns a fresh execution identifier.
func NewExecutionID() string { return "exec-" + uuid.New().String() }

// AppendLog adds a log entry at the end of the execution log.
func (e *Execution) AppendLog(at time.Time, level LogLevel, msg string, meta map[string]any) {
	e.Logs = append(e.Logs, LogEntry{Timestamp: at, Level: level, Message: msg, Metadata: meta})
}

// Finish moves the execution into a terminal status and stamps its timing.
// finishedAt is clamped so it never precedes startedAt.
func (e *Execution) Finish(to Status, at time.Time) error {
	if err := Transition(e.Status, to); err != nil {
		return err
	}
	if at.Before(e.StartedAt) {
		at = e.StartedAt
	}
	ms := at.Sub(e.StartedAt).Milliseconds()
	e.Status = to
	e.FinishedAt = &at
	e.ExecutionTime = &ms
	return nil
}

// Clone returns a deep enough copy for snapshotting.
func (e *Execution) Clone() *Execution {
	c := *e
	c.Input = cloneMap(e.Input)
	c.Logs = make([]LogEntry, len(e.Logs))
	for i, l := range e.Logs {
		l.Metadata = cloneMap(l.Metadata)
		c.Logs[i] = l
	}
	if e.FinishedAt != nil {
		f := *e.FinishedAt
		c.FinishedAt = &f
	}
	if e.ExecutionTime != nil {
		ms := *e.ExecutionTime
		c.ExecutionTime = &ms
	}
	if e.Metrics != nil {
		m := *e.Metrics
		c.Metrics = &m
	}
	return &c
}

// ExecutionFilter narrows execution listings.
type ExecutionFilter struct {
	TaskID  string `json:"taskId,omitempty"`
	AgentID string `json:"agentId,omitempty"`
	CrewID  string `json:"crewId,omitempty"`
	Status  Status `json:"status,omitempty"`
	Limit   int    `json:"limit,omitempty"`
}

// Match reports whether e satisfies every set field of f.
func (f ExecutionFilter) Match(e *Execution) bool {
	if f.TaskID != "" && e.TaskID != f.TaskID {
		return false
	}
	if f.AgentID != "" && e.AgentID != f.AgentID {
		return false
	}
	if f.CrewID != "" && e.CrewID != f.CrewID {
		return false
	}
	if f.Status != "" && e.Status != f.Status {
		return false
	}
	return true
}
