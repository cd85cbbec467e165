package gateway

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/nidhogg/taskcrew/internal/events"
)

// DefaultHistorySize bounds the notification history.
const DefaultHistorySize = 100

// Record tracks a sent notification for history.
type Record struct {
	Notification *Notification `json:"notification"`
	SentAt       time.Time     `json:"sentAt"`
	Targets      []string      `json:"targets"`
	Error        string        `json:"error,omitempty"`
}

// Notifier turns terminal execution events into notifications.
type Notifier struct {
	gateway *Gateway
	mu      sync.Mutex
	history []Record
	limit   int
	logger  *zap.Logger
}

// NewNotifier creates a notifier backed by the given gateway. It keeps at
// most historySize records.
func NewNotifier(gw *Gateway, historySize int, logger *zap.Logger) *Notifier {
	if historySize <= 0 {
		historySize = DefaultHistorySize
	}
	return &Notifier{gateway: gw, limit: historySize, logger: logger}
}

// Run forwards events from src until ctx is done.
func (n *Notifier) Run(ctx context.Context, src events.Source) error {
	for evt := range src.Subscribe(ctx) {
		n.Handle(ctx, evt)
	}
	return nil
}

// Handle sends a notification for completed, failed and cancelled
// executions. Other events are ignored.
func (n *Notifier) Handle(ctx context.Context, evt events.Event) {
	note := FromEvent(evt)
	if note == nil {
		return
	}
	n.logger.Info("sending execution notification",
		zap.String("kind", string(note.Kind)),
		zap.String("execution", note.ExecutionID),
		zap.String("task", note.TaskID))

	sent, err := n.gateway.Broadcast(ctx, note)
	rec := Record{Notification: note, SentAt: time.Now(), Targets: sent}
	if err != nil {
		rec.Error = err.Error()
	}

	n.mu.Lock()
	n.history = append(n.history, rec)
	if over := len(n.history) - n.limit; over > 0 {
		n.history = append([]Record(nil), n.history[over:]...)
	}
	n.mu.Unlock()
}

// History returns up to limit of the most recent records, oldest first.
func (n *Notifier) History(limit int) []Record {
	n.mu.Lock()
	defer n.mu.Unlock()
	if limit <= 0 || limit > len(n.history) {
		limit = len(n.history)
	}
	start := len(n.history) - limit
	return append([]Record(nil), n.history[start:]...)
}

// FromEvent maps a lifecycle event to a notification, or nil when the
// event is not a terminal execution outcome.
func FromEvent(evt events.Event) *Notification {
	note := &Notification{
		ExecutionID:   evt.ExecutionID,
		TaskID:        evt.TaskID,
		AgentID:       evt.AgentID,
		CrewID:        evt.CrewID,
		ExecutionTime: evt.ExecutionTime,
		Timestamp:     evt.Timestamp,
	}
	if note.Timestamp.IsZero() {
		note.Timestamp = time.Now()
	}
	switch evt.Type {
	case events.ExecutionCompleted:
		note.Kind = KindCompleted
		note.Title = fmt.Sprintf("Task %s completed", evt.TaskID)
		note.Content = preview(evt.Output, 500)
	case events.ExecutionFailed:
		note.Kind = KindFailed
		note.Title = fmt.Sprintf("Task %s failed", evt.TaskID)
		note.Content = evt.Error
	case events.ExecutionCancelled:
		note.Kind = KindCancelled
		note.Title = fmt.Sprintf("Task %s cancelled", evt.TaskID)
		note.Content = fmt.Sprintf("Execution %s was cancelled.", evt.ExecutionID)
	default:
		return nil
	}
	return note
}

func preview(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
