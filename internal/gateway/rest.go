package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const maxWait = 60 * time.Second

// RESTAdapter hands notifications to HTTP clients long-polling for the next one.
type RESTAdapter struct {
	waiters map[string]chan *Notification // waiter id -> pending delivery
	mu      sync.RWMutex
	logger  *zap.Logger
}

// NewRESTAdapter creates a REST adapter.
func NewRESTAdapter(logger *zap.Logger) *RESTAdapter {
	return &RESTAdapter{
		waiters: make(map[string]chan *Notification),
		logger:  logger,
	}
}

func (a *RESTAdapter) Platform() string { return "rest" }

func (a *RESTAdapter) Connect(_ context.Context) error { return nil }

func (a *RESTAdapter) Close() error { return nil }

func (a *RESTAdapter) Status() AdapterStatus {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return AdapterStatus{Platform: "rest", Connected: true, Details: "waiters=" + strconv.Itoa(len(a.waiters))}
}

// Notify delivers n to every waiting client. Clients that already hold a
// notification are skipped.
func (a *RESTAdapter) Notify(_ context.Context, n *Notification) error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	for _, ch := range a.waiters {
		select {
		case ch <- n:
		default:
		}
	}
	return nil
}

// Wait blocks until the next notification, the timeout or ctx is done.
// It returns nil when nothing arrived.
func (a *RESTAdapter) Wait(ctx context.Context, timeout time.Duration) *Notification {
	id := uuid.New().String()
	ch := make(chan *Notification, 1)

	a.mu.Lock()
	a.waiters[id] = ch
	a.mu.Unlock()

	defer func() {
		a.mu.Lock()
		delete(a.waiters, id)
		a.mu.Unlock()
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case n := <-ch:
		return n
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return nil
	}
}

// Routes returns a chi router exposing notification history, adapter
// status and the long-poll endpoint.
func Routes(n *Notifier, rest *RESTAdapter) chi.Router {
	r := chi.NewRouter()
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		writeJSON(w, http.StatusOK, n.History(limit))
	})
	r.Get("/adapters", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, n.gateway.Statuses())
	})
	if rest != nil {
		r.Get("/wait", rest.handleWait)
	}
	return r
}

// handleWait long-polls for the next notification. An empty wait answers 204.
func (a *RESTAdapter) handleWait(w http.ResponseWriter, r *http.Request) {
	timeout := 30 * time.Second
	if v := r.URL.Query().Get("timeout"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "timeout must be a positive duration"})
			return
		}
		timeout = min(d, maxWait)
	}
	note := a.Wait(r.Context(), timeout)
	if note == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, note)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
