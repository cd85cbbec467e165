package execution

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/nidhogg/taskcrew/internal/task"
)

// Active is an in-flight execution. The executor and a concurrent cancel
// race for the terminal transition; whichever calls Finish first wins.
type Active struct {
	mu      sync.Mutex
	exec    *task.Execution
	cancel  context.CancelFunc
	persist bool
}

// Finish applies the terminal transition and lets fn fill in details under
// the lock. It fails with task.ErrInvalidState when the execution already
// reached a terminal status.
func (a *Active) Finish(to task.Status, at time.Time, fn func(e *task.Execution)) (*task.Execution, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.exec.Finish(to, at); err != nil {
		return nil, err
	}
	if fn != nil {
		fn(a.exec)
	}
	return a.exec.Clone(), nil
}

// Update mutates the execution without changing its status.
func (a *Active) Update(fn func(e *task.Execution)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	fn(a.exec)
}

// Snapshot returns a copy of the current state.
func (a *Active) Snapshot() *task.Execution {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.exec.Clone()
}

// Status returns the current status.
func (a *Active) Status() task.Status {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.exec.Status
}

// Registry is the process-local set of in-flight executions. It is advisory:
// entries are lost on restart and the repository stays the source of truth.
type Registry struct {
	mu     sync.RWMutex
	active map[string]*Active
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{active: make(map[string]*Active)}
}

// Register tracks e until Unregister is called. persist records whether
// terminal transitions should be written to the repository.
func (r *Registry) Register(e *task.Execution, cancel context.CancelFunc, persist bool) *Active {
	a := &Active{exec: e, cancel: cancel, persist: persist}
	r.mu.Lock()
	r.active[e.ID] = a
	r.mu.Unlock()
	return a
}

// Unregister drops id. Unknown ids are ignored.
func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	delete(r.active, id)
	r.mu.Unlock()
}

// Lookup returns the active entry for id.
func (r *Registry) Lookup(id string) (*Active, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.active[id]
	return a, ok
}

// Len returns the number of active executions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.active)
}

// Snapshot returns copies of all active executions, oldest first.
func (r *Registry) Snapshot() []*task.Execution {
	r.mu.RLock()
	entries := make([]*Active, 0, len(r.active))
	for _, a := range r.active {
		entries = append(entries, a)
	}
	r.mu.RUnlock()

	out := make([]*task.Execution, 0, len(entries))
	for _, a := range entries {
		out = append(out, a.Snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}
