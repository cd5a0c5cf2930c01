package registry

import (
	"context"
	"sync"

	"github.com/downlee/downlee/internal/domain"
)

// Handle is one in-flight worker: its kind tag and cancellation hook.
type Handle struct {
	Kind   domain.Kind
	Cancel context.CancelFunc
}

// Registry is the single map of in-flight workers keyed by external id, with
// one entry per external id enforced at insert.
type Registry struct {
	mu      sync.Mutex
	workers map[string]Handle
}

func New() *Registry {
	return &Registry{workers: make(map[string]Handle)}
}

// Add registers a worker. A second worker for the same external id is a
// programming error surfaced as ErrConflict.
func (r *Registry) Add(externalID string, h Handle) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.workers[externalID]; exists {
		return domain.ErrConflict
	}
	r.workers[externalID] = h
	return nil
}

// Remove is called from the worker's unwinding path; removing an id that is
// already gone is fine.
func (r *Registry) Remove(externalID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.workers, externalID)
}

// Cancel fires the worker's cancellation token. Returns false when no worker
// exists, which callers treat as already-stopped.
func (r *Registry) Cancel(externalID string) bool {
	r.mu.Lock()
	h, ok := r.workers[externalID]
	r.mu.Unlock()

	if !ok {
		return false
	}
	h.Cancel()
	return true
}

func (r *Registry) Contains(externalID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.workers[externalID]
	return ok
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.workers)
}
