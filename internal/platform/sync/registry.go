// Package sync implements the partitioned-record synchronizer behind the
// outpatient and inpatient list views: a keyed subscription registry, an
// in-memory projection of composite records, a query router over the three
// search strategies, and a bounded-concurrency billing joiner. One
// synchronizer instance serves one list; the OPD and IPD views differ only
// in the Config they pass in.
package sync

import (
	gosync "sync"

	"github.com/infisparks/medfordhrms-sub002/internal/platform/store"
)

// Registry owns the cancel function of every live store subscription for one
// synchronizer. A path appears at most once: registering a path that already
// has a live subscription cancels the old one first, so duplicate event
// delivery cannot happen.
type Registry struct {
	mu      gosync.Mutex
	entries map[string]store.CancelFunc
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]store.CancelFunc)}
}

// Register records cancel for path, cancelling any previous subscription on
// the same path before the new entry becomes visible.
func (r *Registry) Register(path string, cancel store.CancelFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if old := r.entries[path]; old != nil {
		delete(r.entries, path)
		old()
	}
	r.entries[path] = cancel
}

// Cancel tears down the subscription for path, if any.
func (r *Registry) Cancel(path string) {
	r.mu.Lock()
	cancel := r.entries[path]
	delete(r.entries, path)
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

// CancelAll tears down every live subscription and empties the registry. The
// registry is cleared before any cancel runs, so a re-registration on the
// same path during teardown cannot be cancelled by mistake.
func (r *Registry) CancelAll() {
	r.mu.Lock()
	cancels := make([]store.CancelFunc, 0, len(r.entries))
	for _, c := range r.entries {
		cancels = append(cancels, c)
	}
	r.entries = make(map[string]store.CancelFunc)
	r.mu.Unlock()

	for _, c := range cancels {
		c()
	}
}

// Has reports whether path has a live subscription.
func (r *Registry) Has(path string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.entries[path]
	return ok
}

// Len returns the number of live subscriptions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
