package store

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// Memory is an in-process Client used by the seed/dev mode and by tests. It
// keeps leaf documents in a flat path-keyed map and synthesizes branch reads
// and child events from path prefixes, mirroring the remote store's
// semantics: FIFO events per path, no cross-path ordering.
type Memory struct {
	mu     sync.Mutex
	docs   map[string]Value
	subs   map[string]map[int]Handlers
	nextID int
	closed bool
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		docs: make(map[string]Value),
		subs: make(map[string]map[int]Handlers),
	}
}

type memEvent struct {
	path  string
	id    int
	kind  string // "added" | "changed" | "removed"
	child string
	value Value
}

func (m *Memory) PointRead(_ context.Context, path string) (Value, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, false, ErrClosed
	}
	v, ok := m.assembleLocked(path)
	return v, ok, nil
}

func (m *Memory) Subscribe(_ context.Context, path string, h Handlers) (CancelFunc, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrClosed
	}
	id := m.nextID
	m.nextID++
	if m.subs[path] == nil {
		m.subs[path] = make(map[int]Handlers)
	}
	m.subs[path][id] = h

	// Initial snapshot: one OnAdded per direct child.
	var events []memEvent
	for _, child := range m.childrenLocked(path) {
		v, _ := m.assembleLocked(Join(path, child))
		events = append(events, memEvent{path: path, id: id, kind: "added", child: child, value: v})
	}
	m.mu.Unlock()

	m.dispatch(events)

	cancelled := false
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if cancelled {
			return
		}
		cancelled = true
		if set, ok := m.subs[path]; ok {
			delete(set, id)
			if len(set) == 0 {
				delete(m.subs, path)
			}
		}
	}, nil
}

func (m *Memory) Write(_ context.Context, path string, v Value, mode WriteMode) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}

	existed := m.existsLocked(path)
	doc := v.Clone()
	if mode == Merge {
		if prev, ok := m.docs[path]; ok {
			merged := prev.Clone()
			for k, val := range doc {
				if val == nil {
					delete(merged, k)
					continue
				}
				merged[k] = val
			}
			doc = merged
		}
	}
	m.docs[path] = doc

	events := m.eventsForLocked(path, existed)
	m.mu.Unlock()

	m.dispatch(events)
	return nil
}

func (m *Memory) Delete(_ context.Context, path string) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}

	prefix := path + "/"
	removedAny := false
	for p := range m.docs {
		if p == path || strings.HasPrefix(p, prefix) {
			delete(m.docs, p)
			removedAny = true
		}
	}
	if !removedAny {
		m.mu.Unlock()
		return nil
	}

	var events []memEvent
	for sp, set := range m.subs {
		child, ok := childOf(sp, path)
		if !ok {
			continue
		}
		childPath := Join(sp, child)
		for id := range set {
			if m.existsLocked(childPath) {
				v, _ := m.assembleLocked(childPath)
				events = append(events, memEvent{path: sp, id: id, kind: "changed", child: child, value: v})
			} else {
				events = append(events, memEvent{path: sp, id: id, kind: "removed", child: child})
			}
		}
	}
	m.mu.Unlock()

	m.dispatch(events)
	return nil
}

// Close cancels all subscriptions and rejects further operations.
func (m *Memory) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.subs = make(map[string]map[int]Handlers)
}

// eventsForLocked computes the child events a write at path produces.
// existedBefore reports whether the leaf existed before the write.
func (m *Memory) eventsForLocked(path string, existedBefore bool) []memEvent {
	var events []memEvent
	for sp, set := range m.subs {
		child, ok := childOf(sp, path)
		if !ok {
			continue
		}
		childPath := Join(sp, child)
		kind := "changed"
		// The child subtree is new when the written leaf is the only thing
		// under it and did not exist before.
		if !existedBefore && m.soleLeafLocked(childPath, path) {
			kind = "added"
		}
		v, _ := m.assembleLocked(childPath)
		for id := range set {
			events = append(events, memEvent{path: sp, id: id, kind: kind, child: child, value: v})
		}
	}
	return events
}

func (m *Memory) soleLeafLocked(subtree, leaf string) bool {
	if subtree == leaf {
		return true
	}
	prefix := subtree + "/"
	for p := range m.docs {
		if p != leaf && (p == subtree || strings.HasPrefix(p, prefix)) {
			return false
		}
	}
	return true
}

func (m *Memory) existsLocked(path string) bool {
	if _, ok := m.docs[path]; ok {
		return true
	}
	prefix := path + "/"
	for p := range m.docs {
		if strings.HasPrefix(p, prefix) {
			return true
		}
	}
	return false
}

func (m *Memory) childrenLocked(path string) []string {
	seen := make(map[string]struct{})
	for p := range m.docs {
		if child, ok := childOf(path, p); ok {
			seen[child] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for c := range seen {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// assembleLocked builds the value at path: the leaf document itself, or a
// nested Value of its children. Nested children are stored as plain
// map[string]interface{} so readers see the same dynamic types from every
// backend.
func (m *Memory) assembleLocked(path string) (Value, bool) {
	if doc, ok := m.docs[path]; ok {
		return doc.Clone(), true
	}
	children := m.childrenLocked(path)
	if len(children) == 0 {
		return nil, false
	}
	out := make(Value, len(children))
	for _, c := range children {
		v, _ := m.assembleLocked(Join(path, c))
		out[c] = map[string]interface{}(v)
	}
	return out, true
}

// dispatch delivers events outside the store lock, re-checking that each
// subscription is still registered so an event never lands after its cancel.
func (m *Memory) dispatch(events []memEvent) {
	for _, ev := range events {
		m.mu.Lock()
		set, ok := m.subs[ev.path]
		var h Handlers
		if ok {
			h, ok = set[ev.id]
		}
		m.mu.Unlock()
		if !ok {
			continue
		}
		switch ev.kind {
		case "added":
			if h.OnAdded != nil {
				h.OnAdded(ev.child, ev.value)
			}
		case "changed":
			if h.OnChanged != nil {
				h.OnChanged(ev.child, ev.value)
			}
		case "removed":
			if h.OnRemoved != nil {
				h.OnRemoved(ev.child)
			}
		}
	}
}
