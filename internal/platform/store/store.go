// Package store abstracts the remote keyed document store that holds all
// front-desk records. Documents live at slash-separated paths; a path can be
// read as a point value, written without any multi-key atomicity, or watched
// for child-level add/change/remove events. The two backends (memory,
// Postgres) share these semantics: last write wins per path, events are FIFO
// per path, and there is no ordering guarantee across paths.
package store

import (
	"context"
	"errors"
	"fmt"
)

// Value is a document as stored at a single path. Nested children appear as
// nested Values when a branch path is read.
type Value map[string]interface{}

// WriteMode controls whether a write replaces or merges the document.
type WriteMode int

const (
	// Set replaces the document at the path.
	Set WriteMode = iota
	// Merge overlays the given fields onto the existing document.
	Merge
)

// Handlers receive child events for a subscribed path. A handler may be nil.
// For a subscription at path p, child is the first path segment below p.
type Handlers struct {
	OnAdded   func(child string, v Value)
	OnChanged func(child string, v Value)
	OnRemoved func(child string)
}

// CancelFunc tears down a subscription. It must be safe to call twice; the
// second call is a no-op.
type CancelFunc func()

// Client is the remote store interface consumed by the sync layer and the
// domain services.
type Client interface {
	// PointRead returns the value at path. The second return is false when
	// nothing exists at or under the path.
	PointRead(ctx context.Context, path string) (Value, bool, error)

	// Subscribe watches the direct children of path. The current children are
	// delivered as OnAdded calls before Subscribe returns, then events stream
	// until the CancelFunc is called.
	Subscribe(ctx context.Context, path string, h Handlers) (CancelFunc, error)

	// Write stores v at path.
	Write(ctx context.Context, path string, v Value, mode WriteMode) error

	// Delete removes the document at path and everything under it.
	Delete(ctx context.Context, path string) error
}

// ErrClosed is returned by operations on a closed client.
var ErrClosed = errors.New("store: client closed")

// StoreError wraps a backend failure so callers can distinguish store
// problems from their own validation errors.
type StoreError struct {
	Op   string
	Path string
	Err  error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store: %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// Clone returns a shallow copy of the value. Callers mutate projections, not
// store-owned maps.
func (v Value) Clone() Value {
	if v == nil {
		return nil
	}
	out := make(Value, len(v))
	for k, val := range v {
		out[k] = val
	}
	return out
}

// String returns the string field named key, or "" when absent or not a
// string.
func (v Value) String(key string) string {
	s, _ := v[key].(string)
	return s
}

// Float returns the numeric field named key as a float64, tolerating the
// int/float ambiguity of JSON decoding.
func (v Value) Float(key string) float64 {
	switch n := v[key].(type) {
	case float64:
		return n
	case int:
		return float64(n)
	case int64:
		return float64(n)
	}
	return 0
}

// Child returns the nested Value under key, or nil.
func (v Value) Child(key string) Value {
	switch c := v[key].(type) {
	case Value:
		return c
	case map[string]interface{}:
		return Value(c)
	}
	return nil
}
