// Package store defines the shared realtime state tree that game sessions
// synchronize through. Records live at slash-separated paths; subscribers to a
// path receive the full current value under it on every change, including
// immediately on subscribe. A nil snapshot is a valid state (path never
// written, or everything under it deleted), not an error.
package store

import (
	"context"
	"errors"
)

var (
	// ErrWrite wraps a failed write, merge, or delete against a backend.
	ErrWrite = errors.New("store write failed")
	// ErrRead wraps a failed one-shot read against a backend.
	ErrRead = errors.New("store read failed")
)

// Fields is a flat set of named values making up one record. Values are
// scalars (string, bool, int64) or nil.
type Fields map[string]any

// CancelFunc releases a subscription. Safe to call more than once.
type CancelFunc func()

// Store is the realtime tree capability. Writes to a path are observed by
// every subscriber of that path and of any ancestor path, in the order the
// writer issued them. No atomicity is provided across different paths.
type Store interface {
	// Set creates or replaces the record at path.
	Set(ctx context.Context, path string, value Fields) error
	// Get returns the current value at path: Fields-shaped map for a record,
	// a scalar for a leaf, nil if the path has never been written.
	Get(ctx context.Context, path string) (any, error)
	// Update merges the named fields into the record at path, leaving other
	// fields untouched.
	Update(ctx context.Context, path string, fields Fields) error
	// Delete removes the record at path and everything under it.
	Delete(ctx context.Context, path string) error
	// Subscribe registers fn for snapshots of path. fn is invoked once with
	// the current value before Subscribe returns, then on every change at or
	// under path until the returned CancelFunc is called.
	Subscribe(path string, fn func(snapshot any)) CancelFunc
}
