package registry

import (
	"context"
	"fmt"
	"sync"
)

// StoreError reports a failure to read or write the backing document.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string { return fmt.Sprintf("registry %s: %v", e.Op, e.Err) }

func (e *StoreError) Unwrap() error { return e.Err }

// Option configures a Registry.
type Option func(*Registry)

// WithSerializedWrites makes every load-mutate-save cycle hold a single
// writer lock. Without it concurrent updates may overwrite each other.
func WithSerializedWrites(on bool) Option {
	return func(r *Registry) { r.serialize = on }
}

// Registry runs load-mutate-save cycles against a Store.
type Registry struct {
	store     Store
	serialize bool
	mu        sync.Mutex
}

// New returns a registry over store. Writes are serialized by default.
func New(store Store, opts ...Option) *Registry {
	r := &Registry{store: store, serialize: true}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Serialized reports whether writes hold the writer lock.
func (r *Registry) Serialized() bool { return r.serialize }

// Snapshot loads the current document. The result is private to the caller.
func (r *Registry) Snapshot(ctx context.Context) (Platforms, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ps, err := r.store.Load()
	if err != nil {
		return nil, &StoreError{Op: "load", Err: err}
	}
	return ps, nil
}

// Update loads the document, applies fn and saves the result when fn
// reports a change. Errors from fn are returned unchanged and nothing is
// saved.
func (r *Registry) Update(ctx context.Context, fn func(Platforms) (changed bool, err error)) error {
	if r.serialize {
		r.mu.Lock()
		defer r.mu.Unlock()
	}
	ps, err := r.Snapshot(ctx)
	if err != nil {
		return err
	}
	changed, err := fn(ps)
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}
	if err := r.store.Save(ps); err != nil {
		return &StoreError{Op: "save", Err: err}
	}
	return nil
}
