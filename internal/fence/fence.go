// ============================================================================
// Fence - a one-shot promise
// ============================================================================
//
// Package: internal/fence
// File: fence.go
// Purpose: Shared single-assignment promise used by both the cache and the
// in-memory database's per-key build coalescing, so that "compute runs
// exactly once, all concurrent waiters see the same result" is implemented
// once instead of twice.
//
// ============================================================================

// Package fence implements a one-shot, thread-safe promise: testable
// non-blocking, waitable with a callback, signalled exactly once.
package fence

import "sync"

// Fence is a single-assignment promise carrying a value or an error.
type Fence struct {
	mu      sync.Mutex
	done    bool
	value   any
	err     error
	waiters []func(any, error)
}

// New returns an unresolved Fence.
func New() *Fence { return &Fence{} }

// Test non-blockingly reports whether the fence has resolved, and its
// result if so.
func (f *Fence) Test() (value any, err error, resolved bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.value, f.err, f.done
}

// Wait invokes cb with the result once the fence resolves - immediately,
// inline, if it already has.
func (f *Fence) Wait(cb func(any, error)) {
	f.mu.Lock()
	if f.done {
		v, e := f.value, f.err
		f.mu.Unlock()
		cb(v, e)
		return
	}
	f.waiters = append(f.waiters, cb)
	f.mu.Unlock()
}

// Signal resolves the fence exactly once; subsequent calls are no-ops.
func (f *Fence) Signal(value any, err error) {
	f.mu.Lock()
	if f.done {
		f.mu.Unlock()
		return
	}
	f.done = true
	f.value, f.err = value, err
	waiters := f.waiters
	f.waiters = nil
	f.mu.Unlock()
	for _, w := range waiters {
		w(value, err)
	}
}
