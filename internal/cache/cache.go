// ============================================================================
// Cache - per-key memoised sub-action
// ============================================================================
//
// Package: internal/cache
// File: cache.go
// Purpose: Per-key memoisation for sub-actions: compute runs at most once
// per key across every concurrent waiter; the dependencies its run
// discovers are captured as a delta and replayed into every waiter's own
// Local.Depends, preserving correct dependency semantics for callers that
// never themselves ran compute.
//
// Built on internal/fence (the same one-shot-promise primitive the
// database uses for build coalescing) and internal/action's CaptureRAW, so
// a waiter's wait time is spent suspended - not holding a worker slot.
//
// ============================================================================

package cache

import (
	"sync"
	"time"

	"github.com/ChuLiYu/shake/internal/action"
	"github.com/ChuLiYu/shake/internal/fence"
	"github.com/ChuLiYu/shake/pkg/key"
)

// Cache memoises, per key, the result of running a compute function once.
// Identity is per instance: two distinct Cache values never share entries.
type Cache struct {
	mu      sync.Mutex
	entries map[string]*fence.Fence
}

// New returns an empty Cache.
func New() *Cache {
	return &Cache{entries: make(map[string]*fence.Fence)}
}

type cachedResult struct {
	value key.Value
	deps  []key.Key
}

// Get runs compute(a) the first time k is requested of this Cache, and
// replays its result (and the dependencies it discovered) to every other
// caller - including concurrent ones - without re-running compute.
func (c *Cache) Get(a *action.Action, k key.Key, compute func(*action.Action) (key.Value, error)) (key.Value, error) {
	kid := k.String()

	c.mu.Lock()
	f, ok := c.entries[kid]
	if ok {
		c.mu.Unlock()
		return c.wait(a, f)
	}
	f = fence.New()
	c.entries[kid] = f
	c.mu.Unlock()

	return c.run(a, compute, f)
}

// wait delivers an already-installed fence's result to a, suspending via
// CaptureRAW (and charging the wait to Local.Discount) if it has not
// resolved yet.
func (c *Cache) wait(a *action.Action, f *fence.Fence) (key.Value, error) {
	a.GetRO().Observe().CacheHit()
	if v, err, resolved := f.Test(); resolved {
		return deliver(a, v, err)
	}
	start := time.Now()
	v, err := a.CaptureRAW(func(resume func(any, error)) {
		f.Wait(func(val any, ferr error) { resume(val, ferr) })
	})
	a.GetRW().Discount += time.Since(start)
	return deliver(a, v, err)
}

// run executes compute exactly once under TryRAW, measures the dependency
// delta it records, signals the fence, and returns its result to the
// caller that actually ran it.
func (c *Cache) run(a *action.Action, compute func(*action.Action) (key.Value, error), f *fence.Fence) (key.Value, error) {
	before := len(a.GetRW().Depends)
	var value key.Value
	err := action.TryRAW(a, func(a *action.Action) error {
		v, e := compute(a)
		value = v
		return e
	})
	if err != nil {
		f.Signal(nil, err)
		return key.Value{}, err
	}

	after := a.GetRW().Depends
	var delta []key.Key
	if len(after) > before {
		delta = key.FlattenDepends(after[:len(after)-before])
	}
	f.Signal(cachedResult{value: value, deps: delta}, nil)
	return value, nil
}

func deliver(a *action.Action, v any, err error) (key.Value, error) {
	if err != nil {
		return key.Value{}, err
	}
	res := v.(cachedResult)
	l := a.GetRW()
	l.Depends = append([]key.Depends{{Keys: res.deps}}, l.Depends...)
	return res.value, nil
}
