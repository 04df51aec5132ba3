// ============================================================================
// In-Memory Database - key/value/dependency store
// ============================================================================
//
// Package: internal/database
// File: database.go
// Purpose: The persistent-build-database collaborator named (but not
// defined) by the scheduler core: a key -> (value, dependency list, status)
// store offering build/listDepends/lookupDependencies/checkValid/listLive/
// toReport/assertFinishedDatabase/progress.
//
// Design: a single mutex-guarded map as the source of truth, entries
// differentiated by a built flag. Per-key concurrent-demand coalescing
// reuses internal/fence (also used by the cache) so that two actions
// demanding the same key at once observe exactly one rule execution.
//
// This store lives for one run's duration only; a persistent collaborator
// would implement the same interface over real storage.
//
// ============================================================================

package database

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ChuLiYu/shake/internal/buildtypes"
	"github.com/ChuLiYu/shake/internal/fence"
	"github.com/ChuLiYu/shake/internal/pool"
	"github.com/ChuLiYu/shake/internal/shakeerr"
	"github.com/ChuLiYu/shake/pkg/key"
)

var log = slog.Default()

type entry struct {
	key        key.Key
	value      key.Value
	deps       []key.Depends
	built      bool
	builtCount int
	lastDur    time.Duration
	fence      *fence.Fence
}

// Database is the in-memory key/value/dependency store.
type Database struct {
	mu      sync.Mutex
	entries map[string]*entry
	total   int64 // monotonic count of distinct keys ever demanded
	built   int64 // monotonic count of keys that finished a real rule run
}

// New returns an empty Database.
func New() *Database {
	return &Database{entries: make(map[string]*entry)}
}

func id(k key.Key) string { return k.String() }

// Build builds (or reuses the cached value of) each of keys and delivers
// the aggregate result via cont, exactly once. A key already present on
// stack is a dependency cycle.
func (d *Database) Build(p *pool.Pool, ops buildtypes.Ops, stack key.Stack, keys []key.Key, cont func(buildtypes.BuildResult, error)) {
	n := len(keys)
	if n == 0 {
		cont(buildtypes.BuildResult{Deps: []key.Depends{{}}}, nil)
		return
	}

	values := make([]key.Value, n)
	durations := make([]time.Duration, n)
	var remaining int32 = int32(n)
	var mu sync.Mutex
	var firstErr error

	finish := func() {
		if atomic.AddInt32(&remaining, -1) != 0 {
			return
		}
		mu.Lock()
		err := firstErr
		mu.Unlock()
		if err != nil {
			cont(buildtypes.BuildResult{}, err)
			return
		}
		var total time.Duration
		for _, dur := range durations {
			total += dur
		}
		cont(buildtypes.BuildResult{
			Duration: total,
			Deps:     []key.Depends{{Keys: append([]key.Key(nil), keys...)}},
			Values:   values,
		}, nil)
	}

	for i, k := range keys {
		i, k := i, k
		if stack.Contains(k) {
			log.Warn("cycle detected", "key", k.String(), "depth", len(stack.Keys()))
			mu.Lock()
			if firstErr == nil {
				firstErr = shakeerr.CycleError(stack, k)
			}
			mu.Unlock()
			finish()
			continue
		}
		d.buildOne(p, ops, stack, k, func(v key.Value, dur time.Duration, err error) {
			if err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
			} else {
				values[i] = v
				durations[i] = dur
			}
			finish()
		})
	}
}

// buildOne runs k's rule at most once, coalescing concurrent demand with a
// fence, and always delivers via cont (possibly on a different goroutine
// than the caller - callers must not assume synchronous completion).
func (d *Database) buildOne(p *pool.Pool, ops buildtypes.Ops, stack key.Stack, k key.Key, cont func(key.Value, time.Duration, error)) {
	kid := id(k)

	d.mu.Lock()
	e, ok := d.entries[kid]
	if ok && e.built && e.fence == nil {
		v := e.value
		d.mu.Unlock()
		cont(v, 0, nil)
		return
	}
	if ok && e.fence != nil {
		f := e.fence
		d.mu.Unlock()
		f.Wait(func(val any, err error) {
			if err != nil {
				cont(key.Value{}, 0, err)
				return
			}
			cont(val.(key.Value), 0, nil)
		})
		return
	}

	atomic.AddInt64(&d.total, 1)
	f := fence.New()
	if !ok {
		e = &entry{key: k}
	}
	e.fence = f
	d.entries[kid] = e
	d.mu.Unlock()

	start := time.Now()
	p.Add(func() {
		ops.Exec(stack.Push(k), k, func(res buildtypes.ExecResult, err error) {
			dur := time.Since(start)
			d.mu.Lock()
			if err != nil {
				// Leave no cached entry behind so a later demand can retry.
				delete(d.entries, kid)
				d.mu.Unlock()
				f.Signal(nil, err)
				cont(key.Value{}, 0, err)
				return
			}
			newEntry := &entry{
				key:        k,
				value:      res.Value,
				deps:       res.Deps,
				built:      true,
				builtCount: e.builtCount + 1,
				lastDur:    dur,
			}
			d.entries[kid] = newEntry
			d.mu.Unlock()
			atomic.AddInt64(&d.built, 1)
			f.Signal(res.Value, nil)
			cont(res.Value, dur, nil)
		})
	})
}

// ListDepends projects a recorded Depends group down to its keys.
func (d *Database) ListDepends(dep key.Depends) []key.Key {
	return append([]key.Key(nil), dep.Keys...)
}

// LookupDependencies returns the keys k's own rule execution depended on,
// flattened across every apply call it made. An empty result means k is a
// source (leaf) key.
func (d *Database) LookupDependencies(k key.Key) []key.Key {
	d.mu.Lock()
	defer d.mu.Unlock()
	e, ok := d.entries[id(k)]
	if !ok {
		return nil
	}
	return key.FlattenDepends(e.deps)
}

// CheckValid re-validates every built, non-claimed-absent key against the
// rules' own notion of truth (runStored) or, failing that, runEqual - the
// end-of-build lint pass.
func (d *Database) CheckValid(runStored func(key.Key, key.Value) bool, runEqual func(key.Key, key.Value) bool, absent []buildtypes.AbsentClaim) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	isAbsent := func(k key.Key) bool {
		for _, a := range absent {
			if a.Key.Equal(k) {
				return true
			}
		}
		return false
	}

	var bad []string
	for _, e := range d.entries {
		if !e.built || isAbsent(e.key) {
			continue
		}
		storedOK := runStored == nil || runStored(e.key, e.value)
		equalOK := runEqual == nil || runEqual(e.key, e.value)
		if !storedOK && !equalOK {
			bad = append(bad, e.key.String())
		}
	}
	if len(bad) > 0 {
		return shakeerr.New(shakeerr.KindUnknown, strings.Join(bad, ", "),
			key.NewStack(), fmt.Errorf("checkValid: %d key(s) no longer valid", len(bad)))
	}
	return nil
}

// ListLive returns every key that currently has a built value.
func (d *Database) ListLive() []key.Key {
	d.mu.Lock()
	defer d.mu.Unlock()
	var live []key.Key
	for _, e := range d.entries {
		if e.built {
			live = append(live, e.key)
		}
	}
	return live
}

// ToReport summarises every built key for profile output.
func (d *Database) ToReport() buildtypes.Report {
	d.mu.Lock()
	defer d.mu.Unlock()
	rep := buildtypes.Report{}
	for kid, e := range d.entries {
		if !e.built {
			continue
		}
		deps := key.FlattenDepends(e.deps)
		depStrs := make([]string, len(deps))
		for i, dk := range deps {
			depStrs[i] = dk.String()
		}
		rep.Entries = append(rep.Entries, buildtypes.ReportEntry{
			Key:          kid,
			BuiltTimes:   e.builtCount,
			LastDuration: e.lastDur,
			Dependencies: depStrs,
		})
	}
	return rep
}

// AssertFinishedDatabase verifies no key was left mid-build (a fence still
// outstanding) once the pool has drained - a programmer-error detector,
// not a user-facing failure mode.
func (d *Database) AssertFinishedDatabase() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for kid, e := range d.entries {
		if e.fence != nil {
			if _, _, resolved := e.fence.Test(); !resolved {
				return shakeerr.New(shakeerr.KindUnknown, kid, key.NewStack(), nil)
			}
		}
	}
	return nil
}

// Progress reports how many of the keys ever demanded have finished.
func (d *Database) Progress() buildtypes.ProgressSnapshot {
	return buildtypes.ProgressSnapshot{
		Built: int(atomic.LoadInt64(&d.built)),
		Total: int(atomic.LoadInt64(&d.total)),
	}
}
