// ============================================================================
// Resources - Finite and Throttle
// ============================================================================
//
// Package: internal/resource
// File: resource.go
// Purpose: Two cooperative gating primitives unified under one Resource
// interface: Finite (a capacity ceiling, FIFO-served) and Throttle (a
// linearly-regenerating token bucket whose released tokens only return a
// full period later). WithResource/WithResources wrap an action with
// acquire/release around it, suspending (not blocking a worker) while
// waiting and blocking apply for the dynamic extent of the wrapped action.
//
// Finite's admission queue is golang.org/x/sync/semaphore's weighted
// semaphore - exactly the "N units, FIFO-fair acquire" shape needed here.
// Throttle's deferred token return is a time.AfterFunc state machine.
//
// ============================================================================

package resource

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/ChuLiYu/shake/internal/action"
	"github.com/ChuLiYu/shake/internal/levels"
	"github.com/ChuLiYu/shake/internal/shakeerr"
	"github.com/ChuLiYu/shake/pkg/key"
)

// Resource is the opaque handle WithResource/WithResources operate on.
type Resource interface {
	// Acquire invokes k once n units are available, or immediately with an
	// error if n can never be satisfied. The call itself must not block the
	// caller's goroutine - acquisition may be asynchronous.
	Acquire(n int, k func(error))
	// Release returns n units, possibly on a delay (Throttle).
	Release(n int)
	// Name identifies the resource for logging and ordering.
	Name() string
	// order is a stable, construction-time total order used to sort
	// groups in WithResources, so that any two callers acquiring the
	// same set of resources always do so in the same order.
	order() int
}

var orderCounter int64
var orderMu sync.Mutex

func nextOrder() int {
	orderMu.Lock()
	defer orderMu.Unlock()
	orderCounter++
	return int(orderCounter)
}

// Finite is a capacity-bounded resource: up to capacity units may be held
// at once, served FIFO.
type Finite struct {
	name     string
	capacity int
	ord      int
	sem      *semaphore.Weighted
}

// NewFinite returns a Finite resource with the given name and capacity.
func NewFinite(name string, capacity int) *Finite {
	return &Finite{name: name, capacity: capacity, ord: nextOrder(), sem: semaphore.NewWeighted(int64(capacity))}
}

func (f *Finite) Name() string { return f.name }
func (f *Finite) order() int   { return f.ord }

// Acquire waits (on a goroutine of its own, never the caller's) until n
// units are available, then invokes k. Requesting more units than the
// resource will ever have fails immediately.
func (f *Finite) Acquire(n int, k func(error)) {
	if n > f.capacity {
		k(fmt.Errorf("resource %s: acquiring %d units but capacity is only %d", f.name, n, f.capacity))
		return
	}
	go func() {
		_ = f.sem.Acquire(context.Background(), int64(n))
		k(nil)
	}()
}

// Release returns n units immediately.
func (f *Finite) Release(n int) {
	f.sem.Release(int64(n))
}

// Throttle is a token-bucket resource: count tokens exist in total, and a
// released token only becomes reusable one full period after its release.
type Throttle struct {
	name   string
	count  int
	ord    int
	period time.Duration

	mu        sync.Mutex
	available int
	waiters   []throttleWaiter
}

type throttleWaiter struct {
	n int
	k func(error)
}

// NewThrottle returns a Throttle with count tokens available immediately.
func NewThrottle(name string, count int, period time.Duration) *Throttle {
	return &Throttle{name: name, count: count, ord: nextOrder(), period: period, available: count}
}

func (t *Throttle) Name() string { return t.name }
func (t *Throttle) order() int   { return t.ord }

// Acquire serves waiters FIFO as tokens become available.
func (t *Throttle) Acquire(n int, k func(error)) {
	if n > t.count {
		k(fmt.Errorf("resource %s: acquiring %d tokens but only %d exist", t.name, n, t.count))
		return
	}
	t.mu.Lock()
	if len(t.waiters) == 0 && t.available >= n {
		t.available -= n
		t.mu.Unlock()
		k(nil)
		return
	}
	t.waiters = append(t.waiters, throttleWaiter{n: n, k: k})
	t.mu.Unlock()
}

// Release schedules the return of n tokens one period after release time -
// tokens are not immediately reusable, which is what bounds the rate.
func (t *Throttle) Release(n int) {
	time.AfterFunc(t.period, func() {
		t.mu.Lock()
		t.available += n
		var ready []throttleWaiter
		for len(t.waiters) > 0 && t.waiters[0].n <= t.available {
			w := t.waiters[0]
			t.waiters = t.waiters[1:]
			t.available -= w.n
			ready = append(ready, w)
		}
		t.mu.Unlock()
		for _, w := range ready {
			w.k(nil)
		}
	})
}

// Acquisition is one (resource, quantity) pair in a WithResources call.
type Acquisition struct {
	Resource Resource
	N        int
}

// WithResource runs act with n units of res held: log the wait, suspend
// until the units are granted (uncounted against the worker slot), block
// apply for the dynamic extent of act, charge the wait to discount, and
// release on every exit path.
func WithResource(a *action.Action, res Resource, n int, act func(*action.Action) (key.Value, error)) (key.Value, error) {
	return WithResources(a, []Acquisition{{Resource: res, N: n}}, act)
}

// WithResources acquires every distinct resource in group exactly once
// (quantities for repeated resources summed), in a fixed total order, so
// that concurrent callers acquiring overlapping resource sets can never
// deadlock against each other.
func WithResources(a *action.Action, group []Acquisition, act func(*action.Action) (key.Value, error)) (key.Value, error) {
	for _, acq := range group {
		if acq.N < 0 {
			return key.Value{}, shakeerr.New(shakeerr.KindNegativeResourceRequest, acq.Resource.Name(), a.GetRW().Stack,
				fmt.Errorf("%w: %d units of %s", shakeerr.ErrNegativeResourceQuantity, acq.N, acq.Resource.Name()))
		}
	}
	merged := mergeAcquisitions(group)
	sort.Slice(merged, func(i, j int) bool { return merged[i].Resource.order() < merged[j].Resource.order() })

	return acquireChain(a, merged, 0, act)
}

func mergeAcquisitions(group []Acquisition) []Acquisition {
	totals := map[Resource]int{}
	order := []Resource{}
	for _, acq := range group {
		if _, seen := totals[acq.Resource]; !seen {
			order = append(order, acq.Resource)
		}
		totals[acq.Resource] += acq.N
	}
	merged := make([]Acquisition, 0, len(order))
	for _, r := range order {
		merged = append(merged, Acquisition{Resource: r, N: totals[r]})
	}
	return merged
}

func acquireChain(a *action.Action, group []Acquisition, i int, act func(*action.Action) (key.Value, error)) (key.Value, error) {
	if i == len(group) {
		prevBlock := a.GetRW().BlockApply
		a.GetRW().BlockApply = "Within withResource: apply is not allowed while holding a resource"
		value, err := act(a)
		a.GetRW().BlockApply = prevBlock
		return value, err
	}

	acq := group[i]
	g := a.GetRO()
	if g.Output != nil {
		g.Output(levels.Loud, fmt.Sprintf("waiting to acquire %d unit(s) of %s", acq.N, acq.Resource.Name()))
	}

	start := time.Now()
	_, waitErr := a.CaptureRAW(func(resume func(any, error)) {
		acq.Resource.Acquire(acq.N, func(err error) { resume(nil, err) })
	})
	waited := time.Since(start)
	a.GetRW().Discount += waited
	g.Observe().ResourceWait(waited)
	if waitErr != nil {
		return key.Value{}, waitErr
	}
	g.Observe().ResourceHeld(acq.N)

	value, err := acquireChain(a, group, i+1, act)
	acq.Resource.Release(acq.N)
	g.Observe().ResourceHeld(-acq.N)
	return value, err
}
