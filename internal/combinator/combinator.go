// ============================================================================
// Parallel combinator, order-only wrapper, unsafeExtraThread
// ============================================================================
//
// Package: internal/combinator
// File: combinator.go
// Purpose: Structured sub-action concurrency: Parallel (sequence semantics
// over n>=2 pool-submitted branches, first error wins, results in input
// order), OrderOnly (runs an action but discards any dependencies it
// recorded), and UnsafeExtraThread (temporarily raises pool capacity, runs
// an action with apply blocked, then re-enters the pool queue - at
// priority if the action failed).
//
// Parallel's "first error wins, remaining branches cancelled best-effort"
// bookkeeping is golang.org/x/sync/errgroup's Group contract: the first
// branch error cancels the group context, queued-but-unstarted branches
// observe the cancellation and are silently discarded, and Wait returns
// that first error.
//
// ============================================================================

package combinator

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/ChuLiYu/shake/internal/action"
	"github.com/ChuLiYu/shake/internal/levels"
	"github.com/ChuLiYu/shake/pkg/key"
)

// Parallel runs each of acts as its own branch (a cloned Local sharing the
// parent's Global, stack, and verbosity) and returns their results in
// input order. The empty list returns immediately; a singleton runs
// sequentially on the caller's own worker without involving the pool. With
// two or more branches, the parent suspends while every branch runs as a
// pool job of its own; a branch still queued when a sibling has already
// failed never starts.
func Parallel(a *action.Action, acts []func(*action.Action) (key.Value, error)) ([]key.Value, error) {
	switch len(acts) {
	case 0:
		return nil, nil
	case 1:
		v, err := acts[0](a)
		if err != nil {
			return nil, err
		}
		return []key.Value{v}, nil
	}

	g := a.GetRO()
	results := make([]key.Value, len(acts))
	grp, ctx := errgroup.WithContext(context.Background())
	for i, act := range acts {
		i, act := i, act
		branch := a.Fork(a.GetRW().Stack)
		grp.Go(func() error {
			done := make(chan error, 1)
			g.Pool.Add(func() {
				if ctx.Err() != nil {
					done <- nil // a sibling already failed; discard silently
					return
				}
				v, err := act(branch)
				if err == nil {
					results[i] = v
				}
				done <- err
			})
			return <-done
		})
	}

	_, err := a.CaptureRAW(func(resume func(any, error)) {
		go func() { resume(nil, grp.Wait()) }()
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

// OrderOnly runs act but discards any dependencies it records: Local's
// Depends is snapshotted before and restored after, so act's side effects
// on traces, discount, and lint tracking survive while its dependency
// contribution does not.
func OrderOnly(a *action.Action, act func(*action.Action) (key.Value, error)) (key.Value, error) {
	l := a.GetRW()
	snapshot := append([]key.Depends(nil), l.Depends...)
	value, err := act(a)
	a.GetRW().Depends = snapshot
	return value, err
}

// UnsafeExtraThread runs act with the pool's capacity temporarily raised
// by one and apply blocked for act's dynamic extent. Once act returns, the
// capacity bump is released and the action re-enters the pool queue for a
// real slot - at priority if act failed, so a failing continuation
// surfaces promptly instead of waiting behind unrelated queued work.
func UnsafeExtraThread(a *action.Action, act func(*action.Action) (key.Value, error)) (key.Value, error) {
	g := a.GetRO()
	release := g.Pool.Increase()

	prevBlock := a.GetRW().BlockApply
	a.GetRW().BlockApply = "Within unsafeExtraThread"
	value, err := act(a)
	a.GetRW().BlockApply = prevBlock
	release()

	reentry := func(resume func(any, error)) {
		job := func() { resume(nil, nil) }
		if err != nil {
			g.Pool.AddPriority(job)
		} else {
			g.Pool.Add(job)
		}
	}
	if _, reErr := a.CaptureRAW(reentry); reErr == nil && err != nil && g.Output != nil {
		g.Output(levels.Loud, "unsafeExtraThread action failed, resumed at priority")
	}
	return value, err
}
