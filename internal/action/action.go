// ============================================================================
// Action Monad - Action, Local (per-branch) state, and the suspension
// primitive
// ============================================================================
//
// Package: internal/action
// File: action.go
// Purpose: Action is the handle every rule body and combinator runs
// against: a Global pointer plus a mutable Local carrying the call stack,
// verbosity, and the accumulated dependency/trace/tracking state for the
// CURRENT branch of execution.
//
// Go has no first-class continuations, so CaptureRAW realises suspension
// another way: a suspended action keeps its goroutine and blocks on a
// channel, but first hands the worker pool a temporary capacity bump (the
// same mechanism UnsafeExtraThread uses). That keeps the *executing*
// concurrency bounded at N even while arbitrarily many actions sit
// suspended waiting on a resource, a fence, or another key's build -
// exactly the property a detach-and-resume primitive has to give.
//
// ============================================================================

package action

import (
	"fmt"
	"time"

	"github.com/ChuLiYu/shake/internal/levels"
	"github.com/ChuLiYu/shake/pkg/key"
)

// Local is the per-branch mutable state: the call stack, verbosity,
// accumulated dependency groups, the discount (time spent waiting, not
// charged to this action's duration), traces, and the
// trackUse/trackAllow bookkeeping. Exactly one goroutine owns a *Local at
// a time; branching (apply's rule execution, parallel's sub-actions) gets
// its own clone rather than sharing one across goroutines.
type Local struct {
	Stack       key.Stack
	Verbosity   levels.Verbosity
	Depends     []key.Depends // most recently recorded group first
	Discount    time.Duration
	Traces      []key.Trace // most recent first
	TrackUsed   []key.Key
	TrackAllows []func(key.Key) bool
	BlockApply  string // non-empty: apply is currently forbidden, and why
}

// NewLocal starts a fresh branch at the given stack and verbosity.
func NewLocal(stack key.Stack, verbosity levels.Verbosity) *Local {
	return &Local{Stack: stack, Verbosity: verbosity}
}

func (l *Local) clone() *Local {
	return &Local{
		Stack:       l.Stack,
		Verbosity:   l.Verbosity,
		BlockApply:  l.BlockApply,
		TrackAllows: append([]func(key.Key) bool(nil), l.TrackAllows...),
	}
}

// Action is the handle rule bodies and combinators run against.
type Action struct {
	global *Global
	local  *Local
}

// New wraps a Global/Local pair into an Action.
func New(global *Global, local *Local) *Action {
	return &Action{global: global, local: local}
}

// GetRO returns read access to the shared Global.
func (a *Action) GetRO() *Global { return a.global }

// GetsRO projects a value out of Global.
func (a *Action) GetsRO(f func(*Global) any) any { return f(a.global) }

// GetRW returns the current branch's mutable Local.
func (a *Action) GetRW() *Local { return a.local }

// GetsRW projects a value out of the current Local.
func (a *Action) GetsRW(f func(*Local) any) any { return f(a.local) }

// PutRW replaces the current branch's Local wholesale.
func (a *Action) PutRW(l *Local) { a.local = l }

// ModifyRW replaces the current Local with f's result.
func (a *Action) ModifyRW(f func(*Local) *Local) { a.local = f(a.local) }

// Fork returns a new Action for a child branch (a rule's own execution, or
// one arm of a parallel combinator): same Global, a cloned Local that
// starts with an empty dependency/trace/tracking history of its own.
func (a *Action) Fork(stack key.Stack) *Action {
	l := a.local.clone()
	l.Stack = stack
	return &Action{global: a.global, local: l}
}

// LiftIO runs f synchronously, holding the current worker slot - used for
// any external side effect that does not need to suspend.
func LiftIO[T any](a *Action, f func() (T, error)) (T, error) {
	return f()
}

// Traced runs f synchronously like LiftIO, additionally recording a
// (message, start, end) span relative to the build's wall-clock origin
// onto this branch's trace list. The span is recorded whether or not f
// fails.
func Traced[T any](a *Action, msg string, f func() (T, error)) (T, error) {
	start := time.Since(a.global.StartTime)
	v, err := f()
	end := time.Since(a.global.StartTime)
	a.local.Traces = append([]key.Trace{{Message: msg, Start: int64(start), End: int64(end)}}, a.local.Traces...)
	return v, err
}

// ThrowRAW raises err within the action monad. Actions otherwise propagate
// errors as ordinary Go (value, error) returns; ThrowRAW exists so call
// sites can read as "raise".
func (a *Action) ThrowRAW(err error) error { return err }

// TryRAW runs f, converting any panic raised by user rule code into an
// error instead of letting it escape the worker goroutine - the action
// monad's catch.
func TryRAW(a *Action, f func(*Action) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in action: %v", r)
		}
	}()
	return f(a)
}

type rawResult struct {
	value any
	err   error
}

// CaptureRAW suspends the current action. register is called once, given
// a resume function that some other event (a timer, a fence, another
// key's build finishing) must invoke exactly once with the eventual
// result. While suspended, CaptureRAW temporarily raises the pool's
// capacity by one so a queued job can fill the gap left behind - the same
// primitive unsafeExtraThread exposes directly. This is the one place in
// the whole package that blocks a goroutine; every other operation here
// runs to completion synchronously.
func (a *Action) CaptureRAW(register func(resume func(any, error))) (any, error) {
	release := a.global.Pool.Increase()
	defer release()

	resultCh := make(chan rawResult, 1)
	register(func(v any, err error) {
		resultCh <- rawResult{value: v, err: err}
	})
	r := <-resultCh
	return r.value, r.err
}
