// ============================================================================
// Apply Engine
// ============================================================================
//
// Package: internal/engine
// File: engine.go
// Purpose: Apply/Apply1: convert typed requests to erased keys, validate
// rule existence and result-type agreement against the registry, suspend
// the calling action, delegate to the database's build, and on resume fold
// the returned duration/dependencies back into the caller's Local. execFor
// builds the callback the database invokes to actually run a key's rule -
// the bridge between registry lookup, a fresh Local, and error lifting.
//
// ============================================================================

package engine

import (
	"fmt"
	"reflect"
	"time"

	"github.com/ChuLiYu/shake/internal/action"
	"github.com/ChuLiYu/shake/internal/buildtypes"
	"github.com/ChuLiYu/shake/internal/levels"
	"github.com/ChuLiYu/shake/internal/shakeerr"
	"github.com/ChuLiYu/shake/pkg/key"
)

// Request is one key demanded of apply, together with the result type the
// caller statically expects (nil if the caller does not care).
type Request struct {
	Key          key.Key
	ExpectedType reflect.Type
}

// Apply1 is the singleton convenience form of Apply.
func Apply1(a *action.Action, req Request) (key.Value, error) {
	values, err := Apply(a, []Request{req})
	if err != nil {
		return key.Value{}, err
	}
	return values[0], nil
}

// Apply converts reqs to erased keys, validates each against the rule
// registry, and - if every key is well-formed - delegates to
// applyKeyValue.
func Apply(a *action.Action, reqs []Request) ([]key.Value, error) {
	l := a.GetRW()
	if l.BlockApply != "" {
		return nil, shakeerr.New(shakeerr.KindNoApplyHere, "", l.Stack, fmt.Errorf("%w: %s", shakeerr.ErrNoApplyHere, l.BlockApply))
	}

	g := a.GetRO()
	keys := make([]key.Key, len(reqs))
	for i, req := range reqs {
		info, ok := g.Registry.Lookup(req.Key.Type())
		if !ok {
			return nil, shakeerr.NoRuleError(l.Stack, req.Key, typeName(req.ExpectedType))
		}
		if req.ExpectedType != nil && info.ResultType != nil && req.ExpectedType != info.ResultType {
			return nil, shakeerr.TypeMismatchError(l.Stack, req.Key, typeName(req.ExpectedType), typeName(info.ResultType))
		}
		keys[i] = req.Key
	}
	return applyKeyValue(a, keys)
}

func typeName(t reflect.Type) string {
	if t == nil {
		return "?"
	}
	return t.String()
}

// applyKeyValue suspends the calling action, drives the database's build
// for keys, and on resume folds the returned duration into discount and
// prepends the returned dependency group to Local.Depends.
func applyKeyValue(a *action.Action, keys []key.Key) ([]key.Value, error) {
	g := a.GetRO()
	l := a.GetRW()
	ops := buildtypes.Ops{
		Stored: stored(g),
		Equal:  equal(g),
		Exec:   execFor(g),
	}

	type outcome struct {
		res buildtypes.BuildResult
		err error
	}
	v, err := a.CaptureRAW(func(resume func(any, error)) {
		g.Database.Build(g.Pool, ops, l.Stack, keys, func(res buildtypes.BuildResult, err error) {
			resume(outcome{res: res, err: err}, err)
		})
	})
	if err != nil {
		return nil, err
	}
	out := v.(outcome)
	l.Discount += out.res.Duration
	l.Depends = append(out.res.Deps, l.Depends...)
	return out.res.Values, nil
}

func stored(g *action.Global) func(key.Key, key.Value) bool {
	return func(k key.Key, v key.Value) bool {
		info, ok := g.Registry.Lookup(k.Type())
		if !ok || info.Stored == nil {
			return true
		}
		return info.Stored(k, v)
	}
}

// equal is handed to the database as part of Ops. The in-memory database
// never persists across runs, so it has no stored value to compare a fresh
// one against and does not call this; a persistent database collaborator
// would use it to decide staleness.
func equal(g *action.Global) func(key.Value, key.Value) bool {
	return func(a, b key.Value) bool { return false }
}

// execFor returns the exec closure the database invokes when a key must
// actually be built: fresh Local, timed rule execution, the FSATrace
// tracking audit, and error lifting on failure.
func execFor(g *action.Global) func(key.Stack, key.Key, func(buildtypes.ExecResult, error)) {
	return func(stack key.Stack, k key.Key, cont func(buildtypes.ExecResult, error)) {
		info, ok := g.Registry.Lookup(k.Type())
		if !ok {
			cont(buildtypes.ExecResult{}, shakeerr.NoRuleError(stack, k, ""))
			return
		}

		local := action.NewLocal(stack, g.Options.Verbosity)
		ruleAction := action.New(g, local)

		if g.Output != nil {
			g.Output(levels.Chatty, "# "+k.String())
		}

		start := time.Now()
		var value key.Value
		runErr := action.TryRAW(ruleAction, func(ra *action.Action) error {
			v, err := info.Execute(ra, k)
			value = v
			return err
		})

		if runErr == nil && g.Options.Lint == levels.LintFSATrace {
			if lintErr := ruleAction.TrackCheckUsed(); lintErr != nil {
				runErr = lintErr
			}
		}

		if runErr == nil && g.LintHook != nil {
			if lintErr := g.LintHook(ruleAction); lintErr != nil {
				runErr = lintErr
			}
		}

		elapsed := time.Since(start) - local.Discount
		if elapsed < 0 {
			elapsed = 0
		}

		if runErr != nil {
			g.Observe().RuleFailed()
			se := shakeerr.Lift(stack, runErr, g.Options.Staunch, g.Options.Verbosity, g.Output)
			cont(buildtypes.ExecResult{}, se)
			return
		}

		g.Observe().KeyBuilt(elapsed)
		cont(buildtypes.ExecResult{
			Value:    value,
			Deps:     reverseDepends(local.Depends),
			Duration: elapsed,
			Traces:   reverseTraces(local.Traces),
		}, nil)
	}
}

func reverseDepends(in []key.Depends) []key.Depends {
	out := make([]key.Depends, len(in))
	for i, d := range in {
		out[len(in)-1-i] = d
	}
	return out
}

func reverseTraces(in []key.Trace) []key.Trace {
	out := make([]key.Trace, len(in))
	for i, t := range in {
		out[len(in)-1-i] = t
	}
	return out
}
