// ============================================================================
// Rule registry & DSL
// ============================================================================
//
// Package: internal/rules
// File: rules.go
// Purpose: The small typed builder a caller of run.Run uses to register
// rule families and top-level actions before a build starts: a struct
// collecting typed configuration before a single Build call, rather than
// an untyped map assembled ad hoc. A rule is registered by reflect.Type
// (the key family), same as internal/registry.Registry; Rules.Build hands
// that registry plus the collected top-level actions straight to run.Run.
//
// AddRule is the generics-based convenience wrapper: callers write plain
// `func(*action.Action, K) (V, error)` and never touch pkg/key's
// erasure by hand.
//
// ============================================================================

package rules

import (
	"reflect"

	"github.com/ChuLiYu/shake/internal/action"
	"github.com/ChuLiYu/shake/internal/registry"
	"github.com/ChuLiYu/shake/pkg/key"
)

// TopLevel is one of the actions run.Run submits to the pool at build
// start.
type TopLevel func(*action.Action) error

// Rules accumulates rule registrations and top-level actions before a
// build. It is not safe for concurrent use - callers build it up
// sequentially, then hand the result to run.Run.
type Rules struct {
	reg     *registry.Registry
	actions []TopLevel
}

// New returns an empty Rules builder.
func New() *Rules {
	return &Rules{reg: registry.New()}
}

// Rule registers info against keyType directly, replacing any prior
// registration for that type. Most callers want AddRule instead.
func (r *Rules) Rule(keyType reflect.Type, info action.RuleInfo) *Rules {
	r.reg.Register(keyType, info)
	return r
}

// Action appends a top-level action to run at build start.
func (r *Rules) Action(act TopLevel) *Rules {
	r.actions = append(r.actions, act)
	return r
}

// Build returns the accumulated registry and top-level actions, ready for
// run.Run.
func (r *Rules) Build() (*registry.Registry, []TopLevel) {
	return r.reg, append([]TopLevel(nil), r.actions...)
}

// AddRule registers a rule family keyed by K (a comparable concrete Go
// type) producing V, erasing execute/stored/equal into the key.Key/
// key.Value shapes action.RuleInfo carries. stored and equal may be nil -
// a nil stored is treated as "always valid once built". The in-memory
// database consults neither; the run driver's lint pass (CheckValid) calls
// both, and a database collaborator that persists values across runs
// would use equal to decide staleness.
func AddRule[K comparable, V any](r *Rules, execute func(*action.Action, K) (V, error), stored func(K, V) bool, equal func(V, V) bool) *Rules {
	var zeroK K
	keyType := reflect.TypeOf(zeroK)
	var zeroV V
	valType := reflect.TypeOf(zeroV)

	info := action.RuleInfo{
		ResultType: valType,
		Execute: func(a *action.Action, k key.Key) (key.Value, error) {
			v, err := execute(a, k.Payload().(K))
			if err != nil {
				return key.Value{}, err
			}
			return key.NewValue(v), nil
		},
	}
	if stored != nil {
		info.Stored = func(k key.Key, v key.Value) bool {
			return stored(k.Payload().(K), v.Payload().(V))
		}
	}
	if equal != nil {
		info.Equal = func(a, b key.Value) bool {
			return equal(a.Payload().(V), b.Payload().(V))
		}
	}
	return r.Rule(keyType, info)
}
