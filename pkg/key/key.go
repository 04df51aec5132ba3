// ============================================================================
// Key / Value - erased, typed handles
// ============================================================================
//
// Package: pkg/key
// Purpose: Opaque, dynamically typed handles that identify rule inputs
// (Key) and outputs (Value), plus the small ordered structures the
// scheduler threads through a build: Depends, Trace, Stack.
//
// ============================================================================

// Package key defines the erased Key/Value handles the scheduler passes
// between rules, the dependency database, and the action monad.
package key

import (
	"fmt"
	"reflect"
)

// Key is an opaque, hashable, typed handle identifying a rule input. Two
// keys are equal only if their underlying Go type and value are equal.
type Key struct {
	typ     reflect.Type
	payload any
}

// New erases a concrete, comparable key value into a Key. v must be
// comparable; rules.AddRule's comparable type constraint ensures this for
// rule key types, and New itself does not check it.
func New(v any) Key {
	return Key{typ: reflect.TypeOf(v), payload: v}
}

// Type returns the registered Go type this key's rule family is keyed by.
func (k Key) Type() reflect.Type { return k.typ }

// Payload returns the erased value for rules that need to recover it.
func (k Key) Payload() any { return k.payload }

// Equal reports whether two keys carry the same type and value.
func (k Key) Equal(other Key) bool {
	return k.typ == other.typ && k.payload == other.payload
}

func (k Key) String() string {
	if k.typ == nil {
		return "<nil key>"
	}
	return fmt.Sprintf("%s(%v)", k.typ.Name(), k.payload)
}

// Value is the erased result produced by a rule's execute function.
type Value struct {
	typ     reflect.Type
	payload any
}

// NewValue erases a concrete rule result.
func NewValue(v any) Value {
	return Value{typ: reflect.TypeOf(v), payload: v}
}

// Type returns the concrete Go type carried by this value.
func (v Value) Type() reflect.Type { return v.typ }

// Payload returns the erased result, for callers that know the concrete type.
func (v Value) Payload() any { return v.payload }

func (v Value) String() string {
	if v.typ == nil {
		return "<nil value>"
	}
	return fmt.Sprintf("%v", v.payload)
}

// Depends is the ordered list of keys recorded by one apply call.
type Depends struct {
	Keys []Key
}

// Trace is one (message, start, end) span relative to build start, in the
// same units the Global's wall-clock origin is measured in (nanoseconds).
type Trace struct {
	Message string
	Start   int64
	End     int64
}

// Stack is the ordered chain of keys currently being built on one action's
// logical call path; used for cycle detection and error reporting. It is
// immutable - Push returns a new Stack, leaving the receiver untouched, so
// concurrent branches sharing a prefix never alias each other's slice.
type Stack struct {
	keys []Key
}

// NewStack returns an empty build stack.
func NewStack() Stack { return Stack{} }

// Push returns a new Stack with k appended to the end (the new top).
func (s Stack) Push(k Key) Stack {
	next := make([]Key, len(s.keys)+1)
	copy(next, s.keys)
	next[len(s.keys)] = k
	return Stack{keys: next}
}

// Top returns the key this action is executing for, and false for the
// empty (top-level) stack.
func (s Stack) Top() (Key, bool) {
	if len(s.keys) == 0 {
		return Key{}, false
	}
	return s.keys[len(s.keys)-1], true
}

// Contains reports whether k already appears anywhere on the stack - used
// to detect a dependency cycle before it is allowed to recurse.
func (s Stack) Contains(k Key) bool {
	for _, sk := range s.keys {
		if sk.Equal(k) {
			return true
		}
	}
	return false
}

// Keys returns the stack contents, top-level first.
func (s Stack) Keys() []Key {
	out := make([]Key, len(s.keys))
	copy(out, s.keys)
	return out
}

// FlattenDepends returns every key across a list of Depends groups, in
// group order then within-group order - used by the tracking/lint checks.
func FlattenDepends(groups []Depends) []Key {
	var out []Key
	for _, g := range groups {
		out = append(out, g.Keys...)
	}
	return out
}

// ContainsKey reports whether ks contains k.
func ContainsKey(ks []Key, k Key) bool {
	for _, x := range ks {
		if x.Equal(k) {
			return true
		}
	}
	return false
}
