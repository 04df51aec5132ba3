// ============================================================================
// Structured Error Lifting
// ============================================================================
//
// Package: internal/shakeerr
// File: shakeerr.go
// Purpose: Define every scheduler error kind and wrap raw action failures
// into a structured, contextualised form carrying a target and call stack.
// Sentinel errors.New vars cover the simple cases; StructuredError (with
// Unwrap) carries the kind, target, and stack for everything else.
//
// ============================================================================

package shakeerr

import (
	"errors"
	"fmt"

	"github.com/ChuLiYu/shake/internal/levels"
	"github.com/ChuLiYu/shake/pkg/key"
)

// Kind identifies the failure category a StructuredError reports.
type Kind int

const (
	KindUnknown Kind = iota
	KindNoApplyHere
	KindNoRuleToBuild
	KindRuleTypeMismatch
	KindLintCwdChanged
	KindLintUsedNotDepended
	KindLintDependedAfterUsed
	KindNegativeResourceRequest
	KindCycleDetected
	KindUserFailure
)

func (k Kind) String() string {
	switch k {
	case KindNoApplyHere:
		return "NoApplyHere"
	case KindNoRuleToBuild:
		return "NoRuleToBuild"
	case KindRuleTypeMismatch:
		return "RuleTypeMismatch"
	case KindLintCwdChanged:
		return "LintCwdChanged"
	case KindLintUsedNotDepended:
		return "LintUsedNotDepended"
	case KindLintDependedAfterUsed:
		return "LintDependedAfterUsed"
	case KindNegativeResourceRequest:
		return "NegativeResourceRequest"
	case KindCycleDetected:
		return "CycleDetected"
	case KindUserFailure:
		return "UserFailure"
	default:
		return "Unknown"
	}
}

// Sentinel errors for the categories that need no extra payload beyond a
// message.
var (
	ErrNoApplyHere              = errors.New("shake: apply is not allowed here")
	ErrNegativeResourceQuantity = errors.New("shake: withResources called with a negative quantity")
)

// StructuredError is the contextualised failure form every action error is
// lifted into before it reaches the run driver's error cell. It is never
// re-wrapped - a
// StructuredError handed back to Lift is returned unchanged.
type StructuredError struct {
	Kind   Kind
	Target string
	Stack  []key.Key
	Inner  error
}

func (e *StructuredError) Error() string {
	if e.Inner != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Target, e.Inner)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Target)
}

func (e *StructuredError) Unwrap() error { return e.Inner }

// New constructs a StructuredError directly - used by call sites (the apply
// engine, the lint checks) that already know the specific kind.
func New(kind Kind, target string, stack key.Stack, inner error) *StructuredError {
	return &StructuredError{Kind: kind, Target: target, Stack: stack.Keys(), Inner: inner}
}

// NoRuleError reports that no rule family is registered for the first
// offending key's type.
func NoRuleError(stack key.Stack, k key.Key, expected string) *StructuredError {
	msg := fmt.Errorf("no rule to build %s", k)
	if expected != "" {
		msg = fmt.Errorf("no rule to build %s (expected result type %s)", k, expected)
	}
	return New(KindNoRuleToBuild, k.String(), stack, msg)
}

func TypeMismatchError(stack key.Stack, k key.Key, declared, registered string) *StructuredError {
	return New(KindRuleTypeMismatch, k.String(), stack,
		fmt.Errorf("declared result type %s does not match registered rule type %s for %s", declared, registered, k))
}

func CycleError(stack key.Stack, k key.Key) *StructuredError {
	return New(KindCycleDetected, k.String(), stack, fmt.Errorf("dependency cycle detected at %s", k))
}

// Lift wraps a raw failure from user action code into a StructuredError
// with a target (the top of stack, or "Unknown call stack") and the
// current call chain. A StructuredError passed in is returned unchanged.
// When staunch is true and verbosity is at least Quiet, the wrapped error
// is printed through output with a "Continuing due to staunch mode"
// trailer - staunch mode keeps going, so the failure must be surfaced
// immediately since the run driver's error cell keeps only the first.
func Lift(stack key.Stack, raw error, staunch bool, verbosity levels.Verbosity, output func(levels.Verbosity, string)) *StructuredError {
	var existing *StructuredError
	if errors.As(raw, &existing) {
		return existing
	}
	target := "Unknown call stack"
	if top, ok := stack.Top(); ok {
		target = top.String()
	}
	se := New(KindUserFailure, target, stack, raw)
	if staunch && verbosity >= levels.Quiet && output != nil {
		output(levels.Quiet, fmt.Sprintf("%s\nContinuing due to staunch mode", formatStack(se)))
	}
	return se
}

func formatStack(e *StructuredError) string {
	s := fmt.Sprintf("Error when running Shake build system:\n* Depends on: %s\n", e.Target)
	for i := len(e.Stack) - 1; i >= 0; i-- {
		s += fmt.Sprintf("  at %s\n", e.Stack[i])
	}
	s += e.Inner.Error()
	return s
}
