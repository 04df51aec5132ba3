// ============================================================================
// Tracking & Lint - trackUse / trackChange / trackAllow / trackCheckUsed
// ============================================================================
//
// Package: internal/action
// File: tracking.go
// Purpose: The tracking half of lint: recording which keys a rule reads
// without going through apply (TrackUse), which keys it claims to have
// changed outside the build's own bookkeeping (TrackChange), and scoped
// exemptions from both (TrackAllow). TrackCheckUsed is the end-of-rule
// audit that turns "used but never depended on" or "depended on after
// already being used" into the two matching lint error kinds.
//
// ============================================================================

package action

import (
	"fmt"
	"reflect"

	"github.com/ChuLiYu/shake/internal/buildtypes"
	"github.com/ChuLiYu/shake/internal/shakeerr"
	"github.com/ChuLiYu/shake/pkg/key"
)

// TrackUse records that the current rule read k without an intervening
// apply call. A key already on the stack (self-reference), already
// recorded as a dependency, or matched by an active TrackAllow predicate
// is exempt.
func (a *Action) TrackUse(k key.Key) {
	l := a.local
	if top, ok := l.Stack.Top(); ok && top.Equal(k) {
		return
	}
	if key.ContainsKey(key.FlattenDepends(l.Depends), k) {
		return
	}
	for _, allow := range l.TrackAllows {
		if allow(k) {
			return
		}
	}
	l.TrackUsed = append(l.TrackUsed, k)
}

// TrackChange records that the current rule claims to have changed k
// outside of the database's own notion of "built by this rule" - the
// trackChange half of lint, surfaced later as an AbsentClaim so checkValid
// does not flag k as stale.
func (a *Action) TrackChange(k key.Key) {
	l := a.local
	if top, ok := l.Stack.Top(); ok && top.Equal(k) {
		return
	}
	for _, allow := range l.TrackAllows {
		if allow(k) {
			return
		}
	}
	claimant, _ := l.Stack.Top()
	a.global.ClaimAbsent(buildtypes.AbsentClaim{Claimant: claimant, Key: k})
}

// TrackAllow installs a scoped exemption: predicate only ever runs against
// keys whose registered type matches keyType, so one rule's allowance
// cannot accidentally exempt an unrelated key family.
func (a *Action) TrackAllow(keyType reflect.Type, predicate func(key.Key) bool) {
	l := a.local
	l.TrackAllows = append(l.TrackAllows, func(k key.Key) bool {
		if k.Type() != keyType {
			return false
		}
		return predicate(k)
	})
}

// TrackCheckUsed runs at the end of a rule execution under LintFSATrace: it
// fails the rule with KindLintUsedNotDepended if anything trackUse'd was
// never folded into a real dependency, or KindLintDependedAfterUsed if a
// used key is not a source - the database records dependencies of its own
// for it (LookupDependencies is non-empty).
func (a *Action) TrackCheckUsed() error {
	l := a.local
	if len(l.TrackUsed) == 0 {
		return nil
	}
	deps := key.FlattenDepends(l.Depends)

	var usedNotDepended []key.Key
	for _, k := range l.TrackUsed {
		if !key.ContainsKey(deps, k) {
			usedNotDepended = append(usedNotDepended, k)
		}
	}
	if len(usedNotDepended) > 0 {
		return shakeerr.New(shakeerr.KindLintUsedNotDepended, describeKeys(usedNotDepended), l.Stack,
			fmt.Errorf("%d key(s) read via trackUse but never depended upon", len(usedNotDepended)))
	}

	var dependedAfterUse []key.Key
	for _, k := range l.TrackUsed {
		if len(a.global.Database.LookupDependencies(k)) != 0 {
			dependedAfterUse = append(dependedAfterUse, k)
		}
	}
	if len(dependedAfterUse) > 0 {
		return shakeerr.New(shakeerr.KindLintDependedAfterUsed, describeKeys(dependedAfterUse), l.Stack,
			fmt.Errorf("%d key(s) depended upon after already being used", len(dependedAfterUse)))
	}
	return nil
}

func describeKeys(ks []key.Key) string {
	s := ""
	for i, k := range ks {
		if i > 0 {
			s += ", "
		}
		s += k.String()
	}
	return s
}
