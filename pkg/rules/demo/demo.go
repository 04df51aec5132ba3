// ============================================================================
// Demo ruleset - file-mirroring rules
// ============================================================================
//
// Package: pkg/rules/demo
// Purpose: The small, concrete ruleset `shake run`/`shake graph` exercise
// out of the box - a target rule family (Key{Path}: produce Path from
// Path+".in") that depends on a source rule family (Source{Path}: read a
// file verbatim), plus top-level want-actions for a list of targets.
// Exists so the repository runs end to end without every user supplying
// their own rules first, and so `shake graph` has real dependency edges
// to print.
//
// ============================================================================

package demo

import (
	"fmt"
	"os"

	"github.com/ChuLiYu/shake/internal/action"
	"github.com/ChuLiYu/shake/internal/engine"
	"github.com/ChuLiYu/shake/internal/rules"
	"github.com/ChuLiYu/shake/pkg/key"
)

// Key identifies one file to produce by copying Path+".in" to Path.
type Key struct {
	Path string
}

// Source identifies one input file read verbatim; targets depend on it, so
// the dependency graph a build records has real edges.
type Source struct {
	Path string
}

// Build registers the copy and source rules and one want-action per target
// onto rb, returning rb for chaining.
func Build(rb *rules.Rules, targets []string) *rules.Rules {
	rules.AddRule[Key, string](rb, execute, stored, equal)
	rules.AddRule[Source, string](rb, readSource, nil, equal)
	for _, t := range targets {
		t := t
		rb.Action(func(a *action.Action) error {
			_, err := engine.Apply1(a, engine.Request{
				Key:          key.New(Key{Path: t}),
				ExpectedType: nil,
			})
			return err
		})
	}
	return rb
}

func execute(a *action.Action, k Key) (string, error) {
	v, err := engine.Apply1(a, engine.Request{Key: key.New(Source{Path: k.Path + ".in"})})
	if err != nil {
		return "", err
	}
	data := v.Payload().(string)
	if err := os.WriteFile(k.Path, []byte(data), 0o644); err != nil {
		return "", fmt.Errorf("demo: writing %s: %w", k.Path, err)
	}
	return data, nil
}

func readSource(a *action.Action, s Source) (string, error) {
	data, err := os.ReadFile(s.Path)
	if err != nil {
		return "", fmt.Errorf("demo: reading %s: %w", s.Path, err)
	}
	return string(data), nil
}

// stored reports whether Path's current on-disk content already matches
// the value this rule last produced - a freshly produced file is always
// considered stored. The in-memory database never calls it; it runs in
// the run driver's lint pass (CheckValid) and would be used by a
// persistent collaborator.
func stored(k Key, v string) bool {
	data, err := os.ReadFile(k.Path)
	return err == nil && string(data) == v
}

func equal(a, b string) bool { return a == b }

// IsFileKey reports whether k belongs to this ruleset's Key family - used
// by run.Options.IsFileKey to filter LiveFiles output down to real paths.
func IsFileKey(k key.Key) bool {
	_, ok := k.Payload().(Key)
	return ok
}
