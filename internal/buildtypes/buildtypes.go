// Package buildtypes holds the small data shapes exchanged between the
// action monad, the apply engine, and the database collaborator,
// factored out so that action can declare a Database interface without
// importing the concrete internal/database package (which in turn must not
// import action - Go requires exact type identity to satisfy an interface,
// so the shared shapes need a neutral home).
package buildtypes

import (
	"time"

	"github.com/ChuLiYu/shake/pkg/key"
)

// ExecResult is what a rule execution delivers for one key.
type ExecResult struct {
	Value    key.Value
	Deps     []key.Depends
	Duration time.Duration
	Traces   []key.Trace
}

// Ops is the {stored, equal, exec} triple the apply engine hands the
// database.
type Ops struct {
	Stored func(k key.Key, v key.Value) bool
	Equal  func(a, b key.Value) bool
	Exec   func(stack key.Stack, k key.Key, cont func(ExecResult, error))
}

// BuildResult is delivered by Database.Build's continuation.
type BuildResult struct {
	Duration time.Duration
	Deps     []key.Depends
	Values   []key.Value
}

// AbsentClaim records "this rule claims key is not tracked by the build".
type AbsentClaim struct {
	Claimant key.Key
	Key      key.Key
}

// ReportEntry is one key's row in a profile report.
type ReportEntry struct {
	Key          string
	BuiltTimes   int
	LastDuration time.Duration
	Dependencies []string
}

// Report is the full toReport output.
type Report struct {
	Entries []ReportEntry
}

// ProgressSnapshot is what the progress callback reads on each tick.
type ProgressSnapshot struct {
	Built int
	Total int
}
