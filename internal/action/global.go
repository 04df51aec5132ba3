// ============================================================================
// Action Monad - Global (shared) state
// ============================================================================
//
// Package: internal/action
// File: global.go
// Purpose: The Global carries everything a running action can read but
// (mostly) not mutate directly: the database handle, worker pool, cleanup
// registry, wall-clock origin, rule registry, the locked output sink,
// options, and the mutable after/absent cells. One Global is constructed
// per build and bundles every collaborator the scheduler coordinates.
//
// ============================================================================

package action

import (
	"reflect"
	"sync"
	"time"

	"github.com/ChuLiYu/shake/internal/buildtypes"
	"github.com/ChuLiYu/shake/internal/levels"
	"github.com/ChuLiYu/shake/internal/pool"
	"github.com/ChuLiYu/shake/pkg/key"
)

// Database is the persistent-build-database collaborator the action monad
// calls through. Declared here (rather than depending on the concrete
// internal/database package) so that any conforming store can drive a
// build - the scheduler only ever needs this interface.
type Database interface {
	Build(p *pool.Pool, ops buildtypes.Ops, stack key.Stack, keys []key.Key, cont func(buildtypes.BuildResult, error))
	ListDepends(d key.Depends) []key.Key
	LookupDependencies(k key.Key) []key.Key
	CheckValid(runStored, runEqual func(key.Key, key.Value) bool, absent []buildtypes.AbsentClaim) error
	ListLive() []key.Key
	ToReport() buildtypes.Report
	AssertFinishedDatabase() error
	Progress() buildtypes.ProgressSnapshot
}

// RuleInfo is one rule family's handlers, as registered against a key type.
type RuleInfo struct {
	Execute    func(*Action, key.Key) (key.Value, error)
	Stored     func(key.Key, key.Value) bool
	Equal      func(key.Value, key.Value) bool
	ResultType reflect.Type
}

// Registry maps a key's registered Go type to its RuleInfo.
type Registry interface {
	Lookup(t reflect.Type) (RuleInfo, bool)
}

// Observer receives scheduler events for metrics/diagnostics; nil-safe at
// every call site so a build can run with no observer wired at all.
type Observer interface {
	KeyBuilt(d time.Duration)
	CacheHit()
	RuleFailed()
	PoolGauges(active, queued int)
	ResourceWait(d time.Duration)
	ResourceHeld(delta int)
}

// Options are the run-level knobs a caller of the run driver sets.
type Options struct {
	Threads int

	// LineBuffering is accepted for configuration compatibility; stdout
	// and stderr are unbuffered here, and the output sink writes whole
	// lines under its lock, so there is nothing extra to switch on.
	LineBuffering bool
	Abbreviations [][2]string
	Verbosity     levels.Verbosity
	Staunch       bool
	Timings       bool
	Lint          levels.LintMode
	Report        []string
	LiveFiles     []string
}

// Cleanup is the scoped finaliser registry run (in reverse registration
// order) when a build ends, whether it succeeded or failed.
type Cleanup struct {
	mu  sync.Mutex
	fns []func() error
}

// NewCleanup returns an empty Cleanup registry.
func NewCleanup() *Cleanup { return &Cleanup{} }

// Register adds fn to run at cleanup time.
func (c *Cleanup) Register(fn func() error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fns = append(c.fns, fn)
}

// RunAll runs every registered finaliser in reverse registration order. A
// finaliser's failure is reported via onErr and does not stop the rest
// from running - one bad finaliser must not strand the others.
func (c *Cleanup) RunAll(onErr func(error)) {
	c.mu.Lock()
	fns := append([]func() error(nil), c.fns...)
	c.mu.Unlock()
	for i := len(fns) - 1; i >= 0; i-- {
		if err := fns[i](); err != nil && onErr != nil {
			onErr(err)
		}
	}
}

// Global holds everything shared, read-mostly, across every action in one
// build.
type Global struct {
	Database  Database
	Pool      *pool.Pool
	Cleanup   *Cleanup
	StartTime time.Time
	Registry  Registry
	Options   Options
	Observer  Observer

	// Output is the locked sink every action writes progress/diagnostics
	// through; construction (abbreviation substitution, the mutex) is the
	// run driver's job, not this package's.
	Output func(levels.Verbosity, string)

	// LintHook, if set, runs at the end of every rule execution - the run
	// driver installs its working-directory check here when lint is on.
	LintHook func(a *Action) error

	// Progress is read by the progress-reporter goroutine the run driver
	// spawns; it is set once, before the pool starts.
	Progress func() buildtypes.ProgressSnapshot

	mu     sync.Mutex
	after  []func() error
	absent []buildtypes.AbsentClaim
}

// NewGlobal constructs a Global ready to drive one build.
func NewGlobal(db Database, p *pool.Pool, registry Registry, opts Options) *Global {
	return &Global{
		Database:  db,
		Pool:      p,
		Cleanup:   NewCleanup(),
		StartTime: time.Now(),
		Registry:  registry,
		Options:   opts,
	}
}

// RegisterAfter adds an IO finaliser to run once the whole build (not just
// one rule) completes.
func (g *Global) RegisterAfter(fn func() error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.after = append(g.after, fn)
}

// RunAfter executes every registered "after" finaliser in reverse order.
func (g *Global) RunAfter(onErr func(error)) {
	g.mu.Lock()
	fns := append([]func() error(nil), g.after...)
	g.mu.Unlock()
	for i := len(fns) - 1; i >= 0; i-- {
		if err := fns[i](); err != nil && onErr != nil {
			onErr(err)
		}
	}
}

// ClaimAbsent records a trackChange claim.
func (g *Global) ClaimAbsent(c buildtypes.AbsentClaim) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.absent = append(g.absent, c)
}

// Absent returns a snapshot of every trackChange claim made so far.
func (g *Global) Absent() []buildtypes.AbsentClaim {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]buildtypes.AbsentClaim(nil), g.absent...)
}

// Observe returns the Global's Observer, or a no-op stand-in if none was
// wired - every call site (engine, resource, cache, the run driver's
// progress loop) can call this unconditionally without a nil check.
func (g *Global) Observe() Observer {
	if g.Observer == nil {
		return noopObserver{}
	}
	return g.Observer
}

type noopObserver struct{}

func (noopObserver) KeyBuilt(time.Duration)     {}
func (noopObserver) CacheHit()                  {}
func (noopObserver) RuleFailed()                {}
func (noopObserver) PoolGauges(int, int)        {}
func (noopObserver) ResourceWait(time.Duration) {}
func (noopObserver) ResourceHeld(int)           {}
