// ============================================================================
// Run driver
// ============================================================================
//
// Package: internal/run
// File: run.go
// Purpose: The build entry point: resolve the thread count, build the
// Global, submit every top-level action to the pool, keep the first
// failure (returned at once outside staunch mode; in staunch mode after
// the build drains, every failure having been printed), run the
// lint/report/live-file
// post-steps, and execute every registered "after" finaliser before
// returning.
//
// ============================================================================

package run

import (
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/ChuLiYu/shake/internal/action"
	"github.com/ChuLiYu/shake/internal/buildtypes"
	"github.com/ChuLiYu/shake/internal/levels"
	"github.com/ChuLiYu/shake/internal/pool"
	"github.com/ChuLiYu/shake/internal/report"
	"github.com/ChuLiYu/shake/internal/rules"
	"github.com/ChuLiYu/shake/internal/shakeerr"
	"github.com/ChuLiYu/shake/pkg/key"
)

var log = slog.Default()

// Options are the scheduler's run-level knobs, plus the handful of
// ambient wiring points (Observer, Progress, IsFileKey, Output) the
// engine leaves to its caller.
type Options struct {
	action.Options

	// Observer receives scheduler events (key build time, cache hits,
	// resource wait, pool occupancy) for external instrumentation - e.g.
	// internal/metrics.Collector. May be nil.
	Observer action.Observer

	// Output receives every logged line at its verbosity; if nil, Run
	// builds a default sink that writes to stdout/stderr through a single
	// mutex, applying Options.Abbreviations.
	Output func(levels.Verbosity, string)

	// Progress, if set, is invoked roughly once a second on its own
	// goroutine with a snapshot function reading current database
	// progress and the first recorded failure's target.
	Progress func(snapshot func() (buildtypes.ProgressSnapshot, string))

	// IsFileKey reports whether k is the kind of key LiveFiles should
	// list; nil means LiveFiles output is skipped even if requested.
	IsFileKey func(key.Key) bool
}

// Database is the persistent-build-database collaborator Run drives
// through - re-declared here (identical to action.Database) so callers
// constructing a run.Options never need to import internal/action
// themselves just to spell the type.
type Database = action.Database

// Run builds the Global, submits every top-level action, and blocks until
// the build finishes (or the first fatal error is raised).
func Run(opts Options, db Database, reg action.Registry, actions []rules.TopLevel) error {
	threads := opts.Threads
	if threads == 0 {
		threads = runtime.NumCPU()
	}

	output := opts.Output
	if output == nil {
		output = defaultOutput(opts.Verbosity, opts.Abbreviations)
	}

	g := action.NewGlobal(db, pool.New(threads), reg, opts.Options)
	g.Output = output
	g.Observer = opts.Observer

	log.Info("build started", "threads", threads, "actions", len(actions), "staunch", opts.Staunch)

	// Finalisers (including the progress loop's shutdown) run last on every
	// exit path, in reverse registration order.
	defer g.RunAfter(func(e error) { output(levels.Quiet, "after-action failed: "+e.Error()) })

	errs := newErrorCell(opts.Staunch)

	var lintCWD string
	if opts.Lint != levels.LintNone {
		wd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("run: lint enabled but cwd unavailable: %w", err)
		}
		lintCWD = wd
		g.LintHook = func(a *action.Action) error {
			now, err := os.Getwd()
			if err != nil {
				return err
			}
			if now != lintCWD {
				return shakeerr.New(shakeerr.KindLintCwdChanged, now, a.GetRW().Stack,
					fmt.Errorf("working directory changed during build: wanted %s, got %s", lintCWD, now))
			}
			return nil
		}
	}

	if opts.Progress != nil || opts.Observer != nil {
		stop := make(chan struct{})
		g.RegisterAfter(func() error { close(stop); return nil })
		go progressLoop(g, opts.Progress, errs, stop)
	}

	if len(actions) == 0 && opts.Verbosity >= levels.Normal {
		output(levels.Normal, "shake: no top-level actions given to run")
	}

	// Outside staunch mode the first failure ends the wait below at once;
	// top-level actions still running are left to drain on their own.
	fatal := make(chan struct{})
	var fatalOnce sync.Once
	var wg sync.WaitGroup
	for _, act := range actions {
		act := act
		wg.Add(1)
		g.Pool.Add(func() {
			defer wg.Done()
			local := action.NewLocal(key.NewStack(), opts.Verbosity)
			a := action.New(g, local)
			runErr := action.TryRAW(a, act)
			if runErr != nil {
				se := shakeerr.Lift(key.NewStack(), runErr, opts.Staunch, opts.Verbosity, output)
				errs.raise("Top-level action/want", se)
				if !opts.Staunch {
					fatalOnce.Do(func() { close(fatal) })
				}
			}
		})
	}
	drained := make(chan struct{})
	go func() { wg.Wait(); close(drained) }()
	select {
	case <-drained:
	case <-fatal:
	}

	if first := errs.first(); first != nil {
		log.Error("build failed", "target", errs.firstTarget(), "error", first)
		return first
	}

	if err := db.AssertFinishedDatabase(); err != nil {
		return err
	}

	if opts.Lint != levels.LintNone {
		if err := db.CheckValid(runStoredFor(g), runEqualFor(g), g.Absent()); err != nil {
			return err
		}
		if opts.Verbosity >= levels.Loud {
			output(levels.Loud, "lint checks passed")
		}
	}

	if len(opts.Report) > 0 {
		if err := report.Write(opts.Report, db.ToReport()); err != nil {
			return fmt.Errorf("run: writing report: %w", err)
		}
	}

	if len(opts.LiveFiles) > 0 && opts.IsFileKey != nil {
		if err := writeLiveFiles(opts.LiveFiles, db.ListLive(), opts.IsFileKey); err != nil {
			return fmt.Errorf("run: writing live file list: %w", err)
		}
	}

	if opts.Timings && opts.Verbosity >= levels.Normal {
		output(levels.Normal, fmt.Sprintf("shake: build finished in %s", time.Since(g.StartTime)))
	}

	log.Info("build finished", "elapsed", time.Since(g.StartTime))
	return nil
}

// runStoredFor/runEqualFor project the registry's per-rule Stored/Equal
// handlers into the shape database.CheckValid wants, mirroring
// internal/engine's own stored/equal closures - duplicated rather than
// exported from engine, since the run driver constructs its own Global and
// has no other reason to import engine.
func runStoredFor(g *action.Global) func(key.Key, key.Value) bool {
	return func(k key.Key, v key.Value) bool {
		info, ok := g.Registry.Lookup(k.Type())
		if !ok || info.Stored == nil {
			return true
		}
		return info.Stored(k, v)
	}
}

func runEqualFor(g *action.Global) func(key.Key, key.Value) bool {
	return func(k key.Key, v key.Value) bool {
		info, ok := g.Registry.Lookup(k.Type())
		if !ok || info.Equal == nil {
			return true
		}
		// CheckValid only ever has one value for k (the database's own
		// cached one); Equal compares two values, so without a freshly
		// recomputed value there is nothing to compare against, and
		// Stored (above) is the check that actually matters here.
		return info.Equal(v, v)
	}
}

func progressLoop(g *action.Global, cb func(func() (buildtypes.ProgressSnapshot, string)), errs *errorCell, stop <-chan struct{}) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	snapshot := func() (buildtypes.ProgressSnapshot, string) {
		target := ""
		if first := errs.first(); first != nil {
			target = errs.firstTarget()
		}
		return g.Database.Progress(), target
	}
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			g.Observe().PoolGauges(g.Pool.Active(), g.Pool.Queued())
			if cb != nil {
				cb(snapshot)
			}
		}
	}
}

// errorCell collects build failures: non-staunch builds raise (return)
// the first error via the top-level job's own error path; staunch builds
// atomically retain only the first and swallow the rest (each has already
// been printed by shakeerr.Lift's "Continuing due to staunch mode" path).
type errorCell struct {
	staunch bool
	mu      sync.Mutex
	target  string
	err     error
}

func newErrorCell(staunch bool) *errorCell { return &errorCell{staunch: staunch} }

func (e *errorCell) raise(target string, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.err == nil {
		e.target, e.err = target, err
	}
}

func (e *errorCell) first() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.err
}

func (e *errorCell) firstTarget() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.target
}

func defaultOutput(max levels.Verbosity, abbrevs [][2]string) func(levels.Verbosity, string) {
	var mu sync.Mutex
	// Longer from-strings substitute first, so an abbreviation that is a
	// prefix of another never shadows it.
	sorted := append([][2]string(nil), abbrevs...)
	for i := 1; i < len(sorted); i++ {
		for j := i; j > 0 && len(sorted[j][0]) > len(sorted[j-1][0]); j-- {
			sorted[j], sorted[j-1] = sorted[j-1], sorted[j]
		}
	}
	return func(v levels.Verbosity, msg string) {
		if v > max {
			return
		}
		for _, pair := range sorted {
			msg = strings.ReplaceAll(msg, pair[0], pair[1])
		}
		mu.Lock()
		defer mu.Unlock()
		w := os.Stdout
		if v <= levels.Quiet {
			w = os.Stderr
		}
		fmt.Fprintln(w, msg)
	}
}

func writeLiveFiles(paths []string, live []key.Key, isFileKey func(key.Key) bool) error {
	var lines []string
	for _, k := range live {
		if isFileKey(k) {
			lines = append(lines, k.String())
		}
	}
	body := strings.Join(lines, "\n")
	for _, p := range paths {
		if p == "-" {
			fmt.Fprintln(os.Stdout, body)
			continue
		}
		if err := os.WriteFile(p, []byte(body+"\n"), 0o644); err != nil {
			return err
		}
	}
	return nil
}
