// Package levels defines the small enumerations shared across the engine:
// output verbosity and lint strictness. Kept separate from internal/run so
// that low-level packages (action, shakeerr) can depend on the enums
// without importing the run driver.
package levels

// Verbosity controls how much an action's progress is logged.
type Verbosity int

const (
	Silent Verbosity = iota
	Quiet
	Normal
	Loud
	Chatty
	Diagnostic
)

func (v Verbosity) String() string {
	switch v {
	case Silent:
		return "silent"
	case Quiet:
		return "quiet"
	case Normal:
		return "normal"
	case Loud:
		return "loud"
	case Chatty:
		return "chatty"
	case Diagnostic:
		return "diagnostic"
	default:
		return "unknown"
	}
}

// ParseVerbosity accepts the lowercase names used in config files.
func ParseVerbosity(s string) (Verbosity, bool) {
	switch s {
	case "silent":
		return Silent, true
	case "quiet":
		return Quiet, true
	case "normal":
		return Normal, true
	case "loud":
		return Loud, true
	case "chatty":
		return Chatty, true
	case "diagnostic":
		return Diagnostic, true
	default:
		return Normal, false
	}
}

// LintMode selects which end-of-build/end-of-rule invariant checks run.
type LintMode int

const (
	LintNone LintMode = iota
	LintBasic
	LintFSATrace
)

func ParseLintMode(s string) (LintMode, bool) {
	switch s {
	case "", "none":
		return LintNone, true
	case "basic":
		return LintBasic, true
	case "fsatrace":
		return LintFSATrace, true
	default:
		return LintNone, false
	}
}
