// ============================================================================
// Report writer
// ============================================================================
//
// Package: internal/report
// File: report.go
// Purpose: Write profile reports (database.ToReport output) to the paths
// named in run.Options.Report - per-key built count, last duration, and
// dependency list. encoding/json with indentation, written to a file or,
// when the path is "-", to stdout - the same convention
// run.Options.LiveFiles uses for its own "-" = stdout case.
//
// ============================================================================

package report

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/ChuLiYu/shake/internal/buildtypes"
)

// entry is the JSON shape one report row takes; field names are chosen
// for the report file's readers, independent of buildtypes.ReportEntry's
// internal field names.
type entry struct {
	Key          string   `json:"key"`
	BuiltTimes   int      `json:"built_times"`
	LastDuration string   `json:"last_duration"`
	Dependencies []string `json:"dependencies"`
}

// Write marshals rep as indented JSON and writes it to every path in
// paths; "-" means stdout.
func Write(paths []string, rep buildtypes.Report) error {
	entries := make([]entry, len(rep.Entries))
	for i, e := range rep.Entries {
		entries[i] = entry{
			Key:          e.Key,
			BuiltTimes:   e.BuiltTimes,
			LastDuration: e.LastDuration.String(),
			Dependencies: e.Dependencies,
		}
	}

	body, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("report: marshal: %w", err)
	}
	body = append(body, '\n')

	for _, p := range paths {
		if p == "-" {
			if _, err := os.Stdout.Write(body); err != nil {
				return fmt.Errorf("report: write stdout: %w", err)
			}
			continue
		}
		if err := os.WriteFile(p, body, 0o644); err != nil {
			return fmt.Errorf("report: write %s: %w", p, err)
		}
	}
	return nil
}
