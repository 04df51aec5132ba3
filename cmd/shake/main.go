// ============================================================================
// shake - CLI entry point
// ============================================================================
//
// ldflags-injected version, top-level panic recovery, then hand off to
// the cobra command tree.
//
// ============================================================================

package main

import (
	"fmt"
	"os"

	"github.com/ChuLiYu/shake/internal/cli"
)

// version is injected at build time via -ldflags "-X main.version=...".
var version = "dev"

func main() {
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(os.Stderr, "shake: fatal: %v\n", r)
			os.Exit(2)
		}
	}()

	if err := cli.BuildCLI(version).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "shake: %v\n", err)
		os.Exit(1)
	}
}
