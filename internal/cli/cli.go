// ============================================================================
// CLI - Cobra command tree
// ============================================================================
//
// Package: internal/cli
// File: cli.go
// Purpose: `shake run|status|graph`, the config-driven front end over the
// scheduler: a root cobra.Command with a --config persistent flag,
// sub-commands built by small buildXCommand functions, config loaded once
// per invocation and merged with flag overrides before the real work
// starts.
//
// ============================================================================

package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ChuLiYu/shake/internal/config"
	"github.com/ChuLiYu/shake/internal/database"
	"github.com/ChuLiYu/shake/internal/levels"
	"github.com/ChuLiYu/shake/internal/metrics"
	"github.com/ChuLiYu/shake/internal/rules"
	"github.com/ChuLiYu/shake/internal/run"
	"github.com/ChuLiYu/shake/pkg/rules/demo"
)

// BuildCLI assembles the root command and its sub-commands.
func BuildCLI(version string) *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "shake",
		Short:         "A dependency-directed build scheduler",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a YAML config file")

	root.AddCommand(buildRunCommand(&configPath))
	root.AddCommand(buildStatusCommand(&configPath))
	root.AddCommand(buildGraphCommand(&configPath))
	return root
}

func loadConfig(path string) (config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}

func buildRunCommand(configPath *string) *cobra.Command {
	var targets []string
	var staunch bool
	var verbosity string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a build",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("staunch") {
				cfg.Staunch = staunch
			}
			if cmd.Flags().Changed("verbosity") {
				cfg.Verbosity = verbosity
			}
			if len(targets) == 0 {
				targets = []string{"out.txt"}
			}

			var collector *metrics.Collector
			if cfg.Metrics.Enabled {
				collector = metrics.NewCollector()
				go func() {
					if err := collector.StartServer(cfg.Metrics.Port); err != nil {
						fmt.Fprintf(cmd.ErrOrStderr(), "metrics server stopped: %v\n", err)
					}
				}()
			}

			rb := demo.Build(rules.New(), targets)
			reg, actions := rb.Build()

			opts := run.Options{
				Options:   cfg.ToActionOptions(),
				IsFileKey: demo.IsFileKey,
			}
			if collector != nil {
				opts.Observer = collector
			}

			db := database.New()
			return run.Run(opts, db, reg, actions)
		},
	}
	cmd.Flags().StringSliceVar(&targets, "targets", nil, "output file paths to build (default out.txt)")
	cmd.Flags().BoolVar(&staunch, "staunch", false, "continue after errors, reporting all of them")
	cmd.Flags().StringVar(&verbosity, "verbosity", "normal", "silent|quiet|normal|loud|chatty|diagnostic")
	return cmd
}

func buildStatusCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print the options a run would use, without building anything",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			opts := cfg.ToActionOptions()
			fmt.Fprintf(cmd.OutOrStdout(), "threads:    %d (0 = auto)\n", opts.Threads)
			fmt.Fprintf(cmd.OutOrStdout(), "verbosity:  %s\n", opts.Verbosity)
			fmt.Fprintf(cmd.OutOrStdout(), "staunch:    %t\n", opts.Staunch)
			fmt.Fprintf(cmd.OutOrStdout(), "lint:       %v\n", lintName(opts.Lint))
			fmt.Fprintf(cmd.OutOrStdout(), "metrics:    enabled=%t port=%d\n", cfg.Metrics.Enabled, cfg.Metrics.Port)
			return nil
		},
	}
}

func buildGraphCommand(configPath *string) *cobra.Command {
	var targets []string

	cmd := &cobra.Command{
		Use:   "graph",
		Short: "Run a build, then print the dependency edges it recorded",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			if len(targets) == 0 {
				targets = []string{"out.txt"}
			}

			rb := demo.Build(rules.New(), targets)
			reg, actions := rb.Build()
			db := database.New()
			opts := run.Options{Options: cfg.ToActionOptions(), IsFileKey: demo.IsFileKey}
			if err := run.Run(opts, db, reg, actions); err != nil {
				return err
			}

			rep := db.ToReport()
			for _, e := range rep.Entries {
				for _, dep := range e.Dependencies {
					fmt.Fprintf(cmd.OutOrStdout(), "%s -> %s\n", e.Key, dep)
				}
			}
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&targets, "targets", nil, "output file paths to build (default out.txt)")
	return cmd
}

func lintName(l levels.LintMode) string {
	switch l {
	case levels.LintBasic:
		return "basic"
	case levels.LintFSATrace:
		return "fsatrace"
	default:
		return "none"
	}
}
