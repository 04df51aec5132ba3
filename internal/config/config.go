// ============================================================================
// Config
// ============================================================================
//
// Package: internal/config
// File: config.go
// Purpose: YAML-loaded configuration mirroring the run driver's options,
// merged with whatever explicit overrides the CLI layer supplies. A single
// nested struct with yaml tags, loaded with gopkg.in/yaml.v3; defaults are
// applied before the file is decoded over them, so a partial file only
// overrides what it sets.
//
// ============================================================================

package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/ChuLiYu/shake/internal/action"
	"github.com/ChuLiYu/shake/internal/levels"
)

// Metrics is the metrics-server sub-section of Config.
type Metrics struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// Config is the top-level YAML document shape.
type Config struct {
	Threads   int      `yaml:"threads"`
	Verbosity string   `yaml:"verbosity"`
	Staunch   bool     `yaml:"staunch"`
	Timings   bool     `yaml:"timings"`
	Lint      string   `yaml:"lint"`
	Metrics   Metrics  `yaml:"metrics"`
	Report    []string `yaml:"report"`
	LiveFiles []string `yaml:"live_files"`
}

// Default returns the configuration Run uses when no file is loaded.
func Default() Config {
	return Config{
		Threads:   0,
		Verbosity: "normal",
		Staunch:   false,
		Timings:   false,
		Lint:      "none",
		Metrics:   Metrics{Enabled: false, Port: 9090},
	}
}

// Load reads path, decoding it over Default() so an omitted field keeps
// its default rather than zeroing out.
func Load(path string) (Config, error) {
	cfg := Default()
	f, err := os.Open(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: open %s: %w", path, err)
	}
	defer f.Close()

	if err := yaml.NewDecoder(f).Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: decode %s: %w", path, err)
	}
	return cfg, nil
}

// ToActionOptions projects Config onto the scheduler's own Options shape.
// Verbosity/Lint names that fail to parse fall back to Normal/None rather
// than erroring - a config typo should not be fatal in a field this
// forgiving.
func (c Config) ToActionOptions() action.Options {
	verbosity, _ := levels.ParseVerbosity(c.Verbosity)
	lint, _ := levels.ParseLintMode(c.Lint)
	return action.Options{
		Threads:   c.Threads,
		Verbosity: verbosity,
		Staunch:   c.Staunch,
		Timings:   c.Timings,
		Lint:      lint,
		Report:    c.Report,
		LiveFiles: c.LiveFiles,
	}
}
