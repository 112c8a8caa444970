// Package config loads duscan settings from a YAML file.
package config

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"

	"github.com/ivoronin/duscan/internal/pipeline"
	"github.com/ivoronin/duscan/internal/scanner"
)

// Scan holds the engine settings.
type Scan struct {
	IncludeFiles  bool     `yaml:"include_files"`
	Workers       int      `yaml:"workers"`
	Excludes      []string `yaml:"excludes"`
	ProgressEvery int      `yaml:"progress_every"`
}

// Pipeline holds the batching and expansion settings. Interval is a
// time.ParseDuration string.
type Pipeline struct {
	Interval     string `yaml:"interval"`
	BatchSize    int    `yaml:"batch_size"`
	ExpandLevel  int    `yaml:"expand_level"`
	ShallowDepth int    `yaml:"shallow_depth"`
}

// Report controls the tree printed after a scan.
type Report struct {
	Depth   int    `yaml:"depth"`
	MinSize string `yaml:"min_size"`
}

// Config is the root of the YAML file.
type Config struct {
	Scan        Scan     `yaml:"scan"`
	Pipeline    Pipeline `yaml:"pipeline"`
	Report      Report   `yaml:"report"`
	HistoryFile string   `yaml:"history_file"`
}

// DefaultConfig returns the configuration used when no file exists.
func DefaultConfig() *Config {
	return &Config{
		Scan: Scan{
			Workers:       runtime.NumCPU(),
			ProgressEvery: scanner.DefaultSettings().ProgressEvery,
		},
		Pipeline: Pipeline{
			Interval:     pipeline.DefaultOptions().Interval.String(),
			BatchSize:    pipeline.DefaultOptions().BatchSize,
			ExpandLevel:  pipeline.DefaultOptions().ExpandLevel,
			ShallowDepth: pipeline.DefaultOptions().ShallowDepth,
		},
		Report: Report{
			Depth:   1,
			MinSize: "0",
		},
	}
}

// Load reads the file at path over the defaults. A missing file or an empty
// path yields the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks values that are parsed lazily.
func (c *Config) Validate() error {
	if _, err := c.Interval(); err != nil {
		return err
	}
	if _, err := c.MinSize(); err != nil {
		return err
	}
	if err := ValidateGlobPatterns(c.Scan.Excludes); err != nil {
		return fmt.Errorf("exclude %w", err)
	}
	return nil
}

// Interval returns the pipeline flush interval.
func (c *Config) Interval() (time.Duration, error) {
	d, err := time.ParseDuration(c.Pipeline.Interval)
	if err != nil {
		return 0, fmt.Errorf("pipeline interval: %w", err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("pipeline interval must be positive, got %s", d)
	}
	return d, nil
}

// MinSize returns the report size threshold in bytes.
func (c *Config) MinSize() (int64, error) {
	n, err := ParseSize(c.Report.MinSize)
	if err != nil {
		return 0, fmt.Errorf("report min_size: %w", err)
	}
	return n, nil
}

// ParseSize parses a human-readable size string into bytes.
// Supports formats: "100", "1K", "1MB", "1GiB", etc.
func ParseSize(s string) (int64, error) {
	bytes, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, err
	}
	if bytes > math.MaxInt64 {
		return 0, fmt.Errorf("size %q too large", s)
	}
	return int64(bytes), nil
}

// ValidateGlobPatterns checks that all patterns are valid filepath.Match patterns.
func ValidateGlobPatterns(patterns []string) error {
	for _, pattern := range patterns {
		if _, err := filepath.Match(pattern, ""); err != nil {
			return fmt.Errorf("pattern %q: %w", pattern, err)
		}
	}
	return nil
}

// ScanSettings converts the scan section to engine settings.
func (c *Config) ScanSettings() scanner.Settings {
	return scanner.Settings{
		IncludeFiles:   c.Scan.IncludeFiles,
		MaxParallelism: c.Scan.Workers,
		Excludes:       c.Scan.Excludes,
		ProgressEvery:  c.Scan.ProgressEvery,
	}
}

// PipelineOptions converts the pipeline section to pipeline options.
func (c *Config) PipelineOptions() (pipeline.Options, error) {
	interval, err := c.Interval()
	if err != nil {
		return pipeline.Options{}, err
	}
	return pipeline.Options{
		Interval:     interval,
		BatchSize:    c.Pipeline.BatchSize,
		ExpandLevel:  c.Pipeline.ExpandLevel,
		ShallowDepth: c.Pipeline.ShallowDepth,
	}, nil
}

// DefaultPath is the config file read when --config is not given.
func DefaultPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "duscan", "config.yaml")
}

// DataPath is the default scan history database.
func DataPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".local", "share", "duscan", "history.db")
}
