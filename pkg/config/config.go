// Package config provides configuration loading and management for spotpairs.
// It handles loading configuration from YAML files and provides default values.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"spotpairs/pkg/analysis"
	"spotpairs/pkg/fitting"
)

// ErrInvalidConfig is returned by Validate for unusable settings
var ErrInvalidConfig = errors.New("config: invalid configuration")

// Config represents the application configuration loaded from YAML
type Config struct {
	// Pairing parameters
	Pairing struct {
		// MaxDistance is the largest accepted separation of a pair in nm
		MaxDistance float64 `yaml:"maxDistance"`

		// ListPairs writes one row per pair
		ListPairs bool `yaml:"listPairs"`
	} `yaml:"pairing"`

	// Track building parameters
	Tracking struct {
		// BridgeGaps lets a track continue past frames without a match
		BridgeGaps bool `yaml:"bridgeGaps"`
	} `yaml:"tracking"`

	// Outlier filter parameters
	Filter struct {
		Enabled bool `yaml:"enabled"`

		// DeviationMax is the accepted deviation in standard deviations
		DeviationMax float64 `yaml:"deviationMax"`

		// NrQuadrants must be a perfect square (1, 4, 9, ...)
		NrQuadrants int `yaml:"nrQuadrants"`
	} `yaml:"filter"`

	// Distance fit parameters
	Fitting struct {
		XYRegistration     bool    `yaml:"xyRegistration"`
		P2D                bool    `yaml:"p2d"`
		SingleFrames       bool    `yaml:"singleFrames"`
		RegistrationError  float64 `yaml:"registrationError"`
		Bootstrap          bool    `yaml:"bootstrap"`
		BootstrapRuns      int     `yaml:"bootstrapRuns"`
		BootstrapMaxErrors int     `yaml:"bootstrapMaxErrors"`
		Seed               uint64  `yaml:"seed"`
		MaxEvaluations     int     `yaml:"maxEvaluations"`
	} `yaml:"fitting"`

	// Output parameters
	Output struct {
		// Directory receives the CSV tables, plots and metrics
		Directory string `yaml:"directory"`

		// Database is the SQLite result store, empty disables it
		Database string `yaml:"database"`

		// Histograms writes a distance histogram per fit
		Histograms bool `yaml:"histograms"`

		// MetricsFile is a Prometheus textfile, empty disables it
		MetricsFile string `yaml:"metricsFile"`

		// Verbose controls the level of logging output
		Verbose bool `yaml:"verbose"`
	} `yaml:"output"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}
	p := analysis.DefaultParams()

	cfg.Pairing.MaxDistance = p.MaxDistance
	cfg.Filter.DeviationMax = p.Filter.DeviationMax
	cfg.Filter.NrQuadrants = p.Filter.NrQuadrants

	cfg.Fitting.P2D = p.P2D
	cfg.Fitting.BootstrapRuns = fitting.DefaultBootstrapRuns
	cfg.Fitting.BootstrapMaxErrors = fitting.DefaultBootstrapMaxErrors
	cfg.Fitting.MaxEvaluations = fitting.DefaultMaxEvaluations
	cfg.Fitting.Seed = 1

	cfg.Output.Directory = "spotpairs_output"
	cfg.Output.Histograms = true
	cfg.Output.Verbose = true

	return cfg
}

// LoadConfig loads configuration from a YAML file
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(cfg *Config, configPath string) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}

// CreateDefaultConfigFile creates a default configuration file at the specified path
func CreateDefaultConfigFile(configPath string) error {
	return SaveConfig(DefaultConfig(), configPath)
}

// Validate checks the settings that the analysis cannot recover from
func (c *Config) Validate() error {
	if c.Fitting.BootstrapRuns < 0 || c.Fitting.BootstrapMaxErrors < 0 {
		return fmt.Errorf("%w: bootstrap counts must not be negative", ErrInvalidConfig)
	}
	if c.Fitting.MaxEvaluations < 0 {
		return fmt.Errorf("%w: max evaluations %d must not be negative", ErrInvalidConfig, c.Fitting.MaxEvaluations)
	}
	if err := c.AnalysisParams().Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}

// AnalysisParams converts the configuration into analysis parameters
func (c *Config) AnalysisParams() analysis.Params {
	return analysis.Params{
		MaxDistance: c.Pairing.MaxDistance,
		BridgeGaps:  c.Tracking.BridgeGaps,
		Filter: analysis.FilterParams{
			Enabled:      c.Filter.Enabled,
			DeviationMax: c.Filter.DeviationMax,
			NrQuadrants:  c.Filter.NrQuadrants,
		},
		ListPairs:          c.Pairing.ListPairs,
		XYRegistration:     c.Fitting.XYRegistration,
		P2D:                c.Fitting.P2D,
		P2DSingleFrames:    c.Fitting.SingleFrames,
		RegistrationError:  c.Fitting.RegistrationError,
		Bootstrap:          c.Fitting.Bootstrap,
		BootstrapRuns:      c.Fitting.BootstrapRuns,
		BootstrapMaxErrors: c.Fitting.BootstrapMaxErrors,
		Seed:               c.Fitting.Seed,
		MaxEvaluations:     c.Fitting.MaxEvaluations,
	}
}
