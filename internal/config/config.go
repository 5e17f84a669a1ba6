// Package config holds the analyzer configuration and its YAML loader.
package config

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config controls the analysis run. The zero value is not usable; start
// from Default and override.
type Config struct {
	// Workers caps the number of functions analyzed concurrently.
	Workers int `yaml:"workers"`

	// MaxSweeps bounds each fixpoint computation's full passes over a
	// function's graph. Zero means unbounded.
	MaxSweeps int `yaml:"max_sweeps"`

	// Timeout bounds the whole unit's analysis. Zero means no timeout.
	Timeout time.Duration `yaml:"timeout"`

	// EscalateConflicted turns conflicted-ownership warnings into
	// verdict-blocking errors.
	EscalateConflicted bool `yaml:"escalate_conflicted"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Workers:   4,
		MaxSweeps: 1000,
	}
}

// Load reads a YAML configuration file on top of the defaults. Unknown
// keys are rejected so a typo does not silently fall back to a default.
func Load(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	return Parse(raw)
}

// Parse decodes YAML configuration bytes on top of the defaults.
func Parse(raw []byte) (Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", c.Workers)
	}
	if c.MaxSweeps < 0 {
		return fmt.Errorf("max_sweeps cannot be negative, got %d", c.MaxSweeps)
	}
	if c.Timeout < 0 {
		return fmt.Errorf("timeout cannot be negative, got %s", c.Timeout)
	}
	return nil
}
