// Package config manages application configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Config holds all application configuration for a download run.
type Config struct {
	// Link is the course URL (required), e.g.
	// https://channelplus.ner.gov.tw/viewalllang/390
	Link string `json:"link"`
	// OutputDir is where audio files are written.
	// Empty means ~/Downloads/<course name>, detected at run time.
	OutputDir string `json:"output_dir"`

	// Start is the first episode to download (0 = start from 1).
	Start int `json:"start"`
	// Final is the last episode to download (0 = auto-detect last episode).
	Final int `json:"final"`

	// Concurrent is the number of simultaneous audio downloads (1-10).
	Concurrent int `json:"concurrent"`
	// MaterialConcurrent is the sub-limit for course material downloads.
	MaterialConcurrent int `json:"material_concurrent"`

	// Timeout is the per-request timeout.
	Timeout time.Duration `json:"timeout"`
	// RetryAttempts is the number of retries for transient failures (1-10).
	RetryAttempts int `json:"retry_attempts"`
	// Delay is the minimum interval between requests to the site.
	Delay time.Duration `json:"delay"`

	// Verbose enables per-item debug logging.
	Verbose bool `json:"verbose"`
	// DryRun resolves and reports planned downloads without fetching bodies.
	DryRun bool `json:"dry_run"`
	// ValidateOnly resolves course metadata and reports validity, nothing else.
	ValidateOnly bool `json:"validate_only"`
}

// DefaultConfig returns configuration with safe defaults.
func DefaultConfig() *Config {
	return &Config{
		Concurrent:         3,
		MaterialConcurrent: 3,
		Timeout:            300 * time.Second,
		RetryAttempts:      3,
		Delay:              1 * time.Second,
	}
}

// Load returns the default configuration with environment overrides applied.
// Priority: env vars > defaults. Flags are applied by the caller on top.
func Load() (*Config, error) {
	cfg := DefaultConfig()
	cfg.loadFromEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// loadFromEnv overrides config with environment variables.
func (c *Config) loadFromEnv() {
	if v := os.Getenv("CHPLUS_OUTPUT_DIR"); v != "" {
		c.OutputDir = v
	}
	if v := os.Getenv("CHPLUS_CONCURRENT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Concurrent = n
		}
	}
	if v := os.Getenv("CHPLUS_MATERIAL_CONCURRENT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.MaterialConcurrent = n
		}
	}
	if v := os.Getenv("CHPLUS_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Timeout = d
		}
	}
	if v := os.Getenv("CHPLUS_RETRY_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.RetryAttempts = n
		}
	}
	if v := os.Getenv("CHPLUS_DELAY"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Delay = d
		}
	}
	if v := os.Getenv("CHPLUS_VERBOSE"); v != "" {
		c.Verbose = v == "true" || v == "1"
	}
}

// Validate checks that configuration values are valid and consistent.
func (c *Config) Validate() error {
	if c.Start < 0 {
		return fmt.Errorf("start must be positive")
	}
	if c.Final < 0 {
		return fmt.Errorf("final must be positive")
	}
	if c.Start > 0 && c.Final > 0 && c.Final < c.Start {
		return fmt.Errorf("final episode must be >= start episode")
	}
	if c.Concurrent < 1 || c.Concurrent > 10 {
		return fmt.Errorf("concurrent must be between 1 and 10")
	}
	if c.MaterialConcurrent < 1 || c.MaterialConcurrent > 10 {
		return fmt.Errorf("material_concurrent must be between 1 and 10")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if c.RetryAttempts < 1 || c.RetryAttempts > 10 {
		return fmt.Errorf("retry_attempts must be between 1 and 10")
	}
	if c.Delay < 0 {
		return fmt.Errorf("delay must be non-negative")
	}
	return nil
}

// DefaultDownloadRoot returns the base directory for auto-derived output
// paths: ~/Downloads.
func DefaultDownloadRoot() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, "Downloads"), nil
}
