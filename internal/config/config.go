// Copyright 2025 Joseph Cumines
//
// Configuration package for the locator engine

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joeycumines/uilocator/internal/locator"
	"github.com/joho/godotenv"
)

// DefaultEnvFile is loaded when UILOCATOR_ENV_FILE is unset and the file
// exists.
const DefaultEnvFile = ".env"

// MinPollInterval is the smallest accepted poll interval.
const MinPollInterval = 10 * time.Millisecond

// Backend names an accessibility backend
type Backend string

const (
	// BackendAuto picks the native backend of the build platform
	BackendAuto Backend = "auto"
	// BackendATSPI uses AT-SPI2 over D-Bus (Linux)
	BackendATSPI Backend = "atspi"
	// BackendMSAA uses MSAA over COM (Windows)
	BackendMSAA Backend = "msaa"
	// BackendAX uses the macOS AXUIElement API
	BackendAX Backend = "ax"
	// BackendMemory replays a JSON tree fixture
	BackendMemory Backend = "memory"
)

// Config holds the configuration of the engine and CLI
type Config struct {
	Backend          Backend
	TreeFile         string
	AuditFile        string
	Budget           locator.Budget
	DefaultTimeout   time.Duration
	PollInterval     time.Duration
	PrimaryTimeout   time.Duration
	HighlightPadding float64
	MaxDepth         int
	Workers          int
	Debug            bool
}

// Default returns the configuration used when no variables are set.
func Default() *Config {
	return &Config{
		Backend:          BackendAuto,
		Budget:           locator.BudgetShared,
		DefaultTimeout:   10 * time.Second,
		PollInterval:     locator.DefaultPollInterval,
		PrimaryTimeout:   locator.DefaultPrimaryTimeout,
		HighlightPadding: 4,
		MaxDepth:         locator.DefaultMaxDepth,
		Workers:          2,
	}
}

// Load loads the configuration from environment variables, after loading
// the .env file. Variables already set in the environment take precedence
// over the file.
func Load() (*Config, error) {
	if err := loadEnvFile(); err != nil {
		return nil, err
	}

	def := Default()
	defaultTimeout, err := getEnvAsDuration("UILOCATOR_DEFAULT_TIMEOUT", def.DefaultTimeout)
	if err != nil {
		return nil, err
	}

	pollInterval, err := getEnvAsDuration("UILOCATOR_POLL_INTERVAL", def.PollInterval)
	if err != nil {
		return nil, err
	}

	primaryTimeout, err := getEnvAsDuration("UILOCATOR_PRIMARY_TIMEOUT", def.PrimaryTimeout)
	if err != nil {
		return nil, err
	}

	maxDepth, err := getEnvAsInt("UILOCATOR_MAX_DEPTH", def.MaxDepth)
	if err != nil {
		return nil, err
	}

	workers, err := getEnvAsInt("UILOCATOR_WORKERS", def.Workers)
	if err != nil {
		return nil, err
	}

	padding, err := getEnvAsFloat("UILOCATOR_HIGHLIGHT_PADDING", def.HighlightPadding)
	if err != nil {
		return nil, err
	}

	budget, err := locator.ParseBudget(getEnv("UILOCATOR_ALTERNATIVE_BUDGET", def.Budget.String()))
	if err != nil {
		return nil, fmt.Errorf("invalid value for UILOCATOR_ALTERNATIVE_BUDGET: %w", err)
	}

	cfg := &Config{
		Backend:          Backend(strings.ToLower(getEnv("UILOCATOR_BACKEND", string(def.Backend)))),
		TreeFile:         os.Getenv("UILOCATOR_TREE_FILE"),
		AuditFile:        os.Getenv("UILOCATOR_AUDIT_FILE"),
		Budget:           budget,
		DefaultTimeout:   defaultTimeout,
		PollInterval:     pollInterval,
		PrimaryTimeout:   primaryTimeout,
		HighlightPadding: padding,
		MaxDepth:         maxDepth,
		Workers:          workers,
		Debug:            getEnvAsBool("UILOCATOR_DEBUG", false),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the value ranges of c.
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendAuto, BackendATSPI, BackendMSAA, BackendAX:
	case BackendMemory:
		if c.TreeFile == "" {
			return fmt.Errorf("UILOCATOR_TREE_FILE is required for the %s backend", BackendMemory)
		}
	default:
		return fmt.Errorf("invalid backend: %s (must be one of auto, atspi, msaa, ax, memory)", c.Backend)
	}
	if c.PollInterval < MinPollInterval {
		return fmt.Errorf("invalid value for UILOCATOR_POLL_INTERVAL: %v (minimum %v)", c.PollInterval, MinPollInterval)
	}
	if c.DefaultTimeout < 0 {
		return fmt.Errorf("invalid value for UILOCATOR_DEFAULT_TIMEOUT: %v (must not be negative)", c.DefaultTimeout)
	}
	if c.PrimaryTimeout <= 0 {
		return fmt.Errorf("invalid value for UILOCATOR_PRIMARY_TIMEOUT: %v (must be positive)", c.PrimaryTimeout)
	}
	if c.MaxDepth < 1 {
		return fmt.Errorf("invalid value for UILOCATOR_MAX_DEPTH: %d (must be at least 1)", c.MaxDepth)
	}
	if c.Workers < 1 {
		return fmt.Errorf("invalid value for UILOCATOR_WORKERS: %d (must be at least 1)", c.Workers)
	}
	if c.HighlightPadding < 0 {
		return fmt.Errorf("invalid value for UILOCATOR_HIGHLIGHT_PADDING: %v (must not be negative)", c.HighlightPadding)
	}
	return nil
}

func loadEnvFile() error {
	path, explicit := os.LookupEnv("UILOCATOR_ENV_FILE")
	if !explicit || path == "" {
		path = DefaultEnvFile
		if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
			return nil
		}
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value == "true" || value == "1" || value == "yes"
}

func getEnvAsInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	var result int
	_, err := fmt.Sscanf(value, "%d", &result)
	if err != nil {
		return 0, fmt.Errorf("invalid value for %s: %q (expected integer)", key, value)
	}
	return result, nil
}

func getEnvAsFloat(key string, defaultValue float64) (float64, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	var result float64
	_, err := fmt.Sscanf(value, "%g", &result)
	if err != nil {
		return 0, fmt.Errorf("invalid value for %s: %q (expected number)", key, value)
	}
	return result, nil
}

func getEnvAsDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid value for %s: %q (expected duration, e.g., '100ms', '10s')", key, value)
	}
	return d, nil
}
