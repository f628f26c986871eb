// Package config provides configuration loading and access for the orchestrator.
//
// Configuration is resolved in three layers, later layers winning:
//
//  1. Compiled defaults (DefaultConfig)
//  2. Optional YAML file at <projectDir>/.autoclaude/config.yaml
//  3. AUTOCLAUDE_* environment variables
//
// A single global Config instance is maintained in memory, protected by a
// mutex. GetConfig returns the config BY VALUE so callers cannot mutate
// shared state.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// ProjectConfigDir is the per-project directory holding config, session
// state, checkpoints, and the run journal database.
const ProjectConfigDir = ".autoclaude"

// Config holds all orchestrator settings.
type Config struct {
	// Goal is the task the agent is driven toward. Required; usually set
	// from the command line rather than the config file.
	Goal string `yaml:"goal"`

	// MaxIterations bounds the number of phase iterations before a forced
	// completion pass.
	MaxIterations int `yaml:"max_iterations"`

	// MaxRetries bounds recovery attempts per failure.
	MaxRetries int `yaml:"max_retries"`

	// DefaultTimeoutMs is the standard phase timeout in milliseconds.
	// Implementation runs at 2x, testing at 1.5x, recovery at 0.5x.
	DefaultTimeoutMs int `yaml:"default_timeout_ms"`

	// MaxConcurrentOperations caps tracked in-flight operations. Steady
	// state concurrency is 1; the headroom guards against overlap bugs.
	MaxConcurrentOperations int `yaml:"max_concurrent_operations"`

	// StatusUpdateIntervalMinutes is the cadence of status broadcasts.
	StatusUpdateIntervalMinutes int `yaml:"status_update_interval_minutes"`

	// ClaudeBinary is the agent CLI executable name or path.
	ClaudeBinary string `yaml:"claude_binary"`

	// WorkDir is the working directory for agent invocations. Empty means
	// the process working directory.
	WorkDir string `yaml:"work_dir"`

	// HealthAddr is the listen address for /healthz and /metrics.
	// Empty disables the health server.
	HealthAddr string `yaml:"health_addr"`
}

//nolint:gochecknoglobals // Intentional singleton pattern for config management
var (
	config     *Config
	projectDir string // Immutable after LoadConfig
	mu         sync.RWMutex
)

// DefaultConfig returns the compiled defaults.
func DefaultConfig() Config {
	return Config{
		MaxIterations:               12,
		MaxRetries:                  3,
		DefaultTimeoutMs:            300000,
		MaxConcurrentOperations:     5,
		StatusUpdateIntervalMinutes: 30,
		ClaudeBinary:                "claude",
		HealthAddr:                  ":8090",
	}
}

// LoadConfig resolves configuration for the given project directory and
// installs it as the global instance.
func LoadConfig(dir string) error {
	cfg := DefaultConfig()

	path := filepath.Join(dir, ProjectConfigDir, "config.yaml")
	if data, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return fmt.Errorf("failed to parse %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}

	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return err
	}

	mu.Lock()
	defer mu.Unlock()
	config = &cfg
	projectDir = dir
	return nil
}

// applyEnvOverrides merges AUTOCLAUDE_* environment variables into cfg.
func applyEnvOverrides(cfg *Config) {
	envInt("AUTOCLAUDE_MAX_ITERATIONS", &cfg.MaxIterations)
	envInt("AUTOCLAUDE_MAX_RETRIES", &cfg.MaxRetries)
	envInt("AUTOCLAUDE_DEFAULT_TIMEOUT_MS", &cfg.DefaultTimeoutMs)
	envInt("AUTOCLAUDE_MAX_CONCURRENT_OPERATIONS", &cfg.MaxConcurrentOperations)
	envInt("AUTOCLAUDE_STATUS_UPDATE_INTERVAL_MINUTES", &cfg.StatusUpdateIntervalMinutes)
	envString("AUTOCLAUDE_GOAL", &cfg.Goal)
	envString("AUTOCLAUDE_CLAUDE_BINARY", &cfg.ClaudeBinary)
	envString("AUTOCLAUDE_WORK_DIR", &cfg.WorkDir)
	envString("AUTOCLAUDE_HEALTH_ADDR", &cfg.HealthAddr)
}

func envInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

// Validate rejects configurations the engine cannot run with.
func (c *Config) Validate() error {
	if c.MaxIterations <= 0 {
		return fmt.Errorf("max_iterations must be positive, got %d", c.MaxIterations)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max_retries must be non-negative, got %d", c.MaxRetries)
	}
	if c.DefaultTimeoutMs <= 0 {
		return fmt.Errorf("default_timeout_ms must be positive, got %d", c.DefaultTimeoutMs)
	}
	if c.MaxConcurrentOperations <= 0 {
		return fmt.Errorf("max_concurrent_operations must be positive, got %d", c.MaxConcurrentOperations)
	}
	if c.StatusUpdateIntervalMinutes <= 0 {
		return fmt.Errorf("status_update_interval_minutes must be positive, got %d", c.StatusUpdateIntervalMinutes)
	}
	if c.ClaudeBinary == "" {
		return fmt.Errorf("claude_binary must not be empty")
	}
	return nil
}

// GetConfig returns the loaded configuration by value.
func GetConfig() (Config, error) {
	mu.RLock()
	defer mu.RUnlock()
	if config == nil {
		return Config{}, fmt.Errorf("config not loaded: call config.LoadConfig first")
	}
	return *config, nil
}

// ProjectDir returns the project directory LoadConfig was called with.
func ProjectDir() string {
	mu.RLock()
	defer mu.RUnlock()
	return projectDir
}

// SetGoal updates the goal on the global config (command-line merge).
func SetGoal(goal string) error {
	mu.Lock()
	defer mu.Unlock()
	if config == nil {
		return fmt.Errorf("config not loaded")
	}
	config.Goal = goal
	return nil
}

// DefaultTimeout returns DefaultTimeoutMs as a duration.
func (c *Config) DefaultTimeout() time.Duration {
	return time.Duration(c.DefaultTimeoutMs) * time.Millisecond
}

// StatusUpdateInterval returns the status broadcast cadence as a duration.
func (c *Config) StatusUpdateInterval() time.Duration {
	return time.Duration(c.StatusUpdateIntervalMinutes) * time.Minute
}

// Reset clears the global config for testing.
func Reset() {
	mu.Lock()
	defer mu.Unlock()
	config = nil
	projectDir = ""
}
