package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	Reset()
	dir := t.TempDir()
	require.NoError(t, LoadConfig(dir))

	cfg, err := GetConfig()
	require.NoError(t, err)

	assert.Equal(t, 12, cfg.MaxIterations)
	assert.Equal(t, 3, cfg.MaxRetries)
	assert.Equal(t, 300000, cfg.DefaultTimeoutMs)
	assert.Equal(t, 5, cfg.MaxConcurrentOperations)
	assert.Equal(t, 30, cfg.StatusUpdateIntervalMinutes)
	assert.Equal(t, "claude", cfg.ClaudeBinary)
	assert.Equal(t, 5*time.Minute, cfg.DefaultTimeout())
	assert.Equal(t, 30*time.Minute, cfg.StatusUpdateInterval())
	assert.Equal(t, dir, ProjectDir())
}

func TestYAMLFileOverridesDefaults(t *testing.T) {
	Reset()
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, ProjectConfigDir), 0755))

	yamlContent := "max_iterations: 4\nmax_retries: 1\nclaude_binary: /usr/local/bin/claude\n"
	require.NoError(t, os.WriteFile(
		filepath.Join(dir, ProjectConfigDir, "config.yaml"), []byte(yamlContent), 0644))

	require.NoError(t, LoadConfig(dir))
	cfg, err := GetConfig()
	require.NoError(t, err)

	assert.Equal(t, 4, cfg.MaxIterations)
	assert.Equal(t, 1, cfg.MaxRetries)
	assert.Equal(t, "/usr/local/bin/claude", cfg.ClaudeBinary)
	// Untouched keys keep their defaults.
	assert.Equal(t, 300000, cfg.DefaultTimeoutMs)
}

func TestEnvOverridesFile(t *testing.T) {
	Reset()
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, ProjectConfigDir), 0755))
	require.NoError(t, os.WriteFile(
		filepath.Join(dir, ProjectConfigDir, "config.yaml"),
		[]byte("max_iterations: 4\n"), 0644))

	t.Setenv("AUTOCLAUDE_MAX_ITERATIONS", "7")
	t.Setenv("AUTOCLAUDE_GOAL", "build the thing")

	require.NoError(t, LoadConfig(dir))
	cfg, err := GetConfig()
	require.NoError(t, err)

	assert.Equal(t, 7, cfg.MaxIterations)
	assert.Equal(t, "build the thing", cfg.Goal)
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero iterations", func(c *Config) { c.MaxIterations = 0 }},
		{"negative retries", func(c *Config) { c.MaxRetries = -1 }},
		{"zero timeout", func(c *Config) { c.DefaultTimeoutMs = 0 }},
		{"zero concurrency", func(c *Config) { c.MaxConcurrentOperations = 0 }},
		{"zero status interval", func(c *Config) { c.StatusUpdateIntervalMinutes = 0 }},
		{"empty binary", func(c *Config) { c.ClaudeBinary = "" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestGetConfigBeforeLoad(t *testing.T) {
	Reset()
	_, err := GetConfig()
	assert.Error(t, err)
}

func TestSetGoal(t *testing.T) {
	Reset()
	require.NoError(t, LoadConfig(t.TempDir()))
	require.NoError(t, SetGoal("ship it"))
	cfg, err := GetConfig()
	require.NoError(t, err)
	assert.Equal(t, "ship it", cfg.Goal)
}
