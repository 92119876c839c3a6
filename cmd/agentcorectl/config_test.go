package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())
}

func TestValidateRejectsMissingPlannerProvider(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Planner.Provider = ""
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsMissingPlannerModel(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Planner.Model = ""
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsNonPositiveMaxWorkers(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Workflow.MaxWorkers = 0
	assert.Error(t, cfg.Validate())
}

func TestEnvKeyForKnownProviders(t *testing.T) {
	assert.Equal(t, "ANTHROPIC_API_KEY", envKeyFor("anthropic"))
	assert.Equal(t, "OPENAI_API_KEY", envKeyFor("openai"))
	assert.Equal(t, "", envKeyFor("unknown"))
}

func TestLoadConfigWithNoPathUsesDefaults(t *testing.T) {
	cfg, err := LoadConfig("", FlagOverrides{})
	require.NoError(t, err)
	assert.Equal(t, "anthropic", cfg.Planner.Provider)
	assert.Equal(t, 4, cfg.Workflow.MaxWorkers)
}

func TestLoadConfigReadsYAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yamlBody := "planner:\n  provider: openai\n  model: gpt-4\n  api_key: inline-key\nworkflow:\n  max_workers: 2\n  timeout: 5m\n"
	require.NoError(t, os.WriteFile(path, []byte(yamlBody), 0o600))

	cfg, err := LoadConfig(path, FlagOverrides{})
	require.NoError(t, err)
	assert.Equal(t, "openai", cfg.Planner.Provider)
	assert.Equal(t, "gpt-4", cfg.Planner.Model)
	assert.Equal(t, "inline-key", cfg.Planner.APIKey)
	assert.Equal(t, 2, cfg.Workflow.MaxWorkers)
	assert.Equal(t, 5*time.Minute, cfg.Workflow.Timeout)
}

func TestLoadConfigFallsBackToEnvForMissingAPIKey(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "from-env")

	cfg, err := LoadConfig("", FlagOverrides{})
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Planner.APIKey)
}

func TestLoadConfigLeavesRefinerAPIKeyEmptyWhenProviderUnset(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "should-not-be-used")

	cfg, err := LoadConfig("", FlagOverrides{})
	require.NoError(t, err)
	assert.Equal(t, "", cfg.Refiner.APIKey)
}

func TestLoadConfigPullsRedisURLFromEnv(t *testing.T) {
	t.Setenv("AGENTCORE_REDIS_URL", "redis://localhost:6379/0")

	cfg, err := LoadConfig("", FlagOverrides{})
	require.NoError(t, err)
	assert.Equal(t, "redis://localhost:6379/0", cfg.Archive.RedisURL)
}

func TestLoadConfigRejectsMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"), FlagOverrides{})
	assert.Error(t, err)
}

func TestLoadConfigRejectsInvalidResult(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("workflow:\n  max_workers: 0\n"), 0o600))

	_, err := LoadConfig(path, FlagOverrides{})
	assert.Error(t, err)
}

func TestLoadConfigEnvOverridesYAMLAPIKey(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yamlBody := "planner:\n  provider: anthropic\n  model: claude-sonnet-4-5\n  api_key: from-yaml\n"
	require.NoError(t, os.WriteFile(path, []byte(yamlBody), 0o600))
	t.Setenv("ANTHROPIC_API_KEY", "from-env")

	cfg, err := LoadConfig(path, FlagOverrides{})
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Planner.APIKey, "env must outrank yaml per the documented precedence")
}

func TestLoadConfigFlagOverridesEverything(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yamlBody := "planner:\n  provider: anthropic\n  model: claude-sonnet-4-5\n  api_key: from-yaml\nworkflow:\n  max_workers: 2\n"
	require.NoError(t, os.WriteFile(path, []byte(yamlBody), 0o600))
	t.Setenv("ANTHROPIC_API_KEY", "from-env")

	cfg, err := LoadConfig(path, FlagOverrides{
		PlannerAPIKey:    "from-flag",
		HasPlannerAPIKey: true,
		MaxWorkers:       8,
		HasMaxWorkers:    true,
	})
	require.NoError(t, err)
	assert.Equal(t, "from-flag", cfg.Planner.APIKey)
	assert.Equal(t, 8, cfg.Workflow.MaxWorkers)
}
