package main

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is agentcorectl's on-disk configuration. LoadConfig overlays a
// few environment variables (optionally loaded from .env via godotenv) on
// top of it: the provider's API key (ANTHROPIC_API_KEY or OPENAI_API_KEY)
// and AGENTCORE_REDIS_URL replace the YAML value whenever they are set.
type Config struct {
	Planner  ModelConfig `yaml:"planner"`
	Refiner  ModelConfig `yaml:"refiner"`
	Workflow WorkflowConfig `yaml:"workflow"`
	Archive  ArchiveConfig `yaml:"archive"`
}

// ModelConfig configures one role's LLM provider.
type ModelConfig struct {
	// Provider selects the adapter: "anthropic", "openai", or "" to
	// disable (only valid for Refiner).
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
	APIKey   string `yaml:"api_key"`
}

// WorkflowConfig configures the Runner.
type WorkflowConfig struct {
	MaxWorkers int           `yaml:"max_workers"`
	Timeout    time.Duration `yaml:"timeout"`
}

// ArchiveConfig selects the optional SessionLogArchive backend.
type ArchiveConfig struct {
	// Backend is "redis", "disk", or "" to disable archiving.
	Backend  string `yaml:"backend"`
	RedisURL string `yaml:"redis_url"`
	DiskPath string `yaml:"disk_path"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Planner: ModelConfig{
			Provider: "anthropic",
			Model:    "claude-sonnet-4-5",
		},
		Refiner: ModelConfig{
			Provider: "",
		},
		Workflow: WorkflowConfig{
			MaxWorkers: 4,
			Timeout:    10 * time.Minute,
		},
		Archive: ArchiveConfig{
			Backend: "",
		},
	}
}

// FlagOverrides carries the CLI flags a caller explicitly set, as reported
// by cobra's pflag.Changed — a flag left at its zero value is indistinguishable
// from "not passed," so LoadConfig only ever applies a field that Changed
// reports true for.
type FlagOverrides struct {
	PlannerProvider    string
	HasPlannerProvider bool
	PlannerModel       string
	HasPlannerModel    bool
	PlannerAPIKey      string
	HasPlannerAPIKey   bool
	RefinerProvider    string
	HasRefinerProvider bool
	RefinerModel       string
	HasRefinerModel    bool
	RefinerAPIKey      string
	HasRefinerAPIKey   bool
	MaxWorkers         int
	HasMaxWorkers      bool
}

// LoadConfig builds a Config by layering, in ascending precedence:
// defaults, the YAML file at path (if any), environment variables (via
// godotenv, loaded from .env), then fo's explicitly-set fields. Each layer
// only overwrites the fields that layer itself actually sets, so "flag >
// env > yaml > default" holds field by field rather than file by file.
func LoadConfig(path string, fo FlagOverrides) (*Config, error) {
	_ = godotenv.Load(".env")

	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	if v, ok := os.LookupEnv(envKeyFor(cfg.Planner.Provider)); ok {
		cfg.Planner.APIKey = v
	}
	if cfg.Refiner.Provider != "" {
		if v, ok := os.LookupEnv(envKeyFor(cfg.Refiner.Provider)); ok {
			cfg.Refiner.APIKey = v
		}
	}
	if v, ok := os.LookupEnv("AGENTCORE_REDIS_URL"); ok {
		cfg.Archive.RedisURL = v
	}

	if fo.HasPlannerProvider {
		cfg.Planner.Provider = fo.PlannerProvider
	}
	if fo.HasPlannerModel {
		cfg.Planner.Model = fo.PlannerModel
	}
	if fo.HasPlannerAPIKey {
		cfg.Planner.APIKey = fo.PlannerAPIKey
	}
	if fo.HasRefinerProvider {
		cfg.Refiner.Provider = fo.RefinerProvider
	}
	if fo.HasRefinerModel {
		cfg.Refiner.Model = fo.RefinerModel
	}
	if fo.HasRefinerAPIKey {
		cfg.Refiner.APIKey = fo.RefinerAPIKey
	}
	if fo.HasMaxWorkers {
		cfg.Workflow.MaxWorkers = fo.MaxWorkers
	}

	return cfg, cfg.Validate()
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.Planner.Provider == "" {
		return fmt.Errorf("planner.provider is required")
	}
	if c.Planner.Model == "" {
		return fmt.Errorf("planner.model is required")
	}
	if c.Workflow.MaxWorkers <= 0 {
		return fmt.Errorf("workflow.max_workers must be positive")
	}
	return nil
}

func envKeyFor(provider string) string {
	switch provider {
	case "anthropic":
		return "ANTHROPIC_API_KEY"
	case "openai":
		return "OPENAI_API_KEY"
	default:
		return ""
	}
}
