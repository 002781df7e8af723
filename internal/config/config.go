// Package config loads caseweaver configuration: a YAML file with
// environment-variable overrides for secrets and paths.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"caseweaver/internal/llm"
	"caseweaver/internal/logging"
)

// Generation tunes pipeline behavior.
type Generation struct {
	// RetryBudget is the number of re-attempts after a validator rejects a
	// generative stage (total attempts = RetryBudget + 1).
	RetryBudget int `yaml:"retry_budget"`
	// StageTimeout bounds each generative call.
	StageTimeout time.Duration `yaml:"stage_timeout"`
	// KeepDrafts leaves the draft row in place after a successful store.
	KeepDrafts bool `yaml:"keep_drafts"`
}

// Config is the root configuration object.
type Config struct {
	DataDir    string         `yaml:"data_dir"`
	LLM        llm.Config     `yaml:"llm"`
	Logging    logging.Config `yaml:"logging"`
	Generation Generation     `yaml:"generation"`
}

// Default returns the baseline configuration.
func Default() Config {
	return Config{
		DataDir: ".caseweaver",
		LLM:     llm.DefaultConfig(),
		Logging: logging.Config{Level: "info"},
		Generation: Generation{
			RetryBudget:  1,
			StageTimeout: 5 * time.Minute,
		},
	}
}

// Load reads config from path (optional) and applies env overrides. A
// missing file is not an error when path is empty; an explicit path that
// does not exist is.
func Load(path string) (Config, error) {
	cfg := Default()

	if path == "" {
		path = filepath.Join(cfg.DataDir, "config.yaml")
		if _, err := os.Stat(path); err != nil {
			applyEnv(&cfg)
			return cfg, nil
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config: %w", err)
	}

	applyEnv(&cfg)
	return cfg, nil
}

// applyEnv overlays environment variables. API keys only ever come from the
// environment, never from the config file.
func applyEnv(cfg *Config) {
	switch cfg.LLM.Provider {
	case "anthropic":
		cfg.LLM.APIKey = os.Getenv("ANTHROPIC_API_KEY")
	default:
		cfg.LLM.APIKey = os.Getenv("GEMINI_API_KEY")
	}
	if dir := os.Getenv("CASEWEAVER_DATA_DIR"); dir != "" {
		cfg.DataDir = dir
	}
	if model := os.Getenv("CASEWEAVER_MODEL"); model != "" {
		cfg.LLM.Model = model
	}
	if level := os.Getenv("CASEWEAVER_LOG_LEVEL"); level != "" {
		cfg.Logging.Level = level
	}
}

// DatabasePath returns the sqlite file location under the data dir.
func (c Config) DatabasePath() string {
	return filepath.Join(c.DataDir, "cases.db")
}
