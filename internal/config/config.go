// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"

	"github.com/jeranaias/ragent/internal/budget"
	"github.com/jeranaias/ragent/internal/cost"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config is the complete ragent configuration.
type Config struct {
	Model      ModelConfig       `toml:"model"`
	Agent      AgentConfig       `toml:"agent"`
	Retrieval  RetrievalConfig   `toml:"retrieval"`
	Calculator CalculatorConfig  `toml:"calculator"`
	Pricing    cost.Rates        `toml:"pricing"`
	Budget     budget.Thresholds `toml:"budget"`
	Session    SessionConfig     `toml:"session"`
	Log        LogConfig         `toml:"log"`
	UI         UIConfig          `toml:"ui"`

	// Keys present in the config file that ragent does not know.
	Unknown []string `toml:"-"`
}

// ModelConfig configures the inference service.
type ModelConfig struct {
	APIURL      string        `toml:"api_url" validate:"omitempty,url"`
	APIKey      string        `toml:"api_key"`
	ModelID     string        `toml:"model_id" validate:"required"`
	Temperature float64       `toml:"temperature" validate:"gte=0,lte=1"`
	MaxTokens   int           `toml:"max_tokens" validate:"gte=1,lte=200000"`
	Timeout     time.Duration `toml:"timeout" validate:"gt=0"`
}

// AgentConfig configures the per-turn loop.
type AgentConfig struct {
	MaxIterations   int           `toml:"max_iterations" validate:"gte=1,lte=50"`
	SystemPrompt    string        `toml:"system_prompt" validate:"required"`
	ToolConcurrency int           `toml:"tool_concurrency" validate:"gte=1,lte=32"`
	ToolTimeout     time.Duration `toml:"tool_timeout" validate:"gt=0"`
}

// RetrievalConfig configures the knowledge base client.
type RetrievalConfig struct {
	APIURL        string        `toml:"api_url" validate:"omitempty,url"`
	APIKey        string        `toml:"api_key"`
	DefaultK      int           `toml:"default_k" validate:"gte=1,lte=50"`
	SearchType    string        `toml:"search_type" validate:"oneof=HYBRID SEMANTIC KEYWORD"`
	Timeout       time.Duration `toml:"timeout" validate:"gt=0"`
	RatePerSecond float64       `toml:"rate_per_second" validate:"gte=0"`
	Burst         int           `toml:"burst" validate:"gte=0"`
	ResultsDir    string        `toml:"results_dir"`
}

// CalculatorConfig holds calculator defaults.
type CalculatorConfig struct {
	Precision int    `toml:"precision" validate:"gte=0,lte=15"`
	Mode      string `toml:"mode" validate:"oneof=evaluate solve"`
}

// SessionConfig controls session persistence.
type SessionConfig struct {
	Dir      string `toml:"dir" validate:"required"`
	AutoSave bool   `toml:"auto_save"`
}

// LogConfig controls diagnostic logging.
type LogConfig struct {
	Level string `toml:"level" validate:"oneof=trace debug info warn error disabled"`
	JSON  bool   `toml:"json"`
}

// UIConfig controls console output.
type UIConfig struct {
	Verbose  bool `toml:"verbose"`
	Markdown bool `toml:"markdown"`
}

// =============================================================================
// DEFAULTS
// =============================================================================

// DefaultModelID is the model requested when none is configured.
const DefaultModelID = "us.anthropic.claude-sonnet-4-20250514-v1:0"

// DefaultSystemPrompt describes both tools to the model.
const DefaultSystemPrompt = `You are a helpful AI assistant with access to tools.

**Available Tools:**

1. **calculator**: For precise mathematical calculations
   - Use for: arithmetic, trigonometry, logarithms, equations
   - Always use this instead of calculating yourself
   - Examples: "2^10", "sin(pi/4)", "log(100)", solve mode for "x^2 = 16"

2. **retrieve_documents**: For finding information from the knowledge base
   - Use for: searching documents, finding specific data
   - Supports filtering by company name
   - Returns ranked relevant chunks

**Guidelines:**
- Always use tools when you need calculations or document information
- Do not guess or calculate manually - use the calculator tool
- Cite sources when providing information from documents
- Be clear and concise in your responses
- If a tool fails, explain what happened and suggest alternatives
`

// Default returns the built-in configuration.
func Default() *Config {
	dir, err := ConfigDir()
	if err != nil {
		dir = ".ragent"
	}
	return &Config{
		Model: ModelConfig{
			ModelID:     DefaultModelID,
			Temperature: 0.7,
			MaxTokens:   4096,
			Timeout:     60 * time.Second,
		},
		Agent: AgentConfig{
			MaxIterations:   3,
			SystemPrompt:    DefaultSystemPrompt,
			ToolConcurrency: 4,
			ToolTimeout:     30 * time.Second,
		},
		Retrieval: RetrievalConfig{
			DefaultK:      10,
			SearchType:    "HYBRID",
			Timeout:       30 * time.Second,
			RatePerSecond: 5,
			Burst:         5,
			ResultsDir:    ".",
		},
		Calculator: CalculatorConfig{
			Precision: 10,
			Mode:      "evaluate",
		},
		Pricing: cost.DefaultRates(),
		Budget:  budget.DefaultThresholds(),
		Session: SessionConfig{
			Dir:      filepath.Join(dir, "sessions"),
			AutoSave: true,
		},
		Log: LogConfig{Level: "warn"},
		UI:  UIConfig{Verbose: true, Markdown: true},
	}
}

// =============================================================================
// PATHS
// =============================================================================

// ConfigDir returns ~/.ragent.
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".ragent"), nil
}

// DefaultPath returns ~/.ragent/config.toml.
func DefaultPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// expandHome replaces a leading ~ with the home directory.
func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}

// =============================================================================
// LOAD
// =============================================================================

// Options selects the files Load reads. Empty fields use the defaults; an
// explicitly named file that does not exist is an error.
type Options struct {
	ConfigPath string
	EnvFile    string
}

// Load builds the configuration from defaults, the config file, the .env
// file and the environment, then validates it.
func Load(opts Options) (*Config, error) {
	cfg := Default()

	path := opts.ConfigPath
	explicit := path != ""
	if !explicit {
		p, err := DefaultPath()
		if err == nil {
			path = p
		}
	}
	if path != "" {
		if err := cfg.loadTOML(path, explicit); err != nil {
			return nil, err
		}
	}

	if err := loadEnvFile(opts.EnvFile); err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnv(os.Getenv); err != nil {
		return nil, err
	}

	cfg.Session.Dir = expandHome(cfg.Session.Dir)
	cfg.Retrieval.ResultsDir = expandHome(cfg.Retrieval.ResultsDir)
	cfg.Retrieval.SearchType = strings.ToUpper(cfg.Retrieval.SearchType)
	cfg.Log.Level = strings.ToLower(cfg.Log.Level)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func (c *Config) loadTOML(path string, required bool) error {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) && !required {
			return nil
		}
		return fmt.Errorf("failed to read config %s: %w", path, err)
	}

	md, err := toml.DecodeFile(path, c)
	if err != nil {
		return fmt.Errorf("failed to decode TOML file %s: %w", path, err)
	}
	for _, key := range md.Undecoded() {
		c.Unknown = append(c.Unknown, key.String())
	}
	return nil
}

// loadEnvFile loads KEY=VALUE pairs into the process environment without
// overriding variables that are already set.
func loadEnvFile(path string) error {
	if path != "" {
		if err := godotenv.Load(path); err != nil {
			return fmt.Errorf("failed to load env file %s: %w", path, err)
		}
		return nil
	}
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to load .env: %w", err)
	}
	return nil
}

// =============================================================================
// ENVIRONMENT OVERRIDES
// =============================================================================

// ApplyEnv applies environment overrides using getenv.
//
// Supported variables:
//   - MODEL_API_URL, MODEL_API_KEY: inference service endpoint and key
//   - KB_API_URL, KB_API_KEY: knowledge base endpoint and key
//   - RAGENT_MODEL_ID: overrides model.model_id
//   - RAGENT_MAX_ITERATIONS: overrides agent.max_iterations
//   - RAGENT_SESSIONS_DIR: overrides session.dir
//   - RAGENT_LOG_LEVEL: overrides log.level
//   - RAGENT_VERBOSE: "1"/"true" or "0"/"false"
func (c *Config) ApplyEnv(getenv func(string) string) error {
	setString := func(key string, dst *string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}

	setString("MODEL_API_URL", &c.Model.APIURL)
	setString("MODEL_API_KEY", &c.Model.APIKey)
	setString("KB_API_URL", &c.Retrieval.APIURL)
	setString("KB_API_KEY", &c.Retrieval.APIKey)
	setString("RAGENT_MODEL_ID", &c.Model.ModelID)
	setString("RAGENT_SESSIONS_DIR", &c.Session.Dir)
	setString("RAGENT_LOG_LEVEL", &c.Log.Level)

	if v := strings.TrimSpace(getenv("RAGENT_MAX_ITERATIONS")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("RAGENT_MAX_ITERATIONS: %q is not an integer", v)
		}
		c.Agent.MaxIterations = n
	}
	if v := strings.TrimSpace(getenv("RAGENT_VERBOSE")); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("RAGENT_VERBOSE: %q is not a boolean", v)
		}
		c.UI.Verbose = b
	}
	return nil
}

// =============================================================================
// ACCESSORS
// =============================================================================

// ModelConfigured reports whether the inference endpoint and key are set.
func (c *Config) ModelConfigured() bool {
	return c.Model.APIURL != "" && c.Model.APIKey != ""
}

// RetrievalConfigured reports whether the knowledge base endpoint and key
// are set.
func (c *Config) RetrievalConfigured() bool {
	return c.Retrieval.APIURL != "" && c.Retrieval.APIKey != ""
}
