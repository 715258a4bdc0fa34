package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Provider defaults.
const (
	ProviderOpenRouter = "openrouter"
	ProviderMock       = "mock"

	DefaultOpenRouterModel = "openai/gpt-4o-mini"
	DefaultMockModel       = "mock-model"
	DefaultBaseURL         = "https://openrouter.ai/api/v1"
	DefaultAPIKeyEnv       = "OPENROUTER_API_KEY"

	TokenizerHeuristic = "heuristic"
	TokenizerTiktoken  = "tiktoken"
)

// Config captures the tunable runtime settings. Optimization settings are not
// part of the file; they live in the kv store.
type Config struct {
	Provider              string  `yaml:"provider"`
	Model                 string  `yaml:"model"`
	BaseURL               string  `yaml:"base_url"`
	APIKeyEnv             string  `yaml:"api_key_env"`
	RequestTimeoutSeconds int     `yaml:"request_timeout_seconds"`
	Temperature           float64 `yaml:"temperature"`
	SystemPrompt          string  `yaml:"system_prompt,omitempty"`
	Tokenizer             string  `yaml:"tokenizer"`

	CompletionReserveTokens    int     `yaml:"completion_reserve_tokens"`
	SystemPromptFloorTokens    int     `yaml:"system_prompt_floor_tokens"`
	MessageShare               float64 `yaml:"message_share"`
	SystemPromptSafetyFraction float64 `yaml:"system_prompt_safety_fraction"`
	PricePer1KTokens           float64 `yaml:"price_per_1k_tokens"`
	CostThreshold              float64 `yaml:"cost_threshold"`

	AgentsEnabled       *bool `yaml:"agents_enabled,omitempty"`
	AgentTimeoutSeconds int   `yaml:"agent_timeout_seconds"`

	StorePath       string `yaml:"store_path"`
	ConversationDir string `yaml:"conversation_dir"`
	WorkspaceRoot   string `yaml:"workspace_root"`

	LogPath  string `yaml:"log_path"`
	LogLevel string `yaml:"log_level"`
	LogJSON  bool   `yaml:"log_json"`
}

// Path returns the config file location. TURNKIT_CONFIG_PATH wins over the
// config directory.
func Path() string {
	if p := os.Getenv("TURNKIT_CONFIG_PATH"); p != "" {
		return p
	}
	return filepath.Join(GetConfigDir(), "config.yaml")
}

// GetConfigDir returns $TURNKIT_CONFIG_DIR or ~/.turnkit.
func GetConfigDir() string {
	if configDir := os.Getenv("TURNKIT_CONFIG_DIR"); configDir != "" {
		return configDir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".turnkit"
	}
	return filepath.Join(home, ".turnkit")
}

// LoadUserConfig loads the user config file. A missing file yields defaults.
func LoadUserConfig() (Config, error) {
	path := Path()
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		cfg := Config{}
		cfg.applyDefaults()
		return cfg, nil
	}
	return Load(path)
}

// Load reads the YAML configuration from disk and injects defaults.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML, applies defaults and validates the result.
func Parse(data []byte) (Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Save writes the config to Path(), creating the directory when needed.
func Save(c Config) error {
	path := Path()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// applyDefaults fills in optional values to keep the YAML file concise.
func (c *Config) applyDefaults() {
	c.Provider = strings.ToLower(strings.TrimSpace(c.Provider))
	if c.Provider == "" {
		c.Provider = ProviderOpenRouter
	}
	if strings.TrimSpace(c.Model) == "" {
		if c.Provider == ProviderMock {
			c.Model = DefaultMockModel
		} else {
			c.Model = DefaultOpenRouterModel
		}
	}
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	if c.APIKeyEnv == "" {
		c.APIKeyEnv = DefaultAPIKeyEnv
	}
	if c.RequestTimeoutSeconds <= 0 {
		c.RequestTimeoutSeconds = 90
	}
	if c.Temperature == 0 {
		c.Temperature = 0.2
	}
	if c.Tokenizer == "" {
		c.Tokenizer = TokenizerHeuristic
	}
	if c.CompletionReserveTokens == 0 {
		c.CompletionReserveTokens = 8000
	}
	if c.SystemPromptFloorTokens == 0 {
		c.SystemPromptFloorTokens = 1000
	}
	if c.MessageShare == 0 {
		c.MessageShare = 0.70
	}
	if c.SystemPromptSafetyFraction == 0 {
		c.SystemPromptSafetyFraction = 0.80
	}
	if c.PricePer1KTokens == 0 {
		c.PricePer1KTokens = 0.002
	}
	if c.CostThreshold == 0 {
		c.CostThreshold = 0.10
	}
	if c.AgentsEnabled == nil {
		enabled := true
		c.AgentsEnabled = &enabled
	}
	if c.AgentTimeoutSeconds <= 0 {
		c.AgentTimeoutSeconds = 300
	}
	if c.StorePath == "" {
		c.StorePath = filepath.Join(GetConfigDir(), "turnkit.db")
	}
	if c.ConversationDir == "" {
		c.ConversationDir = filepath.Join(GetConfigDir(), "conversations")
	}
	if c.WorkspaceRoot == "" {
		c.WorkspaceRoot = "."
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

func (c Config) validate() error {
	switch c.Provider {
	case ProviderOpenRouter, ProviderMock:
	default:
		return fmt.Errorf("unknown provider %q", c.Provider)
	}
	switch c.Tokenizer {
	case TokenizerHeuristic, TokenizerTiktoken:
	default:
		return fmt.Errorf("tokenizer must be %q or %q (got %q)", TokenizerHeuristic, TokenizerTiktoken, c.Tokenizer)
	}
	if c.Temperature < 0 || c.Temperature > 2.0 {
		return fmt.Errorf("temperature must be between 0 and 2.0 (got %f)", c.Temperature)
	}
	if c.RequestTimeoutSeconds > 3600 {
		return fmt.Errorf("request_timeout_seconds cannot exceed 3600")
	}
	if c.AgentTimeoutSeconds > 3600 {
		return fmt.Errorf("agent_timeout_seconds cannot exceed 3600")
	}
	if c.CompletionReserveTokens < 0 || c.SystemPromptFloorTokens < 0 {
		return fmt.Errorf("token reserves must be >= 0")
	}
	if c.MessageShare <= 0 || c.MessageShare >= 1 {
		return fmt.Errorf("message_share must be between 0 and 1 exclusive (got %f)", c.MessageShare)
	}
	if c.SystemPromptSafetyFraction <= 0 || c.SystemPromptSafetyFraction > 1 {
		return fmt.Errorf("system_prompt_safety_fraction must be in (0, 1] (got %f)", c.SystemPromptSafetyFraction)
	}
	if c.PricePer1KTokens < 0 || c.CostThreshold < 0 {
		return fmt.Errorf("pricing values must be >= 0")
	}
	if strings.TrimSpace(c.StorePath) == "" {
		return fmt.Errorf("store_path must be set")
	}
	return nil
}

// RequestTimeout turns the integer value into a duration for HTTP clients.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSeconds) * time.Second
}

// AgentTimeout bounds one agent run.
func (c Config) AgentTimeout() time.Duration {
	return time.Duration(c.AgentTimeoutSeconds) * time.Second
}

// AgentsOn reports whether multi-step agent execution is enabled.
func (c Config) AgentsOn() bool {
	return c.AgentsEnabled == nil || *c.AgentsEnabled
}

// APIKey reads the provider key from the configured environment variable.
func (c Config) APIKey() string {
	return strings.TrimSpace(os.Getenv(c.APIKeyEnv))
}

// ContextLength returns the maximum context of the configured model.
func (c Config) ContextLength() int {
	return GetModelContextLength(c.Provider, c.Model)
}
