package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name        string
		modifyFunc  func(*Config)
		errorString string
	}{
		{name: "valid config passes", modifyFunc: func(c *Config) {}},
		{
			name:        "unknown provider fails",
			modifyFunc:  func(c *Config) { c.Provider = "acme" },
			errorString: "unknown provider",
		},
		{
			name:        "unknown tokenizer fails",
			modifyFunc:  func(c *Config) { c.Tokenizer = "sentencepiece" },
			errorString: "tokenizer must be",
		},
		{
			name:        "negative temperature fails",
			modifyFunc:  func(c *Config) { c.Temperature = -0.5 },
			errorString: "temperature must be between",
		},
		{
			name:        "temperature > 2.0 fails",
			modifyFunc:  func(c *Config) { c.Temperature = 3.0 },
			errorString: "temperature must be between",
		},
		{
			name:        "request timeout too large fails",
			modifyFunc:  func(c *Config) { c.RequestTimeoutSeconds = 9999 },
			errorString: "request_timeout_seconds cannot exceed",
		},
		{
			name:        "agent timeout too large fails",
			modifyFunc:  func(c *Config) { c.AgentTimeoutSeconds = 9999 },
			errorString: "agent_timeout_seconds cannot exceed",
		},
		{
			name:        "message share of one fails",
			modifyFunc:  func(c *Config) { c.MessageShare = 1 },
			errorString: "message_share",
		},
		{
			name:        "safety fraction above one fails",
			modifyFunc:  func(c *Config) { c.SystemPromptSafetyFraction = 1.5 },
			errorString: "system_prompt_safety_fraction",
		},
		{
			name:        "negative reserve fails",
			modifyFunc:  func(c *Config) { c.CompletionReserveTokens = -1 },
			errorString: "token reserves",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Config{}
			cfg.applyDefaults()
			tt.modifyFunc(&cfg)
			err := cfg.validate()
			if tt.errorString == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errorString)
		})
	}
}

func TestApplyDefaults(t *testing.T) {
	t.Setenv("TURNKIT_CONFIG_DIR", "/tmp/turnkit-test")
	cfg := Config{}
	cfg.applyDefaults()

	assert.Equal(t, ProviderOpenRouter, cfg.Provider)
	assert.Equal(t, DefaultOpenRouterModel, cfg.Model)
	assert.Equal(t, 8000, cfg.CompletionReserveTokens)
	assert.Equal(t, 1000, cfg.SystemPromptFloorTokens)
	assert.Equal(t, 0.70, cfg.MessageShare)
	assert.Equal(t, 0.80, cfg.SystemPromptSafetyFraction)
	assert.Equal(t, 0.002, cfg.PricePer1KTokens)
	assert.Equal(t, 0.10, cfg.CostThreshold)
	assert.True(t, cfg.AgentsOn())
	assert.Equal(t, 300, cfg.AgentTimeoutSeconds)
	assert.Equal(t, filepath.Join("/tmp/turnkit-test", "turnkit.db"), cfg.StorePath)
	assert.Equal(t, filepath.Join("/tmp/turnkit-test", "conversations"), cfg.ConversationDir)
}

func TestApplyDefaultsMockModel(t *testing.T) {
	cfg := Config{Provider: "Mock"}
	cfg.applyDefaults()
	assert.Equal(t, ProviderMock, cfg.Provider)
	assert.Equal(t, DefaultMockModel, cfg.Model)
	assert.Equal(t, 16000, cfg.ContextLength())
}

func TestParseKeepsExplicitValues(t *testing.T) {
	cfg, err := Parse([]byte(`
provider: openrouter
model: anthropic/claude-3.5-sonnet
agents_enabled: false
message_share: 0.6
tokenizer: tiktoken
`))
	require.NoError(t, err)
	assert.False(t, cfg.AgentsOn())
	assert.Equal(t, 0.6, cfg.MessageShare)
	assert.Equal(t, TokenizerTiktoken, cfg.Tokenizer)
	assert.Equal(t, 200000, cfg.ContextLength())
}

func TestParseRejectsInvalidYAML(t *testing.T) {
	_, err := Parse([]byte("provider: [unterminated"))
	assert.Error(t, err)
}

func TestLoadUserConfigMissingFileUsesDefaults(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("TURNKIT_CONFIG_PATH", "")
	t.Setenv("TURNKIT_CONFIG_DIR", dir)

	cfg, err := LoadUserConfig()
	require.NoError(t, err)
	assert.Equal(t, ProviderOpenRouter, cfg.Provider)
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "config.yaml")
	t.Setenv("TURNKIT_CONFIG_PATH", path)

	cfg := Config{Provider: ProviderMock, AgentTimeoutSeconds: 42}
	cfg.applyDefaults()
	require.NoError(t, Save(cfg))

	_, err := os.Stat(path)
	require.NoError(t, err)

	loaded, err := LoadUserConfig()
	require.NoError(t, err)
	assert.Equal(t, 42, loaded.AgentTimeoutSeconds)
	assert.Equal(t, ProviderMock, loaded.Provider)
}

func TestAPIKeyFromEnv(t *testing.T) {
	t.Setenv("TURNKIT_TEST_KEY", "  secret ")
	cfg := Config{APIKeyEnv: "TURNKIT_TEST_KEY"}
	assert.Equal(t, "secret", cfg.APIKey())
}
