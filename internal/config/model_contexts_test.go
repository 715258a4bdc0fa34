package config

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetModelContextLength(t *testing.T) {
	tests := []struct {
		provider string
		model    string
		expected int
	}{
		{"openrouter", "openai/gpt-4o-mini", 128000},
		{"OpenRouter", "anthropic/claude-3.5-sonnet", 200000},
		{"openrouter", "openai/gpt-4", 8191},
		{"mock", "mock-model", 16000},
		{"unknown-provider", "unknown-model", DefaultContextLength},
		{"openrouter", "non-existent-model", DefaultContextLength},
		{"openrouter", "openai/gpt-4o:free", 128000},
		{"openrouter", "non-existent-model:free", DefaultContextLength},
	}
	for _, tt := range tests {
		t.Run(tt.provider+"/"+tt.model, func(t *testing.T) {
			assert.Equal(t, tt.expected, GetModelContextLength(tt.provider, tt.model))
		})
	}
}

func TestGetAllModelContextsReturnsCopy(t *testing.T) {
	contexts := GetAllModelContexts()
	assert.NotEmpty(t, contexts)

	hasOpenRouter := false
	for key := range contexts {
		if strings.HasPrefix(key, "openrouter/") {
			hasOpenRouter = true
			break
		}
	}
	assert.True(t, hasOpenRouter)

	contexts["mock/mock-model"] = 1
	assert.Equal(t, 16000, GetModelContextLength("mock", "mock-model"))
}
