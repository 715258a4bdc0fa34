package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"turnkit/internal/agent"
	"turnkit/internal/contextwindow"
	"turnkit/internal/llm"
	"turnkit/internal/optimize"
)

func TestFormatBudget(t *testing.T) {
	alloc := contextwindow.NewAllocator()
	b := alloc.Allocate(16000, 300, 1200, 0)
	out := formatBudget(llm.Model{Name: "mock-model", MaxTokenAllowed: 16000}, budgetInput{System: 300, Messages: 1200}, b)

	assert.Contains(t, out, "## Token budget for mock-model (16000 tokens)")
	assert.Contains(t, out, "| Completion reserve | - | 8000 |")
	assert.Contains(t, out, "Fits the window: yes. Truncation needed: no.")
}

func TestFormatAnalysis(t *testing.T) {
	empty := formatAnalysis(optimize.Analysis{TotalTokens: 12, MessageCount: 2, Recommendations: []optimize.Recommendation{}})
	assert.Contains(t, empty, "- Tokens: 12")
	assert.Contains(t, empty, "No optimizations recommended.")

	full := formatAnalysis(optimize.Analysis{
		TotalTokens:  60000,
		MessageCount: 40,
		Recommendations: []optimize.Recommendation{
			{Type: optimize.RemoveOld, Severity: optimize.SeverityHigh, Description: "drop", PotentialSavings: 52000},
		},
	})
	assert.Contains(t, full, "| remove_old | high | 52000 | drop |")
	assert.NotContains(t, full, "No optimizations")
}

func TestFormatHistory(t *testing.T) {
	assert.Equal(t, "No agent runs recorded yet.\n", formatHistory(nil))

	out := formatHistory([]agent.HistoryEntry{
		{TaskType: agent.TaskDebug, Task: "fix the crash", Success: false, Error: "agent execution timeout", Steps: 2, DurationMS: 1500, FinishedAt: time.Now()},
	})
	assert.Contains(t, out, "## Agent runs (1)")
	assert.Contains(t, out, "| debug | failed: agent execution timeout | 2 | 1.5s | fix the crash |")
}

func TestShorten(t *testing.T) {
	assert.Equal(t, "a b", shorten("a\n  b", 10))
	assert.Equal(t, "abcd...", shorten("abcdefghij", 7))
}
