package optimize

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"turnkit/internal/state"
	"turnkit/internal/tokens"
)

func chatTurns(n int, body string) []state.Message {
	msgs := make([]state.Message, 0, n)
	for i := 0; i < n; i++ {
		role := state.RoleUser
		if i%2 == 1 {
			role = state.RoleAssistant
		}
		msgs = append(msgs, state.Message{Role: role, Content: fmt.Sprintf("%s %d", body, i)})
	}
	return msgs
}

func recommendationTypes(a Analysis) []RecommendationType {
	out := make([]RecommendationType, 0, len(a.Recommendations))
	for _, r := range a.Recommendations {
		out = append(out, r.Type)
	}
	return out
}

func TestAnalyzeManyTurnsRecommendsCompress(t *testing.T) {
	settings := DefaultSettings()
	analyzer := NewAnalyzer(settings, tokens.NewHeuristic(), DefaultPricing())

	analysis := analyzer.Analyze(chatTurns(25, "how do I write a test"), 0)

	assert.Equal(t, 25, analysis.MessageCount)
	assert.Equal(t, []RecommendationType{Compress}, recommendationTypes(analysis))
	assert.Equal(t, SeverityMedium, analysis.Recommendations[0].Severity)
	assert.Equal(t, 375, analysis.Recommendations[0].PotentialSavings)
}

func TestAnalyzeUsesReportedUsage(t *testing.T) {
	analyzer := NewAnalyzer(DefaultSettings(), tokens.NewHeuristic(), DefaultPricing())

	analysis := analyzer.Analyze(chatTurns(2, "hi"), 60000)

	assert.Equal(t, 60000, analysis.TotalTokens)
	assert.InDelta(t, 0.12, analysis.EstimatedCost, 1e-9)
	assert.Equal(t, []RecommendationType{RemoveOld, Summarize, Reset}, recommendationTypes(analysis))
	assert.Equal(t, 52000, analysis.Recommendations[0].PotentialSavings)
	assert.Equal(t, 24000, analysis.Recommendations[1].PotentialSavings)
	assert.Equal(t, 48000, analysis.Recommendations[2].PotentialSavings)
}

func TestAnalyzeSmallConversationHasNoRecommendations(t *testing.T) {
	analyzer := NewAnalyzer(DefaultSettings(), nil, DefaultPricing())
	analysis := analyzer.Analyze(chatTurns(3, "short"), 0)
	assert.NotNil(t, analysis.Recommendations)
	assert.Empty(t, analysis.Recommendations)
	_, ok := analysis.Top()
	assert.False(t, ok)
}

func TestAnalysisTopPrefersSeverityThenOrder(t *testing.T) {
	a := Analysis{Recommendations: []Recommendation{
		{Type: Compress, Severity: SeverityMedium},
		{Type: RemoveOld, Severity: SeverityHigh},
		{Type: Reset, Severity: SeverityHigh},
	}}
	top, ok := a.Top()
	require.True(t, ok)
	assert.Equal(t, RemoveOld, top.Type)
}

func TestAnalyzeCustomPricing(t *testing.T) {
	analyzer := NewAnalyzer(DefaultSettings(), nil, Pricing{PricePer1K: 1, CostThreshold: 0.01})
	analysis := analyzer.Analyze([]state.Message{{Role: state.RoleUser, Content: strings.Repeat("word ", 40)}}, 0)
	assert.Contains(t, recommendationTypes(analysis), Reset)
}
