// Package optimize scores conversations for context savings and rewrites
// history into smaller derived copies.
package optimize

import (
	"fmt"

	"turnkit/internal/state"
	"turnkit/internal/tokens"
)

// RecommendationType names the strategy a recommendation suggests.
type RecommendationType string

const (
	RemoveOld RecommendationType = "remove_old"
	Compress  RecommendationType = "compress"
	Summarize RecommendationType = "summarize"
	Reset     RecommendationType = "reset"
)

// Severity ranks recommendations.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

func (s Severity) rank() int {
	switch s {
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	}
	return 0
}

// Recommendation is one suggested optimization.
type Recommendation struct {
	Type             RecommendationType `json:"type"`
	Severity         Severity           `json:"severity"`
	Description      string             `json:"description"`
	PotentialSavings int                `json:"potentialSavings"`
}

// Analysis summarizes a conversation's context cost.
type Analysis struct {
	TotalTokens     int              `json:"totalTokens"`
	MessageCount    int              `json:"messageCount"`
	EstimatedCost   float64          `json:"estimatedCost"`
	Recommendations []Recommendation `json:"recommendations"`
}

// Top returns the highest-severity recommendation; the first produced wins ties.
func (a Analysis) Top() (Recommendation, bool) {
	var best Recommendation
	found := false
	for _, r := range a.Recommendations {
		if !found || r.Severity.rank() > best.Severity.rank() {
			best = r
			found = true
		}
	}
	return best, found
}

// Pricing carries the cost assumptions used by the analyzer.
type Pricing struct {
	PricePer1K    float64
	CostThreshold float64
}

// DefaultPricing is a generic per-1k token price and the reset threshold.
func DefaultPricing() Pricing {
	return Pricing{PricePer1K: 0.002, CostThreshold: 0.10}
}

const (
	compressMessageThreshold = 20
	summarizeTokenThreshold  = 5000
	tokensPerOldMessage      = 50
)

// Analyzer applies the deterministic scoring rules.
type Analyzer struct {
	settings  Settings
	estimator tokens.Estimator
	pricing   Pricing
}

// NewAnalyzer binds an analyzer to a settings snapshot.
func NewAnalyzer(settings Settings, est tokens.Estimator, pricing Pricing) *Analyzer {
	if est == nil {
		est = tokens.NewHeuristic()
	}
	return &Analyzer{settings: settings, estimator: est, pricing: pricing}
}

// Analyze scores messages. currentTokenUsage, when positive, replaces the
// estimated total (for callers holding provider-reported usage). Every rule is
// evaluated independently, so several recommendations may be returned.
func (a *Analyzer) Analyze(messages []state.Message, currentTokenUsage int) Analysis {
	total := currentTokenUsage
	if total <= 0 {
		total = a.estimator.EstimateAll(messages)
	}
	count := len(messages)
	cost := float64(total) / 1000 * a.pricing.PricePer1K

	out := Analysis{
		TotalTokens:     total,
		MessageCount:    count,
		EstimatedCost:   cost,
		Recommendations: []Recommendation{},
	}

	if total > a.settings.MaxContextLength {
		out.Recommendations = append(out.Recommendations, Recommendation{
			Type:             RemoveOld,
			Severity:         SeverityHigh,
			Description:      fmt.Sprintf("Conversation uses %d tokens, over the %d token limit. Remove older messages.", total, a.settings.MaxContextLength),
			PotentialSavings: total - a.settings.MaxContextLength,
		})
	}
	if count > compressMessageThreshold {
		out.Recommendations = append(out.Recommendations, Recommendation{
			Type:             Compress,
			Severity:         SeverityMedium,
			Description:      fmt.Sprintf("%d messages in history. Compress older messages to save space.", count),
			PotentialSavings: int(float64(count) * 0.3 * tokensPerOldMessage),
		})
	}
	if total > summarizeTokenThreshold {
		out.Recommendations = append(out.Recommendations, Recommendation{
			Type:             Summarize,
			Severity:         SeverityMedium,
			Description:      "Long conversation. Summarize earlier turns to keep the essentials.",
			PotentialSavings: int(float64(total) * 0.4),
		})
	}
	if cost > a.pricing.CostThreshold {
		out.Recommendations = append(out.Recommendations, Recommendation{
			Type:             Reset,
			Severity:         SeverityHigh,
			Description:      fmt.Sprintf("Each request costs about $%.3f. Consider starting a fresh conversation.", cost),
			PotentialSavings: int(float64(total) * 0.8),
		})
	}
	return out
}
