package main

import (
	"fmt"
	"strings"
	"time"

	"turnkit/internal/agent"
	"turnkit/internal/contextwindow"
	"turnkit/internal/llm"
	"turnkit/internal/optimize"
)

// budgetInput holds the requested sizes fed to the allocator.
type budgetInput struct {
	System   int
	Messages int
	Files    int
}

func yesNo(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}

func formatBudget(model llm.Model, in budgetInput, b contextwindow.Budget) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "## Token budget for %s (%d tokens)\n\n", model.Name, model.MaxTokenAllowed)
	sb.WriteString("| Component | Requested | Allotted |\n|---|---:|---:|\n")
	fmt.Fprintf(&sb, "| System prompt | %d | %d |\n", in.System, b.SystemTokens)
	fmt.Fprintf(&sb, "| Messages | %d | %d |\n", in.Messages, b.MessageTokens)
	fmt.Fprintf(&sb, "| File context | %d | %d |\n", in.Files, b.ContextTokens)
	fmt.Fprintf(&sb, "| Completion reserve | - | %d |\n", b.CompletionTokens)
	fmt.Fprintf(&sb, "| Total | - | %d |\n\n", b.TotalUsed)
	fmt.Fprintf(&sb, "Fits the window: %s. Truncation needed: %s.\n", yesNo(b.CanFit), yesNo(b.NeedsTruncation()))
	return sb.String()
}

func formatAnalysis(a optimize.Analysis) string {
	var sb strings.Builder
	sb.WriteString("## Context analysis\n\n")
	fmt.Fprintf(&sb, "- Messages: %d\n", a.MessageCount)
	fmt.Fprintf(&sb, "- Tokens: %d\n", a.TotalTokens)
	fmt.Fprintf(&sb, "- Estimated cost: $%.4f\n\n", a.EstimatedCost)
	if len(a.Recommendations) == 0 {
		sb.WriteString("No optimizations recommended.\n")
		return sb.String()
	}
	sb.WriteString("| Strategy | Severity | Savings | Description |\n|---|---|---:|---|\n")
	for _, rec := range a.Recommendations {
		fmt.Fprintf(&sb, "| %s | %s | %d | %s |\n", rec.Type, rec.Severity, rec.PotentialSavings, rec.Description)
	}
	return sb.String()
}

func formatSettings(s optimize.Settings) string {
	var sb strings.Builder
	sb.WriteString("## Optimization settings\n\n")
	fmt.Fprintf(&sb, "- autoOptimize: %t\n", s.AutoOptimize)
	fmt.Fprintf(&sb, "- maxContextLength: %d\n", s.MaxContextLength)
	fmt.Fprintf(&sb, "- prioritizeRecent: %t\n", s.PrioritizeRecent)
	fmt.Fprintf(&sb, "- keepSystemPrompts: %t\n", s.KeepSystemPrompts)
	fmt.Fprintf(&sb, "- compressionLevel: %s\n", s.CompressionLevel)
	return sb.String()
}

func formatOptimizeSummary(kind optimize.RecommendationType, beforeCount, afterCount, beforeTokens, afterTokens int) string {
	return fmt.Sprintf("Applied %s: %d -> %d messages, %d -> %d tokens.", kind, beforeCount, afterCount, beforeTokens, afterTokens)
}

func formatHistory(entries []agent.HistoryEntry) string {
	if len(entries) == 0 {
		return "No agent runs recorded yet.\n"
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "## Agent runs (%d)\n\n", len(entries))
	sb.WriteString("| Finished | Type | Result | Steps | Duration | Task |\n|---|---|---|---:|---:|---|\n")
	for _, e := range entries {
		result := "ok"
		if !e.Success {
			result = "failed"
			if e.Error != "" {
				result += ": " + e.Error
			}
		}
		dur := (time.Duration(e.DurationMS) * time.Millisecond).Round(time.Millisecond)
		fmt.Fprintf(&sb, "| %s | %s | %s | %d | %s | %s |\n",
			e.FinishedAt.Local().Format("2006-01-02 15:04"), e.TaskType, result, e.Steps, dur, shorten(e.Task, 60))
	}
	return sb.String()
}

func shorten(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
