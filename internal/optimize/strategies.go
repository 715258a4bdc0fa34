package optimize

import (
	"fmt"
	"regexp"
	"strings"

	"turnkit/internal/state"
	"turnkit/internal/tokens"
)

// CodePlaceholder replaces fenced code removed by the compress strategy.
const CodePlaceholder = "[code block removed]"

var (
	fencedCode  = regexp.MustCompile("(?s)```.*?```")
	blankRunsRe = regexp.MustCompile(`\n[ \t]*(?:\n[ \t]*){2,}`)
)

// Optimizer runs the history rewriting strategies. Every strategy returns a new
// slice and leaves its input untouched; all of them can be applied repeatedly.
type Optimizer struct {
	estimator tokens.Estimator
}

// NewOptimizer builds an optimizer around an estimator.
func NewOptimizer(est tokens.Estimator) *Optimizer {
	if est == nil {
		est = tokens.NewHeuristic()
	}
	return &Optimizer{estimator: est}
}

// Apply dispatches to the strategy named by kind.
func (o *Optimizer) Apply(kind RecommendationType, messages []state.Message, s Settings) ([]state.Message, error) {
	switch kind {
	case RemoveOld:
		return o.RemoveOldMessages(messages, s), nil
	case Compress:
		return o.CompressMessages(messages, s), nil
	case Summarize:
		return o.SummarizeMessages(messages, s), nil
	case Reset:
		return o.ResetMessages(messages, s), nil
	default:
		return nil, fmt.Errorf("unknown optimization strategy %q", kind)
	}
}

// RemoveOldMessages evicts by age. System messages survive when
// KeepSystemPrompts is set; the remaining messages are cut to the N that fit
// MaxContextLength at their average cost. With PrioritizeRecent unset the
// oldest N are kept instead of the newest.
func (o *Optimizer) RemoveOldMessages(messages []state.Message, s Settings) []state.Message {
	pinned := func(m state.Message) bool { return s.KeepSystemPrompts && m.Role == state.RoleSystem }

	var candidates []int
	var candidateTokens int
	for i, msg := range messages {
		if !pinned(msg) {
			candidates = append(candidates, i)
			candidateTokens += o.estimator.EstimateMessage(msg)
		}
	}

	drop := map[int]bool{}
	if len(candidates) > 0 && candidateTokens > s.MaxContextLength {
		avg := (candidateTokens + len(candidates) - 1) / len(candidates)
		n := min(s.MaxContextLength/avg, len(candidates))
		evicted := candidates[:len(candidates)-n]
		if !s.PrioritizeRecent {
			evicted = candidates[n:]
		}
		for _, i := range evicted {
			drop[i] = true
		}
	}

	out := make([]state.Message, 0, len(messages)-len(drop))
	for i, msg := range messages {
		if !drop[i] {
			out = append(out, msg.Clone())
		}
	}
	return out
}

// CompressMessages shrinks the oldest part of history: fenced code becomes
// CodePlaceholder, runs of blank lines collapse and bodies are capped. The
// fraction touched and the cap depend on the compression level.
func (o *Optimizer) CompressMessages(messages []state.Message, s Settings) []state.Message {
	out := state.CloneAll(messages)
	percent, limit := compressionParams(s.CompressionLevel)
	if percent == 0 {
		return out
	}
	cutoff := len(out) * percent / 100
	for i := 0; i < cutoff; i++ {
		if s.KeepSystemPrompts && out[i].Role == state.RoleSystem {
			continue
		}
		out[i] = out[i].WithText(compressText(out[i].Text(), limit))
	}
	return out
}

// compressionParams returns the percentage of history compressed and the body cap.
func compressionParams(level CompressionLevel) (percent, limit int) {
	switch level {
	case CompressionNone:
		return 0, 0
	case CompressionLight:
		return 50, 200
	case CompressionAggressive:
		return 90, 100
	default:
		return 70, 200
	}
}

func compressText(text string, limit int) string {
	text = fencedCode.ReplaceAllString(text, CodePlaceholder)
	text = blankRunsRe.ReplaceAllString(text, "\n\n")
	text = strings.TrimSpace(text)
	runes := []rune(text)
	if len(runes) > limit {
		return string(runes[:limit]) + "..."
	}
	return text
}

// SummarizeMessages collapses the oldest half into one synthetic system
// message with a count-based summary. Histories of two or fewer messages are
// returned as copies.
func (o *Optimizer) SummarizeMessages(messages []state.Message, _ Settings) []state.Message {
	if len(messages) <= 2 {
		return state.CloneAll(messages)
	}
	cut := len(messages) / 2
	var users, assistants, others int
	for _, msg := range messages[:cut] {
		switch msg.Role {
		case state.RoleUser:
			users++
		case state.RoleAssistant:
			assistants++
		default:
			others++
		}
	}
	summary := state.Message{
		Role: state.RoleSystem,
		Content: fmt.Sprintf("[Summary of %d earlier messages: %d from user, %d from assistant, %d other. Details were condensed to save context.]",
			cut, users, assistants, others),
	}
	out := make([]state.Message, 0, len(messages)-cut+1)
	out = append(out, summary)
	return append(out, state.CloneAll(messages[cut:])...)
}

// ResetMessages keeps the system messages and the latest user message.
func (o *Optimizer) ResetMessages(messages []state.Message, _ Settings) []state.Message {
	var out []state.Message
	lastUser := -1
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == state.RoleUser {
			lastUser = i
			break
		}
	}
	for i, msg := range messages {
		if msg.Role == state.RoleSystem || i == lastUser {
			out = append(out, msg.Clone())
		}
	}
	if out == nil {
		out = []state.Message{}
	}
	return out
}
