// Package tokens estimates how many model tokens text and messages consume.
//
// The estimates are approximations. Callers size budgets with them and must
// tolerate error margins in either direction.
package tokens

import (
	"math"
	"regexp"
	"strings"
	"unicode/utf8"

	"turnkit/internal/state"
)

const (
	// MessageOverhead is the role/formatting tax charged per message.
	MessageOverhead = 4
	// ImageTokens is the flat cost charged per image part.
	ImageTokens = 85

	defaultCodeRatio       = 3.0
	defaultStructuredRatio = 3.5
	defaultProseRatio      = 4.0
)

var (
	codeBlockPattern   = regexp.MustCompile("(?s)```.*?```")
	actionBlockPattern = regexp.MustCompile(`(?s)<\w*[Aa]ction\b[^>]*>.*?</\w*[Aa]ction>`)
	structuredPattern  = regexp.MustCompile(`(?s)\{[^{}]*\}|\[[^\[\]]*\]`)
)

// Estimator is the contract shared by every token counting strategy.
type Estimator interface {
	Estimate(text string) int
	EstimateMessage(msg state.Message) int
	EstimateAll(messages []state.Message) int
}

// Heuristic counts tokens with per-category character ratios. Code and tool
// action blocks are denser than JSON-like structures, which are denser than prose.
type Heuristic struct {
	CodeRatio       float64
	StructuredRatio float64
	ProseRatio      float64
}

// NewHeuristic returns the default ratio set (3 / 3.5 / 4 chars per token).
func NewHeuristic() *Heuristic {
	return &Heuristic{
		CodeRatio:       defaultCodeRatio,
		StructuredRatio: defaultStructuredRatio,
		ProseRatio:      defaultProseRatio,
	}
}

// Segments splits text into its code, structured and prose portions. Each
// extracted segment is removed before the next category is matched, so no
// character is counted twice.
func Segments(text string) (code, structured []string, prose string) {
	rest := text
	for _, pattern := range []*regexp.Regexp{codeBlockPattern, actionBlockPattern} {
		code = append(code, pattern.FindAllString(rest, -1)...)
		rest = pattern.ReplaceAllString(rest, " ")
	}
	structured = structuredPattern.FindAllString(rest, -1)
	rest = structuredPattern.ReplaceAllString(rest, " ")
	return code, structured, strings.TrimSpace(rest)
}

// Estimate implements Estimator.
func (h *Heuristic) Estimate(text string) int {
	if text == "" {
		return 0
	}
	code, structured, prose := Segments(text)
	total := 0
	for _, seg := range code {
		total += ratioCount(seg, h.ratio(h.CodeRatio, defaultCodeRatio))
	}
	for _, seg := range structured {
		total += ratioCount(seg, h.ratio(h.StructuredRatio, defaultStructuredRatio))
	}
	total += ratioCount(prose, h.ratio(h.ProseRatio, defaultProseRatio))
	return total
}

// EstimateMessage implements Estimator.
func (h *Heuristic) EstimateMessage(msg state.Message) int {
	return messageCost(h.Estimate, msg)
}

// EstimateAll implements Estimator.
func (h *Heuristic) EstimateAll(messages []state.Message) int {
	return sumMessages(h.EstimateMessage, messages)
}

func (h *Heuristic) ratio(v, fallback float64) float64 {
	if v <= 0 {
		return fallback
	}
	return v
}

func ratioCount(s string, ratio float64) int {
	n := utf8.RuneCountInString(s)
	if n == 0 {
		return 0
	}
	return int(math.Ceil(float64(n) / ratio))
}

func messageCost(estimate func(string) int, msg state.Message) int {
	return MessageOverhead + estimate(msg.Text()) + msg.ImageCount()*ImageTokens
}

func sumMessages(estimate func(state.Message) int, messages []state.Message) int {
	total := 0
	for _, msg := range messages {
		total += estimate(msg)
	}
	return total
}

// New picks an estimator by name. "tiktoken" selects the BPE counter for the
// model and silently degrades to the heuristic when no codec is available.
func New(name, model string) Estimator {
	if strings.EqualFold(strings.TrimSpace(name), "tiktoken") {
		if bpe, err := NewBPE(model); err == nil {
			return bpe
		}
	}
	return NewHeuristic()
}
