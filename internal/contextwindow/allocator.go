// Package contextwindow splits a model's context window across the pieces of a
// turn and cuts message history down to the share it was given.
package contextwindow

import (
	"errors"
	"fmt"
)

const (
	DefaultCompletionReserve = 8000
	DefaultSystemFloor       = 1000
	DefaultMessageShare      = 0.70
	DefaultSafetyFraction    = 0.80
)

// ErrContextLength reports that the system prompt alone exhausts the window.
var ErrContextLength = errors.New("context length exceeded")

// ContextLengthError carries the sizes behind an ErrContextLength failure.
type ContextLengthError struct {
	SystemTokens int
	ModelMax     int
	Limit        int
}

func (e *ContextLengthError) Error() string {
	return fmt.Sprintf("%s: system prompt needs %d tokens, limit is %d of %d", ErrContextLength, e.SystemTokens, e.Limit, e.ModelMax)
}

func (e *ContextLengthError) Unwrap() error { return ErrContextLength }

// Budget is the per-turn token allocation. TotalUsed is always the sum of the
// four components and CanFit is TotalUsed <= the model maximum.
type Budget struct {
	SystemTokens     int  `json:"system_tokens"`
	MessageTokens    int  `json:"message_tokens"`
	ContextTokens    int  `json:"context_tokens"`
	CompletionTokens int  `json:"completion_tokens"`
	TotalUsed        int  `json:"total_used"`
	CanFit           bool `json:"can_fit"`

	// requested sizes, kept to tell callers whether cuts are needed
	requestedMessages int
	requestedContext  int
}

// NeedsTruncation reports whether history or file context exceed their allotment.
func (b Budget) NeedsTruncation() bool {
	return b.requestedMessages > b.MessageTokens || b.requestedContext > b.ContextTokens
}

// Allocator holds the allocation policy. The zero value is not usable; start
// from NewAllocator and override fields from config.
type Allocator struct {
	CompletionReserve int
	SystemFloor       int
	MessageShare      float64
	SafetyFraction    float64
}

// NewAllocator returns the default policy: 8000 completion tokens, a 1000 token
// system floor, a 70/30 message/file split and an 80% system prompt ceiling.
func NewAllocator() *Allocator {
	return &Allocator{
		CompletionReserve: DefaultCompletionReserve,
		SystemFloor:       DefaultSystemFloor,
		MessageShare:      DefaultMessageShare,
		SafetyFraction:    DefaultSafetyFraction,
	}
}

// Allocate computes the budget for one turn.
func (a *Allocator) Allocate(modelMaxTokens, systemPromptSize, messagesSize, fileContextSize int) Budget {
	system := systemPromptSize
	if system < a.SystemFloor {
		system = a.SystemFloor
	}
	b := Budget{
		SystemTokens:      system,
		CompletionTokens:  a.CompletionReserve,
		requestedMessages: max(messagesSize, 0),
		requestedContext:  max(fileContextSize, 0),
	}

	available := modelMaxTokens - a.CompletionReserve - system
	if available > 0 {
		messageShare := int(float64(available) * a.MessageShare)
		contextShare := available - messageShare
		b.MessageTokens = min(b.requestedMessages, messageShare)
		b.ContextTokens = min(b.requestedContext, contextShare)
	}

	b.TotalUsed = b.SystemTokens + b.MessageTokens + b.ContextTokens + b.CompletionTokens
	b.CanFit = b.TotalUsed <= modelMaxTokens
	return b
}

// CheckSystemPrompt fails when the system prompt exceeds the safety fraction of
// the window. Nothing meaningful would remain for history, so no truncation is
// attempted in that case.
func (a *Allocator) CheckSystemPrompt(modelMaxTokens, systemTokens int) error {
	limit := int(float64(modelMaxTokens) * a.SafetyFraction)
	if systemTokens > limit {
		return &ContextLengthError{SystemTokens: systemTokens, ModelMax: modelMaxTokens, Limit: limit}
	}
	return nil
}
