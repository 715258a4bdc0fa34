package tokens

import (
	"strings"
	"sync"

	"github.com/tiktoken-go/tokenizer"

	"turnkit/internal/logging"
	"turnkit/internal/state"
)

// codecCache stores codec instances per model to avoid repeated initialization.
var codecCache sync.Map

// BPE counts tokens with a tiktoken encoding. Text the codec rejects is counted
// by the heuristic instead.
type BPE struct {
	codec    tokenizer.Codec
	fallback *Heuristic
}

// NewBPE returns a BPE estimator for the model.
func NewBPE(model string) (*BPE, error) {
	codec, err := codecFor(model)
	if err != nil {
		return nil, err
	}
	return &BPE{codec: codec, fallback: NewHeuristic()}, nil
}

func codecFor(model string) (tokenizer.Codec, error) {
	key := strings.ToLower(strings.TrimSpace(model))
	if cached, ok := codecCache.Load(key); ok {
		return cached.(tokenizer.Codec), nil
	}

	var enc tokenizer.Codec
	var err error
	switch {
	case strings.HasPrefix(key, "gpt-4o"), strings.HasPrefix(key, "gpt-4.1"):
		enc, err = tokenizer.ForModel(tokenizer.GPT4o)
	case strings.HasPrefix(key, "gpt-4"):
		enc, err = tokenizer.ForModel(tokenizer.GPT4)
	case strings.HasPrefix(key, "gpt-3.5"):
		enc, err = tokenizer.ForModel(tokenizer.GPT35Turbo)
	default:
		enc, err = tokenizer.Get(tokenizer.O200kBase)
	}
	if err != nil {
		return nil, err
	}

	actual, _ := codecCache.LoadOrStore(key, enc)
	return actual.(tokenizer.Codec), nil
}

// Estimate implements Estimator.
func (b *BPE) Estimate(text string) int {
	if text == "" {
		return 0
	}
	ids, _, err := b.codec.Encode(text)
	if err != nil {
		logging.DevLog("tiktoken encode failed, using heuristic: %v", err)
		return b.fallback.Estimate(text)
	}
	return len(ids)
}

// EstimateMessage implements Estimator.
func (b *BPE) EstimateMessage(msg state.Message) int {
	return messageCost(b.Estimate, msg)
}

// EstimateAll implements Estimator.
func (b *BPE) EstimateAll(messages []state.Message) int {
	return sumMessages(b.EstimateMessage, messages)
}
