package contextwindow

import (
	"github.com/sirupsen/logrus"

	"turnkit/internal/logging"
	"turnkit/internal/state"
	"turnkit/internal/tokens"
)

const (
	// DefaultMinRemaining is the leftover budget below which the overflowing
	// message is dropped instead of shortened.
	DefaultMinRemaining = 100
	// DefaultMinMessageTokens is the smallest target a single message is cut to.
	DefaultMinMessageTokens = 50
	// TruncationMarker replaces the removed middle of a shortened message.
	TruncationMarker = "\n\n[... content truncated to fit context window ...]\n\n"

	charsPerToken = 3.5
	keepFraction  = 0.4
)

// Truncator selects and shortens history so it fits a token budget.
type Truncator struct {
	estimator        tokens.Estimator
	logger           *logrus.Entry
	MinRemaining     int
	MinMessageTokens int
}

// NewTruncator builds a truncator around an estimator.
func NewTruncator(est tokens.Estimator, logger *logrus.Entry) *Truncator {
	if est == nil {
		est = tokens.NewHeuristic()
	}
	if logger == nil {
		logger = logging.Component("truncator")
	}
	return &Truncator{
		estimator:        est,
		logger:           logger,
		MinRemaining:     DefaultMinRemaining,
		MinMessageTokens: DefaultMinMessageTokens,
	}
}

// Truncate keeps the most recent messages that fit in
// maxTokens - systemPromptTokens - reservedTokens. The first message that does
// not fit is shortened when enough budget remains; older messages are dropped.
// The result is a new slice in chronological order; the input is not modified.
func (t *Truncator) Truncate(messages []state.Message, maxTokens, systemPromptTokens, reservedTokens int) []state.Message {
	available := maxTokens - systemPromptTokens - reservedTokens
	if available <= 0 {
		t.logger.WithFields(logrus.Fields{
			"max_tokens":    maxTokens,
			"system_tokens": systemPromptTokens,
			"reserved":      reservedTokens,
		}).Warn("no room left for message history")
		return []state.Message{}
	}

	kept := make([]state.Message, 0, len(messages))
	used := 0
	for i := len(messages) - 1; i >= 0; i-- {
		msg := messages[i]
		cost := t.estimator.EstimateMessage(msg)
		if used+cost <= available {
			kept = append(kept, msg.Clone())
			used += cost
			continue
		}
		remaining := available - used
		if remaining > t.MinRemaining {
			if cut, ok := t.fitMessage(msg, remaining); ok {
				kept = append(kept, cut)
				used += t.estimator.EstimateMessage(cut)
			}
		}
		t.logger.Debugf("history truncated: kept %d of %d messages (%d/%d tokens)", len(kept), len(messages), used, available)
		break
	}

	for i, j := 0, len(kept)-1; i < j; i, j = i+1, j-1 {
		kept[i], kept[j] = kept[j], kept[i]
	}
	return kept
}

// fitMessage shortens msg until its estimate fits in budget, giving up once the
// target drops under the minimum message size.
func (t *Truncator) fitMessage(msg state.Message, budget int) (state.Message, bool) {
	target := budget - tokens.MessageOverhead
	for target >= t.MinMessageTokens {
		cut, ok := t.TruncateMessage(msg, target)
		if !ok {
			return state.Message{}, false
		}
		cost := t.estimator.EstimateMessage(cut)
		if cost <= budget {
			return cut, true
		}
		target -= cost - budget
	}
	return state.Message{}, false
}

// TruncateMessage shortens a single message to about maxTokens. The first and
// last 40% of the target length are kept around TruncationMarker. A message that
// already fits is returned unchanged. ok is false when maxTokens is below the
// minimum message size, meaning the message should be dropped.
func (t *Truncator) TruncateMessage(msg state.Message, maxTokens int) (state.Message, bool) {
	if maxTokens < t.MinMessageTokens {
		return state.Message{}, false
	}
	targetChars := int(float64(maxTokens) * charsPerToken)
	runes := []rune(msg.Text())
	if len(runes) <= targetChars {
		return msg.Clone(), true
	}
	keep := int(float64(targetChars) * keepFraction)
	head := string(runes[:keep])
	tail := string(runes[len(runes)-keep:])
	return msg.WithText(head + TruncationMarker + tail), true
}
