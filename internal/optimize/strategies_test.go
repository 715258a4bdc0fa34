package optimize

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"turnkit/internal/state"
	"turnkit/internal/tokens"
)

func longHistoryWithSystemAt(n, systemIndex int) []state.Message {
	msgs := chatTurns(n, strings.Repeat("x", 2000))
	msgs[systemIndex] = state.Message{Role: state.RoleSystem, Content: "you are helpful"}
	return msgs
}

func TestRemoveOldKeepsSystemPrompt(t *testing.T) {
	opt := NewOptimizer(tokens.NewHeuristic())
	settings := DefaultSettings()

	for _, idx := range []int{0, 10, 25, 49} {
		msgs := longHistoryWithSystemAt(51, idx)
		out := opt.RemoveOldMessages(msgs, settings)

		require.NotEmpty(t, out)
		assert.Less(t, len(out), len(msgs))
		var rest []state.Message
		systems := 0
		for _, msg := range out {
			if msg.Role == state.RoleSystem {
				systems++
				continue
			}
			rest = append(rest, msg)
		}
		assert.Equal(t, 1, systems, "system message at %d", idx)
		assert.LessOrEqual(t, tokens.NewHeuristic().EstimateAll(rest), settings.MaxContextLength)
		assertSubsequence(t, msgs, out)
	}
}

func TestRemoveOldPreservesChronology(t *testing.T) {
	opt := NewOptimizer(tokens.NewHeuristic())
	msgs := longHistoryWithSystemAt(51, 49)

	out := opt.RemoveOldMessages(msgs, DefaultSettings())

	require.GreaterOrEqual(t, len(out), 3)
	assert.Equal(t, msgs[50], out[len(out)-1])
	assert.Equal(t, state.RoleSystem, out[len(out)-2].Role)
	assert.Equal(t, msgs[48], out[len(out)-3])
}

// assertSubsequence checks that got keeps the relative order of want.
func assertSubsequence(t *testing.T, want, got []state.Message) {
	t.Helper()
	j := 0
	for _, msg := range want {
		if j < len(got) && assert.ObjectsAreEqual(msg, got[j]) {
			j++
		}
	}
	assert.Equal(t, len(got), j, "output is not an ordered subset of the input")
}

func TestRemoveOldKeepsNewestOrOldest(t *testing.T) {
	opt := NewOptimizer(tokens.NewHeuristic())
	msgs := chatTurns(40, strings.Repeat("y", 2000))

	recent := opt.RemoveOldMessages(msgs, DefaultSettings())
	require.NotEmpty(t, recent)
	assert.Equal(t, msgs[len(msgs)-1].Content, recent[len(recent)-1].Content)

	settings := DefaultSettings()
	settings.PrioritizeRecent = false
	oldest := opt.RemoveOldMessages(msgs, settings)
	require.NotEmpty(t, oldest)
	assert.Equal(t, msgs[0].Content, oldest[0].Content)
	assert.Len(t, oldest, len(recent))
}

func TestRemoveOldWithinBudgetUnchanged(t *testing.T) {
	opt := NewOptimizer(nil)
	msgs := chatTurns(4, "small")
	assert.Equal(t, msgs, opt.RemoveOldMessages(msgs, DefaultSettings()))
}

func TestCompressOlderMessages(t *testing.T) {
	opt := NewOptimizer(nil)
	body := "look at this\n\n\n\n```go\nfunc main() {}\n```\n" + strings.Repeat("z", 400)
	msgs := chatTurns(10, body)
	original := state.CloneAll(msgs)

	out := opt.CompressMessages(msgs, DefaultSettings())

	require.Len(t, out, 10)
	for i := 0; i < 7; i++ {
		assert.Contains(t, out[i].Content, CodePlaceholder)
		assert.NotContains(t, out[i].Content, "\n\n\n")
		assert.True(t, strings.HasSuffix(out[i].Content, "..."))
		assert.LessOrEqual(t, len([]rune(out[i].Content)), 203)
	}
	for i := 7; i < 10; i++ {
		assert.Equal(t, msgs[i], out[i])
	}
	assert.Equal(t, original, msgs)
}

func TestCompressionLevels(t *testing.T) {
	opt := NewOptimizer(nil)
	msgs := chatTurns(10, strings.Repeat("q", 500))

	changed := func(out []state.Message) int {
		n := 0
		for i := range out {
			if out[i].Content != msgs[i].Content {
				n++
			}
		}
		return n
	}

	tests := []struct {
		level   CompressionLevel
		changed int
		maxLen  int
	}{
		{CompressionNone, 0, 0},
		{CompressionLight, 5, 203},
		{CompressionMedium, 7, 203},
		{CompressionAggressive, 9, 103},
	}
	for _, tt := range tests {
		t.Run(string(tt.level), func(t *testing.T) {
			s := DefaultSettings()
			s.CompressionLevel = tt.level
			out := opt.CompressMessages(msgs, s)
			assert.Equal(t, tt.changed, changed(out))
			if tt.changed > 0 {
				assert.LessOrEqual(t, len(out[0].Content), tt.maxLen)
			}
		})
	}
}

func TestCompressLeavesSystemMessages(t *testing.T) {
	opt := NewOptimizer(nil)
	sys := state.Message{Role: state.RoleSystem, Content: strings.Repeat("rule ", 100)}
	msgs := append([]state.Message{sys}, chatTurns(9, strings.Repeat("w", 300))...)

	out := opt.CompressMessages(msgs, DefaultSettings())
	assert.Equal(t, sys.Content, out[0].Content)

	s := DefaultSettings()
	s.KeepSystemPrompts = false
	out = opt.CompressMessages(msgs, s)
	assert.NotEqual(t, sys.Content, out[0].Content)
}

func TestSummarizeCollapsesOldestHalf(t *testing.T) {
	opt := NewOptimizer(nil)
	msgs := chatTurns(8, "turn")

	out := opt.SummarizeMessages(msgs, DefaultSettings())

	require.Len(t, out, 5)
	assert.Equal(t, state.RoleSystem, out[0].Role)
	assert.Contains(t, out[0].Content, "Summary of 4 earlier messages: 2 from user, 2 from assistant")
	assert.Equal(t, msgs[4:], out[1:])
}

func TestSummarizeShortHistoryUnchanged(t *testing.T) {
	opt := NewOptimizer(nil)
	msgs := chatTurns(2, "turn")
	assert.Equal(t, msgs, opt.SummarizeMessages(msgs, DefaultSettings()))
}

func TestResetKeepsSystemAndLastUser(t *testing.T) {
	opt := NewOptimizer(nil)
	msgs := append([]state.Message{{Role: state.RoleSystem, Content: "sys"}}, chatTurns(6, "turn")...)

	out := opt.ResetMessages(msgs, DefaultSettings())

	require.Len(t, out, 2)
	assert.Equal(t, "sys", out[0].Content)
	assert.Equal(t, "turn 4", out[1].Content)
}

func TestStrategiesAreSafeToReapply(t *testing.T) {
	opt := NewOptimizer(nil)
	msgs := longHistoryWithSystemAt(30, 3)
	original := state.CloneAll(msgs)
	settings := DefaultSettings()

	for _, kind := range []RecommendationType{RemoveOld, Compress, Summarize, Reset} {
		t.Run(string(kind), func(t *testing.T) {
			once, err := opt.Apply(kind, msgs, settings)
			require.NoError(t, err)
			twice, err := opt.Apply(kind, once, settings)
			require.NoError(t, err)
			assert.LessOrEqual(t, len(twice), len(msgs))
			assert.Equal(t, original, msgs)
		})
	}

	_, err := opt.Apply("bogus", msgs, settings)
	assert.Error(t, err)
}
