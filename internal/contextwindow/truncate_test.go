package contextwindow

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"turnkit/internal/state"
	"turnkit/internal/tokens"
)

func chatHistory(n, size int) []state.Message {
	msgs := make([]state.Message, n)
	for i := range msgs {
		role := state.RoleUser
		if i%2 == 1 {
			role = state.RoleAssistant
		}
		msgs[i] = state.Message{Role: role, Content: fmt.Sprintf("%03d %s", i, strings.Repeat("x", size))}
	}
	return msgs
}

func TestTruncateNoRoomReturnsEmpty(t *testing.T) {
	tr := NewTruncator(nil, nil)
	got := tr.Truncate(chatHistory(3, 10), 1000, 800, 200)
	require.NotNil(t, got)
	assert.Empty(t, got)
	assert.Empty(t, tr.Truncate(chatHistory(3, 10), 1000, 900, 200))
}

func TestTruncateKeepsEverythingWhenItFits(t *testing.T) {
	tr := NewTruncator(nil, nil)
	msgs := chatHistory(5, 20)
	got := tr.Truncate(msgs, 100000, 0, 0)
	assert.Equal(t, msgs, got)
}

func TestTruncatePrefersRecentAndKeepsOrder(t *testing.T) {
	est := tokens.NewHeuristic()
	tr := NewTruncator(est, nil)
	msgs := chatHistory(40, 400)
	original := state.CloneAll(msgs)

	got := tr.Truncate(msgs, 2000, 0, 0)
	require.NotEmpty(t, got)
	assert.Equal(t, original, msgs, "input must not be modified")
	assert.LessOrEqual(t, est.EstimateAll(got), 2000)
	assert.LessOrEqual(t, est.EstimateAll(got), est.EstimateAll(msgs))

	last := got[len(got)-1]
	assert.Equal(t, msgs[len(msgs)-1].Content, last.Content)

	prev := -1
	for _, m := range got {
		var idx int
		_, err := fmt.Sscanf(m.Content, "%03d", &idx)
		require.NoError(t, err)
		assert.Greater(t, idx, prev)
		prev = idx
	}
}

func TestTruncateShortensOverflowingMessage(t *testing.T) {
	est := tokens.NewHeuristic()
	tr := NewTruncator(est, nil)
	msgs := []state.Message{
		{Role: state.RoleUser, Content: strings.Repeat("old ", 2000)},
		{Role: state.RoleAssistant, Content: "short answer"},
	}
	got := tr.Truncate(msgs, 600, 0, 0)
	require.Len(t, got, 2)
	assert.Contains(t, got[0].Content, TruncationMarker)
	assert.Equal(t, "short answer", got[1].Content)
	assert.LessOrEqual(t, est.EstimateAll(got), 600)
}

func TestTruncateDropsWhenRemainderTooSmall(t *testing.T) {
	tr := NewTruncator(nil, nil)
	msgs := []state.Message{
		{Role: state.RoleUser, Content: strings.Repeat("old ", 2000)},
		{Role: state.RoleAssistant, Content: strings.Repeat("y", 360)},
	}
	got := tr.Truncate(msgs, 150, 0, 0)
	require.Len(t, got, 1)
	assert.Equal(t, msgs[1].Content, got[0].Content)
}

func TestTruncateMessage(t *testing.T) {
	tr := NewTruncator(nil, nil)

	short := state.Message{Role: state.RoleUser, Content: "fits already"}
	got, ok := tr.TruncateMessage(short, 100)
	require.True(t, ok)
	assert.Equal(t, short, got)

	again, ok := tr.TruncateMessage(got, 100)
	require.True(t, ok)
	assert.Equal(t, got, again)

	long := state.Message{Role: state.RoleUser, Content: "BEGIN" + strings.Repeat("m", 5000) + "END"}
	cut, ok := tr.TruncateMessage(long, 100)
	require.True(t, ok)
	assert.True(t, strings.HasPrefix(cut.Content, "BEGIN"))
	assert.True(t, strings.HasSuffix(cut.Content, "END"))
	assert.Contains(t, cut.Content, TruncationMarker)
	assert.Equal(t, 2*140+len(TruncationMarker), len(cut.Content))

	_, ok = tr.TruncateMessage(long, 49)
	assert.False(t, ok)
}
