package main

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"turnkit/internal/optimize"
	"turnkit/internal/state"
)

func newTestSession(t *testing.T) (*chatSession, *bytes.Buffer) {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("TURNKIT_CONFIG_DIR", dir)
	t.Setenv("TURNKIT_CONFIG_PATH", "")
	t.Setenv("TURNKIT_MOCK_LLM", "")

	a, err := newApp(&globalFlags{mock: true, workspace: dir})
	require.NoError(t, err)
	t.Cleanup(a.Close)

	var buf bytes.Buffer
	a.out = &renderer{w: &buf}
	client, err := a.llmClient()
	require.NoError(t, err)
	s, err := newChatSession(a, client, nil, "")
	require.NoError(t, err)
	return s, &buf
}

func runScript(t *testing.T, s *chatSession, script string) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, s.runLines(ctx, cancel, strings.NewReader(script)))
}

func TestChatPersistsTurns(t *testing.T) {
	s, out := newTestSession(t)
	runScript(t, s, "hello there\n:sessions\n:quit\n")

	assert.Contains(t, out.String(), "MOCK RESPONSE: hello there")
	assert.Contains(t, out.String(), "* 1) chat-1")

	msgs := s.conv.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, state.RoleUser, msgs[0].Role)
	assert.Equal(t, "MOCK RESPONSE: hello there", msgs[1].Content)

	reloaded, err := state.NewManager(s.app.cfg.ConversationDir, nil)
	require.NoError(t, err)
	conv, err := reloaded.Use("chat-1")
	require.NoError(t, err)
	assert.Equal(t, 2, conv.Len())
}

func TestChatOptimizeRewritesHistory(t *testing.T) {
	s, out := newTestSession(t)
	runScript(t, s, "one\ntwo\nthree\n:optimize reset\n")

	msgs := s.conv.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "three", msgs[0].Content)
	assert.Contains(t, out.String(), "Applied reset: 6 -> 1 messages")
}

func TestChatSettingsCommand(t *testing.T) {
	s, out := newTestSession(t)
	runScript(t, s, ":settings compressionLevel aggressive\n:settings compressionLevel enormous\n")

	assert.Equal(t, optimize.CompressionAggressive, s.app.settings.Settings().CompressionLevel)
	assert.Contains(t, out.String(), `Error: unknown compression level "enormous"`)
}

func TestChatSessionCommands(t *testing.T) {
	s, out := newTestSession(t)
	runScript(t, s, ":new scratch\n:drop scratch\n:use chat-1\n:drop scratch\n:bogus\n")

	text := out.String()
	assert.Contains(t, text, "Started scratch.")
	assert.Contains(t, text, "Cannot drop the active conversation")
	assert.Contains(t, text, "Switched to chat-1")
	assert.Contains(t, text, "Dropped scratch.")
	assert.Contains(t, text, "Unknown command :bogus")
	assert.Equal(t, []string{"chat-1"}, s.states.ListKeys())
}
