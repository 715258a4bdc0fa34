package openrouter

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"turnkit/internal/llm"
	"turnkit/internal/state"
)

func TestStreamParsesDeltas(t *testing.T) {
	var got wireRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &got))

		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, ": keep-alive\n\n")
		fmt.Fprint(w, `data: {"choices":[{"delta":{"role":"assistant"}}]}`+"\n\n")
		fmt.Fprint(w, `data: {"choices":[{"delta":{"content":"Hel"}}]}`+"\n\n")
		fmt.Fprint(w, `data: {"choices":[{"delta":{"content":"lo"},"finish_reason":null}]}`+"\n\n")
		fmt.Fprint(w, `data: {"choices":[{"delta":{},"finish_reason":"stop"}]}`+"\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	client := NewClient(srv.URL+"/", "key", 0, nil)
	out, err := llm.Collect(context.Background(), client, llm.Request{
		Model:    "openai/gpt-4o-mini",
		System:   "be brief",
		Messages: []state.Message{{Role: state.RoleUser, Content: "hi"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "Hello", out)

	assert.True(t, got.Stream)
	assert.Equal(t, "openai/gpt-4o-mini", got.Model)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "system", got.Messages[0].Role)
}

func TestStreamMapsHTTPErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"error":{"message":"rate limited","code":"429"}}`)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "", 0, nil)
	_, err := client.Stream(context.Background(), llm.Request{Prompt: "x"})
	pe, ok := llm.IsProviderError(err)
	require.True(t, ok)
	assert.Equal(t, llm.ErrorTypeRateLimit, pe.Type)
	assert.True(t, pe.Retryable)
	assert.Equal(t, "rate limited", pe.Message)
}

func TestStreamSurfacesInBandErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `data: {"error":{"message":"upstream failed"}}`+"\n\n")
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "", 0, nil)
	_, err := llm.Collect(context.Background(), client, llm.Request{Prompt: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "upstream failed")
}
