// Package llm defines the provider-agnostic model-call interface.
package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"turnkit/internal/state"
)

// TextDelta is the chunk type carrying incremental response text.
const TextDelta = "text-delta"

// Chunk is one event from a response stream. Only TextDelta chunks carry text
// that belongs in the final answer.
type Chunk struct {
	Type         string
	TextDelta    string
	FinishReason string
}

// Stream yields chunks until Recv returns io.EOF.
type Stream interface {
	Recv() (Chunk, error)
	Close() error
}

// Request is a chat call. Prompt, when set, is appended as a final user message.
type Request struct {
	Model       string
	System      string
	Messages    []state.Message
	Prompt      string
	MaxTokens   int
	Temperature float64
}

// Turns returns the full message list sent to the provider.
func (r Request) Turns() []state.Message {
	out := make([]state.Message, 0, len(r.Messages)+2)
	if strings.TrimSpace(r.System) != "" {
		out = append(out, state.Message{Role: state.RoleSystem, Content: r.System})
	}
	out = append(out, state.CloneAll(r.Messages)...)
	if strings.TrimSpace(r.Prompt) != "" {
		out = append(out, state.Message{Role: state.RoleUser, Content: r.Prompt})
	}
	return out
}

// Client represents a provider that streams chat completions. Implementations
// must stop the underlying request when ctx is cancelled.
type Client interface {
	Stream(ctx context.Context, req Request) (Stream, error)
}

// Model describes the fields of a model the core reads.
type Model struct {
	Name            string
	Provider        string
	MaxTokenAllowed int
}

// Collect drains a stream and concatenates its text deltas.
func Collect(ctx context.Context, client Client, req Request) (string, error) {
	stream, err := client.Stream(ctx, req)
	if err != nil {
		return "", err
	}
	defer stream.Close()

	var b strings.Builder
	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return b.String(), nil
		}
		if err != nil {
			return b.String(), fmt.Errorf("read stream: %w", err)
		}
		if chunk.Type == TextDelta {
			b.WriteString(chunk.TextDelta)
		}
		if err := ctx.Err(); err != nil {
			return b.String(), err
		}
	}
}
