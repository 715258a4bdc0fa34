// Package mockclient provides a deterministic llm.Client for tests and offline use.
package mockclient

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"turnkit/internal/llm"
	"turnkit/internal/state"
)

// Reply scripts one call. Chunks are streamed in order; Err, when set, is
// returned by Stream; Delay is waited before every chunk.
type Reply struct {
	Chunks []string
	Err    error
	Delay  time.Duration
}

// Client replays scripted replies. When the script is exhausted it echoes the
// final user turn.
type Client struct {
	mu       sync.Mutex
	replies  []Reply
	requests []llm.Request
	prefix   string
}

// New returns a mock client that echoes the last user message.
func New(replies ...Reply) *Client {
	return &Client{replies: replies, prefix: "MOCK"}
}

// Text scripts a single text reply.
func Text(s string) Reply {
	return Reply{Chunks: []string{s}}
}

// Requests returns the requests received so far.
func (c *Client) Requests() []llm.Request {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]llm.Request(nil), c.requests...)
}

// Stream satisfies llm.Client.
func (c *Client) Stream(ctx context.Context, req llm.Request) (llm.Stream, error) {
	c.mu.Lock()
	c.requests = append(c.requests, req)
	var reply Reply
	if len(c.replies) > 0 {
		reply = c.replies[0]
		c.replies = c.replies[1:]
	} else {
		reply = Text(c.echo(req))
	}
	c.mu.Unlock()

	if reply.Err != nil {
		return nil, reply.Err
	}
	return &stream{ctx: ctx, chunks: reply.Chunks, delay: reply.Delay}, nil
}

func (c *Client) echo(req llm.Request) string {
	turns := req.Turns()
	for i := len(turns) - 1; i >= 0; i-- {
		if turns[i].Role == state.RoleUser {
			if last := strings.TrimSpace(turns[i].Text()); last != "" {
				return fmt.Sprintf("%s RESPONSE: %s", c.prefix, last)
			}
			break
		}
	}
	return fmt.Sprintf("%s RESPONSE", c.prefix)
}

type stream struct {
	ctx    context.Context
	chunks []string
	delay  time.Duration
}

func (s *stream) Recv() (llm.Chunk, error) {
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-s.ctx.Done():
			return llm.Chunk{}, s.ctx.Err()
		}
	}
	if err := s.ctx.Err(); err != nil {
		return llm.Chunk{}, err
	}
	if len(s.chunks) == 0 {
		return llm.Chunk{}, io.EOF
	}
	next := s.chunks[0]
	s.chunks = s.chunks[1:]
	return llm.Chunk{Type: llm.TextDelta, TextDelta: next}, nil
}

func (s *stream) Close() error { return nil }
