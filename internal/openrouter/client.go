// Package openrouter streams chat completions from OpenAI-compatible endpoints.
package openrouter

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"

	"turnkit/internal/llm"
	"turnkit/internal/logging"
)

const providerName = "openrouter"

// Client is a thin HTTP wrapper around the chat completions API.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	logger     *logrus.Entry
}

// NewClient wires together the dependencies for API access. The timeout
// bounds connection setup and headers; the body is bounded by ctx.
func NewClient(baseURL, apiKey string, timeout time.Duration, logger *logrus.Entry) *Client {
	if logger == nil {
		logger = logging.Component("openrouter")
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.ResponseHeaderTimeout = timeout
	return &Client{
		httpClient: &http.Client{Transport: transport},
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		logger:     logger,
	}
}

type wireMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type wireRequest struct {
	Model       string        `json:"model"`
	Messages    []wireMessage `json:"messages"`
	Stream      bool          `json:"stream"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature,omitempty"`
}

func buildPayload(req llm.Request) wireRequest {
	turns := req.Turns()
	msgs := make([]wireMessage, 0, len(turns))
	for _, m := range turns {
		msgs = append(msgs, wireMessage{Role: string(m.Role), Content: m.Text()})
	}
	return wireRequest{
		Model:       req.Model,
		Messages:    msgs,
		Stream:      true,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	}
}

// Stream posts a streaming completion request and returns its event stream.
func (c *Client) Stream(ctx context.Context, req llm.Request) (llm.Stream, error) {
	payload, err := json.Marshal(buildPayload(req))
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	httpReq.Header.Set("X-Title", "turnkit")

	c.logger.WithFields(logrus.Fields{"model": req.Model, "messages": len(req.Messages)}).Debug("sending streaming request")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	if resp.StatusCode >= 300 {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		return nil, providerError(resp.StatusCode, body)
	}
	return newSSEStream(resp.Body), nil
}

func providerError(status int, body []byte) *llm.ProviderError {
	errType, retryable := llm.ClassifyStatus(status)
	msg := gjson.GetBytes(body, "error.message").String()
	if msg == "" {
		msg = strings.TrimSpace(string(body))
	}
	if msg == "" {
		msg = http.StatusText(status)
	}
	code := gjson.GetBytes(body, "error.code").String()
	if code == "" {
		code = strconv.Itoa(status)
	}
	logging.ErrorLog("openrouter API error: %d - %s", status, msg)
	pe := llm.NewProviderError(providerName, errType, code, msg)
	pe.Retryable = retryable
	return pe
}

type sseStream struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
	done    bool
}

func newSSEStream(body io.ReadCloser) *sseStream {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64<<10), 1<<20)
	return &sseStream{body: body, scanner: scanner}
}

// Recv returns the next chunk. Comment lines, keep-alives and events without
// content are skipped.
func (s *sseStream) Recv() (llm.Chunk, error) {
	for !s.done && s.scanner.Scan() {
		line := strings.TrimSpace(s.scanner.Text())
		data, ok := strings.CutPrefix(line, "data:")
		if !ok {
			continue
		}
		data = strings.TrimSpace(data)
		if data == "[DONE]" {
			s.done = true
			break
		}
		if !gjson.Valid(data) {
			continue
		}
		event := gjson.Parse(data)
		if msg := event.Get("error.message"); msg.Exists() {
			return llm.Chunk{}, llm.NewProviderError(providerName, llm.ErrorTypeUnknown, event.Get("error.code").String(), msg.String())
		}
		choice := event.Get("choices.0")
		if text := choice.Get("delta.content").String(); text != "" {
			return llm.Chunk{Type: llm.TextDelta, TextDelta: text, FinishReason: choice.Get("finish_reason").String()}, nil
		}
		if reason := choice.Get("finish_reason").String(); reason != "" {
			return llm.Chunk{Type: "finish", FinishReason: reason}, nil
		}
	}
	if err := s.scanner.Err(); err != nil {
		return llm.Chunk{}, fmt.Errorf("read event stream: %w", err)
	}
	return llm.Chunk{}, io.EOF
}

func (s *sseStream) Close() error {
	return s.body.Close()
}

var _ llm.Client = (*Client)(nil)
