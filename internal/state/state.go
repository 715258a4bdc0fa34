// Package state holds chat messages and the conversations they belong to.
package state

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"
)

// Role identifies the author of a message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// PartType tags an entry of structured content.
type PartType string

const (
	PartText  PartType = "text"
	PartCode  PartType = "code"
	PartImage PartType = "image"
)

// ContentPart is one element of structured message content.
type ContentPart struct {
	Type     PartType `json:"type"`
	Text     string   `json:"text,omitempty"`
	Language string   `json:"language,omitempty"`
	ImageURL string   `json:"image_url,omitempty"`
}

// Message is a single conversation entry. Content carries plain text; Parts, when
// present, carries structured content and takes precedence over Content.
type Message struct {
	Role    Role          `json:"role"`
	Content string        `json:"content,omitempty"`
	Parts   []ContentPart `json:"parts,omitempty"`
}

// Text returns the textual projection of the message. Code parts are fenced so
// that estimators and strategies see them as code blocks.
func (m Message) Text() string {
	if len(m.Parts) == 0 {
		return m.Content
	}
	var b strings.Builder
	for i, part := range m.Parts {
		if i > 0 {
			b.WriteString("\n")
		}
		switch part.Type {
		case PartCode:
			b.WriteString("```" + part.Language + "\n" + part.Text + "\n```")
		case PartImage:
			// images have no textual projection
		default:
			b.WriteString(part.Text)
		}
	}
	return b.String()
}

// ImageCount reports how many image parts the message carries.
func (m Message) ImageCount() int {
	n := 0
	for _, part := range m.Parts {
		if part.Type == PartImage {
			n++
		}
	}
	return n
}

// WithText returns a copy of the message whose content is replaced by plain text.
func (m Message) WithText(text string) Message {
	return Message{Role: m.Role, Content: text}
}

// Clone deep-copies the message so derived histories never alias the original.
func (m Message) Clone() Message {
	out := m
	if len(m.Parts) > 0 {
		out.Parts = make([]ContentPart, len(m.Parts))
		copy(out.Parts, m.Parts)
	}
	return out
}

// CloneAll deep-copies a message slice.
func CloneAll(messages []Message) []Message {
	out := make([]Message, len(messages))
	for i, msg := range messages {
		out[i] = msg.Clone()
	}
	return out
}

// Conversation is a named message history. Histories handed out are copies;
// only Append and ReplaceMessages change it.
type Conversation struct {
	key     string
	msgs    []Message
	file    string
	created time.Time
	updated time.Time
}

// NewConversation builds a conversation that is not backed by a file.
func NewConversation(key string, messages []Message) *Conversation {
	now := time.Now()
	return &Conversation{key: key, msgs: CloneAll(messages), created: now, updated: now}
}

func (c *Conversation) Key() string { return c.key }

// Messages returns a deep copy of the history.
func (c *Conversation) Messages() []Message { return CloneAll(c.msgs) }

func (c *Conversation) Len() int { return len(c.msgs) }

// Append adds msg to the end of the history.
func (c *Conversation) Append(msg Message) {
	c.msgs = append(c.msgs, msg.Clone())
	c.updated = time.Now()
}

// ReplaceMessages swaps the whole history, as done by explicit optimization.
func (c *Conversation) ReplaceMessages(messages []Message) {
	c.msgs = CloneAll(messages)
	c.updated = time.Now()
}

func (c *Conversation) UpdatedAt() time.Time { return c.updated }

// record is the on-disk form of a conversation.
type record struct {
	Key       string    `json:"key"`
	Messages  []Message `json:"messages"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// LoadMessagesFile reads a conversation export from disk.
func LoadMessagesFile(path string) ([]Message, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read messages: %w", err)
	}
	return ParseMessages(data)
}

// ParseMessages decodes a conversation export. Both the stored record and a
// bare message array are accepted.
func ParseMessages(data []byte) ([]Message, error) {
	if strings.HasPrefix(strings.TrimSpace(string(data)), "[") {
		var msgs []Message
		if err := json.Unmarshal(data, &msgs); err != nil {
			return nil, fmt.Errorf("parse messages: %w", err)
		}
		return msgs, nil
	}
	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("parse messages: %w", err)
	}
	return rec.Messages, nil
}
