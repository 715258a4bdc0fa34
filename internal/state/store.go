package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"turnkit/internal/logging"
)

// ErrUnknownState is returned for keys the manager does not hold.
var ErrUnknownState = errors.New("unknown state")

const (
	recordExt     = ".json"
	sessionPrefix = "chat-"
)

var unsafeKeyChars = regexp.MustCompile(`[^a-zA-Z0-9_-]+`)

// Manager keeps named conversations, one JSON record per file under dir.
type Manager struct {
	mu       sync.RWMutex
	dir      string
	sessions map[string]*Conversation
	active   string
	logger   *logrus.Entry
}

// NewManager opens dir, creating it when missing, and loads every record in
// it. The most recently updated conversation becomes current.
func NewManager(dir string, logger *logrus.Entry) (*Manager, error) {
	if dir == "" {
		dir = "conversations"
	}
	if logger == nil {
		logger = logging.Component("state")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create conversation dir: %w", err)
	}
	m := &Manager{dir: dir, sessions: map[string]*Conversation{}, logger: logger}
	if err := m.load(); err != nil {
		return nil, err
	}
	return m, nil
}

// EnsureState returns the conversation for key, creating and persisting it
// when new. An empty key allocates the next chat-N name. The result becomes
// current.
func (m *Manager) EnsureState(key string) (*Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if key == "" {
		key = m.nextSessionKey()
	}
	conv, ok := m.sessions[key]
	if !ok {
		conv = NewConversation(key, nil)
		if err := m.write(conv); err != nil {
			return nil, err
		}
		m.sessions[key] = conv
	}
	m.active = key
	return conv, nil
}

// Use makes an existing conversation current.
func (m *Manager) Use(key string) (*Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	conv, err := m.lookup(key)
	if err != nil {
		return nil, err
	}
	m.active = key
	return conv, nil
}

func (m *Manager) CurrentKey() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.active
}

// ListKeys returns the stored keys in sorted order.
func (m *Manager) ListKeys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.sessions))
	for key := range m.sessions {
		keys = append(keys, key)
	}
	slices.Sort(keys)
	return keys
}

// Delete forgets key and removes its file.
func (m *Manager) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	conv, err := m.lookup(key)
	if err != nil {
		return err
	}
	if conv.file != "" {
		if err := os.Remove(conv.file); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("delete conversation %s: %w", key, err)
		}
	}
	delete(m.sessions, key)
	if m.active == key {
		m.active = ""
	}
	return nil
}

// Save persists conv, which must have been obtained from this manager.
func (m *Manager) Save(conv *Conversation) error {
	if conv == nil {
		return errors.New("save conversation: nil conversation")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, err := m.lookup(conv.key); err != nil {
		return err
	}
	return m.write(conv)
}

func (m *Manager) lookup(key string) (*Conversation, error) {
	conv, ok := m.sessions[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownState, key)
	}
	return conv, nil
}

func (m *Manager) load() error {
	paths, err := filepath.Glob(filepath.Join(m.dir, "*"+recordExt))
	if err != nil {
		return fmt.Errorf("list conversations: %w", err)
	}
	var newest time.Time
	for _, path := range paths {
		rec, err := readRecord(path)
		if err != nil {
			m.logger.WithError(err).Warnf("skip %s", path)
			continue
		}
		if rec.Key == "" {
			rec.Key = strings.TrimSuffix(filepath.Base(path), recordExt)
		}
		if rec.UpdatedAt.IsZero() {
			rec.UpdatedAt = rec.CreatedAt
		}
		m.sessions[rec.Key] = &Conversation{
			key:     rec.Key,
			msgs:    rec.Messages,
			file:    path,
			created: rec.CreatedAt,
			updated: rec.UpdatedAt,
		}
		if m.active == "" || rec.UpdatedAt.After(newest) {
			m.active, newest = rec.Key, rec.UpdatedAt
		}
	}
	if len(m.sessions) > 0 {
		m.logger.Debugf("loaded %d stored conversations", len(m.sessions))
	}
	return nil
}

// write replaces the conversation file through a temp file in the same dir.
func (m *Manager) write(conv *Conversation) error {
	if conv.file == "" {
		conv.file = filepath.Join(m.dir, fileName(conv.key))
	}
	data, err := json.MarshalIndent(record{
		Key:       conv.key,
		Messages:  conv.msgs,
		CreatedAt: conv.created,
		UpdatedAt: conv.updated,
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("encode conversation %s: %w", conv.key, err)
	}
	tmp, err := os.CreateTemp(m.dir, ".conv-*")
	if err != nil {
		return fmt.Errorf("write conversation %s: %w", conv.key, err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write conversation %s: %w", conv.key, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("write conversation %s: %w", conv.key, err)
	}
	if err := os.Rename(tmp.Name(), conv.file); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("replace conversation %s: %w", conv.key, err)
	}
	return nil
}

// nextSessionKey returns chat-N one past the highest N in use.
func (m *Manager) nextSessionKey() string {
	highest := 0
	for key := range m.sessions {
		if n, err := strconv.Atoi(strings.TrimPrefix(key, sessionPrefix)); err == nil && strings.HasPrefix(key, sessionPrefix) {
			highest = max(highest, n)
		}
	}
	return sessionPrefix + strconv.Itoa(highest+1)
}

func readRecord(path string) (record, error) {
	var rec record
	data, err := os.ReadFile(path)
	if err != nil {
		return rec, err
	}
	err = json.Unmarshal(data, &rec)
	return rec, err
}

func fileName(key string) string {
	name := strings.Trim(unsafeKeyChars.ReplaceAllString(strings.TrimSpace(key), "_"), "_-")
	if name == "" {
		name = "conversation"
	}
	return name + recordExt
}
