package agent

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"turnkit/internal/kvstore"
)

// HistoryKey is the kv store key holding finished runs.
const HistoryKey = "agent_history"

// DefaultHistoryLimit caps how many runs are kept.
const DefaultHistoryLimit = 50

// HistoryEntry records one finished run.
type HistoryEntry struct {
	ID         string    `json:"id"`
	TaskType   TaskType  `json:"taskType"`
	Task       string    `json:"task"`
	Success    bool      `json:"success"`
	Summary    string    `json:"summary"`
	Steps      int       `json:"steps"`
	DurationMS int64     `json:"durationMs"`
	Error      string    `json:"error,omitempty"`
	FinishedAt time.Time `json:"finishedAt"`
}

// History persists run records as a JSON list.
type History struct {
	mu    sync.Mutex
	store kvstore.Store
	limit int
}

// NewHistory returns a history over store.
func NewHistory(store kvstore.Store) *History {
	return &History{store: store, limit: DefaultHistoryLimit}
}

// Append adds an entry, dropping the oldest beyond the limit.
func (h *History) Append(entry HistoryEntry) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	entries, err := h.load()
	if err != nil {
		return err
	}
	entries = append(entries, entry)
	if len(entries) > h.limit {
		entries = entries[len(entries)-h.limit:]
	}
	data, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("marshal agent history: %w", err)
	}
	return h.store.Set(HistoryKey, string(data))
}

// List returns entries newest first.
func (h *History) List() ([]HistoryEntry, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	entries, err := h.load()
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	return entries, nil
}

func (h *History) load() ([]HistoryEntry, error) {
	raw, ok, err := h.store.Get(HistoryKey)
	if err != nil {
		return nil, fmt.Errorf("load agent history: %w", err)
	}
	if !ok || raw == "" {
		return []HistoryEntry{}, nil
	}
	var entries []HistoryEntry
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		return nil, fmt.Errorf("parse agent history: %w", err)
	}
	return entries, nil
}
