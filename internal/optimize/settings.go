package optimize

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"turnkit/internal/kvstore"
	"turnkit/internal/logging"
)

// SettingsKey is the kv store key holding the serialized settings.
const SettingsKey = "optimization_settings"

// CompressionLevel controls how much of the history the compress strategy touches.
type CompressionLevel string

const (
	CompressionNone       CompressionLevel = "none"
	CompressionLight      CompressionLevel = "light"
	CompressionMedium     CompressionLevel = "medium"
	CompressionAggressive CompressionLevel = "aggressive"
)

// Settings are the user-tunable optimization preferences.
type Settings struct {
	AutoOptimize      bool             `json:"autoOptimize"`
	MaxContextLength  int              `json:"maxContextLength"`
	PrioritizeRecent  bool             `json:"prioritizeRecent"`
	KeepSystemPrompts bool             `json:"keepSystemPrompts"`
	CompressionLevel  CompressionLevel `json:"compressionLevel"`
}

// DefaultSettings returns the settings used before anything was persisted.
func DefaultSettings() Settings {
	return Settings{
		AutoOptimize:      false,
		MaxContextLength:  8000,
		PrioritizeRecent:  true,
		KeepSystemPrompts: true,
		CompressionLevel:  CompressionMedium,
	}
}

// Validate rejects settings that the strategies cannot work with.
func (s Settings) Validate() error {
	if s.MaxContextLength <= 0 {
		return fmt.Errorf("maxContextLength must be positive (got %d)", s.MaxContextLength)
	}
	switch s.CompressionLevel {
	case CompressionNone, CompressionLight, CompressionMedium, CompressionAggressive:
	default:
		return fmt.Errorf("unknown compression level %q", s.CompressionLevel)
	}
	return nil
}

// LoadSettings reads settings from the store. Missing keys yield defaults;
// stored values are merged over the defaults so new fields keep sane values.
func LoadSettings(store kvstore.Store) (Settings, error) {
	s := DefaultSettings()
	raw, ok, err := store.Get(SettingsKey)
	if err != nil {
		return s, fmt.Errorf("load optimization settings: %w", err)
	}
	if !ok {
		return s, nil
	}
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return DefaultSettings(), fmt.Errorf("parse optimization settings: %w", err)
	}
	if err := s.Validate(); err != nil {
		return DefaultSettings(), err
	}
	return s, nil
}

// SaveSettings writes settings to the store.
func SaveSettings(store kvstore.Store, s Settings) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal optimization settings: %w", err)
	}
	return store.Set(SettingsKey, string(data))
}

// Controller owns the process-wide optimization state: the settings and the
// most recent analysis. Update is the only writer path for settings.
type Controller struct {
	mu           sync.RWMutex
	store        kvstore.Store
	settings     Settings
	lastAnalysis *Analysis
	logger       *logrus.Entry
}

// NewController loads settings from store. A corrupt value is logged and
// replaced by defaults rather than failing startup.
func NewController(store kvstore.Store, logger *logrus.Entry) *Controller {
	if store == nil {
		store = kvstore.NewMemory()
	}
	if logger == nil {
		logger = logging.Component("optimize")
	}
	s, err := LoadSettings(store)
	if err != nil {
		logger.WithError(err).Warn("using default optimization settings")
	}
	return &Controller{store: store, settings: s, logger: logger}
}

// Settings returns a snapshot of the current settings.
func (c *Controller) Settings() Settings {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.settings
}

// Update applies fn to a copy of the settings, validates and persists the
// result, and only then makes it current.
func (c *Controller) Update(fn func(*Settings)) (Settings, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	next := c.settings
	fn(&next)
	if err := next.Validate(); err != nil {
		return c.settings, err
	}
	if err := SaveSettings(c.store, next); err != nil {
		return c.settings, err
	}
	c.settings = next
	c.logger.WithField("settings", fmt.Sprintf("%+v", next)).Debug("optimization settings updated")
	return next, nil
}

// Reset restores default settings and clears the cached analysis.
func (c *Controller) Reset() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	defaults := DefaultSettings()
	if err := SaveSettings(c.store, defaults); err != nil {
		return err
	}
	c.settings = defaults
	c.lastAnalysis = nil
	return nil
}

// LastAnalysis returns the cached analysis, or nil when none was recorded.
func (c *Controller) LastAnalysis() *Analysis {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.lastAnalysis == nil {
		return nil
	}
	cp := *c.lastAnalysis
	cp.Recommendations = append([]Recommendation(nil), c.lastAnalysis.Recommendations...)
	return &cp
}

// SetLastAnalysis caches an analysis until the next one or a Reset.
func (c *Controller) SetLastAnalysis(a Analysis) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastAnalysis = &a
}
