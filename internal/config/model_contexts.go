package config

import (
	_ "embed"
	"encoding/json"
	"maps"
	"strings"
	"sync"

	"turnkit/internal/logging"
)

// DefaultContextLength is used for models missing from the embedded table.
const DefaultContextLength = 65536

//go:embed model-contexts.json
var modelContextsJSON []byte

// knownContexts maps lowercased "provider/model" to a window size.
var knownContexts = sync.OnceValue(func() map[string]int {
	table := map[string]int{}
	if err := json.Unmarshal(modelContextsJSON, &table); err != nil {
		logging.Component("config").WithError(err).Warn("model context table is unreadable")
	}
	return table
})

// GetModelContextLength returns the context window for provider/model.
// Routing variants such as "openai/gpt-4o:free" resolve to their base model.
// Anything else unknown gets DefaultContextLength.
func GetModelContextLength(provider, model string) int {
	table := knownContexts()
	key := strings.ToLower(strings.TrimSpace(provider)) + "/" + strings.ToLower(strings.TrimSpace(model))
	for {
		if n := table[key]; n > 0 {
			return n
		}
		base, _, variant := strings.Cut(key, ":")
		if !variant {
			return DefaultContextLength
		}
		key = base
	}
}

// GetAllModelContexts returns a copy of the embedded table.
func GetAllModelContexts() map[string]int {
	return maps.Clone(knownContexts())
}
