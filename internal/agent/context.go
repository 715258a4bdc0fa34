package agent

import (
	"turnkit/internal/filecontext"
	"turnkit/internal/state"
)

// Environment describes where an agent runs.
type Environment struct {
	Cwd          string   `json:"cwd"`
	Capabilities []string `json:"capabilities"`
	Constraints  []string `json:"constraints"`
}

// DefaultCapabilities lists what the execution sandbox offers.
var DefaultCapabilities = []string{
	"read and write files in the workspace",
	"generate and modify source code",
	"review code for defects",
	"validate output against the task",
}

// DefaultConstraints lists the sandbox limits.
var DefaultConstraints = []string{
	"no network access from generated code",
	"changes stay inside the workspace root",
	"steps run sequentially",
	"every run is bounded by a timeout",
}

// Context is the per-run working set. A running agent may append objectives
// and set metadata; a Context is never shared between runs.
type Context struct {
	Messages    []state.Message
	Files       filecontext.FileMap
	Environment Environment
	Objectives  []string
	Metadata    map[string]string
}

// NewContext copies messages and seeds the environment with the default lists.
func NewContext(messages []state.Message, files filecontext.FileMap, cwd string) *Context {
	return &Context{
		Messages: state.CloneAll(messages),
		Files:    files,
		Environment: Environment{
			Cwd:          cwd,
			Capabilities: append([]string(nil), DefaultCapabilities...),
			Constraints:  append([]string(nil), DefaultConstraints...),
		},
		Metadata: map[string]string{},
	}
}

// AddObjective appends an objective.
func (c *Context) AddObjective(objective string) {
	c.Objectives = append(c.Objectives, objective)
}

// Set stores a metadata value.
func (c *Context) Set(key, value string) {
	if c.Metadata == nil {
		c.Metadata = map[string]string{}
	}
	c.Metadata[key] = value
}

// Get reads a metadata value.
func (c *Context) Get(key string) string {
	return c.Metadata[key]
}

// Result is the terminal outcome of a run.
type Result struct {
	Success         bool     `json:"success"`
	Steps           []Step   `json:"steps"`
	FinalOutput     string   `json:"finalOutput"`
	Summary         string   `json:"summary"`
	Recommendations []string `json:"recommendations,omitempty"`
	NextActions     []string `json:"nextActions,omitempty"`
}
