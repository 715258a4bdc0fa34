// Package prompts renders the built-in prompt templates.
package prompts

import (
	"bytes"
	"embed"
	"fmt"
	"path"
	"sort"
	"strings"
	"sync"
	"text/template"
)

// Prompt identifiers.
const (
	System        = "system"
	AgentAnalyze  = "agent-analyze"
	AgentPlan     = "agent-plan"
	AgentExecute  = "agent-execute"
	AgentValidate = "agent-validate"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

// Options carries every value a template may reference. Unused fields are ignored.
type Options struct {
	Model        string
	Environment  string
	Custom       string
	TaskType     string
	Task         string
	Requirements []string
	Constraints  []string
	Analysis     string
	StepID       string
	StepType     string
	Step         string
	Previous     string
	Output       string
}

// Renderer is the narrow interface consumers depend on.
type Renderer interface {
	Render(id string, opts Options) (string, error)
}

// Provider renders embedded templates. Environment metadata set through
// SetMetadata is injected into the system prompt when opts leave it empty.
type Provider struct {
	templates *template.Template

	mu       sync.RWMutex
	metadata string
}

var (
	defaultOnce     sync.Once
	defaultProvider *Provider
	defaultErr      error
)

// Default returns the shared provider, parsing templates on first use.
func Default() (*Provider, error) {
	defaultOnce.Do(func() {
		defaultProvider, defaultErr = New()
	})
	return defaultProvider, defaultErr
}

// New parses the embedded templates.
func New() (*Provider, error) {
	tmpl, err := template.New("prompts").Option("missingkey=error").ParseFS(templateFS, "templates/*.tmpl")
	if err != nil {
		return nil, fmt.Errorf("parse prompt templates: %w", err)
	}
	return &Provider{templates: tmpl}, nil
}

// IDs lists the available prompt ids.
func (p *Provider) IDs() []string {
	var ids []string
	for _, t := range p.templates.Templates() {
		if name := t.Name(); strings.HasSuffix(name, ".tmpl") {
			ids = append(ids, strings.TrimSuffix(path.Base(name), ".tmpl"))
		}
	}
	sort.Strings(ids)
	return ids
}

// Render executes the template named id.
func (p *Provider) Render(id string, opts Options) (string, error) {
	tmpl := p.templates.Lookup(id + ".tmpl")
	if tmpl == nil {
		return "", fmt.Errorf("unknown prompt %q", id)
	}
	if opts.Environment == "" {
		opts.Environment = p.Metadata()
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, opts); err != nil {
		return "", fmt.Errorf("render prompt %s: %w", id, err)
	}
	return strings.TrimSpace(buf.String()), nil
}

// SetMetadata defines the environment metadata appended to the system prompt.
func (p *Provider) SetMetadata(info string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.metadata = strings.TrimSpace(info)
}

// Metadata returns the current environment metadata.
func (p *Provider) Metadata() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.metadata
}
