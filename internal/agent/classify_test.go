package agent

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"turnkit/internal/state"
)

func TestClassifierIsComplex(t *testing.T) {
	c := NewClassifier()
	tests := []struct {
		name string
		text string
		want bool
	}{
		{"full application phrasing", "Build a full application with authentication and database integration, production ready", true},
		{"multi-step phrasing", "Walk me through this step by step", true},
		{"multi-file phrasing", "Split the handler into multiple files", true},
		{"quality phrasing", "Make this scalable", true},
		{"simple question", "What does this function return?", false},
		{"empty", "   ", false},
		{
			"long compound request",
			strings.Repeat("please look at the code ", 7) + "and tell me what you think about it",
			true,
		},
		{"long without conjunction", strings.Repeat("word ", 40), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, c.IsComplex(tt.text))
		})
	}
}

func TestClassifierScoreNamesRules(t *testing.T) {
	score, names := NewClassifier().Score("Build a full application with authentication and database integration, production ready")
	assert.GreaterOrEqual(t, score, 3)
	assert.Contains(t, names, "full-application")
	assert.Contains(t, names, "quality")
	assert.Contains(t, names, "compound-technical")
}

func TestClassifyTaskType(t *testing.T) {
	tests := []struct {
		text string
		want TaskType
	}{
		{"fix the crash in the parser", TaskDebug},
		{"I get an error when saving", TaskDebug},
		{"refactor the storage layer", TaskRefactor},
		{"write unit tests for the cache", TaskTest},
		{"update the header component", TaskModify},
		{"build a todo app", TaskCreate},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ClassifyTaskType(tt.text), tt.text)
	}
}

func TestExtractRequirementsAndConstraints(t *testing.T) {
	text := "Create a React dashboard. It must support dark mode, and ensure that charts load lazily. Do not use jQuery. Keep it accessible."

	reqs := ExtractRequirements(text)
	assert.Contains(t, reqs, "support dark mode")
	assert.Contains(t, reqs, "charts load lazily")
	assert.Contains(t, reqs, "Use React framework")

	cons := ExtractConstraints(text)
	assert.Contains(t, cons, "Avoid: use jQuery")
	assert.Contains(t, cons, "Follow accessibility guidelines")
}

func TestExtractConstraintsLabelsLimits(t *testing.T) {
	cons := ExtractConstraints("Only use Tailwind for styling, and never inline styles")
	assert.Contains(t, cons, "Limit: Tailwind for styling")
	assert.Contains(t, cons, "Avoid: inline styles")
	assert.NotContains(t, cons, "Avoid: Tailwind for styling")
}

func TestExtractRequirementsGoKeyword(t *testing.T) {
	tests := []struct {
		text string
		want bool
	}{
		{"Let's go ahead and build a page", false},
		{"Go to the settings screen and add a toggle", false},
		{"Write a CLI in Go that tails logs", true},
		{"Port the golang worker", true},
		{"Add a Go service for billing", true},
	}
	for _, tt := range tests {
		reqs := ExtractRequirements(tt.text)
		if tt.want {
			assert.Contains(t, reqs, "Use Go", tt.text)
		} else {
			assert.NotContains(t, reqs, "Use Go", tt.text)
		}
	}
}

func TestExtractNeverFails(t *testing.T) {
	assert.Equal(t, []string{}, ExtractRequirements(""))
	assert.Equal(t, []string{}, ExtractConstraints("hello there"))
}

func TestLastUserText(t *testing.T) {
	msgs := []state.Message{
		{Role: state.RoleUser, Content: "first"},
		{Role: state.RoleAssistant, Content: "reply"},
		{Role: state.RoleUser, Content: "second"},
		{Role: state.RoleAssistant, Content: "reply"},
	}
	assert.Equal(t, "second", LastUserText(msgs))
	assert.Equal(t, "", LastUserText(nil))
}
