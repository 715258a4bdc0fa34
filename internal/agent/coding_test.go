package agent

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"turnkit/internal/llm"
	"turnkit/internal/llm/mockclient"
	"turnkit/internal/prompts"
)

func newCodingAgent(t *testing.T, replies ...mockclient.Reply) (*CodingAgent, *mockclient.Client) {
	t.Helper()
	renderer, err := prompts.New()
	require.NoError(t, err)
	client := mockclient.New(replies...)
	task := Task{Type: TaskCreate, Description: "build a todo app", Requirements: []string{"Use React framework"}}
	return NewCodingAgent(client, renderer, llm.Model{Name: "mock-model"}, task, CallOptions{}), client
}

func TestCodingAgentFullRun(t *testing.T) {
	a, client := newCodingAgent(t,
		mockclient.Text("Needs a list component and storage."),
		mockclient.Reply{Chunks: []string{"code: write the list\n", "review: check the list\n", "ignored line"}},
		mockclient.Text("func List() {}"),
		mockclient.Text("looks good"),
		mockclient.Text("PASS all requirements met"),
	)

	rc := newRC()
	res := NewEngine(a, nil).Run(context.Background(), rc)

	require.True(t, res.Success, res.Summary)
	require.Len(t, res.Steps, 3)
	assert.Equal(t, StepCode, res.Steps[1].Type)
	assert.Equal(t, "write the list", res.Steps[1].Description)
	assert.Equal(t, "func List() {}", res.Steps[1].Output)
	assert.Equal(t, StepReview, res.Steps[2].Type)
	assert.Contains(t, rc.Objectives, "Use React framework")
	assert.Equal(t, "func List() {}\n\nlooks good", rc.Get(metaOutputs))

	reqs := client.Requests()
	require.Len(t, reqs, 5)
	assert.Contains(t, reqs[0].Prompt, "build a todo app")
	assert.Contains(t, reqs[1].Prompt, "Needs a list component")
	assert.Contains(t, reqs[3].Prompt, "func List() {}")
	assert.NotEmpty(t, reqs[0].System)
}

func TestCodingAgentAnalysisError(t *testing.T) {
	a, _ := newCodingAgent(t, mockclient.Reply{Err: errors.New("provider down")})
	res := NewEngine(a, nil).Run(context.Background(), newRC())
	assert.False(t, res.Success)
	require.Len(t, res.Steps, 1)
	assert.Equal(t, "provider down", res.Steps[0].Error)
}

func TestCodingAgentValidationFail(t *testing.T) {
	a, _ := newCodingAgent(t,
		mockclient.Text("analysis"),
		mockclient.Text("code: write it"),
		mockclient.Text("done"),
		mockclient.Text("FAIL missing storage"),
	)
	res := NewEngine(a, nil).Run(context.Background(), newRC())
	assert.False(t, res.Success)
	assert.Contains(t, res.Summary, "Validation failed")
}

func TestParsePlanFallback(t *testing.T) {
	a, _ := newCodingAgent(t, mockclient.Text("analysis"), mockclient.Text("no structured plan here"))
	rc := newRC()
	a.Analyze(context.Background(), rc)
	steps, err := a.Plan(context.Background(), rc)
	require.NoError(t, err)
	require.Len(t, steps, 2)
	assert.Equal(t, StepCode, steps[0].Type)
	assert.Equal(t, "build a todo app", steps[0].Description)
	assert.Equal(t, StepReview, steps[1].Type)
}

func TestParsePlan(t *testing.T) {
	steps := ParsePlan("1. code: add model\n- Fix: handle nil\nreview : read it\nplan: nope\nrandom text")
	require.Len(t, steps, 3)
	assert.Equal(t, StepCode, steps[0].Type)
	assert.Equal(t, "add model", steps[0].Description)
	assert.Equal(t, StepFix, steps[1].Type)
	assert.Equal(t, StepReview, steps[2].Type)
}
