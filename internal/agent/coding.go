package agent

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"turnkit/internal/llm"
	"turnkit/internal/prompts"
)

// Task is the classified request an agent works on.
type Task struct {
	Type         TaskType `json:"type"`
	Description  string   `json:"description"`
	Requirements []string `json:"requirements"`
	Constraints  []string `json:"constraints"`
}

const (
	metaAnalysis = "analysis"
	metaOutputs  = "outputs"
)

var planLineRe = regexp.MustCompile(`^\s*(?:[-*]|\d+[.)])?\s*([a-zA-Z]+)\s*:\s*(.+?)\s*$`)

// CodingAgent drives each phase through one model call.
type CodingAgent struct {
	Base
	client  llm.Client
	prompts prompts.Renderer
	model   llm.Model
	task    Task
	opts    CallOptions
}

// CallOptions tunes the model calls made by CodingAgent.
type CallOptions struct {
	MaxTokens   int
	Temperature float64
}

// NewCodingAgent builds an agent for task.
func NewCodingAgent(client llm.Client, renderer prompts.Renderer, model llm.Model, task Task, opts CallOptions) *CodingAgent {
	return &CodingAgent{client: client, prompts: renderer, model: model, task: task, opts: opts}
}

func (a *CodingAgent) call(ctx context.Context, id string, opts prompts.Options) (string, error) {
	opts.TaskType = string(a.task.Type)
	opts.Task = a.task.Description
	text, err := a.prompts.Render(id, opts)
	if err != nil {
		return "", err
	}
	system, err := a.prompts.Render(prompts.System, prompts.Options{Model: a.model.Name})
	if err != nil {
		return "", err
	}
	out, err := llm.Collect(ctx, a.client, llm.Request{
		Model:       a.model.Name,
		System:      system,
		Prompt:      text,
		MaxTokens:   a.opts.MaxTokens,
		Temperature: a.opts.Temperature,
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// Analyze implements Agent.
func (a *CodingAgent) Analyze(ctx context.Context, rc *Context) Step {
	step := Step{ID: "analyze", Type: StepAnalyze, Description: "Analyze the task", Input: a.task.Description}
	out, err := a.call(ctx, prompts.AgentAnalyze, prompts.Options{
		Requirements: a.task.Requirements,
		Constraints:  a.task.Constraints,
	})
	if err != nil {
		step.Status = StatusFailed
		step.Error = err.Error()
		return step
	}
	if out == "" {
		step.Status = StatusFailed
		step.Error = "empty analysis"
		return step
	}
	step.Status = StatusCompleted
	step.Output = out
	rc.Set(metaAnalysis, out)
	for _, r := range a.task.Requirements {
		rc.AddObjective(r)
	}
	return step
}

// Plan implements Agent. Lines of the form "type: description" become steps;
// an unparseable plan becomes a single code step followed by a review.
func (a *CodingAgent) Plan(ctx context.Context, rc *Context) ([]Step, error) {
	out, err := a.call(ctx, prompts.AgentPlan, prompts.Options{Analysis: rc.Get(metaAnalysis)})
	if err != nil {
		return nil, fmt.Errorf("plan: %w", err)
	}
	steps := ParsePlan(out)
	if len(steps) == 0 {
		steps = []Step{
			{Type: StepCode, Description: a.task.Description},
			{Type: StepReview, Description: "Review the changes"},
		}
	}
	return steps, nil
}

// ParsePlan extracts steps from a plan reply.
func ParsePlan(text string) []Step {
	var steps []Step
	for _, line := range strings.Split(text, "\n") {
		m := planLineRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		kind := StepType(strings.ToLower(m[1]))
		switch kind {
		case StepCode, StepReview, StepValidate, StepFix:
		default:
			continue
		}
		steps = append(steps, Step{Type: kind, Description: m[2]})
	}
	return steps
}

// Execute implements Agent.
func (a *CodingAgent) Execute(ctx context.Context, rc *Context, step Step) (Step, error) {
	out, err := a.call(ctx, prompts.AgentExecute, prompts.Options{
		StepID:   step.ID,
		StepType: string(step.Type),
		Step:     step.Description,
		Previous: rc.Get(metaOutputs),
	})
	if err != nil {
		return step, err
	}
	if out == "" {
		return step, fmt.Errorf("step %s produced no output", step.ID)
	}
	previous := rc.Get(metaOutputs)
	if previous != "" {
		previous += "\n\n"
	}
	rc.Set(metaOutputs, previous+out)
	return Step{Output: out}, nil
}

// Validate implements Agent. The reply must start with PASS.
func (a *CodingAgent) Validate(ctx context.Context, _ *Context, output string) (bool, error) {
	out, err := a.call(ctx, prompts.AgentValidate, prompts.Options{Output: output})
	if err != nil {
		return false, err
	}
	return strings.HasPrefix(strings.ToUpper(strings.TrimSpace(out)), "PASS"), nil
}
