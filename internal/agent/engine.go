package agent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"turnkit/internal/logging"
)

// DefaultSlowRunThreshold flags runs that take longer than this.
const DefaultSlowRunThreshold = 30 * time.Second

// Agent is the four-phase contract a concrete agent implements. Embedding
// Base provides the default failure policy and next actions.
type Agent interface {
	// Analyze returns the analysis step. A failed step aborts the run.
	Analyze(ctx context.Context, rc *Context) Step
	// Plan returns the ordered steps to execute.
	Plan(ctx context.Context, rc *Context) ([]Step, error)
	// Execute performs one step and reports its work fields.
	Execute(ctx context.Context, rc *Context, step Step) (Step, error)
	// Validate gates the aggregated output of the completed steps.
	Validate(ctx context.Context, rc *Context, output string) (bool, error)

	HandleStepFailure(step Step) bool
	NextActions(result Result) []string
}

// Base carries the default policies.
type Base struct{}

// HandleStepFailure lets the run continue past failed review and validate steps.
func (Base) HandleStepFailure(step Step) bool {
	return step.Type == StepReview || step.Type == StepValidate
}

// NextActions returns the fixed follow-up suggestions.
func (Base) NextActions(Result) []string {
	return []string{
		"Review the generated changes",
		"Run the test suite",
		"Ask for refinements or follow-up changes",
	}
}

// Engine drives an Agent through analyze, plan, execute and validate.
type Engine struct {
	agent            Agent
	logger           *logrus.Entry
	now              func() time.Time
	SlowRunThreshold time.Duration
}

// NewEngine binds an engine to an agent.
func NewEngine(a Agent, logger *logrus.Entry) *Engine {
	if logger == nil {
		logger = logging.Component("agent")
	}
	return &Engine{agent: a, logger: logger, now: time.Now, SlowRunThreshold: DefaultSlowRunThreshold}
}

// Run executes the loop. Steps run strictly in plan order. Failures are
// reported in the result; Run never returns an error.
func (e *Engine) Run(ctx context.Context, rc *Context) Result {
	started := e.now()
	var steps []Step

	analysis := e.agent.Analyze(ctx, rc)
	if analysis.ID == "" {
		analysis.ID = "analyze"
	}
	if analysis.Type == "" {
		analysis.Type = StepAnalyze
	}
	if analysis.Status == "" || analysis.Status == StatusPending || analysis.Status == StatusRunning {
		analysis.Status = StatusCompleted
	}
	steps = append(steps, analysis)
	if analysis.Status == StatusFailed {
		e.logger.WithField("error", analysis.Error).Warn("analysis failed")
		return failure(steps, "Analysis failed: "+analysis.Error,
			"Rephrase the request with more detail about the goal",
			"Check that the model provider is reachable")
	}

	planned, err := e.agent.Plan(ctx, rc)
	if err != nil {
		e.logger.WithError(err).Warn("planning failed")
		return failure(steps, "Planning failed: "+err.Error(),
			"Break the request into smaller tasks",
			"Retry the request")
	}
	first := len(steps)
	for i, step := range planned {
		if step.ID == "" {
			step.ID = fmt.Sprintf("step-%d", i+1)
		}
		step.Type = ParseStepType(string(step.Type))
		step.Status = StatusPending
		step.Output, step.Error = "", ""
		step.StartTime, step.EndTime = nil, nil
		steps = append(steps, step)
	}

	var recovered []Step
	for i := first; i < len(steps); i++ {
		if steps[i].Status != StatusPending {
			continue
		}
		if err := ctx.Err(); err != nil {
			return failure(steps[:i], "Run cancelled: "+err.Error(), "Retry with a longer timeout")
		}
		running, err := steps[i].Start(e.now())
		if err != nil {
			return e.broken(steps[:i+1], err)
		}
		steps[i] = running

		result, err := e.execute(ctx, rc, running)
		if err != nil {
			failed, ferr := running.Fail(e.now(), err.Error())
			if ferr != nil {
				return e.broken(steps[:i+1], ferr)
			}
			steps[i] = failed
			entry := e.logger.WithFields(logrus.Fields{"step": failed.ID, "type": failed.Type})
			entry.WithError(err).Warn("step failed")
			if !e.agent.HandleStepFailure(failed) {
				return failure(steps[:i+1], fmt.Sprintf("Step %q failed: %s", failed.Description, failed.Error),
					"Inspect the failed step and adjust the request",
					"Try breaking the task into smaller parts")
			}
			recovered = append(recovered, failed)
			continue
		}
		done, err := running.Merge(result).Complete(e.now())
		if err != nil {
			return e.broken(steps[:i+1], err)
		}
		steps[i] = done
	}

	output := aggregate(steps)
	ok, err := e.agent.Validate(ctx, rc, output)
	if err != nil || !ok {
		reason := "output did not pass validation"
		if err != nil {
			reason = err.Error()
		}
		e.logger.WithField("reason", reason).Warn("validation failed")
		res := failure(steps, "Validation failed: "+reason,
			"Review the generated output manually",
			"Ask for a fix step targeting the validation findings")
		res.FinalOutput = output
		return res
	}

	completed, failedCount := countStatuses(steps)
	res := Result{
		Success:     true,
		Steps:       steps,
		FinalOutput: output,
		Summary:     fmt.Sprintf("Completed %d of %d steps (%d failed).", completed, len(steps), failedCount),
	}
	for _, step := range recovered {
		res.Recommendations = append(res.Recommendations,
			fmt.Sprintf("Step %q (%s) failed and was skipped: %s", step.Description, step.Type, step.Error))
	}
	if elapsed := e.now().Sub(started); elapsed > e.SlowRunThreshold {
		res.Recommendations = append(res.Recommendations,
			fmt.Sprintf("Run took %s; consider splitting the task into smaller requests.", elapsed.Round(time.Second)))
	}
	res.NextActions = e.agent.NextActions(res)
	return res
}

// execute runs one step, reporting a panic in the agent as the step's error.
func (e *Engine) execute(ctx context.Context, rc *Context, step Step) (result Step, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("step panicked: %v", r)
		}
	}()
	return e.agent.Execute(ctx, rc, step)
}

func (e *Engine) broken(steps []Step, err error) Result {
	e.logger.WithError(err).Error("step lifecycle violated")
	return failure(steps, "Internal error: "+err.Error(), "Retry the request")
}

func failure(steps []Step, summary string, solutions ...string) Result {
	return Result{
		Success:         false,
		Steps:           append([]Step(nil), steps...),
		Summary:         summary,
		Recommendations: solutions,
	}
}

func aggregate(steps []Step) string {
	var parts []string
	for _, step := range steps {
		if step.Status == StatusCompleted && strings.TrimSpace(step.Output) != "" {
			parts = append(parts, step.Output)
		}
	}
	return strings.Join(parts, "\n\n")
}

func countStatuses(steps []Step) (completed, failed int) {
	for _, step := range steps {
		switch step.Status {
		case StatusCompleted:
			completed++
		case StatusFailed:
			failed++
		}
	}
	return completed, failed
}
