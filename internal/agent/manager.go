package agent

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"turnkit/internal/filecontext"
	"turnkit/internal/logging"
	"turnkit/internal/state"
)

var (
	// ErrAgentTimeout is returned when a run outlives the configured timeout.
	ErrAgentTimeout = errors.New("agent execution timeout")
	// ErrAgentsDisabled is returned when agent execution is configured off.
	ErrAgentsDisabled = errors.New("agent execution is disabled")
)

// DefaultTimeout bounds a run when none is configured.
const DefaultTimeout = 5 * time.Minute

// Factory builds the agent for a classified task.
type Factory func(task Task) Agent

// TaskAnalysis is the classification of a request.
type TaskAnalysis struct {
	AgentType TaskType `json:"agentType"`
	Task      Task     `json:"task"`
}

// Options configures a Manager.
type Options struct {
	Enabled          bool
	Timeout          time.Duration
	WorkspaceRoot    string
	Files            filecontext.FileMap
	SlowRunThreshold time.Duration
	Factory          Factory
	History          *History
	Classifier       *Classifier
	Logger           *logrus.Entry
}

// Manager routes requests through the agent engine and tracks active runs.
type Manager struct {
	opts   Options
	logger *logrus.Entry
	now    func() time.Time

	mu     sync.Mutex
	active map[string]time.Time
}

// NewManager builds a manager. A nil Factory disables execution but keeps
// classification available.
func NewManager(opts Options) *Manager {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.SlowRunThreshold <= 0 {
		opts.SlowRunThreshold = DefaultSlowRunThreshold
	}
	if opts.Classifier == nil {
		opts.Classifier = NewClassifier()
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Component("agent-manager")
	}
	return &Manager{opts: opts, logger: logger, now: time.Now, active: map[string]time.Time{}}
}

// ShouldUseAgents inspects the most recent user message.
func (m *Manager) ShouldUseAgents(messages []state.Message) bool {
	if !m.opts.Enabled {
		return false
	}
	return m.opts.Classifier.IsComplex(LastUserText(messages))
}

// AnalyzeTask classifies the latest request. It never fails; missing matches
// yield empty lists.
func (m *Manager) AnalyzeTask(messages []state.Message) TaskAnalysis {
	text := strings.TrimSpace(LastUserText(messages))
	kind := ClassifyTaskType(text)
	return TaskAnalysis{
		AgentType: kind,
		Task: Task{
			Type:         kind,
			Description:  text,
			Requirements: ExtractRequirements(text),
			Constraints:  ExtractConstraints(text),
		},
	}
}

// Execute runs the agent for the latest request, racing it against the
// timeout. On timeout the run's context is cancelled and ErrAgentTimeout is
// returned; the run is not retried.
func (m *Manager) Execute(ctx context.Context, messages []state.Message) (Result, error) {
	if !m.opts.Enabled {
		return Result{}, ErrAgentsDisabled
	}
	if m.opts.Factory == nil {
		return Result{}, fmt.Errorf("%w: no agent factory configured", ErrAgentsDisabled)
	}
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	analysis := m.AnalyzeTask(messages)
	rc := NewContext(messages, m.opts.Files, m.opts.WorkspaceRoot)
	for _, c := range analysis.Task.Constraints {
		rc.Environment.Constraints = append(rc.Environment.Constraints, c)
	}
	rc.AddObjective(analysis.Task.Description)
	rc.Set("taskType", string(analysis.AgentType))

	engine := NewEngine(m.opts.Factory(analysis.Task), m.logger)
	engine.SlowRunThreshold = m.opts.SlowRunThreshold

	id := m.register()
	defer m.unregister(id)
	started := m.now()
	runLog := m.logger.WithFields(logrus.Fields{"agent": id, "task_type": analysis.AgentType})
	runLog.Info("agent run started")

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	done := make(chan Result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				runLog.Errorf("agent panicked: %v", r)
				done <- failure(nil, fmt.Sprintf("Agent crashed: %v", r), "Retry the request")
			}
		}()
		done <- engine.Run(runCtx, rc)
	}()

	timer := time.NewTimer(m.opts.Timeout)
	defer timer.Stop()

	var (
		res Result
		err error
	)
	select {
	case res = <-done:
	case <-timer.C:
		cancel()
		err = ErrAgentTimeout
	case <-ctx.Done():
		cancel()
		err = ctx.Err()
	}

	elapsed := m.now().Sub(started)
	if err != nil {
		runLog.WithError(err).Warn("agent run aborted")
	} else {
		runLog.WithFields(logrus.Fields{"success": res.Success, "steps": len(res.Steps), "elapsed": elapsed.String()}).Info("agent run finished")
	}
	m.record(id, analysis, res, err, elapsed)
	return res, err
}

func (m *Manager) record(id string, analysis TaskAnalysis, res Result, runErr error, elapsed time.Duration) {
	if m.opts.History == nil {
		return
	}
	entry := HistoryEntry{
		ID:         id,
		TaskType:   analysis.AgentType,
		Task:       analysis.Task.Description,
		Success:    runErr == nil && res.Success,
		Summary:    res.Summary,
		Steps:      len(res.Steps),
		DurationMS: elapsed.Milliseconds(),
		FinishedAt: m.now().UTC(),
	}
	if runErr != nil {
		entry.Error = runErr.Error()
	}
	if err := m.opts.History.Append(entry); err != nil {
		m.logger.WithError(err).Warn("failed to record agent run")
	}
}

func (m *Manager) register() string {
	now := m.now()
	id := fmt.Sprintf("agent-%d-%s", now.UnixMilli(), uuid.NewString()[:8])
	m.mu.Lock()
	m.active[id] = now
	m.mu.Unlock()
	return id
}

func (m *Manager) unregister(id string) {
	m.mu.Lock()
	delete(m.active, id)
	m.mu.Unlock()
}

// Active lists the ids of running agents, oldest first.
func (m *Manager) Active() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.active))
	for id := range m.active {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		ti, tj := m.active[ids[i]], m.active[ids[j]]
		if ti.Equal(tj) {
			return ids[i] < ids[j]
		}
		return ti.Before(tj)
	})
	return ids
}

var statusGlyphs = map[StepStatus]string{
	StatusCompleted: "✅",
	StatusFailed:    "❌",
	StatusRunning:   "⏳",
	StatusPending:   "⏸️",
}

// FormatResult renders a result as a markdown report.
func FormatResult(res Result) string {
	var b strings.Builder
	if res.Success {
		b.WriteString("## Agent run completed\n\n")
		b.WriteString(res.Summary + "\n")
		writeSteps(&b, res.Steps)
		writeList(&b, "Recommendations", res.Recommendations)
		writeList(&b, "Next actions", res.NextActions)
	} else {
		b.WriteString("## Agent run failed\n\n")
		b.WriteString(res.Summary + "\n")
		writeList(&b, "Suggested solutions", res.Recommendations)
		writeSteps(&b, res.Steps)
	}
	return strings.TrimRight(b.String(), "\n") + "\n"
}

// FormatError renders an aborted run.
func FormatError(err error) string {
	var b strings.Builder
	b.WriteString("## Agent run failed\n\n")
	switch {
	case errors.Is(err, ErrAgentTimeout):
		b.WriteString("The agent did not finish before the configured timeout.\n")
		writeList(&b, "Suggested solutions", []string{
			"Split the task into smaller requests",
			"Increase agent_timeout_seconds in the config",
		})
	case errors.Is(err, ErrAgentsDisabled):
		b.WriteString("Agent execution is disabled.\n")
		writeList(&b, "Suggested solutions", []string{"Set agents_enabled: true in the config"})
	default:
		b.WriteString(err.Error() + "\n")
		writeList(&b, "Suggested solutions", []string{"Retry the request"})
	}
	return strings.TrimRight(b.String(), "\n") + "\n"
}

func writeSteps(b *strings.Builder, steps []Step) {
	if len(steps) == 0 {
		return
	}
	b.WriteString("\n### Steps\n")
	for _, s := range steps {
		line := fmt.Sprintf("- %s %s", statusGlyphs[s.Status], s.Description)
		if s.Status == StatusFailed && s.Error != "" {
			line += " (" + s.Error + ")"
		}
		b.WriteString(line + "\n")
	}
}

func writeList(b *strings.Builder, title string, items []string) {
	if len(items) == 0 {
		return
	}
	b.WriteString("\n### " + title + "\n")
	for _, item := range items {
		b.WriteString("- " + item + "\n")
	}
}
