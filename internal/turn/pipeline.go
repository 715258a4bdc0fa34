// Package turn runs one conversation turn: budget, history reduction, and the
// model call or agent run.
package turn

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/sirupsen/logrus"

	"turnkit/internal/agent"
	"turnkit/internal/contextwindow"
	"turnkit/internal/filecontext"
	"turnkit/internal/llm"
	"turnkit/internal/logging"
	"turnkit/internal/optimize"
	"turnkit/internal/prompts"
	"turnkit/internal/state"
	"turnkit/internal/tokens"
)

// ErrNoHistoryRoom reports that the window has no space left for any of the
// conversation once the system prompt and completion reserve are taken.
var ErrNoHistoryRoom = errors.New("no room for conversation history")

// Options wires the pipeline collaborators. Client, Prompts and Model are
// required; the rest default.
type Options struct {
	Client       llm.Client
	Prompts      prompts.Renderer
	Model        llm.Model
	Estimator    tokens.Estimator
	Allocator    *contextwindow.Allocator
	Truncator    *contextwindow.Truncator
	Settings     *optimize.Controller
	Pricing      optimize.Pricing
	Agents       *agent.Manager
	Files        filecontext.FileMap
	CustomPrompt string
	Temperature  float64
	// OnDelta, when set, receives response text as it streams.
	OnDelta func(string)
	Logger  *logrus.Entry
}

// Pipeline prepares and answers turns.
type Pipeline struct {
	opts      Options
	optimizer *optimize.Optimizer
	logger    *logrus.Entry
}

// Prepared is the derived context for one model call. Messages is a copy;
// the conversation itself is never modified by preparation.
type Prepared struct {
	System      string
	Messages    []state.Message
	FileContext string
	Budget      contextwindow.Budget
	Analysis    *optimize.Analysis
	Applied     optimize.RecommendationType
	Truncated   bool
}

// Reply is the outcome of Respond.
type Reply struct {
	Text     string
	ViaAgent bool
	Prepared *Prepared
	// Err is the budget or agent failure that Text explains, if any.
	Err error
}

// New validates opts and fills defaults.
func New(opts Options) (*Pipeline, error) {
	if opts.Client == nil {
		return nil, errors.New("turn: client is required")
	}
	if opts.Prompts == nil {
		return nil, errors.New("turn: prompt renderer is required")
	}
	if opts.Model.MaxTokenAllowed <= 0 {
		return nil, fmt.Errorf("turn: model %q has no context length", opts.Model.Name)
	}
	if opts.Logger == nil {
		opts.Logger = logging.Component("turn")
	}
	if opts.Estimator == nil {
		opts.Estimator = tokens.NewHeuristic()
	}
	if opts.Allocator == nil {
		opts.Allocator = contextwindow.NewAllocator()
	}
	if opts.Truncator == nil {
		opts.Truncator = contextwindow.NewTruncator(opts.Estimator, opts.Logger)
	}
	if opts.Settings == nil {
		opts.Settings = optimize.NewController(nil, opts.Logger)
	}
	if opts.Pricing == (optimize.Pricing{}) {
		opts.Pricing = optimize.DefaultPricing()
	}
	return &Pipeline{opts: opts, optimizer: optimize.NewOptimizer(opts.Estimator), logger: opts.Logger}, nil
}

// Prepare builds the derived context for messages. It fails with
// contextwindow.ErrContextLength when the system prompt alone is too large.
func (p *Pipeline) Prepare(_ context.Context, messages []state.Message) (Prepared, error) {
	system, err := p.opts.Prompts.Render(prompts.System, prompts.Options{Model: p.opts.Model.Name, Custom: p.opts.CustomPrompt})
	if err != nil {
		return Prepared{}, err
	}
	modelMax := p.opts.Model.MaxTokenAllowed
	systemTokens := p.opts.Estimator.Estimate(system)
	if err := p.opts.Allocator.CheckSystemPrompt(modelMax, systemTokens); err != nil {
		p.logger.WithError(err).Error("system prompt exhausts the context window")
		return Prepared{}, err
	}

	out := Prepared{System: system, Messages: state.CloneAll(messages)}

	settings := p.opts.Settings.Settings()
	if settings.AutoOptimize {
		analysis := optimize.NewAnalyzer(settings, p.opts.Estimator, p.opts.Pricing).Analyze(out.Messages, 0)
		p.opts.Settings.SetLastAnalysis(analysis)
		out.Analysis = &analysis
		if top, ok := analysis.Top(); ok {
			optimized, err := p.optimizer.Apply(top.Type, out.Messages, settings)
			if err != nil {
				return Prepared{}, err
			}
			p.logger.WithFields(logrus.Fields{
				"strategy": top.Type,
				"before":   len(out.Messages),
				"after":    len(optimized),
			}).Debug("auto-optimized history")
			out.Messages = optimized
			out.Applied = top.Type
		}
	}

	fileText, err := filecontext.Render(p.opts.Files)
	if err != nil {
		p.logger.WithError(err).Warn("some files could not be rendered")
	}
	historyTokens := p.opts.Estimator.EstimateAll(out.Messages)
	fileTokens := p.opts.Estimator.Estimate(fileText)
	out.Budget = p.opts.Allocator.Allocate(modelMax, systemTokens, historyTokens, fileTokens)

	if historyTokens > out.Budget.MessageTokens {
		// Budget the truncator so its available space is exactly the message allotment.
		b := out.Budget
		out.Messages = p.opts.Truncator.Truncate(out.Messages, b.SystemTokens+b.MessageTokens+b.CompletionTokens, b.SystemTokens, b.CompletionTokens)
		out.Truncated = true
	}
	if fileText != "" && fileTokens > out.Budget.ContextTokens {
		cut, ok := p.opts.Truncator.TruncateMessage(state.Message{Role: state.RoleSystem, Content: fileText}, out.Budget.ContextTokens)
		if ok {
			fileText = cut.Content
		} else {
			fileText = ""
		}
		out.Truncated = true
	}
	out.FileContext = fileText
	return out, nil
}

// Respond appends userInput to conv, answers it and appends the answer.
// Budget exhaustion and agent failures become an explanatory reply rather
// than an error; the caller persists conv.
func (p *Pipeline) Respond(ctx context.Context, conv *state.Conversation, userInput string) (Reply, error) {
	conv.Append(state.Message{Role: state.RoleUser, Content: userInput})
	messages := conv.Messages()

	if p.opts.Agents != nil && p.opts.Agents.ShouldUseAgents(messages) {
		res, err := p.opts.Agents.Execute(ctx, messages)
		reply := Reply{ViaAgent: true, Err: err}
		if err != nil {
			reply.Text = agent.FormatError(err)
		} else {
			reply.Text = agent.FormatResult(res)
		}
		conv.Append(state.Message{Role: state.RoleAssistant, Content: reply.Text})
		return reply, nil
	}

	prepared, err := p.Prepare(ctx, messages)
	if err != nil {
		var cle *contextwindow.ContextLengthError
		if errors.As(err, &cle) {
			text := fmt.Sprintf("The system prompt needs about %d tokens but at most %d of the %d token window may be used for it. Shorten the custom prompt or switch to a model with a larger context.",
				cle.SystemTokens, cle.Limit, cle.ModelMax)
			return Reply{Text: text, Err: err}, nil
		}
		return Reply{}, err
	}
	if len(prepared.Messages) == 0 {
		b := prepared.Budget
		p.logger.WithFields(logrus.Fields{
			"window":     p.opts.Model.MaxTokenAllowed,
			"system":     b.SystemTokens,
			"completion": b.CompletionTokens,
		}).Warn("no history fits the window")
		text := fmt.Sprintf("Your message was not sent: the %d token window has no room left for the conversation after %d system prompt tokens and %d tokens reserved for the answer. Switch to a model with a larger context.",
			p.opts.Model.MaxTokenAllowed, b.SystemTokens, b.CompletionTokens)
		return Reply{Text: text, Prepared: &prepared, Err: ErrNoHistoryRoom}, nil
	}

	system := prepared.System
	if prepared.FileContext != "" {
		system += "\n\n## Project Files\n" + prepared.FileContext
	}
	text, err := p.stream(ctx, llm.Request{
		Model:       p.opts.Model.Name,
		System:      system,
		Messages:    prepared.Messages,
		MaxTokens:   prepared.Budget.CompletionTokens,
		Temperature: p.opts.Temperature,
	})
	if err != nil {
		return Reply{Prepared: &prepared}, err
	}
	conv.Append(state.Message{Role: state.RoleAssistant, Content: text})
	return Reply{Text: text, Prepared: &prepared}, nil
}

func (p *Pipeline) stream(ctx context.Context, req llm.Request) (string, error) {
	if p.opts.OnDelta == nil {
		return llm.Collect(ctx, p.opts.Client, req)
	}
	s, err := p.opts.Client.Stream(ctx, req)
	if err != nil {
		return "", err
	}
	defer s.Close()
	var b strings.Builder
	for {
		chunk, err := s.Recv()
		if errors.Is(err, io.EOF) {
			return b.String(), nil
		}
		if err != nil {
			return b.String(), fmt.Errorf("read stream: %w", err)
		}
		if chunk.Type == llm.TextDelta {
			b.WriteString(chunk.TextDelta)
			p.opts.OnDelta(chunk.TextDelta)
		}
	}
}
