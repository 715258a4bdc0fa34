package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	prompt "github.com/c-bata/go-prompt"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"turnkit/internal/config"
	"turnkit/internal/filecontext"
	"turnkit/internal/llm"
	"turnkit/internal/logging"
	"turnkit/internal/optimize"
	"turnkit/internal/state"
	"turnkit/internal/turn"
)

var commandSuggestions = []prompt.Suggest{
	{Text: ":help", Description: "show this text"},
	{Text: ":sessions", Description: "list stored conversations"},
	{Text: ":use", Description: "switch to an existing conversation"},
	{Text: ":new", Description: "create and switch to a blank conversation"},
	{Text: ":clear", Description: "wipe the current conversation's history"},
	{Text: ":drop", Description: "delete a stored conversation"},
	{Text: ":analyze", Description: "analyze the current conversation"},
	{Text: ":optimize", Description: "rewrite history (:optimize [remove_old|compress|summarize|reset])"},
	{Text: ":settings", Description: "show or change a setting (:settings [key value])"},
	{Text: ":quit", Description: "exit the program"},
	{Text: ":exit", Description: "exit the program"},
}

func newChatCmd(flags *globalFlags) *cobra.Command {
	var (
		session string
		include []string
	)
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive, persisted conversation",
		Args:  cobra.NoArgs,
		RunE: withApp(flags, func(a *app, _ *cobra.Command, _ []string) error {
			client, err := a.llmClient()
			if err != nil {
				return err
			}
			files, err := a.loadFiles(include)
			if err != nil {
				return err
			}
			s, err := newChatSession(a, client, files, session)
			if err != nil {
				return err
			}
			return s.run()
		}),
	}
	cmd.Flags().StringVarP(&session, "session", "s", "", "conversation key to resume or create")
	cmd.Flags().StringSliceVar(&include, "files", nil, "glob patterns of workspace files to include as context")
	return cmd
}

type interruptTracker struct {
	mu     sync.Mutex
	last   time.Time
	window time.Duration
}

func newInterruptTracker(window time.Duration) *interruptTracker {
	return &interruptTracker{window: window}
}

func (t *interruptTracker) secondPress() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := time.Now()
	if !t.last.IsZero() && now.Sub(t.last) < t.window {
		t.last = time.Time{}
		return true
	}
	t.last = now
	return false
}

type promptExit struct{}

// chatSession is one REPL over the stored conversations.
type chatSession struct {
	app      *app
	states   *state.Manager
	conv     *state.Conversation
	pipeline *turn.Pipeline
	input    *inputHistory
	tracker  *interruptTracker
	// live is set when deltas are written as they stream instead of being
	// rendered once complete.
	live bool

	mu       sync.Mutex
	inflight context.CancelFunc
}

func newChatSession(a *app, client llm.Client, files filecontext.FileMap, key string) (*chatSession, error) {
	states, err := state.NewManager(a.cfg.ConversationDir, logging.Component("state"))
	if err != nil {
		return nil, err
	}
	var conv *state.Conversation
	if key == "" && states.CurrentKey() != "" {
		conv, err = states.Use(states.CurrentKey())
	} else {
		conv, err = states.EnsureState(key)
	}
	if err != nil {
		return nil, err
	}

	s := &chatSession{
		app:     a,
		states:  states,
		conv:    conv,
		input:   loadInputHistory(filepath.Join(config.GetConfigDir(), "input_history")),
		tracker: newInterruptTracker(2 * time.Second),
		live:    !a.out.styled(),
	}
	var onDelta func(string)
	if s.live {
		onDelta = func(d string) { a.out.Printf("%s", d) }
	}
	s.pipeline, err = a.pipeline(client, files, onDelta)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (s *chatSession) run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.handleInterrupts(ctx, cancel)

	s.app.out.Printf("Turnkit chat on %s (%d token window). Type ':help' for commands, double Ctrl+C to exit.\n",
		s.app.model.Name, s.app.model.MaxTokenAllowed)
	if n := s.conv.Len(); n > 0 {
		s.app.out.Printf("(resumed %s with %d messages)\n", s.conv.Key(), n)
	}
	if term.IsTerminal(int(os.Stdin.Fd())) {
		return s.runPrompt(ctx, cancel)
	}
	return s.runLines(ctx, cancel, os.Stdin)
}

func (s *chatSession) runPrompt(ctx context.Context, cancel context.CancelFunc) (err error) {
	fd := int(os.Stdin.Fd())
	if st, terr := term.GetState(fd); terr == nil {
		defer func() { _ = term.Restore(fd, st) }()
	}

	var exitRequested atomic.Bool
	defer func() {
		if r := recover(); r != nil {
			if _, ok := r.(promptExit); ok {
				err = nil
				return
			}
			panic(r)
		}
	}()
	exit := func() {
		exitRequested.Store(true)
		cancel()
		panic(promptExit{})
	}

	executor := func(in string) {
		if exitRequested.Load() || ctx.Err() != nil {
			return
		}
		line := strings.TrimSpace(in)
		if line == "" {
			return
		}
		s.input.Add(line)
		if s.handleLine(ctx, line) {
			exit()
		}
	}

	p := prompt.New(
		executor,
		commandCompleter,
		prompt.OptionHistory(s.input.Entries()),
		prompt.OptionTitle("Turnkit"),
		prompt.OptionLivePrefix(func() (string, bool) {
			return fmt.Sprintf("[%s] > ", s.conv.Key()), true
		}),
		prompt.OptionAddKeyBind(
			prompt.KeyBind{
				Key: prompt.ControlC,
				Fn: func(*prompt.Buffer) {
					if s.tracker.secondPress() {
						fmt.Println("\nReceived second Ctrl+C, exiting.")
						exit()
					}
					fmt.Println("\n(Press Ctrl+C again within 2s to exit)")
				},
			},
			prompt.KeyBind{
				Key: prompt.ControlD,
				Fn: func(buf *prompt.Buffer) {
					if buf.Text() == "" {
						exit()
					}
				},
			},
		),
		prompt.OptionSetExitCheckerOnInput(func(string, bool) bool {
			return exitRequested.Load() || ctx.Err() != nil
		}),
	)
	p.Run()
	return nil
}

func commandCompleter(doc prompt.Document) []prompt.Suggest {
	prefix := strings.TrimLeft(doc.TextBeforeCursor(), " \t")
	if !strings.HasPrefix(prefix, ":") || strings.ContainsAny(prefix, " \t") {
		return nil
	}
	return prompt.FilterHasPrefix(commandSuggestions, doc.GetWordBeforeCursor(), true)
}

// runLines drives the session from a plain reader, for pipes and scripts.
func (s *chatSession) runLines(ctx context.Context, cancel context.CancelFunc, in io.Reader) error {
	reader := bufio.NewReader(in)
	for {
		if ctx.Err() != nil {
			return nil
		}
		s.app.out.Printf("[%s] > ", s.conv.Key())
		line, err := reader.ReadString('\n')
		if text := strings.TrimSpace(line); text != "" {
			if s.handleLine(ctx, text) {
				cancel()
				return nil
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				s.app.out.Printf("\n")
				return nil
			}
			return fmt.Errorf("read input: %w", err)
		}
	}
}

// handleInterrupts cancels the in-flight request on SIGINT, or exits on a
// second press when nothing is running.
func (s *chatSession) handleInterrupts(ctx context.Context, cancel context.CancelFunc) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	defer signal.Stop(sigCh)
	for {
		select {
		case <-ctx.Done():
			return
		case <-sigCh:
			if s.cancelInFlight() {
				fmt.Println("\n(Current request cancelled.)")
				continue
			}
			if s.tracker.secondPress() {
				fmt.Println("\nReceived second Ctrl+C, exiting.")
				cancel()
				return
			}
			fmt.Println("\n(Press Ctrl+C again within 2s to exit)")
		}
	}
}

func (s *chatSession) cancelInFlight() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inflight == nil {
		return false
	}
	s.inflight()
	s.inflight = nil
	return true
}

// handleLine processes one input line and reports whether to exit.
func (s *chatSession) handleLine(ctx context.Context, line string) bool {
	if strings.HasPrefix(line, ":") {
		return s.handleCommand(line)
	}
	s.respond(ctx, line)
	return false
}

func (s *chatSession) respond(ctx context.Context, line string) {
	reqCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.inflight = cancel
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.inflight = nil
		s.mu.Unlock()
		cancel()
	}()

	logging.DevLog("dispatching prompt: %d chars", len(line))
	reply, err := s.pipeline.Respond(reqCtx, s.conv, line)
	if serr := s.states.Save(s.conv); serr != nil {
		logging.ErrorLog("save conversation %s: %v", s.conv.Key(), serr)
	}
	if err != nil {
		if s.live {
			s.app.out.Printf("\n")
		}
		if errors.Is(err, context.Canceled) {
			return
		}
		logging.ErrorLog("turn failed: %v", err)
		s.app.out.Printf("Error: %v\n", err)
		return
	}

	streamed := s.live && !reply.ViaAgent && reply.Prepared != nil && reply.Err == nil
	if streamed {
		s.app.out.Printf("\n")
	} else {
		s.app.out.Markdown(reply.Text)
	}
	if p := reply.Prepared; p != nil {
		if p.Applied != "" {
			s.app.out.Printf("(history auto-optimized with %s for this turn)\n", p.Applied)
		}
		if p.Truncated {
			s.app.out.Printf("(older history truncated to fit the context window)\n")
		}
	}
}

func (s *chatSession) handleCommand(line string) bool {
	fields := strings.Fields(line)
	cmd, args := fields[0], fields[1:]
	out := s.app.out
	switch cmd {
	case ":quit", ":exit":
		return true
	case ":help":
		var b strings.Builder
		b.WriteString("Commands:\n")
		for _, sug := range commandSuggestions {
			fmt.Fprintf(&b, "  %-10s %s\n", sug.Text, sug.Description)
		}
		out.Printf("%s", b.String())
	case ":sessions":
		keys := s.states.ListKeys()
		if len(keys) == 0 {
			out.Printf("No stored conversations yet.\n")
			break
		}
		for i, key := range keys {
			marker := " "
			if key == s.conv.Key() {
				marker = "*"
			}
			out.Printf("%s %d) %s\n", marker, i+1, key)
		}
	case ":use":
		if len(args) != 1 {
			out.Printf("usage: :use <key>\n")
			break
		}
		conv, err := s.states.Use(args[0])
		if err != nil {
			out.Printf("Error: %v\n", err)
			break
		}
		s.conv = conv
		out.Printf("Switched to %s (%d messages).\n", conv.Key(), conv.Len())
	case ":new":
		key := ""
		if len(args) > 0 {
			key = args[0]
		}
		conv, err := s.states.EnsureState(key)
		if err != nil {
			out.Printf("Error: %v\n", err)
			break
		}
		s.conv = conv
		out.Printf("Started %s.\n", conv.Key())
	case ":clear":
		s.conv.ReplaceMessages(nil)
		s.save()
		out.Printf("Cleared %s.\n", s.conv.Key())
	case ":drop":
		if len(args) != 1 {
			out.Printf("usage: :drop <key>\n")
			break
		}
		if args[0] == s.conv.Key() {
			out.Printf("Cannot drop the active conversation; switch first.\n")
			break
		}
		if err := s.states.Delete(args[0]); err != nil {
			out.Printf("Error: %v\n", err)
			break
		}
		out.Printf("Dropped %s.\n", args[0])
	case ":analyze":
		analysis := s.app.analyzer().Analyze(s.conv.Messages(), 0)
		s.app.settings.SetLastAnalysis(analysis)
		out.Markdown(formatAnalysis(analysis))
	case ":optimize":
		s.optimize(args)
	case ":settings":
		if len(args) == 0 {
			out.Markdown(formatSettings(s.app.settings.Settings()))
			break
		}
		if len(args) != 2 {
			out.Printf("usage: :settings <key> <value>\n")
			break
		}
		var setErr error
		updated, err := s.app.settings.Update(func(st *optimize.Settings) {
			next := *st
			if setErr = applySetting(&next, args[0], args[1]); setErr == nil {
				*st = next
			}
		})
		if setErr == nil {
			setErr = err
		}
		if setErr != nil {
			out.Printf("Error: %v\n", setErr)
			break
		}
		out.Markdown(formatSettings(updated))
	default:
		out.Printf("Unknown command %s; type :help.\n", cmd)
	}
	return false
}

// optimize rewrites the stored history, unlike auto-optimization which only
// shapes the copy sent to the model.
func (s *chatSession) optimize(args []string) {
	out := s.app.out
	msgs := s.conv.Messages()
	var kind optimize.RecommendationType
	if len(args) > 0 {
		kind = optimize.RecommendationType(strings.ToLower(args[0]))
	} else {
		analysis := s.app.analyzer().Analyze(msgs, 0)
		s.app.settings.SetLastAnalysis(analysis)
		top, ok := analysis.Top()
		if !ok {
			out.Printf("No optimizations recommended.\n")
			return
		}
		kind = top.Type
	}
	optimized, err := optimize.NewOptimizer(s.app.estimator).Apply(kind, msgs, s.app.settings.Settings())
	if err != nil {
		out.Printf("Error: %v\n", err)
		return
	}
	s.conv.ReplaceMessages(optimized)
	s.save()
	out.Printf("%s\n", formatOptimizeSummary(kind, len(msgs), len(optimized),
		s.app.estimator.EstimateAll(msgs), s.app.estimator.EstimateAll(optimized)))
}

func (s *chatSession) save() {
	if err := s.states.Save(s.conv); err != nil {
		logging.ErrorLog("save conversation %s: %v", s.conv.Key(), err)
		s.app.out.Printf("Error: %v\n", err)
	}
}
