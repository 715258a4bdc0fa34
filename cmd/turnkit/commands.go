package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"turnkit/internal/agent"
	"turnkit/internal/filecontext"
	"turnkit/internal/optimize"
	"turnkit/internal/prompts"
	"turnkit/internal/state"
)

// withApp builds the shared app for the duration of one command.
func withApp(flags *globalFlags, fn func(a *app, cmd *cobra.Command, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		a, err := newApp(flags)
		if err != nil {
			return err
		}
		defer a.Close()
		return fn(a, cmd, args)
	}
}

func messagesArg(args []string) string {
	if len(args) == 0 {
		return ""
	}
	return args[0]
}

func newBudgetCmd(flags *globalFlags) *cobra.Command {
	var (
		include []string
		asJSON  bool
	)
	cmd := &cobra.Command{
		Use:   "budget [messages.json|-]",
		Short: "Show how the context window would be split for a conversation",
		Args:  cobra.MaximumNArgs(1),
		RunE: withApp(flags, func(a *app, _ *cobra.Command, args []string) error {
			msgs, err := readMessages(messagesArg(args))
			if err != nil {
				return err
			}
			files, err := a.loadFiles(include)
			if err != nil {
				return err
			}
			system, err := a.prompts.Render(prompts.System, prompts.Options{Model: a.model.Name, Custom: a.cfg.SystemPrompt})
			if err != nil {
				return err
			}
			fileText, err := filecontext.Render(files)
			if err != nil {
				return err
			}
			in := budgetInput{
				System:   a.estimator.Estimate(system),
				Messages: a.estimator.EstimateAll(msgs),
				Files:    a.estimator.Estimate(fileText),
			}
			alloc := a.allocator()
			budget := alloc.Allocate(a.model.MaxTokenAllowed, in.System, in.Messages, in.Files)
			if asJSON {
				return a.out.JSON(budget)
			}
			a.out.Markdown(formatBudget(a.model, in, budget))
			if err := alloc.CheckSystemPrompt(a.model.MaxTokenAllowed, in.System); err != nil {
				a.out.Printf("Warning: %v\n", err)
			}
			return nil
		}),
	}
	cmd.Flags().StringSliceVar(&include, "files", nil, "glob patterns of workspace files to include as context")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the budget as JSON")
	return cmd
}

func newAnalyzeCmd(flags *globalFlags) *cobra.Command {
	var (
		usage  int
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "analyze <messages.json|->",
		Short: "Estimate cost and recommend context optimizations",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(flags, func(a *app, _ *cobra.Command, args []string) error {
			msgs, err := readMessages(args[0])
			if err != nil {
				return err
			}
			analysis := a.analyzer().Analyze(msgs, usage)
			a.settings.SetLastAnalysis(analysis)
			if asJSON {
				return a.out.JSON(analysis)
			}
			a.out.Markdown(formatAnalysis(analysis))
			return nil
		}),
	}
	cmd.Flags().IntVar(&usage, "usage", 0, "reported token usage (estimated when 0)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the analysis as JSON")
	return cmd
}

func newOptimizeCmd(flags *globalFlags) *cobra.Command {
	var (
		strategy string
		outPath  string
	)
	cmd := &cobra.Command{
		Use:   "optimize <messages.json|->",
		Short: "Rewrite a conversation with an optimization strategy",
		Long: "Strategies: remove_old, compress, summarize, reset, or auto to apply the top recommendation.\n" +
			"The optimized messages are written as JSON to --out or stdout.",
		Args: cobra.ExactArgs(1),
		RunE: withApp(flags, func(a *app, _ *cobra.Command, args []string) error {
			msgs, err := readMessages(args[0])
			if err != nil {
				return err
			}
			settings := a.settings.Settings()
			kind := optimize.RecommendationType(strings.ToLower(strings.TrimSpace(strategy)))
			if kind == "auto" {
				analysis := a.analyzer().Analyze(msgs, 0)
				a.settings.SetLastAnalysis(analysis)
				top, ok := analysis.Top()
				if !ok {
					fmt.Fprintln(os.Stderr, "No optimizations recommended; history unchanged.")
					return writeMessages(outPath, msgs)
				}
				kind = top.Type
			}
			optimized, err := optimize.NewOptimizer(a.estimator).Apply(kind, msgs, settings)
			if err != nil {
				return err
			}
			fmt.Fprintln(os.Stderr, formatOptimizeSummary(kind, len(msgs), len(optimized),
				a.estimator.EstimateAll(msgs), a.estimator.EstimateAll(optimized)))
			return writeMessages(outPath, optimized)
		}),
	}
	cmd.Flags().StringVar(&strategy, "strategy", "auto", "optimization strategy")
	cmd.Flags().StringVarP(&outPath, "out", "o", "", "write the optimized messages to this file")
	return cmd
}

func writeMessages(path string, msgs []state.Message) error {
	if msgs == nil {
		msgs = []state.Message{}
	}
	data, err := json.MarshalIndent(msgs, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal messages: %w", err)
	}
	data = append(data, '\n')
	if path == "" {
		_, err = os.Stdout.Write(data)
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

func newAgentCmd(flags *globalFlags) *cobra.Command {
	var (
		include  []string
		fromFile string
		classify bool
	)
	cmd := &cobra.Command{
		Use:   "agent [task...]",
		Short: "Run a task through the multi-step agent",
		RunE: withApp(flags, func(a *app, _ *cobra.Command, args []string) error {
			msgs, err := readMessages(fromFile)
			if err != nil {
				return err
			}
			if task := strings.TrimSpace(strings.Join(args, " ")); task != "" {
				msgs = append(msgs, state.Message{Role: state.RoleUser, Content: task})
			}
			if agent.LastUserText(msgs) == "" {
				return errors.New("no task given; pass it as arguments or with --messages")
			}
			if classify {
				mgr := agent.NewManager(agent.Options{Enabled: a.cfg.AgentsOn()})
				return a.out.JSON(struct {
					agent.TaskAnalysis
					Complex bool `json:"complex"`
				}{mgr.AnalyzeTask(msgs), mgr.ShouldUseAgents(msgs)})
			}

			client, err := a.llmClient()
			if err != nil {
				return err
			}
			files, err := a.loadFiles(include)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
			defer stop()
			res, err := a.agentManager(client, files).Execute(ctx, msgs)
			if err != nil {
				a.out.Markdown(agent.FormatError(err))
				return err
			}
			a.out.Markdown(agent.FormatResult(res))
			if !res.Success {
				return errors.New(res.Summary)
			}
			return nil
		}),
	}
	cmd.Flags().StringSliceVar(&include, "files", nil, "glob patterns of workspace files to include as context")
	cmd.Flags().StringVar(&fromFile, "messages", "", "prior conversation to run the agent over")
	cmd.Flags().BoolVar(&classify, "classify", false, "only print the task classification")
	return cmd
}

func newHistoryCmd(flags *globalFlags) *cobra.Command {
	var (
		limit  int
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recorded agent runs, newest first",
		Args:  cobra.NoArgs,
		RunE: withApp(flags, func(a *app, _ *cobra.Command, _ []string) error {
			entries, err := a.history().List()
			if err != nil {
				return err
			}
			if limit > 0 && len(entries) > limit {
				entries = entries[:limit]
			}
			if asJSON {
				return a.out.JSON(entries)
			}
			a.out.Markdown(formatHistory(entries))
			return nil
		}),
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "show at most n runs")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print runs as JSON")
	return cmd
}

func newSettingsCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Show or change the persisted optimization settings",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "show",
			Short: "Print the current settings",
			Args:  cobra.NoArgs,
			RunE: withApp(flags, func(a *app, _ *cobra.Command, _ []string) error {
				a.out.Markdown(formatSettings(a.settings.Settings()))
				return nil
			}),
		},
		&cobra.Command{
			Use:   "set <key> <value>",
			Short: "Change one setting",
			Args:  cobra.ExactArgs(2),
			RunE: withApp(flags, func(a *app, _ *cobra.Command, args []string) error {
				var setErr error
				updated, err := a.settings.Update(func(s *optimize.Settings) {
					next := *s
					if setErr = applySetting(&next, args[0], args[1]); setErr == nil {
						*s = next
					}
				})
				if setErr != nil {
					return setErr
				}
				if err != nil {
					return err
				}
				a.out.Markdown(formatSettings(updated))
				return nil
			}),
		},
		&cobra.Command{
			Use:   "reset",
			Short: "Restore the default settings",
			Args:  cobra.NoArgs,
			RunE: withApp(flags, func(a *app, _ *cobra.Command, _ []string) error {
				if err := a.settings.Reset(); err != nil {
					return err
				}
				a.out.Markdown(formatSettings(a.settings.Settings()))
				return nil
			}),
		},
	)
	return cmd
}

// applySetting parses value into the field named key. Keys match the
// persisted JSON names, case-insensitively.
func applySetting(s *optimize.Settings, key, value string) error {
	value = strings.TrimSpace(value)
	parseBool := func() (bool, error) {
		v, err := strconv.ParseBool(value)
		if err != nil {
			return false, fmt.Errorf("%s expects true or false, got %q", key, value)
		}
		return v, nil
	}
	var err error
	switch strings.ToLower(strings.TrimSpace(key)) {
	case "autooptimize":
		s.AutoOptimize, err = parseBool()
	case "prioritizerecent":
		s.PrioritizeRecent, err = parseBool()
	case "keepsystemprompts":
		s.KeepSystemPrompts, err = parseBool()
	case "maxcontextlength":
		var n int
		n, err = strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("%s expects an integer, got %q", key, value)
		}
		s.MaxContextLength = n
	case "compressionlevel":
		s.CompressionLevel = optimize.CompressionLevel(strings.ToLower(value))
	default:
		return fmt.Errorf("unknown setting %q", key)
	}
	return err
}
