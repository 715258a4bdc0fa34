package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// Version is stamped at build time.
var Version = "dev"

func main() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "Warning: could not load .env: %v\n", err)
	}
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}
	root := &cobra.Command{
		Use:           "turnkit",
		Short:         "Token budgeting, context optimization and multi-step agents for chat turns",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	pf := root.PersistentFlags()
	pf.StringVar(&flags.configPath, "config", "", "config file (default $TURNKIT_CONFIG_PATH or ~/.turnkit/config.yaml)")
	pf.StringVar(&flags.provider, "provider", "", "model provider (openrouter or mock)")
	pf.StringVar(&flags.model, "model", "", "model name")
	pf.StringVar(&flags.workspace, "workspace", "", "workspace root used for file context")
	pf.StringVar(&flags.logLevel, "log-level", "", "log level (debug, info, warn, error, quiet)")
	pf.BoolVar(&flags.mock, "mock", false, "use the deterministic mock model")

	root.AddCommand(
		newBudgetCmd(flags),
		newAnalyzeCmd(flags),
		newOptimizeCmd(flags),
		newAgentCmd(flags),
		newChatCmd(flags),
		newSettingsCmd(flags),
		newHistoryCmd(flags),
	)
	return root
}
