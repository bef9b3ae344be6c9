package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/aschepis/backscratcher/llmrt/config"
)

var version = "dev"

// globalFlags are shared by every subcommand.
type globalFlags struct {
	configPath string
	logFile    string
	pretty     bool
	logLevel   string
}

func main() {
	if err := config.LoadDotEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
	}
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}
	root := &cobra.Command{
		Use:   "llmrt",
		Short: "Talk to LLM providers with tools, retries and call logging",
		Long: `llmrt sends chat requests to OpenAI, Anthropic or Ollama through one
runtime that adds rate limiting, retries, function calling with cached tool
results, and a persistent call log.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			if flags.logFile != "" && flags.pretty {
				return fmt.Errorf("--logfile and --pretty are mutually exclusive")
			}
			return nil
		},
	}
	root.PersistentFlags().StringVar(&flags.configPath, "config", config.GetConfigPath(), "Path to the config file")
	root.PersistentFlags().StringVar(&flags.logFile, "logfile", "", "Write JSON logs to this file instead of stderr")
	root.PersistentFlags().BoolVar(&flags.pretty, "pretty", false, "Human-readable log output on stderr")
	root.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "Log level (debug|info|warn|error); defaults to LOG_LEVEL or warn")

	root.AddCommand(
		chatCmd(flags),
		providersCmd(flags),
		toolsCmd(flags),
		logsCmd(flags),
	)
	return root
}
