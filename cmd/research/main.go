// Command research runs research orchestration from the command line.
//
// A run plans search queries for a topic with a language model, searches the
// configured providers in parallel, asks the model to assess the sources and
// loops back to planning until the quality gate accepts them, then writes a
// markdown report.
//
// # Configuration
//
// Settings come from an optional YAML file (--config) overridden by
// environment variables:
//
//	RESEARCH_MODEL_PROVIDER  - anthropic, openai or bedrock (default: anthropic)
//	RESEARCH_MODEL           - model identifier
//	ANTHROPIC_API_KEY        - Anthropic credentials
//	OPENAI_API_KEY           - OpenAI credentials
//	AWS_REGION               - Bedrock region (credentials from AWS_* variables)
//	RESEARCH_PROVIDERS       - comma separated search providers
//	TAVILY_API_KEY           - Tavily credentials
//	SERPER_API_KEY           - Serper credentials
//	RESEARCH_MAX_ITERATIONS  - refinement loops (default: 2)
//	RESEARCH_MIN_QUALITY     - acceptance threshold (default: 7.0)
//	RESEARCH_CACHE_BACKEND   - memory, redis or mongo
//	RESEARCH_SESSIONS_BACKEND - memory or mongo
//	RESEARCH_MONGO_LOG       - store events in MongoDB for history
//	REDIS_URL, MONGO_URI, NATS_URL
//
// # Example
//
//	ANTHROPIC_API_KEY=... research run "solid state batteries" --output report.md
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"goa.design/clue/log"
)

type globalFlags struct {
	configPath string
	debug      bool
	logFormat  string
}

func main() {
	if err := rootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var g globalFlags
	cmd := &cobra.Command{
		Use:           "research",
		Short:         "Autonomous deep research runs",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			ctx, err := logContext(cmd.Context(), g.logFormat, g.debug)
			if err != nil {
				return err
			}
			cmd.SetContext(ctx)
			return nil
		},
	}
	cmd.PersistentFlags().StringVarP(&g.configPath, "config", "c", "", "Config file path (YAML)")
	cmd.PersistentFlags().BoolVar(&g.debug, "debug", false, "Enable debug logs")
	cmd.PersistentFlags().StringVar(&g.logFormat, "log-format", "", "Log format: terminal or json (default: terminal on a TTY)")

	cmd.AddCommand(
		runCmd(&g),
		watchCmd(&g),
		historyCmd(&g),
		snapshotCmd(&g),
		sessionsCmd(&g),
		cacheCmd(&g),
		healthCmd(&g),
	)
	return cmd
}

func logContext(ctx context.Context, format string, debug bool) (context.Context, error) {
	var f log.FormatFunc
	switch format {
	case "":
		f = log.FormatJSON
		if log.IsTerminal() {
			f = log.FormatTerminal
		}
	case "json":
		f = log.FormatJSON
	case "terminal":
		f = log.FormatTerminal
	default:
		return nil, fmt.Errorf("unknown log format %q", format)
	}
	ctx = log.Context(ctx, log.WithFormat(f), log.WithOutput(os.Stderr))
	if debug {
		ctx = log.Context(ctx, log.WithDebug())
		log.Debugf(ctx, "debug logs enabled")
	}
	return ctx, nil
}
