// Package commands defines all Cobra CLI commands for the docsight binary.
package commands

import (
	"github.com/spf13/cobra"

	"github.com/docsight/docsight-go/internal/config"
	"github.com/docsight/docsight-go/internal/logging"
)

// configPath holds the --config flag value for YAML config file override.
var configPath string

// NewRootCmd constructs the root Cobra command that all subcommands attach to.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "docsight",
		Short: "docsight is an AI-powered document analysis backend",
		Long: `docsight ingests documents, indexes them for semantic search, and
generates summaries, structured extractions, risk reports, and comparisons
with a retrieval-augmented LLM pipeline.

Without a configured LLM provider the server runs in demo mode and returns
deterministic placeholder insights, so the full pipeline can be exercised
offline.

Model provider is selected via the LLM_PROVIDER environment variable or a
YAML config file (~/.docsight/config.yaml).
See 'docsight --help' for available commands.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			log := logging.New()

			// Load YAML config (env vars always override YAML values).
			_, err := config.Load(configPath, log)
			return err
		},
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML config file (default: ~/.docsight/config.yaml)")

	root.AddCommand(
		NewServeCmd(),
		NewProcessCmd(),
		NewVersionCmd(),
	)

	return root
}
