// Package commands defines all Cobra CLI commands for the chatedu binary.
package commands

import (
	"github.com/spf13/cobra"

	"github.com/54b3r/chatedu-go/internal/audit"
	"github.com/54b3r/chatedu-go/internal/config"
	"github.com/54b3r/chatedu-go/internal/logging"
)

// configPath holds the --config flag value for YAML config file override.
var configPath string

// loadedConfigPath stores the resolved config file path for audit logging.
var loadedConfigPath string

// NewRootCmd constructs the root Cobra command that all subcommands attach to.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "chatedu",
		Short: "chatedu: course-grounded chat, flashcards and mind maps",
		Long: `chatedu answers student questions from their own course material.

Course PDFs are split into chunks, embedded and stored in a vector index
partitioned by course. Questions are answered by an LLM using the most similar
chunks as context, and whole courses can be turned into flashcards or a mind
map.

Model provider is selected via the MODEL_PROVIDER environment variable
or a YAML config file (~/.chatedu/config.yaml). A .env file in the working
directory is loaded first when present.
See 'chatedu --help' for available commands.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			log := logging.New()

			// Load YAML config (env vars always override YAML values).
			path, err := config.Load(configPath, log)
			if err != nil {
				return err
			}
			loadedConfigPath = path

			audit.LogCommandStart(log, cmd.Name(), loadedConfigPath)

			return nil
		},
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML config file (default: ~/.chatedu/config.yaml)")

	root.AddCommand(
		NewServeCmd(),
		NewIngestCmd(),
		NewResetCmd(),
		NewMCPCmd(),
		NewStatusCmd(),
		NewVersionCmd(),
	)

	return root
}
