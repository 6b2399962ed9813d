package cli

import (
	"github.com/spf13/cobra"
)

func RootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "codebook",
		Short:         "Index and query municipal zoning codebooks",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return SetupGlobalConfig(cmd)
		},
	}
	flags := root.PersistentFlags()
	flags.String("config", "codebook.yaml", "Path to the configuration file")
	flags.String("env-file", ".env", "Path to the environment variables file")
	flags.String("log-level", "info", "Log level (debug, info, warn, error)")
	flags.Bool("log-json", false, "Output logs in JSON format")
	flags.Bool("log-source", false, "Include source code location in logs")
	flags.String("output", "", "Output format (json, text); detected from the terminal when empty")
	flags.String("vector-provider", "", "Vector store provider (qdrant, pgvector, local, memory)")
	flags.String("vector-url", "", "Qdrant base URL")
	flags.String("vector-path", "", "Snapshot file for the local vector store")

	root.AddCommand(
		StatusCmd(),
		CreateCmd(),
		IngestCmd(),
		RepopulateCmd(),
		QueryCmd(),
		PurgeCmd(),
		ClearCmd(),
		ChunksCmd(),
	)
	return root
}
