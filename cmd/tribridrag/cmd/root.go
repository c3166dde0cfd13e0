// Package cmd provides the CLI commands for TriBridRAG.
package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/tribridrag/tribridrag/internal/config"
	"github.com/tribridrag/tribridrag/internal/logging"
	"github.com/tribridrag/tribridrag/pkg/version"
)

// rootOptions are the persistent flags shared by every subcommand.
type rootOptions struct {
	configPath string
	dataDir    string
	debug      bool
}

var rootOpts rootOptions

// NewRootCmd creates the root command for the tribridrag CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tribridrag",
		Short: "Tri-brid retrieval over source-code corpora",
		Long: `TriBridRAG indexes source-code corpora and serves tri-brid search:
dense vector, sparse BM25, and graph-walk retrieval fused with
reciprocal rank fusion, with an optional cross-encoder reranker.

Start with 'tribridrag index <path>' and then 'tribridrag query'.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.SetVersionTemplate("tribridrag version {{.Version}}\n")

	cmd.PersistentFlags().StringVar(&rootOpts.configPath, "config", "", "Config file path (YAML)")
	cmd.PersistentFlags().StringVar(&rootOpts.dataDir, "data-dir", "", "Override the data directory")
	cmd.PersistentFlags().BoolVar(&rootOpts.debug, "debug", false, "Enable debug logging")

	cmd.AddCommand(newInitCmd())
	cmd.AddCommand(newIndexCmd())
	cmd.AddCommand(newQueryCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newEventsCmd())
	cmd.AddCommand(newTrainCmd())
	cmd.AddCommand(newPromoteCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// Execute runs the CLI.
func Execute() error {
	cmd := NewRootCmd()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return err
	}
	return nil
}

// loadConfig reads configuration honoring the persistent flags.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(rootOpts.configPath)
	if err != nil {
		return nil, err
	}
	if rootOpts.dataDir != "" {
		cfg.SetDataDir(rootOpts.dataDir)
	}
	if rootOpts.debug {
		cfg.Logging.Level = "debug"
	}
	return &cfg, nil
}

// setupLogging installs the configured logger as the process default
// and returns its cleanup.
func setupLogging(cfg *config.Config) (*slog.Logger, func()) {
	logCfg := logging.Config{
		Level:         cfg.Logging.Level,
		FilePath:      cfg.Logging.FilePath,
		MaxSizeMB:     cfg.Logging.MaxSizeMB,
		MaxFiles:      cfg.Logging.MaxFiles,
		WriteToStderr: false,
	}
	logger, cleanup, err := logging.Setup(logCfg)
	if err != nil {
		// Fall back to stderr logging rather than failing the command.
		logger = slog.Default()
		cleanup = func() {}
	}
	slog.SetDefault(logger)
	return logger, cleanup
}
