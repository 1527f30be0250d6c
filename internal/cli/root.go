// Package cli provides the command-line interface for cortex.
package cli

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/cortex-mcp/cortex/internal/config"
)

// NewRootCommand creates the root command.
func NewRootCommand(version string) *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:   "cortex",
		Short: "Persistent context engine for AI coding sessions",
		Long: `cortex records sessions, conversation history, hierarchical tasks and
code markers in a local SQLite database, and serves them to clients over
a line-delimited JSON protocol on stdio.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "path to YAML config file")

	root.AddCommand(newServeCommand(&configPath))
	root.AddCommand(newScanCommand())

	return root
}

// loadConfig reads the config and installs the slog default logger on
// stderr. stdout is reserved for protocol responses.
func loadConfig(path string) (config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return cfg, err
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	return cfg, nil
}
