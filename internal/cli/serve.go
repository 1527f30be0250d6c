package cli

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/cortex-mcp/cortex/internal/server"
	"github.com/cortex-mcp/cortex/internal/store"
	"github.com/cortex-mcp/cortex/internal/tools"
)

func newServeCommand(configPath *string) *cobra.Command {
	var dbPath string
	var useMCP bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the context engine over stdio",
		Long: `Reads line-delimited JSON requests from stdin and writes one response
per request to stdout. With --mcp the same operations are exposed as
Model Context Protocol tools instead.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			if dbPath == "" {
				dbPath = cfg.DBPath()
			}

			st, err := store.Open(dbPath)
			if err != nil {
				return err
			}
			defer st.Close()
			slog.Info("store opened", "path", dbPath)

			handlers := tools.New(st, slog.Default())
			handlers.Defaults = tools.Defaults{
				ContextLimit:   cfg.Context.DefaultLimit,
				ScanMaxResults: cfg.Scanner.MaxResults,
				ScanIgnoreDirs: cfg.Scanner.IgnoreDirs,
			}

			if useMCP {
				return server.ServeMCPStdio(server.NewMCP(handlers, cmd.Root().Version))
			}
			return server.New(handlers, slog.Default()).Run(os.Stdin, os.Stdout)
		},
	}

	cmd.Flags().StringVar(&dbPath, "db", "", "database file (overrides config)")
	cmd.Flags().BoolVar(&useMCP, "mcp", false, "serve over the Model Context Protocol instead")

	return cmd
}
