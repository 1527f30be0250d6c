package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cortex-mcp/cortex/internal/scanner"
)

func newScanCommand() *cobra.Command {
	var (
		include    []string
		exclude    []string
		types      []string
		ignoreDirs []string
		maxResults int
		asJSON     bool
	)

	cmd := &cobra.Command{
		Use:   "scan [path]",
		Short: "Scan a source tree for TODO/FIXME style markers",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "."
			if len(args) == 1 {
				path = args[0]
			}

			result, err := scanner.Scan(scanner.Options{
				Path:            path,
				IncludePatterns: include,
				ExcludePatterns: exclude,
				Types:           types,
				IgnoreDirs:      ignoreDirs,
				MaxResults:      maxResults,
			})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(result)
			}

			for _, f := range result.Markers {
				fmt.Fprintf(out, "%s:%d: %s: %s\n", f.File, f.Line, f.Type, f.Text)
			}
			fmt.Fprintf(out, "%d marker(s) in %d file(s)", result.Total, result.FilesScanned)
			if result.Truncated {
				fmt.Fprint(out, " (truncated)")
			}
			fmt.Fprintln(out)
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&include, "include", nil, "glob patterns to include")
	cmd.Flags().StringSliceVar(&exclude, "exclude", nil, "glob patterns to exclude")
	cmd.Flags().StringSliceVar(&types, "type", nil, "marker types to search for (default all)")
	cmd.Flags().StringSliceVar(&ignoreDirs, "ignore-dir", nil, "extra directory names to skip")
	cmd.Flags().IntVar(&maxResults, "max-results", 100, "cap on findings")
	cmd.Flags().BoolVar(&asJSON, "json", false, "emit the full result as JSON")

	return cmd
}
