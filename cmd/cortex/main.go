package main

import (
	"fmt"
	"os"

	"github.com/cortex-mcp/cortex/internal/cli"
)

// version is set at build time via ldflags.
var version = "dev"

func main() {
	if err := cli.NewRootCommand(version).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
