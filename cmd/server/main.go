// Package main is the entry point for the research server.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

// newRootCommand creates the root command. Without a subcommand it serves the
// research API.
func newRootCommand() *cobra.Command {
	serve := newServeCommand()

	cmd := &cobra.Command{
		Use:   "research-analyzer",
		Short: "Research paper analyzer backend",
		Long: `Research paper analyzer backend

Streams multi-step research runs from the reasoning platform to web clients
and hosts the academic-search tool the platform calls back into.

Examples:
  research-analyzer                         # serve the API
  research-analyzer arxiv                   # run the academic-search tool service
  research-analyzer catalog                 # print engines and tools
  research-analyzer search "LDPC codes"     # query a running tool service`,
		SilenceUsage: true,
		RunE:         serve.RunE,
	}
	cmd.AddCommand(serve, newArxivCommand(), newCatalogCommand(), newSearchCommand())
	return cmd
}
