package main

import (
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"research-analyzer/internal/config"
)

func newCatalogCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "catalog",
		Short: "Print the effective engine and tool catalogs as YAML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cat, err := loadCatalog(config.Read())
			if err != nil {
				return err
			}
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			if err := enc.Encode(cat); err != nil {
				return err
			}
			return enc.Close()
		},
	}
}
