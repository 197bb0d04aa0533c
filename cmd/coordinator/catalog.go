package main

import (
	"github.com/spf13/cobra"

	"github.com/zerverless/coordinator/internal/config"
)

func newCatalogCmd() *cobra.Command {
	var cfg config.Config

	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Validate and print a job type catalog",
		Long: "Loads the catalog from --file (or the built-in one), validates it and prints it as YAML.\n" +
			"With --git the file is read from a checkout of that repository.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cat, err := loadCatalog(&cfg)
			if err != nil {
				return err
			}
			data, err := cat.Marshal()
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
	cmd.Flags().StringVar(&cfg.CatalogPath, "file", "", "catalog YAML file")
	cmd.Flags().StringVar(&cfg.CatalogGitURL, "git", "", "git repository holding the catalog")
	cmd.Flags().StringVar(&cfg.CatalogGitBranch, "branch", "main", "branch to check out with --git")
	cmd.Flags().StringVar(&cfg.DataDir, "data-dir", "", "where to keep the checkout (default: temp dir)")
	return cmd
}
