package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newSearchCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "search <substring>",
		Short: "search the mirror's package names",
		Long: "Search matches package names case-insensitively against a cached\n" +
			"index of the mirror listing. The index is built on first use; run\n" +
			"update-cache to refresh it.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(flags)
			if err != nil {
				return err
			}
			matches, err := app.index().Search(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			for _, name := range matches {
				fmt.Println(name)
			}
			return nil
		},
	}
}

func newUpdateCacheCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "update-cache",
		Short: "rebuild the cached search index from the mirror listing",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(flags)
			if err != nil {
				return err
			}
			if err := app.index().Rebuild(cmd.Context()); err != nil {
				return err
			}
			app.logger.Info("search index rebuilt", "path", app.cfg.IndexPath())
			return nil
		},
	}
}
