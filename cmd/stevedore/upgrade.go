package main

import (
	"github.com/spf13/cobra"
)

func newUpgradeCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "upgrade",
		Short: "reinstall every installed package at its current mirror version",
		Long: "Upgrade snapshots the installed set, wipes the prefix, and\n" +
			"reinstalls everything from the mirror. Packages that have vanished\n" +
			"from the mirror are skipped with a warning. If the run is\n" +
			"interrupted, the snapshot survives and the next upgrade resumes\n" +
			"from it.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(flags)
			if err != nil {
				return err
			}
			inst, sess, err := app.installer(cmd.Context(), flags)
			if err != nil {
				return err
			}
			defer sess.Release()

			if err := inst.Upgrade(cmd.Context()); err != nil {
				sess.ReportFailure(err)
				return err
			}
			return nil
		},
	}
}
