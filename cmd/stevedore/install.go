package main

import (
	"github.com/spf13/cobra"

	"github.com/OrinWestfall/stevedore/internal/install"
	"github.com/OrinWestfall/stevedore/internal/ledger"
	"github.com/OrinWestfall/stevedore/internal/session"
)

func newInstallCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "install <package>...",
		Short: "install packages and their dependencies",
		Args:  cobra.MinimumNArgs(1),
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

			if err := inst.InstallAll(cmd.Context(), args); err != nil {
				sess.ReportFailure(err)
				return err
			}
			return nil
		},
	}
}

func newFakeInstallCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "fake-install <package>...",
		Short: "register packages as installed without downloading anything",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(flags)
			if err != nil {
				return err
			}
			// Only the ledger is touched: take the lock but skip
			// mirror and platform wiring, so registration works even
			// where host detection cannot.
			sess, err := session.Acquire(app.cfg.Root, app.logger)
			if err != nil {
				return err
			}
			defer sess.Release()

			inst := &install.Installer{DB: ledger.Open(app.cfg.LedgerPath()), Logger: app.logger}
			return inst.FakeInstall(args)
		},
	}
}
