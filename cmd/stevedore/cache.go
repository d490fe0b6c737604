package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/OrinWestfall/stevedore/internal/install"
	"github.com/OrinWestfall/stevedore/internal/session"
)

func newClearCacheCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "clear-cache",
		Short: "delete downloaded archives and the search index",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(flags)
			if err != nil {
				return err
			}
			cacheDir := app.cfg.CacheDir()
			entries, err := os.ReadDir(cacheDir)
			if err != nil {
				if os.IsNotExist(err) {
					return nil
				}
				return fmt.Errorf("read cache directory: %w", err)
			}
			for _, entry := range entries {
				if err := os.RemoveAll(filepath.Join(cacheDir, entry.Name())); err != nil {
					return fmt.Errorf("clear cache: %w", err)
				}
			}
			app.logger.Info("cache cleared", "path", cacheDir)
			return nil
		},
	}
}

func newRemoveDylibsCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "remove-dylibs",
		Short: "delete shared libraries from the install prefix",
		Long: "Remove every shared library already present under the install\n" +
			"prefix, matching what --static would have done at install time.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(flags)
			if err != nil {
				return err
			}
			// Purely local mutation of the prefix: take the lock but
			// skip mirror and platform wiring.
			sess, err := session.Acquire(app.cfg.Root, app.logger)
			if err != nil {
				return err
			}
			defer sess.Release()

			inst := &install.Installer{Prefix: app.cfg.PrefixDir(), Logger: app.logger}
			removed, err := inst.RemoveSharedLibraries()
			if err != nil {
				return err
			}
			app.logger.Info("shared libraries removed", "count", removed)
			return nil
		},
	}
}
