package install

import (
	"context"
	"fmt"
	"os"
)

// Upgrade re-installs every package recorded in the install database.
//
// The database is renamed aside and the prefix cleared, then each
// previously installed name goes back through Install in tolerant mode:
// packages that have vanished from the mirror are skipped with a warning
// instead of aborting the whole upgrade. If an earlier upgrade was
// interrupted, its aside snapshot is picked up as the installed set.
func (in *Installer) Upgrade(ctx context.Context) error {
	names, err := in.DB.SnapshotAndClear()
	if err != nil {
		return err
	}

	if err := os.RemoveAll(in.Prefix); err != nil {
		return fmt.Errorf("clear install prefix: %w", err)
	}
	if err := os.MkdirAll(in.Prefix, 0o755); err != nil {
		return fmt.Errorf("recreate install prefix: %w", err)
	}

	in.Logger.Info("upgrading installed packages", "count", len(names))

	tolerant := in.Tolerant
	in.Tolerant = true
	defer func() { in.Tolerant = tolerant }()

	if err := in.InstallAll(ctx, names); err != nil {
		return err
	}
	return in.DB.DiscardSnapshot()
}
