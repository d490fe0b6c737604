// Package pkgtar unpacks binary package archives. Extraction failures are
// reported under their own sentinel so callers can tell a corrupt archive
// apart from an integrity (signature) failure.
package pkgtar

import (
	"errors"
	"fmt"
	"os"

	"github.com/mholt/archiver/v3"
)

// ErrExtract means the archive could not be unpacked.
var ErrExtract = errors.New("archive extraction failed")

// Extract unpacks a gzip-compressed tar archive into destDir, creating the
// directory if needed. The archive's entries land directly under destDir.
func Extract(archivePath, destDir string) error {
	if err := os.MkdirAll(destDir, 0755); err != nil {
		return fmt.Errorf("create extraction dir: %w", err)
	}

	tgz := archiver.NewTarGz()
	tgz.OverwriteExisting = true
	if err := tgz.Unarchive(archivePath, destDir); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrExtract, archivePath, err)
	}
	return nil
}
