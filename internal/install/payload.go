package install

import (
	"bufio"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/OrinWestfall/stevedore/internal/pkgtar"
)

const (
	// PayloadDir is the conventional payload subtree inside an archive.
	// Its contents mirror the install prefix.
	PayloadDir = "pkg"
	// ManifestFilename is the per-archive contents manifest.
	ManifestFilename = "+CONTENTS"
	// DependencyMarker tags manifest lines that declare a dependency.
	DependencyMarker = "@pkgdep"
)

// extractAndMerge unpacks an archive into a scratch directory, merges its
// payload into the install prefix, and returns the dependency names its
// manifest declares. The scratch directory is cleared before returning.
func (in *Installer) extractAndMerge(archivePath string) ([]string, error) {
	scratch := filepath.Join(in.CacheDir, "scratch")
	if err := os.RemoveAll(scratch); err != nil {
		return nil, fmt.Errorf("clear scratch dir: %w", err)
	}
	defer os.RemoveAll(scratch)

	if err := pkgtar.Extract(archivePath, scratch); err != nil {
		return nil, err
	}

	payload := scratch
	if info, err := os.Stat(filepath.Join(scratch, PayloadDir)); err == nil && info.IsDir() {
		payload = filepath.Join(scratch, PayloadDir)
	}

	if err := normalizePayload(payload, in.Static); err != nil {
		return nil, fmt.Errorf("normalize payload: %w", err)
	}

	if err := mergeTree(payload, in.Prefix); err != nil {
		// A prior partial install can leave dangling symlinks that
		// make the merge fail; prune them and retry exactly once.
		in.Logger.Debug("merge failed, pruning dangling symlinks and retrying", "err", err)
		pruneDanglingSymlinks(payload)
		if err := mergeTree(payload, in.Prefix); err != nil {
			return nil, fmt.Errorf("%w: merge payload into prefix: %v", pkgtar.ErrExtract, err)
		}
	}

	return readManifest(filepath.Join(scratch, ManifestFilename))
}

// normalizePayload fixes up permissions across the payload tree:
// directories lose world access, regular files lose world write. Shared
// libraries are removed entirely in static mode, made executable otherwise.
func normalizePayload(dir string, static bool) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == dir || d.Type()&fs.ModeSymlink != 0 {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}

		switch {
		case d.IsDir():
			return os.Chmod(path, info.Mode().Perm()&^0o007)
		case isSharedLibrary(d.Name()):
			if static {
				return os.Remove(path)
			}
			return os.Chmod(path, 0o755)
		default:
			return os.Chmod(path, info.Mode().Perm()&^0o002)
		}
	})
}

// RemoveSharedLibraries deletes every shared library under the install
// prefix and returns how many were removed. This is the after-the-fact
// counterpart of installing with Static set.
func (in *Installer) RemoveSharedLibraries() (int, error) {
	removed := 0
	err := filepath.WalkDir(in.Prefix, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() || !isSharedLibrary(d.Name()) {
			return nil
		}
		if err := os.Remove(path); err != nil {
			return err
		}
		in.Logger.Debug("removed shared library", "file", path)
		removed++
		return nil
	})
	if err != nil {
		return removed, fmt.Errorf("remove shared libraries: %w", err)
	}
	return removed, nil
}

// isSharedLibrary reports whether a filename names a shared library.
func isSharedLibrary(name string) bool {
	return strings.HasSuffix(name, ".dylib") ||
		strings.HasSuffix(name, ".so") ||
		strings.Contains(name, ".so.")
}

// mergeTree copies the tree rooted at src into dst, overwriting existing
// entries. Symlinks are recreated, not followed.
func mergeTree(src, dst string) error {
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return os.MkdirAll(dst, 0o755)
		}
		target := filepath.Join(dst, rel)

		switch {
		case d.IsDir():
			return os.MkdirAll(target, 0o755)
		case d.Type()&fs.ModeSymlink != 0:
			linkTarget, err := os.Readlink(path)
			if err != nil {
				return err
			}
			if err := os.Remove(target); err != nil && !os.IsNotExist(err) {
				return err
			}
			return os.Symlink(linkTarget, target)
		default:
			return copyFile(path, target)
		}
	})
}

func copyFile(src, dst string) error {
	info, err := os.Stat(src)
	if err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	if err := os.Remove(dst); err != nil && !os.IsNotExist(err) {
		return err
	}
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// pruneDanglingSymlinks removes symlinks under dir whose targets do not
// resolve.
func pruneDanglingSymlinks(dir string) {
	filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.Type()&fs.ModeSymlink == 0 {
			return nil
		}
		if _, err := os.Stat(path); err != nil {
			os.Remove(path)
		}
		return nil
	})
}

// readManifest extracts declared dependency names from a contents
// manifest. Each dependency line reads "@pkgdep name-version"; the
// trailing dash component is the version and is trimmed off. A dependency
// field without a version suffix is malformed and rejected rather than
// guessed at. A missing manifest means no dependencies.
func readManifest(path string) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open manifest: %w", err)
	}
	defer file.Close()

	var deps []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, DependencyMarker+" ") {
			continue
		}
		field := strings.TrimSpace(strings.TrimPrefix(line, DependencyMarker+" "))
		idx := strings.LastIndex(field, "-")
		if idx <= 0 {
			return nil, fmt.Errorf("manifest %s: malformed %s entry %q", path, DependencyMarker, field)
		}
		deps = append(deps, field[:idx])
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	return deps, nil
}
