// Package ledger tracks installed package names in a flat, append-only
// database file: one name per line, each name at most once.
package ledger

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// AsideSuffix is appended to the database path for the upgrade-time
// snapshot.
const AsideSuffix = ".aside"

// ErrNoSnapshot means neither the live database nor an aside copy exists,
// so there is nothing to snapshot or restore.
var ErrNoSnapshot = errors.New("no install database or snapshot present")

// DB is the install database.
type DB struct {
	path string
}

// Open returns a DB backed by the given file. The file need not exist:
// a missing database means nothing is installed.
func Open(path string) *DB {
	return &DB{path: path}
}

// Path returns the database file path.
func (d *DB) Path() string {
	return d.path
}

func (d *DB) asidePath() string {
	return d.path + AsideSuffix
}

// IsInstalled reports whether name is recorded in the database.
func (d *DB) IsInstalled(name string) (bool, error) {
	names, err := readNames(d.path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	for _, n := range names {
		if n == name {
			return true, nil
		}
	}
	return false, nil
}

// Record appends name to the database. Callers check IsInstalled first;
// Record itself never deduplicates.
func (d *DB) Record(name string) error {
	if err := os.MkdirAll(filepath.Dir(d.path), 0755); err != nil {
		return fmt.Errorf("create database dir: %w", err)
	}
	file, err := os.OpenFile(d.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("open install database: %w", err)
	}
	defer file.Close()
	if _, err := fmt.Fprintln(file, name); err != nil {
		return fmt.Errorf("append to install database: %w", err)
	}
	return file.Close()
}

// Names returns every recorded name in record order.
func (d *DB) Names() ([]string, error) {
	names, err := readNames(d.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return names, nil
}

// SnapshotAndClear moves the installed set to the aside path and clears
// the live database, returning the snapshotted names. When an aside copy
// from an interrupted upgrade already exists, the snapshot becomes the
// union of that copy and whatever the interrupted run re-recorded, so no
// number of interruptions can shrink the set being upgraded.
func (d *DB) SnapshotAndClear() ([]string, error) {
	live, liveErr := readNames(d.path)
	if liveErr != nil && !os.IsNotExist(liveErr) {
		return nil, liveErr
	}
	aside, asideErr := readNames(d.asidePath())
	if asideErr != nil && !os.IsNotExist(asideErr) {
		return nil, asideErr
	}
	if os.IsNotExist(liveErr) && os.IsNotExist(asideErr) {
		return nil, ErrNoSnapshot
	}

	names := aside
	seen := make(map[string]struct{}, len(aside))
	for _, n := range aside {
		seen[n] = struct{}{}
	}
	for _, n := range live {
		if _, ok := seen[n]; !ok {
			seen[n] = struct{}{}
			names = append(names, n)
		}
	}

	if err := d.writeAside(names); err != nil {
		return nil, err
	}
	if err := os.Remove(d.path); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("clear install database: %w", err)
	}
	return names, nil
}

// writeAside persists names to the aside path with a write-then-rename so
// an interruption never leaves a torn snapshot.
func (d *DB) writeAside(names []string) error {
	var b strings.Builder
	for _, n := range names {
		b.WriteString(n)
		b.WriteByte('\n')
	}
	tmp := d.asidePath() + ".tmp"
	if err := os.WriteFile(tmp, []byte(b.String()), 0644); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := os.Rename(tmp, d.asidePath()); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	return nil
}

// DiscardSnapshot removes the aside copy after a completed upgrade.
func (d *DB) DiscardSnapshot() error {
	if err := os.Remove(d.asidePath()); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("discard snapshot: %w", err)
	}
	return nil
}

func readNames(path string) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var names []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" {
			names = append(names, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read install database: %w", err)
	}
	return names, nil
}
