// Package testutil provides utilities for testing stevedore in isolation.
package testutil

import (
	"os"
	"path/filepath"
	"testing"
)

// SetupTestEnv points stevedore's environment configuration at a temporary
// install root so tests never touch a real installation. The root keeps the
// production layout (pkg/, cache/), and cleanup is handled by t.TempDir().
// It returns the root path.
func SetupTestEnv(t *testing.T) string {
	t.Helper()

	root := filepath.Join(t.TempDir(), "root")

	t.Setenv("STEVEDORE_ROOT", root)
	// Keep runs hermetic: never inherit a mirror or target override from
	// the developer's shell.
	t.Setenv("STEVEDORE_MIRROR", "")
	t.Setenv("STEVEDORE_TARGET", "")
	t.Setenv("STEVEDORE_CA_BUNDLE", "")

	dirs := []string{
		root,
		filepath.Join(root, "pkg"),
		filepath.Join(root, "cache"),
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			t.Fatalf("failed to create test directory %s: %v", dir, err)
		}
	}
	return root
}
