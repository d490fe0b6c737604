package install

import (
	"io"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/charmbracelet/log"
)

func writeFileTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		path := filepath.Join(root, name)
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
	}
}

func TestMergeTreeOverwritesAndLinks(t *testing.T) {
	src := t.TempDir()
	dst := t.TempDir()
	writeFileTree(t, src, map[string]string{
		"bin/tool":   "new tool",
		"share/note": "note",
	})
	if err := os.Symlink("tool", filepath.Join(src, "bin", "tool-link")); err != nil {
		t.Fatal(err)
	}
	writeFileTree(t, dst, map[string]string{"bin/tool": "old tool"})

	if err := mergeTree(src, dst); err != nil {
		t.Fatalf("mergeTree: %v", err)
	}

	data, _ := os.ReadFile(filepath.Join(dst, "bin", "tool"))
	if string(data) != "new tool" {
		t.Errorf("merged file = %q, want overwrite", data)
	}
	target, err := os.Readlink(filepath.Join(dst, "bin", "tool-link"))
	if err != nil || target != "tool" {
		t.Errorf("merged symlink = %q, %v", target, err)
	}
}

func TestMergeTreeConflict(t *testing.T) {
	src := t.TempDir()
	dst := t.TempDir()
	// Source has a directory where the destination has a regular file.
	writeFileTree(t, src, map[string]string{"lib/inner/file": "x"})
	writeFileTree(t, dst, map[string]string{"lib": "i am a file"})

	if err := mergeTree(src, dst); err == nil {
		t.Error("mergeTree with dir/file conflict succeeded, want error")
	}
}

func TestPruneDanglingSymlinks(t *testing.T) {
	dir := t.TempDir()
	writeFileTree(t, dir, map[string]string{"bin/tool": "tool"})
	if err := os.Symlink("tool", filepath.Join(dir, "bin", "good")); err != nil {
		t.Fatal(err)
	}
	if err := os.Symlink("gone", filepath.Join(dir, "bin", "dangling")); err != nil {
		t.Fatal(err)
	}

	pruneDanglingSymlinks(dir)

	if _, err := os.Lstat(filepath.Join(dir, "bin", "good")); err != nil {
		t.Errorf("valid symlink removed: %v", err)
	}
	if _, err := os.Lstat(filepath.Join(dir, "bin", "dangling")); !os.IsNotExist(err) {
		t.Error("dangling symlink survived pruning")
	}
}

func TestExtractAndMergeRetriesAfterPruning(t *testing.T) {
	root := t.TempDir()
	inst := &Installer{
		CacheDir: filepath.Join(root, "cache"),
		Prefix:   filepath.Join(root, "prefix"),
		Logger:   log.New(io.Discard),
	}

	// The payload carries a dangling symlink at a path that is a
	// non-empty directory in the prefix: the first merge fails trying to
	// replace the directory, the retry succeeds once the dangling link
	// is pruned.
	writeFileTree(t, inst.Prefix, map[string]string{"bin/tool/keep": "keep me"})
	archive := buildTgz(t, []tarEntry{
		file(ManifestFilename, manifestFor("partial-1.0_0", nil)),
		dir(PayloadDir + "/"),
		dir(PayloadDir + "/bin/"),
		symlink(PayloadDir+"/bin/tool", "gone"),
		file(PayloadDir+"/bin/other", "other"),
	})
	archivePath := filepath.Join(root, "partial-1.0_0.osx14.tgz")
	if err := os.MkdirAll(inst.CacheDir, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(archivePath, archive, 0644); err != nil {
		t.Fatal(err)
	}

	deps, err := inst.extractAndMerge(archivePath)
	if err != nil {
		t.Fatalf("extractAndMerge: %v", err)
	}
	if deps != nil {
		t.Errorf("deps = %v, want none", deps)
	}

	data, err := os.ReadFile(filepath.Join(inst.Prefix, "bin", "tool", "keep"))
	if err != nil || string(data) != "keep me" {
		t.Errorf("existing prefix content = %q, %v; want preserved", data, err)
	}
	data, _ = os.ReadFile(filepath.Join(inst.Prefix, "bin", "other"))
	if string(data) != "other" {
		t.Errorf("payload file = %q, want %q", data, "other")
	}
	// Scratch is cleared after the merge.
	if _, err := os.Stat(filepath.Join(inst.CacheDir, "scratch")); !os.IsNotExist(err) {
		t.Error("scratch directory not cleared")
	}
}

func TestNormalizePayloadPermissions(t *testing.T) {
	dir := t.TempDir()
	writeFileTree(t, dir, map[string]string{"share/doc/readme": "doc"})
	if err := os.Chmod(filepath.Join(dir, "share"), 0777); err != nil {
		t.Fatal(err)
	}
	if err := os.Chmod(filepath.Join(dir, "share", "doc", "readme"), 0666); err != nil {
		t.Fatal(err)
	}

	if err := normalizePayload(dir, false); err != nil {
		t.Fatalf("normalizePayload: %v", err)
	}

	info, _ := os.Stat(filepath.Join(dir, "share"))
	if perm := info.Mode().Perm(); perm&0o007 != 0 {
		t.Errorf("directory perm = %o, want no world access", perm)
	}
	info, _ = os.Stat(filepath.Join(dir, "share", "doc", "readme"))
	if perm := info.Mode().Perm(); perm&0o002 != 0 {
		t.Errorf("file perm = %o, want no world write", perm)
	}
}

func TestReadManifest(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name    string
		content string
		want    []string
		wantErr bool
		noFile  bool
	}{
		{
			name:    "dependencies",
			content: "@name app-1.0_0\n@pkgdep libbar-1.0\ncomment line\n@pkgdep libbaz-3.2_1\n",
			want:    []string{"libbar", "libbaz"},
		},
		{
			name:    "no_dependencies",
			content: "@name app-1.0_0\nshare/doc/readme\n",
		},
		{
			name:    "malformed_entry",
			content: "@pkgdep nodash\n",
			wantErr: true,
		},
		{
			name:   "missing_manifest",
			noFile: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, tt.name)
			if !tt.noFile {
				if err := os.WriteFile(path, []byte(tt.content), 0644); err != nil {
					t.Fatal(err)
				}
			}
			got, err := readManifest(path)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("readManifest = %v, want error", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("readManifest: %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("readManifest = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsSharedLibrary(t *testing.T) {
	tests := []struct {
		name string
		want bool
	}{
		{"libssl.dylib", true},
		{"libssl.so", true},
		{"libssl.so.3", true},
		{"libssl.a", false},
		{"readme.txt", false},
	}
	for _, tt := range tests {
		if got := isSharedLibrary(tt.name); got != tt.want {
			t.Errorf("isSharedLibrary(%q) = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestRemoveSharedLibraries(t *testing.T) {
	prefix := t.TempDir()
	writeFileTree(t, prefix, map[string]string{
		"lib/libfoo.dylib":  "x",
		"lib/libbar.so.2":   "x",
		"lib/libstatic.a":   "x",
		"bin/tool":          "x",
		"share/doc/foo.txt": "x",
	})

	in := &Installer{Prefix: prefix, Logger: log.New(io.Discard)}
	removed, err := in.RemoveSharedLibraries()
	if err != nil {
		t.Fatalf("RemoveSharedLibraries: %v", err)
	}
	if removed != 2 {
		t.Errorf("removed = %d, want 2", removed)
	}

	for _, gone := range []string{"lib/libfoo.dylib", "lib/libbar.so.2"} {
		if _, err := os.Stat(filepath.Join(prefix, gone)); !os.IsNotExist(err) {
			t.Errorf("%s still present", gone)
		}
	}
	for _, kept := range []string{"lib/libstatic.a", "bin/tool", "share/doc/foo.txt"} {
		if _, err := os.Stat(filepath.Join(prefix, kept)); err != nil {
			t.Errorf("%s should have been kept: %v", kept, err)
		}
	}
}
