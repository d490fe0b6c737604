// Package search maintains a flat index of every package name the mirror
// knows about. The index is a derived cache: rebuilding it is always safe,
// and a stale index stays in use until someone asks for a refresh.
package search

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/OrinWestfall/stevedore/internal/fetch"
	"github.com/OrinWestfall/stevedore/internal/mirror"
)

// IndexFilename is the index file's name inside the cache directory.
const IndexFilename = "index.txt"

// Index is the persisted search index over mirror package names.
type Index struct {
	fetcher *fetch.Client
	baseURL string
	path    string
}

// NewIndex creates an index persisted at path, built from the mirror root
// listing at baseURL.
func NewIndex(fetcher *fetch.Client, baseURL, path string) *Index {
	return &Index{
		fetcher: fetcher,
		baseURL: strings.TrimRight(baseURL, "/") + "/",
		path:    path,
	}
}

// Rebuild fetches the mirror's root listing and persists the sorted,
// deduplicated set of entry names.
func (i *Index) Rebuild(ctx context.Context) error {
	body, err := i.fetcher.Fetch(ctx, i.baseURL)
	if err != nil {
		return fmt.Errorf("fetch mirror root listing: %w", err)
	}
	defer body.Close()

	entries, err := mirror.ParseListing(body)
	if err != nil {
		return fmt.Errorf("parse mirror root listing: %w", err)
	}

	seen := make(map[string]struct{})
	var names []string
	for _, entry := range entries {
		name := strings.TrimRight(entry, "/")
		if name == "" {
			continue
		}
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		names = append(names, name)
	}
	sort.Strings(names)

	return i.persist(names)
}

// Search returns every indexed name containing substr, case-insensitively.
// A missing index is built once; an existing index is never refreshed here,
// however stale it may be.
func (i *Index) Search(ctx context.Context, substr string) ([]string, error) {
	if _, err := os.Stat(i.path); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("stat search index: %w", err)
		}
		if err := i.Rebuild(ctx); err != nil {
			return nil, err
		}
	}

	data, err := os.ReadFile(i.path)
	if err != nil {
		return nil, fmt.Errorf("read search index: %w", err)
	}

	needle := strings.ToLower(substr)
	var matches []string
	for _, line := range strings.Split(string(data), "\n") {
		name := strings.TrimSpace(line)
		if name == "" {
			continue
		}
		if strings.Contains(strings.ToLower(name), needle) {
			matches = append(matches, name)
		}
	}
	return matches, nil
}

// persist writes the index atomically, temp file then rename.
func (i *Index) persist(names []string) error {
	if err := os.MkdirAll(filepath.Dir(i.path), 0755); err != nil {
		return fmt.Errorf("create index dir: %w", err)
	}
	tmpPath := i.path + ".tmp"
	content := strings.Join(names, "\n")
	if len(names) > 0 {
		content += "\n"
	}
	if err := os.WriteFile(tmpPath, []byte(content), 0644); err != nil {
		return fmt.Errorf("write search index: %w", err)
	}
	if err := os.Rename(tmpPath, i.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename search index: %w", err)
	}
	return nil
}
