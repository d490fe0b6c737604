// Package mirror lists binary archives published on the package mirror and
// resolves a package name to the concrete archive URL for one platform.
package mirror

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/OrinWestfall/stevedore/internal/fetch"
	"github.com/OrinWestfall/stevedore/internal/platform"
)

const (
	// ArchiveExt is the extension every binary archive carries.
	ArchiveExt = ".tgz"
	// SignatureExt is appended to an archive filename for its detached
	// signature.
	SignatureExt = ".asc"
)

var (
	// ErrNoPackage means the mirror has no archives at all under the
	// package's path.
	ErrNoPackage = errors.New("package has no archives on the mirror")
	// ErrNoBuild means the package exists but has no build for the
	// current platform tag.
	ErrNoBuild = errors.New("no archive matches the platform")
)

// Client resolves package names against one mirror. It holds no listing
// state between calls: the mirror can change under us, so every Resolve
// asks again.
type Client struct {
	fetcher *fetch.Client
	baseURL string
	tag     platform.Tag
}

// NewClient creates a mirror client rooted at baseURL, selecting builds
// for the given platform tag.
func NewClient(fetcher *fetch.Client, baseURL string, tag platform.Tag) *Client {
	return &Client{
		fetcher: fetcher,
		baseURL: strings.TrimRight(baseURL, "/"),
		tag:     tag,
	}
}

// PackageURL returns the listing URL for a package directory.
func (c *Client) PackageURL(name string) string {
	return c.baseURL + "/" + name + "/"
}

// BaseURL returns the mirror root.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Resolve returns the URL of the archive to install for name.
//
// Candidates are the listed entries ending in ArchiveExt, in listing order.
// After filtering by platform tag the last candidate wins: this is
// "most recent by listing order", an approximation that trusts the mirror's
// ascending sort, not a version comparison.
func (c *Client) Resolve(ctx context.Context, name string) (string, error) {
	entries, err := c.list(ctx, name)
	if err != nil {
		return "", err
	}

	var candidates []string
	for _, entry := range entries {
		if strings.HasSuffix(entry, ArchiveExt) {
			candidates = append(candidates, entry)
		}
	}
	if len(candidates) == 0 {
		return "", fmt.Errorf("%w: %s", ErrNoPackage, name)
	}

	tagSuffix := "." + c.tag.String() + ArchiveExt
	var match string
	for _, candidate := range candidates {
		if strings.HasSuffix(candidate, tagSuffix) {
			match = candidate
		}
	}
	if match == "" {
		return "", fmt.Errorf("%w %s: %s", ErrNoBuild, c.tag, name)
	}

	return c.PackageURL(name) + match, nil
}

// list fetches and parses the package's directory listing. A 404 from the
// mirror means the package directory does not exist, which callers treat
// the same as an empty listing.
func (c *Client) list(ctx context.Context, name string) ([]string, error) {
	body, err := c.fetcher.Fetch(ctx, c.PackageURL(name))
	if err != nil {
		if errors.Is(err, fetch.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNoPackage, name)
		}
		return nil, fmt.Errorf("list %s: %w", name, err)
	}
	defer body.Close()

	entries, err := ParseListing(body)
	if err != nil {
		return nil, fmt.Errorf("parse listing for %s: %w", name, err)
	}
	return entries, nil
}
