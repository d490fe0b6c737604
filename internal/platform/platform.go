// Package platform maps deployment targets onto the fixed set of platform
// tags the mirror uses to label archive builds. Every archive filename
// carries exactly one tag; installs only ever consider builds whose tag
// matches the resolved target.
package platform

import (
	"errors"
	"fmt"
	"strings"
)

// Tag identifies the OS release family an archive build targets.
// It appears verbatim in mirror filenames, e.g. zlib-1.3_1.osx14.tgz.
type Tag string

const (
	TagHighSierra Tag = "osx10.13"
	TagMojave     Tag = "osx10.14"
	TagCatalina   Tag = "osx10.15"
	TagBigSur     Tag = "osx11"
	TagMonterey   Tag = "osx12"
	TagVentura    Tag = "osx13"
	TagSonoma     Tag = "osx14"
	TagSequoia    Tag = "osx15"
)

// ErrUnsupported is returned when a deployment target does not map to any
// known platform tag. This is a configuration error, not a mirror problem.
var ErrUnsupported = errors.New("unsupported deployment target")

// tagsByRelease maps a normalized deployment-target release to its tag.
var tagsByRelease = map[string]Tag{
	"10.13": TagHighSierra,
	"10.14": TagMojave,
	"10.15": TagCatalina,
	"11":    TagBigSur,
	"12":    TagMonterey,
	"13":    TagVentura,
	"14":    TagSonoma,
	"15":    TagSequoia,
}

// String returns the tag as it appears in mirror filenames.
func (t Tag) String() string {
	return string(t)
}

// Resolve maps a deployment-target string (e.g. "14.2" or "10.13.6") to its
// platform tag. Patch and minor components beyond the release are ignored.
func Resolve(target string) (Tag, error) {
	release := normalizeRelease(target)
	if release == "" {
		return "", fmt.Errorf("%w: empty target", ErrUnsupported)
	}
	tag, ok := tagsByRelease[release]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnsupported, target)
	}
	return tag, nil
}

// normalizeRelease reduces a version string to the release component used
// for tag lookup: two components for legacy 10.x targets, one otherwise.
func normalizeRelease(target string) string {
	parts := strings.Split(strings.TrimSpace(target), ".")
	if len(parts) == 0 || parts[0] == "" {
		return ""
	}
	if parts[0] == "10" && len(parts) > 1 {
		return parts[0] + "." + parts[1]
	}
	return parts[0]
}
