package mirror

import (
	"fmt"
	"io"
	"strings"

	"golang.org/x/net/html"
)

// ParseListing extracts entry names from an HTML directory listing. Every
// anchor's href is taken as one entry; parent-directory links, absolute
// URLs, and query links are ignored. Order follows document order, which
// for the mirrors we target is ascending by last-modified.
func ParseListing(r io.Reader) ([]string, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("parse HTML: %w", err)
	}

	var entries []string
	for node := range doc.Descendants() {
		if node.Type != html.ElementNode || node.Data != "a" {
			continue
		}
		for _, attr := range node.Attr {
			if attr.Key != "href" {
				continue
			}
			if name, ok := listingEntry(attr.Val); ok {
				entries = append(entries, name)
			}
			break
		}
	}
	return entries, nil
}

// listingEntry filters a href down to a plain entry name, or rejects it.
func listingEntry(href string) (string, bool) {
	if href == "" || href == "../" || href == "./" {
		return "", false
	}
	if strings.Contains(href, "://") || strings.HasPrefix(href, "/") {
		return "", false
	}
	if strings.HasPrefix(href, "?") || strings.HasPrefix(href, "#") {
		return "", false
	}
	return href, true
}
