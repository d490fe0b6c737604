// Package fetch provides the HTTP collaborator the installer depends on:
// streaming fetches for mirror listings and resumable downloads for
// archives and signatures.
package fetch

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"
)

const (
	// DefaultTimeout is the HTTP request timeout applied to every transfer.
	DefaultTimeout = 5 * time.Minute
	// DefaultUserAgent is the User-Agent header sent with requests.
	DefaultUserAgent = "stevedore/1.0"

	maxRedirects = 10
)

// ErrNotFound is returned when the server answers 404 for a URL.
var ErrNotFound = errors.New("remote resource not found")

// Options configures a Client.
type Options struct {
	// CABundle is an optional path to a PEM bundle that replaces the
	// system trust roots for TLS connections to the mirror.
	CABundle string
	// Timeout overrides DefaultTimeout when non-zero.
	Timeout time.Duration
}

// Client performs HTTP fetches against the mirror.
type Client struct {
	http      *http.Client
	userAgent string
}

// NewClient creates a fetch client.
func NewClient(opts Options) (*Client, error) {
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}

	client := &http.Client{
		Timeout: timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return fmt.Errorf("too many redirects")
			}
			return nil
		},
	}

	if opts.CABundle != "" {
		pem, err := os.ReadFile(opts.CABundle)
		if err != nil {
			return nil, fmt.Errorf("read CA bundle: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("CA bundle %q contains no usable certificates", opts.CABundle)
		}
		client.Transport = &http.Transport{
			TLSClientConfig: &tls.Config{RootCAs: pool},
		}
	}

	return &Client{http: client, userAgent: DefaultUserAgent}, nil
}

// Fetch retrieves a URL as a stream. The caller owns the returned reader.
func (c *Client) Fetch(ctx context.Context, url string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	if resp.StatusCode == http.StatusNotFound {
		resp.Body.Close()
		return nil, fmt.Errorf("%w: %s", ErrNotFound, url)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("unexpected status code %d for %s", resp.StatusCode, url)
	}
	return resp.Body, nil
}

// FetchToFile downloads a URL to destPath, resuming a partial download by
// byte offset when destPath already holds a prefix of the resource. The
// destination is complete on nil return; a failed transfer leaves whatever
// partial content was written so a later call can resume it.
func (c *Client) FetchToFile(ctx context.Context, url, destPath string) error {
	if err := os.MkdirAll(filepath.Dir(destPath), 0755); err != nil {
		return fmt.Errorf("create dest dir: %w", err)
	}

	var offset int64
	if info, err := os.Stat(destPath); err == nil && info.Mode().IsRegular() {
		offset = info.Size()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	if offset > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	var flags int
	switch resp.StatusCode {
	case http.StatusPartialContent:
		flags = os.O_WRONLY | os.O_APPEND
	case http.StatusOK:
		// Server ignored the range request; start over.
		flags = os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	case http.StatusRequestedRangeNotSatisfiable:
		// Nothing past our offset: the file is already complete.
		return nil
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrNotFound, url)
	default:
		return fmt.Errorf("unexpected status code %d for %s", resp.StatusCode, url)
	}

	file, err := os.OpenFile(destPath, flags|os.O_CREATE, 0644)
	if err != nil {
		return fmt.Errorf("open dest file: %w", err)
	}

	if _, err := io.Copy(file, resp.Body); err != nil {
		file.Close()
		return fmt.Errorf("copy response body: %w", err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("close dest file: %w", err)
	}
	return nil
}
