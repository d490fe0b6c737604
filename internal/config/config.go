// Package config discovers the runtime configuration for a stevedore run:
// where the install root lives, which mirror to talk to, and which platform
// to install for. Settings come from the environment (prefix STEVEDORE),
// optionally overridden by CLI flags.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

const (
	// EnvPrefix is the environment variable prefix for all settings.
	EnvPrefix = "STEVEDORE"
	// DefaultMirror is the binary package mirror used when none is
	// configured.
	DefaultMirror = "https://mirror.stevedore-pkgs.net/packages"
)

// ErrInvalid marks configuration problems detected before any work starts.
var ErrInvalid = errors.New("invalid configuration")

// Config is the resolved runtime configuration.
type Config struct {
	// Root is the install root holding the ledger, cache, trust anchor,
	// and install prefix.
	Root string
	// Mirror is the package mirror base URL.
	Mirror string
	// Target is the deployment-target string; empty means detect from
	// the running host.
	Target string
	// CABundle optionally overrides the TLS trust roots for mirror
	// connections.
	CABundle string
}

// Load reads configuration from the environment.
func Load() (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()

	v.SetDefault("mirror", DefaultMirror)
	if home, err := os.UserHomeDir(); err == nil {
		v.SetDefault("root", filepath.Join(home, ".stevedore"))
	}

	cfg := &Config{
		Root:     v.GetString("root"),
		Mirror:   v.GetString("mirror"),
		Target:   v.GetString("target"),
		CABundle: v.GetString("ca_bundle"),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for problems that would make any run
// fail later in a less obvious way.
func (c *Config) Validate() error {
	if c.Root == "" {
		return fmt.Errorf("%w: install root is not set and the home directory is unknown", ErrInvalid)
	}
	if !filepath.IsAbs(c.Root) {
		return fmt.Errorf("%w: install root %q must be absolute", ErrInvalid, c.Root)
	}
	u, err := url.Parse(c.Mirror)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%w: mirror URL %q is not a valid absolute URL", ErrInvalid, c.Mirror)
	}
	if c.CABundle != "" {
		if _, err := os.Stat(c.CABundle); err != nil {
			return fmt.Errorf("%w: CA bundle %q: %v", ErrInvalid, c.CABundle, err)
		}
	}
	return nil
}

// CacheDir is where archives, signatures, and the search index live.
func (c *Config) CacheDir() string {
	return filepath.Join(c.Root, "cache")
}

// PrefixDir is the shared install prefix.
func (c *Config) PrefixDir() string {
	return filepath.Join(c.Root, "pkg")
}

// LedgerPath is the install database file.
func (c *Config) LedgerPath() string {
	return filepath.Join(c.Root, "installed.db")
}

// AnchorPath is the local trust anchor file.
func (c *Config) AnchorPath() string {
	return filepath.Join(c.Root, "trusted.asc")
}

// IndexPath is the persisted search index file.
func (c *Config) IndexPath() string {
	return filepath.Join(c.CacheDir(), "index.txt")
}
