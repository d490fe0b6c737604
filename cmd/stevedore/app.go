package main

import (
	"context"
	"fmt"
	"os"

	"github.com/charmbracelet/log"

	"github.com/OrinWestfall/stevedore/internal/config"
	"github.com/OrinWestfall/stevedore/internal/fetch"
	"github.com/OrinWestfall/stevedore/internal/install"
	"github.com/OrinWestfall/stevedore/internal/ledger"
	"github.com/OrinWestfall/stevedore/internal/mirror"
	"github.com/OrinWestfall/stevedore/internal/platform"
	"github.com/OrinWestfall/stevedore/internal/search"
	"github.com/OrinWestfall/stevedore/internal/session"
	"github.com/OrinWestfall/stevedore/internal/trust"
)

// app bundles the wired components every subcommand starts from.
type app struct {
	cfg     *config.Config
	logger  *log.Logger
	fetcher *fetch.Client
}

// newApp loads configuration with flag overrides applied and prepares the
// HTTP client. Platform resolution is deferred until a command actually
// needs a build tag, so index-only commands work on any host.
func newApp(flags *rootFlags) (*app, error) {
	cfg, err := loadConfig(flags)
	if err != nil {
		return nil, err
	}
	logger := newLogger(flags)

	fetcher, err := fetch.NewClient(fetch.Options{CABundle: cfg.CABundle})
	if err != nil {
		return nil, err
	}

	return &app{cfg: cfg, logger: logger, fetcher: fetcher}, nil
}

// resolveTag picks the platform tag from the configured deployment target,
// falling back to host detection.
func (a *app) resolveTag(ctx context.Context) (platform.Tag, error) {
	var (
		tag platform.Tag
		err error
	)
	if a.cfg.Target != "" {
		tag, err = platform.Resolve(a.cfg.Target)
	} else {
		tag, err = platform.Detect(ctx)
	}
	if err != nil {
		return "", err
	}
	a.logger.Debug("resolved platform", "tag", tag)
	return tag, nil
}

func (a *app) index() *search.Index {
	return search.NewIndex(a.fetcher, a.cfg.Mirror, a.cfg.IndexPath())
}

// installer assembles the full install pipeline. The returned session holds
// the exclusive lock over the install root; the caller must defer Release.
func (a *app) installer(ctx context.Context, flags *rootFlags) (*install.Installer, *session.Session, error) {
	tag, err := a.resolveTag(ctx)
	if err != nil {
		return nil, nil, err
	}

	if err := os.MkdirAll(a.cfg.CacheDir(), 0755); err != nil {
		return nil, nil, fmt.Errorf("create cache directory: %w", err)
	}
	if err := os.MkdirAll(a.cfg.PrefixDir(), 0755); err != nil {
		return nil, nil, fmt.Errorf("create install prefix: %w", err)
	}

	sess, err := session.Acquire(a.cfg.Root, a.logger)
	if err != nil {
		return nil, nil, err
	}

	anchorURL := a.cfg.Mirror + "/" + trust.AnchorFilename
	inst := &install.Installer{
		Mirror:   mirror.NewClient(a.fetcher, a.cfg.Mirror, tag),
		Trust:    trust.NewStore(a.fetcher, a.cfg.AnchorPath(), anchorURL),
		DB:       ledger.Open(a.cfg.LedgerPath()),
		Fetcher:  a.fetcher,
		CacheDir: a.cfg.CacheDir(),
		Prefix:   a.cfg.PrefixDir(),
		Logger:   a.logger,
		Static:   flags.static,
		Session:  sess,
	}
	return inst, sess, nil
}
