// Package install orchestrates package installation: resolve an archive on
// the mirror, download and verify it, merge its payload into the install
// prefix, then walk its declared dependencies the same way. The install
// database makes the whole process idempotent and resumable.
package install

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/OrinWestfall/stevedore/internal/fetch"
	"github.com/OrinWestfall/stevedore/internal/ledger"
	"github.com/OrinWestfall/stevedore/internal/mirror"
	"github.com/OrinWestfall/stevedore/internal/session"
	"github.com/OrinWestfall/stevedore/internal/trust"
)

// ErrNotFound means no archive could be resolved for a requested package,
// even after suffix stripping. Callers surface the fake-install escape
// hatch for this case.
var ErrNotFound = errors.New("package not found on the mirror")

// Installer drives the install state machine for one run.
type Installer struct {
	Mirror   *mirror.Client
	Trust    *trust.Store
	DB       *ledger.DB
	Fetcher  *fetch.Client
	CacheDir string
	Prefix   string
	Logger   *log.Logger

	// Static strips shared libraries from payloads instead of
	// installing them.
	Static bool
	// Tolerant makes unresolved packages a warning instead of a fatal
	// error. Signature failures stay fatal regardless.
	Tolerant bool
	// Session, when set, receives the name of the package currently
	// being processed so fatal exits can report it.
	Session *session.Session
}

// Install installs name and the closure of its declared dependencies.
//
// Dependencies are processed through an explicit worklist with an
// in-memory enqueued set as the cycle guard, so dependency cycles
// terminate and deep chains cannot exhaust the stack. Nothing is committed
// to the database until every payload in the closure has merged: an
// aborted run leaves the ledger untouched, so the re-run walks the same
// closure again (downloads come from the cache) instead of
// short-circuiting past a dependency that never made it in.
func (in *Installer) Install(ctx context.Context, name string) error {
	queue := []string{name}
	enqueued := map[string]struct{}{name: {}}
	merged := map[string]struct{}{}
	var order []string

	for len(queue) > 0 {
		next := queue[0]
		queue = queue[1:]

		resolved, deps, err := in.installOne(ctx, next, merged)
		if err != nil {
			return err
		}
		if resolved != "" {
			if _, ok := merged[resolved]; !ok {
				merged[resolved] = struct{}{}
				order = append(order, resolved)
			}
		}
		for _, dep := range deps {
			if _, ok := enqueued[dep]; ok {
				continue
			}
			enqueued[dep] = struct{}{}
			queue = append(queue, dep)
		}
	}

	return in.commit(order)
}

// commit records merged names in install order, skipping ones already
// present in the database.
func (in *Installer) commit(names []string) error {
	for _, name := range names {
		installed, err := in.DB.IsInstalled(name)
		if err != nil {
			return err
		}
		if installed {
			continue
		}
		if err := in.DB.Record(name); err != nil {
			return err
		}
	}
	return nil
}

// InstallAll runs Install for each requested name, skipping names that are
// already installed. After every success, stray top-level manifest files
// in the prefix are cleaned up best-effort.
func (in *Installer) InstallAll(ctx context.Context, names []string) error {
	for _, name := range names {
		installed, err := in.DB.IsInstalled(name)
		if err != nil {
			return err
		}
		if installed {
			in.Logger.Warn("already installed, skipping", "package", name)
			continue
		}
		if err := in.Install(ctx, name); err != nil {
			return err
		}
		in.cleanStrayManifests()
	}
	return nil
}

// FakeInstall registers names in the install database without downloading
// anything. This is the manual escape hatch for packages the mirror cannot
// resolve.
func (in *Installer) FakeInstall(names []string) error {
	for _, name := range names {
		installed, err := in.DB.IsInstalled(name)
		if err != nil {
			return err
		}
		if installed {
			in.Logger.Warn("already installed, skipping", "package", name)
			continue
		}
		if err := in.DB.Record(name); err != nil {
			return err
		}
		in.Logger.Info("registered without download", "package", name)
	}
	return nil
}

// installOne processes a single package name and returns the name its
// payload merged under plus its declared dependency names. Resolution
// failures trigger suffix stripping: the last dash-delimited component is
// dropped and the shorter name retried from the top, so an over-specific
// name like foo-1.0_0 can fall back to foo. The merged set short-circuits
// names whose payload already landed earlier in this run but is not yet
// committed to the database.
func (in *Installer) installOne(ctx context.Context, name string, merged map[string]struct{}) (string, []string, error) {
	for {
		in.setCurrent(name)

		if _, ok := merged[name]; ok {
			return "", nil, nil
		}
		installed, err := in.DB.IsInstalled(name)
		if err != nil {
			return "", nil, err
		}
		if installed {
			in.Logger.Debug("already installed", "package", name)
			return "", nil, nil
		}

		url, err := in.Mirror.Resolve(ctx, name)
		if err == nil {
			deps, err := in.installResolved(ctx, name, url)
			if err != nil {
				return "", nil, err
			}
			return name, deps, nil
		}
		if !errors.Is(err, mirror.ErrNoPackage) && !errors.Is(err, mirror.ErrNoBuild) {
			return "", nil, err
		}

		if idx := strings.LastIndex(name, "-"); idx > 0 {
			short := name[:idx]
			in.Logger.Debug("no archive found, retrying under shorter name",
				"package", name, "retry", short)
			name = short
			continue
		}

		if in.Tolerant {
			in.Logger.Warn("package not available, skipping", "package", name, "reason", err)
			return "", nil, nil
		}
		return "", nil, fmt.Errorf("%w: %s (register it manually with fake-install if it is already present)", ErrNotFound, name)
	}
}

// installResolved runs fetch → verify → extract/merge → manifest for a
// name that resolved to a concrete archive URL. The database commit
// happens later, once the whole closure has merged.
func (in *Installer) installResolved(ctx context.Context, name, url string) ([]string, error) {
	archivePath, sigPath, err := in.fetchPair(ctx, url)
	if err != nil {
		return nil, err
	}

	if err := in.Trust.EnsureAnchor(ctx); err != nil {
		return nil, err
	}
	if err := in.Trust.Verify(archivePath, sigPath); err != nil {
		return nil, err
	}

	deps, err := in.extractAndMerge(archivePath)
	if err != nil {
		return nil, fmt.Errorf("install %s: %w", name, err)
	}

	in.Logger.Info("installed", "package", name, "archive", path.Base(url))
	return deps, nil
}

// fetchPair downloads the archive and its detached signature into the
// cache, resuming partial downloads by filename.
func (in *Installer) fetchPair(ctx context.Context, url string) (archivePath, sigPath string, err error) {
	filename := path.Base(url)
	archivePath = filepath.Join(in.CacheDir, filename)
	sigPath = archivePath + mirror.SignatureExt

	if err := in.Fetcher.FetchToFile(ctx, url, archivePath); err != nil {
		return "", "", fmt.Errorf("download archive: %w", err)
	}
	if err := in.Fetcher.FetchToFile(ctx, url+mirror.SignatureExt, sigPath); err != nil {
		return "", "", fmt.Errorf("download signature: %w", err)
	}
	return archivePath, sigPath, nil
}

// cleanStrayManifests removes metadata files that ended up at the top of
// the install prefix when an archive had no payload subtree. Best effort.
func (in *Installer) cleanStrayManifests() {
	strays, err := filepath.Glob(filepath.Join(in.Prefix, "+*"))
	if err != nil {
		return
	}
	for _, stray := range strays {
		if err := os.Remove(stray); err == nil {
			in.Logger.Debug("removed stray manifest", "file", stray)
		}
	}
}

func (in *Installer) setCurrent(name string) {
	if in.Session != nil {
		in.Session.SetCurrent(name)
	}
}
