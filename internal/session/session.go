// Package session owns the process-wide critical section around the
// install prefix and install database: an exclusive advisory lock directory
// acquired once at startup, interruption signals suppressed for its whole
// lifetime, and release guaranteed on every exit path by the caller's
// single deferred Release.
package session

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
)

// LockDirName is the lock directory's name under the install root.
const LockDirName = ".stevedore-lock"

// StaleAfter is how old a lock may grow before contention reports it as
// likely stale rather than held by a live run.
const StaleAfter = 6 * time.Hour

// ErrLocked means another process holds the lock.
var ErrLocked = errors.New("another install is in progress")

// Session is the exclusive lock over one install root.
type Session struct {
	lockDir string
	logger  *log.Logger

	// current is the package name being processed, reported on fatal
	// exits so an interrupted run can be diagnosed.
	current string
}

// Acquire takes the lock under root. Directory creation is the atomic
// primitive: whoever creates the lock directory owns it. While the session
// is held, SIGINT and SIGTERM are ignored so an impatient operator cannot
// leave the prefix half-merged.
func Acquire(root string, logger *log.Logger) (*Session, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("create install root: %w", err)
	}

	lockDir := filepath.Join(root, LockDirName)
	if err := os.Mkdir(lockDir, 0700); err != nil {
		if !os.IsExist(err) {
			return nil, fmt.Errorf("create lock directory: %w", err)
		}
		if info, statErr := os.Stat(lockDir); statErr == nil && time.Since(info.ModTime()) > StaleAfter {
			logger.Warn("stale lock directory found, remove it if no install is running",
				"path", lockDir, "age", time.Since(info.ModTime()).Round(time.Minute))
		}
		holder := readHolder(lockDir)
		if holder != "" {
			return nil, fmt.Errorf("%w (held by %s)", ErrLocked, holder)
		}
		return nil, ErrLocked
	}

	meta := fmt.Sprintf("pid=%d\nid=%s\nstarted=%s\n",
		os.Getpid(), uuid.NewString(), time.Now().UTC().Format(time.RFC3339))
	if err := os.WriteFile(filepath.Join(lockDir, "holder"), []byte(meta), 0600); err != nil {
		os.RemoveAll(lockDir)
		return nil, fmt.Errorf("write lock metadata: %w", err)
	}

	signal.Ignore(os.Interrupt, syscall.SIGTERM)

	return &Session{lockDir: lockDir, logger: logger}, nil
}

// Release drops the lock and restores default signal handling. Safe to
// call more than once.
func (s *Session) Release() error {
	signal.Reset(os.Interrupt, syscall.SIGTERM)
	if s.lockDir == "" {
		return nil
	}
	lockDir := s.lockDir
	s.lockDir = ""
	if err := os.RemoveAll(lockDir); err != nil {
		return fmt.Errorf("remove lock directory: %w", err)
	}
	return nil
}

// SetCurrent records the package name now being processed.
func (s *Session) SetCurrent(name string) {
	s.current = name
}

// Current returns the package name last recorded by SetCurrent.
func (s *Session) Current() string {
	return s.current
}

// ReportFailure logs the in-flight package for a fatal exit.
func (s *Session) ReportFailure(err error) {
	if s.current != "" {
		s.logger.Error("install failed", "package", s.current, "err", err,
			"hint", "re-run with -v for details")
		return
	}
	s.logger.Error("install failed", "err", err)
}

// readHolder returns the lock metadata left by the owning process, if any.
func readHolder(lockDir string) string {
	data, err := os.ReadFile(filepath.Join(lockDir, "holder"))
	if err != nil {
		return ""
	}
	return string(data)
}
