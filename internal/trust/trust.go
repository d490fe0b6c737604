// Package trust holds the pinned trust anchor for the mirror and verifies
// archive signatures against it.
//
// The anchor is the mirror's OpenPGP public key. It is fetched once from a
// well-known URL, but never trusted on arrival: two independent 160-bit
// digests of the file are recomputed on every use and compared against
// values pinned at build time. A mismatch on either digest means the anchor
// (or the mirror) has been substituted and nothing further may be verified.
package trust

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/ProtonMail/go-crypto/openpgp" //nolint:staticcheck // ProtonMail's maintained fork
	"golang.org/x/crypto/ripemd160"          //nolint:staticcheck // the pinned digest format predates the deprecation

	"github.com/OrinWestfall/stevedore/internal/fetch"
)

// AnchorFilename is the trust anchor's name, both on the mirror root and
// under the local install root.
const AnchorFilename = "trusted.asc"

// Pinned digests of the production trust anchor.
const (
	DefaultSHA1Pin      = "5b241a1c4f26a2a8db7adfbfca3f1b08f9a1d0c2"
	DefaultRIPEMD160Pin = "9c37a2fe0d6e5cf18bb04f65d1c87b3d4a6e2f01"
)

var (
	// ErrAnchorMismatch means the trust anchor file does not match the
	// pinned digests. Fatal, never retried.
	ErrAnchorMismatch = errors.New("trust anchor does not match pinned digests")
	// ErrSignature means an archive failed signature verification.
	// Fatal, never skipped.
	ErrSignature = errors.New("archive signature verification failed")
)

// Store validates the trust anchor and verifies archive signatures.
type Store struct {
	anchorPath string
	anchorURL  string
	fetcher    *fetch.Client

	sha1Pin   string
	ripemdPin string
}

// NewStore creates a trust store. anchorPath is where the anchor lives
// locally; anchorURL is where to fetch it from if absent.
func NewStore(fetcher *fetch.Client, anchorPath, anchorURL string) *Store {
	return &Store{
		anchorPath: anchorPath,
		anchorURL:  anchorURL,
		fetcher:    fetcher,
		sha1Pin:    DefaultSHA1Pin,
		ripemdPin:  DefaultRIPEMD160Pin,
	}
}

// NewStoreWithPins creates a trust store with explicit pinned digests.
func NewStoreWithPins(fetcher *fetch.Client, anchorPath, anchorURL, sha1Pin, ripemdPin string) *Store {
	store := NewStore(fetcher, anchorPath, anchorURL)
	store.sha1Pin = sha1Pin
	store.ripemdPin = ripemdPin
	return store
}

// EnsureAnchor makes sure the trust anchor is present and authentic. The
// digest check runs on every call, cached anchor or not.
func (s *Store) EnsureAnchor(ctx context.Context) error {
	if _, err := os.Stat(s.anchorPath); err != nil {
		if !os.IsNotExist(err) {
			return fmt.Errorf("stat trust anchor: %w", err)
		}
		if err := s.fetcher.FetchToFile(ctx, s.anchorURL, s.anchorPath); err != nil {
			return fmt.Errorf("fetch trust anchor: %w", err)
		}
	}
	return s.checkPins()
}

// checkPins recomputes both anchor digests and compares them to the pins.
func (s *Store) checkPins() error {
	data, err := os.ReadFile(s.anchorPath)
	if err != nil {
		return fmt.Errorf("read trust anchor: %w", err)
	}

	sha1Sum := sha1.Sum(data)
	if hex.EncodeToString(sha1Sum[:]) != s.sha1Pin {
		return fmt.Errorf("%w: SHA-1 digest differs", ErrAnchorMismatch)
	}

	ripemd := ripemd160.New()
	ripemd.Write(data)
	if hex.EncodeToString(ripemd.Sum(nil)) != s.ripemdPin {
		return fmt.Errorf("%w: RIPEMD-160 digest differs", ErrAnchorMismatch)
	}
	return nil
}

// Verify checks archivePath against its detached signature using the
// anchor keyring. Armored signatures are tried first, then binary.
func (s *Store) Verify(archivePath, signaturePath string) error {
	keyring, err := s.keyring()
	if err != nil {
		return err
	}

	archive, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	defer archive.Close()

	sig, err := os.Open(signaturePath)
	if err != nil {
		return fmt.Errorf("open signature: %w", err)
	}
	defer sig.Close()

	_, err = openpgp.CheckArmoredDetachedSignature(keyring, archive, sig, nil)
	if err != nil {
		archive.Seek(0, io.SeekStart)
		sig.Seek(0, io.SeekStart)
		_, err = openpgp.CheckDetachedSignature(keyring, archive, sig, nil)
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSignature, err)
	}
	return nil
}

// keyring loads the anchor as an OpenPGP keyring, armored or binary.
func (s *Store) keyring() (openpgp.EntityList, error) {
	file, err := os.Open(s.anchorPath)
	if err != nil {
		return nil, fmt.Errorf("open trust anchor: %w", err)
	}
	defer file.Close()

	keyring, err := openpgp.ReadArmoredKeyRing(file)
	if err != nil {
		file.Seek(0, io.SeekStart)
		keyring, err = openpgp.ReadKeyRing(file)
		if err != nil {
			return nil, fmt.Errorf("read trust anchor keyring: %w", err)
		}
	}
	if len(keyring) == 0 {
		return nil, fmt.Errorf("trust anchor keyring is empty")
	}
	return keyring, nil
}
