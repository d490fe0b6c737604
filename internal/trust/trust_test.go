package trust

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/ProtonMail/go-crypto/openpgp"
	"golang.org/x/crypto/ripemd160" //nolint:staticcheck // matches production pin format

	"github.com/OrinWestfall/stevedore/internal/fetch"
)

// signingKey is a throwaway OpenPGP entity with its serialized public part
// and the digest pins a store would carry for it.
type signingKey struct {
	entity    *openpgp.Entity
	public    []byte
	sha1Pin   string
	ripemdPin string
}

func newSigningKey(t *testing.T) *signingKey {
	t.Helper()
	entity, err := openpgp.NewEntity("Mirror Signing", "", "packages@mirror.test", nil)
	if err != nil {
		t.Fatalf("create entity: %v", err)
	}

	var public bytes.Buffer
	if err := entity.Serialize(&public); err != nil {
		t.Fatalf("serialize public key: %v", err)
	}

	sha1Sum := sha1.Sum(public.Bytes())
	ripemd := ripemd160.New()
	ripemd.Write(public.Bytes())

	return &signingKey{
		entity:    entity,
		public:    public.Bytes(),
		sha1Pin:   hex.EncodeToString(sha1Sum[:]),
		ripemdPin: hex.EncodeToString(ripemd.Sum(nil)),
	}
}

func (k *signingKey) sign(t *testing.T, data []byte) []byte {
	t.Helper()
	var sig bytes.Buffer
	err := openpgp.DetachSign(&sig, k.entity, bytes.NewReader(data), nil)
	if err != nil {
		t.Fatalf("detach sign: %v", err)
	}
	return sig.Bytes()
}

func newFetcher(t *testing.T) *fetch.Client {
	t.Helper()
	client, err := fetch.NewClient(fetch.Options{})
	if err != nil {
		t.Fatalf("fetch.NewClient: %v", err)
	}
	return client
}

func TestEnsureAnchorFetchesAndChecks(t *testing.T) {
	key := newSigningKey(t)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(key.public)
	}))
	defer server.Close()

	anchorPath := filepath.Join(t.TempDir(), AnchorFilename)
	store := NewStoreWithPins(newFetcher(t), anchorPath, server.URL, key.sha1Pin, key.ripemdPin)

	if err := store.EnsureAnchor(context.Background()); err != nil {
		t.Fatalf("EnsureAnchor: %v", err)
	}
	if _, err := os.Stat(anchorPath); err != nil {
		t.Errorf("anchor not persisted: %v", err)
	}

	// Second call re-checks the cached anchor without failing.
	if err := store.EnsureAnchor(context.Background()); err != nil {
		t.Errorf("EnsureAnchor on cached anchor: %v", err)
	}
}

func TestEnsureAnchorRejectsWrongDigests(t *testing.T) {
	key := newSigningKey(t)
	anchorPath := filepath.Join(t.TempDir(), AnchorFilename)
	if err := os.WriteFile(anchorPath, key.public, 0644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name      string
		sha1Pin   string
		ripemdPin string
	}{
		{name: "wrong_sha1", sha1Pin: "00" + key.sha1Pin[2:], ripemdPin: key.ripemdPin},
		{name: "wrong_ripemd", sha1Pin: key.sha1Pin, ripemdPin: "00" + key.ripemdPin[2:]},
		{name: "both_wrong", sha1Pin: DefaultSHA1Pin, ripemdPin: DefaultRIPEMD160Pin},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := NewStoreWithPins(newFetcher(t), anchorPath, "http://unused.test", tt.sha1Pin, tt.ripemdPin)
			err := store.EnsureAnchor(context.Background())
			if !errors.Is(err, ErrAnchorMismatch) {
				t.Errorf("EnsureAnchor error = %v, want ErrAnchorMismatch", err)
			}
			// The mismatch must be distinguishable from a signature failure.
			if errors.Is(err, ErrSignature) {
				t.Error("anchor mismatch reported as signature failure")
			}
		})
	}
}

func TestVerify(t *testing.T) {
	key := newSigningKey(t)
	dir := t.TempDir()

	anchorPath := filepath.Join(dir, AnchorFilename)
	if err := os.WriteFile(anchorPath, key.public, 0644); err != nil {
		t.Fatal(err)
	}

	archive := []byte("archive payload bytes")
	archivePath := filepath.Join(dir, "pkg-1.0_0.osx14.tgz")
	sigPath := archivePath + ".asc"
	if err := os.WriteFile(archivePath, archive, 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(sigPath, key.sign(t, archive), 0644); err != nil {
		t.Fatal(err)
	}

	store := NewStoreWithPins(newFetcher(t), anchorPath, "http://unused.test", key.sha1Pin, key.ripemdPin)

	if err := store.Verify(archivePath, sigPath); err != nil {
		t.Fatalf("Verify valid signature: %v", err)
	}

	// Tampered archive must fail with ErrSignature.
	tamperedPath := filepath.Join(dir, "tampered.tgz")
	if err := os.WriteFile(tamperedPath, []byte("different bytes"), 0644); err != nil {
		t.Fatal(err)
	}
	err := store.Verify(tamperedPath, sigPath)
	if !errors.Is(err, ErrSignature) {
		t.Errorf("Verify tampered archive error = %v, want ErrSignature", err)
	}

	// Signature from an unrelated key must also fail.
	stranger := newSigningKey(t)
	strangerSig := filepath.Join(dir, "stranger.asc")
	if err := os.WriteFile(strangerSig, stranger.sign(t, archive), 0644); err != nil {
		t.Fatal(err)
	}
	err = store.Verify(archivePath, strangerSig)
	if !errors.Is(err, ErrSignature) {
		t.Errorf("Verify foreign signature error = %v, want ErrSignature", err)
	}
}

func TestAnchorCheckedBeforeSignatures(t *testing.T) {
	key := newSigningKey(t)
	dir := t.TempDir()
	anchorPath := filepath.Join(dir, AnchorFilename)
	if err := os.WriteFile(anchorPath, key.public, 0644); err != nil {
		t.Fatal(err)
	}

	// Pins that do not match the anchor on disk: EnsureAnchor must fail
	// before any signature is ever consulted.
	store := NewStoreWithPins(newFetcher(t), anchorPath, "http://unused.test",
		DefaultSHA1Pin, DefaultRIPEMD160Pin)
	err := store.EnsureAnchor(context.Background())
	if !errors.Is(err, ErrAnchorMismatch) {
		t.Fatalf("EnsureAnchor error = %v, want ErrAnchorMismatch", err)
	}
	if fmt.Sprint(err) == "" || errors.Is(err, ErrSignature) {
		t.Error("anchor mismatch must be distinct from signature failure")
	}
}
