package keystore

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/kibala/provenance-agent/interfaces"
)

// SoftKeyStore stores ECDSA P-256 private keys as PKCS#8 PEM files under a
// base directory, one file per key tag. Key files are created with 0600
// permissions. All operations are safe for concurrent use.
type SoftKeyStore struct {
	baseDir string
	log     *slog.Logger

	mu   sync.Mutex
	keys map[interfaces.KeyTag]*ecdsa.PrivateKey
}

// NewSoftKeyStore creates a key store rooted at baseDir, creating the
// directory if needed.
func NewSoftKeyStore(baseDir string, log *slog.Logger) (*SoftKeyStore, error) {
	if err := os.MkdirAll(baseDir, 0700); err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrKeyStoreUnavailable, err)
	}

	return &SoftKeyStore{
		baseDir: baseDir,
		log:     log,
		keys:    make(map[interfaces.KeyTag]*ecdsa.PrivateKey),
	}, nil
}

// EnsureKey returns the handle for the key stored under tag, creating a new
// P-256 key only if none exists. Existence is checked before creation so a
// repeat call never replaces the key and desynchronizes a previously issued
// certificate from the active private key.
func (s *SoftKeyStore) EnsureKey(tag interfaces.KeyTag) (interfaces.KeyHandle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.loadLocked(tag); err == nil {
		return interfaces.KeyHandle{Tag: tag}, nil
	} else if !errors.Is(err, interfaces.ErrKeyNotFound) {
		return interfaces.KeyHandle{}, err
	}

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return interfaces.KeyHandle{}, fmt.Errorf("could not generate key: %w", err)
	}

	keyDER, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return interfaces.KeyHandle{}, fmt.Errorf("could not marshal key: %w", err)
	}
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: keyDER})

	if err := os.WriteFile(s.keyPath(tag), keyPEM, 0600); err != nil {
		return interfaces.KeyHandle{}, fmt.Errorf("%w: %v", interfaces.ErrKeyStoreUnavailable, err)
	}

	s.keys[tag] = key
	s.log.Debug("Created signing key", "tag", tag.String())

	return interfaces.KeyHandle{Tag: tag}, nil
}

// Sign signs digest with the key referenced by handle and returns the ASN.1
// DER encoded ECDSA signature.
func (s *SoftKeyStore) Sign(handle interfaces.KeyHandle, digest []byte) ([]byte, error) {
	s.mu.Lock()
	key, err := s.loadLocked(handle.Tag)
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	sig, err := ecdsa.SignASN1(rand.Reader, key, digest)
	if err != nil {
		return nil, fmt.Errorf("could not sign digest: %w", err)
	}
	return sig, nil
}

// PublicKey exports the public key material for handle.
func (s *SoftKeyStore) PublicKey(handle interfaces.KeyHandle) (crypto.PublicKey, error) {
	s.mu.Lock()
	key, err := s.loadLocked(handle.Tag)
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return &key.PublicKey, nil
}

// Signer returns a crypto.Signer that proxies every operation through the
// store, so private material stays behind the store boundary.
func (s *SoftKeyStore) Signer(handle interfaces.KeyHandle) (crypto.Signer, error) {
	pub, err := s.PublicKey(handle)
	if err != nil {
		return nil, err
	}
	return &storeSigner{store: s, handle: handle, pub: pub}, nil
}

// DeleteKey removes the key stored under tag. Absence of a key is treated
// as success.
func (s *SoftKeyStore) DeleteKey(tag interfaces.KeyTag) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.keys, tag)
	if err := os.Remove(s.keyPath(tag)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("could not delete key file: %w", err)
	}
	return nil
}

// loadLocked resolves a tag to its private key, reading the key file on
// first use. Caller holds s.mu.
func (s *SoftKeyStore) loadLocked(tag interfaces.KeyTag) (*ecdsa.PrivateKey, error) {
	if key, ok := s.keys[tag]; ok {
		return key, nil
	}

	keyPEM, err := os.ReadFile(s.keyPath(tag))
	if os.IsNotExist(err) {
		return nil, interfaces.ErrKeyNotFound
	} else if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrKeyStoreUnavailable, err)
	}

	block, _ := pem.Decode(keyPEM)
	if block == nil || block.Type != "PRIVATE KEY" {
		return nil, fmt.Errorf("key file for tag %s is not a PEM private key", tag)
	}

	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("could not parse key for tag %s: %w", tag, err)
	}

	key, ok := parsed.(*ecdsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("key for tag %s is not an ECDSA key", tag)
	}

	s.keys[tag] = key
	return key, nil
}

func (s *SoftKeyStore) keyPath(tag interfaces.KeyTag) string {
	return filepath.Join(s.baseDir, tag.String()+".key")
}

// storeSigner adapts a key handle to crypto.Signer by round-tripping sign
// operations through the store.
type storeSigner struct {
	store  *SoftKeyStore
	handle interfaces.KeyHandle
	pub    crypto.PublicKey
}

func (ss *storeSigner) Public() crypto.PublicKey {
	return ss.pub
}

func (ss *storeSigner) Sign(_ io.Reader, digest []byte, _ crypto.SignerOpts) ([]byte, error) {
	return ss.store.Sign(ss.handle, digest)
}
