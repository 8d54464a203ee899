package credcache

import (
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"golang.org/x/crypto/nacl/secretbox"

	"github.com/kibala/provenance-agent/interfaces"
)

const (
	deviceKeyFile = ".devicekey"
	nonceSize     = 24
	keySize       = 32
)

// FileCache stores chain entries as secretbox-sealed files in an app-private
// directory. The sealing key is a per-device random key created on first use
// and held in a 0600 file next to the entries, standing in for an
// OS-protected secret store on platforms without one.
type FileCache struct {
	baseDir string
	key     [keySize]byte
	log     *slog.Logger
}

// NewFileCache creates a file-backed credential cache rooted at baseDir,
// generating the device sealing key if it does not exist yet.
func NewFileCache(baseDir string, log *slog.Logger) (*FileCache, error) {
	if err := os.MkdirAll(baseDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	cache := &FileCache{baseDir: baseDir, log: log}
	if err := cache.loadOrCreateKey(); err != nil {
		return nil, err
	}
	return cache, nil
}

// Load returns the chain stored under account, or ErrChainNotFound.
func (c *FileCache) Load(ctx context.Context, account string) (interfaces.CertificateChain, error) {
	sealed, err := os.ReadFile(c.entryPath(account))
	if os.IsNotExist(err) {
		return nil, interfaces.ErrChainNotFound
	} else if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrBackendUnavailable, err)
	}

	if len(sealed) < nonceSize {
		return nil, fmt.Errorf("cache entry for %s is truncated", account)
	}

	var nonce [nonceSize]byte
	copy(nonce[:], sealed[:nonceSize])

	plain, ok := secretbox.Open(nil, sealed[nonceSize:], &nonce, &c.key)
	if !ok {
		// A corrupt entry behaves like a miss so the caller re-enrolls
		// instead of failing signing permanently.
		c.log.Warn("Discarding undecryptable cache entry", "account", account)
		_ = os.Remove(c.entryPath(account))
		return nil, interfaces.ErrChainNotFound
	}

	return interfaces.CertificateChain(plain), nil
}

// Save seals and stores chain under account, deleting any prior entry first.
func (c *FileCache) Save(ctx context.Context, account string, chain interfaces.CertificateChain) error {
	if err := c.Delete(ctx, account); err != nil {
		return err
	}

	var nonce [nonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := secretbox.Seal(nonce[:], chain, &nonce, &c.key)
	if err := os.WriteFile(c.entryPath(account), sealed, 0600); err != nil {
		return fmt.Errorf("%w: %v", interfaces.ErrBackendUnavailable, err)
	}

	c.log.Debug("Stored certificate chain", "account", account, "size", len(chain))
	return nil
}

// Delete removes the entry for account. Absence is not an error.
func (c *FileCache) Delete(ctx context.Context, account string) error {
	if err := os.Remove(c.entryPath(account)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("%w: %v", interfaces.ErrBackendUnavailable, err)
	}
	return nil
}

func (c *FileCache) entryPath(account string) string {
	return filepath.Join(c.baseDir, account)
}

func (c *FileCache) loadOrCreateKey() error {
	keyPath := filepath.Join(c.baseDir, deviceKeyFile)

	raw, err := os.ReadFile(keyPath)
	if err == nil {
		if len(raw) != keySize {
			return fmt.Errorf("device key file has wrong size: %d", len(raw))
		}
		copy(c.key[:], raw)
		return nil
	}
	if !os.IsNotExist(err) {
		return fmt.Errorf("failed to read device key: %w", err)
	}

	if _, err := io.ReadFull(rand.Reader, c.key[:]); err != nil {
		return fmt.Errorf("failed to generate device key: %w", err)
	}
	if err := os.WriteFile(keyPath, c.key[:], 0600); err != nil {
		return fmt.Errorf("failed to write device key: %w", err)
	}

	c.log.Debug("Generated device sealing key", "path", keyPath)
	return nil
}
