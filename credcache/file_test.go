package credcache

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kibala/provenance-agent/interfaces"
)

const testAccount = "com.kibala.device.certchain"

var testChain = interfaces.CertificateChain("-----BEGIN CERTIFICATE-----\nabc\n-----END CERTIFICATE-----")

func newTestCache(t *testing.T) (*FileCache, string) {
	t.Helper()
	dir := t.TempDir()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cache, err := NewFileCache(dir, logger)
	require.NoError(t, err)
	return cache, dir
}

func TestFileCache_SaveLoadDelete(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()

	_, err := cache.Load(ctx, testAccount)
	assert.ErrorIs(t, err, interfaces.ErrChainNotFound)

	require.NoError(t, cache.Save(ctx, testAccount, testChain))

	loaded, err := cache.Load(ctx, testAccount)
	require.NoError(t, err)
	assert.Equal(t, testChain, loaded)

	require.NoError(t, cache.Delete(ctx, testAccount))
	_, err = cache.Load(ctx, testAccount)
	assert.ErrorIs(t, err, interfaces.ErrChainNotFound)

	// Deleting an absent entry succeeds.
	require.NoError(t, cache.Delete(ctx, testAccount))
}

func TestFileCache_SaveReplacesPriorEntry(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, cache.Save(ctx, testAccount, testChain))

	updated := interfaces.CertificateChain("-----BEGIN CERTIFICATE-----\nxyz\n-----END CERTIFICATE-----")
	require.NoError(t, cache.Save(ctx, testAccount, updated))

	loaded, err := cache.Load(ctx, testAccount)
	require.NoError(t, err)
	assert.Equal(t, updated, loaded)
}

func TestFileCache_EntriesSealedAtRest(t *testing.T) {
	cache, dir := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, cache.Save(ctx, testAccount, testChain))

	raw, err := os.ReadFile(filepath.Join(dir, testAccount))
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "BEGIN CERTIFICATE")
}

func TestFileCache_SurvivesRestart(t *testing.T) {
	dir := t.TempDir()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ctx := context.Background()

	cache1, err := NewFileCache(dir, logger)
	require.NoError(t, err)
	require.NoError(t, cache1.Save(ctx, testAccount, testChain))

	// A fresh cache over the same directory decrypts with the persisted
	// device key.
	cache2, err := NewFileCache(dir, logger)
	require.NoError(t, err)
	loaded, err := cache2.Load(ctx, testAccount)
	require.NoError(t, err)
	assert.Equal(t, testChain, loaded)
}

func TestFileCache_CorruptEntryBehavesLikeMiss(t *testing.T) {
	cache, dir := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, cache.Save(ctx, testAccount, testChain))

	// Flip bytes past the nonce so authentication fails.
	path := filepath.Join(dir, testAccount)
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	raw[len(raw)-1] ^= 0xff
	require.NoError(t, os.WriteFile(path, raw, 0600))

	_, err = cache.Load(ctx, testAccount)
	assert.ErrorIs(t, err, interfaces.ErrChainNotFound)
}

func TestCacheFor_FileScheme(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	dir := t.TempDir()

	cache, err := CacheFor("file://"+dir, logger)
	require.NoError(t, err)
	assert.IsType(t, &FileCache{}, cache)
}

func TestCacheFor_UnsupportedScheme(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	_, err := CacheFor("redis://localhost", logger)
	assert.Error(t, err)
}

func TestCacheFor_VaultScheme(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	cache, err := CacheFor("vault://vault.example.com:8200/secret/kibala/credentials?token=abc", logger)
	require.NoError(t, err)
	assert.IsType(t, &VaultCache{}, cache)

	_, err = CacheFor("vault://vault.example.com:8200/secret", logger)
	assert.Error(t, err)
}
