package credcache

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hashicorp/vault/api"

	"github.com/kibala/provenance-agent/interfaces"
)

// VaultCache stores chain entries in a HashiCorp Vault KV v2 mount. Each
// account maps to a single secret whose "chain" field holds the normalized
// PEM text.
type VaultCache struct {
	client    *api.Client
	mountPath string
	dataPath  string
	log       *slog.Logger
}

// NewVaultCache creates a Vault-backed credential cache.
//
// Parameters:
//   - address: Vault server address (e.g. https://vault.example.com:8200)
//   - token: Vault token; empty falls back to the VAULT_TOKEN environment
//   - mountPath: KV v2 mount (e.g. "secret")
//   - dataPath: path prefix within the mount (e.g. "kibala/credentials")
func NewVaultCache(address, token, mountPath, dataPath string, log *slog.Logger) (*VaultCache, error) {
	config := api.DefaultConfig()
	config.Address = address
	config.Timeout = 30 * time.Second

	client, err := api.NewClient(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create Vault client: %w", err)
	}
	if token != "" {
		client.SetToken(token)
	}

	mountPath = strings.TrimSuffix(mountPath, "/")
	dataPath = strings.Trim(dataPath, "/")

	return &VaultCache{
		client:    client,
		mountPath: mountPath,
		dataPath:  dataPath,
		log:       log,
	}, nil
}

// Load returns the chain stored under account, or ErrChainNotFound.
func (c *VaultCache) Load(ctx context.Context, account string) (interfaces.CertificateChain, error) {
	secret, err := c.client.Logical().ReadWithContext(ctx, c.secretPath("data", account))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrBackendUnavailable, err)
	}
	if secret == nil || secret.Data == nil {
		return nil, interfaces.ErrChainNotFound
	}

	// KV v2 wraps the payload in a "data" map.
	data, ok := secret.Data["data"].(map[string]interface{})
	if !ok {
		return nil, interfaces.ErrChainNotFound
	}
	chain, ok := data["chain"].(string)
	if !ok || chain == "" {
		return nil, interfaces.ErrChainNotFound
	}

	return interfaces.CertificateChain(chain), nil
}

// Save stores chain under account, deleting any prior entry first so there
// is no update-in-place ambiguity across KV versions.
func (c *VaultCache) Save(ctx context.Context, account string, chain interfaces.CertificateChain) error {
	if err := c.Delete(ctx, account); err != nil {
		return err
	}

	payload := map[string]interface{}{
		"data": map[string]interface{}{
			"chain": string(chain),
		},
	}

	if _, err := c.client.Logical().WriteWithContext(ctx, c.secretPath("data", account), payload); err != nil {
		return fmt.Errorf("%w: %v", interfaces.ErrBackendUnavailable, err)
	}

	c.log.Debug("Stored certificate chain in Vault", "account", account, "size", len(chain))
	return nil
}

// Delete removes all versions of the entry for account. Absence is not an
// error.
func (c *VaultCache) Delete(ctx context.Context, account string) error {
	if _, err := c.client.Logical().DeleteWithContext(ctx, c.secretPath("metadata", account)); err != nil {
		return fmt.Errorf("%w: %v", interfaces.ErrBackendUnavailable, err)
	}
	return nil
}

func (c *VaultCache) secretPath(op, account string) string {
	return fmt.Sprintf("%s/%s/%s/%s", c.mountPath, op, c.dataPath, account)
}
