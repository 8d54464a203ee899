package credcache

import (
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/kibala/provenance-agent/interfaces"
)

// CacheFor creates a credential cache from a location URI.
//
// Supported schemes:
//   - file:///path/to/dir - secretbox-sealed files in a local directory
//   - vault://host:port/mount/data/path?token=... - Vault KV v2
//
// Returns an error if the URI is invalid or the scheme is unsupported.
func CacheFor(locationURI string, log *slog.Logger) (interfaces.CredentialCache, error) {
	u, err := url.Parse(locationURI)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrInvalidLocationURI, err)
	}

	switch strings.ToLower(u.Scheme) {
	case "file":
		path := u.Path
		if u.Host != "" {
			path = u.Host + "/" + strings.TrimPrefix(path, "/")
		}
		if path == "" {
			return nil, fmt.Errorf("%w: empty path in file URI", interfaces.ErrInvalidLocationURI)
		}
		return NewFileCache(path, log)

	case "vault":
		// vault://vault.example.com:8200/secret/kibala/credentials
		parts := strings.SplitN(strings.Trim(u.Path, "/"), "/", 2)
		if len(parts) < 2 || u.Host == "" {
			return nil, fmt.Errorf("%w: expected vault://host:port/mount/data/path", interfaces.ErrInvalidLocationURI)
		}

		scheme := "https"
		if u.Query().Get("insecure") == "true" {
			scheme = "http"
		}
		address := fmt.Sprintf("%s://%s", scheme, u.Host)
		token := u.Query().Get("token")

		return NewVaultCache(address, token, parts[0], parts[1], log)

	default:
		return nil, fmt.Errorf("unsupported credential cache scheme: %s", u.Scheme)
	}
}
