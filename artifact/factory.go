package artifact

import (
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/kibala/provenance-agent/interfaces"
)

// MirrorFor creates a mirror backend from a location URI.
//
// Supported URI formats:
//   - s3://accessKey:secretKey@bucket/prefix?region=us-east-1&endpoint=host
//   - ipfs://host:port/
func MirrorFor(uri string, log *slog.Logger) (interfaces.ArtifactBackend, error) {
	parsed, err := url.Parse(uri)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrInvalidLocationURI, err)
	}

	switch parsed.Scheme {
	case "s3":
		bucket := parsed.Host
		prefix := strings.TrimPrefix(parsed.Path, "/")

		var accessKey, secretKey string
		if parsed.User != nil {
			accessKey = parsed.User.Username()
			secretKey, _ = parsed.User.Password()
			// Host carries the bucket; credentials live in the userinfo part.
		}

		query := parsed.Query()
		region := query.Get("region")
		if region == "" {
			region = "us-east-1"
		}
		endpoint := query.Get("endpoint")

		return NewS3Mirror(bucket, prefix, region, endpoint, accessKey, secretKey, log)

	case "ipfs":
		host := parsed.Hostname()
		port := parsed.Port()
		if port == "" {
			port = "5001"
		}
		return NewIPFSMirror(host, port, log)

	default:
		return nil, fmt.Errorf("%w: unsupported mirror scheme %q", interfaces.ErrInvalidLocationURI, parsed.Scheme)
	}
}

// MirrorsFor parses a comma-separated list of mirror URIs. An empty list is
// valid and yields no mirrors.
func MirrorsFor(uris string, log *slog.Logger) ([]interfaces.ArtifactBackend, error) {
	if strings.TrimSpace(uris) == "" {
		return nil, nil
	}

	var mirrors []interfaces.ArtifactBackend
	for _, uri := range strings.Split(uris, ",") {
		uri = strings.TrimSpace(uri)
		if uri == "" {
			continue
		}
		backend, err := MirrorFor(uri, log)
		if err != nil {
			return nil, fmt.Errorf("could not configure mirror %s: %w", uri, err)
		}
		mirrors = append(mirrors, backend)
	}
	return mirrors, nil
}
