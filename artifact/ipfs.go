package artifact

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"time"

	shell "github.com/ipfs/go-ipfs-api"

	"github.com/kibala/provenance-agent/interfaces"
)

// IPFSMirror pins committed artifacts to an IPFS node. The returned CID is
// content-addressed, so re-mirroring identical bytes is a no-op on the node.
type IPFSMirror struct {
	shell       *shell.Shell
	host        string
	port        string
	log         *slog.Logger
	locationURI string
}

// NewIPFSMirror creates an IPFS mirror backend connected to the node's API
// at host:port.
func NewIPFSMirror(host, port string, log *slog.Logger) (*IPFSMirror, error) {
	apiURL := fmt.Sprintf("%s:%s", host, port)
	return &IPFSMirror{
		shell:       shell.NewShell(apiURL),
		host:        host,
		port:        port,
		log:         log,
		locationURI: fmt.Sprintf("ipfs://%s/", apiURL),
	}, nil
}

// Mirror adds the artifact bytes to IPFS and pins them.
func (b *IPFSMirror) Mirror(ctx context.Context, name string, data []byte) error {
	start := time.Now()

	if !b.shell.IsUp() {
		return interfaces.ErrBackendUnavailable
	}

	cid, err := b.shell.Add(bytes.NewReader(data), shell.Pin(true))
	if err != nil {
		return fmt.Errorf("failed to add artifact to IPFS: %w", err)
	}

	b.log.Debug("Mirrored artifact to IPFS",
		slog.String("name", name),
		slog.String("cid", cid),
		slog.Int("size", len(data)),
		slog.Duration("duration", time.Since(start)))

	return nil
}

// Available checks if the IPFS node is accessible.
func (b *IPFSMirror) Available(ctx context.Context) bool {
	return b.shell.IsUp()
}

// Name returns a unique identifier for this mirror backend.
func (b *IPFSMirror) Name() string {
	return fmt.Sprintf("ipfs-%s-%s", b.host, b.port)
}

// LocationURI returns the URI that identifies this mirror backend.
func (b *IPFSMirror) LocationURI() string {
	return b.locationURI
}
