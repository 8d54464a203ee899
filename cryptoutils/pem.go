package cryptoutils

import "strings"

const (
	beginCertMarker = "-----BEGIN CERTIFICATE-----"
	endCertMarker   = "-----END CERTIFICATE-----"
)

// NormalizeChain re-serializes a PEM certificate chain into canonical form:
// discrete BEGIN/END CERTIFICATE blocks joined by single newlines, with
// surrounding whitespace and embedded blank lines removed.
//
// The input is split on the END CERTIFICATE delimiter. Each block is
// trimmed; blocks carrying a BEGIN CERTIFICATE marker get the END marker
// re-appended and are kept, everything else (empty blocks, trailing
// fragments after the last certificate) is discarded.
//
// If no valid blocks are found the trimmed original input is returned
// unchanged rather than an empty string, so a downstream validity check can
// reject it explicitly instead of silently losing the payload.
func NormalizeChain(raw string) string {
	parts := strings.Split(raw, endCertMarker)

	var blocks []string
	for _, part := range parts {
		block := strings.TrimSpace(part)
		if block == "" {
			continue
		}
		if !strings.Contains(block, beginCertMarker) {
			continue
		}
		blocks = append(blocks, block+"\n"+endCertMarker)
	}

	if len(blocks) == 0 {
		return strings.TrimSpace(raw)
	}

	return strings.Join(blocks, "\n")
}

// CountCertificateBlocks returns the number of BEGIN/END CERTIFICATE blocks
// in a normalized chain.
func CountCertificateBlocks(chain string) int {
	return strings.Count(chain, beginCertMarker)
}
