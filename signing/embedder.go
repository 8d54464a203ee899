package signing

import (
	"context"
	"crypto"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/kibala/provenance-agent/interfaces"
)

// envelopeMagic identifies provenance envelope chunks among APP11 segments.
var envelopeMagic = []byte("KIBJ")

const (
	envelopeVersion = 0x01
	chunkHeaderSize = 4 + 1 + 2 + 2
	maxChunkPayload = 60000
)

// Claim binds a manifest to the exact bytes of the asset it describes.
type Claim struct {
	Manifest  json.RawMessage `json:"manifest"`
	AssetHash string          `json:"asset_hash"`
}

// Envelope is the signed unit embedded into the JPEG: the claim, an ES256
// signature over its SHA-256 digest, and the signer's certificate chain.
type Envelope struct {
	Claim     json.RawMessage `json:"claim"`
	Signature []byte          `json:"signature"`
	CertChain string          `json:"cert_chain"`
	Algorithm string          `json:"alg"`
}

// DecodeClaim parses the envelope's claim document.
func (e *Envelope) DecodeClaim() (*Claim, error) {
	var claim Claim
	if err := json.Unmarshal(e.Claim, &claim); err != nil {
		return nil, fmt.Errorf("could not parse claim: %w", err)
	}
	return &claim, nil
}

// Embedder implements interfaces.SigningBackend by inserting a signed claim
// envelope into a JPEG as APP11 marker segments. Pixel data is never
// re-encoded; any previously embedded envelope is replaced.
type Embedder struct {
	log *slog.Logger
}

// NewEmbedder creates the bundled signing backend.
func NewEmbedder(log *slog.Logger) *Embedder {
	return &Embedder{log: log}
}

// Build reads the source JPEG, embeds manifestJSON signed under capability,
// and writes the signed image to dest.
func (e *Embedder) Build(ctx context.Context, manifestJSON []byte, source io.Reader, dest io.Writer, capability interfaces.SignerCapability) error {
	data, err := io.ReadAll(source)
	if err != nil {
		return fmt.Errorf("could not read source: %w", err)
	}

	segments, tail, err := scanSegments(data)
	if err != nil {
		return err
	}

	// Drop any prior envelope so the claim hash covers a clean asset and
	// re-signing is idempotent.
	kept := dropEnvelopeSegments(segments)
	cleanAsset := assemble(kept, tail)
	assetHash := sha256.Sum256(cleanAsset)

	claimJSON, err := json.Marshal(Claim{
		Manifest:  manifestJSON,
		AssetHash: hex.EncodeToString(assetHash[:]),
	})
	if err != nil {
		return fmt.Errorf("could not encode claim: %w", err)
	}

	digest := sha256.Sum256(claimJSON)
	signature, err := capability.Signer.Sign(nil, digest[:], crypto.SHA256)
	if err != nil {
		return fmt.Errorf("could not sign claim: %w", err)
	}

	envelopeJSON, err := json.Marshal(Envelope{
		Claim:     claimJSON,
		Signature: signature,
		CertChain: string(capability.Chain),
		Algorithm: string(capability.Algorithm),
	})
	if err != nil {
		return fmt.Errorf("could not encode envelope: %w", err)
	}

	withEnvelope := insertEnvelope(kept, envelopeJSON)
	signed := assemble(withEnvelope, tail)

	if _, err := dest.Write(signed); err != nil {
		return fmt.Errorf("could not write signed output: %w", err)
	}

	e.log.Debug("Embedded provenance envelope",
		slog.Int("envelope_bytes", len(envelopeJSON)),
		slog.Int("signed_bytes", len(signed)))

	return nil
}

// dropEnvelopeSegments filters out APP11 segments carrying our envelope
// magic, leaving foreign APP11 payloads untouched.
func dropEnvelopeSegments(segments []segment) []segment {
	kept := make([]segment, 0, len(segments))
	for _, seg := range segments {
		if seg.marker == markerAPP11 && isEnvelopeSegment(seg.raw) {
			continue
		}
		kept = append(kept, seg)
	}
	return kept
}

func isEnvelopeSegment(raw []byte) bool {
	// raw = marker(2) + length(2) + payload
	if len(raw) < 4+len(envelopeMagic) {
		return false
	}
	for i, b := range envelopeMagic {
		if raw[4+i] != b {
			return false
		}
	}
	return true
}

// insertEnvelope chunks the envelope across APP11 segments and places them
// after the leading APP0/APP1 run, where application metadata belongs.
func insertEnvelope(segments []segment, envelopeJSON []byte) []segment {
	total := (len(envelopeJSON) + maxChunkPayload - 1) / maxChunkPayload
	if total == 0 {
		total = 1
	}

	chunks := make([]segment, 0, total)
	for i := 0; i < total; i++ {
		start := i * maxChunkPayload
		end := start + maxChunkPayload
		if end > len(envelopeJSON) {
			end = len(envelopeJSON)
		}
		chunks = append(chunks, buildEnvelopeSegment(envelopeJSON[start:end], uint16(i), uint16(total)))
	}

	insertAt := 0
	for insertAt < len(segments) &&
		(segments[insertAt].marker == markerAPP0 || segments[insertAt].marker == markerAPP1) {
		insertAt++
	}

	result := make([]segment, 0, len(segments)+len(chunks))
	result = append(result, segments[:insertAt]...)
	result = append(result, chunks...)
	result = append(result, segments[insertAt:]...)
	return result
}

func buildEnvelopeSegment(chunk []byte, index, total uint16) segment {
	payloadLen := chunkHeaderSize + len(chunk)
	raw := make([]byte, 0, 4+payloadLen)
	raw = append(raw, markerPrefix, markerAPP11)

	var length [2]byte
	binary.BigEndian.PutUint16(length[:], uint16(2+payloadLen))
	raw = append(raw, length[:]...)

	raw = append(raw, envelopeMagic...)
	raw = append(raw, envelopeVersion)

	var seq [4]byte
	binary.BigEndian.PutUint16(seq[:2], index)
	binary.BigEndian.PutUint16(seq[2:], total)
	raw = append(raw, seq[:]...)

	raw = append(raw, chunk...)
	return segment{marker: markerAPP11, raw: raw}
}
