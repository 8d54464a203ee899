package signing

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/kibala/provenance-agent/cryptoutils"
)

// ErrNoEnvelope indicates the image carries no provenance envelope.
var ErrNoEnvelope = errors.New("no provenance envelope found in image")

// ExtractEnvelope locates and reassembles the provenance envelope embedded
// in a signed JPEG. It also returns the clean asset bytes (the image with
// the envelope segments removed), which the claim's asset hash covers.
func ExtractEnvelope(data []byte) (*Envelope, []byte, error) {
	segments, tail, err := scanSegments(data)
	if err != nil {
		return nil, nil, err
	}

	type chunk struct {
		index   uint16
		total   uint16
		payload []byte
	}

	var chunks []chunk
	kept := make([]segment, 0, len(segments))
	for _, seg := range segments {
		if seg.marker != markerAPP11 || !isEnvelopeSegment(seg.raw) {
			kept = append(kept, seg)
			continue
		}
		payload := seg.raw[4:]
		if len(payload) < chunkHeaderSize {
			return nil, nil, errors.New("malformed envelope segment")
		}
		if payload[4] != envelopeVersion {
			return nil, nil, fmt.Errorf("unsupported envelope version %d", payload[4])
		}
		chunks = append(chunks, chunk{
			index:   binary.BigEndian.Uint16(payload[5:7]),
			total:   binary.BigEndian.Uint16(payload[7:9]),
			payload: payload[chunkHeaderSize:],
		})
	}

	if len(chunks) == 0 {
		return nil, nil, ErrNoEnvelope
	}

	sort.Slice(chunks, func(i, j int) bool { return chunks[i].index < chunks[j].index })
	if int(chunks[0].total) != len(chunks) {
		return nil, nil, fmt.Errorf("incomplete envelope: have %d of %d chunks", len(chunks), chunks[0].total)
	}

	var envelopeJSON bytes.Buffer
	for i, c := range chunks {
		if int(c.index) != i {
			return nil, nil, errors.New("envelope chunks out of sequence")
		}
		envelopeJSON.Write(c.payload)
	}

	var envelope Envelope
	if err := json.Unmarshal(envelopeJSON.Bytes(), &envelope); err != nil {
		return nil, nil, fmt.Errorf("could not parse envelope: %w", err)
	}

	return &envelope, assemble(kept, tail), nil
}

// Verify extracts the envelope and checks it cryptographically: the ES256
// signature over the claim digest must verify under the chain's leaf key,
// and the claim's asset hash must match the clean asset bytes. If root is
// non-nil the certificate chain must additionally verify against it.
//
// On success it returns the envelope, whose manifest the caller may inspect.
func Verify(data []byte, root *x509.Certificate) (*Envelope, error) {
	envelope, cleanAsset, err := ExtractEnvelope(data)
	if err != nil {
		return nil, err
	}

	chain, err := cryptoutils.NewCertificateChain([]byte(envelope.CertChain))
	if err != nil {
		return nil, fmt.Errorf("envelope carries invalid certificate chain: %w", err)
	}

	leaf, err := chain.Leaf()
	if err != nil {
		return nil, err
	}

	pub, ok := leaf.PublicKey.(*ecdsa.PublicKey)
	if !ok {
		return nil, errors.New("leaf certificate does not hold an ECDSA key")
	}

	digest := sha256.Sum256(envelope.Claim)
	if !ecdsa.VerifyASN1(pub, digest[:], envelope.Signature) {
		return nil, errors.New("envelope signature verification failed")
	}

	claim, err := envelope.DecodeClaim()
	if err != nil {
		return nil, err
	}

	assetHash := sha256.Sum256(cleanAsset)
	if claim.AssetHash != hex.EncodeToString(assetHash[:]) {
		return nil, errors.New("asset hash mismatch: image bytes were modified after signing")
	}

	if root != nil {
		if err := chain.VerifyAgainstRoot(root); err != nil {
			return nil, fmt.Errorf("certificate chain not trusted: %w", err)
		}
	}

	return envelope, nil
}
