package signing

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/binary"
	"encoding/pem"
	"io"
	"log/slog"
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kibala/provenance-agent/cryptoutils"
	"github.com/kibala/provenance-agent/interfaces"
)

// testJPEG builds a minimal JPEG: SOI, APP0 (JFIF), an APP1 EXIF stub, and
// an SOS tail with fake scan data.
func testJPEG(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	buf.Write([]byte{0xff, 0xd8})

	writeSegment := func(marker byte, payload []byte) {
		buf.Write([]byte{0xff, marker})
		var length [2]byte
		binary.BigEndian.PutUint16(length[:], uint16(2+len(payload)))
		buf.Write(length[:])
		buf.Write(payload)
	}

	writeSegment(0xe0, []byte("JFIF\x00\x01\x02\x00\x00\x01\x00\x01\x00\x00"))
	writeSegment(0xe1, append([]byte("Exif\x00\x00"), bytes.Repeat([]byte{0xaa}, 32)...))

	// SOS marker and fake entropy-coded data, terminated by EOI.
	buf.Write([]byte{0xff, 0xda, 0x00, 0x04, 0x01, 0x00})
	buf.Write(bytes.Repeat([]byte{0x42}, 128))
	buf.Write([]byte{0xff, 0xd9})
	return buf.Bytes()
}

func testCapability(t *testing.T) (interfaces.SignerCapability, *x509.Certificate) {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	template := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "Kibala Device", Organization: []string{"Kibala"}},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().AddDate(1, 0, 0),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	certDER, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	require.NoError(t, err)
	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: certDER})

	chain, err := cryptoutils.NewCertificateChain(certPEM)
	require.NoError(t, err)

	cert, err := x509.ParseCertificate(certDER)
	require.NoError(t, err)

	return interfaces.SignerCapability{
		Algorithm: interfaces.ES256,
		Handle:    interfaces.KeyHandle{Tag: "test"},
		Signer:    key,
		Chain:     chain,
	}, cert
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestEmbedder_BuildAndVerify(t *testing.T) {
	capability, cert := testCapability(t)
	embedder := NewEmbedder(discardLogger())
	source := testJPEG(t)
	manifestJSON := []byte(`{"claim_generator":"Kibala/1.0","title":"Kibala Photo"}`)

	var signed bytes.Buffer
	err := embedder.Build(context.Background(), manifestJSON, bytes.NewReader(source), &signed, capability)
	require.NoError(t, err)

	// The signed output is still a JPEG and larger than the source.
	assert.True(t, IsJPEG(signed.Bytes()))
	assert.Greater(t, signed.Len(), len(source))

	envelope, cleanAsset, err := ExtractEnvelope(signed.Bytes())
	require.NoError(t, err)
	assert.Equal(t, source, cleanAsset)

	claim, err := envelope.DecodeClaim()
	require.NoError(t, err)
	assert.JSONEq(t, string(manifestJSON), string(claim.Manifest))

	// Cryptographic verification against the issuing certificate.
	_, err = Verify(signed.Bytes(), cert)
	require.NoError(t, err)
	_, err = Verify(signed.Bytes(), nil)
	require.NoError(t, err)
}

func TestEmbedder_RejectsNonJPEG(t *testing.T) {
	capability, _ := testCapability(t)
	embedder := NewEmbedder(discardLogger())

	var out bytes.Buffer
	err := embedder.Build(context.Background(), []byte(`{}`), strings.NewReader("not a jpeg"), &out, capability)
	assert.ErrorIs(t, err, errNotJPEG)
}

func TestEmbedder_ResignReplacesEnvelope(t *testing.T) {
	capability, _ := testCapability(t)
	embedder := NewEmbedder(discardLogger())
	source := testJPEG(t)

	var first bytes.Buffer
	require.NoError(t, embedder.Build(context.Background(), []byte(`{"v":1}`), bytes.NewReader(source), &first, capability))

	var second bytes.Buffer
	require.NoError(t, embedder.Build(context.Background(), []byte(`{"v":2}`), bytes.NewReader(first.Bytes()), &second, capability))

	// Only the latest envelope survives, and the clean asset is unchanged.
	envelope, cleanAsset, err := ExtractEnvelope(second.Bytes())
	require.NoError(t, err)
	assert.Equal(t, source, cleanAsset)

	claim, err := envelope.DecodeClaim()
	require.NoError(t, err)
	assert.JSONEq(t, `{"v":2}`, string(claim.Manifest))
}

func TestVerify_DetectsTampering(t *testing.T) {
	capability, _ := testCapability(t)
	embedder := NewEmbedder(discardLogger())

	var signed bytes.Buffer
	require.NoError(t, embedder.Build(context.Background(), []byte(`{}`), bytes.NewReader(testJPEG(t)), &signed, capability))

	tampered := signed.Bytes()
	tampered[len(tampered)-3] ^= 0xff

	_, err := Verify(tampered, nil)
	assert.Error(t, err)
}

func TestVerify_RejectsUntrustedChain(t *testing.T) {
	capability, _ := testCapability(t)
	_, otherCert := testCapability(t)
	embedder := NewEmbedder(discardLogger())

	var signed bytes.Buffer
	require.NoError(t, embedder.Build(context.Background(), []byte(`{}`), bytes.NewReader(testJPEG(t)), &signed, capability))

	_, err := Verify(signed.Bytes(), otherCert)
	assert.Error(t, err)
}

func TestExtractEnvelope_NoEnvelope(t *testing.T) {
	_, _, err := ExtractEnvelope(testJPEG(t))
	assert.ErrorIs(t, err, ErrNoEnvelope)
}

func TestEmbedder_ChunksLargeEnvelope(t *testing.T) {
	capability, _ := testCapability(t)
	embedder := NewEmbedder(discardLogger())

	// A manifest larger than one APP11 segment forces multi-chunk embedding.
	largeManifest := []byte(`{"padding":"` + strings.Repeat("x", 2*maxChunkPayload) + `"}`)

	var signed bytes.Buffer
	require.NoError(t, embedder.Build(context.Background(), largeManifest, bytes.NewReader(testJPEG(t)), &signed, capability))

	envelope, _, err := ExtractEnvelope(signed.Bytes())
	require.NoError(t, err)

	claim, err := envelope.DecodeClaim()
	require.NoError(t, err)
	assert.Equal(t, string(largeManifest), string(claim.Manifest))

	_, err = Verify(signed.Bytes(), nil)
	require.NoError(t, err)
}

func TestBuild_ToleratesFillBytesBeforeMarkers(t *testing.T) {
	capability, _ := testCapability(t)
	embedder := NewEmbedder(discardLogger())

	// Some cameras pad with extra 0xFF bytes before a marker; that is legal
	// JPEG fill and must not be rejected.
	var buf bytes.Buffer
	buf.Write([]byte{0xff, 0xd8})
	buf.Write([]byte{0xff, 0xff})
	buf.Write([]byte{0xff, 0xe0, 0x00, 0x06})
	buf.Write([]byte("JFIF"))
	buf.Write([]byte{0xff})
	buf.Write([]byte{0xff, 0xda, 0x00, 0x04, 0x01, 0x00})
	buf.Write(bytes.Repeat([]byte{0x42}, 16))
	buf.Write([]byte{0xff, 0xd9})

	stripped, err := StripMetadata(buf.Bytes())
	require.NoError(t, err)
	assert.True(t, IsJPEG(stripped))

	var signed bytes.Buffer
	require.NoError(t, embedder.Build(context.Background(), []byte(`{}`), bytes.NewReader(buf.Bytes()), &signed, capability))
	_, err = Verify(signed.Bytes(), nil)
	require.NoError(t, err)
}

func TestStripMetadata(t *testing.T) {
	capability, _ := testCapability(t)
	embedder := NewEmbedder(discardLogger())
	source := testJPEG(t)

	var signed bytes.Buffer
	require.NoError(t, embedder.Build(context.Background(), []byte(`{}`), bytes.NewReader(source), &signed, capability))

	stripped, err := StripMetadata(signed.Bytes())
	require.NoError(t, err)

	// EXIF and the provenance envelope are gone, the image structure stays.
	assert.True(t, IsJPEG(stripped))
	assert.NotContains(t, string(stripped), "Exif")
	_, _, err = ExtractEnvelope(stripped)
	assert.ErrorIs(t, err, ErrNoEnvelope)
}
