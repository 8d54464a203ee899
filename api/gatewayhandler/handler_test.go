package gatewayhandler

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509/pkix"
	"encoding/binary"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kibala/provenance-agent/api/cahandler"
	"github.com/kibala/provenance-agent/cryptoutils"
	"github.com/kibala/provenance-agent/interfaces"
	"github.com/kibala/provenance-agent/manifest"
	"github.com/kibala/provenance-agent/signing"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

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

	buf.Write([]byte{0xff, 0xda, 0x00, 0x04, 0x01, 0x00})
	buf.Write(bytes.Repeat([]byte{0x42}, 128))
	buf.Write([]byte{0xff, 0xd9})
	return buf.Bytes()
}

// capabilityFromCA issues a chain for a fresh key from the given CA.
func capabilityFromCA(t *testing.T, ca *cahandler.CA, commonName string) interfaces.SignerCapability {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	csr, err := cryptoutils.CreateCSR(key, pkix.Name{CommonName: commonName, Organization: []string{"Kibala"}})
	require.NoError(t, err)

	chain, _, err := ca.SignCSR(csr)
	require.NoError(t, err)

	return interfaces.SignerCapability{
		Algorithm: interfaces.ES256,
		Handle:    interfaces.KeyHandle{Tag: interfaces.KeyTag(commonName)},
		Signer:    key,
		Chain:     chain,
	}
}

func testGateway(t *testing.T) (*cahandler.CA, *httptest.Server) {
	t.Helper()

	rootCert, rootKey, err := cahandler.GenerateRootCA("Kibala Test Root")
	require.NoError(t, err)
	ca := cahandler.NewCA(rootCert, rootKey, discardLogger())

	gatewayCapability := capabilityFromCA(t, ca, "Kibala Gateway")
	handler := NewHandler(gatewayCapability, signing.NewEmbedder(discardLogger()), ca.Root(), manifest.DefaultProfile, discardLogger())

	router := chi.NewRouter()
	handler.RegisterRoutes(router)

	server := httptest.NewServer(router)
	t.Cleanup(server.Close)
	return ca, server
}

// deviceSignedPhoto writes a device-signed JPEG to disk and returns its path.
func deviceSignedPhoto(t *testing.T, ca *cahandler.CA) string {
	t.Helper()

	capability := capabilityFromCA(t, ca, "Kibala Device")
	manifestJSON, err := manifest.NewCreated(manifest.DefaultProfile, time.Now()).Encode()
	require.NoError(t, err)

	var signed bytes.Buffer
	err = signing.NewEmbedder(discardLogger()).Build(context.Background(), manifestJSON, bytes.NewReader(testJPEG(t)), &signed, capability)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "Kibala_20260101_000000_abc.jpg")
	require.NoError(t, os.WriteFile(path, signed.Bytes(), 0600))
	return path
}

func TestPublish_RoundTrip(t *testing.T) {
	ca, server := testGateway(t)
	client, err := NewClient(server.URL, discardLogger())
	require.NoError(t, err)

	published, err := client.Publish(context.Background(), deviceSignedPhoto(t, ca))
	require.NoError(t, err)

	// The published photo verifies against the same root and carries a
	// c2pa.published action instead of the device's created action.
	envelope, err := signing.Verify(published, ca.Root())
	require.NoError(t, err)

	claim, err := envelope.DecodeClaim()
	require.NoError(t, err)

	var m manifest.Manifest
	require.NoError(t, json.Unmarshal(claim.Manifest, &m))
	require.NotEmpty(t, m.Assertions)

	actions, err := json.Marshal(m.Assertions[0].Data)
	require.NoError(t, err)
	assert.Contains(t, string(actions), "c2pa.published")

	// Device EXIF was stripped before re-signing.
	assert.NotContains(t, string(published), "Exif")
}

func TestPublish_RejectsUnsignedUpload(t *testing.T) {
	ca, server := testGateway(t)
	client, err := NewClient(server.URL, discardLogger())
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "plain.jpg")
	require.NoError(t, os.WriteFile(path, testJPEG(t), 0600))
	_ = ca

	_, err = client.Publish(context.Background(), path)
	var netErr *interfaces.NetworkError
	require.ErrorAs(t, err, &netErr)
	assert.Equal(t, http.StatusBadRequest, netErr.Status)
}

func TestPublish_RejectsForeignDeviceChain(t *testing.T) {
	_, server := testGateway(t)
	client, err := NewClient(server.URL, discardLogger())
	require.NoError(t, err)

	// Photo signed under a different root must not pass verification.
	otherRoot, otherKey, err := cahandler.GenerateRootCA("Other Root")
	require.NoError(t, err)
	otherCA := cahandler.NewCA(otherRoot, otherKey, discardLogger())

	_, err = client.Publish(context.Background(), deviceSignedPhoto(t, otherCA))
	var netErr *interfaces.NetworkError
	require.ErrorAs(t, err, &netErr)
	assert.Equal(t, http.StatusBadRequest, netErr.Status)
}

func TestPublish_RejectsNonJPEG(t *testing.T) {
	_, server := testGateway(t)
	client, err := NewClient(server.URL, discardLogger())
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "not-a-photo.jpg")
	require.NoError(t, os.WriteFile(path, []byte("plain text"), 0600))

	_, err = client.Publish(context.Background(), path)
	var netErr *interfaces.NetworkError
	require.ErrorAs(t, err, &netErr)
	assert.Equal(t, http.StatusBadRequest, netErr.Status)
}

func TestPublish_ReturnsBodyVerbatim(t *testing.T) {
	canned := []byte{0xff, 0xd8, 0x01, 0x02, 0x03, 0xff, 0xd9}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))
		file, header, err := r.FormFile("file")
		require.NoError(t, err)
		defer file.Close()

		// The upload preserves the artifact's filename and content type.
		assert.Equal(t, "upload.jpg", header.Filename)
		assert.Equal(t, "image/jpeg", header.Header.Get("Content-Type"))

		w.Write(canned)
	}))
	defer server.Close()

	client, err := NewClient(server.URL, discardLogger())
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "upload.jpg")
	require.NoError(t, os.WriteFile(path, testJPEG(t), 0600))

	body, err := client.Publish(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, canned, body)
}
