package gatewayhandler

import (
	"bytes"
	"crypto/x509"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kibala/provenance-agent/api"
	"github.com/kibala/provenance-agent/interfaces"
	"github.com/kibala/provenance-agent/manifest"
	"github.com/kibala/provenance-agent/signing"
)

// maxUploadBytes bounds a publish upload (64 MiB).
const maxUploadBytes = 64 << 20

// Handler implements the gateway's publish endpoint. It verifies the
// device-signed provenance envelope, strips device metadata, and re-signs
// the photo under the gateway's own identity with a published action.
type Handler struct {
	capability interfaces.SignerCapability
	backend    interfaces.SigningBackend
	root       *x509.Certificate
	profile    manifest.Profile
	log        *slog.Logger
}

// NewHandler creates the publish handler. root is the CA root that incoming
// device chains must verify against; nil disables chain verification and
// accepts any cryptographically valid envelope.
func NewHandler(capability interfaces.SignerCapability, backend interfaces.SigningBackend, root *x509.Certificate, profile manifest.Profile, log *slog.Logger) *Handler {
	return &Handler{
		capability: capability,
		backend:    backend,
		root:       root,
		profile:    profile,
		log:        log,
	}
}

// RegisterRoutes configures the router with the gateway endpoint:
//   - POST /api/v1/publish - verify, strip and re-sign an uploaded photo
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post(api.PublishPath, h.HandlePublish)
}

// HandlePublish processes a multipart upload with the photo under the "file"
// field. On success the response body is the re-signed JPEG.
//
// Status codes:
//   - 200 OK: re-signed image returned
//   - 400 Bad Request: missing file, not a JPEG, or provenance invalid
//   - 500 Internal Server Error: re-signing failed
func (h *Handler) HandlePublish(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)

	file, header, err := r.FormFile("file")
	if err != nil {
		h.log.Error("Missing file in publish request", "err", err)
		http.Error(w, "Missing file field", http.StatusBadRequest)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		h.log.Error("Failed to read upload", "err", err)
		http.Error(w, "Failed to read upload", http.StatusBadRequest)
		return
	}

	if !signing.IsJPEG(data) {
		http.Error(w, "Upload is not a JPEG", http.StatusBadRequest)
		return
	}

	envelope, err := signing.Verify(data, h.root)
	if err != nil {
		h.log.Error("Provenance verification failed",
			slog.String("filename", header.Filename),
			"err", err)
		http.Error(w, "Provenance verification failed", http.StatusBadRequest)
		return
	}

	// Drop device EXIF and the device envelope before re-signing. The
	// published artifact carries only the gateway's claim.
	stripped, err := signing.StripMetadata(data)
	if err != nil {
		h.log.Error("Failed to strip metadata", "err", err)
		http.Error(w, "Failed to process image", http.StatusInternalServerError)
		return
	}

	manifestJSON, err := manifest.NewPublished(h.profile, time.Now()).Encode()
	if err != nil {
		h.log.Error("Failed to build manifest", "err", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	var signed bytes.Buffer
	if err := h.backend.Build(r.Context(), manifestJSON, bytes.NewReader(stripped), &signed, h.capability); err != nil {
		h.log.Error("Failed to re-sign image", "err", err)
		http.Error(w, "Failed to re-sign image", http.StatusInternalServerError)
		return
	}

	h.log.Info("Published photo",
		slog.String("filename", header.Filename),
		slog.Int("size", signed.Len()),
		slog.String("device_claim_alg", envelope.Algorithm))

	w.Header().Set("Content-Type", "image/jpeg")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(signed.Bytes()); err != nil {
		h.log.Error("Failed to write response", "err", err)
	}
}
