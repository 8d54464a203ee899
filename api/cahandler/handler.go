package cahandler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/kibala/provenance-agent/api"
	"github.com/kibala/provenance-agent/cryptoutils"
)

// Handler processes certificate signing requests for the device CA.
type Handler struct {
	ca  *CA
	log *slog.Logger
}

// NewHandler creates an HTTP request handler for the CA service.
func NewHandler(ca *CA, log *slog.Logger) *Handler {
	return &Handler{ca: ca, log: log}
}

// RegisterRoutes configures the router with the CA endpoint:
//   - POST /api/v1/certificates/sign - exchange a CSR for a certificate chain
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post(api.CertificateSignPath, h.HandleSignCertificate)
}

// HandleSignCertificate validates the submitted CSR, issues an end-entity
// certificate and returns the full chain.
//
// Status codes:
//   - 200 OK: certificate issued
//   - 400 Bad Request: malformed JSON or CSR
//   - 500 Internal Server Error: issuance failed
func (h *Handler) HandleSignCertificate(w http.ResponseWriter, r *http.Request) {
	var req api.EnrollmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.log.Error("Invalid enrollment request body", "err", err)
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	csr, err := cryptoutils.NewCSR([]byte(req.CSR))
	if err != nil {
		h.log.Error("Invalid CSR", "err", err)
		http.Error(w, "Invalid CSR", http.StatusBadRequest)
		return
	}

	chain, leaf, err := h.ca.SignCSR(csr)
	if err != nil {
		h.log.Error("Failed to sign CSR", "err", err)
		http.Error(w, "Failed to sign certificate", http.StatusInternalServerError)
		return
	}

	response := api.EnrollmentResponse{
		CertificateChain: string(chain),
		CertificateID:    uuid.NewString(),
		ExpiresAt:        leaf.NotAfter.UTC().Format(time.RFC3339),
		SerialNumber:     leaf.SerialNumber.String(),
	}

	if device, ok := req.Metadata["device"]; ok {
		h.log.Debug("Enrolled device", slog.String("device", device))
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		h.log.Error("Failed to encode response", "err", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
}
