package api

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/kibala/provenance-agent/interfaces"
)

// Endpoint paths served by the CA and gateway.
const (
	// CertificateSignPath accepts a CSR and returns a signed device
	// certificate chain.
	CertificateSignPath = "/api/v1/certificates/sign"

	// PublishPath accepts a signed JPEG and returns the gateway re-signed
	// bytes.
	PublishPath = "/api/v1/publish"
)

// EnrollmentProvider abstracts the CA endpoint that exchanges a CSR for a
// signed certificate chain.
type EnrollmentProvider interface {
	// RequestCertificate sends a PEM CSR to the CA and returns the parsed
	// response together with the normalized, validated chain.
	RequestCertificate(ctx context.Context, csr interfaces.CSR, metadata map[string]string) (*EnrollmentResponse, interfaces.CertificateChain, error)
}

// EnrollmentRequest is the JSON body of POST CertificateSignPath.
type EnrollmentRequest struct {
	// CSR is the PEM-encoded certificate signing request.
	CSR string `json:"csr"`

	// Metadata carries optional device information for the CA's records.
	Metadata map[string]string `json:"metadata,omitempty"`
}

// EnrollmentResponse is returned by the CA on a successful signing.
type EnrollmentResponse struct {
	// CertificateChain is the PEM chain, leaf first, root last.
	CertificateChain string `json:"certificate_chain"`

	// CertificateID is the CA-assigned identifier for this issuance.
	CertificateID string `json:"certificate_id"`

	// ExpiresAt is the leaf certificate's expiry in RFC 3339 format.
	ExpiresAt string `json:"expires_at"`

	// SerialNumber is the leaf certificate's serial number in decimal.
	SerialNumber string `json:"serial_number"`
}

// ValidateServerURL checks that a CA or gateway base URL is absolute, uses
// http or https, and names a host. It returns the URL with any trailing
// slash removed.
func ValidateServerURL(raw string) (string, error) {
	parsed, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %v", interfaces.ErrInvalidServerURL, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "", fmt.Errorf("%w: unsupported scheme %q", interfaces.ErrInvalidServerURL, parsed.Scheme)
	}
	if parsed.Host == "" {
		return "", fmt.Errorf("%w: missing host in %q", interfaces.ErrInvalidServerURL, raw)
	}
	return strings.TrimSuffix(raw, "/"), nil
}
