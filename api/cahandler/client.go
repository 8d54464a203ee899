package cahandler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/kibala/provenance-agent/api"
	"github.com/kibala/provenance-agent/cryptoutils"
	"github.com/kibala/provenance-agent/interfaces"
)

// enrollTimeout bounds a single CA round trip.
const enrollTimeout = 30 * time.Second

// Client talks to the CA's certificate signing endpoint. It implements
// api.EnrollmentProvider.
type Client struct {
	serverURL string
	client    *http.Client
	log       *slog.Logger
}

// NewClient creates a CA client for the given base URL. The URL is validated
// up front so misconfiguration surfaces before the first enrollment attempt.
func NewClient(serverURL string, log *slog.Logger) (*Client, error) {
	validated, err := api.ValidateServerURL(serverURL)
	if err != nil {
		return nil, err
	}
	return &Client{
		serverURL: validated,
		client:    &http.Client{Timeout: enrollTimeout},
		log:       log,
	}, nil
}

// RequestCertificate sends the CSR to the CA and returns the parsed response
// together with the normalized, validated chain. A chain that normalizes to
// zero certificate blocks fails with ErrInvalidCertificateChain and nothing
// is returned for the caller to cache.
func (c *Client) RequestCertificate(ctx context.Context, csr interfaces.CSR, metadata map[string]string) (*api.EnrollmentResponse, interfaces.CertificateChain, error) {
	body, err := json.Marshal(api.EnrollmentRequest{CSR: string(csr), Metadata: metadata})
	if err != nil {
		return nil, nil, fmt.Errorf("could not encode enrollment request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.serverURL+api.CertificateSignPath, bytes.NewReader(body))
	if err != nil {
		return nil, nil, fmt.Errorf("could not initialize request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, nil, &interfaces.NetworkError{Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, &interfaces.NetworkError{Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		c.log.Error("CA rejected enrollment",
			slog.Int("status", resp.StatusCode),
			slog.Duration("duration", time.Since(start)))
		return nil, nil, interfaces.NewNetworkError(resp.StatusCode, respBody)
	}

	var enrollment api.EnrollmentResponse
	if err := json.Unmarshal(respBody, &enrollment); err != nil {
		return nil, nil, fmt.Errorf("could not parse enrollment response: %w", err)
	}

	chain, err := cryptoutils.NewCertificateChain([]byte(enrollment.CertificateChain))
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", interfaces.ErrInvalidCertificateChain, err)
	}

	c.log.Info("Enrolled with CA",
		slog.String("certificate_id", enrollment.CertificateID),
		slog.String("expires_at", enrollment.ExpiresAt),
		slog.Duration("duration", time.Since(start)))

	return &enrollment, chain, nil
}
