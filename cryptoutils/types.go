package cryptoutils

import (
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"time"
)

// CSR represents a Certificate Signing Request in PEM format.
type CSR []byte

// NewCSR creates a new CSR object from PEM-encoded data with validation.
func NewCSR(data []byte) (CSR, error) {
	block, _ := pem.Decode(data)
	if block == nil || block.Type != "CERTIFICATE REQUEST" {
		return CSR{}, errors.New("invalid CSR: not in PEM format or not a certificate request")
	}

	_, err := x509.ParseCertificateRequest(block.Bytes)
	if err != nil {
		return CSR{}, fmt.Errorf("invalid CSR structure: %w", err)
	}

	return CSR(data), nil
}

// Validate checks if the CSR is properly formed.
func (csr CSR) Validate() error {
	_, err := NewCSR(csr)
	return err
}

// GetX509CSR returns the parsed X.509 certificate request.
func (csr CSR) GetX509CSR() (*x509.CertificateRequest, error) {
	block, _ := pem.Decode(csr)
	if block == nil {
		return nil, errors.New("failed to decode PEM block")
	}
	return x509.ParseCertificateRequest(block.Bytes)
}

// CertificateChain represents an ordered leaf-first sequence of PEM-encoded
// certificates. A chain is only considered valid once normalized and
// containing at least one well-formed certificate block.
type CertificateChain []byte

// NewCertificateChain normalizes and validates a PEM chain. It fails if the
// normalized chain contains zero parseable certificate blocks.
func NewCertificateChain(data []byte) (CertificateChain, error) {
	normalized := NormalizeChain(string(data))
	chain := CertificateChain(normalized)

	certs, err := chain.GetX509Certificates()
	if err != nil {
		return CertificateChain{}, err
	}
	if len(certs) == 0 {
		return CertificateChain{}, errors.New("chain contains no certificates")
	}

	return chain, nil
}

// Validate checks if the chain parses to at least one certificate.
func (chain CertificateChain) Validate() error {
	_, err := NewCertificateChain(chain)
	return err
}

// GetX509Certificates returns all parsed certificates in chain order.
func (chain CertificateChain) GetX509Certificates() ([]*x509.Certificate, error) {
	var certs []*x509.Certificate
	rest := []byte(chain)
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		if block.Type != "CERTIFICATE" {
			continue
		}
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("invalid certificate in chain: %w", err)
		}
		certs = append(certs, cert)
	}
	return certs, nil
}

// Leaf returns the first (end-entity) certificate of the chain.
func (chain CertificateChain) Leaf() (*x509.Certificate, error) {
	certs, err := chain.GetX509Certificates()
	if err != nil {
		return nil, err
	}
	if len(certs) == 0 {
		return nil, errors.New("chain contains no certificates")
	}
	return certs[0], nil
}

// IsExpired reports whether the leaf certificate's validity window has
// passed at the given instant.
func (chain CertificateChain) IsExpired(now time.Time) (bool, error) {
	leaf, err := chain.Leaf()
	if err != nil {
		return false, err
	}
	return leaf.NotAfter.Before(now), nil
}

// VerifyAgainstRoot verifies the leaf against a root CA certificate using
// the remaining chain certificates as intermediates.
func (chain CertificateChain) VerifyAgainstRoot(root *x509.Certificate) error {
	certs, err := chain.GetX509Certificates()
	if err != nil {
		return err
	}
	if len(certs) == 0 {
		return errors.New("chain contains no certificates")
	}

	roots := x509.NewCertPool()
	roots.AddCert(root)
	intermediates := x509.NewCertPool()
	for _, cert := range certs[1:] {
		intermediates.AddCert(cert)
	}

	_, err = certs[0].Verify(x509.VerifyOptions{
		Roots:         roots,
		Intermediates: intermediates,
		KeyUsages:     []x509.ExtKeyUsage{x509.ExtKeyUsageAny},
	})
	return err
}
