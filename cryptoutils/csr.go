package cryptoutils

import (
	"crypto"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
)

// CreateCSR builds a certificate signing request for the given subject,
// signed by a store-held key through the provided crypto.Signer. The private
// key never leaves the key store; only the CSR signature operation crosses
// the boundary.
func CreateCSR(signer crypto.Signer, subject pkix.Name) (CSR, error) {
	csrTemplate := x509.CertificateRequest{
		Subject:            subject,
		SignatureAlgorithm: x509.ECDSAWithSHA256,
	}

	csrDER, err := x509.CreateCertificateRequest(rand.Reader, &csrTemplate, signer)
	if err != nil {
		return nil, fmt.Errorf("could not create certificate request: %w", err)
	}

	csrPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE REQUEST", Bytes: csrDER})
	return CSR(csrPEM), nil
}
