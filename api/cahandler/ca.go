package cahandler

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha1"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/kibala/provenance-agent/cryptoutils"
	"github.com/kibala/provenance-agent/interfaces"
)

// DefaultValidity is how long issued device certificates remain valid.
const DefaultValidity = 365 * 24 * time.Hour

// CA issues device signing certificates from CSRs. Issued certificates are
// end-entity only: digital signature key usage with the email protection
// extended usage that C2PA signing certificates carry.
type CA struct {
	cert     *x509.Certificate
	signer   crypto.Signer
	rootPEM  []byte
	validity time.Duration
	log      *slog.Logger
}

// NewCA wraps an existing root certificate and its signer.
func NewCA(cert *x509.Certificate, signer crypto.Signer, log *slog.Logger) *CA {
	return &CA{
		cert:     cert,
		signer:   signer,
		rootPEM:  pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: cert.Raw}),
		validity: DefaultValidity,
		log:      log,
	}
}

// GenerateRootCA creates a self-signed P-256 root for development and test
// deployments.
func GenerateRootCA(commonName string) (*x509.Certificate, crypto.Signer, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("could not generate root key: %w", err)
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, nil, fmt.Errorf("could not generate serial number: %w", err)
	}

	template := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: commonName, Organization: []string{"Kibala"}},
		NotBefore:             time.Now().Add(-5 * time.Minute),
		NotAfter:              time.Now().AddDate(10, 0, 0),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
		IsCA:                  true,
		SubjectKeyId:          keyID(&key.PublicKey),
	}

	certDER, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return nil, nil, fmt.Errorf("could not create root certificate: %w", err)
	}

	cert, err := x509.ParseCertificate(certDER)
	if err != nil {
		return nil, nil, fmt.Errorf("could not parse root certificate: %w", err)
	}

	return cert, key, nil
}

// Root returns the CA's root certificate.
func (ca *CA) Root() *x509.Certificate {
	return ca.cert
}

// SignCSR issues an end-entity certificate for the CSR's subject and public
// key, and returns the full chain (leaf first, root last) together with the
// parsed leaf.
func (ca *CA) SignCSR(csr cryptoutils.CSR) (interfaces.CertificateChain, *x509.Certificate, error) {
	parsed, err := csr.GetX509CSR()
	if err != nil {
		return nil, nil, fmt.Errorf("could not parse CSR: %w", err)
	}
	if err := parsed.CheckSignature(); err != nil {
		return nil, nil, fmt.Errorf("CSR signature invalid: %w", err)
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, nil, fmt.Errorf("could not generate serial number: %w", err)
	}

	now := time.Now()
	template := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               parsed.Subject,
		NotBefore:             now.Add(-5 * time.Minute),
		NotAfter:              now.Add(ca.validity),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageEmailProtection},
		BasicConstraintsValid: true,
		IsCA:                  false,
	}
	if pub, ok := parsed.PublicKey.(*ecdsa.PublicKey); ok {
		template.SubjectKeyId = keyID(pub)
	}

	certDER, err := x509.CreateCertificate(rand.Reader, template, ca.cert, parsed.PublicKey, ca.signer)
	if err != nil {
		return nil, nil, fmt.Errorf("could not sign certificate: %w", err)
	}

	leaf, err := x509.ParseCertificate(certDER)
	if err != nil {
		return nil, nil, fmt.Errorf("could not parse issued certificate: %w", err)
	}

	leafPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: certDER})
	chain, err := cryptoutils.NewCertificateChain(append(leafPEM, ca.rootPEM...))
	if err != nil {
		return nil, nil, fmt.Errorf("could not assemble chain: %w", err)
	}

	ca.log.Info("Issued device certificate",
		slog.String("subject", parsed.Subject.CommonName),
		slog.String("serial", serial.String()),
		slog.Time("not_after", leaf.NotAfter))

	return chain, leaf, nil
}

func keyID(pub *ecdsa.PublicKey) []byte {
	sum := sha1.Sum(elliptic.MarshalCompressed(pub.Curve, pub.X, pub.Y))
	return sum[:]
}
