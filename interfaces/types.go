package interfaces

import (
	"errors"
	"regexp"
	"time"

	"github.com/kibala/provenance-agent/cryptoutils"
)

type CertificateChain = cryptoutils.CertificateChain
type CSR = cryptoutils.CSR

// KeyTag is the stable application identifier for the device signing key.
// At most one key exists per tag at any time.
type KeyTag string

var keyTagRegex = regexp.MustCompile(`^[a-zA-Z0-9._-]+$`)

// NewKeyTag validates and returns a key tag.
func NewKeyTag(tag string) (KeyTag, error) {
	if tag == "" || !keyTagRegex.MatchString(tag) {
		return "", errors.New("invalid key tag: must be non-empty [a-zA-Z0-9._-]")
	}
	return KeyTag(tag), nil
}

// String returns the tag as a string.
func (t KeyTag) String() string {
	return string(t)
}

// CacheAccount derives the credential cache account name for this tag.
// The cache entry for a tag always lives under "<tag>.certchain".
func (t KeyTag) CacheAccount() string {
	return string(t) + ".certchain"
}

// KeyHandle is an opaque reference to a store-held private key. The handle
// carries no key material; all operations resolve through the KeyStore that
// issued it.
type KeyHandle struct {
	Tag KeyTag
}

// SigningAlgorithm identifies the signature scheme used for provenance
// manifests.
type SigningAlgorithm string

// ES256 is ECDSA over P-256 with SHA-256, the only algorithm the agent uses.
const ES256 SigningAlgorithm = "es256"

// EnrollmentIdentity is the fixed subject profile bound into the CSR.
// These are organization-configured constants, never user input.
type EnrollmentIdentity struct {
	CommonName   string
	Organization string
	Locality     string
	Country      string
}

// SignedArtifact describes a byte-exact signed file on durable storage.
// Artifact bytes are never re-encoded or mutated after creation.
type SignedArtifact struct {
	// Path is the absolute filesystem location of the artifact.
	Path string

	// Name is the artifact's filename, Prefix_<yyyyMMdd_HHmmss>[_<suffix>].jpg.
	Name string

	// Size is the artifact size in bytes.
	Size int64

	// CreatedAt is when the artifact was persisted.
	CreatedAt time.Time
}
