package interfaces

import (
	"context"
	"crypto"
	"io"
)

// KeyStore wraps the device's asymmetric key facility. Implementations keep
// private key material behind the store boundary; only signing and
// public-key export are exposed.
//
// Implementations must be safe for concurrent use.
type KeyStore interface {
	// EnsureKey returns the handle for the key stored under tag, creating
	// the key only if no key exists for that tag. Creation is idempotent:
	// calling EnsureKey twice yields the same key identity. Fails with
	// ErrKeyStoreUnavailable if the underlying facility cannot be reached.
	EnsureKey(tag KeyTag) (KeyHandle, error)

	// Sign signs digest with the key referenced by handle and returns the
	// ASN.1 DER encoded signature.
	Sign(handle KeyHandle, digest []byte) ([]byte, error)

	// PublicKey exports the public key material for handle.
	PublicKey(handle KeyHandle) (crypto.PublicKey, error)

	// Signer returns a crypto.Signer backed by the store-held key. The
	// signer never exposes private material; every operation round-trips
	// through the store.
	Signer(handle KeyHandle) (crypto.Signer, error)

	// DeleteKey removes the key stored under tag. Absence of a key is not
	// an error.
	DeleteKey(tag KeyTag) error
}

// CredentialCache persists the enrolled certificate chain across process
// restarts. Entries are keyed by the account name derived from the key tag
// (KeyTag.CacheAccount). Loss of the cache triggers transparent
// re-enrollment, never a permanent signing failure.
type CredentialCache interface {
	// Load returns the chain stored under account, or ErrChainNotFound on a
	// miss.
	Load(ctx context.Context, account string) (CertificateChain, error)

	// Save stores chain under account. Any prior entry is deleted before the
	// insert; there is no update-in-place.
	Save(ctx context.Context, account string, chain CertificateChain) error

	// Delete removes the entry for account. Absence is not an error.
	Delete(ctx context.Context, account string) error
}

// SignerCapability is the minimal state needed to request a signature from
// the signing backend: algorithm, key reference and the normalized chain.
// It is recomputed for each signing session from the cache and key store,
// never persisted as a unit.
type SignerCapability struct {
	Algorithm SigningAlgorithm
	Handle    KeyHandle

	// Signer performs the actual signature operations via the key store.
	Signer crypto.Signer

	// Chain is the normalized leaf-first certificate chain embedded next to
	// the signature.
	Chain CertificateChain
}

// SigningBackend embeds a provenance manifest into media and signs it. The
// Build call is CPU- and I/O-heavy and is treated as synchronous/blocking
// from the worker that invokes it; the orchestrator guarantees it never runs
// on a latency-sensitive scheduling domain.
type SigningBackend interface {
	// Build reads the source media, embeds manifestJSON signed under
	// capability, and writes the signed bytes to dest. Failures are wrapped
	// in a SigningError by the caller.
	Build(ctx context.Context, manifestJSON []byte, source io.Reader, dest io.Writer, capability SignerCapability) error
}

// ArtifactBackend is a remote mirror for signed artifacts. Mirrors are
// best-effort: the local artifact directory stays authoritative and a mirror
// failure never fails the signing operation.
type ArtifactBackend interface {
	// Mirror uploads the artifact bytes verbatim under its filename.
	Mirror(ctx context.Context, name string, data []byte) error

	// Available checks whether the backend is currently reachable.
	Available(ctx context.Context) bool

	// Name returns a unique identifier for this backend.
	Name() string

	// LocationURI returns the URI that identifies this backend.
	LocationURI() string
}
