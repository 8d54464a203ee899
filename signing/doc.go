// Package signing is the boundary to the provenance-embedding signing
// routine. The orchestrator only depends on the interfaces.SigningBackend
// contract; this package provides the bundled implementation, Embedder,
// which embeds a signed claim envelope into a JPEG as APP11 marker segments
// without touching the image's entropy-coded data.
//
// The envelope carries the manifest, a hash binding it to the exact asset
// bytes, an ES256 signature over the claim, and the signer's certificate
// chain. Reader is the inverse: it extracts and cryptographically verifies
// an envelope, which the privacy gateway uses before re-signing.
//
// Build is CPU- and I/O-heavy by contract and must be dispatched on a
// dedicated worker; see the orchestrator package.
package signing
