// Package cryptoutils provides certificate chain and CSR primitives for the
// provenance signing agent.
//
// The package owns two wire-facing concerns:
//
//   - Chain normalization: certificate chains arriving over HTTP/JSON
//     transport carry inconsistent line endings and embedded blank lines
//     that break strict PEM parsers in the signing backend. NormalizeChain
//     re-serializes a PEM blob into canonical form before it is validated
//     or cached.
//
//   - CSR construction: CreateCSR builds a certificate signing request
//     against a store-held key via crypto.Signer, so private key material
//     never leaves the key store boundary.
//
// Types follow the validated-PEM pattern: CSR and CertificateChain are PEM
// byte slices with constructor validation and parsed-form accessors.
package cryptoutils
