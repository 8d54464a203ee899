// Package credcache implements the interfaces.CredentialCache contract: an
// app-scoped secret store for the enrolled certificate chain, keyed by the
// account name derived from the key tag ("<tag>.certchain").
//
// Two backends are provided, selected through a location URI factory:
//
//   - file:// keeps entries in an app-private directory, sealed at rest with
//     NaCl secretbox under a per-device key generated on first use.
//
//   - vault:// keeps entries in a HashiCorp Vault KV v2 mount.
//
// Both backends honor the same contract: Save deletes any prior entry before
// inserting, Load reports ErrChainNotFound on a miss, and Delete tolerates
// absence. The stored value is always the normalized PEM chain as UTF-8
// text, nothing else.
package credcache
