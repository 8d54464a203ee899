// Package keystore implements the interfaces.KeyStore contract.
//
// SoftKeyStore is a software implementation holding ECDSA P-256 keys as
// PKCS#8 PEM files in an app-private directory. It stands in for the
// hardware-backed key facility on platforms without one; the contract is
// identical, and callers only ever see key handles and crypto.Signer
// instances, never raw private material.
package keystore
