// Package interfaces defines the core interfaces and types for the photo
// provenance signing agent. It provides the contract between different
// components without implementation details.
//
// The central contracts are:
//
//   - KeyStore: lifecycle of the device-bound signing key. The production
//     implementation wraps a hardware-backed key facility; private key
//     material never crosses the interface.
//
//   - CredentialCache: persistence of the enrolled certificate chain across
//     process restarts, keyed by a stable account name derived from the key
//     tag.
//
//   - SigningBackend: the provenance-embedding signing routine. The call is
//     CPU- and I/O-heavy and is always dispatched by the orchestrator on a
//     dedicated worker, never on the caller's scheduling domain.
//
//   - ArtifactBackend: durable persistence for signed artifacts, with
//     optional remote mirrors.
//
// All errors crossing these interfaces are typed; see errors.go for the
// taxonomy.
package interfaces
