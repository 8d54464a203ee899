// Package orchestrator drives the photo signing lifecycle: it holds the
// device key, keeps the enrolled certificate chain cached, and coordinates
// signing, publishing and identity reset.
//
// Enrollment is lazy and transparent. A signing call that finds no usable
// cached chain (missing, corrupt or expired) enrolls with the CA exactly
// once, under a mutex, before signing proceeds. Concurrent signing calls
// therefore never produce duplicate enrollments.
//
// The signing backend call runs on a dedicated goroutine pinned to its own
// OS thread, with completion delivered over a one-shot channel. Signed
// output is written to a pending file and renamed into the artifact
// directory only after the backend reports success.
package orchestrator
