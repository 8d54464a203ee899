// Package common holds process-wide metadata and logger setup shared by the
// agent and server binaries.
package common

// PackageName identifies this project in logs and metrics.
const PackageName = "provenance-agent"

// Version is set at build time via -ldflags.
var Version = "dev"
