// Package httpserver hosts the CA and gateway HTTP services: route setup,
// request logging, readiness/liveness endpoints, drain handling, and
// graceful shutdown.
package httpserver
