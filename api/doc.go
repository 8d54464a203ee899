// Package api defines the wire types and endpoint paths shared between the
// provenance agent's HTTP clients and the CA and gateway handlers.
package api
