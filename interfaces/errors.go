package interfaces

import (
	"errors"
	"fmt"
)

// Sentinel errors for component-level failures. Every failure crossing a
// component boundary is one of these (possibly wrapped); none are retried
// automatically.
var (
	// ErrJpegConversionFailed indicates the input bytes are not a valid JPEG
	// stream and could not be used as signing input.
	ErrJpegConversionFailed = errors.New("input is not a valid JPEG stream")

	// ErrInvalidCertificateChain indicates a chain with zero valid certificate
	// blocks after normalization. It always occurs before any cache write, so
	// the cache is never corrupted by it.
	ErrInvalidCertificateChain = errors.New("certificate chain contains no valid certificate blocks")

	// ErrInvalidServerURL indicates a misconfigured CA or gateway endpoint.
	ErrInvalidServerURL = errors.New("invalid server URL")

	// ErrChainNotFound is returned by CredentialCache.Load on a cache miss.
	// Callers treat it as a signal to re-enroll, not as a failure.
	ErrChainNotFound = errors.New("certificate chain not found in cache")

	// ErrKeyNotFound is returned when a key handle does not resolve to a
	// stored key. DeleteKey never returns it; absence of a key is not a
	// deletion error.
	ErrKeyNotFound = errors.New("key not found in key store")

	// ErrKeyStoreUnavailable indicates the underlying key facility could not
	// be reached.
	ErrKeyStoreUnavailable = errors.New("key store unavailable")

	// ErrBackendUnavailable indicates an artifact or cache backend could not
	// be reached.
	ErrBackendUnavailable = errors.New("storage backend unavailable")

	// ErrInvalidLocationURI indicates a malformed backend location URI.
	ErrInvalidLocationURI = errors.New("invalid backend location URI")
)

// MaxErrorBodyBytes bounds how much of a server response body is carried
// inside a NetworkError.
const MaxErrorBodyBytes = 2048

// NetworkError carries the HTTP status and truncated response body of a
// failed CA or gateway call. Transport-level failures use Status 0.
type NetworkError struct {
	Status int
	Body   string
	Err    error
}

// NewNetworkError builds a NetworkError, truncating body to MaxErrorBodyBytes.
func NewNetworkError(status int, body []byte) *NetworkError {
	return &NetworkError{Status: status, Body: TruncateBody(body)}
}

func (e *NetworkError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("network error: %v", e.Err)
	}
	return fmt.Sprintf("server returned status %d: %s", e.Status, e.Body)
}

// Unwrap exposes the transport error, if any.
func (e *NetworkError) Unwrap() error {
	return e.Err
}

// SigningError carries the message of a failed external signing call.
type SigningError struct {
	Err error
}

func (e *SigningError) Error() string {
	return fmt.Sprintf("signing failed: %v", e.Err)
}

func (e *SigningError) Unwrap() error {
	return e.Err
}

// TruncateBody bounds a response body for inclusion in error messages.
func TruncateBody(body []byte) string {
	if len(body) > MaxErrorBodyBytes {
		return string(body[:MaxErrorBodyBytes]) + "...(truncated)"
	}
	return string(body)
}
