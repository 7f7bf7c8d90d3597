package upstream

import "fmt"

// UpstreamError wraps a network-layer fetch failure (connect, timeout, TLS).
// HTTP responses with status >= 500 are not errors; they pass through to the
// caller as ordinary results.
type UpstreamError struct {
	URL string
	Err error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream fetch %s: %v", e.URL, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// ExhaustedError is returned when every retry attempt failed, each one
// having rotated the credential.
type ExhaustedError struct {
	Attempts int
	LastErr  error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("upstream exhausted after %d attempts: %v", e.Attempts, e.LastErr)
}

func (e *ExhaustedError) Unwrap() error { return e.LastErr }
