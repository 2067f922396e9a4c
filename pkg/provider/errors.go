// Package provider holds the error taxonomy shared by every remote and local
// backend under pkg/provider. Backends wrap these sentinels so that callers can
// classify failures with errors.Is without knowing which backend produced them.
package provider

import "errors"

var (
	// ErrNetwork reports a failed request: transport error, timeout, or a
	// non-2xx response from a remote service.
	ErrNetwork = errors.New("provider: network failure")

	// ErrDecode reports a response whose body could not be parsed or decoded.
	ErrDecode = errors.New("provider: malformed response")

	// ErrCredentialUnavailable reports that a remote backend was skipped
	// because its credential could not be obtained.
	ErrCredentialUnavailable = errors.New("provider: credential unavailable")
)
