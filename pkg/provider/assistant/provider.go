// Package assistant defines the Provider interface for the remote cooking
// assistant that answers a finalized user turn.
//
// The assistant is stateless from the client's point of view: every call
// carries exactly one user utterance and yields exactly one reply. Any
// conversation memory lives on the service side.
package assistant

import "context"

// Provider is the abstraction over the remote assistant.
//
// Implementations must be safe for concurrent use.
type Provider interface {
	// Reply sends content and returns the assistant's answer. Transport
	// failures and non-2xx responses wrap provider.ErrNetwork; malformed
	// bodies wrap provider.ErrDecode. Implementations do not retry.
	Reply(ctx context.Context, content string) (string, error)
}
