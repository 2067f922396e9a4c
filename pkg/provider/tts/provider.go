// Package tts defines the Provider interface for Text-to-Speech backends.
//
// A TTS provider turns one complete reply into one encoded audio document
// (mp3 or wav). Remote providers (ElevenLabs) need a credential that is
// resolved lazily by the caller and passed per request; local providers
// (an exec'd synthesizer, a self-hosted Coqui server) ignore it.
//
// Implementations must be safe for concurrent use.
package tts

import "context"

// Provider is the abstraction over any TTS backend.
type Provider interface {
	// Synthesize renders req.Text and returns the encoded audio. The caller
	// owns Audio.Body and must close it. Cancelling ctx aborts the request
	// and any read still in progress on the body.
	//
	// Network failures wrap provider.ErrNetwork; unusable responses wrap
	// provider.ErrDecode.
	Synthesize(ctx context.Context, req Request) (*Audio, error)
}
