package tts

import "io"

// Encoding names the container format of synthesised audio.
type Encoding string

const (
	EncodingMP3 Encoding = "mp3"
	EncodingWAV Encoding = "wav"
)

// VoiceProfile selects a voice and its tuning on a provider.
type VoiceProfile struct {
	// ID is the provider-specific voice identifier.
	ID string

	// Model is the provider-specific synthesis model. Empty uses the provider
	// default.
	Model string

	// Stability and SimilarityBoost are ElevenLabs voice settings (0.0–1.0).
	Stability       float64
	SimilarityBoost float64
}

// Request is a single synthesis request.
type Request struct {
	Text  string
	Voice VoiceProfile

	// Credential authenticates the request with remote providers. Local
	// providers ignore it.
	Credential string
}

// Audio is an encoded audio document.
type Audio struct {
	Body     io.ReadCloser
	Encoding Encoding
}
