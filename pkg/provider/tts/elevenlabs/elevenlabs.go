// Package elevenlabs provides an ElevenLabs-backed TTS provider using the
// ElevenLabs text-to-speech REST API. It implements the tts.Provider interface.
package elevenlabs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/MrWong99/sous/pkg/provider"
	"github.com/MrWong99/sous/pkg/provider/tts"
)

const (
	defaultBaseURL  = "https://api.elevenlabs.io"
	defaultModel    = "eleven_multilingual_v2"
	DefaultVoiceID  = "xNx17ebeAzBxoUz7iepQ"
	synthesizePath  = "/v1/text-to-speech/"
	maxErrorBodyLen = 512
)

// Option is a functional option for configuring the ElevenLabs Provider.
type Option func(*Provider)

// WithBaseURL overrides the API base URL.
func WithBaseURL(u string) Option {
	return func(p *Provider) {
		p.baseURL = strings.TrimRight(u, "/")
	}
}

// WithModel sets the default ElevenLabs model ID used when a request's voice
// does not name one.
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) {
		p.httpClient = c
	}
}

// Provider implements tts.Provider backed by the ElevenLabs REST API.
type Provider struct {
	baseURL    string
	model      string
	httpClient *http.Client
}

var _ tts.Provider = (*Provider)(nil)

// New creates a new ElevenLabs Provider. The API key is not part of the
// provider; it travels with each request as tts.Request.Credential.
func New(opts ...Option) *Provider {
	p := &Provider{
		baseURL:    defaultBaseURL,
		model:      defaultModel,
		httpClient: &http.Client{},
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// synthesizeRequest is the JSON body of POST /v1/text-to-speech/{voice_id}.
type synthesizeRequest struct {
	Text          string        `json:"text"`
	ModelID       string        `json:"model_id"`
	VoiceSettings voiceSettings `json:"voice_settings"`
}

// voiceSettings mirrors the ElevenLabs voice_settings object.
type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
}

// Synthesize posts the text and returns the mp3 response body unread.
func (p *Provider) Synthesize(ctx context.Context, req tts.Request) (*tts.Audio, error) {
	if req.Credential == "" {
		return nil, errors.New("elevenlabs: credential must not be empty")
	}
	voiceID := req.Voice.ID
	if voiceID == "" {
		voiceID = DefaultVoiceID
	}

	body, err := buildRequestBody(req, p.model)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: encode request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+synthesizePath+voiceID, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: build request: %w", err)
	}
	httpReq.Header.Set("xi-api-key", req.Credential)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "audio/mpeg")

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: synthesize: %w: %w", provider.ErrNetwork, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyLen))
		return nil, fmt.Errorf("elevenlabs: synthesize: %w: status %d: %s",
			provider.ErrNetwork, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	if ct := resp.Header.Get("Content-Type"); strings.HasPrefix(ct, "application/json") {
		resp.Body.Close()
		return nil, fmt.Errorf("elevenlabs: synthesize: %w: unexpected content type %q", provider.ErrDecode, ct)
	}
	return &tts.Audio{Body: resp.Body, Encoding: tts.EncodingMP3}, nil
}

// buildRequestBody renders the JSON body for req. Zero voice settings fall
// back to 0.5/0.5.
func buildRequestBody(req tts.Request, defaultModel string) ([]byte, error) {
	model := req.Voice.Model
	if model == "" {
		model = defaultModel
	}
	vs := voiceSettings{Stability: req.Voice.Stability, SimilarityBoost: req.Voice.SimilarityBoost}
	if vs.Stability == 0 && vs.SimilarityBoost == 0 {
		vs = voiceSettings{Stability: 0.5, SimilarityBoost: 0.5}
	}
	return json.Marshal(synthesizeRequest{Text: req.Text, ModelID: model, VoiceSettings: vs})
}
