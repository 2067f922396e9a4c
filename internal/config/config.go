// Package config defines the configuration schema for the sous cooking
// assistant.
//
// Configuration is loaded from a YAML file (see [Load]) and overlaid with
// secrets from the environment (see [LoadEnv]). Every section has defaults,
// so an almost empty file is enough to start the device voice loop; the
// remote voice and the assistant need their credentials.
package config

import "time"

// LogLevel controls the verbosity of structured logging.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// LogFormat selects the slog handler.
type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
)

// IsValid reports whether f is a recognised log format.
func (f LogFormat) IsValid() bool {
	return f == LogFormatText || f == LogFormatJSON
}

// Default values applied by [ApplyDefaults] to zero fields.
const (
	DefaultListenAddr        = ":8080"
	DefaultWakePhrase        = "chef"
	DefaultSilenceTimeout    = 1500 * time.Millisecond
	DefaultCredentialTimeout = 10 * time.Second
	DefaultLongPress         = 5 * time.Second
	DefaultAssistantTimeout  = 30 * time.Second
	DefaultHistorySize       = 50
	DefaultHistoryMaxAge     = 2 * time.Hour
	DefaultStability         = 0.5
	DefaultSimilarityBoost   = 0.75
)

// Config is the root configuration structure.
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Providers    ProvidersConfig    `yaml:"providers"`
	Turn         TurnConfig         `yaml:"turn"`
	Speech       SpeechConfig       `yaml:"speech"`
	Conversation ConversationConfig `yaml:"conversation"`
}

// ServerConfig holds the control API and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address for the control API, health probes and
	// /metrics (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	LogLevel  LogLevel  `yaml:"log_level"`
	LogFormat LogFormat `yaml:"log_format"`
}

// ProvidersConfig selects the implementation for each provider slot.
type ProvidersConfig struct {
	// Capture is the microphone source ("exec").
	Capture ProviderEntry `yaml:"capture"`

	// STT is the streaming recogniser ("deepgram").
	STT ProviderEntry `yaml:"stt"`

	// TTS is the remote high-fidelity voice ("elevenlabs", "coqui").
	TTS ProviderEntry `yaml:"tts"`

	// DeviceTTS is the on-device voice ("local", "coqui").
	DeviceTTS ProviderEntry `yaml:"device_tts"`

	// Assistant is the recipe service ("recipeservice").
	Assistant ProviderEntry `yaml:"assistant"`

	// Sink is the audio output device ("speaker").
	Sink ProviderEntry `yaml:"sink"`
}

// ProviderEntry is the common configuration block for a single provider.
type ProviderEntry struct {
	// Name selects the registered factory.
	Name string `yaml:"name"`

	// APIKey authenticates with the provider. For the assistant it is sent as
	// a bearer token; for the remote voice it preloads the credential.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider endpoint.
	BaseURL string `yaml:"base_url"`

	// Model is the provider-specific model identifier.
	Model string `yaml:"model"`

	// Options holds provider-specific settings not covered above
	// (e.g., "command" for exec providers, "language" for STT).
	Options map[string]any `yaml:"options"`
}

// TurnConfig tunes turn detection.
type TurnConfig struct {
	WakePhrase     string        `yaml:"wake_phrase"`
	SilenceTimeout time.Duration `yaml:"silence_timeout"`

	// PhoneticWake also accepts words that sound like the wake phrase.
	PhoneticWake bool `yaml:"phonetic_wake"`
}

// SpeechConfig tunes the remote voice and the credential fetch.
type SpeechConfig struct {
	VoiceID         string  `yaml:"voice_id"`
	ModelID         string  `yaml:"model_id"`
	Stability       float64 `yaml:"stability"`
	SimilarityBoost float64 `yaml:"similarity_boost"`

	// DeviceVoice is passed to the device voice as its voice identifier.
	DeviceVoice string `yaml:"device_voice"`

	// FallbackToDevice retries a failed remote synthesis on the device voice.
	FallbackToDevice bool `yaml:"fallback_to_device"`

	CredentialTimeout time.Duration `yaml:"credential_timeout"`
}

// ConversationConfig tunes the turn orchestrator.
type ConversationConfig struct {
	// ExpertMode selects the remote voice for replies. Hot-reloadable.
	ExpertMode bool `yaml:"expert_mode"`

	LongPress        time.Duration `yaml:"long_press"`
	AssistantTimeout time.Duration `yaml:"assistant_timeout"`
	HistorySize      int           `yaml:"history_size"`
	HistoryMaxAge    time.Duration `yaml:"history_max_age"`

	// WelcomeCue and AckCue are paths to mp3 or wav files. Empty disables
	// the cue.
	WelcomeCue string `yaml:"welcome_cue"`
	AckCue     string `yaml:"ack_cue"`
}

// ApplyDefaults fills zero-valued fields of cfg with their defaults.
func ApplyDefaults(cfg *Config) {
	s := &cfg.Server
	if s.ListenAddr == "" {
		s.ListenAddr = DefaultListenAddr
	}
	if s.LogLevel == "" {
		s.LogLevel = LogInfo
	}
	if s.LogFormat == "" {
		s.LogFormat = LogFormatText
	}

	p := &cfg.Providers
	defaultName(&p.Capture, "exec")
	defaultName(&p.STT, "deepgram")
	defaultName(&p.TTS, "elevenlabs")
	defaultName(&p.DeviceTTS, "local")
	defaultName(&p.Assistant, "recipeservice")
	defaultName(&p.Sink, "speaker")

	if cfg.Turn.WakePhrase == "" {
		cfg.Turn.WakePhrase = DefaultWakePhrase
	}
	if cfg.Turn.SilenceTimeout == 0 {
		cfg.Turn.SilenceTimeout = DefaultSilenceTimeout
	}

	sp := &cfg.Speech
	if sp.Stability == 0 {
		sp.Stability = DefaultStability
	}
	if sp.SimilarityBoost == 0 {
		sp.SimilarityBoost = DefaultSimilarityBoost
	}
	if sp.CredentialTimeout == 0 {
		sp.CredentialTimeout = DefaultCredentialTimeout
	}

	c := &cfg.Conversation
	if c.LongPress == 0 {
		c.LongPress = DefaultLongPress
	}
	if c.AssistantTimeout == 0 {
		c.AssistantTimeout = DefaultAssistantTimeout
	}
	if c.HistorySize == 0 {
		c.HistorySize = DefaultHistorySize
	}
	if c.HistoryMaxAge == 0 {
		c.HistoryMaxAge = DefaultHistoryMaxAge
	}
}

func defaultName(e *ProviderEntry, name string) {
	if e.Name == "" {
		e.Name = name
	}
}

// OptString extracts a string value from a provider Options map.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func (e ProviderEntry) OptString(key string) string {
	s, _ := e.Options[key].(string)
	return s
}

// OptInt extracts an integer value from a provider Options map. YAML decodes
// integers as int; anything else yields def.
func (e ProviderEntry) OptInt(key string, def int) int {
	if v, ok := e.Options[key].(int); ok {
		return v
	}
	return def
}
