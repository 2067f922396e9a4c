package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"slices"
	"strings"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is prepended to every environment variable read by [LoadEnv].
const EnvPrefix = "SOUS"

// ValidProviderNames lists known provider names per provider slot.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"capture":    {"exec"},
	"stt":        {"deepgram"},
	"tts":        {"elevenlabs", "coqui"},
	"device_tts": {"local", "coqui"},
	"assistant":  {"recipeservice"},
	"sink":       {"speaker"},
}

// Env holds the secrets and overrides read from the environment. Non-empty
// values win over the file.
type Env struct {
	DeepgramAPIKey     string   `envconfig:"DEEPGRAM_API_KEY"`
	ElevenLabsAPIKey   string   `envconfig:"ELEVENLABS_API_KEY"`
	RecipeServiceURL   string   `envconfig:"RECIPE_SERVICE_URL"`
	RecipeServiceToken string   `envconfig:"RECIPE_SERVICE_TOKEN"`
	ListenAddr         string   `envconfig:"LISTEN_ADDR"`
	LogLevel           LogLevel `envconfig:"LOG_LEVEL"`
}

// LoadEnv reads [Env] from SOUS_* environment variables.
func LoadEnv() (Env, error) {
	var env Env
	if err := envconfig.Process(EnvPrefix, &env); err != nil {
		return Env{}, fmt.Errorf("config: env: %w", err)
	}
	return env, nil
}

// Apply overlays the non-empty values of e onto cfg.
func (e Env) Apply(cfg *Config) {
	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	set(&cfg.Providers.STT.APIKey, e.DeepgramAPIKey)
	set(&cfg.Providers.TTS.APIKey, e.ElevenLabsAPIKey)
	set(&cfg.Providers.Assistant.BaseURL, e.RecipeServiceURL)
	set(&cfg.Providers.Assistant.APIKey, e.RecipeServiceToken)
	set(&cfg.Server.ListenAddr, e.ListenAddr)
	if e.LogLevel != "" {
		cfg.Server.LogLevel = e.LogLevel
	}
}

// LoadDotEnv loads KEY=value pairs from the given files (".env" when none are
// given) into the process environment. Variables already set are kept.
// Missing files are not an error.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("config: load %q: %w", p, err)
		}
		slog.Debug("loaded environment file", "path", p)
	}
	return nil
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and the
// environment overlay, and validates the result. An empty document yields
// the defaults.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)

	env, err := LoadEnv()
	if err != nil {
		return nil, err
	}
	env.Apply(cfg)

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if !cfg.Server.LogFormat.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_format %q is invalid; valid values: text, json", cfg.Server.LogFormat))
	}

	// Providers
	p := cfg.Providers
	validateProviderName("capture", p.Capture.Name)
	validateProviderName("stt", p.STT.Name)
	validateProviderName("tts", p.TTS.Name)
	validateProviderName("device_tts", p.DeviceTTS.Name)
	validateProviderName("assistant", p.Assistant.Name)
	validateProviderName("sink", p.Sink.Name)

	if p.STT.Name == "deepgram" && p.STT.APIKey == "" {
		errs = append(errs, fmt.Errorf("providers.stt.api_key is required for deepgram (or set %s_DEEPGRAM_API_KEY)", EnvPrefix))
	}
	if p.Assistant.Name == "recipeservice" && p.Assistant.BaseURL == "" {
		errs = append(errs, fmt.Errorf("providers.assistant.base_url is required (or set %s_RECIPE_SERVICE_URL)", EnvPrefix))
	}
	if p.TTS.Name == "coqui" && p.TTS.BaseURL == "" {
		errs = append(errs, errors.New("providers.tts.base_url is required for coqui"))
	}
	if p.DeviceTTS.Name == "coqui" && p.DeviceTTS.BaseURL == "" {
		errs = append(errs, errors.New("providers.device_tts.base_url is required for coqui"))
	}

	// Turn
	if strings.TrimSpace(cfg.Turn.WakePhrase) == "" {
		errs = append(errs, errors.New("turn.wake_phrase must not be blank"))
	}
	if cfg.Turn.SilenceTimeout < 0 {
		errs = append(errs, fmt.Errorf("turn.silence_timeout %v must be positive", cfg.Turn.SilenceTimeout))
	}

	// Speech
	if cfg.Speech.Stability < 0 || cfg.Speech.Stability > 1 {
		errs = append(errs, fmt.Errorf("speech.stability %.2f is out of range [0, 1]", cfg.Speech.Stability))
	}
	if cfg.Speech.SimilarityBoost < 0 || cfg.Speech.SimilarityBoost > 1 {
		errs = append(errs, fmt.Errorf("speech.similarity_boost %.2f is out of range [0, 1]", cfg.Speech.SimilarityBoost))
	}
	if cfg.Speech.CredentialTimeout < 0 {
		errs = append(errs, fmt.Errorf("speech.credential_timeout %v must be positive", cfg.Speech.CredentialTimeout))
	}

	// Conversation
	c := cfg.Conversation
	if c.LongPress < 0 {
		errs = append(errs, fmt.Errorf("conversation.long_press %v must be positive", c.LongPress))
	}
	if c.AssistantTimeout < 0 {
		errs = append(errs, fmt.Errorf("conversation.assistant_timeout %v must be positive", c.AssistantTimeout))
	}
	if c.HistorySize < 0 {
		errs = append(errs, fmt.Errorf("conversation.history_size %d must not be negative", c.HistorySize))
	}
	if c.HistoryMaxAge < 0 {
		errs = append(errs, fmt.Errorf("conversation.history_max_age %v must not be negative", c.HistoryMaxAge))
	}
	for field, path := range map[string]string{"welcome_cue": c.WelcomeCue, "ack_cue": c.AckCue} {
		if path == "" {
			continue
		}
		if _, err := os.Stat(path); err != nil {
			slog.Warn("conversation cue file is not readable; the cue will be skipped", "field", field, "path", path, "err", err)
		}
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok || slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
