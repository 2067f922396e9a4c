// Command sous is the hands-free cooking assistant: it listens for the wake
// phrase, forwards each spoken turn to the recipe service and speaks the
// reply.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MrWong99/sous/internal/app"
	"github.com/MrWong99/sous/internal/config"
	"github.com/MrWong99/sous/internal/observe"
	"github.com/MrWong99/sous/pkg/audio"
	"github.com/MrWong99/sous/pkg/audio/speaker"
	"github.com/MrWong99/sous/pkg/provider/assistant"
	"github.com/MrWong99/sous/pkg/provider/assistant/recipeservice"
	"github.com/MrWong99/sous/pkg/provider/stt"
	"github.com/MrWong99/sous/pkg/provider/stt/deepgram"
	"github.com/MrWong99/sous/pkg/provider/tts"
	"github.com/MrWong99/sous/pkg/provider/tts/coqui"
	"github.com/MrWong99/sous/pkg/provider/tts/elevenlabs"
	"github.com/MrWong99/sous/pkg/provider/tts/local"
)

// version is set at build time via -ldflags.
var version = "dev"

const shutdownTimeout = 15 * time.Second

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	envPath := flag.String("env-file", ".env", "optional dotenv file loaded before the config")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	if err := config.LoadDotEnv(*envPath); err != nil {
		fmt.Fprintf(os.Stderr, "sous: %v\n", err)
		return 1
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "sous: config file %q not found, copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "sous: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	level := new(slog.LevelVar)
	level.Set(app.SlogLevel(cfg.Server.LogLevel))
	slog.SetDefault(newLogger(os.Stderr, cfg.Server.LogFormat, level))

	slog.Info("sous starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Telemetry ─────────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tel, err := observe.Setup(ctx, observe.ProviderConfig{ServiceVersion: version})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := tel.Shutdown(sctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Providers ─────────────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	providers, err := buildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	printStartupSummary(os.Stdout, cfg)

	application, err := app.New(ctx, cfg, providers,
		app.WithMetrics(tel.Metrics),
		app.WithLogLevel(level),
		app.WithConfigWatch(*configPath, 0),
	)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	slog.Info("ready, say the wake phrase or press Ctrl+C to shut down", "wake_phrase", cfg.Turn.WakePhrase)

	code := 0
	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		code = 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	slog.Info("shutting down")
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return code
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires the factories that ship with sous into reg.
// The names must match [config.ValidProviderNames].
func registerBuiltinProviders(reg *config.Registry) {
	reg.RegisterCapture("exec", func(entry config.ProviderEntry) (audio.Source, error) {
		return audio.NewExecSource(entry.OptString("command"),
			audio.WithFormat(entry.OptInt("sample_rate", 16000), entry.OptInt("channels", 1)),
		)
	})

	reg.RegisterSTT("deepgram", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []deepgram.Option
		if entry.Model != "" {
			opts = append(opts, deepgram.WithModel(entry.Model))
		}
		if lang := entry.OptString("language"); lang != "" {
			opts = append(opts, deepgram.WithLanguage(lang))
		}
		if entry.BaseURL != "" {
			opts = append(opts, deepgram.WithEndpoint(entry.BaseURL))
		}
		return deepgram.New(entry.APIKey, opts...)
	})

	reg.RegisterTTS("elevenlabs", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []elevenlabs.Option
		if entry.BaseURL != "" {
			opts = append(opts, elevenlabs.WithBaseURL(entry.BaseURL))
		}
		if entry.Model != "" {
			opts = append(opts, elevenlabs.WithModel(entry.Model))
		}
		return elevenlabs.New(opts...), nil
	})

	reg.RegisterTTS("coqui", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []coqui.Option
		if lang := entry.OptString("language"); lang != "" {
			opts = append(opts, coqui.WithLanguage(lang))
		}
		if mode := entry.OptString("api_mode"); mode != "" {
			opts = append(opts, coqui.WithAPIMode(coqui.APIMode(mode)))
		}
		return coqui.New(entry.BaseURL, opts...)
	})

	reg.RegisterTTS("local", func(entry config.ProviderEntry) (tts.Provider, error) {
		return local.New(entry.OptString("command"))
	})

	reg.RegisterAssistant("recipeservice", func(entry config.ProviderEntry) (assistant.Provider, error) {
		var opts []recipeservice.Option
		if entry.APIKey != "" {
			opts = append(opts, recipeservice.WithToken(entry.APIKey))
		}
		return recipeservice.New(entry.BaseURL, opts...)
	})

	reg.RegisterSink("speaker", func(entry config.ProviderEntry) (audio.Sink, error) {
		return speaker.New(
			speaker.WithSampleRate(entry.OptInt("sample_rate", 44100)),
			speaker.WithBuffer(time.Duration(entry.OptInt("buffer_ms", 100))*time.Millisecond),
		), nil
	})

	for kind, names := range config.ValidProviderNames {
		slog.Debug("registered providers", "kind", kind, "names", names)
	}
}

// credentialSource is implemented by assistants that can hand out the remote
// voice credential.
type credentialSource interface {
	ElevenLabsKey(ctx context.Context) (string, error)
}

// buildProviders instantiates all providers named in cfg using the registry
// and returns them in an [app.Providers] struct for the application to consume.
func buildProviders(cfg *config.Config, reg *config.Registry) (*app.Providers, error) {
	ps := &app.Providers{}
	var errs []error

	create := func(kind, name string, fn func() error) {
		if err := fn(); err != nil {
			errs = append(errs, fmt.Errorf("create %s provider %q: %w", kind, name, err))
			return
		}
		slog.Info("provider created", "kind", kind, "name", name)
	}

	p := cfg.Providers
	create("capture", p.Capture.Name, func() (err error) {
		ps.Capture, err = reg.CreateCapture(p.Capture)
		return err
	})
	create("stt", p.STT.Name, func() (err error) {
		ps.STT, err = reg.CreateSTT(p.STT)
		return err
	})
	create("device_tts", p.DeviceTTS.Name, func() (err error) {
		ps.DeviceTTS, err = reg.CreateTTS(p.DeviceTTS)
		return err
	})
	create("assistant", p.Assistant.Name, func() (err error) {
		ps.Assistant, err = reg.CreateAssistant(p.Assistant)
		return err
	})
	create("sink", p.Sink.Name, func() (err error) {
		ps.Sink, err = reg.CreateSink(p.Sink)
		return err
	})

	// The remote voice is optional; without it expert mode speaks with the
	// device voice.
	if p.TTS.Name != "" {
		remote, err := reg.CreateTTS(p.TTS)
		switch {
		case errors.Is(err, config.ErrProviderNotRegistered):
			slog.Warn("remote voice not available", "name", p.TTS.Name)
		case err != nil:
			errs = append(errs, fmt.Errorf("create tts provider %q: %w", p.TTS.Name, err))
		default:
			ps.TTS = remote
			slog.Info("provider created", "kind", "tts", "name", p.TTS.Name)
		}
	}

	if cs, ok := ps.Assistant.(credentialSource); ok {
		ps.Credential = cs.ElevenLabsKey
	}

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return ps, nil
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(w io.Writer, cfg *config.Config) {
	fmt.Fprintln(w, "╔═══════════════════════════════════════╗")
	fmt.Fprintln(w, "║          sous, startup summary        ║")
	fmt.Fprintln(w, "╠═══════════════════════════════════════╣")
	printProvider(w, "Capture", cfg.Providers.Capture.Name, "")
	printProvider(w, "STT", cfg.Providers.STT.Name, cfg.Providers.STT.Model)
	printProvider(w, "Remote TTS", cfg.Providers.TTS.Name, cfg.Providers.TTS.Model)
	printProvider(w, "Device TTS", cfg.Providers.DeviceTTS.Name, "")
	printProvider(w, "Assistant", cfg.Providers.Assistant.Name, "")
	printProvider(w, "Sink", cfg.Providers.Sink.Name, "")
	fmt.Fprintf(w, "║  Wake phrase     : %-19s ║\n", cfg.Turn.WakePhrase)
	fmt.Fprintf(w, "║  Silence timeout : %-19s ║\n", cfg.Turn.SilenceTimeout)
	fmt.Fprintf(w, "║  Expert mode     : %-19t ║\n", cfg.Conversation.ExpertMode)
	if cfg.Server.ListenAddr != "" {
		fmt.Fprintf(w, "║  Listen addr     : %-19s ║\n", cfg.Server.ListenAddr)
	}
	fmt.Fprintln(w, "╚═══════════════════════════════════════╝")
}

func printProvider(w io.Writer, kind, name, model string) {
	value := name
	if value == "" {
		value = "(not configured)"
	} else if model != "" {
		value = name + " / " + model
	}
	if len(value) > 19 {
		value = value[:16] + "..."
	}
	fmt.Fprintf(w, "║  %-12s    : %-19s ║\n", kind, value)
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(w io.Writer, format config.LogFormat, level slog.Leveler) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	if format == config.LogFormatJSON {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
