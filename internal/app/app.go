// Package app wires the sous subsystems into a running application.
//
// The App struct owns the full lifecycle: New connects the capture and
// recognition pipeline, the turn detector, speech output and the
// conversation orchestrator; Run starts listening and serves the control API;
// Shutdown tears everything down in order.
//
// For testing, inject doubles via functional options (WithTranscriber,
// WithAfterFunc, ...). When an option is not provided, New builds the real
// implementation from the config and providers.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/sous/internal/config"
	"github.com/MrWong99/sous/internal/conversation"
	"github.com/MrWong99/sous/internal/observe"
	"github.com/MrWong99/sous/internal/resilience"
	"github.com/MrWong99/sous/internal/speech"
	"github.com/MrWong99/sous/internal/transcribe"
	"github.com/MrWong99/sous/internal/turn"
	"github.com/MrWong99/sous/pkg/audio"
	"github.com/MrWong99/sous/pkg/provider/assistant"
	"github.com/MrWong99/sous/pkg/provider/stt"
	"github.com/MrWong99/sous/pkg/provider/tts"
)

const (
	captureSampleRate = 16000
	wakeBoost         = 2
)

// Providers holds one interface value per provider slot. Populated by main.go
// via the config registry.
type Providers struct {
	Capture   audio.Source
	STT       stt.Provider
	TTS       tts.Provider
	DeviceTTS tts.Provider
	Assistant assistant.Provider
	Sink      audio.Sink

	// Credential fetches the remote voice credential on first use. Nil
	// leaves the remote voice with the configured key only.
	Credential speech.FetchFunc
}

// App owns all subsystem lifetimes.
type App struct {
	cfg       *config.Config
	providers *Providers
	metrics   *observe.Metrics
	logLevel  *slog.LevelVar

	transcriber turn.Transcriber
	afterFunc   turn.AfterFunc
	detector    *turn.Detector
	creds       *speech.CredentialCache
	speaker     *speech.Speaker
	orch        *conversation.Orchestrator

	server   *http.Server
	listener net.Listener

	watchPath     string
	watchInterval time.Duration

	// closers are called in order during Shutdown.
	closers  []func() error
	stopOnce sync.Once
}

// Option is a functional option for New.
type Option func(*App)

// WithMetrics sets the metrics instruments. Default: observe.DefaultMetrics().
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithLogLevel gives the app the level variable behind the default logger
// so that config reloads can change it.
func WithLogLevel(lv *slog.LevelVar) Option {
	return func(a *App) { a.logLevel = lv }
}

// WithTranscriber replaces the capture and STT pipeline.
func WithTranscriber(t turn.Transcriber) Option {
	return func(a *App) { a.transcriber = t }
}

// WithAfterFunc replaces the timer used by the turn detector and the
// long-press gesture.
func WithAfterFunc(f turn.AfterFunc) Option {
	return func(a *App) { a.afterFunc = f }
}

// WithListener serves the control API on l instead of cfg.Server.ListenAddr.
func WithListener(l net.Listener) Option {
	return func(a *App) { a.listener = l }
}

// WithConfigWatch hot-reloads the config file at path while Run is active.
// A zero interval uses the watcher default.
func WithConfigWatch(path string, interval time.Duration) Option {
	return func(a *App) {
		a.watchPath = path
		a.watchInterval = interval
	}
}

// New creates an App by wiring all subsystems together.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	a := &App{cfg: cfg, providers: providers}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if providers == nil {
		providers = &Providers{}
		a.providers = providers
	}

	var missing []error
	if providers.DeviceTTS == nil {
		missing = append(missing, errors.New("device voice provider is required"))
	}
	if providers.Assistant == nil {
		missing = append(missing, errors.New("assistant provider is required"))
	}
	if providers.Sink == nil {
		missing = append(missing, errors.New("audio sink is required"))
	}
	if a.transcriber == nil && (providers.Capture == nil || providers.STT == nil) {
		missing = append(missing, errors.New("capture and stt providers are required"))
	}
	if err := errors.Join(missing...); err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}

	a.initTranscriber()
	a.initDetector()
	a.initSpeech()
	a.initOrchestrator()
	a.initServer()

	slog.Info("app initialised",
		"wake_phrase", cfg.Turn.WakePhrase,
		"expert_mode", cfg.Conversation.ExpertMode,
		"remote_voice", providers.TTS != nil,
	)
	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

func (a *App) initTranscriber() {
	if a.transcriber != nil {
		return
	}
	sttCfg := stt.StreamConfig{
		SampleRate: captureSampleRate,
		Channels:   1,
		Language:   a.cfg.Providers.STT.OptString("language"),
		Keywords:   []stt.KeywordBoost{{Keyword: a.cfg.Turn.WakePhrase, Boost: wakeBoost}},
	}
	a.transcriber = transcribe.New(a.providers.Capture, a.providers.STT, sttCfg)
}

func (a *App) initDetector() {
	opts := []turn.Option{
		turn.WithWakePhrase(a.cfg.Turn.WakePhrase),
		turn.WithSilenceTimeout(a.cfg.Turn.SilenceTimeout),
		turn.WithPhoneticWake(a.cfg.Turn.PhoneticWake),
		turn.WithMetrics(a.metrics),
	}
	if a.afterFunc != nil {
		opts = append(opts, turn.WithAfterFunc(a.afterFunc))
	}
	a.detector = turn.New(a.transcriber, opts...)
}

func (a *App) initSpeech() {
	sc := a.cfg.Speech
	a.creds = speech.NewCredentialCache(a.providers.Credential,
		speech.WithFetchTimeout(sc.CredentialTimeout),
		speech.WithCredentialMetrics(a.metrics),
	)
	if key := a.cfg.Providers.TTS.APIKey; key != "" {
		a.creds.Preload(key)
	}

	opts := []speech.Option{
		speech.WithDeviceVoice(tts.VoiceProfile{ID: sc.DeviceVoice}),
		speech.WithFallbackToDevice(sc.FallbackToDevice),
		speech.WithMetrics(a.metrics),
	}
	if a.providers.TTS != nil {
		remote := resilience.NewSynthesizer(a.providers.TTS, a.cfg.Providers.TTS.Name, resilience.CircuitBreakerConfig{
			Name: "tts/" + a.cfg.Providers.TTS.Name,
		})
		opts = append(opts,
			speech.WithRemote(remote, a.creds),
			speech.WithRemoteVoice(tts.VoiceProfile{
				ID:              sc.VoiceID,
				Model:           sc.ModelID,
				Stability:       sc.Stability,
				SimilarityBoost: sc.SimilarityBoost,
			}),
		)
	}
	a.speaker = speech.New(a.providers.Sink, a.providers.DeviceTTS, opts...)
	a.speaker.OnSpeakingChange(func(speaking bool) {
		slog.Debug("speaking changed", "speaking", speaking)
	})
}

func (a *App) initOrchestrator() {
	cc := a.cfg.Conversation
	guarded := resilience.NewAssistant(a.providers.Assistant, a.cfg.Providers.Assistant.Name, resilience.CircuitBreakerConfig{
		Name: "assistant/" + a.cfg.Providers.Assistant.Name,
	})
	opts := []conversation.Option{
		conversation.WithExpertMode(cc.ExpertMode),
		conversation.WithLongPress(cc.LongPress),
		conversation.WithAssistantTimeout(cc.AssistantTimeout),
		conversation.WithHistory(conversation.NewHistory(cc.HistorySize, cc.HistoryMaxAge)),
		conversation.WithWelcomeCue(cc.WelcomeCue),
		conversation.WithAckCue(cc.AckCue),
		conversation.WithMetrics(a.metrics),
	}
	if a.afterFunc != nil {
		opts = append(opts, conversation.WithAfterFunc(a.afterFunc))
	}
	a.orch = conversation.New(a.detector, guarded, a.speaker, opts...)
}

func (a *App) initServer() {
	a.server = &http.Server{
		Addr:              a.cfg.Server.ListenAddr,
		Handler:           observe.Middleware(a.metrics)(a.routes()),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

// ─── Run / Shutdown ──────────────────────────────────────────────────────────

// Run starts the orchestrator, begins listening, and serves the control API
// until ctx is cancelled or a component fails. A microphone that cannot be
// opened is logged and leaves the assistant Idle; a tap retries.
func (a *App) Run(ctx context.Context) error {
	ln := a.listener
	if ln == nil {
		var err error
		ln, err = net.Listen("tcp", a.server.Addr)
		if err != nil {
			return fmt.Errorf("app: listen %q: %w", a.server.Addr, err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	// Request contexts end with Run so event streams do not hold up Shutdown.
	a.server.BaseContext = func(net.Listener) context.Context { return gctx }

	g.Go(func() error {
		return a.orch.Run(gctx)
	})

	g.Go(func() error {
		if err := a.orch.Listen(gctx); err != nil {
			if errors.Is(err, audio.ErrCaptureUnavailable) {
				slog.Error("microphone unavailable; tap to retry", "err", err)
				return nil
			}
			if errors.Is(err, conversation.ErrNotRunning) || gctx.Err() != nil {
				return nil
			}
			slog.Warn("initial listen failed", "err", err)
		}
		return nil
	})

	g.Go(func() error {
		slog.Info("control API listening", "addr", ln.Addr().String())
		if err := a.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("app: serve: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), 5*time.Second)
		defer cancel()
		return a.server.Shutdown(shutdownCtx)
	})

	if a.watchPath != "" {
		var wopts []config.WatcherOption
		if a.watchInterval > 0 {
			wopts = append(wopts, config.WithInterval(a.watchInterval))
		}
		w, err := config.NewWatcher(a.watchPath, func(old, new *config.Config) { a.Reload(gctx, old, new) }, wopts...)
		if err != nil {
			slog.Warn("config hot reload disabled", "path", a.watchPath, "err", err)
		} else {
			g.Go(func() error { return w.Run(gctx) })
		}
	}

	slog.Info("app running")
	err := g.Wait()
	if err != nil {
		return err
	}
	return ctx.Err()
}

// Reload applies the live-reloadable parts of a config change.
func (a *App) Reload(ctx context.Context, old, new *config.Config) {
	d := config.Diff(old, new)
	if d.LogLevelChanged && a.logLevel != nil {
		a.logLevel.Set(SlogLevel(d.NewLogLevel))
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.ExpertModeChanged {
		if err := a.orch.SetExpertMode(ctx, d.NewExpertMode); err != nil {
			slog.Warn("apply expert mode", "err", err)
		}
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config changes need a restart to take effect", "sections", d.RestartRequired)
	}
}

// Shutdown stops playback and capture and runs the registered closers.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		a.speaker.Cancel()
		if err := a.detector.Stop(); err != nil {
			slog.Warn("stop detector", "err", err)
		}
		if err := a.server.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			shutdownErr = errors.Join(shutdownErr, err)
		}

		for i, closer := range a.closers {
			if ctx.Err() != nil {
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = errors.Join(shutdownErr, ctx.Err())
				return
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}
		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// OnClose registers fn to run during Shutdown.
func (a *App) OnClose(fn func() error) {
	a.closers = append(a.closers, fn)
}

// Orchestrator exposes the conversation orchestrator.
func (a *App) Orchestrator() *conversation.Orchestrator { return a.orch }

// Handler returns the control API handler.
func (a *App) Handler() http.Handler { return a.server.Handler }

// SlogLevel converts a config log level to a slog level.
func SlogLevel(l config.LogLevel) slog.Level {
	switch l {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
