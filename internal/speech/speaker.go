// Package speech is the speech output subsystem: it synthesises assistant
// replies on one of two voices, plays them through an [audio.Sink], and
// exposes a single speaking signal.
//
// At most one [Session] is active. Starting a new one cancels the active
// session and waits for it to wind down before any new audio is produced.
// Every session ends exactly once, on natural completion, cancellation or
// failure, and the speaking signal follows the sessions that became audible.
package speech

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/MrWong99/sous/internal/observe"
	"github.com/MrWong99/sous/pkg/audio"
	"github.com/MrWong99/sous/pkg/provider"
	"github.com/MrWong99/sous/pkg/provider/tts"
	"github.com/google/uuid"
	"github.com/gopxl/beep"
)

// ErrCredentialUnavailable is returned by [Speaker.Speak] when the remote
// voice was requested but no credential could be obtained.
var ErrCredentialUnavailable = provider.ErrCredentialUnavailable

// Backend selects the synthesis voice for one Speak call.
type Backend int

const (
	// OnDeviceVoice synthesises locally without network access.
	OnDeviceVoice Backend = iota

	// RemoteHighFidelityVoice synthesises with the remote voice service.
	RemoteHighFidelityVoice
)

func (b Backend) String() string {
	switch b {
	case OnDeviceVoice:
		return "device"
	case RemoteHighFidelityVoice:
		return "remote"
	default:
		return fmt.Sprintf("Backend(%d)", int(b))
	}
}

// Session is one synthesis and playback.
type Session struct {
	ID      string
	Backend Backend

	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
	once    sync.Once
	err     error
	audible bool // guarded by Speaker.mu
}

// Done is closed when the session has ended.
func (s *Session) Done() <-chan struct{} { return s.done }

// Err waits for the session to end and reports why: nil on natural
// completion, context.Canceled when cancelled.
func (s *Session) Err() error {
	<-s.done
	return s.err
}

// Option configures a Speaker.
type Option func(*Speaker)

// WithRemote enables the remote voice. creds supplies its credential.
func WithRemote(p tts.Provider, creds *CredentialCache) Option {
	return func(s *Speaker) {
		s.remote = p
		s.creds = creds
	}
}

// WithRemoteVoice sets the remote voice profile.
func WithRemoteVoice(v tts.VoiceProfile) Option {
	return func(s *Speaker) { s.remoteVoice = v }
}

// WithDeviceVoice sets the on-device voice profile.
func WithDeviceVoice(v tts.VoiceProfile) Option {
	return func(s *Speaker) { s.deviceVoice = v }
}

// WithFallbackToDevice makes a failed remote synthesis retry once on the
// device voice. Off by default: a remote failure is reported to the caller.
func WithFallbackToDevice(enabled bool) Option {
	return func(s *Speaker) { s.fallbackToDevice = enabled }
}

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Speaker) { s.metrics = m }
}

// Speaker owns the output device. All methods are safe for concurrent use.
type Speaker struct {
	sink             audio.Sink
	device           tts.Provider
	remote           tts.Provider
	creds            *CredentialCache
	remoteVoice      tts.VoiceProfile
	deviceVoice      tts.VoiceProfile
	fallbackToDevice bool
	metrics          *observe.Metrics

	// startMu serialises session starts so that each one observes the
	// previous session's end.
	startMu sync.Mutex

	mu       sync.Mutex
	current  *Session
	speaking bool
	hooks    []func(bool)
}

// New creates a Speaker that plays on sink and synthesises the device voice
// with device.
func New(sink audio.Sink, device tts.Provider, opts ...Option) *Speaker {
	s := &Speaker{sink: sink, device: device}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	return s
}

// OnSpeakingChange registers fn to be called whenever the speaking signal
// flips. fn runs on the goroutine that caused the flip and must not block.
func (s *Speaker) OnSpeakingChange(fn func(speaking bool)) {
	s.mu.Lock()
	s.hooks = append(s.hooks, fn)
	s.mu.Unlock()
}

// Speaking reports whether audio is currently playing.
func (s *Speaker) Speaking() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.speaking
}

// Speak synthesises text on backend and starts playing it. It returns once
// playback has started; the returned session ends when playback does. Any
// active session is cancelled and has ended before Speak produces audio.
//
// Synthesis failures wrap [provider.ErrNetwork], [provider.ErrDecode] or
// [ErrCredentialUnavailable] and leave the speaker silent.
func (s *Speaker) Speak(ctx context.Context, text string, backend Backend) (*Session, error) {
	ctx, span := observe.StartSpan(ctx, observe.SpanSpeak, observe.AttrBackend.String(backend.String()))
	var err error
	defer func() { observe.EndSpan(span, err) }()

	start := time.Now()
	sess := s.begin(ctx, backend)
	defer s.startMu.Unlock()
	span.SetAttributes(observe.AttrSessionID.String(sess.ID))

	var a *tts.Audio
	a, err = s.synthesize(sess.ctx, text, backend)
	var (
		st     beep.StreamSeekCloser
		format beep.Format
	)
	if err == nil {
		st, format, err = Decode(a)
	}
	if err != nil {
		s.finish(sess, err)
		if !errors.Is(err, context.Canceled) {
			s.metrics.RecordError(ctx, "speech", err)
		}
		err = fmt.Errorf("speech: speak: %w", err)
		return nil, err
	}

	observe.RecordSince(ctx, s.metrics.SynthesisDuration, start, observe.AttrBackend.String(backend.String()))
	s.startPlayback(sess, st, format)
	return sess, nil
}

// PlayCue plays a bundled mp3 or wav file as a device-voice session.
func (s *Speaker) PlayCue(ctx context.Context, path string) (*Session, error) {
	sess := s.begin(ctx, OnDeviceVoice)
	defer s.startMu.Unlock()

	a, err := openCue(path)
	var (
		st     beep.StreamSeekCloser
		format beep.Format
	)
	if err == nil {
		st, format, err = Decode(a)
	}
	if err != nil {
		s.finish(sess, err)
		return nil, fmt.Errorf("speech: play cue: %w", err)
	}
	s.startPlayback(sess, st, format)
	return sess, nil
}

// Cancel halts in-flight synthesis and playback of the active session.
// It does not wait for the session to end; use [Session.Done] for that.
// Cancel with no active session is a no-op.
func (s *Speaker) Cancel() {
	s.mu.Lock()
	cur := s.current
	s.mu.Unlock()
	if cur != nil {
		cur.cancel()
	}
}

// begin cancels the active session, waits for it to end and installs a new
// one. It returns with startMu held.
func (s *Speaker) begin(ctx context.Context, backend Backend) *Session {
	// Cancel before queueing on startMu so an in-flight synthesis gives way.
	s.Cancel()
	s.startMu.Lock()

	s.mu.Lock()
	prev := s.current
	s.mu.Unlock()
	if prev != nil {
		prev.cancel()
		<-prev.done
	}

	sctx, cancel := context.WithCancel(ctx)
	sess := &Session{
		ID:      uuid.NewString(),
		Backend: backend,
		ctx:     sctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	s.mu.Lock()
	s.current = sess
	s.mu.Unlock()
	return sess
}

func (s *Speaker) synthesize(ctx context.Context, text string, backend Backend) (*tts.Audio, error) {
	if backend != RemoteHighFidelityVoice {
		return s.synthesizeDevice(ctx, text)
	}
	a, err := s.synthesizeRemote(ctx, text)
	if err == nil || !s.fallbackToDevice || ctx.Err() != nil {
		return a, err
	}
	observe.Logger(ctx).Warn("speech: remote voice failed, falling back to device voice", "err", err)
	s.metrics.RecordError(ctx, "speech.remote", err)
	return s.synthesizeDevice(ctx, text)
}

func (s *Speaker) synthesizeDevice(ctx context.Context, text string) (*tts.Audio, error) {
	a, err := s.device.Synthesize(ctx, tts.Request{Text: text, Voice: s.deviceVoice})
	if err != nil {
		return nil, fmt.Errorf("device voice: %w", err)
	}
	return a, nil
}

func (s *Speaker) synthesizeRemote(ctx context.Context, text string) (*tts.Audio, error) {
	if s.remote == nil || s.creds == nil {
		return nil, fmt.Errorf("remote voice not configured: %w", ErrCredentialUnavailable)
	}
	cred := s.creds.Get(ctx)
	if cred == "" {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return nil, ErrCredentialUnavailable
	}
	a, err := s.remote.Synthesize(ctx, tts.Request{Text: text, Voice: s.remoteVoice, Credential: cred})
	if err != nil {
		return nil, fmt.Errorf("remote voice: %w", err)
	}
	return a, nil
}

// startPlayback plays st on a new goroutine and ends sess when it is done.
func (s *Speaker) startPlayback(sess *Session, st beep.StreamSeekCloser, format beep.Format) {
	if sess.ctx.Err() != nil {
		_ = st.Close()
		s.finish(sess, context.Canceled)
		return
	}
	s.mu.Lock()
	sess.audible = true
	s.mu.Unlock()
	s.setSpeaking(true)

	go func() {
		err := s.sink.Play(sess.ctx, st, format)
		_ = st.Close()
		if err != nil && sess.ctx.Err() != nil {
			err = context.Canceled
		}
		if err != nil && !errors.Is(err, context.Canceled) {
			slog.Warn("speech: playback failed", "session_id", sess.ID, "err", err)
			s.metrics.RecordError(context.Background(), "playback", err)
		}
		s.finish(sess, err)
	}()
}

// finish ends sess exactly once.
func (s *Speaker) finish(sess *Session, err error) {
	sess.once.Do(func() {
		sess.err = err
		s.mu.Lock()
		if s.current == sess {
			s.current = nil
		}
		audible := sess.audible
		s.mu.Unlock()
		if audible {
			s.setSpeaking(false)
		}
		sess.cancel()
		close(sess.done)
		slog.Debug("speech: session ended", "session_id", sess.ID, "backend", sess.Backend.String(), "err", err)
	})
}

func (s *Speaker) setSpeaking(v bool) {
	s.mu.Lock()
	if s.speaking == v {
		s.mu.Unlock()
		return
	}
	s.speaking = v
	hooks := slices.Clone(s.hooks)
	s.mu.Unlock()

	delta := int64(1)
	if !v {
		delta = -1
	}
	s.metrics.Speaking.Add(context.Background(), delta)
	for _, fn := range hooks {
		fn(v)
	}
}
