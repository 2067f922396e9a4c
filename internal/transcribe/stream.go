// Package transcribe turns live microphone audio into a running transcript.
//
// A [Stream] opens the capture source, pumps frames into a streaming STT
// session, and folds the provider's partial and final results into a single
// cumulative hypothesis. Every update is delivered as an stt.TranscriptEvent
// whose Text is the whole hypothesis so far; consumers never concatenate.
//
// When the STT session drops, the stream reopens it with exponential backoff
// while the capture keeps running.
package transcribe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/sous/pkg/audio"
	"github.com/MrWong99/sous/pkg/provider/stt"
)

const (
	defaultMaxRetries = 5
	defaultBackoff    = 500 * time.Millisecond
	defaultMaxBackoff = 10 * time.Second
)

// Option configures a Stream.
type Option func(*Stream)

// WithReconnect sets the session reconnection policy. maxRetries <= 0
// disables reconnection.
func WithReconnect(maxRetries int, backoff, maxBackoff time.Duration) Option {
	return func(s *Stream) {
		s.maxRetries = maxRetries
		s.backoff = backoff
		s.maxBackoff = maxBackoff
	}
}

// Stream is a restartable microphone-to-transcript pipeline. All methods are
// safe for concurrent use.
type Stream struct {
	source     audio.Source
	provider   stt.Provider
	cfg        stt.StreamConfig
	maxRetries int
	backoff    time.Duration
	maxBackoff time.Duration

	muted atomic.Bool

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	session stt.SessionHandle

	// hypMu serialises hypothesis updates with event delivery and Reset.
	hypMu     sync.Mutex
	committed []string
	partial   string
}

// New creates a Stream. cfg describes the format the STT session receives;
// captured frames are converted to it.
func New(source audio.Source, provider stt.Provider, cfg stt.StreamConfig, opts ...Option) *Stream {
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 16000
	}
	if cfg.Channels == 0 {
		cfg.Channels = 1
	}
	s := &Stream{
		source:     source,
		provider:   provider,
		cfg:        cfg,
		maxRetries: defaultMaxRetries,
		backoff:    defaultBackoff,
		maxBackoff: defaultMaxBackoff,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Start opens the capture and the STT session and begins delivering events
// to onEvent. onEvent is called from a single goroutine, in arrival order.
// Capture failures wrap [audio.ErrCaptureUnavailable].
func (s *Stream) Start(ctx context.Context, onEvent func(stt.TranscriptEvent)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return errors.New("transcribe: already started")
	}

	capture, err := s.source.Open(ctx)
	if err != nil {
		if !errors.Is(err, audio.ErrCaptureUnavailable) {
			err = fmt.Errorf("%w: %w", audio.ErrCaptureUnavailable, err)
		}
		return fmt.Errorf("transcribe: open capture: %w", err)
	}
	session, err := s.provider.StartStream(ctx, s.cfg)
	if err != nil {
		_ = capture.Close()
		return fmt.Errorf("transcribe: start stt session: %w", err)
	}

	s.Reset()
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel
	s.done = make(chan struct{})
	s.session = session

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		s.pumpAudio(runCtx, capture)
	}()
	go func() {
		defer wg.Done()
		s.readTranscripts(runCtx, session, onEvent)
	}()
	go func(done chan struct{}) {
		wg.Wait()
		_ = capture.Close()
		close(done)
	}(s.done)
	return nil
}

// Stop ends the capture and the STT session and waits for the pipeline
// goroutines to exit. Stop on a stopped stream is a no-op.
func (s *Stream) Stop() error {
	s.mu.Lock()
	cancel, done, session := s.cancel, s.done, s.session
	s.cancel, s.done, s.session = nil, nil, nil
	s.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	var err error
	if session != nil {
		err = session.Close()
	}
	<-done
	if err != nil {
		return fmt.Errorf("transcribe: close session: %w", err)
	}
	return nil
}

// SetMuted replaces captured audio with silence while muted. The STT session
// stays open so that unmuting is instant.
func (s *Stream) SetMuted(muted bool) { s.muted.Store(muted) }

// Reset discards the running hypothesis.
func (s *Stream) Reset() {
	s.hypMu.Lock()
	s.committed = nil
	s.partial = ""
	s.hypMu.Unlock()
}

func (s *Stream) currentSession() stt.SessionHandle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session
}

func (s *Stream) pumpAudio(ctx context.Context, capture audio.Capture) {
	conv := &audio.Converter{Target: audio.Format{SampleRate: s.cfg.SampleRate, Channels: s.cfg.Channels}}
	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-capture.Frames():
			if !ok {
				slog.Warn("transcribe: capture ended")
				return
			}
			frame = conv.Convert(frame)
			if len(frame.Data) == 0 {
				continue
			}
			if s.muted.Load() {
				frame.Data = make([]byte, len(frame.Data))
			}
			sess := s.currentSession()
			if sess == nil {
				continue
			}
			if err := sess.SendAudio(frame.Data); err != nil {
				slog.Debug("transcribe: send audio", "err", err)
			}
		}
	}
}

func (s *Stream) readTranscripts(ctx context.Context, session stt.SessionHandle, onEvent func(stt.TranscriptEvent)) {
	for {
		s.consume(ctx, session, onEvent)
		if ctx.Err() != nil {
			return
		}
		slog.Warn("transcribe: stt session ended unexpectedly, reconnecting")
		_ = session.Close()
		session = s.reconnect(ctx)
		if session == nil {
			return
		}
	}
}

// consume delivers events until both transcript channels close or ctx ends.
func (s *Stream) consume(ctx context.Context, session stt.SessionHandle, onEvent func(stt.TranscriptEvent)) {
	partials, finals := session.Partials(), session.Finals()
	for partials != nil || finals != nil {
		select {
		case <-ctx.Done():
			return
		case t, ok := <-partials:
			if !ok {
				partials = nil
				continue
			}
			s.apply(t, onEvent)
		case t, ok := <-finals:
			if !ok {
				finals = nil
				continue
			}
			s.apply(t, onEvent)
		}
	}
}

// apply folds t into the hypothesis and delivers the result. Empty partials
// that would not change the hypothesis are swallowed.
func (s *Stream) apply(t stt.Transcript, onEvent func(stt.TranscriptEvent)) {
	s.hypMu.Lock()
	defer s.hypMu.Unlock()
	if t.IsFinal {
		if t.Text != "" {
			s.committed = append(s.committed, t.Text)
		}
		s.partial = ""
	} else {
		if t.Text == s.partial {
			return
		}
		s.partial = t.Text
	}
	parts := append(append([]string(nil), s.committed...), s.partial)
	text := stt.JoinHypothesis(parts...)
	if text == "" {
		return
	}
	onEvent(stt.NewEvent(text, s.partial == ""))
}

// reconnect reopens the STT session with exponential backoff. Returns nil
// when retries are exhausted or ctx ends.
func (s *Stream) reconnect(ctx context.Context) stt.SessionHandle {
	backoff := s.backoff
	for attempt := 1; attempt <= s.maxRetries; attempt++ {
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}
		slog.Info("transcribe: reopening stt session", "attempt", attempt, "max_retries", s.maxRetries)
		session, err := s.provider.StartStream(ctx, s.cfg)
		if err == nil {
			s.mu.Lock()
			if s.cancel == nil {
				s.mu.Unlock()
				_ = session.Close()
				return nil
			}
			s.session = session
			s.mu.Unlock()
			return session
		}
		slog.Warn("transcribe: reopen failed", "attempt", attempt, "err", err)
		backoff = min(backoff*2, s.maxBackoff)
	}
	slog.Error("transcribe: giving up on stt session", "max_retries", s.maxRetries)
	return nil
}
