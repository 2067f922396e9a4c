// Package turn converts a continuously revised transcript stream into
// discrete, silence-bounded user turns gated by a wake phrase.
//
// A [Detector] watches every [stt.TranscriptEvent] from its [Transcriber].
// Nothing is captured until the wake phrase appears; from then on the turn's
// transcript is re-derived from the wake offset on each event, so provider
// revisions replace earlier text instead of piling up. When no event arrives
// for the silence timeout the turn is finalized and delivered on [Detector.Turns].
//
// Every event and every reset bumps a generation counter. A watchdog timer
// that fires with a stale generation does nothing, which keeps finalize
// at-most-once per turn however the timers race.
package turn

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/sous/internal/observe"
	"github.com/MrWong99/sous/pkg/provider/stt"
	"github.com/google/uuid"
)

const (
	// DefaultWakePhrase opens a turn when heard.
	DefaultWakePhrase = "chef"

	// DefaultSilenceTimeout is how long the user may pause before the turn
	// is considered complete.
	DefaultSilenceTimeout = 1500 * time.Millisecond
)

// Transcriber is the streaming transcription source a Detector consumes.
// transcribe.Stream is the production implementation.
type Transcriber interface {
	// Start opens the capture and begins calling onEvent with cumulative
	// hypotheses. Capture failures wrap audio.ErrCaptureUnavailable.
	Start(ctx context.Context, onEvent func(stt.TranscriptEvent)) error

	// SetMuted replaces captured audio with silence while true.
	SetMuted(muted bool)

	// Reset discards the running hypothesis.
	Reset()

	// Stop releases the capture and the STT session.
	Stop() error
}

// Timer is the handle returned by an [AfterFunc].
type Timer interface {
	Stop() bool
}

// AfterFunc schedules f after d. It mirrors [time.AfterFunc].
type AfterFunc func(d time.Duration, f func()) Timer

func realAfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }

// Option configures a Detector.
type Option func(*Detector)

// WithWakePhrase sets the phrase that opens a turn. Matching is a
// case-insensitive substring match.
func WithWakePhrase(phrase string) Option {
	return func(d *Detector) { d.wakePhrase = phrase }
}

// WithSilenceTimeout sets the trailing-silence duration that finalizes a turn.
func WithSilenceTimeout(timeout time.Duration) Option {
	return func(d *Detector) { d.silence = timeout }
}

// WithAfterFunc replaces the watchdog timer factory.
func WithAfterFunc(f AfterFunc) Option {
	return func(d *Detector) { d.afterFunc = f }
}

// WithPhoneticWake additionally accepts words that sound like the wake
// phrase (Double Metaphone code overlap plus a Jaro-Winkler floor), e.g.
// "shef" for "chef".
func WithPhoneticWake(enabled bool) Option {
	return func(d *Detector) { d.phonetic = enabled }
}

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(d *Detector) { d.metrics = m }
}

// Detector is the wake-phrase gated, silence terminated turn accumulator.
// All methods are safe for concurrent use.
type Detector struct {
	transcriber Transcriber
	wakePhrase  string
	silence     time.Duration
	afterFunc   AfterFunc
	phonetic    bool
	metrics     *observe.Metrics
	matcher     *wakeMatcher
	turns       chan FinalizedTurn

	// lifeMu serialises Start and Stop.
	lifeMu sync.Mutex

	mu      sync.Mutex
	state   State
	gen     uint64
	timer   Timer
	started bool
	enabled bool
	paused  bool // set by finalize, cleared by Enable
}

// New creates a Detector reading from t. The detector starts enabled but not
// started.
func New(t Transcriber, opts ...Option) *Detector {
	d := &Detector{
		transcriber: t,
		wakePhrase:  DefaultWakePhrase,
		silence:     DefaultSilenceTimeout,
		afterFunc:   realAfterFunc,
		turns:       make(chan FinalizedTurn, 1),
		enabled:     true,
	}
	for _, o := range opts {
		o(d)
	}
	if d.metrics == nil {
		d.metrics = observe.DefaultMetrics()
	}
	d.matcher = newWakeMatcher(d.wakePhrase, d.phonetic)
	return d
}

// Turns returns the channel finalized turns are delivered on. It has a
// buffer of one; a turn finalized while the previous one is unread is
// dropped.
func (d *Detector) Turns() <-chan FinalizedTurn { return d.turns }

// Start begins consuming transcript events. Starting a started detector
// stops it first.
func (d *Detector) Start(ctx context.Context) error {
	d.lifeMu.Lock()
	defer d.lifeMu.Unlock()

	if err := d.stopLocked(); err != nil {
		slog.Warn("turn: implicit stop before start failed", "err", err)
	}

	d.mu.Lock()
	d.started = true
	d.paused = false
	d.resetLocked()
	enabled := d.enabled
	d.mu.Unlock()

	d.transcriber.SetMuted(!enabled)
	if err := d.transcriber.Start(ctx, d.onEvent); err != nil {
		d.mu.Lock()
		d.started = false
		d.mu.Unlock()
		return fmt.Errorf("turn: start: %w", err)
	}
	slog.Info("turn detector started", "wake_phrase", d.wakePhrase, "silence_timeout", d.silence)
	return nil
}

// Stop cancels any pending watchdog and releases the transcriber. Stopping a
// stopped detector is a no-op.
func (d *Detector) Stop() error {
	d.lifeMu.Lock()
	defer d.lifeMu.Unlock()
	return d.stopLocked()
}

func (d *Detector) stopLocked() error {
	d.mu.Lock()
	if !d.started {
		d.mu.Unlock()
		return nil
	}
	d.started = false
	d.resetLocked()
	d.mu.Unlock()

	// The transcriber may be blocked delivering an event into onEvent, so
	// it must be stopped without holding mu.
	if err := d.transcriber.Stop(); err != nil {
		return fmt.Errorf("turn: stop: %w", err)
	}
	slog.Info("turn detector stopped")
	return nil
}

// Enable opens the listening gate: the running hypothesis is cleared and
// audio forwarding resumes.
func (d *Detector) Enable() {
	d.transcriber.Reset()
	d.transcriber.SetMuted(false)
	d.mu.Lock()
	d.enabled = true
	d.paused = false
	d.mu.Unlock()
}

// Disable closes the listening gate: the watchdog is cancelled, the turn is
// discarded and audio forwarding is muted.
func (d *Detector) Disable() {
	d.mu.Lock()
	d.enabled = false
	d.resetLocked()
	d.mu.Unlock()
	d.transcriber.SetMuted(true)
}

// Listening reports whether events are currently being considered.
func (d *Detector) Listening() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.started && d.enabled && !d.paused
}

// Started reports whether the transcriber is running.
func (d *Detector) Started() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.started
}

// Snapshot returns a copy of the current turn state.
func (d *Detector) Snapshot() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// onEvent is invoked on the transcriber's goroutine for every hypothesis.
func (d *Detector) onEvent(ev stt.TranscriptEvent) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.started || !d.enabled || d.paused {
		return
	}
	now := time.Now()

	if !d.state.KeyPhraseDetected {
		offset := d.matcher.match(ev)
		if offset < 0 {
			return
		}
		d.state = State{
			KeyPhraseDetected:  true,
			CaptureStartOffset: offset,
			DetectedAt:         now,
		}
		slog.Debug("turn: wake phrase detected", "offset", offset)
	}

	acc := ""
	if off := d.state.CaptureStartOffset; off < len(ev.Text) {
		// A revision may have shifted multi-byte text under the offset.
		acc = ev.Text[runeFloor(ev.Text, off):]
	}
	d.state.AccumulatedTranscript = acc
	d.state.LastActivity = now
	d.armLocked()
}

// armLocked replaces the watchdog with a fresh one for a new generation.
func (d *Detector) armLocked() {
	if d.timer != nil {
		d.timer.Stop()
	}
	d.gen++
	gen := d.gen
	d.timer = d.afterFunc(d.silence, func() { d.fire(gen) })
}

// resetLocked cancels the watchdog, invalidates any in-flight firing and
// clears the turn.
func (d *Detector) resetLocked() {
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.gen++
	d.state = State{}
}

// fire finalizes the turn armed for generation gen.
func (d *Detector) fire(gen uint64) {
	d.mu.Lock()
	if gen != d.gen || !d.state.KeyPhraseDetected {
		d.mu.Unlock()
		return
	}
	st := d.state
	ft := FinalizedTurn{
		ID:          uuid.NewString(),
		Transcript:  normalize(st.AccumulatedTranscript),
		FinalizedAt: time.Now(),
	}
	d.resetLocked()
	d.paused = true
	d.mu.Unlock()

	// The finished turn must not re-trigger on the next hypothesis.
	d.transcriber.Reset()

	ctx := context.Background()
	observe.RecordSince(ctx, d.metrics.TurnDuration, st.DetectedAt)
	select {
	case d.turns <- ft:
		d.metrics.TurnsFinalized.Add(ctx, 1)
		slog.Info("turn finalized", "turn_id", ft.ID, "transcript", ft.Transcript)
	default:
		d.metrics.TurnsDropped.Add(ctx, 1)
		slog.Warn("turn: previous turn unread, dropping", "turn_id", ft.ID, "transcript", ft.Transcript)
	}
}
