// Package conversation drives the voice turn-taking state machine:
//
//	Idle → Listening → (silence) → Thinking → (reply) → Speaking → Listening
//
// All inputs (finalized turns, assistant results, playback completion and
// user gestures) are funnelled into one event loop run by [Orchestrator.Run],
// so state is only ever mutated on that goroutine. Asynchronous work is bound
// to the phase it was started in: leaving a phase cancels its context, and
// results tagged with an older phase id are discarded.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/sous/internal/observe"
	"github.com/MrWong99/sous/internal/speech"
	"github.com/MrWong99/sous/internal/turn"
	"github.com/MrWong99/sous/pkg/provider/assistant"
	"go.opentelemetry.io/otel/attribute"
)

const (
	// DefaultLongPress is how long a press must be held to toggle expert mode.
	DefaultLongPress = 5 * time.Second

	defaultAssistantTimeout = 30 * time.Second
	defaultHistorySize      = 50
	defaultHistoryMaxAge    = 2 * time.Hour
	eventQueueSize          = 64
	subscriberBuffer        = 16
)

// Notice texts published when expert mode is toggled.
const (
	NoticeExpertEnabled  = "expert mode enabled"
	NoticeExpertDisabled = "expert mode disabled"
)

// ErrNotRunning is returned when a request is made after Run has exited.
var ErrNotRunning = errors.New("conversation: orchestrator not running")

// State is the orchestrator's conversational state.
type State int

const (
	Idle State = iota
	Listening
	Thinking
	Speaking
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Listening:
		return "listening"
	case Thinking:
		return "thinking"
	case Speaking:
		return "speaking"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// MarshalText renders the state name in JSON.
func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// transitions lists the allowed moves. Listening never goes straight to
// Speaking: a reply always passes through Thinking.
var transitions = map[State][]State{
	Idle:      {Listening, Speaking},
	Listening: {Thinking, Idle},
	Thinking:  {Speaking, Listening, Idle},
	Speaking:  {Listening, Idle},
}

func allowed(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Detector is the turn source. [*turn.Detector] satisfies it.
type Detector interface {
	Start(ctx context.Context) error
	Stop() error
	Enable()
	Disable()
	Listening() bool
	Turns() <-chan turn.FinalizedTurn
}

// Speaker is the speech output. [*speech.Speaker] satisfies it.
type Speaker interface {
	Speak(ctx context.Context, text string, backend speech.Backend) (*speech.Session, error)
	PlayCue(ctx context.Context, path string) (*speech.Session, error)
	Cancel()
	Speaking() bool
}

// ChangeKind distinguishes [Change] values.
type ChangeKind string

const (
	ChangeState  ChangeKind = "state"
	ChangeNotice ChangeKind = "notice"
)

// Change is published to subscribers on every state transition and notice.
type Change struct {
	Kind   ChangeKind `json:"kind"`
	From   State      `json:"from"`
	To     State      `json:"to"`
	Notice string     `json:"notice,omitempty"`
	At     time.Time  `json:"at"`
}

// Snapshot is a point-in-time view for presentation layers.
type Snapshot struct {
	State          State  `json:"state"`
	Speaking       bool   `json:"speaking"`
	Listening      bool   `json:"listening"`
	ExpertMode     bool   `json:"expert_mode"`
	LastTurnID     string `json:"last_turn_id,omitempty"`
	LastTranscript string `json:"last_transcript,omitempty"`
	LastReply      string `json:"last_reply,omitempty"`
	LastError      string `json:"last_error,omitempty"`
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithExpertMode sets the initial expert-mode flag. Expert mode selects the
// remote voice.
func WithExpertMode(enabled bool) Option {
	return func(o *Orchestrator) { o.expert = enabled }
}

// WithLongPress sets the hold duration that toggles expert mode.
func WithLongPress(d time.Duration) Option {
	return func(o *Orchestrator) { o.longPress = d }
}

// WithAssistantTimeout bounds a single assistant call.
func WithAssistantTimeout(d time.Duration) Option {
	return func(o *Orchestrator) { o.assistantTimeout = d }
}

// WithHistory replaces the conversation history.
func WithHistory(h *History) Option {
	return func(o *Orchestrator) { o.history = h }
}

// WithWelcomeCue plays the audio file at path when listening starts.
func WithWelcomeCue(path string) Option {
	return func(o *Orchestrator) { o.welcomeCue = path }
}

// WithAckCue plays the audio file at path when a turn is accepted.
func WithAckCue(path string) Option {
	return func(o *Orchestrator) { o.ackCue = path }
}

// WithAfterFunc replaces the long-press timer factory.
func WithAfterFunc(f turn.AfterFunc) Option {
	return func(o *Orchestrator) { o.afterFunc = f }
}

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// Orchestrator owns the conversational state machine.
type Orchestrator struct {
	detector         Detector
	assistant        assistant.Provider
	speaker          Speaker
	history          *History
	metrics          *observe.Metrics
	afterFunc        turn.AfterFunc
	longPress        time.Duration
	assistantTimeout time.Duration
	welcomeCue       string
	ackCue           string

	events  chan func()
	stopped chan struct{}

	// Loop-owned.
	runCtx      context.Context
	phase       uint64
	phaseCtx    context.Context
	phaseCancel context.CancelFunc
	audioDone   chan struct{} // closed when the phase's playback worker exits
	pressTimer  turn.Timer
	pressGen    uint64

	// mu guards fields read from outside the loop.
	mu             sync.RWMutex
	state          State
	expert         bool
	running        bool
	lastTurnID     string
	lastTranscript string
	lastReply      string
	lastErr        string
	subs           map[chan Change]struct{}
}

// New creates an Orchestrator. Call [Orchestrator.Run] to start it.
func New(d Detector, a assistant.Provider, s Speaker, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		detector:         d,
		assistant:        a,
		speaker:          s,
		afterFunc:        func(d time.Duration, f func()) turn.Timer { return time.AfterFunc(d, f) },
		longPress:        DefaultLongPress,
		assistantTimeout: defaultAssistantTimeout,
		events:           make(chan func(), eventQueueSize),
		stopped:          make(chan struct{}),
		subs:             make(map[chan Change]struct{}),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.history == nil {
		o.history = NewHistory(defaultHistorySize, defaultHistoryMaxAge)
	}
	if o.metrics == nil {
		o.metrics = observe.DefaultMetrics()
	}
	return o
}

// Run processes events until ctx is cancelled. It must be called exactly
// once. On exit playback is cancelled and the detector is stopped.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.runCtx = ctx
	o.phaseCtx, o.phaseCancel = context.WithCancel(ctx)
	o.mu.Lock()
	o.running = true
	o.mu.Unlock()
	slog.Info("conversation orchestrator running", "expert_mode", o.ExpertMode())

	defer func() {
		o.mu.Lock()
		o.running = false
		o.mu.Unlock()
		close(o.stopped)
		o.endPhase()
		if o.pressTimer != nil {
			o.pressTimer.Stop()
		}
		if err := o.detector.Stop(); err != nil {
			slog.Warn("conversation: stop detector", "err", err)
		}
		slog.Info("conversation orchestrator stopped")
	}()

	turns := o.detector.Turns()
	for {
		select {
		case <-ctx.Done():
			return nil
		case fn := <-o.events:
			fn()
		case ft := <-turns:
			o.onTurn(ft)
		}
	}
}

// Running reports whether Run is active.
func (o *Orchestrator) Running() bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.running
}

// post queues fn for the loop. It reports false once Run has exited.
func (o *Orchestrator) post(fn func()) bool {
	select {
	case o.events <- fn:
		return true
	case <-o.stopped:
		return false
	}
}

// call runs fn on the loop and waits for its result.
func (o *Orchestrator) call(ctx context.Context, fn func() error) error {
	errc := make(chan error, 1)
	if !o.post(func() { errc <- fn() }) {
		return ErrNotRunning
	}
	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-o.stopped:
		return ErrNotRunning
	}
}

// Listen starts listening from Idle. It fails with an error wrapping
// audio.ErrCaptureUnavailable when the microphone cannot be opened. In any
// other state it does nothing.
func (o *Orchestrator) Listen(ctx context.Context) error {
	return o.call(ctx, o.listen)
}

// Tap is the short-press gesture: in Speaking it interrupts playback and
// returns to Listening; in Idle it starts listening. Otherwise it does
// nothing.
func (o *Orchestrator) Tap(ctx context.Context) error {
	return o.call(ctx, func() error {
		switch o.current() {
		case Idle:
			return o.listen()
		case Speaking:
			o.metrics.BargeIns.Add(o.runCtx, 1)
			slog.Info("conversation: barge-in")
			o.transition(Listening)
		}
		return nil
	})
}

// PressStart begins a long press. Holding it for the long-press duration
// toggles expert mode once.
func (o *Orchestrator) PressStart(ctx context.Context) error {
	return o.call(ctx, func() error {
		if o.pressTimer != nil {
			return nil
		}
		o.pressGen++
		gen := o.pressGen
		o.pressTimer = o.afterFunc(o.longPress, func() {
			o.post(func() {
				if gen != o.pressGen || o.pressTimer == nil {
					return
				}
				o.pressTimer = nil
				o.setExpert(!o.ExpertMode())
			})
		})
		return nil
	})
}

// PressEnd releases a press. Released before the long-press duration, the
// press has no effect.
func (o *Orchestrator) PressEnd(ctx context.Context) error {
	return o.call(ctx, func() error {
		if o.pressTimer != nil {
			o.pressTimer.Stop()
			o.pressTimer = nil
		}
		o.pressGen++
		return nil
	})
}

// SetExpertMode sets the expert-mode flag, publishing a notice when it
// changes.
func (o *Orchestrator) SetExpertMode(ctx context.Context, enabled bool) error {
	return o.call(ctx, func() error {
		o.setExpert(enabled)
		return nil
	})
}

// ExpertMode reports the expert-mode flag.
func (o *Orchestrator) ExpertMode() bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.expert
}

// State returns the current state.
func (o *Orchestrator) State() State { return o.current() }

// Snapshot returns a point-in-time view of the conversation.
func (o *Orchestrator) Snapshot() Snapshot {
	o.mu.RLock()
	snap := Snapshot{
		State:          o.state,
		ExpertMode:     o.expert,
		LastTurnID:     o.lastTurnID,
		LastTranscript: o.lastTranscript,
		LastReply:      o.lastReply,
		LastError:      o.lastErr,
	}
	o.mu.RUnlock()
	snap.Speaking = o.speaker.Speaking()
	snap.Listening = o.detector.Listening()
	return snap
}

// History returns the conversation history.
func (o *Orchestrator) History() *History { return o.history }

// Subscribe returns a channel of state changes and notices, and a function
// that ends the subscription. Slow subscribers miss changes rather than
// stalling the loop.
func (o *Orchestrator) Subscribe() (<-chan Change, func()) {
	ch := make(chan Change, subscriberBuffer)
	o.mu.Lock()
	o.subs[ch] = struct{}{}
	o.mu.Unlock()
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			o.mu.Lock()
			delete(o.subs, ch)
			o.mu.Unlock()
		})
	}
}

func (o *Orchestrator) publish(c Change) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	for ch := range o.subs {
		select {
		case ch <- c:
		default:
			slog.Debug("conversation: subscriber lagging, change dropped", "kind", c.Kind)
		}
	}
}

func (o *Orchestrator) current() State {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.state
}

func (o *Orchestrator) setExpert(enabled bool) {
	o.mu.Lock()
	changed := o.expert != enabled
	o.expert = enabled
	o.mu.Unlock()
	if !changed {
		return
	}
	notice := NoticeExpertDisabled
	if enabled {
		notice = NoticeExpertEnabled
	}
	slog.Info("conversation: "+notice, "expert_mode", enabled)
	st := o.current()
	o.publish(Change{Kind: ChangeNotice, From: st, To: st, Notice: notice, At: time.Now()})
}

func (o *Orchestrator) setError(err error) {
	o.mu.Lock()
	o.lastErr = err.Error()
	o.mu.Unlock()
}

// endPhase cancels the current phase's work and waits for its audio to
// stop, so nothing from the old phase is audible once it returns.
func (o *Orchestrator) endPhase() {
	if o.phaseCancel != nil {
		o.phaseCancel()
	}
	o.speaker.Cancel()
	if o.audioDone != nil {
		<-o.audioDone
		o.audioDone = nil
	}
}

// transition moves to the next state. The detector is enabled on entering
// Listening and disabled in every other active state.
func (o *Orchestrator) transition(to State) bool {
	from := o.current()
	if from == to {
		return false
	}
	if !allowed(from, to) {
		slog.Error("conversation: refusing transition", "from", from.String(), "to", to.String())
		return false
	}

	o.endPhase()
	o.phase++
	o.phaseCtx, o.phaseCancel = context.WithCancel(o.runCtx)

	switch to {
	case Listening:
		o.detector.Enable()
	case Thinking, Speaking:
		o.detector.Disable()
	}

	o.mu.Lock()
	o.state = to
	o.mu.Unlock()

	o.metrics.RecordTransition(o.runCtx, from.String(), to.String())
	slog.Debug("conversation: transition", "from", from.String(), "to", to.String(), "phase", o.phase)
	o.publish(Change{Kind: ChangeState, From: from, To: to, At: time.Now()})
	return true
}

func (o *Orchestrator) listen() error {
	if o.current() != Idle {
		return nil
	}
	if o.welcomeCue != "" {
		// Keep the microphone muted until the welcome has been played.
		o.detector.Disable()
	}
	if err := o.detector.Start(o.runCtx); err != nil {
		o.metrics.RecordError(o.runCtx, "capture", err)
		o.setError(err)
		return fmt.Errorf("conversation: listen: %w", err)
	}
	if o.welcomeCue == "" {
		o.transition(Listening)
		return nil
	}
	o.transition(Speaking)
	cue := o.welcomeCue
	o.playInPhase(func(ctx context.Context) (*speech.Session, error) {
		return o.speaker.PlayCue(ctx, cue)
	}, true)
	return nil
}

func (o *Orchestrator) onTurn(ft turn.FinalizedTurn) {
	if o.current() != Listening {
		slog.Debug("conversation: turn outside listening dropped", "turn_id", ft.ID, "state", o.current().String())
		return
	}
	o.mu.Lock()
	o.lastTurnID = ft.ID
	o.lastTranscript = ft.Transcript
	o.mu.Unlock()

	if ft.Transcript == "" {
		slog.Info("conversation: empty turn, still listening", "turn_id", ft.ID)
		o.detector.Enable()
		return
	}
	o.history.Add(Entry{Role: RoleUser, Text: ft.Transcript, TurnID: ft.ID, Timestamp: ft.FinalizedAt})

	o.transition(Thinking)
	phase, ctx := o.phase, o.phaseCtx

	if o.ackCue != "" {
		cue := o.ackCue
		o.playInPhase(func(ctx context.Context) (*speech.Session, error) {
			return o.speaker.PlayCue(ctx, cue)
		}, false)
	}

	go func() {
		reply, err := o.ask(ctx, ft)
		o.post(func() { o.onReply(phase, ft, reply, err) })
	}()
}

func (o *Orchestrator) ask(ctx context.Context, ft turn.FinalizedTurn) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, o.assistantTimeout)
	defer cancel()
	ctx, span := observe.StartSpan(ctx, observe.SpanAssistantReply, observe.AttrTurnID.String(ft.ID))

	start := time.Now()
	reply, err := o.assistant.Reply(ctx, ft.Transcript)
	observe.RecordSince(ctx, o.metrics.AssistantDuration, start, attribute.String("status", observe.ErrorKind(err)))
	observe.EndSpan(span, err)
	return reply, err
}

func (o *Orchestrator) onReply(phase uint64, ft turn.FinalizedTurn, reply string, err error) {
	if phase != o.phase {
		slog.Debug("conversation: stale assistant result dropped", "turn_id", ft.ID)
		return
	}
	if err != nil {
		observe.Logger(o.runCtx).Warn("conversation: assistant failed", "turn_id", ft.ID, "err", err)
		o.metrics.RecordError(o.runCtx, "assistant", err)
		o.setError(err)
		o.transition(Listening)
		return
	}
	reply = strings.TrimSpace(reply)
	o.mu.Lock()
	o.lastReply = reply
	o.mu.Unlock()
	if reply == "" {
		slog.Info("conversation: empty reply, back to listening", "turn_id", ft.ID)
		o.transition(Listening)
		return
	}
	o.history.Add(Entry{Role: RoleAssistant, Text: reply, TurnID: ft.ID})

	backend := speech.OnDeviceVoice
	if o.ExpertMode() {
		backend = speech.RemoteHighFidelityVoice
	}
	o.transition(Speaking)
	o.playInPhase(func(ctx context.Context) (*speech.Session, error) {
		return o.speaker.Speak(ctx, reply, backend)
	}, true)
}

// playInPhase runs play on a worker bound to the current phase. When report
// is set, the outcome is posted back so the loop can leave Speaking.
func (o *Orchestrator) playInPhase(play func(context.Context) (*speech.Session, error), report bool) {
	phase, ctx := o.phase, o.phaseCtx
	done := make(chan struct{})
	o.audioDone = done

	go func() {
		sess, err := play(ctx)
		if err == nil {
			<-sess.Done()
			err = sess.Err()
		}
		close(done)
		if report {
			o.post(func() { o.onPlaybackDone(phase, err) })
		} else if err != nil && !errors.Is(err, context.Canceled) {
			slog.Warn("conversation: cue playback failed", "err", err)
		}
	}()
}

func (o *Orchestrator) onPlaybackDone(phase uint64, err error) {
	if phase != o.phase {
		return
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		observe.Logger(o.runCtx).Warn("conversation: speech failed", "err", err)
		o.metrics.RecordError(o.runCtx, "speech", err)
		o.setError(err)
	}
	o.transition(Listening)
}
