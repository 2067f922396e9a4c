// Package mock provides a scriptable [turn.Transcriber] for tests.
//
// Emit plays the role of the streaming transcriber: it hands a cumulative
// hypothesis to whatever callback Start registered.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/sous/internal/turn"
	"github.com/MrWong99/sous/pkg/provider/stt"
)

// Transcriber is a mock implementation of [turn.Transcriber].
type Transcriber struct {
	mu sync.Mutex

	// StartErr, if non-nil, is returned by Start.
	StartErr error

	// StopErr, if non-nil, is returned by Stop.
	StopErr error

	onEvent    func(stt.TranscriptEvent)
	muted      bool
	startCount int
	stopCount  int
	resetCount int
}

// Start records the call and keeps onEvent for Emit.
func (t *Transcriber) Start(_ context.Context, onEvent func(stt.TranscriptEvent)) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.startCount++
	if t.StartErr != nil {
		return t.StartErr
	}
	t.onEvent = onEvent
	return nil
}

// SetMuted records the mute flag.
func (t *Transcriber) SetMuted(muted bool) {
	t.mu.Lock()
	t.muted = muted
	t.mu.Unlock()
}

// Reset counts the call.
func (t *Transcriber) Reset() {
	t.mu.Lock()
	t.resetCount++
	t.mu.Unlock()
}

// Stop records the call and detaches the callback.
func (t *Transcriber) Stop() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopCount++
	t.onEvent = nil
	return t.StopErr
}

// Emit delivers text as a non-final hypothesis. It reports false when no
// callback is registered.
func (t *Transcriber) Emit(text string) bool {
	return t.EmitEvent(stt.NewEvent(text, false))
}

// EmitEvent delivers ev as-is.
func (t *Transcriber) EmitEvent(ev stt.TranscriptEvent) bool {
	t.mu.Lock()
	fn := t.onEvent
	t.mu.Unlock()
	if fn == nil {
		return false
	}
	fn(ev)
	return true
}

// Muted reports the last SetMuted value.
func (t *Transcriber) Muted() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.muted
}

// StartCount returns the number of Start calls.
func (t *Transcriber) StartCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.startCount
}

// StopCount returns the number of Stop calls.
func (t *Transcriber) StopCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopCount
}

// ResetCount returns the number of Reset calls.
func (t *Transcriber) ResetCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.resetCount
}

var _ turn.Transcriber = (*Transcriber)(nil)
