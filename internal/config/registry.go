package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/MrWong99/sous/pkg/audio"
	"github.com/MrWong99/sous/pkg/provider/assistant"
	"github.com/MrWong99/sous/pkg/provider/stt"
	"github.com/MrWong99/sous/pkg/provider/tts"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Factory builds a provider from its config entry.
type Factory[T any] func(ProviderEntry) (T, error)

type factories[T any] struct {
	kind string
	m    map[string]Factory[T]
}

func newFactories[T any](kind string) factories[T] {
	return factories[T]{kind: kind, m: make(map[string]Factory[T])}
}

func (f factories[T]) create(entry ProviderEntry) (T, error) {
	factory, ok := f.m[entry.Name]
	if !ok {
		var zero T
		return zero, fmt.Errorf("%w: %s/%q", ErrProviderNotRegistered, f.kind, entry.Name)
	}
	return factory(entry)
}

// Registry maps provider names to their constructor functions for each
// provider slot. The on-device and remote voices share the TTS factories.
// It is safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	capture   factories[audio.Source]
	stt       factories[stt.Provider]
	tts       factories[tts.Provider]
	assistant factories[assistant.Provider]
	sink      factories[audio.Sink]
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		capture:   newFactories[audio.Source]("capture"),
		stt:       newFactories[stt.Provider]("stt"),
		tts:       newFactories[tts.Provider]("tts"),
		assistant: newFactories[assistant.Provider]("assistant"),
		sink:      newFactories[audio.Sink]("sink"),
	}
}

// RegisterCapture registers a microphone source factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterCapture(name string, f Factory[audio.Source]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.capture.m[name] = f
}

// RegisterSTT registers an STT provider factory under name.
func (r *Registry) RegisterSTT(name string, f Factory[stt.Provider]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stt.m[name] = f
}

// RegisterTTS registers a TTS provider factory under name.
func (r *Registry) RegisterTTS(name string, f Factory[tts.Provider]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tts.m[name] = f
}

// RegisterAssistant registers an assistant provider factory under name.
func (r *Registry) RegisterAssistant(name string, f Factory[assistant.Provider]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.assistant.m[name] = f
}

// RegisterSink registers an audio sink factory under name.
func (r *Registry) RegisterSink(name string, f Factory[audio.Sink]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sink.m[name] = f
}

// CreateCapture instantiates a source using the factory registered under entry.Name.
// Returns [ErrProviderNotRegistered] if no factory has been registered for that name.
func (r *Registry) CreateCapture(entry ProviderEntry) (audio.Source, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.capture.create(entry)
}

// CreateSTT instantiates an STT provider using the factory registered under entry.Name.
func (r *Registry) CreateSTT(entry ProviderEntry) (stt.Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.stt.create(entry)
}

// CreateTTS instantiates a TTS provider using the factory registered under entry.Name.
func (r *Registry) CreateTTS(entry ProviderEntry) (tts.Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tts.create(entry)
}

// CreateAssistant instantiates an assistant using the factory registered under entry.Name.
func (r *Registry) CreateAssistant(entry ProviderEntry) (assistant.Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.assistant.create(entry)
}

// CreateSink instantiates a sink using the factory registered under entry.Name.
func (r *Registry) CreateSink(entry ProviderEntry) (audio.Sink, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sink.create(entry)
}
