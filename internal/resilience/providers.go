package resilience

import (
	"context"

	"github.com/MrWong99/sous/pkg/provider/assistant"
	"github.com/MrWong99/sous/pkg/provider/tts"
)

// Assistant implements [assistant.Provider] behind a [FallbackGroup].
type Assistant struct {
	group *FallbackGroup[assistant.Provider]
}

var _ assistant.Provider = (*Assistant)(nil)

// NewAssistant guards primary with a circuit breaker.
func NewAssistant(primary assistant.Provider, name string, cfg CircuitBreakerConfig) *Assistant {
	return &Assistant{group: NewFallbackGroup(primary, name, cfg)}
}

// Reply implements [assistant.Provider].
func (a *Assistant) Reply(ctx context.Context, content string) (string, error) {
	return Call(ctx, a.group, func(ctx context.Context, p assistant.Provider) (string, error) {
		return p.Reply(ctx, content)
	})
}

// Synthesizer implements [tts.Provider] behind a [FallbackGroup]. Only the
// request is covered; reading the returned body is the caller's business.
type Synthesizer struct {
	group *FallbackGroup[tts.Provider]
}

var _ tts.Provider = (*Synthesizer)(nil)

// NewSynthesizer guards primary with a circuit breaker.
func NewSynthesizer(primary tts.Provider, name string, cfg CircuitBreakerConfig) *Synthesizer {
	return &Synthesizer{group: NewFallbackGroup(primary, name, cfg)}
}

// AddFallback registers another synthesizer tried when the primary fails.
func (s *Synthesizer) AddFallback(name string, p tts.Provider) {
	s.group.AddFallback(name, p)
}

// Synthesize implements [tts.Provider].
func (s *Synthesizer) Synthesize(ctx context.Context, req tts.Request) (*tts.Audio, error) {
	return Call(ctx, s.group, func(ctx context.Context, p tts.Provider) (*tts.Audio, error) {
		return p.Synthesize(ctx, req)
	})
}
