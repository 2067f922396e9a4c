// Package mock provides a test double for the assistant.Provider interface.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/sous/pkg/provider/assistant"
)

// Provider is a mock implementation of assistant.Provider.
type Provider struct {
	mu sync.Mutex

	// ReplyText is returned by Reply.
	ReplyText string

	// Err, if non-nil, is returned by Reply.
	Err error

	// Gate, if non-nil, makes Reply wait for a value (or ctx) before returning.
	Gate chan struct{}

	// Contents records the content of every Reply call.
	Contents []string
}

// Reply implements assistant.Provider.
func (p *Provider) Reply(ctx context.Context, content string) (string, error) {
	p.mu.Lock()
	p.Contents = append(p.Contents, content)
	gate, text, err := p.Gate, p.ReplyText, p.Err
	p.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return text, err
}

// Calls returns a copy of the recorded contents.
func (p *Provider) Calls() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.Contents...)
}

var _ assistant.Provider = (*Provider)(nil)
