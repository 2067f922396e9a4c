// Package mock provides a test double for the tts.Provider interface and a
// helper that renders valid WAV documents for decode paths.
package mock

import (
	"bytes"
	"context"
	"encoding/binary"
	"io"
	"sync"

	"github.com/MrWong99/sous/pkg/provider/tts"
)

// Provider is a mock implementation of tts.Provider.
type Provider struct {
	mu sync.Mutex

	// Body is returned as the audio document. Defaults to WAV(1600).
	Body []byte

	// Encoding is the returned encoding. Defaults to tts.EncodingWAV.
	Encoding tts.Encoding

	// Err, if non-nil, is returned by Synthesize.
	Err error

	// Block makes Synthesize wait for ctx to be cancelled before returning
	// ctx.Err(). Used to exercise cancellation during synthesis.
	Block bool

	// Requests records every request passed to Synthesize.
	Requests []tts.Request

	entered chan struct{}
}

// Entered returns a channel that receives once per Synthesize call.
func (p *Provider) Entered() <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.entered == nil {
		p.entered = make(chan struct{}, 16)
	}
	return p.entered
}

// Synthesize implements tts.Provider.
func (p *Provider) Synthesize(ctx context.Context, req tts.Request) (*tts.Audio, error) {
	p.mu.Lock()
	p.Requests = append(p.Requests, req)
	if p.entered == nil {
		p.entered = make(chan struct{}, 16)
	}
	entered := p.entered
	body, enc, err, block := p.Body, p.Encoding, p.Err, p.Block
	p.mu.Unlock()

	select {
	case entered <- struct{}{}:
	default:
	}

	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if err != nil {
		return nil, err
	}
	if body == nil {
		body = WAV(1600)
	}
	if enc == "" {
		enc = tts.EncodingWAV
	}
	return &tts.Audio{Body: io.NopCloser(bytes.NewReader(body)), Encoding: enc}, nil
}

// CallCount returns the number of Synthesize calls.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Requests)
}

var _ tts.Provider = (*Provider)(nil)

// WAV renders a 16 kHz mono 16-bit PCM WAV document of the given number of
// silent samples.
func WAV(samples int) []byte {
	const (
		sampleRate = 16000
		channels   = 1
		bits       = 16
	)
	dataLen := samples * channels * bits / 8
	var buf bytes.Buffer
	buf.WriteString("RIFF")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(36+dataLen))
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(16))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(1))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(channels))
	_ = binary.Write(&buf, binary.LittleEndian, uint32(sampleRate))
	_ = binary.Write(&buf, binary.LittleEndian, uint32(sampleRate*channels*bits/8))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(channels*bits/8))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(bits))
	buf.WriteString("data")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(dataLen))
	buf.Write(make([]byte, dataLen))
	return buf.Bytes()
}
