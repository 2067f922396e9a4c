// Package mock provides in-memory implementations of [audio.Source] and
// [audio.Sink] for use in unit tests.
//
// All mocks are safe for concurrent use. They record every call so that tests
// can assert on call counts, and they expose exported fields that control
// return values.
//
// Typical usage:
//
//	src := &mock.Source{}
//	sink := mock.NewSink(true) // hold every Play until Finish
//	...
//	<-sink.Started()
//	sink.Finish()
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/sous/pkg/audio"
	"github.com/gopxl/beep"
)

// ─── Source ───────────────────────────────────────────────────────────────────

// Source is a mock implementation of [audio.Source].
type Source struct {
	mu sync.Mutex

	// OpenErr, if non-nil, is returned by Open.
	OpenErr error

	// OpenCount is the number of successful and failed Open calls.
	OpenCount int

	captures []*Capture
}

// Open implements [audio.Source]. Each call returns a fresh *Capture.
func (s *Source) Open(_ context.Context) (audio.Capture, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.OpenCount++
	if s.OpenErr != nil {
		return nil, s.OpenErr
	}
	c := &Capture{FramesCh: make(chan audio.Frame, 64)}
	s.captures = append(s.captures, c)
	return c, nil
}

// Last returns the most recently opened capture, or nil.
func (s *Source) Last() *Capture {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.captures) == 0 {
		return nil
	}
	return s.captures[len(s.captures)-1]
}

var _ audio.Source = (*Source)(nil)

// Capture is a mock implementation of [audio.Capture]. Tests push frames with
// Push; Close closes the frame channel once.
type Capture struct {
	mu       sync.Mutex
	FramesCh chan audio.Frame
	closed   bool

	// CloseCount is the number of Close calls.
	CloseCount int
}

// Frames implements [audio.Capture].
func (c *Capture) Frames() <-chan audio.Frame { return c.FramesCh }

// Push delivers f unless the capture is closed.
func (c *Capture) Push(f audio.Frame) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.FramesCh <- f
	}
}

// Close implements [audio.Capture].
func (c *Capture) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.CloseCount++
	if !c.closed {
		c.closed = true
		close(c.FramesCh)
	}
	return nil
}

// Closed reports whether Close was called.
func (c *Capture) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// ─── Sink ─────────────────────────────────────────────────────────────────────

// PlayCall records one call to Sink.Play.
type PlayCall struct {
	Format beep.Format
	// Samples is the number of samples drained from the streamer.
	Samples int
	// Cancelled is true when Play returned because ctx was cancelled.
	Cancelled bool
}

// Sink is a mock implementation of [audio.Sink]. Every Play drains the
// streamer into memory. When Hold is set, Play then blocks until Finish is
// called or its context is cancelled.
type Sink struct {
	mu sync.Mutex

	// Hold makes Play block after draining until Finish or cancellation.
	Hold bool

	// PlayErr, if non-nil, is returned by Play after draining.
	PlayErr error

	calls   []PlayCall
	finish  chan struct{}
	started chan struct{}
}

// NewSink returns a Sink. hold sets [Sink.Hold].
func NewSink(hold bool) *Sink {
	return &Sink{
		Hold:    hold,
		finish:  make(chan struct{}, 16),
		started: make(chan struct{}, 16),
	}
}

// Play implements [audio.Sink].
func (s *Sink) Play(ctx context.Context, st beep.Streamer, format beep.Format) error {
	n := drain(st)
	s.mu.Lock()
	idx := len(s.calls)
	s.calls = append(s.calls, PlayCall{Format: format, Samples: n})
	hold, playErr := s.Hold, s.PlayErr
	s.mu.Unlock()

	select {
	case s.started <- struct{}{}:
	default:
	}

	if playErr != nil {
		return playErr
	}
	if !hold {
		return ctx.Err()
	}
	select {
	case <-s.finish:
		return nil
	case <-ctx.Done():
		s.mu.Lock()
		s.calls[idx].Cancelled = true
		s.mu.Unlock()
		return ctx.Err()
	}
}

// Started returns a channel that receives once per Play call.
func (s *Sink) Started() <-chan struct{} { return s.started }

// Finish releases one held Play.
func (s *Sink) Finish() { s.finish <- struct{}{} }

// Calls returns a copy of the recorded Play calls.
func (s *Sink) Calls() []PlayCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]PlayCall, len(s.calls))
	copy(out, s.calls)
	return out
}

func drain(st beep.Streamer) int {
	buf := make([][2]float64, 512)
	total := 0
	for {
		n, ok := st.Stream(buf)
		total += n
		if !ok {
			return total
		}
	}
}

var _ audio.Sink = (*Sink)(nil)
