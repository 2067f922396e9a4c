// Package speaker implements audio.Sink on the system output device using
// the gopxl/beep speaker package.
package speaker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/MrWong99/sous/pkg/audio"
	"github.com/gopxl/beep"
	"github.com/gopxl/beep/speaker"
)

const (
	defaultSampleRate = beep.SampleRate(44100)
	defaultBuffer     = 100 * time.Millisecond
	resampleQuality   = 4
)

// Option configures a Sink.
type Option func(*Sink)

// WithSampleRate sets the device sample rate.
func WithSampleRate(sr int) Option {
	return func(s *Sink) {
		s.rate = beep.SampleRate(sr)
	}
}

// WithBuffer sets the device buffer length. Shorter buffers stop faster on
// cancel at the cost of underrun risk.
func WithBuffer(d time.Duration) Option {
	return func(s *Sink) {
		s.buffer = d
	}
}

// Sink plays streams on the default output device. The device is opened on
// first use and stays open for the life of the process.
type Sink struct {
	rate   beep.SampleRate
	buffer time.Duration

	initOnce sync.Once
	initErr  error

	// playMu serialises Play; the device mixes concurrent streams otherwise.
	playMu sync.Mutex
}

var _ audio.Sink = (*Sink)(nil)

// New returns a Sink. The device is not touched until the first Play.
func New(opts ...Option) *Sink {
	s := &Sink{rate: defaultSampleRate, buffer: defaultBuffer}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Sink) init() error {
	s.initOnce.Do(func() {
		if err := speaker.Init(s.rate, s.rate.N(s.buffer)); err != nil {
			s.initErr = fmt.Errorf("speaker: init output device: %w", err)
		}
	})
	return s.initErr
}

// Play implements audio.Sink.
func (s *Sink) Play(ctx context.Context, st beep.Streamer, format beep.Format) error {
	if err := s.init(); err != nil {
		return err
	}
	s.playMu.Lock()
	defer s.playMu.Unlock()

	if format.SampleRate != s.rate {
		st = beep.Resample(resampleQuality, format.SampleRate, s.rate, st)
	}
	finished := make(chan struct{})
	ctrl := &beep.Ctrl{Streamer: beep.Seq(st, beep.Callback(func() { close(finished) }))}
	speaker.Play(ctrl)

	select {
	case <-finished:
		if err := st.Err(); err != nil {
			return fmt.Errorf("speaker: stream: %w", err)
		}
		return nil
	case <-ctx.Done():
		speaker.Lock()
		ctrl.Streamer = nil
		speaker.Unlock()
		return ctx.Err()
	}
}
