package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"sync"
	"time"

	"github.com/mattn/go-shellwords"
)

// Capture is an open microphone stream.
type Capture interface {
	// Frames returns the channel of captured frames. It is closed when the
	// capture ends, either through Close or because the device went away.
	Frames() <-chan Frame

	// Close stops capturing and releases the device. Safe to call more than once.
	Close() error
}

// Source opens captures. Every call to Open yields an independent Capture.
type Source interface {
	Open(ctx context.Context) (Capture, error)
}

// DefaultCaptureCommand records 16 kHz mono 16-bit PCM to stdout through ALSA.
const DefaultCaptureCommand = "arecord -q -t raw -f S16_LE -r 16000 -c 1"

// ExecSource captures audio by running an external command that writes raw
// PCM to stdout, for example arecord, parec, or sox.
type ExecSource struct {
	args       []string
	sampleRate int
	channels   int
	frameSize  int
}

var _ Source = (*ExecSource)(nil)

// ExecOption configures an ExecSource.
type ExecOption func(*ExecSource)

// WithFormat declares the sample rate and channel count the command produces.
func WithFormat(sampleRate, channels int) ExecOption {
	return func(s *ExecSource) {
		s.sampleRate = sampleRate
		s.channels = channels
	}
}

// WithFrameBytes sets the number of bytes read per frame.
func WithFrameBytes(n int) ExecOption {
	return func(s *ExecSource) {
		s.frameSize = n
	}
}

// NewExecSource parses command with shell quoting rules. An empty command
// selects [DefaultCaptureCommand].
func NewExecSource(command string, opts ...ExecOption) (*ExecSource, error) {
	if command == "" {
		command = DefaultCaptureCommand
	}
	args, err := shellwords.NewParser().Parse(command)
	if err != nil {
		return nil, fmt.Errorf("audio: parse capture command: %w", err)
	}
	if len(args) == 0 {
		return nil, errors.New("audio: capture command is empty")
	}
	s := &ExecSource{
		args:       args,
		sampleRate: 16000,
		channels:   1,
	}
	for _, o := range opts {
		o(s)
	}
	if s.frameSize <= 0 {
		// 20 ms per frame.
		s.frameSize = s.sampleRate / 50 * s.channels * 2
	}
	return s, nil
}

// Open starts the capture command. Failure to start the command is reported
// as [ErrCaptureUnavailable].
func (s *ExecSource) Open(ctx context.Context) (Capture, error) {
	ctx, cancel := context.WithCancel(ctx)
	cmd := exec.CommandContext(ctx, s.args[0], s.args[1:]...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("%w: %w", ErrCaptureUnavailable, err)
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("%w: start %s: %w", ErrCaptureUnavailable, s.args[0], err)
	}

	c := &execCapture{
		cmd:    cmd,
		cancel: cancel,
		frames: make(chan Frame, 32),
		done:   make(chan struct{}),
	}
	go c.pump(stdout, s.frameSize, s.sampleRate, s.channels)
	return c, nil
}

type execCapture struct {
	cmd    *exec.Cmd
	cancel context.CancelFunc
	frames chan Frame
	done   chan struct{}
	once   sync.Once
	err    error
}

func (c *execCapture) Frames() <-chan Frame { return c.frames }

func (c *execCapture) Close() error {
	c.once.Do(func() {
		close(c.done)
		c.cancel()
		// Wait returns the kill error; a cancelled capture is a clean stop.
		if err := c.cmd.Wait(); err != nil && !errors.Is(err, context.Canceled) {
			var exitErr *exec.ExitError
			if !errors.As(err, &exitErr) {
				c.err = fmt.Errorf("audio: capture wait: %w", err)
			}
		}
	})
	return c.err
}

func (c *execCapture) pump(r io.Reader, frameSize, sampleRate, channels int) {
	defer close(c.frames)
	var ts time.Duration
	for {
		buf := make([]byte, frameSize)
		n, err := io.ReadFull(r, buf)
		if n -= n % 2; n > 0 {
			f := Frame{Data: buf[:n], SampleRate: sampleRate, Channels: channels, Timestamp: ts}
			ts += f.Duration()
			select {
			case c.frames <- f:
			case <-c.done:
				return
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
				slog.Debug("audio: capture read ended", "err", err)
			}
			return
		}
	}
}
