// Package audio defines the capture and playback abstractions used by sous.
//
// The two primary abstractions are:
//
//   - [Source] opens the microphone and yields a [Capture], a stream of raw
//     16-bit little-endian PCM [Frame] values.
//   - [Sink] plays a decoded beep.Streamer on the output device and blocks until
//     playback ends or is cancelled.
//
// Implementations live next to the interfaces (exec-based capture) or in
// sub-packages (audio/speaker). The mock sub-package provides test doubles.
package audio

import (
	"errors"
	"time"
)

// ErrCaptureUnavailable is returned when the audio input cannot be opened:
// missing permission, missing device, or a capture command that fails to start.
var ErrCaptureUnavailable = errors.New("audio: capture unavailable")

// Frame is a single chunk of captured PCM audio.
type Frame struct {
	// Data is little-endian int16 PCM.
	Data []byte

	// SampleRate in Hz (e.g., 16000 for STT, 48000 for most USB microphones).
	SampleRate int

	// Channels: 1 for mono, 2 for stereo.
	Channels int

	// Timestamp marks when this frame was captured, relative to capture start.
	Timestamp time.Duration
}

// Duration returns the play length of the frame.
func (f Frame) Duration() time.Duration {
	if f.SampleRate <= 0 || f.Channels <= 0 {
		return 0
	}
	samples := len(f.Data) / 2 / f.Channels
	return time.Duration(samples) * time.Second / time.Duration(f.SampleRate)
}
