package audio

import (
	"context"

	"github.com/gopxl/beep"
)

// Sink plays decoded audio on an output device.
type Sink interface {
	// Play streams s to the device and blocks until the stream is exhausted or
	// ctx is cancelled. Cancellation stops output immediately and returns
	// ctx.Err(). A Sink plays one stream at a time.
	Play(ctx context.Context, s beep.Streamer, format beep.Format) error
}
