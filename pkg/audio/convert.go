package audio

import (
	"fmt"
	"log/slog"
	"sync"
)

// Format describes the sample rate and channel count of a PCM stream.
type Format struct {
	SampleRate int
	Channels   int
}

func (f Format) String() string {
	switch f.Channels {
	case 1:
		return fmt.Sprintf("%dHz mono", f.SampleRate)
	case 2:
		return fmt.Sprintf("%dHz stereo", f.SampleRate)
	default:
		return fmt.Sprintf("%dHz %dch", f.SampleRate, f.Channels)
	}
}

// Converter normalises captured frames to the format an STT session expects.
// It warns once on the first mismatch. Create one per capture; not safe for
// concurrent use.
type Converter struct {
	Target Format

	warnMismatch sync.Once
	warnOdd      sync.Once
}

// Convert returns frame in the target format. Matching frames are returned
// unchanged. Frames with an odd byte count are dropped (nil Data).
func (c *Converter) Convert(frame Frame) Frame {
	if len(frame.Data)%2 != 0 {
		c.warnOdd.Do(func() {
			slog.Warn("audio: odd byte count in captured PCM, dropping frame", "bytes", len(frame.Data))
		})
		return Frame{SampleRate: c.Target.SampleRate, Channels: c.Target.Channels, Timestamp: frame.Timestamp}
	}
	src := Format{SampleRate: frame.SampleRate, Channels: frame.Channels}
	if src == c.Target {
		return frame
	}
	c.warnMismatch.Do(func() {
		slog.Info("audio: converting capture format", "from", src.String(), "to", c.Target.String())
	})

	pcm := frame.Data
	if src.Channels > 1 && c.Target.Channels == 1 {
		pcm = Downmix(pcm, src.Channels)
		src.Channels = 1
	}
	pcm = Resample(pcm, src.Channels, src.SampleRate, c.Target.SampleRate)
	if src.Channels == 1 && c.Target.Channels == 2 {
		pcm = Upmix(pcm)
	}
	return Frame{
		Data:       pcm,
		SampleRate: c.Target.SampleRate,
		Channels:   c.Target.Channels,
		Timestamp:  frame.Timestamp,
	}
}

func sampleAt(pcm []byte, i int) int32 {
	return int32(int16(uint16(pcm[2*i]) | uint16(pcm[2*i+1])<<8))
}

func putSample(pcm []byte, i int, v int32) {
	v = max(-32768, min(32767, v))
	pcm[2*i] = byte(v)
	pcm[2*i+1] = byte(v >> 8)
}

// Downmix averages interleaved int16 PCM with the given channel count to mono.
func Downmix(pcm []byte, channels int) []byte {
	if channels <= 1 {
		return pcm
	}
	frames := len(pcm) / 2 / channels
	out := make([]byte, frames*2)
	for f := range frames {
		var sum int32
		for ch := range channels {
			sum += sampleAt(pcm, f*channels+ch)
		}
		putSample(out, f, sum/int32(channels))
	}
	return out
}

// Upmix duplicates each mono sample into an L+R pair.
func Upmix(pcm []byte) []byte {
	out := make([]byte, len(pcm)*2)
	for i := range len(pcm) / 2 {
		v := sampleAt(pcm, i)
		putSample(out, 2*i, v)
		putSample(out, 2*i+1, v)
	}
	return out
}

// Resample converts interleaved int16 PCM from srcRate to dstRate using
// linear interpolation per channel. Invalid rates leave the input untouched.
func Resample(pcm []byte, channels, srcRate, dstRate int) []byte {
	if srcRate <= 0 || dstRate <= 0 || channels <= 0 || srcRate == dstRate {
		return pcm
	}
	srcFrames := len(pcm) / 2 / channels
	if srcFrames == 0 {
		return pcm
	}
	dstFrames := int(int64(srcFrames) * int64(dstRate) / int64(srcRate))
	out := make([]byte, dstFrames*2*channels)
	ratio := float64(srcRate) / float64(dstRate)
	for i := range dstFrames {
		pos := float64(i) * ratio
		idx := int(pos)
		frac := pos - float64(idx)
		next := min(idx+1, srcFrames-1)
		for ch := range channels {
			a := float64(sampleAt(pcm, idx*channels+ch))
			b := float64(sampleAt(pcm, next*channels+ch))
			putSample(out, i*channels+ch, int32(a+(b-a)*frac))
		}
	}
	return out
}
