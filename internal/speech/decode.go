package speech

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/MrWong99/sous/pkg/provider"
	"github.com/MrWong99/sous/pkg/provider/tts"
	"github.com/gopxl/beep"
	"github.com/gopxl/beep/mp3"
	"github.com/gopxl/beep/wav"
)

// Decode turns an encoded audio document into a playable stream. The
// returned stream owns a.Body. Failures wrap [provider.ErrDecode] and close
// the body.
func Decode(a *tts.Audio) (beep.StreamSeekCloser, beep.Format, error) {
	if a == nil || a.Body == nil {
		return nil, beep.Format{}, fmt.Errorf("speech: decode: no audio: %w", provider.ErrDecode)
	}
	var (
		st     beep.StreamSeekCloser
		format beep.Format
		err    error
	)
	switch a.Encoding {
	case tts.EncodingMP3:
		st, format, err = mp3.Decode(a.Body)
	case tts.EncodingWAV:
		st, format, err = wav.Decode(a.Body)
	default:
		_ = a.Body.Close()
		return nil, beep.Format{}, fmt.Errorf("speech: decode: unsupported encoding %q: %w", a.Encoding, provider.ErrDecode)
	}
	if err != nil {
		_ = a.Body.Close()
		return nil, beep.Format{}, fmt.Errorf("speech: decode %s: %w: %w", a.Encoding, provider.ErrDecode, err)
	}
	return st, format, nil
}

// openCue opens a bundled mp3 or wav file, choosing the decoder by extension.
func openCue(path string) (*tts.Audio, error) {
	var enc tts.Encoding
	switch strings.ToLower(filepath.Ext(path)) {
	case ".mp3":
		enc = tts.EncodingMP3
	case ".wav":
		enc = tts.EncodingWAV
	default:
		return nil, fmt.Errorf("speech: cue %q: unsupported file type: %w", path, provider.ErrDecode)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("speech: open cue: %w", err)
	}
	return &tts.Audio{Body: f, Encoding: enc}, nil
}
