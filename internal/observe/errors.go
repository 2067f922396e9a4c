package observe

import (
	"context"
	"errors"

	"github.com/MrWong99/sous/internal/resilience"
	"github.com/MrWong99/sous/pkg/audio"
	"github.com/MrWong99/sous/pkg/provider"
)

// ErrorKind maps err onto a small, bounded set of label values for metrics
// and logs.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, context.Canceled):
		return "cancelled"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, audio.ErrCaptureUnavailable):
		return "capture"
	case errors.Is(err, provider.ErrCredentialUnavailable):
		return "credential"
	case errors.Is(err, resilience.ErrCircuitOpen):
		return "circuit_open"
	case errors.Is(err, provider.ErrNetwork):
		return "network"
	case errors.Is(err, provider.ErrDecode):
		return "decode"
	default:
		return "other"
	}
}
