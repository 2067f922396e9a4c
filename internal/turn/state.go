package turn

import (
	"strings"
	"time"
)

// State is the detector's per-turn bookkeeping. There is exactly one per
// [Detector]; it is reset when a wake phrase opens a new turn and again when
// the turn is finalized.
type State struct {
	// KeyPhraseDetected is true between a wake phrase and the finalize that
	// closes its turn.
	KeyPhraseDetected bool

	// CaptureStartOffset is the byte offset into the running hypothesis where
	// the turn's content begins. Fixed at wake detection.
	CaptureStartOffset int

	// AccumulatedTranscript is the hypothesis from CaptureStartOffset on.
	// Non-empty only while KeyPhraseDetected.
	AccumulatedTranscript string

	// LastActivity is when the last accepted event arrived.
	LastActivity time.Time

	// DetectedAt is when the wake phrase was recognised.
	DetectedAt time.Time
}

// FinalizedTurn is one completed user utterance.
type FinalizedTurn struct {
	// ID correlates the turn across logs, spans and history.
	ID string

	// Transcript is the normalised utterance with the wake phrase and
	// everything before it removed. May be empty.
	Transcript string

	FinalizedAt time.Time
}

// normalize lower-cases s, trims it, and collapses internal whitespace.
func normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
