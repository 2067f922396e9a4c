package stt

import (
	"strings"
	"time"
	"unicode"
)

// Transcript is a single speech-to-text result from an STT provider.
// Both partial (interim) and final transcripts use this type.
type Transcript struct {
	// Text is the transcribed speech content.
	Text string

	// IsFinal indicates whether the provider committed to this result.
	IsFinal bool

	// Confidence is the overall confidence score (0.0–1.0). May be zero.
	Confidence float64

	// Words contains per-word detail when the provider reports it.
	Words []WordDetail
}

// WordDetail holds per-word metadata from STT providers that support it.
type WordDetail struct {
	Word       string
	Start      time.Duration
	End        time.Duration
	Confidence float64
}

// KeywordBoost represents a keyword to boost in STT recognition.
type KeywordBoost struct {
	// Keyword is the text to boost (e.g., "chef").
	Keyword string

	// Boost is the intensity of the boost (provider-specific scale).
	Boost float64
}

// Segment is a byte range of a TranscriptEvent's Text holding one recognised
// token.
type Segment struct {
	Text   string
	Offset int
	Length int
}

// End returns the byte offset just past the segment.
func (s Segment) End() int { return s.Offset + s.Length }

// TranscriptEvent is the full running hypothesis for the utterance being
// spoken. Every event supersedes the previous one: consumers must never
// concatenate events.
type TranscriptEvent struct {
	// Text is the entire hypothesis so far.
	Text string

	// IsFinal is true when every part of Text has been committed by the
	// provider. Informational only.
	IsFinal bool

	// Segments lists the tokens of Text in order.
	Segments []Segment
}

// NewEvent builds a TranscriptEvent whose segments are the whitespace-separated
// tokens of text.
func NewEvent(text string, final bool) TranscriptEvent {
	ev := TranscriptEvent{Text: text, IsFinal: final}
	start := -1
	for i, r := range text {
		if unicode.IsSpace(r) {
			if start >= 0 {
				ev.Segments = append(ev.Segments, Segment{Text: text[start:i], Offset: start, Length: i - start})
				start = -1
			}
			continue
		}
		if start < 0 {
			start = i
		}
	}
	if start >= 0 {
		ev.Segments = append(ev.Segments, Segment{Text: text[start:], Offset: start, Length: len(text) - start})
	}
	return ev
}

// JoinHypothesis joins committed text and the current partial into one
// hypothesis string, skipping empty parts.
func JoinHypothesis(parts ...string) string {
	kept := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, " ")
}
