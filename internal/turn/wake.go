package turn

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/MrWong99/sous/pkg/provider/stt"
	"github.com/antzucaro/matchr"
)

// phoneticThreshold is the minimum Jaro-Winkler similarity a phonetic wake
// candidate must reach. Code overlap alone is too loose for short words.
const phoneticThreshold = 0.7

// wakeMatcher locates the wake phrase in a transcript event and reports the
// byte offset where the turn's content starts.
type wakeMatcher struct {
	phrase   string // lower-cased
	tokens   []string
	phonetic bool
	codes    map[string]struct{}
}

func newWakeMatcher(phrase string, phonetic bool) *wakeMatcher {
	phrase = normalize(phrase)
	m := &wakeMatcher{
		phrase:   phrase,
		tokens:   strings.Fields(phrase),
		phonetic: phonetic,
	}
	if phonetic {
		m.codes = metaphoneCodes(m.tokens)
	}
	return m
}

// match returns the capture start offset for ev, or -1 when the wake phrase
// is absent. The offset is the end of the last segment containing the last
// occurrence of the phrase, so the phrase and everything before it are
// excluded from the turn.
func (m *wakeMatcher) match(ev stt.TranscriptEvent) int {
	if m.phrase == "" {
		return -1
	}
	lower, offsets := lowerWithOffsets(ev.Text)
	if idx := strings.LastIndex(lower, m.phrase); idx >= 0 {
		end := offsets[idx+len(m.phrase)]
		for i := len(ev.Segments) - 1; i >= 0; i-- {
			seg := ev.Segments[i]
			if seg.Offset < end && seg.End() >= end {
				return runeFloor(ev.Text, min(seg.End(), len(ev.Text)))
			}
		}
		return end
	}
	if m.phonetic {
		return m.matchPhonetic(ev.Segments)
	}
	return -1
}

// lowerWithOffsets lower-cases s rune by rune. offsets[i] is the byte offset
// in s of the rune that produced byte i of the result; offsets[len(result)]
// is len(s). Lower-casing may change a rune's encoded length, e.g. "İ".
func lowerWithOffsets(s string) (string, []int) {
	var b strings.Builder
	b.Grow(len(s))
	offsets := make([]int, 0, len(s)+1)
	for i, r := range s {
		n, _ := b.WriteRune(unicode.ToLower(r))
		for range n {
			offsets = append(offsets, i)
		}
	}
	return b.String(), append(offsets, len(s))
}

// runeFloor moves offset back to the start of the rune containing it.
func runeFloor(s string, offset int) int {
	for offset > 0 && offset < len(s) && !utf8.RuneStart(s[offset]) {
		offset--
	}
	return offset
}

// matchPhonetic scans windows of segments as wide as the wake phrase, last
// first, for one that sounds like it.
func (m *wakeMatcher) matchPhonetic(segs []stt.Segment) int {
	n := len(m.tokens)
	if n == 0 || len(segs) < n {
		return -1
	}
	for i := len(segs) - n; i >= 0; i-- {
		window := make([]string, n)
		for j := range n {
			window[j] = strings.ToLower(strings.Trim(segs[i+j].Text, ".,!?;:\"'"))
		}
		if !overlaps(metaphoneCodes(window), m.codes) {
			continue
		}
		if matchr.JaroWinkler(strings.Join(window, " "), m.phrase, false) >= phoneticThreshold {
			return segs[i+n-1].End()
		}
	}
	return -1
}

func metaphoneCodes(tokens []string) map[string]struct{} {
	codes := make(map[string]struct{}, len(tokens)*2)
	for _, t := range tokens {
		p, s := matchr.DoubleMetaphone(t)
		if p != "" {
			codes[p] = struct{}{}
		}
		if s != "" {
			codes[s] = struct{}{}
		}
	}
	return codes
}

func overlaps(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for c := range a {
		if _, ok := b[c]; ok {
			return true
		}
	}
	return false
}
