package conversation

import (
	"sync"
	"time"
)

// Role identifies who produced a history entry.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Entry is one exchange half recorded in a [History].
type Entry struct {
	Role Role   `json:"role"`
	Text string `json:"text"`

	// TurnID links a reply to the user turn that prompted it.
	TurnID string `json:"turn_id"`

	Timestamp time.Time `json:"timestamp"`
}

// History keeps the recent exchanges of the running process. It enforces
// both a maximum entry count and a maximum age; entries exceeding either are
// evicted on every [History.Add].
//
// All methods are safe for concurrent use.
type History struct {
	mu      sync.RWMutex
	entries []Entry
	maxSize int
	maxAge  time.Duration
	now     func() time.Time
}

// NewHistory creates a history that retains at most maxSize entries no older
// than maxAge. A zero maxAge disables age eviction.
func NewHistory(maxSize int, maxAge time.Duration) *History {
	if maxSize <= 0 {
		maxSize = 1
	}
	return &History{
		entries: make([]Entry, 0, maxSize),
		maxSize: maxSize,
		maxAge:  maxAge,
		now:     time.Now,
	}
}

// Add appends e, stamping it with the current time when Timestamp is zero.
func (h *History) Add(e Entry) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if e.Timestamp.IsZero() {
		e.Timestamp = h.now()
	}
	h.entries = append(h.entries, e)
	h.evict()
}

// Recent returns up to n unexpired entries, oldest first. n <= 0 returns all
// of them.
func (h *History) Recent(n int) []Entry {
	h.mu.RLock()
	defer h.mu.RUnlock()

	cutoff := h.cutoff()
	out := make([]Entry, 0, len(h.entries))
	for i := len(h.entries) - 1; i >= 0; i-- {
		if n > 0 && len(out) == n {
			break
		}
		if h.entries[i].Timestamp.Before(cutoff) {
			continue
		}
		out = append(out, h.entries[i])
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

// Len returns the number of retained entries.
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.entries)
}

func (h *History) cutoff() time.Time {
	if h.maxAge <= 0 {
		return time.Time{}
	}
	return h.now().Add(-h.maxAge)
}

// evict drops entries that are too old or beyond maxSize. Survivors move to
// a fresh backing array so evicted text can be collected. Must be called
// with h.mu held.
func (h *History) evict() {
	cutoff := h.cutoff()
	start := 0
	for start < len(h.entries) && h.entries[start].Timestamp.Before(cutoff) {
		start++
	}
	keep := h.entries[start:]
	if len(keep) > h.maxSize {
		keep = keep[len(keep)-h.maxSize:]
	}
	if len(keep) < len(h.entries) {
		fresh := make([]Entry, len(keep), h.maxSize)
		copy(fresh, keep)
		h.entries = fresh
	}
}
