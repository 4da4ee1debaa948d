package transcript

import (
	"strings"
	"sync"
	"time"
)

// DefaultDedupWindow is how close two identical utterances may be before the
// later one is treated as the same utterance reported by another source.
const DefaultDedupWindow = time.Second

// Buffer accumulates accepted entries in arrival order. It never reorders or
// removes entries; the only mutation is a guarded append.
type Buffer struct {
	window time.Duration

	mu      sync.Mutex
	entries []Entry
}

// NewBuffer creates an empty buffer. A non-positive window falls back to
// DefaultDedupWindow.
func NewBuffer(window time.Duration) *Buffer {
	if window <= 0 {
		window = DefaultDedupWindow
	}
	return &Buffer{window: window}
}

// Append adds e unless an entry with identical trimmed text already sits
// within the dedup window, and reports whether e was accepted. The duplicate
// check and the append happen under one lock.
func (b *Buffer) Append(e Entry) bool {
	e.Text = strings.TrimSpace(e.Text)
	if e.Text == "" {
		return false
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.isDuplicate(e) {
		return false
	}
	b.entries = append(b.entries, e)
	return true
}

func (b *Buffer) isDuplicate(e Entry) bool {
	for _, existing := range b.entries {
		if existing.Text != e.Text {
			continue
		}
		diff := existing.Timestamp - e.Timestamp
		if diff < 0 {
			diff = -diff
		}
		if time.Duration(diff)*time.Millisecond < b.window {
			return true
		}
	}
	return false
}

// Entries returns a copy of the accepted entries. Returns nil if the buffer
// is empty.
func (b *Buffer) Entries() []Entry {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.entries) == 0 {
		return nil
	}
	out := make([]Entry, len(b.entries))
	copy(out, b.entries)
	return out
}

// Len returns the number of accepted entries.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}
