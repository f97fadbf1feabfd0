package transcribe

import "strings"

// DefaultMaxRepeats is how many consecutive identical segments are kept
// before the repeat filter starts dropping them.
const DefaultMaxRepeats = 4

// RepeatFilter suppresses runaway repeated engine output ("Yeah. Yeah. ...").
// It must be shared across all chunks of a single run so a hallucinated
// phrase spanning a chunk boundary is still caught. Not safe for concurrent
// use; each run owns its own filter.
type RepeatFilter struct {
	maxConsecutive int
	lastNorm       string
	seen           bool
	count          int
}

// NewRepeatFilter creates a filter keeping at most maxConsecutive identical
// segments in a row. Values below one fall back to the default threshold.
func NewRepeatFilter(maxConsecutive int) *RepeatFilter {
	if maxConsecutive < 1 {
		maxConsecutive = DefaultMaxRepeats
	}
	return &RepeatFilter{maxConsecutive: maxConsecutive}
}

// Keep reports whether the segment text should be emitted. Equal normalized
// text extends the current run; different text starts a new one.
func (f *RepeatFilter) Keep(text string) bool {
	norm := normalizeSegmentText(text)
	if f.seen && norm == f.lastNorm {
		f.count++
	} else {
		f.lastNorm = norm
		f.seen = true
		f.count = 1
	}
	return f.count <= f.maxConsecutive
}

// normalizeSegmentText lowercases and strips trailing punctuation so casing
// and punctuation variants of the same phrase compare equal.
func normalizeSegmentText(text string) string {
	norm := strings.ToLower(strings.TrimSpace(text))
	return strings.TrimRight(norm, ".,!?…;: ")
}
