package stream

import "strings"

// DeltaTracker turns a possibly-cumulative text stream into incremental
// deltas. Upstreams alternate between cumulative snapshots ("Hello",
// "Hello world") and plain increments; the tracker handles both: a text
// that extends what was already seen yields only the suffix, anything
// else is treated as a fresh increment.
type DeltaTracker struct {
	seen string
}

// Next records text and returns the incremental delta to emit. An empty
// return means nothing new arrived.
func (t *DeltaTracker) Next(text string) string {
	if text == "" || text == t.seen {
		return ""
	}
	if strings.HasPrefix(text, t.seen) {
		delta := text[len(t.seen):]
		t.seen = text
		return delta
	}
	t.seen += text
	return text
}

// Total returns the full text observed so far.
func (t *DeltaTracker) Total() string {
	return t.seen
}

// Reset clears the tracker.
func (t *DeltaTracker) Reset() {
	t.seen = ""
}
