// ABOUTME: Streaming accumulator that converts cumulative text snapshots into deltas
// ABOUTME: Used for providers whose stream events carry the full text so far

package provider

import "strings"

// Accumulator turns a sequence of cumulative text snapshots into true
// incremental deltas. Providers like OpenCode and Codex re-send the
// entire message text on every update; feeding those snapshots through
// Delta yields only the newly appended suffix.
//
// A snapshot that does not extend the previous one (the runtime
// restarted the message) is returned whole and becomes the new
// baseline.
type Accumulator struct {
	prev string
}

// Delta returns the new text introduced by snapshot relative to the
// previous call. Empty or unchanged snapshots yield "".
func (a *Accumulator) Delta(snapshot string) string {
	if snapshot == "" || snapshot == a.prev {
		return ""
	}

	if strings.HasPrefix(snapshot, a.prev) {
		delta := snapshot[len(a.prev):]
		a.prev = snapshot
		return delta
	}

	// Non-extending snapshot: emit it whole and rebase.
	a.prev = snapshot
	return snapshot
}

// Reset clears the baseline so the next snapshot is emitted whole.
func (a *Accumulator) Reset() {
	a.prev = ""
}
