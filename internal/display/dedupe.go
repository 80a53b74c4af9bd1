// Package display reconstructs a coherent sequence of conversational turns
// from the raw, possibly-fragmented message log. The backend may split one
// logical assistant turn into several physical records and may re-deliver
// the same content chunk twice; everything here is a pure projection over
// the log, recomputed from scratch on every call.
package display

import "strings"

// Combine merges an already-accumulated fragment a with the next fragment b
// without repeating content that appears in both. Trimmed copies are used
// for comparison only; the returned value is built from the originals.
// Unrelated fragments concatenate with no separator — fragments are expected
// to carry their own whitespace.
func Combine(a, b string) string {
	ta := strings.TrimSpace(a)
	tb := strings.TrimSpace(b)

	if tb == "" {
		return a
	}
	if ta == "" {
		return b
	}
	if ta == tb {
		return a
	}
	// New fragment already fully contained at the end of the accumulated text.
	if strings.HasSuffix(ta, tb) {
		return a
	}
	// New fragment is a continuation that already contains everything so far.
	if strings.HasPrefix(tb, ta) {
		return b
	}
	if strings.Contains(ta, tb) {
		return a
	}
	return a + b
}

// CollapseDoubled repairs a message body that was doubled end-to-end in a
// single string: if splitting s in half (by rune count, floor division)
// yields two trimmed-equal halves, only the first half is returned.
// This is a distinct bug class from the pairwise duplication Combine
// handles, where the duplicate arrives as a second record.
func CollapseDoubled(s string) string {
	runes := []rune(s)
	half := len(runes) / 2
	if half == 0 {
		return s
	}
	first := string(runes[:half])
	second := string(runes[half:])
	if strings.TrimSpace(first) == strings.TrimSpace(second) {
		return first
	}
	return s
}
