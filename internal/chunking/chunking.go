// Package chunking splits article text into bounded segments suitable for
// one speech-synthesis request each.
package chunking

import (
	"errors"
	"strings"
	"unicode"
)

// DefaultMaxChars matches the remote speech API's per-request input limit.
const DefaultMaxChars = 4096

var ErrEmptyInput = errors.New("chunking: empty input text")

// Split divides text into ordered segments of at most maxChars characters.
// When a cut lands mid-text it backtracks to the last sentence terminator,
// but only if that terminator sits past maxChars/2 so a clean boundary never
// produces a segment smaller than half the budget. Segments are trimmed and
// never empty; maxChars <= 0 selects DefaultMaxChars.
func Split(text string, maxChars int) ([]string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyInput
	}
	if maxChars <= 0 {
		maxChars = DefaultMaxChars
	}

	var segments []string
	remaining := []rune(text)
	for len(remaining) > 0 {
		cut := maxChars
		if cut > len(remaining) {
			cut = len(remaining)
		}
		if cut == maxChars {
			if b := lastSentenceBoundary(remaining[:cut]); b > maxChars/2 {
				cut = b + 1
			}
		}
		seg := strings.TrimSpace(string(remaining[:cut]))
		if seg != "" {
			segments = append(segments, seg)
		}
		remaining = trimLeading(remaining[cut:])
	}
	return segments, nil
}

// lastSentenceBoundary returns the index of the last '.', '?' or '!' in rs,
// or -1 when none is present.
func lastSentenceBoundary(rs []rune) int {
	for i := len(rs) - 1; i >= 0; i-- {
		switch rs[i] {
		case '.', '?', '!':
			return i
		}
	}
	return -1
}

func trimLeading(rs []rune) []rune {
	for len(rs) > 0 && unicode.IsSpace(rs[0]) {
		rs = rs[1:]
	}
	return rs
}
