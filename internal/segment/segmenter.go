// Package segment turns an open-ended text stream into synthesis-sized
// units. Units end at a sentence terminator, or at a length ceiling when
// the stream produces long runs without punctuation.
package segment

import (
	"strings"
	"unicode"
)

// Terminators that end a sentence. Includes the CJK full stop and the
// Devanagari danda alongside the Latin marks.
const terminators = ".!?。！？।"

// softCutSlack extends the whitespace search window past the ceiling so
// a word straddling the boundary is not broken mid-word.
const softCutSlack = 20

// Segmenter accumulates text fragments and emits complete units. It is
// not safe for concurrent use; each request owns its own instance.
type Segmenter struct {
	buf      strings.Builder
	maxChars int
	minChars int
}

// New returns a segmenter with the given length ceiling and minimum
// forced-emission length. minChars controls the soft-cut policy only: a
// whitespace cut below it is rejected in favor of a hard cut at the
// ceiling. Zero disables the floor.
func New(maxChars, minChars int) *Segmenter {
	if maxChars <= 0 {
		maxChars = 240
	}
	if minChars < 0 {
		minChars = 0
	}
	s := &Segmenter{maxChars: maxChars, minChars: minChars}
	return s
}

// Feed appends a fragment and returns every unit that became complete.
// Empty fragments are no-ops.
func (s *Segmenter) Feed(fragment string) []string {
	if fragment == "" {
		return nil
	}
	s.buf.WriteString(fragment)

	var units []string
	for {
		unit, ok := s.next()
		if !ok {
			break
		}
		if unit != "" {
			units = append(units, unit)
		}
	}
	return units
}

// Flush drains any non-whitespace remainder at end of stream.
func (s *Segmenter) Flush() (string, bool) {
	rest := strings.TrimSpace(s.buf.String())
	s.buf.Reset()
	if rest == "" {
		return "", false
	}
	return rest, true
}

// Pending returns the number of buffered runes not yet emitted.
func (s *Segmenter) Pending() int {
	return len([]rune(s.buf.String()))
}

// next extracts one unit from the buffer, or reports that more text is
// needed. A returned empty unit means the consumed text was pure
// whitespace; the caller skips it and keeps scanning.
func (s *Segmenter) next() (string, bool) {
	runes := []rune(s.buf.String())
	if len(runes) == 0 {
		return "", false
	}

	for i, r := range runes {
		if !strings.ContainsRune(terminators, r) {
			continue
		}
		// A period between two digits is a decimal point, not a
		// sentence boundary.
		if r == '.' && i > 0 && i+1 < len(runes) &&
			unicode.IsDigit(runes[i-1]) && unicode.IsDigit(runes[i+1]) {
			continue
		}
		unit := strings.TrimSpace(string(runes[:i+1]))
		s.reset(strings.TrimSpace(string(runes[i+1:])))
		return unit, true
	}

	if len(runes) <= s.maxChars {
		return "", false
	}

	window := runes
	if len(window) > s.maxChars+softCutSlack {
		window = window[:s.maxChars+softCutSlack]
	}
	cut := lastSpace(window)
	if cut > 0 && cut >= s.minChars {
		unit := strings.TrimSpace(string(runes[:cut]))
		s.reset(strings.TrimSpace(string(runes[cut:])))
		return unit, true
	}

	unit := strings.TrimSpace(string(runes[:s.maxChars]))
	s.reset(string(runes[s.maxChars:]))
	return unit, true
}

func (s *Segmenter) reset(rest string) {
	s.buf.Reset()
	s.buf.WriteString(rest)
}

func lastSpace(runes []rune) int {
	for i := len(runes) - 1; i >= 0; i-- {
		if unicode.IsSpace(runes[i]) {
			return i
		}
	}
	return -1
}

// Speakable reports whether a unit contains anything worth sending to
// the engine. Pure punctuation or whitespace is skipped silently.
func Speakable(unit string) bool {
	for _, r := range unit {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return true
		}
	}
	return false
}
