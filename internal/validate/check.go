package validate

import (
	"fmt"

	"github.com/MrWong99/lybrarian/internal/strictness"
	"github.com/MrWong99/lybrarian/pkg/prosody"
)

// Penalty weights for ranking candidates that never pass.
const (
	lineCountWeight = 10
	rhymeWeight     = 5
)

// Report is the outcome of checking one candidate.
type Report struct {
	OK       bool
	Problems []string

	// Penalty grows with the distance from the constraints. Only enforced
	// dimensions contribute.
	Penalty float64
}

// Check compares the analysed candidate lines against the input under s.
//
// Rhythm is enforced only when strict: the line counts and every line's
// syllable count must match. Rhyme strict requires the final lines to share a
// US or GB rhyme token, rhyme loose applies the suffix rule over units. Rhyme
// is not checked when the input's final line has no rhyme token.
func Check(input, candidate []prosody.Line, s strictness.Settings, units int) Report {
	r := Report{OK: true}

	if s.Rhythm == strictness.Strict {
		if len(candidate) != len(input) {
			r.fail(fmt.Sprintf("has %d lines, want %d", len(candidate), len(input)))
			r.Penalty += float64(abs(len(candidate)-len(input)) * lineCountWeight)
		}
		for i := range min(len(candidate), len(input)) {
			got, want := candidate[i].Syllables, input[i].Syllables
			if got != want {
				r.fail(fmt.Sprintf("line %d has %d syllables, want %d", i+1, got, want))
				r.Penalty += float64(abs(got - want))
			}
		}
	}

	if s.Rhyme == strictness.Off || len(input) == 0 {
		return r
	}
	want := input[len(input)-1]
	if want.Rhyme == "" {
		return r
	}
	if len(candidate) == 0 {
		r.fail("has no final line to rhyme")
		r.Penalty += rhymeWeight
		return r
	}
	got := candidate[len(candidate)-1]

	var match bool
	switch s.Rhyme {
	case strictness.Strict:
		match = anyPair(got, want, prosody.RhymesExactly)
	case strictness.Loose:
		// Enforced too: loose relaxes the match, not the check.
		match = anyPair(got, want, func(a, b string) bool { return prosody.RhymesLoosely(a, b, units) })
	case strictness.Off:
		match = true
	}
	if !match {
		r.fail(fmt.Sprintf("final line ends on %q, want a rhyme for %q", got.Rhyme, want.Rhyme))
	}
	sim := 0.0
	for _, a := range tokens(got) {
		for _, b := range tokens(want) {
			sim = max(sim, prosody.Similarity(a, b))
		}
	}
	r.Penalty += (1 - sim) * rhymeWeight
	return r
}

// Better reports whether a should be kept over b: passing beats failing, then
// the lower penalty wins.
func Better(a, b Report) bool {
	if a.OK != b.OK {
		return a.OK
	}
	return a.Penalty < b.Penalty
}

func (r *Report) fail(problem string) {
	r.OK = false
	r.Problems = append(r.Problems, problem)
}

func anyPair(a, b prosody.Line, match func(x, y string) bool) bool {
	for _, x := range tokens(a) {
		for _, y := range tokens(b) {
			if match(x, y) {
				return true
			}
		}
	}
	return false
}

func tokens(l prosody.Line) []string {
	if l.RhymeGB == "" || l.RhymeGB == l.Rhyme {
		return []string{l.Rhyme}
	}
	return []string{l.Rhyme, l.RhymeGB}
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
