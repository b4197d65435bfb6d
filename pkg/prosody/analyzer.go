// Package prosody estimates the rhythmic and sound structure of verse lines:
// syllable count, binary stress pattern and a rhyme token describing how the
// line ends.
//
// Analysis is a best-effort approximation. Each word is resolved through an
// ordered chain of [WordStrategy] values (pronunciation dictionary first, a
// spelling heuristic last) and the line's final word through a chain of
// [RhymeStrategy] values. Every chain ends in a strategy that always
// succeeds, so [Analyzer.Analyze] never fails.
//
// Rhyme tokens come in two shapes:
//
//   - Phonetic: upper-case ARPAbet phones joined by single spaces, e.g.
//     "AY1 T" for "night".
//   - Orthographic: the lower-case last letters of an unknown word, e.g.
//     "rax" for "eldrinax".
//
// Each line carries a US token and a British variant derived from it with
// [BritishVariant].
package prosody

import (
	"strings"
	"unicode"
)

// Line is the prosodic profile of a single line of text.
type Line struct {
	Text      string `json:"text" yaml:"text"`
	Syllables int    `json:"syllables" yaml:"syllables"`

	// Stress has one character per syllable: '1' stressed, '0' unstressed.
	Stress string `json:"stress" yaml:"stress"`

	// Rhyme is the US rhyme token of the final word. Empty when the line has
	// no words.
	Rhyme string `json:"rhyme,omitempty" yaml:"rhyme,omitempty"`

	// RhymeGB is the British variant of Rhyme.
	RhymeGB string `json:"rhyme_gb,omitempty" yaml:"rhyme_gb,omitempty"`
}

// Option is a functional option for configuring an [Analyzer].
type Option func(*Analyzer)

// WithDictionary replaces the built-in pronunciation dictionary.
func WithDictionary(d *Dictionary) Option {
	return func(a *Analyzer) {
		a.dict = d
	}
}

// WithWordStrategies inserts strategies ahead of the dictionary lookup.
// [VowelGroups] always remains the last resort.
func WithWordStrategies(s ...WordStrategy) Option {
	return func(a *Analyzer) {
		a.extraWords = append(a.extraWords, s...)
	}
}

// Analyzer turns text into [Line] profiles. It is read-only after
// construction and safe for concurrent use.
type Analyzer struct {
	dict       *Dictionary
	extraWords []WordStrategy
	words      []WordStrategy
	rhymes     []RhymeStrategy
}

// New returns an [Analyzer] backed by [DefaultDictionary] unless
// [WithDictionary] is given.
func New(opts ...Option) *Analyzer {
	a := &Analyzer{}
	for _, o := range opts {
		o(a)
	}
	if a.dict == nil {
		a.dict = DefaultDictionary()
	}
	a.words = append(append([]WordStrategy{}, a.extraWords...), DictionaryWords(a.dict), VowelGroups)
	a.rhymes = []RhymeStrategy{LastPrimaryStress, LastSecondaryStress, WholeTranscription, LastLetters}
	return a
}

// Analyze returns the profile of a single line. Empty or whitespace-only
// input yields a zero-syllable line with no rhyme.
func (a *Analyzer) Analyze(line string) Line {
	out := Line{Text: strings.TrimSpace(line)}

	var stress strings.Builder
	var last Word
	for _, raw := range splitWords(line) {
		w := normalise(raw)
		if w == "" {
			continue
		}
		est := a.word(w)
		out.Syllables += est.Syllables
		stress.WriteString(est.Stress)
		last = est
	}
	out.Stress = stress.String()

	if last.Text != "" {
		out.Rhyme = a.rhyme(last)
		out.RhymeGB = BritishVariant(out.Rhyme)
	}
	return out
}

// AnalyzeVerse splits text on line breaks, drops blank lines and analyses
// the rest in order.
func (a *Analyzer) AnalyzeVerse(text string) []Line {
	var lines []Line
	for _, l := range SplitLines(text) {
		lines = append(lines, a.Analyze(l))
	}
	return lines
}

// Word returns the estimate for a single word as the analyzer's strategy
// chain resolves it.
func (a *Analyzer) Word(word string) Word {
	return a.word(normalise(word))
}

func (a *Analyzer) word(w string) Word {
	for _, s := range a.words {
		if est, ok := s(w); ok && est.Syllables == len(est.Stress) {
			return est
		}
	}
	est, _ := VowelGroups(w)
	return est
}

func (a *Analyzer) rhyme(w Word) string {
	for _, s := range a.rhymes {
		if tok, ok := s(w); ok && tok != "" {
			return tok
		}
	}
	return ""
}

// SplitLines splits text on line breaks and drops blank lines. Surrounding
// whitespace is trimmed from each kept line.
func SplitLines(text string) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	var out []string
	for _, l := range strings.Split(text, "\n") {
		if l = strings.TrimSpace(l); l != "" {
			out = append(out, l)
		}
	}
	return out
}

func splitWords(line string) []string {
	return strings.FieldsFunc(line, func(r rune) bool {
		return unicode.IsSpace(r) || r == '-' || r == '–' || r == '—' || r == '/'
	})
}

// normalise lower-cases a word and keeps letters and inner apostrophes. It
// returns "" for tokens without letters.
func normalise(raw string) string {
	var b strings.Builder
	hasLetter := false
	for _, r := range raw {
		switch {
		case unicode.IsLetter(r):
			b.WriteRune(unicode.ToLower(r))
			hasLetter = true
		case r == '\'' || r == '’':
			b.WriteByte('\'')
		}
	}
	if !hasLetter {
		return ""
	}
	return strings.Trim(b.String(), "'")
}
