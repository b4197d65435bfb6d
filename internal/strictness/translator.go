package strictness

import (
	"fmt"

	"github.com/MrWong99/lybrarian/pkg/fragment"
	"github.com/MrWong99/lybrarian/pkg/prosody"
)

// DefaultLooseSyllableSlack is the ± syllable range of loose rhythm.
const DefaultLooseSyllableSlack = 2

// Tolerance is the retrieval and validation tolerance derived from Settings.
type Tolerance struct {
	RunStructural bool
	RunSemantic   bool

	// SyllableSlack is the allowed ± difference in syllables per line.
	SyllableSlack int

	// Rhyme is the rhyme level. Off disables rhyme filtering.
	Rhyme Level

	// RhymeUnits is the suffix length compared under loose rhyme.
	RhymeUnits int
}

// Translator converts Settings into tolerances and instruction text. Create
// one with NewTranslator; a nil *Translator uses the defaults.
type Translator struct {
	looseSlack int
	looseUnits int
}

// TranslatorOption configures a Translator.
type TranslatorOption func(*Translator)

// WithLooseSyllableSlack overrides the ± syllable range of loose rhythm.
func WithLooseSyllableSlack(n int) TranslatorOption {
	return func(t *Translator) {
		t.looseSlack = n
	}
}

// WithLooseRhymeUnits overrides how many trailing units loose rhyme compares.
func WithLooseRhymeUnits(k int) TranslatorOption {
	return func(t *Translator) {
		t.looseUnits = k
	}
}

// NewTranslator returns a Translator with the given options applied.
func NewTranslator(opts ...TranslatorOption) *Translator {
	t := &Translator{looseSlack: DefaultLooseSyllableSlack, looseUnits: prosody.DefaultLooseUnits}
	for _, o := range opts {
		o(t)
	}
	if t.looseSlack < 0 {
		t.looseSlack = 0
	}
	if t.looseUnits < 1 {
		t.looseUnits = 1
	}
	return t
}

// Tolerance maps s onto retrieval tolerances. s must be valid.
func (t *Translator) Tolerance(s Settings) Tolerance {
	if t == nil {
		t = NewTranslator()
	}
	tol := Tolerance{
		RunStructural: s.Rhythm != Off,
		RunSemantic:   s.Meaning != Off,
		Rhyme:         s.Rhyme,
		RhymeUnits:    t.looseUnits,
	}
	switch s.Rhythm {
	case Strict:
		tol.SyllableSlack = 0
	case Loose:
		tol.SyllableSlack = t.looseSlack
	case Off:
		tol.RunStructural = false
	}
	return tol
}

// Queries builds one structural query per input line. Rhyme narrowing is
// applied to the final line only; the others filter on syllables alone.
func (tol Tolerance) Queries(lines []prosody.Line, limit int) []fragment.StructuralQuery {
	if !tol.RunStructural {
		return nil
	}
	out := make([]fragment.StructuralQuery, 0, len(lines))
	for i, l := range lines {
		q := fragment.StructuralQuery{
			MinSyllables: max(l.Syllables-tol.SyllableSlack, 0),
			MaxSyllables: l.Syllables + tol.SyllableSlack,
			Limit:        limit,
		}
		if i == len(lines)-1 && l.Rhyme != "" {
			switch tol.Rhyme {
			case Strict:
				q.Rhyme = fragment.RhymeExact
				q.Tokens = rhymeTokens(l)
			case Loose:
				q.Rhyme = fragment.RhymeSuffix
				q.Tokens = rhymeTokens(l)
				q.Units = tol.RhymeUnits
			case Off:
			}
		}
		out = append(out, q)
	}
	return out
}

func rhymeTokens(l prosody.Line) []string {
	if l.RhymeGB == "" || l.RhymeGB == l.Rhyme {
		return []string{l.Rhyme}
	}
	return []string{l.Rhyme, l.RhymeGB}
}

// Instructions renders one sentence per dimension plus the optional theme
// and steer text, in a fixed order.
func (t *Translator) Instructions(s Settings) []string {
	out := []string{
		adherenceInstruction(s.FragmentAdherence),
		rhythmInstruction(s.Rhythm),
		rhymeInstruction(s.Rhyme),
		meaningInstruction(s.Meaning),
	}
	if s.Theme != "" {
		out = append(out, fmt.Sprintf("Theme: %s", s.Theme))
	}
	if s.Steer != "" {
		out = append(out, fmt.Sprintf("Direction from the writer: %s", s.Steer))
	}
	return out
}

func adherenceInstruction(l Level) string {
	switch l {
	case Strict:
		return "Fragment adherence (strict): build each variation from the provided fragments, reusing their wording nearly verbatim."
	case Loose:
		return "Fragment adherence (loose): draw on the provided fragments for imagery and phrasing, adapting their wording freely."
	case Off:
		return "Fragment adherence (off): treat the fragments as loose inspiration only; new wording is welcome."
	default:
		return "Fragment adherence: unspecified."
	}
}

func rhythmInstruction(l Level) string {
	switch l {
	case Strict:
		return "Rhythm (strict): keep the same number of lines and exactly the same syllable count on every line as the input."
	case Loose:
		return "Rhythm (loose): stay close to the input's line lengths; a syllable or two either way is fine."
	case Off:
		return "Rhythm (off): line lengths and meter are free."
	default:
		return "Rhythm: unspecified."
	}
}

func rhymeInstruction(l Level) string {
	switch l {
	case Strict:
		return "Rhyme (strict): the final line must end on the same rhyme sound as the input's final line."
	case Loose:
		return "Rhyme (loose): the final line should end on a near rhyme of the input's final line; slant rhymes are acceptable."
	case Off:
		return "Rhyme (off): rhyme is not required."
	default:
		return "Rhyme: unspecified."
	}
}

func meaningInstruction(l Level) string {
	switch l {
	case Strict:
		return "Meaning (strict): preserve the input's meaning closely; rephrase, do not reinterpret."
	case Loose:
		return "Meaning (loose): keep the input's general subject and mood while exploring new angles."
	case Off:
		return "Meaning (off): the subject may drift anywhere the sound leads."
	default:
		return "Meaning: unspecified."
	}
}
