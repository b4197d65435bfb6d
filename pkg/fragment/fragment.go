// Package fragment defines the personal corpus that verse generation draws
// on: reusable text fragments, their per-line prosody records and the
// completed works kept as style exemplars.
//
// Storage is expressed as small interfaces ([Store], [VectorIndex],
// [ExemplarStore], [Maintainer]) so that the PostgreSQL backend, the
// in-memory backend and test doubles are interchangeable. Every
// implementation must be safe for concurrent use.
package fragment

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/MrWong99/lybrarian/pkg/prosody"
)

var (
	// ErrNotFound is returned when a fragment ID does not exist.
	ErrNotFound = errors.New("fragment: not found")

	// ErrNoProsody is returned when per-line prosody is written for a
	// fragment that is not rhythmic.
	ErrNoProsody = errors.New("fragment: fragment has no prosody")
)

// Type classifies a fragment by its number of lines.
type Type string

const (
	TypeSingleLine Type = "single-line"
	TypeCouplet    Type = "couplet"
	TypeQuatrain   Type = "quatrain"
	TypeVerse      Type = "verse"
	TypeStanza     Type = "stanza"
)

// TypeFor classifies a fragment with n non-blank lines. Three-line and five-
// to eight-line fragments are verses; anything longer is a stanza.
func TypeFor(n int) Type {
	switch {
	case n <= 1:
		return TypeSingleLine
	case n == 2:
		return TypeCouplet
	case n == 4:
		return TypeQuatrain
	case n <= 8:
		return TypeVerse
	default:
		return TypeStanza
	}
}

// Fragment is a reusable unit of text in the corpus.
type Fragment struct {
	ID        string    `json:"id" yaml:"id"`
	CreatedAt time.Time `json:"created_at" yaml:"created_at"`

	// Source attributes the fragment to its author.
	Source string `json:"source,omitempty" yaml:"source,omitempty"`

	// HasProsody marks fragments whose rhythm matters. Only these carry
	// per-line prosody records.
	HasProsody bool `json:"rhythmic" yaml:"rhythmic"`

	Type        Type     `json:"fragment_type,omitempty" yaml:"fragment_type,omitempty"`
	Text        string   `json:"text" yaml:"text"`
	Tags        []string `json:"tags,omitempty" yaml:"tags,omitempty"`
	ContextNote string   `json:"context_note,omitempty" yaml:"context_note,omitempty"`

	// EmbeddingID references the fragment's vector in the index. Empty until
	// an embedding has been stored.
	EmbeddingID string `json:"embedding_id,omitempty" yaml:"embedding_id,omitempty"`
	FilePath    string `json:"file_path,omitempty" yaml:"file_path,omitempty"`

	// Lines holds the per-line prosody records, ordered by line number.
	Lines []Line `json:"lines,omitempty" yaml:"lines,omitempty"`
}

// Line is the stored prosody record of one fragment line.
type Line struct {
	// Number is the 1-based position of the line within the fragment.
	Number int `json:"line" yaml:"line"`

	prosody.Line `yaml:",inline"`
}

// Exemplar is a completed work that may be shown to the model as a style
// reference.
type Exemplar struct {
	ID             string    `json:"id" yaml:"id"`
	Title          string    `json:"title" yaml:"title"`
	Body           string    `json:"body" yaml:"body"`
	StyleReference bool      `json:"style_reference" yaml:"style_reference"`
	CreatedAt      time.Time `json:"created_at" yaml:"created_at"`
}

// Analyze recomputes f.Type and, for rhythmic fragments, replaces f.Lines
// with a fresh analysis of f.Text. Non-rhythmic fragments lose any lines.
func (f *Fragment) Analyze(a *prosody.Analyzer) {
	analysed := a.AnalyzeVerse(f.Text)
	f.Type = TypeFor(len(analysed))
	if !f.HasProsody {
		f.Lines = nil
		return
	}
	f.Lines = NumberLines(analysed)
}

// Validate checks the invariants every stored fragment must hold.
func (f Fragment) Validate() error {
	if strings.TrimSpace(f.ID) == "" {
		return errors.New("fragment: empty id")
	}
	if !f.HasProsody && len(f.Lines) > 0 {
		return fmt.Errorf("%w: %s has %d lines", ErrNoProsody, f.ID, len(f.Lines))
	}
	for i, l := range f.Lines {
		if l.Number != i+1 {
			return fmt.Errorf("fragment: %s: line %d numbered %d", f.ID, i+1, l.Number)
		}
		if l.Syllables < 0 || len(l.Stress) != l.Syllables {
			return fmt.Errorf("fragment: %s: line %d: %d syllables with stress %q", f.ID, l.Number, l.Syllables, l.Stress)
		}
	}
	return nil
}

// NumberLines converts analysed lines into stored records numbered from 1.
func NumberLines(lines []prosody.Line) []Line {
	if len(lines) == 0 {
		return nil
	}
	out := make([]Line, len(lines))
	for i, l := range lines {
		out[i] = Line{Number: i + 1, Line: l}
	}
	return out
}

// EmbeddingText is the text embedded for a fragment: its content followed by
// the context note when one is present.
func EmbeddingText(f Fragment) string {
	if note := strings.TrimSpace(f.ContextNote); note != "" {
		return f.Text + "\n\nContext: " + note
	}
	return f.Text
}

// AverageSyllables returns the mean syllable count of lines rounded to one
// decimal place, or 0 when there are no lines.
func AverageSyllables(lines []Line) float64 {
	if len(lines) == 0 {
		return 0
	}
	total := 0
	for _, l := range lines {
		total += l.Syllables
	}
	return math.Round(float64(total)/float64(len(lines))*10) / 10
}
