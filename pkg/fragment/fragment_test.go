package fragment_test

import (
	"errors"
	"testing"

	"github.com/MrWong99/lybrarian/pkg/fragment"
	"github.com/MrWong99/lybrarian/pkg/prosody"
)

func TestTypeFor(t *testing.T) {
	t.Parallel()

	tests := []struct {
		lines int
		want  fragment.Type
	}{
		{0, fragment.TypeSingleLine},
		{1, fragment.TypeSingleLine},
		{2, fragment.TypeCouplet},
		{3, fragment.TypeVerse},
		{4, fragment.TypeQuatrain},
		{8, fragment.TypeVerse},
		{9, fragment.TypeStanza},
	}
	for _, tt := range tests {
		if got := fragment.TypeFor(tt.lines); got != tt.want {
			t.Errorf("TypeFor(%d) = %q, want %q", tt.lines, got, tt.want)
		}
	}
}

func TestEmbeddingText(t *testing.T) {
	t.Parallel()

	f := fragment.Fragment{Text: "neon on wet concrete"}
	if got := fragment.EmbeddingText(f); got != "neon on wet concrete" {
		t.Errorf("EmbeddingText without note = %q", got)
	}
	f.ContextNote = "  late bus home "
	if got, want := fragment.EmbeddingText(f), "neon on wet concrete\n\nContext: late bus home"; got != want {
		t.Errorf("EmbeddingText = %q, want %q", got, want)
	}
}

func TestAverageSyllables(t *testing.T) {
	t.Parallel()

	lines := []fragment.Line{
		{Number: 1, Line: prosody.Line{Syllables: 8}},
		{Number: 2, Line: prosody.Line{Syllables: 7}},
		{Number: 3, Line: prosody.Line{Syllables: 7}},
	}
	if got := fragment.AverageSyllables(lines); got != 7.3 {
		t.Errorf("AverageSyllables = %v, want 7.3", got)
	}
	if got := fragment.AverageSyllables(nil); got != 0 {
		t.Errorf("AverageSyllables(nil) = %v, want 0", got)
	}
}

func TestFragmentAnalyze(t *testing.T) {
	t.Parallel()

	a := prosody.New()

	rhythmic := fragment.Fragment{ID: "f1", HasProsody: true, Text: "I walk alone\n\nthe streets at night"}
	rhythmic.Analyze(a)
	if rhythmic.Type != fragment.TypeCouplet {
		t.Errorf("Type = %q, want couplet", rhythmic.Type)
	}
	if len(rhythmic.Lines) != 2 || rhythmic.Lines[1].Number != 2 || rhythmic.Lines[1].Rhyme != "AY1 T" {
		t.Errorf("Lines = %+v", rhythmic.Lines)
	}
	if err := rhythmic.Validate(); err != nil {
		t.Errorf("Validate after Analyze: %v", err)
	}

	prose := fragment.Fragment{ID: "f2", Text: "a note", Lines: []fragment.Line{{Number: 1}}}
	prose.Analyze(a)
	if prose.Lines != nil {
		t.Errorf("non-rhythmic fragment kept lines: %+v", prose.Lines)
	}
}

func TestFragmentValidate(t *testing.T) {
	t.Parallel()

	good := fragment.Line{Number: 1, Line: prosody.Line{Syllables: 2, Stress: "10"}}

	tests := []struct {
		name    string
		f       fragment.Fragment
		wantErr error
	}{
		{"valid", fragment.Fragment{ID: "a", HasProsody: true, Lines: []fragment.Line{good}}, nil},
		{"no lines", fragment.Fragment{ID: "a"}, nil},
		{"lines without prosody", fragment.Fragment{ID: "a", Lines: []fragment.Line{good}}, fragment.ErrNoProsody},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.f.Validate()
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() = %v, want %v", err, tt.wantErr)
			}
		})
	}

	bad := []fragment.Fragment{
		{ID: ""},
		{ID: "a", HasProsody: true, Lines: []fragment.Line{{Number: 2, Line: good.Line}}},
		{ID: "a", HasProsody: true, Lines: []fragment.Line{{Number: 1, Line: prosody.Line{Syllables: 3, Stress: "10"}}}},
	}
	for i, f := range bad {
		if err := f.Validate(); err == nil {
			t.Errorf("bad[%d].Validate() = nil, want error", i)
		}
	}
}
