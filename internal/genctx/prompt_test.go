package genctx_test

import (
	"strings"
	"testing"

	"github.com/MrWong99/lybrarian/internal/genctx"
	"github.com/MrWong99/lybrarian/pkg/fragment"
	"github.com/MrWong99/lybrarian/pkg/prosody"
)

func TestFormatPrompt_Nil(t *testing.T) {
	t.Parallel()

	p := genctx.FormatPrompt(nil)
	if p.System != genctx.SystemPrompt {
		t.Error("System is not the fixed task description")
	}
	if p.User != "" {
		t.Errorf("User = %q, want empty", p.User)
	}
}

func TestFormatPrompt_Sections(t *testing.T) {
	t.Parallel()

	a := prosody.New()
	f := fragment.Fragment{
		ID:          "a",
		Text:        "neon on the wet street\nthe last bus home",
		HasProsody:  true,
		Tags:        []string{"city", "night"},
		ContextNote: "written on the night bus",
	}
	f.Analyze(a)

	b := &genctx.Bundle{
		Input:        "Walking through the city at night",
		Instructions: []string{"Rhythm (strict): keep it tight.", "Theme: loneliness"},
		Fragments:    []genctx.NumberedFragment{{Index: 1, Fragment: f}},
		Exemplars:    []genctx.Exemplar{{Title: "Night Song", Body: "the city hums"}},
		Feedback: &genctx.Feedback{
			Favorable:   []genctx.Candidate{{Text: "a good\none", Rationale: "kept the meter"}},
			Unfavorable: []genctx.Candidate{{Text: "a bad one"}},
		},
	}
	user := genctx.FormatPrompt(b).User

	for _, want := range []string{
		"## Input verse\nWalking through the city at night",
		"## Settings\n- Rhythm (strict): keep it tight.\n- Theme: loneliness",
		"## Fragments\n[1] (couplet; avg ",
		"tags: city, night)\nneon on the wet street\nthe last bus home\nContext: written on the night bus",
		"## Exemplars\n### Night Song\nthe city hums",
		"## Feedback on the previous round\nThe writer liked:\n- a good / one (rationale: kept the meter)",
		"The writer did not like:\n- a bad one",
		"reflect on what the liked variations do well",
	} {
		if !strings.Contains(user, want) {
			t.Errorf("user prompt missing %q\n--- prompt ---\n%s", want, user)
		}
	}
	if strings.Contains(user, "\n\n\n") {
		t.Errorf("user prompt contains a triple newline:\n%s", user)
	}
}

func TestFormatPrompt_OmitsEmptySections(t *testing.T) {
	t.Parallel()

	user := genctx.FormatPrompt(&genctx.Bundle{Input: "Walking through the city at night"}).User
	for _, absent := range []string{"## Fragments", "## Exemplars", "## Feedback", "## Settings"} {
		if strings.Contains(user, absent) {
			t.Errorf("user prompt contains %q for an empty bundle:\n%s", absent, user)
		}
	}
}

func TestFormatPrompt_NonRhythmicFragmentHasNoSyllables(t *testing.T) {
	t.Parallel()

	b := &genctx.Bundle{
		Input: "x",
		Fragments: []genctx.NumberedFragment{{Index: 1, Fragment: fragment.Fragment{
			ID: "p", Text: "some prose", Type: fragment.TypeSingleLine,
		}}},
	}
	user := genctx.FormatPrompt(b).User
	if !strings.Contains(user, "[1] (single-line)\nsome prose") {
		t.Errorf("unexpected fragment rendering:\n%s", user)
	}
	if strings.Contains(user, "syllables") {
		t.Errorf("non-rhythmic fragment rendered with syllables:\n%s", user)
	}
}
