package validate_test

import (
	"testing"

	"github.com/MrWong99/lybrarian/internal/strictness"
	"github.com/MrWong99/lybrarian/internal/validate"
	"github.com/MrWong99/lybrarian/pkg/prosody"
)

func line(syllables int, rhyme, gb string) prosody.Line {
	stress := make([]byte, syllables)
	for i := range stress {
		stress[i] = '0'
	}
	return prosody.Line{Syllables: syllables, Stress: string(stress), Rhyme: rhyme, RhymeGB: gb}
}

func levels(rhythm, rhyme strictness.Level) strictness.Settings {
	return strictness.Settings{
		FragmentAdherence: strictness.Loose,
		Rhythm:            rhythm,
		Rhyme:             rhyme,
		Meaning:           strictness.Loose,
	}
}

func TestCheck(t *testing.T) {
	t.Parallel()

	input := []prosody.Line{line(8, "IY1 T", ""), line(8, "AY1 T", "")}

	tests := []struct {
		name        string
		candidate   []prosody.Line
		settings    strictness.Settings
		wantOK      bool
		wantPenalty float64
	}{
		{
			name:      "exact match",
			candidate: []prosody.Line{line(8, "OW1 N", ""), line(8, "AY1 T", "")},
			settings:  levels(strictness.Strict, strictness.Strict),
			wantOK:    true,
		},
		{
			name:        "syllable miss",
			candidate:   []prosody.Line{line(7, "OW1 N", ""), line(10, "AY1 T", "")},
			settings:    levels(strictness.Strict, strictness.Off),
			wantOK:      false,
			wantPenalty: 3,
		},
		{
			name:        "line count miss",
			candidate:   []prosody.Line{line(8, "AY1 T", "")},
			settings:    levels(strictness.Strict, strictness.Off),
			wantOK:      false,
			wantPenalty: 10,
		},
		{
			name:      "loose rhythm not enforced",
			candidate: []prosody.Line{line(3, "AY1 T", "")},
			settings:  levels(strictness.Loose, strictness.Off),
			wantOK:    true,
		},
		{
			name:      "strict rhyme accepts GB token",
			candidate: []prosody.Line{line(8, "", ""), line(8, "AY1 R T", "AY1 T")},
			settings:  levels(strictness.Off, strictness.Strict),
			wantOK:    true,
		},
		{
			name:      "strict rhyme rejects stress variant",
			candidate: []prosody.Line{line(8, "", ""), line(8, "AY2 T", "")},
			settings:  levels(strictness.Off, strictness.Strict),
			wantOK:    false,
		},
		{
			name:      "loose rhyme ignores stress",
			candidate: []prosody.Line{line(8, "", ""), line(8, "AY2 T", "")},
			settings:  levels(strictness.Off, strictness.Loose),
			wantOK:    true,
		},
		{
			name:      "loose rhyme rejects different ending",
			candidate: []prosody.Line{line(8, "", ""), line(8, "EY1 N", "")},
			settings:  levels(strictness.Off, strictness.Loose),
			wantOK:    false,
		},
		{
			name:      "rhyme off",
			candidate: []prosody.Line{line(8, "EY1 N", "")},
			settings:  levels(strictness.Off, strictness.Off),
			wantOK:    true,
		},
		{
			name:      "empty candidate",
			candidate: nil,
			settings:  levels(strictness.Off, strictness.Strict),
			wantOK:    false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			r := validate.Check(input, tt.candidate, tt.settings, prosody.DefaultLooseUnits)
			if r.OK != tt.wantOK {
				t.Fatalf("OK = %v, want %v (problems %v)", r.OK, tt.wantOK, r.Problems)
			}
			if !r.OK && len(r.Problems) == 0 {
				t.Error("failed report has no problems")
			}
			if tt.settings.Rhyme == strictness.Off && r.Penalty != tt.wantPenalty {
				t.Errorf("Penalty = %v, want %v", r.Penalty, tt.wantPenalty)
			}
		})
	}
}

func TestCheck_NoInputRhymeSkipsRhyme(t *testing.T) {
	t.Parallel()

	input := []prosody.Line{line(2, "", "")}
	r := validate.Check(input, []prosody.Line{line(2, "EY1 N", "")}, levels(strictness.Strict, strictness.Strict), 2)
	if !r.OK || r.Penalty != 0 {
		t.Errorf("Check = %+v, want OK with no penalty", r)
	}
}

func TestBetter(t *testing.T) {
	t.Parallel()

	pass := validate.Report{OK: true, Penalty: 2}
	near := validate.Report{Penalty: 1}
	far := validate.Report{Penalty: 12}

	if !validate.Better(pass, near) {
		t.Error("passing report should beat a failing one regardless of penalty")
	}
	if !validate.Better(near, far) || validate.Better(far, near) {
		t.Error("lower penalty should win between failing reports")
	}
	if validate.Better(near, near) {
		t.Error("equal reports should keep the incumbent")
	}
}
