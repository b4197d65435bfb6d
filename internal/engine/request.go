package engine

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MrWong99/lybrarian/internal/genctx"
	"github.com/MrWong99/lybrarian/internal/retrieval"
	"github.com/MrWong99/lybrarian/internal/strictness"
	"github.com/MrWong99/lybrarian/internal/validate"
	"github.com/MrWong99/lybrarian/pkg/prosody"
)

// ErrInvalidInput is matched by every request validation error.
var ErrInvalidInput = errors.New("engine: invalid input")

// InputError describes one rejected request field.
type InputError struct {
	Field  string
	Reason string
}

// Error implements error.
func (e *InputError) Error() string {
	return fmt.Sprintf("engine: invalid input: %s: %s", e.Field, e.Reason)
}

// Unwrap returns [ErrInvalidInput].
func (e *InputError) Unwrap() error { return ErrInvalidInput }

// Request is one retrieve-and-generate call.
type Request struct {
	Input     string              `json:"input"`
	Settings  strictness.Settings `json:"settings"`
	Iteration int                 `json:"iteration"`

	// Feedback is required when Iteration > 1 and rejected on iteration 1.
	Feedback *genctx.Feedback `json:"feedback,omitempty"`
}

// Validate reports every problem with r as joined [*InputError] values.
func (r Request) Validate() error {
	var errs []error
	if strings.TrimSpace(r.Input) == "" {
		errs = append(errs, &InputError{Field: "input", Reason: "must not be empty"})
	}
	switch {
	case r.Iteration < 1:
		errs = append(errs, &InputError{Field: "iteration", Reason: "must be at least 1"})
	case r.Iteration > 1 && r.Feedback.Empty():
		errs = append(errs, &InputError{Field: "feedback", Reason: fmt.Sprintf("required for iteration %d", r.Iteration)})
	case r.Iteration == 1 && !r.Feedback.Empty():
		errs = append(errs, &InputError{Field: "feedback", Reason: "not allowed on the first iteration"})
	}
	for _, f := range []struct {
		name  string
		level strictness.Level
	}{
		{"fragment_adherence", r.Settings.FragmentAdherence},
		{"rhythm", r.Settings.Rhythm},
		{"rhyme", r.Settings.Rhyme},
		{"meaning", r.Settings.Meaning},
	} {
		if !f.level.Valid() {
			errs = append(errs, &InputError{Field: "settings." + f.name, Reason: "must be one of off, loose, strict"})
		}
	}
	return errors.Join(errs...)
}

// Diagnostics describe how a result was produced. They are informational and
// not needed to use the candidates.
type Diagnostics struct {
	// Input is the analysed input verse.
	Input []prosody.Line `json:"input"`

	// TopFragments are the best ranked fragments with their scores.
	TopFragments []retrieval.Ranked `json:"top_fragments"`

	SemanticHits      int  `json:"semantic_hits"`
	StructuralHits    int  `json:"structural_hits"`
	SemanticSkipped   bool `json:"semantic_skipped"`
	StructuralSkipped bool `json:"structural_skipped"`

	// Fragments is the number of fragments shown to the model.
	Fragments int `json:"fragments"`

	Regenerations int           `json:"regenerations"`
	Elapsed       time.Duration `json:"elapsed_ns"`
}

// Result is the outcome of a successful call.
type Result struct {
	Candidates  []validate.Candidate `json:"candidates"`
	Diagnostics Diagnostics          `json:"diagnostics"`
}
