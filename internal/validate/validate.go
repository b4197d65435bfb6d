// Package validate checks generated candidates against the input's prosody
// and regenerates the ones that miss.
//
// Every candidate moves from pending to validated or failed. A failing
// candidate is replaced by the first candidate of a fresh batch and checked
// again, at most MaxRetries times. When the budget runs out the best attempt
// seen is kept and annotated; candidates are never dropped.
package validate

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/lybrarian/internal/generate"
	"github.com/MrWong99/lybrarian/internal/observe"
	"github.com/MrWong99/lybrarian/internal/strictness"
	"github.com/MrWong99/lybrarian/pkg/prosody"
)

// DefaultMaxRetries is the regeneration budget per candidate.
const DefaultMaxRetries = 2

// Status is the validation state of a candidate.
type Status string

const (
	StatusPending   Status = "pending"
	StatusValidated Status = "validated"
	StatusFailed    Status = "failed"
)

// Candidate is a generated candidate with its validation outcome.
type Candidate struct {
	generate.Candidate

	Status Status `json:"status"`

	// Note lists the constraints a failed candidate still misses.
	Note string `json:"note,omitempty"`

	// Retries is the number of regenerations spent on this slot.
	Retries int `json:"retries"`
}

// Regenerate produces one fresh candidate, typically the first of a new batch.
type Regenerate func(ctx context.Context) (generate.Candidate, error)

// Attempt is the state carried through the retry loop for one slot.
type Attempt struct {
	Candidate generate.Candidate
	Report    Report
	Retries   int
}

// Validator checks and regenerates candidates.
type Validator struct {
	analyzer   *prosody.Analyzer
	maxRetries int
	rhymeUnits int
	metrics    *observe.Metrics
}

// Option is a functional option for [New].
type Option func(*Validator)

// WithMaxRetries sets the regeneration budget per candidate. Negative values
// are treated as zero.
func WithMaxRetries(n int) Option {
	return func(v *Validator) { v.maxRetries = max(n, 0) }
}

// WithRhymeUnits sets how many trailing units loose rhyme compares.
func WithRhymeUnits(k int) Option {
	return func(v *Validator) { v.rhymeUnits = k }
}

// WithMetrics sets the metrics sink. Defaults to observe.DefaultMetrics().
func WithMetrics(m *observe.Metrics) Option {
	return func(v *Validator) { v.metrics = m }
}

// New creates a Validator that analyses candidates with analyzer.
func New(analyzer *prosody.Analyzer, opts ...Option) *Validator {
	v := &Validator{
		analyzer:   analyzer,
		maxRetries: DefaultMaxRetries,
		rhymeUnits: prosody.DefaultLooseUnits,
	}
	for _, o := range opts {
		o(v)
	}
	if v.metrics == nil {
		v.metrics = observe.DefaultMetrics()
	}
	return v
}

// Check analyses c and compares it against input under s.
func (v *Validator) Check(input []prosody.Line, c generate.Candidate, s strictness.Settings) Report {
	return Check(input, v.analyzer.AnalyzeVerse(c.Text), s, v.rhymeUnits)
}

// Retry spends one regeneration on a: it obtains a fresh candidate, checks it
// and returns the new attempt with Retries incremented. a is not modified.
func (v *Validator) Retry(ctx context.Context, a Attempt, input []prosody.Line, s strictness.Settings, regen Regenerate) (Attempt, error) {
	c, err := regen(ctx)
	if err != nil {
		return a, fmt.Errorf("validate: regenerate: %w", err)
	}
	return Attempt{
		Candidate: c,
		Report:    v.Check(input, c, s),
		Retries:   a.Retries + 1,
	}, nil
}

// Validate checks every candidate against input and regenerates failures.
// The result has exactly len(cands) entries in the same slots. It also returns
// the total number of regenerations. A regeneration error aborts validation.
func (v *Validator) Validate(ctx context.Context, input []prosody.Line, s strictness.Settings, cands []generate.Candidate, regen Regenerate) ([]Candidate, int, error) {
	ctx, span := observe.StartSpan(ctx, observe.SpanValidate,
		trace.WithAttributes(observe.AttrCandidates.Int(len(cands))),
	)
	defer span.End()

	log := observe.ComponentLogger(ctx, "validate")
	out := make([]Candidate, len(cands))
	total := 0

	for i, c := range cands {
		cur := Attempt{Candidate: c, Report: v.Check(input, c, s)}
		best := cur

		for !cur.Report.OK && cur.Retries < v.maxRetries {
			log.Debug("regenerating candidate",
				"slot", i+1,
				"retry", cur.Retries+1,
				"problems", strings.Join(cur.Report.Problems, "; "),
			)
			next, err := v.Retry(ctx, cur, input, s, regen)
			if err != nil {
				observe.FailSpan(span, err)
				return nil, total, err
			}
			v.metrics.Regenerations.Add(ctx, 1)
			total++
			cur = next
			if Better(cur.Report, best.Report) {
				best = cur
			}
		}

		vc := Candidate{Candidate: best.Candidate, Status: StatusValidated, Retries: cur.Retries}
		if !best.Report.OK {
			vc.Status = StatusFailed
			vc.Note = "validation failed: " + strings.Join(best.Report.Problems, "; ")
			log.Info("accepting candidate that failed validation",
				"slot", i+1,
				"retries", cur.Retries,
				"note", vc.Note,
			)
		}
		v.metrics.RecordCandidate(ctx, string(vc.Status))
		out[i] = vc
	}

	span.SetAttributes(observe.AttrRegenerations.Int(total))
	return out, total, nil
}
