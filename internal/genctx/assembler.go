// Package genctx assembles the instruction pair sent to the language model
// for one generation round.
//
// Two lookups run concurrently:
//
//  1. Fragment hydration: the ranked fragment IDs become full fragments,
//     numbered from 1 so the model can cite them.
//  2. Style exemplars: the most recent completed works flagged as style
//     references, flattened from Markdown to plain verse.
//
// Either lookup may fail or time out; its section is then left out of the
// prompt. Only an empty input verse is an error. Use [FormatPrompt] to
// render a [Bundle] into a [Prompt].
package genctx

import (
	"context"
	"errors"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/lybrarian/internal/observe"
	"github.com/MrWong99/lybrarian/internal/strictness"
	"github.com/MrWong99/lybrarian/pkg/fragment"
)

// ErrEmptyInput is returned by [Assembler.Assemble] for a blank input verse.
var ErrEmptyInput = errors.New("genctx: empty input verse")

// Default limits.
const (
	DefaultMaxExemplars = 3
	DefaultMaxFeedback  = 10
)

// ─────────────────────────────────────────────────────────────────────────────
// Public types
// ─────────────────────────────────────────────────────────────────────────────

// Candidate is a prior generation shown back to the model as feedback.
type Candidate struct {
	Text      string `json:"text"`
	Rationale string `json:"rationale,omitempty"`
}

// Feedback is the writer's verdict on the previous round.
type Feedback struct {
	Favorable   []Candidate `json:"favorable"`
	Unfavorable []Candidate `json:"unfavorable"`
}

// Empty reports whether f carries no candidates at all.
func (f *Feedback) Empty() bool {
	return f == nil || (len(f.Favorable) == 0 && len(f.Unfavorable) == 0)
}

// NumberedFragment is a hydrated fragment with the index the model cites it
// by.
type NumberedFragment struct {
	Index int
	fragment.Fragment
}

// Exemplar is a style exemplar with its body flattened to plain text.
type Exemplar struct {
	Title string
	Body  string
}

// Request is the input to [Assembler.Assemble].
type Request struct {
	Input     string
	Settings  strictness.Settings
	Iteration int

	// FragmentIDs are the ranked fragment IDs, best first.
	FragmentIDs []string

	// Feedback is used only when Iteration > 1.
	Feedback *Feedback
}

// Bundle is everything a generation round is conditioned on.
type Bundle struct {
	Input        string
	Instructions []string
	Fragments    []NumberedFragment
	Exemplars    []Exemplar

	// Feedback is nil on the first iteration.
	Feedback *Feedback

	AssemblyDuration time.Duration
}

// ─────────────────────────────────────────────────────────────────────────────
// Assembler
// ─────────────────────────────────────────────────────────────────────────────

// Assembler hydrates fragments and fetches exemplars for a [Request].
type Assembler struct {
	store      fragment.Store
	exemplars  fragment.ExemplarStore
	translator *strictness.Translator

	maxExemplars     int
	maxFeedback      int
	hydrationTimeout time.Duration
	exemplarTimeout  time.Duration
}

// Option is a functional option for [NewAssembler].
type Option func(*Assembler)

// WithTranslator sets the translator that renders the settings as
// instructions.
func WithTranslator(t *strictness.Translator) Option {
	return func(a *Assembler) { a.translator = t }
}

// WithMaxExemplars caps how many exemplars are fetched. Defaults to 3; zero
// disables the exemplar section.
func WithMaxExemplars(n int) Option {
	return func(a *Assembler) { a.maxExemplars = n }
}

// WithMaxFeedback caps the favorable and unfavorable lists separately.
// Defaults to 10.
func WithMaxFeedback(n int) Option {
	return func(a *Assembler) { a.maxFeedback = n }
}

// WithHydrationTimeout bounds the fragment lookup. Zero means no deadline.
func WithHydrationTimeout(d time.Duration) Option {
	return func(a *Assembler) { a.hydrationTimeout = d }
}

// WithExemplarTimeout bounds the exemplar lookup. Zero means no deadline.
func WithExemplarTimeout(d time.Duration) Option {
	return func(a *Assembler) { a.exemplarTimeout = d }
}

// NewAssembler creates an [Assembler]. Either store may be nil, in which case
// its section is always omitted.
func NewAssembler(store fragment.Store, exemplars fragment.ExemplarStore, opts ...Option) *Assembler {
	a := &Assembler{
		store:        store,
		exemplars:    exemplars,
		translator:   strictness.NewTranslator(),
		maxExemplars: DefaultMaxExemplars,
		maxFeedback:  DefaultMaxFeedback,
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Assemble builds the [Bundle] for req. The hydration and exemplar lookups
// run in parallel via errgroup; failures are logged and the affected section
// is left empty.
func (a *Assembler) Assemble(ctx context.Context, req Request) (*Bundle, error) {
	if strings.TrimSpace(req.Input) == "" {
		return nil, ErrEmptyInput
	}

	ctx, span := observe.StartSpan(ctx, observe.SpanAssemble)
	defer span.End()

	start := time.Now()
	log := observe.ComponentLogger(ctx, "genctx")

	var (
		frags     []fragment.Fragment
		exemplars []fragment.Exemplar
	)

	var eg errgroup.Group

	// ── goroutine 1: fragment hydration ──────────────────────────────────────
	if a.store != nil && len(req.FragmentIDs) > 0 {
		eg.Go(func() error {
			hctx, cancel := withTimeout(ctx, a.hydrationTimeout)
			defer cancel()
			got, err := a.store.Hydrate(hctx, req.FragmentIDs)
			if err != nil {
				log.Warn("fragment hydration failed, omitting fragments", "err", err, "ids", len(req.FragmentIDs))
				return nil
			}
			frags = got
			return nil
		})
	}

	// ── goroutine 2: style exemplars ─────────────────────────────────────────
	if a.exemplars != nil && a.maxExemplars > 0 {
		eg.Go(func() error {
			ectx, cancel := withTimeout(ctx, a.exemplarTimeout)
			defer cancel()
			got, err := a.exemplars.RecentExemplars(ectx, a.maxExemplars)
			if err != nil {
				log.Warn("exemplar lookup failed, omitting exemplars", "err", err)
				return nil
			}
			exemplars = got
			return nil
		})
	}

	_ = eg.Wait()

	b := &Bundle{
		Input:        strings.TrimSpace(req.Input),
		Instructions: a.translator.Instructions(req.Settings),
		Fragments:    number(frags),
		Exemplars:    a.flattenExemplars(exemplars),
	}
	if req.Iteration > 1 && !req.Feedback.Empty() {
		b.Feedback = &Feedback{
			Favorable:   truncate(req.Feedback.Favorable, a.maxFeedback),
			Unfavorable: truncate(req.Feedback.Unfavorable, a.maxFeedback),
		}
	}
	b.AssemblyDuration = time.Since(start)

	log.Debug("context assembled",
		"fragments", len(b.Fragments),
		"exemplars", len(b.Exemplars),
		"feedback", b.Feedback != nil,
		"duration", b.AssemblyDuration,
	)
	return b, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Internal helpers
// ─────────────────────────────────────────────────────────────────────────────

func number(frags []fragment.Fragment) []NumberedFragment {
	if len(frags) == 0 {
		return nil
	}
	out := make([]NumberedFragment, len(frags))
	for i, f := range frags {
		out[i] = NumberedFragment{Index: i + 1, Fragment: f}
	}
	return out
}

func (a *Assembler) flattenExemplars(in []fragment.Exemplar) []Exemplar {
	var out []Exemplar
	for _, e := range in {
		body := Flatten(e.Body)
		if body == "" {
			continue
		}
		out = append(out, Exemplar{Title: strings.TrimSpace(e.Title), Body: body})
	}
	if len(out) > a.maxExemplars {
		out = out[:a.maxExemplars]
	}
	return out
}

func truncate(cs []Candidate, n int) []Candidate {
	var out []Candidate
	for _, c := range cs {
		if strings.TrimSpace(c.Text) == "" {
			continue
		}
		if len(out) == n {
			break
		}
		out = append(out, c)
	}
	return out
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
