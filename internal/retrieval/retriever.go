// Package retrieval finds corpus fragments for an input verse by combining
// two independent signals:
//
//  1. Semantic: embed the verse and query the vector index.
//  2. Structural: match syllable counts and rhyme tokens per input line.
//
// Both signals run concurrently and either may be skipped by the request's
// strictness settings. A failing signal degrades to an empty result; the
// [Merge] step ranks whatever arrived.
package retrieval

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/lybrarian/internal/strictness"
	"github.com/MrWong99/lybrarian/pkg/fragment"
	"github.com/MrWong99/lybrarian/pkg/prosody"
)

// Result is the outcome of one [Retriever.Retrieve] call.
type Result struct {
	Ranked []Ranked

	SemanticHits   int
	StructuralHits int

	// SemanticSkipped and StructuralSkipped report signals the settings (or a
	// missing embedder) turned off.
	SemanticSkipped   bool
	StructuralSkipped bool
}

// Retriever runs both signals and merges them.
type Retriever struct {
	semantic   *Semantic
	structural *Structural
	translator *strictness.Translator
	merge      MergeOptions
}

// Option is a functional option for [New].
type Option func(*Retriever)

// WithTranslator sets the tolerance translator. Defaults to
// strictness.NewTranslator().
func WithTranslator(t *strictness.Translator) Option {
	return func(r *Retriever) { r.translator = t }
}

// WithMergeOptions sets the ranking bonuses and limit.
func WithMergeOptions(o MergeOptions) Option {
	return func(r *Retriever) { r.merge = o }
}

// New creates a Retriever. A nil semantic retriever permanently skips the
// semantic signal.
func New(semantic *Semantic, structural *Structural, opts ...Option) *Retriever {
	r := &Retriever{
		semantic:   semantic,
		structural: structural,
		translator: strictness.NewTranslator(),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Retrieve runs the enabled signals concurrently for verse (its analysed
// lines in lines) and returns the merged ranking. It never fails: signal
// failures surface as empty hit sets.
func (r *Retriever) Retrieve(ctx context.Context, verse string, lines []prosody.Line, settings strictness.Settings) Result {
	tol := r.translator.Tolerance(settings)
	res := Result{
		SemanticSkipped:   !tol.RunSemantic || r.semantic == nil,
		StructuralSkipped: !tol.RunStructural || r.structural == nil,
	}

	var (
		semantic   []fragment.Hit
		structural []fragment.Hit
	)

	var g errgroup.Group

	// ── goroutine 1: semantic signal ─────────────────────────────────────────
	if !res.SemanticSkipped {
		g.Go(func() error {
			semantic = r.semantic.Search(ctx, verse)
			return nil
		})
	}

	// ── goroutine 2: structural signal ───────────────────────────────────────
	if !res.StructuralSkipped {
		g.Go(func() error {
			structural = r.structural.Search(ctx, lines, tol)
			return nil
		})
	}
	_ = g.Wait()

	res.SemanticHits = len(semantic)
	res.StructuralHits = len(structural)
	res.Ranked = Merge(semantic, structural, settings.Rhythm, r.merge)
	return res
}
