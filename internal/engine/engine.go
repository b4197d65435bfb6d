// Package engine runs one retrieve-and-generate round: it analyses the input
// verse, retrieves matching fragments, assembles the prompt, asks the model for
// candidates and validates them against the input's prosody.
//
// Requests are rejected with an [*InputError] before any collaborator is
// called. Retrieval failures degrade to fewer fragments and are visible only in
// [Diagnostics]. Generation failures are returned as errors.
package engine

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/lybrarian/internal/generate"
	"github.com/MrWong99/lybrarian/internal/genctx"
	"github.com/MrWong99/lybrarian/internal/observe"
	"github.com/MrWong99/lybrarian/internal/retrieval"
	"github.com/MrWong99/lybrarian/internal/validate"
	"github.com/MrWong99/lybrarian/pkg/prosody"
)

// DefaultTopDiagnostics is the number of ranked fragments reported in
// [Diagnostics.TopFragments].
const DefaultTopDiagnostics = 5

// Generator produces candidate batches. [*generate.Client] implements it.
type Generator interface {
	Generate(ctx context.Context, p genctx.Prompt, fragments int) ([]generate.Candidate, error)
}

var _ Generator = (*generate.Client)(nil)

// Engine wires the pipeline stages together. It holds no per-request state
// and is safe for concurrent use.
type Engine struct {
	analyzer  *prosody.Analyzer
	retriever *retrieval.Retriever
	assembler *genctx.Assembler
	generator Generator
	validator *validate.Validator

	metrics        *observe.Metrics
	topDiagnostics int
}

// Option is a functional option for [New].
type Option func(*Engine)

// WithMetrics sets the metrics sink. Defaults to observe.DefaultMetrics().
func WithMetrics(m *observe.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithTopDiagnostics sets how many ranked fragments the diagnostics report.
func WithTopDiagnostics(n int) Option {
	return func(e *Engine) { e.topDiagnostics = n }
}

// New creates an Engine from its stages.
func New(
	analyzer *prosody.Analyzer,
	retriever *retrieval.Retriever,
	assembler *genctx.Assembler,
	generator Generator,
	validator *validate.Validator,
	opts ...Option,
) *Engine {
	e := &Engine{
		analyzer:       analyzer,
		retriever:      retriever,
		assembler:      assembler,
		generator:      generator,
		validator:      validator,
		topDiagnostics: DefaultTopDiagnostics,
	}
	for _, o := range opts {
		o(e)
	}
	if e.metrics == nil {
		e.metrics = observe.DefaultMetrics()
	}
	return e
}

// Analyze returns the prosodic analysis of text, one entry per non-blank line.
func (e *Engine) Analyze(text string) []prosody.Line {
	return e.analyzer.AnalyzeVerse(text)
}

// RetrieveAndGenerate runs one round for req and returns the validated
// candidates. The result always holds as many candidates as the generator
// returns per batch.
func (e *Engine) RetrieveAndGenerate(ctx context.Context, req Request) (*Result, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	ctx, span := observe.StartSpan(ctx, observe.SpanRetrieveAndGenerate,
		trace.WithAttributes(
			observe.AttrIteration.Int(req.Iteration),
			attribute.String("rhythm", req.Settings.Rhythm.String()),
			attribute.String("rhyme", req.Settings.Rhyme.String()),
			attribute.String("meaning", req.Settings.Meaning.String()),
			attribute.String("fragment_adherence", req.Settings.FragmentAdherence.String()),
		),
	)
	defer span.End()

	e.metrics.ActiveRequests.Add(ctx, 1)
	defer e.metrics.ActiveRequests.Add(ctx, -1)

	start := time.Now()
	log := observe.ComponentLogger(ctx, "engine")

	// ── 1. Analyse the input ─────────────────────────────────────────────────
	lines := e.analyzer.AnalyzeVerse(req.Input)

	// ── 2. Retrieve (semantic ∥ structural, then merge) ──────────────────────
	rr := e.retriever.Retrieve(ctx, req.Input, lines, req.Settings)

	// ── 3. Assemble the prompt ───────────────────────────────────────────────
	bundle, err := e.assembler.Assemble(ctx, genctx.Request{
		Input:       req.Input,
		Settings:    req.Settings,
		Iteration:   req.Iteration,
		FragmentIDs: retrieval.IDs(rr.Ranked),
		Feedback:    req.Feedback,
	})
	if err != nil {
		observe.FailSpan(span, err)
		return nil, fmt.Errorf("engine: assemble: %w", err)
	}
	prompt := genctx.FormatPrompt(bundle)
	nFrags := len(bundle.Fragments)

	// ── 4. Generate ──────────────────────────────────────────────────────────
	cands, err := e.generator.Generate(ctx, prompt, nFrags)
	if err != nil {
		observe.FailSpan(span, err)
		return nil, fmt.Errorf("engine: %w", err)
	}

	// ── 5. Validate, regenerating failures one batch at a time ───────────────
	regen := func(ctx context.Context) (generate.Candidate, error) {
		batch, err := e.generator.Generate(ctx, prompt, nFrags)
		if err != nil {
			return generate.Candidate{}, err
		}
		return batch[0], nil
	}
	validated, regens, err := e.validator.Validate(ctx, lines, req.Settings, cands, regen)
	if err != nil {
		observe.FailSpan(span, err)
		return nil, fmt.Errorf("engine: %w", err)
	}

	elapsed := time.Since(start)
	e.metrics.RequestDuration.Record(ctx, elapsed.Seconds())
	span.SetAttributes(
		observe.AttrFragments.Int(nFrags),
		observe.AttrCandidates.Int(len(validated)),
		observe.AttrRegenerations.Int(regens),
	)

	top := rr.Ranked
	if len(top) > e.topDiagnostics {
		top = top[:e.topDiagnostics]
	}
	if top == nil {
		top = []retrieval.Ranked{}
	}

	log.Info("round complete",
		"iteration", req.Iteration,
		"fragments", nFrags,
		"semantic_hits", rr.SemanticHits,
		"structural_hits", rr.StructuralHits,
		"regenerations", regens,
		"duration", elapsed,
	)

	return &Result{
		Candidates: validated,
		Diagnostics: Diagnostics{
			Input:             lines,
			TopFragments:      top,
			SemanticHits:      rr.SemanticHits,
			StructuralHits:    rr.StructuralHits,
			SemanticSkipped:   rr.SemanticSkipped,
			StructuralSkipped: rr.StructuralSkipped,
			Fragments:         nFrags,
			Regenerations:     regens,
			Elapsed:           elapsed,
		},
	}, nil
}
