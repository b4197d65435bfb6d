// Package maintenance holds the corpus upkeep jobs: re-running prosodic
// analysis over stored fragments and backfilling missing embeddings.
//
// Both jobs are best effort per fragment. A failure on one fragment is logged
// and counted, and the job moves on.
package maintenance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/MrWong99/lybrarian/pkg/fragment"
	"github.com/MrWong99/lybrarian/pkg/provider/embeddings"
	"github.com/MrWong99/lybrarian/pkg/prosody"
)

// Defaults for the embedding backfill.
const (
	DefaultEmbedRate      = 2.0
	DefaultEmbedBatchSize = 16
)

// ErrNoEmbedder is returned by [Runner.Reembed] when no embedding provider
// is configured.
var ErrNoEmbedder = errors.New("maintenance: no embedding provider configured")

// Report summarises one job run.
type Report struct {
	// Processed counts fragments the job updated.
	Processed int

	// Skipped counts fragments the job does not apply to.
	Skipped int

	// Failed counts fragments that could not be updated.
	Failed int

	Duration time.Duration
}

// Config configures a [Runner].
type Config struct {
	// Store is the corpus to maintain.
	Store fragment.Maintainer

	// Analyzer is used by Reanalyze. Defaults to prosody.New().
	Analyzer *prosody.Analyzer

	// Embedder is used by Reembed. Reembed fails with [ErrNoEmbedder] when nil.
	Embedder embeddings.Provider

	// EmbedRate caps embedded fragments per second. Defaults to
	// [DefaultEmbedRate].
	EmbedRate float64

	// BatchSize is the number of texts sent per EmbedBatch call. Defaults to
	// [DefaultEmbedBatchSize].
	BatchSize int
}

// Runner executes maintenance jobs against one store.
type Runner struct {
	store     fragment.Maintainer
	analyzer  *prosody.Analyzer
	embedder  embeddings.Provider
	limiter   *rate.Limiter
	batchSize int
}

// New creates a [Runner] from cfg.
func New(cfg Config) *Runner {
	r := &Runner{
		store:     cfg.Store,
		analyzer:  cfg.Analyzer,
		embedder:  cfg.Embedder,
		batchSize: cfg.BatchSize,
	}
	if r.analyzer == nil {
		r.analyzer = prosody.New()
	}
	if r.batchSize <= 0 {
		r.batchSize = DefaultEmbedBatchSize
	}
	perSecond := cfg.EmbedRate
	if perSecond <= 0 {
		perSecond = DefaultEmbedRate
	}
	// The burst must admit a whole batch for WaitN.
	r.limiter = rate.NewLimiter(rate.Limit(perSecond), r.batchSize)
	return r
}

// Reanalyze recomputes the line prosody of every rhythmic fragment from its
// text and replaces the stored lines wholesale. Non-rhythmic fragments are
// skipped.
func (r *Runner) Reanalyze(ctx context.Context) (Report, error) {
	start := time.Now()
	log := slog.With("job", "reanalyze")

	frags, err := r.store.All(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("maintenance: reanalyze: list fragments: %w", err)
	}

	var rep Report
	for i, f := range frags {
		if err := ctx.Err(); err != nil {
			return rep, fmt.Errorf("maintenance: reanalyze: %w", err)
		}
		if !f.HasProsody {
			rep.Skipped++
			continue
		}

		lines := fragment.NumberLines(r.analyzer.AnalyzeVerse(f.Text))
		if err := r.store.ReplaceLines(ctx, f.ID, lines); err != nil {
			rep.Failed++
			log.Warn("reanalysis failed", "fragment_id", f.ID, "err", err)
			continue
		}
		rep.Processed++
		log.Info("fragment reanalysed",
			"fragment_id", f.ID,
			"lines", len(lines),
			"progress", fmt.Sprintf("%d/%d", i+1, len(frags)),
		)
	}

	rep.Duration = time.Since(start)
	log.Info("reanalysis complete",
		"processed", rep.Processed,
		"skipped", rep.Skipped,
		"failed", rep.Failed,
		"duration", rep.Duration,
	)
	return rep, nil
}

// Reembed computes embeddings for every fragment that has none, in batches,
// paced by the configured rate.
func (r *Runner) Reembed(ctx context.Context) (Report, error) {
	if r.embedder == nil {
		return Report{}, ErrNoEmbedder
	}
	start := time.Now()
	log := slog.With("job", "reembed", "model", r.embedder.ModelID())

	missing, err := r.store.MissingEmbeddings(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("maintenance: reembed: list fragments: %w", err)
	}

	var rep Report
	for lo := 0; lo < len(missing); lo += r.batchSize {
		batch := missing[lo:min(lo+r.batchSize, len(missing))]
		if err := r.limiter.WaitN(ctx, len(batch)); err != nil {
			return rep, fmt.Errorf("maintenance: reembed: %w", err)
		}

		texts := make([]string, len(batch))
		for i, f := range batch {
			texts[i] = fragment.EmbeddingText(f)
		}
		vecs, err := r.embedder.EmbedBatch(ctx, texts)
		if err == nil && len(vecs) != len(batch) {
			err = fmt.Errorf("got %d vectors for %d texts", len(vecs), len(batch))
		}
		if err != nil {
			rep.Failed += len(batch)
			log.Warn("embedding batch failed", "first_fragment_id", batch[0].ID, "size", len(batch), "err", err)
			continue
		}

		for i, f := range batch {
			if err := r.store.SetEmbedding(ctx, f.ID, vecs[i]); err != nil {
				rep.Failed++
				log.Warn("storing embedding failed", "fragment_id", f.ID, "err", err)
				continue
			}
			rep.Processed++
		}
		log.Info("embedding batch stored", "progress", fmt.Sprintf("%d/%d", lo+len(batch), len(missing)))
	}

	rep.Duration = time.Since(start)
	log.Info("embedding backfill complete",
		"processed", rep.Processed,
		"failed", rep.Failed,
		"duration", rep.Duration,
	)
	return rep, nil
}
