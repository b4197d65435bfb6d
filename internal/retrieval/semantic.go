package retrieval

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/MrWong99/lybrarian/internal/observe"
	"github.com/MrWong99/lybrarian/pkg/fragment"
	"github.com/MrWong99/lybrarian/pkg/provider/embeddings"
)

// DefaultTopK is the number of nearest neighbours requested per query.
const DefaultTopK = 20

// Semantic finds fragments by meaning: it embeds the query text and asks the
// vector index for the nearest fragments.
type Semantic struct {
	embedder     embeddings.Provider
	index        fragment.VectorIndex
	topK         int
	embedTimeout time.Duration
	queryTimeout time.Duration
	metrics      *observe.Metrics
}

// NewSemantic returns a Semantic retriever. Non-positive topK means
// DefaultTopK; zero timeouts disable the per-call deadline.
func NewSemantic(embedder embeddings.Provider, index fragment.VectorIndex, topK int, embedTimeout, queryTimeout time.Duration, metrics *observe.Metrics) *Semantic {
	if topK <= 0 {
		topK = DefaultTopK
	}
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	return &Semantic{
		embedder:     embedder,
		index:        index,
		topK:         topK,
		embedTimeout: embedTimeout,
		queryTimeout: queryTimeout,
		metrics:      metrics,
	}
}

// Search returns up to topK hits for text, most similar first. Any failure,
// timeouts included, yields an empty result; it is logged and counted as
// signal loss, never returned.
func (s *Semantic) Search(ctx context.Context, text string) []fragment.Hit {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	ctx, span := observe.StartSpan(ctx, observe.SpanSemantic)
	defer span.End()

	start := time.Now()
	hits, err := s.search(ctx, text)
	s.metrics.RecordRetrieval(ctx, observe.SignalSemantic, time.Since(start).Seconds())
	if err != nil {
		observe.LoseSignal(span, err)
		s.metrics.RecordSignalLoss(ctx, observe.SignalSemantic)
		observe.ComponentLogger(ctx, "retrieval.semantic").Warn("semantic signal lost", "err", err)
		return nil
	}
	return hits
}

func (s *Semantic) search(ctx context.Context, text string) ([]fragment.Hit, error) {
	embedCtx, cancel := withTimeout(ctx, s.embedTimeout)
	vec, err := s.embedder.Embed(embedCtx, text)
	cancel()
	if err != nil {
		s.metrics.RecordProviderRequest(ctx, s.embedder.ModelID(), "embeddings", "error")
		return nil, fmt.Errorf("retrieval: semantic: embed: %w", err)
	}
	s.metrics.RecordProviderRequest(ctx, s.embedder.ModelID(), "embeddings", "ok")

	queryCtx, cancel := withTimeout(ctx, s.queryTimeout)
	defer cancel()
	hits, err := s.index.Nearest(queryCtx, vec, s.topK)
	if err != nil {
		return nil, fmt.Errorf("retrieval: semantic: nearest: %w", err)
	}
	return hits, nil
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
