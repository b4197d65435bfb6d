package retrieval

import (
	"context"
	"fmt"
	"time"

	"github.com/MrWong99/lybrarian/internal/observe"
	"github.com/MrWong99/lybrarian/internal/strictness"
	"github.com/MrWong99/lybrarian/pkg/fragment"
	"github.com/MrWong99/lybrarian/pkg/prosody"
)

// DefaultStructuralLineLimit caps the rows returned per input line.
const DefaultStructuralLineLimit = 200

// Structural finds fragments by sound: syllable counts and rhyme tokens.
type Structural struct {
	store     fragment.Store
	lineLimit int
	timeout   time.Duration
	metrics   *observe.Metrics
}

// NewStructural returns a Structural retriever. Non-positive lineLimit means
// DefaultStructuralLineLimit; a zero timeout disables the per-query deadline.
func NewStructural(store fragment.Store, lineLimit int, timeout time.Duration, metrics *observe.Metrics) *Structural {
	if lineLimit <= 0 {
		lineLimit = DefaultStructuralLineLimit
	}
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	return &Structural{store: store, lineLimit: lineLimit, timeout: timeout, metrics: metrics}
}

// Search issues one query per input line under tol and returns the union of
// hits, deduplicated in first-seen order. If any query fails the whole
// signal degrades to an empty result.
func (s *Structural) Search(ctx context.Context, lines []prosody.Line, tol strictness.Tolerance) []fragment.Hit {
	queries := tol.Queries(lines, s.lineLimit)
	if len(queries) == 0 {
		return nil
	}

	ctx, span := observe.StartSpan(ctx, observe.SpanStructural)
	defer span.End()

	start := time.Now()
	hits, err := s.search(ctx, queries)
	s.metrics.RecordRetrieval(ctx, observe.SignalStructural, time.Since(start).Seconds())
	if err != nil {
		observe.LoseSignal(span, err)
		s.metrics.RecordSignalLoss(ctx, observe.SignalStructural)
		observe.ComponentLogger(ctx, "retrieval.structural").Warn("structural signal lost", "err", err)
		return nil
	}
	return hits
}

func (s *Structural) search(ctx context.Context, queries []fragment.StructuralQuery) ([]fragment.Hit, error) {
	seen := make(map[string]bool)
	var out []fragment.Hit
	for i, q := range queries {
		qctx, cancel := withTimeout(ctx, s.timeout)
		hits, err := s.store.Structural(qctx, q)
		cancel()
		if err != nil {
			return nil, fmt.Errorf("retrieval: structural: line %d: %w", i+1, err)
		}
		for _, h := range hits {
			if seen[h.ID] {
				continue
			}
			seen[h.ID] = true
			out = append(out, h)
		}
	}
	return out, nil
}
