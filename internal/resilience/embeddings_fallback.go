package resilience

import (
	"context"
	"fmt"

	"github.com/MrWong99/lybrarian/pkg/provider/embeddings"
)

// EmbeddingsFallback implements [embeddings.Provider] with failover across
// several embedding backends serving the same model.
type EmbeddingsFallback struct {
	group *FallbackGroup[embeddings.Provider]
}

var _ embeddings.Provider = (*EmbeddingsFallback)(nil)

// NewEmbeddingsFallback creates an [EmbeddingsFallback] with primary as the
// preferred backend.
func NewEmbeddingsFallback(primary embeddings.Provider, primaryName string, cfg FallbackConfig) *EmbeddingsFallback {
	return &EmbeddingsFallback{group: NewFallbackGroup("embeddings", primary, primaryName, cfg)}
}

// AddFallback registers an additional backend. Vectors from different models
// live in different spaces, so the fallback must report the primary's
// ModelID and Dimensions.
func (f *EmbeddingsFallback) AddFallback(name string, provider embeddings.Provider) error {
	primary := f.group.Primary()
	if provider.ModelID() != primary.ModelID() || provider.Dimensions() != primary.Dimensions() {
		return fmt.Errorf("resilience: embeddings fallback %q serves %s/%d, primary serves %s/%d",
			name, provider.ModelID(), provider.Dimensions(), primary.ModelID(), primary.Dimensions())
	}
	f.group.AddFallback(name, provider)
	return nil
}

// Group exposes the underlying group, mainly for metrics wiring.
func (f *EmbeddingsFallback) Group() *FallbackGroup[embeddings.Provider] { return f.group }

// Embed embeds text with the first healthy backend.
func (f *EmbeddingsFallback) Embed(ctx context.Context, text string) ([]float32, error) {
	return ExecuteWithResult(ctx, f.group, func(ctx context.Context, p embeddings.Provider) ([]float32, error) {
		return p.Embed(ctx, text)
	})
}

// EmbedBatch embeds texts with the first healthy backend. A batch is never
// split across backends.
func (f *EmbeddingsFallback) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return ExecuteWithResult(ctx, f.group, func(ctx context.Context, p embeddings.Provider) ([][]float32, error) {
		return p.EmbedBatch(ctx, texts)
	})
}

// Dimensions returns the primary's vector width.
func (f *EmbeddingsFallback) Dimensions() int { return f.group.Primary().Dimensions() }

// ModelID returns the primary's model identifier.
func (f *EmbeddingsFallback) ModelID() string { return f.group.Primary().ModelID() }
