// Package mock provides a test double for the embeddings.Provider interface.
//
//	p := &mock.Provider{EmbedResult: []float32{0.1, 0.2, 0.3}, DimensionsValue: 3}
//	vec, _ := p.Embed(ctx, "neon rain")
//	if len(p.EmbedCalls()) != 1 { … }
package mock

import (
	"context"
	"slices"
	"sync"

	"github.com/MrWong99/lybrarian/pkg/provider/embeddings"
)

var _ embeddings.Provider = (*Provider)(nil)

// Provider is a configurable, call-recording embeddings.Provider.
type Provider struct {
	mu sync.Mutex

	// EmbedResult is returned by Embed.
	EmbedResult []float32

	// EmbedErr, if non-nil, is returned by Embed.
	EmbedErr error

	// EmbedFunc, when set, replaces EmbedResult and EmbedErr.
	EmbedFunc func(ctx context.Context, text string) ([]float32, error)

	// EmbedBatchResult is returned by EmbedBatch. When nil, EmbedBatch
	// returns one copy of EmbedResult per input text.
	EmbedBatchResult [][]float32

	// EmbedBatchErr, if non-nil, is returned by EmbedBatch.
	EmbedBatchErr error

	// DimensionsValue is returned by Dimensions.
	DimensionsValue int

	// ModelIDValue is returned by ModelID.
	ModelIDValue string

	embedCalls []string
	batchCalls [][]string
}

// Embed records the call and returns the configured result.
func (p *Provider) Embed(ctx context.Context, text string) ([]float32, error) {
	p.mu.Lock()
	p.embedCalls = append(p.embedCalls, text)
	fn := p.EmbedFunc
	p.mu.Unlock()

	if fn != nil {
		return fn(ctx, text)
	}
	return p.EmbedResult, p.EmbedErr
}

// EmbedBatch records the call and returns the configured result.
func (p *Provider) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.batchCalls = append(p.batchCalls, slices.Clone(texts))
	if p.EmbedBatchErr != nil {
		return nil, p.EmbedBatchErr
	}
	if p.EmbedBatchResult != nil {
		return p.EmbedBatchResult, nil
	}
	out := make([][]float32, len(texts))
	for i := range out {
		out[i] = slices.Clone(p.EmbedResult)
	}
	return out, nil
}

// Dimensions returns DimensionsValue.
func (p *Provider) Dimensions() int { return p.DimensionsValue }

// ModelID returns ModelIDValue.
func (p *Provider) ModelID() string { return p.ModelIDValue }

// EmbedCalls returns the texts passed to Embed, in call order.
func (p *Provider) EmbedCalls() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.embedCalls)
}

// EmbedBatchCalls returns the batches passed to EmbedBatch, in call order.
func (p *Provider) EmbedBatchCalls() [][]string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.batchCalls)
}
