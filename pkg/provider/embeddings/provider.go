// Package embeddings defines the Provider interface for text-embedding
// services.
//
// Vectors produced here feed the fragment vector index: fragments are embedded
// in bulk when the corpus is loaded or backfilled, and a user's input verse is
// embedded once per request for semantic retrieval.
//
// Implementations must be safe for concurrent use.
package embeddings

import "context"

// Provider is the abstraction over any text-embedding backend.
//
// All vectors returned by a single Provider share the length reported by
// Dimensions. Vectors from different models must not be mixed in one index.
//
// Some services embed queries and documents differently. By convention Embed
// is used for retrieval queries and EmbedBatch for corpus documents; providers
// that distinguish the two (e.g. Gemini task types) follow that split.
type Provider interface {
	// Embed computes the embedding vector for a single query text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch computes embedding vectors for a batch of document texts in
	// one call. The i-th result corresponds to texts[i]. On error no partial
	// results are returned.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the length of every vector produced by the provider,
	// or 0 when it is not known in advance.
	Dimensions() int

	// ModelID returns the provider-specific model identifier.
	ModelID() string
}
