package fragment

import (
	"context"
	"time"
)

// Hit is a fragment identifier returned by a retrieval query.
type Hit struct {
	ID string

	// Score is the semantic similarity in [0, 1]. Structural hits carry 0.
	Score float64

	HasProsody bool
	CreatedAt  time.Time
}

// RhymeMatch selects how a [StructuralQuery] compares rhyme tokens.
type RhymeMatch int

const (
	// RhymeAny disables rhyme filtering.
	RhymeAny RhymeMatch = iota

	// RhymeExact requires a stored token equal to one of the query tokens.
	RhymeExact

	// RhymeSuffix requires the last Units units of a stored token to equal
	// those of a query token, ignoring stress. See [prosody.RhymesLoosely].
	RhymeSuffix
)

// StructuralQuery selects fragments having at least one line within a
// syllable range and, optionally, a matching rhyme token.
type StructuralQuery struct {
	MinSyllables int
	MaxSyllables int

	Rhyme RhymeMatch

	// Tokens are the acceptable rhyme tokens, typically the US and GB
	// variants of the input line's token. A stored line matches when either
	// of its own tokens matches any of these.
	Tokens []string

	// Units is the suffix length for [RhymeSuffix].
	Units int

	// Limit caps the number of returned hits. Zero lets the implementation
	// choose.
	Limit int
}

// Store is the fragment collaborator used on the request path.
type Store interface {
	// Hydrate returns the fragments for ids, in the order of ids, in a single
	// round trip. Unknown IDs are skipped.
	Hydrate(ctx context.Context, ids []string) ([]Fragment, error)

	// Structural returns distinct fragments matching q, newest first.
	Structural(ctx context.Context, q StructuralQuery) ([]Hit, error)
}

// VectorIndex is a nearest-neighbour index over fragment embeddings.
type VectorIndex interface {
	// Nearest returns up to topK fragments ordered by descending cosine
	// similarity to embedding. Scores are clamped to [0, 1].
	Nearest(ctx context.Context, embedding []float32, topK int) ([]Hit, error)
}

// ExemplarStore serves completed works flagged as style references.
type ExemplarStore interface {
	// RecentExemplars returns at most n style-reference exemplars, newest
	// first.
	RecentExemplars(ctx context.Context, n int) ([]Exemplar, error)
}

// Maintainer is the write side used by corpus maintenance jobs.
type Maintainer interface {
	// All returns every fragment with its lines, oldest first.
	All(ctx context.Context) ([]Fragment, error)

	// Upsert inserts or replaces a fragment and its lines. A nil embedding
	// leaves any stored embedding untouched. Lines of non-rhythmic fragments
	// are dropped.
	Upsert(ctx context.Context, f Fragment, embedding []float32) error

	// ReplaceLines swaps a rhythmic fragment's prosody records wholesale. It
	// returns [ErrNoProsody] for non-rhythmic fragments and [ErrNotFound] for
	// unknown IDs.
	ReplaceLines(ctx context.Context, id string, lines []Line) error

	// MissingEmbeddings returns fragments that have no stored embedding,
	// oldest first.
	MissingEmbeddings(ctx context.Context) ([]Fragment, error)

	// SetEmbedding stores the embedding for a fragment.
	SetEmbedding(ctx context.Context, id string, embedding []float32) error
}

// Pinger is implemented by stores that can report their reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}
