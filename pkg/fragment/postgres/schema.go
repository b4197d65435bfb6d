// Package postgres provides a PostgreSQL-backed fragment corpus implementing
// [fragment.Store], [fragment.VectorIndex], [fragment.ExemplarStore] and
// [fragment.Maintainer] over a single [pgxpool.Pool].
//
// Fragment embeddings live in a pgvector column with an HNSW cosine index.
// Per-line prosody records live in fragment_lines, keyed by fragment and line
// number. The pgvector extension must be available in the target database;
// [Migrate] installs it via CREATE EXTENSION IF NOT EXISTS.
//
// Usage:
//
//	store, err := postgres.Open(ctx, dsn, 1536)
//	if err != nil { … }
//	defer store.Close()
//
//	hits, _ := store.Structural(ctx, fragment.StructuralQuery{MinSyllables: 6, MaxSyllables: 10})
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ddlFragments returns the fragment DDL with the embedding dimension
// substituted. The vector dimension is fixed at schema creation time.
func ddlFragments(embeddingDimensions int) string {
	return fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS fragments (
    id             TEXT         PRIMARY KEY,
    created_at     TIMESTAMPTZ  NOT NULL DEFAULT now(),
    source         TEXT         NOT NULL DEFAULT '',
    rhythmic       BOOLEAN      NOT NULL DEFAULT false,
    fragment_type  TEXT         NOT NULL DEFAULT '',
    content        TEXT         NOT NULL,
    tags           TEXT[]       NOT NULL DEFAULT '{}',
    context_note   TEXT         NOT NULL DEFAULT '',
    embedding_id   TEXT         NOT NULL DEFAULT '',
    file_path      TEXT         NOT NULL DEFAULT '',
    embedding      vector(%d)
);

CREATE INDEX IF NOT EXISTS idx_fragments_created_at
    ON fragments (created_at DESC);

CREATE INDEX IF NOT EXISTS idx_fragments_embedding
    ON fragments USING hnsw (embedding vector_cosine_ops);
`, embeddingDimensions)
}

const ddlFragmentLines = `
CREATE TABLE IF NOT EXISTS fragment_lines (
    fragment_id      TEXT     NOT NULL REFERENCES fragments (id) ON DELETE CASCADE,
    line_number      INTEGER  NOT NULL,
    text             TEXT     NOT NULL,
    syllables        INTEGER  NOT NULL CHECK (syllables >= 0),
    stress_pattern   TEXT     NOT NULL DEFAULT '',
    end_rhyme_sound  TEXT,
    end_rhyme_us     TEXT,
    end_rhyme_gb     TEXT,
    PRIMARY KEY (fragment_id, line_number),
    CHECK (char_length(stress_pattern) = syllables)
);

CREATE INDEX IF NOT EXISTS idx_fragment_lines_syllables
    ON fragment_lines (syllables);

CREATE INDEX IF NOT EXISTS idx_fragment_lines_rhyme_us
    ON fragment_lines (end_rhyme_us);

CREATE INDEX IF NOT EXISTS idx_fragment_lines_rhyme_gb
    ON fragment_lines (end_rhyme_gb);
`

const ddlExemplars = `
CREATE TABLE IF NOT EXISTS exemplars (
    id               TEXT         PRIMARY KEY,
    title            TEXT         NOT NULL DEFAULT '',
    body             TEXT         NOT NULL,
    style_reference  BOOLEAN      NOT NULL DEFAULT false,
    created_at       TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_exemplars_style_recent
    ON exemplars (created_at DESC) WHERE style_reference;
`

// Migrate creates or ensures all required tables, indexes and extensions
// exist. It is idempotent and safe to call on every start.
//
// embeddingDimensions must match the embedding model (e.g. 1536 for OpenAI
// text-embedding-3-small, 768 for Gemini text-embedding-004). Changing it
// after the first migration requires a manual schema change.
func Migrate(ctx context.Context, pool *pgxpool.Pool, embeddingDimensions int) error {
	statements := []string{
		ddlFragments(embeddingDimensions),
		ddlFragmentLines,
		ddlExemplars,
	}

	for _, stmt := range statements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres migrate: %w", err)
		}
	}
	return nil
}
