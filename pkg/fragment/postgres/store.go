package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/MrWong99/lybrarian/pkg/fragment"
	"github.com/MrWong99/lybrarian/pkg/prosody"
)

// Compile-time interface checks.
var (
	_ fragment.Store         = (*Store)(nil)
	_ fragment.VectorIndex   = (*Store)(nil)
	_ fragment.ExemplarStore = (*Store)(nil)
	_ fragment.Maintainer    = (*Store)(nil)
	_ fragment.Pinger        = (*Store)(nil)
)

// defaultStructuralLimit caps structural queries that do not set a limit.
const defaultStructuralLimit = 200

// Store is the PostgreSQL fragment corpus. All methods are safe for
// concurrent use.
type Store struct {
	pool     *pgxpool.Pool
	dims     int
	ownsPool bool
}

// New wraps an existing pool. The pool's connections must have pgvector
// types registered (see [Open]). The caller keeps ownership of pool and
// [Store.Close] does not close it.
func New(pool *pgxpool.Pool, embeddingDimensions int) *Store {
	return &Store{pool: pool, dims: embeddingDimensions}
}

// Open creates a connection pool for dsn, registers pgvector types on every
// connection and runs [Migrate]. The returned Store owns the pool.
func Open(ctx context.Context, dsn string, embeddingDimensions int) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: parse dsn: %w", err)
	}

	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres store: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}

	if err := Migrate(ctx, pool, embeddingDimensions); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: migrate: %w", err)
	}

	return &Store{pool: pool, dims: embeddingDimensions, ownsPool: true}, nil
}

// Close releases the pool if the Store created it.
func (s *Store) Close() {
	if s.ownsPool {
		s.pool.Close()
	}
}

// Ping implements [fragment.Pinger].
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// ── Read path ────────────────────────────────────────────────────────────────

const fragmentColumns = `id, created_at, source, rhythmic, fragment_type, content, tags,
		       context_note, embedding_id, file_path`

const lineColumns = `fragment_id, line_number, text, syllables, stress_pattern,
		       coalesce(end_rhyme_us, ''), coalesce(end_rhyme_gb, '')`

// Hydrate implements [fragment.Store]. Fragments and their lines are fetched
// with one batch, so the lookup costs a single round trip.
func (s *Store) Hydrate(ctx context.Context, ids []string) ([]fragment.Fragment, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	frags, err := s.load(ctx, "WHERE id = ANY($1)", "WHERE fragment_id = ANY($1)", ids)
	if err != nil {
		return nil, fmt.Errorf("postgres store: hydrate: %w", err)
	}

	byID := make(map[string]fragment.Fragment, len(frags))
	for _, f := range frags {
		byID[f.ID] = f
	}
	out := make([]fragment.Fragment, 0, len(ids))
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if f, ok := byID[id]; ok && !seen[id] {
			out = append(out, f)
			seen[id] = true
		}
	}
	return out, nil
}

// load fetches fragments and their lines in one batch. fragWhere and
// lineWhere share args.
func (s *Store) load(ctx context.Context, fragWhere, lineWhere string, args ...any) ([]fragment.Fragment, error) {
	batch := &pgx.Batch{}
	batch.Queue(`
		SELECT `+fragmentColumns+`
		FROM   fragments
		`+fragWhere+`
		ORDER  BY created_at, id`, args...)
	batch.Queue(`
		SELECT `+lineColumns+`
		FROM   fragment_lines
		`+lineWhere+`
		ORDER  BY fragment_id, line_number`, args...)

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	rows, err := br.Query()
	if err != nil {
		return nil, err
	}
	frags, err := pgx.CollectRows(rows, scanFragment)
	if err != nil {
		return nil, err
	}

	rows, err = br.Query()
	if err != nil {
		return nil, err
	}
	type ownedLine struct {
		fragmentID string
		line       fragment.Line
	}
	lines, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (ownedLine, error) {
		var ol ownedLine
		err := row.Scan(
			&ol.fragmentID,
			&ol.line.Number,
			&ol.line.Text,
			&ol.line.Syllables,
			&ol.line.Stress,
			&ol.line.Rhyme,
			&ol.line.RhymeGB,
		)
		return ol, err
	})
	if err != nil {
		return nil, err
	}

	index := make(map[string]int, len(frags))
	for i, f := range frags {
		index[f.ID] = i
	}
	for _, ol := range lines {
		if i, ok := index[ol.fragmentID]; ok {
			frags[i].Lines = append(frags[i].Lines, ol.line)
		}
	}
	return frags, nil
}

func scanFragment(row pgx.CollectableRow) (fragment.Fragment, error) {
	var (
		f     fragment.Fragment
		fType string
	)
	err := row.Scan(
		&f.ID,
		&f.CreatedAt,
		&f.Source,
		&f.HasProsody,
		&fType,
		&f.Text,
		&f.Tags,
		&f.ContextNote,
		&f.EmbeddingID,
		&f.FilePath,
	)
	f.Type = fragment.Type(fType)
	return f, err
}

// Structural implements [fragment.Store]. A fragment matches when any of its
// lines falls in the syllable range and, if requested, matches the rhyme.
func (s *Store) Structural(ctx context.Context, q fragment.StructuralQuery) ([]fragment.Hit, error) {
	var args []any
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	conditions := []string{
		"l.fragment_id = f.id",
		"l.syllables BETWEEN " + next(q.MinSyllables) + " AND " + next(q.MaxSyllables),
	}

	switch q.Rhyme {
	case fragment.RhymeExact:
		tokens := nonEmpty(q.Tokens)
		if len(tokens) == 0 {
			return nil, nil
		}
		p := next(tokens)
		conditions = append(conditions, fmt.Sprintf("(l.end_rhyme_us = ANY(%s) OR l.end_rhyme_gb = ANY(%s))", p, p))
	case fragment.RhymeSuffix:
		patterns := suffixPatterns(q.Tokens, q.Units)
		if len(patterns) == 0 {
			return nil, nil
		}
		p := next(patterns)
		conditions = append(conditions, fmt.Sprintf(
			"(%s LIKE ANY(%s) OR %s LIKE ANY(%s))",
			unstressed("l.end_rhyme_us"), p, unstressed("l.end_rhyme_gb"), p))
	}

	limit := q.Limit
	if limit <= 0 {
		limit = defaultStructuralLimit
	}

	sql := fmt.Sprintf(`
		SELECT f.id, f.rhythmic, f.created_at
		FROM   fragments f
		WHERE  f.rhythmic
		  AND  EXISTS (
		       SELECT 1 FROM fragment_lines l
		       WHERE  %s)
		ORDER  BY f.created_at DESC, f.id
		LIMIT  %s`, strings.Join(conditions, "\n\t\t         AND  "), next(limit))

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres store: structural: %w", err)
	}
	hits, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (fragment.Hit, error) {
		var h fragment.Hit
		err := row.Scan(&h.ID, &h.HasProsody, &h.CreatedAt)
		return h, err
	})
	if err != nil {
		return nil, fmt.Errorf("postgres store: structural: %w", err)
	}
	return hits, nil
}

// unstressed renders a SQL expression that strips stress digits from a
// rhyme column and prefixes a space, so that phone boundaries can be matched
// with LIKE '% K'.
func unstressed(col string) string {
	return fmt.Sprintf("(' ' || regexp_replace(coalesce(%s, ''), '[0-9]', '', 'g'))", col)
}

// suffixPatterns builds LIKE patterns implementing [prosody.RhymesLoosely]
// against the space-prefixed unstressed column.
func suffixPatterns(tokens []string, units int) []string {
	var out []string
	seen := map[string]bool{}
	for _, tok := range nonEmpty(tokens) {
		key, whole := prosody.LooseKey(tok, units)
		key = escapeLike(key)
		var p string
		switch {
		case whole:
			p = " " + key
		case prosody.IsPhonetic(tok):
			p = "% " + key
		default:
			p = "%" + key
		}
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	return out
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

func nonEmpty(in []string) []string {
	var out []string
	for _, s := range in {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Nearest implements [fragment.VectorIndex] using cosine distance.
func (s *Store) Nearest(ctx context.Context, embedding []float32, topK int) ([]fragment.Hit, error) {
	if s.dims > 0 && len(embedding) != s.dims {
		return nil, fmt.Errorf("postgres store: nearest: embedding has %d dimensions, index expects %d", len(embedding), s.dims)
	}

	const q = `
		SELECT id, rhythmic, created_at, embedding <=> $1 AS distance
		FROM   fragments
		WHERE  embedding IS NOT NULL
		ORDER  BY distance
		LIMIT  $2`

	rows, err := s.pool.Query(ctx, q, pgvector.NewVector(embedding), topK)
	if err != nil {
		return nil, fmt.Errorf("postgres store: nearest: %w", err)
	}
	hits, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (fragment.Hit, error) {
		var (
			h        fragment.Hit
			distance float64
		)
		err := row.Scan(&h.ID, &h.HasProsody, &h.CreatedAt, &distance)
		h.Score = clamp01(1 - distance)
		return h, err
	})
	if err != nil {
		return nil, fmt.Errorf("postgres store: nearest: %w", err)
	}
	return hits, nil
}

func clamp01(v float64) float64 {
	return max(0, min(1, v))
}

// RecentExemplars implements [fragment.ExemplarStore].
func (s *Store) RecentExemplars(ctx context.Context, n int) ([]fragment.Exemplar, error) {
	if n <= 0 {
		return nil, nil
	}
	const q = `
		SELECT id, title, body, style_reference, created_at
		FROM   exemplars
		WHERE  style_reference
		ORDER  BY created_at DESC, id
		LIMIT  $1`

	rows, err := s.pool.Query(ctx, q, n)
	if err != nil {
		return nil, fmt.Errorf("postgres store: recent exemplars: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (fragment.Exemplar, error) {
		var e fragment.Exemplar
		err := row.Scan(&e.ID, &e.Title, &e.Body, &e.StyleReference, &e.CreatedAt)
		return e, err
	})
	if err != nil {
		return nil, fmt.Errorf("postgres store: recent exemplars: %w", err)
	}
	return out, nil
}

// ── Write path ───────────────────────────────────────────────────────────────

// All implements [fragment.Maintainer].
func (s *Store) All(ctx context.Context) ([]fragment.Fragment, error) {
	frags, err := s.load(ctx, "", "")
	if err != nil {
		return nil, fmt.Errorf("postgres store: all: %w", err)
	}
	return frags, nil
}

// Upsert implements [fragment.Maintainer]. The fragment row and its lines
// are written in one transaction.
func (s *Store) Upsert(ctx context.Context, f fragment.Fragment, embedding []float32) error {
	if !f.HasProsody {
		f.Lines = nil
	}
	if err := f.Validate(); err != nil {
		return fmt.Errorf("postgres store: upsert: %w", err)
	}
	if f.CreatedAt.IsZero() {
		f.CreatedAt = time.Now().UTC()
	}
	if f.Tags == nil {
		f.Tags = []string{}
	}

	var vec *pgvector.Vector
	if embedding != nil {
		v := pgvector.NewVector(embedding)
		vec = &v
		f.EmbeddingID = f.ID
	}

	const q = `
		INSERT INTO fragments
		    (id, created_at, source, rhythmic, fragment_type, content, tags,
		     context_note, embedding_id, file_path, embedding)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
		    source        = EXCLUDED.source,
		    rhythmic      = EXCLUDED.rhythmic,
		    fragment_type = EXCLUDED.fragment_type,
		    content       = EXCLUDED.content,
		    tags          = EXCLUDED.tags,
		    context_note  = EXCLUDED.context_note,
		    file_path     = EXCLUDED.file_path,
		    embedding_id  = CASE WHEN EXCLUDED.embedding IS NULL THEN fragments.embedding_id ELSE EXCLUDED.embedding_id END,
		    embedding     = coalesce(EXCLUDED.embedding, fragments.embedding)`

	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, q,
			f.ID,
			f.CreatedAt,
			f.Source,
			f.HasProsody,
			string(f.Type),
			f.Text,
			f.Tags,
			f.ContextNote,
			f.EmbeddingID,
			f.FilePath,
			vec,
		); err != nil {
			return err
		}
		return writeLines(ctx, tx, f.ID, f.Lines)
	})
	if err != nil {
		return fmt.Errorf("postgres store: upsert %s: %w", f.ID, err)
	}
	return nil
}

// ReplaceLines implements [fragment.Maintainer].
func (s *Store) ReplaceLines(ctx context.Context, id string, lines []fragment.Line) error {
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var rhythmic bool
		err := tx.QueryRow(ctx, `SELECT rhythmic FROM fragments WHERE id = $1 FOR UPDATE`, id).Scan(&rhythmic)
		if errors.Is(err, pgx.ErrNoRows) {
			return fragment.ErrNotFound
		}
		if err != nil {
			return err
		}
		if !rhythmic {
			return fragment.ErrNoProsody
		}
		probe := fragment.Fragment{ID: id, HasProsody: true, Lines: lines}
		if err := probe.Validate(); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `UPDATE fragments SET fragment_type = $2 WHERE id = $1`,
			id, string(fragment.TypeFor(len(lines)))); err != nil {
			return err
		}
		return writeLines(ctx, tx, id, lines)
	})
	if err != nil {
		return fmt.Errorf("postgres store: replace lines %s: %w", id, err)
	}
	return nil
}

// writeLines replaces all lines of a fragment inside tx.
func writeLines(ctx context.Context, tx pgx.Tx, id string, lines []fragment.Line) error {
	if _, err := tx.Exec(ctx, `DELETE FROM fragment_lines WHERE fragment_id = $1`, id); err != nil {
		return err
	}
	if len(lines) == 0 {
		return nil
	}

	const q = `
		INSERT INTO fragment_lines
		    (fragment_id, line_number, text, syllables, stress_pattern,
		     end_rhyme_sound, end_rhyme_us, end_rhyme_gb)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	batch := &pgx.Batch{}
	for _, l := range lines {
		batch.Queue(q, id, l.Number, l.Text, l.Syllables, l.Stress,
			nullable(l.RhymeGB), nullable(l.Rhyme), nullable(l.RhymeGB))
	}
	return tx.SendBatch(ctx, batch).Close()
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// MissingEmbeddings implements [fragment.Maintainer]. Lines are not loaded.
func (s *Store) MissingEmbeddings(ctx context.Context) ([]fragment.Fragment, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+fragmentColumns+`
		FROM   fragments
		WHERE  embedding IS NULL
		ORDER  BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("postgres store: missing embeddings: %w", err)
	}
	frags, err := pgx.CollectRows(rows, scanFragment)
	if err != nil {
		return nil, fmt.Errorf("postgres store: missing embeddings: %w", err)
	}
	return frags, nil
}

// SetEmbedding implements [fragment.Maintainer].
func (s *Store) SetEmbedding(ctx context.Context, id string, embedding []float32) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE fragments SET embedding = $2, embedding_id = $1 WHERE id = $1`,
		id, pgvector.NewVector(embedding))
	if err != nil {
		return fmt.Errorf("postgres store: set embedding %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres store: set embedding %s: %w", id, fragment.ErrNotFound)
	}
	return nil
}

// UpsertExemplar inserts or replaces an exemplar.
func (s *Store) UpsertExemplar(ctx context.Context, e fragment.Exemplar) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	const q = `
		INSERT INTO exemplars (id, title, body, style_reference, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
		    title           = EXCLUDED.title,
		    body            = EXCLUDED.body,
		    style_reference = EXCLUDED.style_reference`
	if _, err := s.pool.Exec(ctx, q, e.ID, e.Title, e.Body, e.StyleReference, e.CreatedAt); err != nil {
		return fmt.Errorf("postgres store: upsert exemplar %s: %w", e.ID, err)
	}
	return nil
}
