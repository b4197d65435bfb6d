// Package memstore is an in-memory fragment corpus. It implements the same
// contracts as the PostgreSQL backend and is used for tests and for small
// corpora loaded from a YAML file.
package memstore

import (
	"cmp"
	"context"
	"fmt"
	"math"
	"slices"
	"sync"
	"time"

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

// Store is a thread-safe, in-memory fragment corpus. The zero value is ready
// to use.
type Store struct {
	mu         sync.RWMutex
	fragments  map[string]fragment.Fragment
	embeddings map[string][]float32
	exemplars  map[string]fragment.Exemplar
}

// New returns an initialised [Store].
func New() *Store {
	s := &Store{}
	s.init()
	return s
}

func (s *Store) init() {
	if s.fragments == nil {
		s.fragments = make(map[string]fragment.Fragment)
		s.embeddings = make(map[string][]float32)
		s.exemplars = make(map[string]fragment.Exemplar)
	}
}

// Ping implements [fragment.Pinger]. It always succeeds.
func (s *Store) Ping(context.Context) error { return nil }

// Len reports the number of stored fragments.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.fragments)
}

// ── Read path ────────────────────────────────────────────────────────────────

// Hydrate implements [fragment.Store].
func (s *Store) Hydrate(_ context.Context, ids []string) ([]fragment.Fragment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]fragment.Fragment, 0, len(ids))
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if f, ok := s.fragments[id]; ok && !seen[id] {
			out = append(out, clone(f))
			seen[id] = true
		}
	}
	return out, nil
}

// Structural implements [fragment.Store].
func (s *Store) Structural(_ context.Context, q fragment.StructuralQuery) ([]fragment.Hit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var hits []fragment.Hit
	for _, f := range s.fragments {
		if !f.HasProsody {
			continue
		}
		if slices.ContainsFunc(f.Lines, func(l fragment.Line) bool { return lineMatches(l, q) }) {
			hits = append(hits, fragment.Hit{ID: f.ID, HasProsody: true, CreatedAt: f.CreatedAt})
		}
	}
	slices.SortFunc(hits, newestFirst)

	if q.Limit > 0 && len(hits) > q.Limit {
		hits = hits[:q.Limit]
	}
	return hits, nil
}

func lineMatches(l fragment.Line, q fragment.StructuralQuery) bool {
	if l.Syllables < q.MinSyllables || l.Syllables > q.MaxSyllables {
		return false
	}
	switch q.Rhyme {
	case fragment.RhymeExact:
		return slices.ContainsFunc(q.Tokens, func(tok string) bool {
			return prosody.RhymesExactly(l.Rhyme, tok) || prosody.RhymesExactly(l.RhymeGB, tok)
		})
	case fragment.RhymeSuffix:
		return slices.ContainsFunc(q.Tokens, func(tok string) bool {
			return prosody.RhymesLoosely(l.Rhyme, tok, q.Units) || prosody.RhymesLoosely(l.RhymeGB, tok, q.Units)
		})
	default:
		return true
	}
}

// Nearest implements [fragment.VectorIndex] with an exhaustive cosine scan.
func (s *Store) Nearest(_ context.Context, embedding []float32, topK int) ([]fragment.Hit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var hits []fragment.Hit
	for id, vec := range s.embeddings {
		if len(vec) != len(embedding) {
			return nil, fmt.Errorf("memstore: nearest: embedding has %d dimensions, index holds %d", len(embedding), len(vec))
		}
		f := s.fragments[id]
		hits = append(hits, fragment.Hit{
			ID:         id,
			Score:      max(0, min(1, cosine(embedding, vec))),
			HasProsody: f.HasProsody,
			CreatedAt:  f.CreatedAt,
		})
	}
	slices.SortFunc(hits, func(a, b fragment.Hit) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	if topK >= 0 && len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// RecentExemplars implements [fragment.ExemplarStore].
func (s *Store) RecentExemplars(_ context.Context, n int) ([]fragment.Exemplar, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []fragment.Exemplar
	for _, e := range s.exemplars {
		if e.StyleReference {
			out = append(out, e)
		}
	}
	slices.SortFunc(out, func(a, b fragment.Exemplar) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	if n < 0 {
		n = 0
	}
	if len(out) > n {
		out = out[:n]
	}
	return out, nil
}

// ── Write path ───────────────────────────────────────────────────────────────

// All implements [fragment.Maintainer].
func (s *Store) All(context.Context) ([]fragment.Fragment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]fragment.Fragment, 0, len(s.fragments))
	for _, f := range s.fragments {
		out = append(out, clone(f))
	}
	slices.SortFunc(out, oldestFirst)
	return out, nil
}

// Upsert implements [fragment.Maintainer].
func (s *Store) Upsert(_ context.Context, f fragment.Fragment, embedding []float32) error {
	if !f.HasProsody {
		f.Lines = nil
	}
	if err := f.Validate(); err != nil {
		return fmt.Errorf("memstore: upsert: %w", err)
	}
	if f.CreatedAt.IsZero() {
		f.CreatedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.init()

	if prev, ok := s.fragments[f.ID]; ok {
		f.CreatedAt = prev.CreatedAt
		if embedding == nil {
			f.EmbeddingID = prev.EmbeddingID
		}
	}
	if embedding != nil {
		s.embeddings[f.ID] = slices.Clone(embedding)
		f.EmbeddingID = f.ID
	}
	s.fragments[f.ID] = clone(f)
	return nil
}

// ReplaceLines implements [fragment.Maintainer].
func (s *Store) ReplaceLines(_ context.Context, id string, lines []fragment.Line) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, ok := s.fragments[id]
	if !ok {
		return fmt.Errorf("memstore: replace lines %s: %w", id, fragment.ErrNotFound)
	}
	if !f.HasProsody {
		return fmt.Errorf("memstore: replace lines %s: %w", id, fragment.ErrNoProsody)
	}
	f.Lines = slices.Clone(lines)
	f.Type = fragment.TypeFor(len(lines))
	if err := f.Validate(); err != nil {
		return fmt.Errorf("memstore: replace lines: %w", err)
	}
	s.fragments[id] = f
	return nil
}

// MissingEmbeddings implements [fragment.Maintainer].
func (s *Store) MissingEmbeddings(context.Context) ([]fragment.Fragment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []fragment.Fragment
	for id, f := range s.fragments {
		if _, ok := s.embeddings[id]; !ok {
			out = append(out, clone(f))
		}
	}
	slices.SortFunc(out, oldestFirst)
	return out, nil
}

// SetEmbedding implements [fragment.Maintainer].
func (s *Store) SetEmbedding(_ context.Context, id string, embedding []float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, ok := s.fragments[id]
	if !ok {
		return fmt.Errorf("memstore: set embedding %s: %w", id, fragment.ErrNotFound)
	}
	s.embeddings[id] = slices.Clone(embedding)
	f.EmbeddingID = id
	s.fragments[id] = f
	return nil
}

// AddExemplar stores or replaces an exemplar.
func (s *Store) AddExemplar(e fragment.Exemplar) {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.init()
	s.exemplars[e.ID] = e
}

func clone(f fragment.Fragment) fragment.Fragment {
	f.Tags = slices.Clone(f.Tags)
	f.Lines = slices.Clone(f.Lines)
	return f
}

func newestFirst(a, b fragment.Hit) int {
	if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
		return c
	}
	return cmp.Compare(a.ID, b.ID)
}

func oldestFirst(a, b fragment.Fragment) int {
	if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
		return c
	}
	return cmp.Compare(a.ID, b.ID)
}
