// Package mock provides call-recording test doubles for the fragment
// interfaces.
//
// Each mock records every method call for assertion in tests and exposes
// exported fields that control what it returns. All mocks are safe for
// concurrent use.
//
// Typical usage:
//
//	store := &mock.Store{}
//	store.StructuralResult = []fragment.Hit{{ID: "f1", HasProsody: true}}
//
//	// inject store into the system under test …
//
//	if got := store.CallCount("Structural"); got != 0 {
//	    t.Errorf("expected no Structural calls, got %d", got)
//	}
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/lybrarian/pkg/fragment"
)

var (
	_ fragment.Store         = (*Store)(nil)
	_ fragment.VectorIndex   = (*VectorIndex)(nil)
	_ fragment.ExemplarStore = (*ExemplarStore)(nil)
)

// Call records the name and arguments of a single method invocation.
type Call struct {
	// Method is the name of the interface method that was called.
	Method string

	// Args holds the non-context arguments passed to the method, in order.
	Args []any
}

// recorder is embedded by every mock.
type recorder struct {
	mu    sync.Mutex
	calls []Call
}

func (r *recorder) record(method string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, Call{Method: method, Args: args})
}

// Calls returns a copy of all recorded method invocations.
func (r *recorder) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Call, len(r.calls))
	copy(out, r.calls)
	return out
}

// CallCount returns how many times the named method was invoked.
func (r *recorder) CallCount(method string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range r.calls {
		if c.Method == method {
			n++
		}
	}
	return n
}

// ─────────────────────────────────────────────────────────────────────────────
// Store
// ─────────────────────────────────────────────────────────────────────────────

// Store is a configurable test double for [fragment.Store].
type Store struct {
	recorder

	// Fragments backs Hydrate: requested IDs found here are returned in
	// request order.
	Fragments map[string]fragment.Fragment

	// HydrateErr is returned by [Store.Hydrate] when non-nil.
	HydrateErr error

	// StructuralResult is returned by every [Store.Structural] call.
	StructuralResult []fragment.Hit

	// StructuralFunc, when set, overrides StructuralResult.
	StructuralFunc func(ctx context.Context, q fragment.StructuralQuery) ([]fragment.Hit, error)

	// StructuralErr is returned by [Store.Structural] when non-nil.
	StructuralErr error
}

// Hydrate implements [fragment.Store].
func (m *Store) Hydrate(_ context.Context, ids []string) ([]fragment.Fragment, error) {
	m.record("Hydrate", ids)
	if m.HydrateErr != nil {
		return nil, m.HydrateErr
	}
	var out []fragment.Fragment
	for _, id := range ids {
		if f, ok := m.Fragments[id]; ok {
			out = append(out, f)
		}
	}
	return out, nil
}

// Structural implements [fragment.Store].
func (m *Store) Structural(ctx context.Context, q fragment.StructuralQuery) ([]fragment.Hit, error) {
	m.record("Structural", q)
	if m.StructuralErr != nil {
		return nil, m.StructuralErr
	}
	if m.StructuralFunc != nil {
		return m.StructuralFunc(ctx, q)
	}
	return m.StructuralResult, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// VectorIndex
// ─────────────────────────────────────────────────────────────────────────────

// VectorIndex is a configurable test double for [fragment.VectorIndex].
type VectorIndex struct {
	recorder

	// NearestResult is returned by [VectorIndex.Nearest].
	NearestResult []fragment.Hit

	// NearestErr is returned by [VectorIndex.Nearest] when non-nil.
	NearestErr error

	// Block, when true, makes Nearest wait for context cancellation.
	Block bool
}

// Nearest implements [fragment.VectorIndex].
func (m *VectorIndex) Nearest(ctx context.Context, embedding []float32, topK int) ([]fragment.Hit, error) {
	m.record("Nearest", embedding, topK)
	if m.Block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if m.NearestErr != nil {
		return nil, m.NearestErr
	}
	return m.NearestResult, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// ExemplarStore
// ─────────────────────────────────────────────────────────────────────────────

// ExemplarStore is a configurable test double for [fragment.ExemplarStore].
type ExemplarStore struct {
	recorder

	// Exemplars is returned by [ExemplarStore.RecentExemplars], truncated to n.
	Exemplars []fragment.Exemplar

	// Err is returned by [ExemplarStore.RecentExemplars] when non-nil.
	Err error
}

// RecentExemplars implements [fragment.ExemplarStore].
func (m *ExemplarStore) RecentExemplars(_ context.Context, n int) ([]fragment.Exemplar, error) {
	m.record("RecentExemplars", n)
	if m.Err != nil {
		return nil, m.Err
	}
	if n < len(m.Exemplars) {
		return m.Exemplars[:max(n, 0)], nil
	}
	return m.Exemplars, nil
}
