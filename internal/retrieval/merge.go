package retrieval

import (
	"cmp"
	"slices"
	"time"

	"github.com/MrWong99/lybrarian/internal/strictness"
	"github.com/MrWong99/lybrarian/pkg/fragment"
)

// MaxResults is the hard cap on the length of a merged ranking.
const MaxResults = 20

// Default scoring bonuses.
const (
	DefaultStructuralBonus = 0.3
	DefaultProsodyBonus    = 0.2
)

// Ranked is one entry of a merged ranking.
type Ranked struct {
	ID    string  `json:"id"`
	Score float64 `json:"score"`

	// SemanticScore is the similarity from the semantic signal, 0 if absent.
	SemanticScore float64 `json:"semantic_score"`

	// Structural reports whether the structural signal returned the fragment.
	Structural bool `json:"structural"`

	HasProsody bool      `json:"rhythmic"`
	CreatedAt  time.Time `json:"created_at"`
}

// MergeOptions tunes [Merge]. Nil bonuses take the package defaults; a
// pointer to zero disables that bonus.
type MergeOptions struct {
	StructuralBonus *float64
	ProsodyBonus    *float64

	// Limit caps the result length. Values outside (0, MaxResults] mean
	// MaxResults.
	Limit int
}

type mergeParams struct {
	structuralBonus float64
	prosodyBonus    float64
	limit           int
}

func (o MergeOptions) resolve() mergeParams {
	p := mergeParams{
		structuralBonus: DefaultStructuralBonus,
		prosodyBonus:    DefaultProsodyBonus,
		limit:           o.Limit,
	}
	if o.StructuralBonus != nil {
		p.structuralBonus = *o.StructuralBonus
	}
	if o.ProsodyBonus != nil {
		p.prosodyBonus = *o.ProsodyBonus
	}
	if p.limit <= 0 || p.limit > MaxResults {
		p.limit = MaxResults
	}
	return p
}

// Merge combines semantic and structural hits into one ranking.
//
// A fragment scores its semantic similarity, plus StructuralBonus when the
// structural signal returned it, plus ProsodyBonus when it is rhythmic and
// rhythm is strict. The order is score descending, then newest first, then
// ID ascending, so the result does not depend on input order.
func Merge(semantic, structural []fragment.Hit, rhythm strictness.Level, opts MergeOptions) []Ranked {
	p := opts.resolve()

	byID := make(map[string]*Ranked, len(semantic)+len(structural))
	entry := func(h fragment.Hit) *Ranked {
		r, ok := byID[h.ID]
		if !ok {
			r = &Ranked{ID: h.ID}
			byID[h.ID] = r
		}
		r.HasProsody = r.HasProsody || h.HasProsody
		if h.CreatedAt.After(r.CreatedAt) {
			r.CreatedAt = h.CreatedAt
		}
		return r
	}

	for _, h := range semantic {
		r := entry(h)
		r.SemanticScore = max(r.SemanticScore, h.Score)
	}
	for _, h := range structural {
		entry(h).Structural = true
	}

	out := make([]Ranked, 0, len(byID))
	for _, r := range byID {
		r.Score = r.SemanticScore
		if r.Structural {
			r.Score += p.structuralBonus
		}
		if r.HasProsody && rhythm == strictness.Strict {
			r.Score += p.prosodyBonus
		}
		out = append(out, *r)
	}

	slices.SortFunc(out, func(a, b Ranked) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})

	if len(out) > p.limit {
		out = out[:p.limit]
	}
	return out
}

// IDs returns the fragment IDs of ranked, in order.
func IDs(ranked []Ranked) []string {
	ids := make([]string, len(ranked))
	for i, r := range ranked {
		ids[i] = r.ID
	}
	return ids
}
