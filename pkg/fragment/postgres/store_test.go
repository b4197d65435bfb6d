package postgres_test

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/MrWong99/lybrarian/pkg/fragment"
	"github.com/MrWong99/lybrarian/pkg/fragment/postgres"
	"github.com/MrWong99/lybrarian/pkg/prosody"
)

const testEmbeddingDim = 4

// testDSN returns the test database DSN from the environment, or skips the
// test if LYBRARIAN_TEST_POSTGRES_DSN is not set.
func testDSN(t *testing.T) string {
	t.Helper()
	dsn := os.Getenv("LYBRARIAN_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("LYBRARIAN_TEST_POSTGRES_DSN not set, skipping PostgreSQL integration tests")
	}
	return dsn
}

// newTestStore creates a fresh [postgres.Store] on a clean schema.
func newTestStore(t *testing.T) *postgres.Store {
	t.Helper()
	dsn := testDSN(t)
	ctx := context.Background()

	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		// pgvector may not be installed yet on a fresh database.
		_ = pgxvec.RegisterTypes(ctx, conn)
		return nil
	}
	clean, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		t.Fatalf("pool: %v", err)
	}
	t.Cleanup(clean.Close)
	for _, stmt := range []string{
		"DROP TABLE IF EXISTS fragment_lines CASCADE",
		"DROP TABLE IF EXISTS fragments CASCADE",
		"DROP TABLE IF EXISTS exemplars CASCADE",
	} {
		if _, err := clean.Exec(ctx, stmt); err != nil {
			t.Fatalf("drop schema %q: %v", stmt, err)
		}
	}

	store, err := postgres.Open(ctx, dsn, testEmbeddingDim)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(store.Close)
	return store
}

func rhythmic(id, text string, created time.Time) fragment.Fragment {
	f := fragment.Fragment{ID: id, CreatedAt: created, HasProsody: true, Text: text, Tags: []string{"city"}}
	f.Analyze(prosody.New())
	return f
}

func TestStore_UpsertAndHydrate(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	a := rhythmic("a", "Walking through the city at night\nthe neon burns", base)
	b := fragment.Fragment{ID: "b", CreatedAt: base.Add(time.Hour), Text: "prose note", Lines: []fragment.Line{{Number: 1}}}

	if err := store.Upsert(ctx, a, []float32{1, 0, 0, 0}); err != nil {
		t.Fatalf("Upsert a: %v", err)
	}
	if err := store.Upsert(ctx, b, nil); err != nil {
		t.Fatalf("Upsert b: %v", err)
	}

	got, err := store.Hydrate(ctx, []string{"b", "missing", "a"})
	if err != nil {
		t.Fatalf("Hydrate: %v", err)
	}
	if len(got) != 2 || got[0].ID != "b" || got[1].ID != "a" {
		t.Fatalf("Hydrate order = %+v, want [b a]", got)
	}
	if len(got[0].Lines) != 0 {
		t.Errorf("non-rhythmic fragment has %d lines, want 0", len(got[0].Lines))
	}
	if len(got[1].Lines) != 2 || got[1].Lines[0].Syllables != 8 {
		t.Errorf("fragment a lines = %+v", got[1].Lines)
	}
	if got[1].EmbeddingID != "a" {
		t.Errorf("EmbeddingID = %q, want %q", got[1].EmbeddingID, "a")
	}
}

func TestStore_Structural(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	for _, f := range []fragment.Fragment{
		rhythmic("eight", "Walking through the city at night", base),
		rhythmic("three", "a bright light", base.Add(time.Minute)),
		rhythmic("heart", "you hold my heart", base.Add(2*time.Minute)),
	} {
		if err := store.Upsert(ctx, f, nil); err != nil {
			t.Fatalf("Upsert %s: %v", f.ID, err)
		}
	}

	hits, err := store.Structural(ctx, fragment.StructuralQuery{MinSyllables: 8, MaxSyllables: 8})
	if err != nil {
		t.Fatalf("Structural: %v", err)
	}
	if len(hits) != 1 || hits[0].ID != "eight" {
		t.Errorf("exact syllables hits = %+v, want [eight]", hits)
	}

	hits, err = store.Structural(ctx, fragment.StructuralQuery{
		MinSyllables: 0, MaxSyllables: 20,
		Rhyme: fragment.RhymeExact, Tokens: []string{"AY1 T"},
	})
	if err != nil {
		t.Fatalf("Structural exact rhyme: %v", err)
	}
	if len(hits) != 2 || hits[0].ID != "three" || hits[1].ID != "eight" {
		t.Errorf("exact rhyme hits = %+v, want [three eight]", hits)
	}

	// The British token of "heart" is AO1 T; loose matching on the last two
	// units of "AA1 R T" finds it through the US column.
	hits, err = store.Structural(ctx, fragment.StructuralQuery{
		MinSyllables: 0, MaxSyllables: 20,
		Rhyme: fragment.RhymeSuffix, Tokens: []string{"AA0 R T"}, Units: 2,
	})
	if err != nil {
		t.Fatalf("Structural loose rhyme: %v", err)
	}
	if len(hits) != 1 || hits[0].ID != "heart" {
		t.Errorf("loose rhyme hits = %+v, want [heart]", hits)
	}
}

func TestStore_NearestAndEmbeddings(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	if err := store.Upsert(ctx, rhythmic("x", "bright light", base), []float32{1, 0, 0, 0}); err != nil {
		t.Fatal(err)
	}
	if err := store.Upsert(ctx, rhythmic("y", "cold stone", base), nil); err != nil {
		t.Fatal(err)
	}

	missing, err := store.MissingEmbeddings(ctx)
	if err != nil {
		t.Fatalf("MissingEmbeddings: %v", err)
	}
	if len(missing) != 1 || missing[0].ID != "y" {
		t.Fatalf("MissingEmbeddings = %+v, want [y]", missing)
	}
	if err := store.SetEmbedding(ctx, "y", []float32{0, 1, 0, 0}); err != nil {
		t.Fatalf("SetEmbedding: %v", err)
	}
	if err := store.SetEmbedding(ctx, "nope", []float32{0, 1, 0, 0}); !errors.Is(err, fragment.ErrNotFound) {
		t.Errorf("SetEmbedding(unknown) = %v, want ErrNotFound", err)
	}

	hits, err := store.Nearest(ctx, []float32{1, 0.1, 0, 0}, 5)
	if err != nil {
		t.Fatalf("Nearest: %v", err)
	}
	if len(hits) != 2 || hits[0].ID != "x" {
		t.Fatalf("Nearest = %+v, want x first", hits)
	}
	for _, h := range hits {
		if h.Score < 0 || h.Score > 1 {
			t.Errorf("hit %s score %v outside [0,1]", h.ID, h.Score)
		}
	}

	if _, err := store.Nearest(ctx, []float32{1, 0}, 5); err == nil {
		t.Error("Nearest with wrong dimensions = nil error")
	}
}

func TestStore_ReplaceLines(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	if err := store.Upsert(ctx, rhythmic("r", "one line", now), nil); err != nil {
		t.Fatal(err)
	}
	if err := store.Upsert(ctx, fragment.Fragment{ID: "p", Text: "prose", CreatedAt: now}, nil); err != nil {
		t.Fatal(err)
	}

	a := prosody.New()
	lines := fragment.NumberLines(a.AnalyzeVerse("first line\nsecond line"))
	if err := store.ReplaceLines(ctx, "r", lines); err != nil {
		t.Fatalf("ReplaceLines: %v", err)
	}
	got, err := store.Hydrate(ctx, []string{"r"})
	if err != nil {
		t.Fatal(err)
	}
	if len(got[0].Lines) != 2 || got[0].Type != fragment.TypeCouplet {
		t.Errorf("after ReplaceLines: %+v", got[0])
	}

	if err := store.ReplaceLines(ctx, "p", lines); !errors.Is(err, fragment.ErrNoProsody) {
		t.Errorf("ReplaceLines(non-rhythmic) = %v, want ErrNoProsody", err)
	}
	if err := store.ReplaceLines(ctx, "nope", lines); !errors.Is(err, fragment.ErrNotFound) {
		t.Errorf("ReplaceLines(unknown) = %v, want ErrNotFound", err)
	}
}

func TestStore_RecentExemplars(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	for i, e := range []fragment.Exemplar{
		{ID: "old", Body: "old", StyleReference: true, CreatedAt: base},
		{ID: "draft", Body: "draft", CreatedAt: base.Add(time.Hour)},
		{ID: "new", Body: "new", StyleReference: true, CreatedAt: base.Add(2 * time.Hour)},
	} {
		if err := store.UpsertExemplar(ctx, e); err != nil {
			t.Fatalf("UpsertExemplar[%d]: %v", i, err)
		}
	}

	got, err := store.RecentExemplars(ctx, 3)
	if err != nil {
		t.Fatalf("RecentExemplars: %v", err)
	}
	if len(got) != 2 || got[0].ID != "new" || got[1].ID != "old" {
		t.Errorf("RecentExemplars = %+v, want [new old]", got)
	}
}
