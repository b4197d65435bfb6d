package retrieval_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/goleak"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/MrWong99/lybrarian/internal/observe"
	"github.com/MrWong99/lybrarian/internal/retrieval"
	"github.com/MrWong99/lybrarian/internal/strictness"
	"github.com/MrWong99/lybrarian/pkg/fragment"
	"github.com/MrWong99/lybrarian/pkg/fragment/memstore"
	fragmentmock "github.com/MrWong99/lybrarian/pkg/fragment/mock"
	embedmock "github.com/MrWong99/lybrarian/pkg/provider/embeddings/mock"
	"github.com/MrWong99/lybrarian/pkg/prosody"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const verse = "Walking through the city at night"

func settings(rhythm, rhyme, meaning strictness.Level) strictness.Settings {
	return strictness.Settings{
		FragmentAdherence: strictness.Loose,
		Rhythm:            rhythm,
		Rhyme:             rhyme,
		Meaning:           meaning,
	}
}

func newMetrics(t *testing.T) (*observe.Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

// signalLoss returns the signal-loss count for signal, 0 if none recorded.
func signalLoss(t *testing.T, reader *sdkmetric.ManualReader, signal string) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	for _, sm := range rm.ScopeMetrics {
		for _, met := range sm.Metrics {
			if met.Name != "lybrarian.signal_loss" {
				continue
			}
			sum, ok := met.Data.(metricdata.Sum[int64])
			if !ok {
				t.Fatalf("signal_loss is %T, want Sum[int64]", met.Data)
			}
			for _, dp := range sum.DataPoints {
				if v, ok := dp.Attributes.Value("signal"); ok && v.AsString() == signal {
					return dp.Value
				}
			}
		}
	}
	return 0
}

func TestRetrieve_RhythmOffSkipsStructural(t *testing.T) {
	t.Parallel()

	store := &fragmentmock.Store{StructuralResult: []fragment.Hit{{ID: "never"}}}
	index := &fragmentmock.VectorIndex{NearestResult: []fragment.Hit{{ID: "sem", Score: 0.8, CreatedAt: t0}}}
	embedder := &embedmock.Provider{EmbedResult: []float32{1, 0}}

	r := retrieval.New(
		retrieval.NewSemantic(embedder, index, 0, 0, 0, nil),
		retrieval.NewStructural(store, 0, 0, nil),
	)
	lines := prosody.New().AnalyzeVerse(verse)
	res := r.Retrieve(context.Background(), verse, lines, settings(strictness.Off, strictness.Strict, strictness.Strict))

	if got := store.CallCount("Structural"); got != 0 {
		t.Errorf("Structural calls = %d, want 0", got)
	}
	if !res.StructuralSkipped || res.SemanticSkipped {
		t.Errorf("skipped = (semantic %v, structural %v), want (false, true)", res.SemanticSkipped, res.StructuralSkipped)
	}
	if diff := cmp.Diff([]string{"sem"}, retrieval.IDs(res.Ranked)); diff != "" {
		t.Errorf("ranked mismatch (-want +got):\n%s", diff)
	}
}

func TestRetrieve_MeaningOffSkipsSemantic(t *testing.T) {
	t.Parallel()

	store := &fragmentmock.Store{StructuralResult: []fragment.Hit{{ID: "st", HasProsody: true, CreatedAt: t0}}}
	index := &fragmentmock.VectorIndex{}
	embedder := &embedmock.Provider{EmbedResult: []float32{1, 0}}

	r := retrieval.New(
		retrieval.NewSemantic(embedder, index, 0, 0, 0, nil),
		retrieval.NewStructural(store, 0, 0, nil),
	)
	lines := prosody.New().AnalyzeVerse(verse)
	res := r.Retrieve(context.Background(), verse, lines, settings(strictness.Strict, strictness.Off, strictness.Off))

	if calls := embedder.EmbedCalls(); len(calls) != 0 {
		t.Errorf("Embed calls = %v, want none", calls)
	}
	if got := index.CallCount("Nearest"); got != 0 {
		t.Errorf("Nearest calls = %d, want 0", got)
	}
	if got := store.CallCount("Structural"); got != len(lines) {
		t.Errorf("Structural calls = %d, want one per line (%d)", got, len(lines))
	}
	if diff := cmp.Diff([]string{"st"}, retrieval.IDs(res.Ranked)); diff != "" {
		t.Errorf("ranked mismatch (-want +got):\n%s", diff)
	}
}

func TestRetrieve_NilSemanticSkips(t *testing.T) {
	t.Parallel()

	store := &fragmentmock.Store{}
	r := retrieval.New(nil, retrieval.NewStructural(store, 0, 0, nil))
	res := r.Retrieve(context.Background(), verse, prosody.New().AnalyzeVerse(verse), settings(strictness.Strict, strictness.Strict, strictness.Strict))
	if !res.SemanticSkipped {
		t.Error("SemanticSkipped = false, want true without an embedder")
	}
}

func TestRetrieve_SignalLoss(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")

	tests := []struct {
		name     string
		embedErr error
		nearErr  error
		storeErr error
		wantIDs  []string
		lost     string
	}{
		{
			name:     "embedder fails",
			embedErr: boom,
			wantIDs:  []string{"st"},
			lost:     observe.SignalSemantic,
		},
		{
			name:    "index fails",
			nearErr: boom,
			wantIDs: []string{"st"},
			lost:    observe.SignalSemantic,
		},
		{
			name:     "store fails",
			storeErr: boom,
			wantIDs:  []string{"sem"},
			lost:     observe.SignalStructural,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			metrics, reader := newMetrics(t)

			store := &fragmentmock.Store{
				StructuralResult: []fragment.Hit{{ID: "st", HasProsody: true, CreatedAt: t0}},
				StructuralErr:    tt.storeErr,
			}
			index := &fragmentmock.VectorIndex{
				NearestResult: []fragment.Hit{{ID: "sem", Score: 0.9, CreatedAt: t0}},
				NearestErr:    tt.nearErr,
			}
			embedder := &embedmock.Provider{EmbedResult: []float32{1, 0}, EmbedErr: tt.embedErr, ModelIDValue: "test-embed"}

			r := retrieval.New(
				retrieval.NewSemantic(embedder, index, 0, 0, 0, metrics),
				retrieval.NewStructural(store, 0, 0, metrics),
			)
			res := r.Retrieve(context.Background(), verse, prosody.New().AnalyzeVerse(verse),
				settings(strictness.Strict, strictness.Off, strictness.Strict))

			if diff := cmp.Diff(tt.wantIDs, retrieval.IDs(res.Ranked)); diff != "" {
				t.Errorf("ranked mismatch (-want +got):\n%s", diff)
			}
			if got := signalLoss(t, reader, tt.lost); got != 1 {
				t.Errorf("signal loss for %s = %d, want 1", tt.lost, got)
			}
		})
	}
}

func TestRetrieve_SemanticTimeout(t *testing.T) {
	t.Parallel()

	index := &fragmentmock.VectorIndex{Block: true}
	embedder := &embedmock.Provider{EmbedResult: []float32{1, 0}}
	r := retrieval.New(
		retrieval.NewSemantic(embedder, index, 0, 0, 20*time.Millisecond, nil),
		retrieval.NewStructural(&fragmentmock.Store{}, 0, 0, nil),
	)

	start := time.Now()
	res := r.Retrieve(context.Background(), verse, nil, settings(strictness.Off, strictness.Off, strictness.Strict))
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("Retrieve took %v, want the query deadline to apply", elapsed)
	}
	if len(res.Ranked) != 0 {
		t.Errorf("Ranked = %v, want empty after timeout", res.Ranked)
	}
}

func TestRetrieve_StrictRhythmMatchesSyllables(t *testing.T) {
	t.Parallel()

	a := prosody.New()
	store := memstore.New()
	for _, f := range []fragment.Fragment{
		{ID: "eight", HasProsody: true, CreatedAt: t0, Text: "Running past the river in rain"},
		{ID: "thirteen", HasProsody: true, CreatedAt: t0, Text: "Walking through the city at night in the neon moon"},
	} {
		f.Analyze(a)
		if err := store.Upsert(context.Background(), f, nil); err != nil {
			t.Fatalf("Upsert: %v", err)
		}
	}

	lines := a.AnalyzeVerse(verse)
	stored, err := store.Hydrate(context.Background(), []string{"eight", "thirteen"})
	if err != nil {
		t.Fatalf("Hydrate: %v", err)
	}
	if stored[0].Lines[0].Syllables != lines[0].Syllables {
		t.Fatalf("fixture drift: %q has %d syllables, input has %d",
			stored[0].Text, stored[0].Lines[0].Syllables, lines[0].Syllables)
	}

	r := retrieval.New(nil, retrieval.NewStructural(store, 0, 0, nil))
	res := r.Retrieve(context.Background(), verse, lines, settings(strictness.Strict, strictness.Off, strictness.Off))

	if diff := cmp.Diff([]string{"eight"}, retrieval.IDs(res.Ranked)); diff != "" {
		t.Errorf("ranked mismatch (-want +got):\n%s", diff)
	}
	if res.StructuralHits != 1 {
		t.Errorf("StructuralHits = %d, want 1", res.StructuralHits)
	}
}

func TestRetrieve_SemanticOrdersBySimilarity(t *testing.T) {
	t.Parallel()

	store := memstore.New()
	for _, f := range []struct {
		id  string
		vec []float32
	}{
		{"close", []float32{1, 0.1}},
		{"far", []float32{0, 1}},
	} {
		if err := store.Upsert(context.Background(), fragment.Fragment{ID: f.id, Text: f.id, CreatedAt: t0}, f.vec); err != nil {
			t.Fatalf("Upsert: %v", err)
		}
	}
	embedder := &embedmock.Provider{EmbedResult: []float32{1, 0}}

	r := retrieval.New(retrieval.NewSemantic(embedder, store, 0, time.Second, time.Second, nil), nil)
	res := r.Retrieve(context.Background(), verse, nil, settings(strictness.Off, strictness.Off, strictness.Strict))

	if diff := cmp.Diff([]string{"close", "far"}, retrieval.IDs(res.Ranked)); diff != "" {
		t.Errorf("ranked mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{verse}, embedder.EmbedCalls()); diff != "" {
		t.Errorf("embedded text mismatch (-want +got):\n%s", diff)
	}
}
