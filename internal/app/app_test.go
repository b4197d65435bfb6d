package app_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.opentelemetry.io/otel/sdk/metric"

	"github.com/MrWong99/lybrarian/internal/app"
	"github.com/MrWong99/lybrarian/internal/config"
	"github.com/MrWong99/lybrarian/internal/engine"
	"github.com/MrWong99/lybrarian/internal/observe"
	"github.com/MrWong99/lybrarian/internal/resilience"
	"github.com/MrWong99/lybrarian/pkg/fragment/memstore"
	"github.com/MrWong99/lybrarian/pkg/provider/embeddings"
	embmock "github.com/MrWong99/lybrarian/pkg/provider/embeddings/mock"
	"github.com/MrWong99/lybrarian/pkg/provider/llm"
	llmmock "github.com/MrWong99/lybrarian/pkg/provider/llm/mock"
)

const corpus = `
fragments:
  - id: neon
    rhythmic: true
    text: |
      neon bleeding in the rain
      every window holds a stain
  - id: mirrors
    text: a plain idea about mirrors
    context_note: bathroom at 3am
`

// testConfig loads yaml through the real loader so defaults apply.
func testConfig(t *testing.T, yaml string) *config.Config {
	t.Helper()
	cfg, err := config.LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	return cfg
}

func testMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	mp := metric.NewMeterProvider(metric.WithReader(metric.NewManualReader()))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func candidatesReply(n int) *llm.CompletionResponse {
	type cand struct {
		Text      string `json:"text"`
		Fragments []int  `json:"fragments"`
	}
	var body struct {
		Candidates []cand `json:"candidates"`
	}
	for range n {
		body.Candidates = append(body.Candidates, cand{Text: "neon rivers in the dark", Fragments: []int{1}})
	}
	raw, _ := json.Marshal(body)
	return &llm.CompletionResponse{Content: string(raw)}
}

func post(h http.Handler, path, body string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, path, strings.NewReader(body)))
	return rec
}

const offBody = `{"input": "walking through the city at night",
	"settings": {"fragment_adherence": "loose", "rhythm": "off", "rhyme": "off", "meaning": "off"},
	"iteration": 1}`

// ── New ──────────────────────────────────────────────────────────────────────

func TestNew_MemoryCorpusIsEmbedded(t *testing.T) {
	t.Parallel()

	path := writeFile(t, "corpus.yaml", corpus)
	cfg := testConfig(t, "store:\n  backend: memory\n  corpus_file: "+path+"\n")
	emb := &embmock.Provider{EmbedResult: []float32{1, 0}, DimensionsValue: 2, ModelIDValue: "m"}

	a, err := app.New(context.Background(), cfg, &app.Providers{Embeddings: emb}, app.WithMetrics(testMetrics(t)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Shutdown(context.Background())

	calls := emb.EmbedBatchCalls()
	if len(calls) != 1 || len(calls[0]) != 2 {
		t.Fatalf("EmbedBatch calls = %v, want one batch of both fragments", calls)
	}
	if !strings.Contains(calls[0][1], "Context: bathroom at 3am") {
		t.Errorf("embedding text %q lacks the context note", calls[0][1])
	}
}

func TestNew_InjectedStoreSkipsCorpus(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t, "store:\n  corpus_file: /does/not/exist.yaml\n")
	store := memstore.New()
	if _, err := app.New(context.Background(), cfg, nil, app.WithStore(store), app.WithMetrics(testMetrics(t))); err != nil {
		t.Fatalf("New with injected store: %v", err)
	}
}

func TestNew_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		yaml string
	}{
		{name: "missing corpus file", yaml: "store:\n  corpus_file: /does/not/exist.yaml\n"},
		{name: "missing dictionary", yaml: "prosody:\n  dictionary_path: /does/not/exist.dict\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if _, err := app.New(context.Background(), testConfig(t, tt.yaml), nil, app.WithMetrics(testMetrics(t))); err == nil {
				t.Error("New succeeded, want an error")
			}
		})
	}
}

// ── HTTP surface ─────────────────────────────────────────────────────────────

func TestHandler_Generate(t *testing.T) {
	t.Parallel()

	path := writeFile(t, "corpus.yaml", corpus)
	cfg := testConfig(t, "store:\n  corpus_file: "+path+"\ngeneration:\n  candidates: 3\n")
	model := &llmmock.Provider{CompleteResponse: candidatesReply(3)}

	a, err := app.New(context.Background(), cfg, &app.Providers{LLM: model}, app.WithMetrics(testMetrics(t)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	rec := post(a.Handler(), "/v1/generate", offBody)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}
	var got struct {
		Candidates []struct {
			Status string `json:"status"`
		} `json:"candidates"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got.Candidates) != 3 {
		t.Errorf("got %d candidates, want 3", len(got.Candidates))
	}
	if n := len(model.CompleteCalls()); n != 1 {
		t.Errorf("Complete called %d times, want 1", n)
	}
}

func TestHandler_GenerateWithoutLLM(t *testing.T) {
	t.Parallel()

	a, err := app.New(context.Background(), testConfig(t, ""), nil, app.WithMetrics(testMetrics(t)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if rec := post(a.Handler(), "/v1/generate", offBody); rec.Code != http.StatusBadGateway {
		t.Errorf("status = %d, want 502: %s", rec.Code, rec.Body)
	}
	if _, err := a.Engine().RetrieveAndGenerate(context.Background(), mustRequest(t)); !errors.Is(err, app.ErrNoLLM) {
		t.Errorf("RetrieveAndGenerate error = %v, want ErrNoLLM", err)
	}
}

func TestHandler_Probes(t *testing.T) {
	t.Parallel()

	a, err := app.New(context.Background(), testConfig(t, ""), nil, app.WithMetrics(testMetrics(t)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	for _, path := range []string{"/healthz", "/readyz"} {
		rec := httptest.NewRecorder()
		a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusOK {
			t.Errorf("GET %s = %d, want 200", path, rec.Code)
		}
	}

	if err := a.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("GET /readyz after Shutdown = %d, want 503", rec.Code)
	}
}

func mustRequest(t *testing.T) (req engine.Request) {
	t.Helper()
	if err := json.Unmarshal([]byte(offBody), &req); err != nil {
		t.Fatal(err)
	}
	return req
}

// ── Lifecycle ────────────────────────────────────────────────────────────────

func TestApp_RunAndShutdown(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t, "server:\n  listen_addr: 127.0.0.1:0\n")
	a, err := app.New(context.Background(), cfg, nil, app.WithMetrics(testMetrics(t)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- a.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("Run() = %v, want nil after cancellation", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run() did not return within 5s after context cancellation")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := a.Shutdown(shutdownCtx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
}

// ── BuildProviders ───────────────────────────────────────────────────────────

func testRegistry() *config.Registry {
	reg := config.NewRegistry()
	for _, name := range []string{"primary", "backup"} {
		reg.RegisterLLM(name, func(config.ProviderEntry) (llm.Provider, error) {
			return &llmmock.Provider{}, nil
		})
	}
	reg.RegisterEmbeddings("small", func(e config.ProviderEntry) (embeddings.Provider, error) {
		return &embmock.Provider{ModelIDValue: e.Model, DimensionsValue: 1536}, nil
	})
	return reg
}

func TestBuildProviders(t *testing.T) {
	t.Parallel()

	t.Run("single providers stay unwrapped", func(t *testing.T) {
		t.Parallel()
		cfg := testConfig(t, "providers:\n  llm: {name: primary}\n  embeddings: {name: small, model: a}\n")
		ps, err := app.BuildProviders(cfg, testRegistry())
		if err != nil {
			t.Fatalf("BuildProviders: %v", err)
		}
		if _, ok := ps.LLM.(*llmmock.Provider); !ok {
			t.Errorf("LLM = %T, want the registered provider", ps.LLM)
		}
		if _, ok := ps.Embeddings.(*embmock.Provider); !ok {
			t.Errorf("Embeddings = %T, want the registered provider", ps.Embeddings)
		}
	})

	t.Run("fallbacks wrap the primary", func(t *testing.T) {
		t.Parallel()
		cfg := testConfig(t, "providers:\n  llm: {name: primary}\n  llm_fallbacks: [{name: backup}, {name: missing}]\n"+
			"  embeddings: {name: small, model: a}\n  embeddings_fallbacks: [{name: small, model: a}]\n")
		ps, err := app.BuildProviders(cfg, testRegistry())
		if err != nil {
			t.Fatalf("BuildProviders: %v", err)
		}
		fb, ok := ps.LLM.(*resilience.LLMFallback)
		if !ok {
			t.Fatalf("LLM = %T, want *resilience.LLMFallback", ps.LLM)
		}
		if names := fb.Group().Names(); len(names) != 2 || names[1] != "backup" {
			t.Errorf("llm failover order = %v, want [primary backup]", names)
		}
		if _, ok := ps.Embeddings.(*resilience.EmbeddingsFallback); !ok {
			t.Errorf("Embeddings = %T, want *resilience.EmbeddingsFallback", ps.Embeddings)
		}
	})

	errorCases := []struct {
		name string
		yaml string
	}{
		{name: "unregistered primary", yaml: "providers:\n  llm: {name: nope}\n"},
		{name: "fallback of another model", yaml: "providers:\n  embeddings: {name: small, model: a}\n  embeddings_fallbacks: [{name: small, model: b}]\n"},
		{name: "dimension mismatch with store", yaml: "store:\n  backend: postgres\n  postgres_dsn: postgres://x\n  embedding_dimensions: 768\nproviders:\n  embeddings: {name: small, model: a}\n"},
	}
	for _, tt := range errorCases {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if _, err := app.BuildProviders(testConfig(t, tt.yaml), testRegistry()); err == nil {
				t.Error("BuildProviders succeeded, want an error")
			}
		})
	}
}
