package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"
)

// MaxRetrievalLimit is the hard cap on the merged ranking length.
const MaxRetrievalLimit = 20

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"llm":        {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"embeddings": {"openai", "gemini", "ollama"},
}

// Load reads the YAML configuration file at path and returns a validated
// [Config] with defaults applied.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and validates
// the result. An empty document yields the default configuration.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	cfg.ApplyDefaults()
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values. It expects
// defaults to be applied and returns a joined error listing every failure.
func Validate(cfg *Config) error {
	var errs []error
	fail := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	// Server
	if !cfg.Server.LogLevel.IsValid() {
		fail("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel)
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		fail("server.tls requires both cert_file and key_file")
	}

	// Providers
	validateProviderName("llm", cfg.Providers.LLM.Name)
	validateProviderName("embeddings", cfg.Providers.Embeddings.Name)
	for i, p := range cfg.Providers.LLMFallbacks {
		if p.Name == "" {
			fail("providers.llm_fallbacks[%d].name is required", i)
		}
		validateProviderName("llm", p.Name)
	}
	for i, p := range cfg.Providers.EmbeddingsFallbacks {
		if p.Name == "" {
			fail("providers.embeddings_fallbacks[%d].name is required", i)
		}
		validateProviderName("embeddings", p.Name)
	}
	if cfg.Providers.LLM.Name == "" {
		slog.Warn("providers.llm is not configured; generation will not be available")
	}
	if cfg.Providers.Embeddings.Name == "" {
		slog.Warn("providers.embeddings is not configured; semantic retrieval is disabled")
	}

	// Store
	switch cfg.Store.Backend {
	case BackendPostgres:
		if cfg.Store.PostgresDSN == "" {
			fail("store.postgres_dsn is required for the postgres backend")
		}
	case BackendMemory:
		if cfg.Store.CorpusFile == "" {
			slog.Warn("store.corpus_file is empty; the memory backend starts with no fragments")
		}
	default:
		fail("store.backend %q is invalid; valid values: postgres, memory", cfg.Store.Backend)
	}
	if cfg.Store.EmbeddingDimensions < 1 {
		fail("store.embedding_dimensions must be positive, got %d", cfg.Store.EmbeddingDimensions)
	}

	// Retrieval
	r := cfg.Retrieval
	if r.SemanticTopK < 1 {
		fail("retrieval.semantic_top_k must be positive, got %d", r.SemanticTopK)
	}
	if r.Limit < 1 || r.Limit > MaxRetrievalLimit {
		fail("retrieval.limit %d is out of range [1, %d]", r.Limit, MaxRetrievalLimit)
	}
	if (r.StructuralBonus != nil && *r.StructuralBonus < 0) || (r.ProsodyBonus != nil && *r.ProsodyBonus < 0) {
		fail("retrieval bonuses must not be negative")
	}
	if r.LooseSyllableSlack < 0 {
		fail("retrieval.loose_syllable_slack must not be negative, got %d", r.LooseSyllableSlack)
	}
	if r.LooseRhymeUnits < 1 {
		fail("retrieval.loose_rhyme_units must be positive, got %d", r.LooseRhymeUnits)
	}
	if r.StructuralLineLimit < 1 {
		fail("retrieval.structural_line_limit must be positive, got %d", r.StructuralLineLimit)
	}

	// Generation
	g := cfg.Generation
	if g.Candidates < 1 {
		fail("generation.candidates must be positive, got %d", g.Candidates)
	}
	if g.MaxRetries != nil && *g.MaxRetries < 0 {
		fail("generation.max_retries must not be negative, got %d", *g.MaxRetries)
	}
	if g.MaxExemplars < 0 || g.MaxFeedback < 0 {
		fail("generation.max_exemplars and generation.max_feedback must not be negative")
	}
	if g.Temperature < 0 || g.Temperature > 2 {
		fail("generation.temperature %.2f is out of range [0, 2]", g.Temperature)
	}
	if g.MaxTokens < 0 {
		fail("generation.max_tokens must not be negative, got %d", g.MaxTokens)
	}

	// Timeouts
	for _, t := range []struct {
		name string
		d    time.Duration
	}{
		{"embedding", cfg.Timeouts.Embedding},
		{"vector_query", cfg.Timeouts.VectorQuery},
		{"structural_query", cfg.Timeouts.StructuralQuery},
		{"hydration", cfg.Timeouts.Hydration},
		{"exemplars", cfg.Timeouts.Exemplars},
		{"generation", cfg.Timeouts.Generation},
	} {
		if t.d < 0 {
			fail("timeouts.%s %v must not be negative", t.name, t.d)
		}
	}

	// Maintenance
	if cfg.Maintenance.EmbedRatePerSecond <= 0 {
		fail("maintenance.embed_rate_per_second must be positive, got %v", cfg.Maintenance.EmbedRatePerSecond)
	}
	if cfg.Maintenance.EmbedBatchSize < 1 {
		fail("maintenance.embed_batch_size must be positive, got %d", cfg.Maintenance.EmbedBatchSize)
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok || slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name; may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
