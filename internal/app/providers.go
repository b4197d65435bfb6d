package app

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/MrWong99/lybrarian/internal/config"
	"github.com/MrWong99/lybrarian/internal/resilience"
	"github.com/MrWong99/lybrarian/pkg/provider/embeddings"
	"github.com/MrWong99/lybrarian/pkg/provider/llm"
)

// Providers holds one interface value per provider slot. Nil means the
// provider is not configured.
type Providers struct {
	LLM        llm.Provider
	Embeddings embeddings.Provider
}

// BuildProviders instantiates the configured providers through reg. A slot
// with fallbacks is wrapped in a resilience fallback so that each backend
// sits behind its own circuit breaker.
func BuildProviders(cfg *config.Config, reg *config.Registry) (*Providers, error) {
	ps := &Providers{}
	fbCfg := resilience.FallbackConfig{}

	if entry := cfg.Providers.LLM; entry.Name != "" {
		primary, err := reg.CreateLLM(entry)
		if err != nil {
			return nil, fmt.Errorf("app: create llm provider %q: %w", entry.Name, err)
		}
		slog.Info("provider created", "kind", "llm", "name", entry.Name, "model", entry.Model)
		ps.LLM = primary

		if len(cfg.Providers.LLMFallbacks) > 0 {
			fb := resilience.NewLLMFallback(primary, entry.Name, fbCfg)
			for _, fe := range cfg.Providers.LLMFallbacks {
				p, err := reg.CreateLLM(fe)
				if errors.Is(err, config.ErrProviderNotRegistered) {
					slog.Warn("skipping unregistered llm fallback", "name", fe.Name)
					continue
				}
				if err != nil {
					return nil, fmt.Errorf("app: create llm fallback %q: %w", fe.Name, err)
				}
				fb.AddFallback(fe.Name, p)
			}
			ps.LLM = fb
		}
	}

	if entry := cfg.Providers.Embeddings; entry.Name != "" {
		primary, err := reg.CreateEmbeddings(entry)
		if err != nil {
			return nil, fmt.Errorf("app: create embeddings provider %q: %w", entry.Name, err)
		}
		slog.Info("provider created", "kind", "embeddings", "name", entry.Name, "model", primary.ModelID())
		ps.Embeddings = primary

		if len(cfg.Providers.EmbeddingsFallbacks) > 0 {
			fb := resilience.NewEmbeddingsFallback(primary, entry.Name, fbCfg)
			for _, fe := range cfg.Providers.EmbeddingsFallbacks {
				p, err := reg.CreateEmbeddings(fe)
				if errors.Is(err, config.ErrProviderNotRegistered) {
					slog.Warn("skipping unregistered embeddings fallback", "name", fe.Name)
					continue
				}
				if err != nil {
					return nil, fmt.Errorf("app: create embeddings fallback %q: %w", fe.Name, err)
				}
				if err := fb.AddFallback(fe.Name, p); err != nil {
					return nil, fmt.Errorf("app: %w", err)
				}
			}
			ps.Embeddings = fb
		}
	}

	if ps.Embeddings != nil && ps.Embeddings.Dimensions() != 0 &&
		cfg.Store.Backend == config.BackendPostgres &&
		ps.Embeddings.Dimensions() != cfg.Store.EmbeddingDimensions {
		return nil, fmt.Errorf("app: embeddings model %s produces %d dimensions, store.embedding_dimensions is %d",
			ps.Embeddings.ModelID(), ps.Embeddings.Dimensions(), cfg.Store.EmbeddingDimensions)
	}
	return ps, nil
}
