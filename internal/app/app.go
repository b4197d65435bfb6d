// Package app wires the lybrarian subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves the HTTP API until its context is cancelled, and
// Shutdown tears everything down in order.
//
// For testing, inject doubles via functional options (WithStore,
// WithMetrics). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/MrWong99/lybrarian/internal/api"
	"github.com/MrWong99/lybrarian/internal/config"
	"github.com/MrWong99/lybrarian/internal/engine"
	"github.com/MrWong99/lybrarian/internal/generate"
	"github.com/MrWong99/lybrarian/internal/genctx"
	"github.com/MrWong99/lybrarian/internal/health"
	"github.com/MrWong99/lybrarian/internal/maintenance"
	"github.com/MrWong99/lybrarian/internal/observe"
	"github.com/MrWong99/lybrarian/internal/retrieval"
	"github.com/MrWong99/lybrarian/internal/strictness"
	"github.com/MrWong99/lybrarian/internal/validate"
	"github.com/MrWong99/lybrarian/pkg/fragment"
	"github.com/MrWong99/lybrarian/pkg/fragment/memstore"
	"github.com/MrWong99/lybrarian/pkg/fragment/postgres"
	"github.com/MrWong99/lybrarian/pkg/prosody"
)

// ShutdownGrace bounds how long Run waits for in-flight requests.
const ShutdownGrace = 15 * time.Second

// ErrNoLLM is returned by generation when no language model is configured.
// It wraps [generate.ErrProvider] so the API reports it as an upstream failure.
var ErrNoLLM = fmt.Errorf("%w: no language model configured", generate.ErrProvider)

// Store is everything the application needs from a fragment backend.
type Store interface {
	fragment.Store
	fragment.VectorIndex
	fragment.ExemplarStore
	fragment.Maintainer
	fragment.Pinger
}

var (
	_ Store = (*postgres.Store)(nil)
	_ Store = (*memstore.Store)(nil)
)

// App owns all subsystem lifetimes.
type App struct {
	cfg       *config.Config
	providers *Providers
	metrics   *observe.Metrics

	// Subsystems, initialised in New and torn down in Shutdown.
	store       Store
	analyzer    *prosody.Analyzer
	engine      *engine.Engine
	maintenance *maintenance.Runner
	health      *health.Handler
	handler     http.Handler

	// closers are called in order during Shutdown.
	closers []func() error

	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithStore injects a fragment store instead of creating one from config.
func WithStore(s Store) Option {
	return func(a *App) { a.store = s }
}

// WithMetrics sets the metrics sink. Defaults to observe.DefaultMetrics().
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. providers comes from
// [BuildProviders]; either field may be nil.
//
// New performs all initialisation synchronously: dictionary loading, store
// connection and migration (or corpus loading and embedding), then engine and
// HTTP handler assembly.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil {
		providers = &Providers{}
	}
	a := &App{cfg: cfg, providers: providers}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 1. Phonetic analyzer ─────────────────────────────────────────────
	if err := a.initAnalyzer(); err != nil {
		return nil, fmt.Errorf("app: init analyzer: %w", err)
	}

	// ── 2. Fragment store ────────────────────────────────────────────────
	if err := a.initStore(ctx); err != nil {
		a.close()
		return nil, fmt.Errorf("app: init store: %w", err)
	}

	// ── 3. Maintenance jobs ──────────────────────────────────────────────
	a.maintenance = maintenance.New(maintenance.Config{
		Store:     a.store,
		Analyzer:  a.analyzer,
		Embedder:  a.providers.Embeddings,
		EmbedRate: cfg.Maintenance.EmbedRatePerSecond,
		BatchSize: cfg.Maintenance.EmbedBatchSize,
	})
	if err := a.embedCorpus(ctx); err != nil {
		a.close()
		return nil, fmt.Errorf("app: embed corpus: %w", err)
	}

	// ── 4. Engine ────────────────────────────────────────────────────────
	a.engine = a.buildEngine()

	// ── 5. HTTP surface ──────────────────────────────────────────────────
	a.health = health.New([]health.Checker{health.Ping("store", a.store)})
	a.handler = api.Routes(api.New(a.engine), a.health, a.metrics)

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

func (a *App) initAnalyzer() error {
	path := a.cfg.Prosody.DictionaryPath
	if path == "" {
		a.analyzer = prosody.New()
		return nil
	}
	dict, err := prosody.LoadDictionary(path)
	if err != nil {
		return err
	}
	slog.Info("loaded pronunciation dictionary", "path", path, "words", dict.Len())
	a.analyzer = prosody.New(prosody.WithDictionary(dict))
	return nil
}

// initStore opens the configured backend unless one was injected.
func (a *App) initStore(ctx context.Context) error {
	if a.store != nil {
		return nil
	}

	switch a.cfg.Store.Backend {
	case config.BackendPostgres:
		store, err := postgres.Open(ctx, a.cfg.Store.PostgresDSN, a.cfg.Store.EmbeddingDimensions)
		if err != nil {
			return err
		}
		a.store = store
		a.closers = append(a.closers, func() error {
			store.Close()
			return nil
		})
		slog.Info("connected to postgres fragment store", "dimensions", a.cfg.Store.EmbeddingDimensions)

	case config.BackendMemory:
		store := memstore.New()
		if path := a.cfg.Store.CorpusFile; path != "" {
			cf, err := memstore.LoadCorpusFile(path)
			if err != nil {
				return err
			}
			n, err := store.Import(ctx, cf, a.analyzer)
			if err != nil {
				return fmt.Errorf("import corpus %q: %w", path, err)
			}
			slog.Info("loaded corpus file", "path", path, "fragments", n, "exemplars", len(cf.Exemplars))
		}
		a.store = store

	default:
		return fmt.Errorf("unsupported store backend %q", a.cfg.Store.Backend)
	}
	return nil
}

// embedCorpus embeds a freshly loaded in-memory corpus. Persistent backends
// are backfilled explicitly with the reembed command.
func (a *App) embedCorpus(ctx context.Context) error {
	if a.cfg.Store.Backend != config.BackendMemory || a.providers.Embeddings == nil {
		return nil
	}
	if _, ok := a.store.(*memstore.Store); !ok {
		return nil
	}
	report, err := a.maintenance.Reembed(ctx)
	if err != nil {
		return err
	}
	if report.Failed > 0 {
		slog.Warn("some corpus fragments could not be embedded; they are only reachable structurally",
			"failed", report.Failed)
	}
	return nil
}

// buildEngine assembles the retrieval and generation pipeline from config.
func (a *App) buildEngine() *engine.Engine {
	cfg := a.cfg
	translator := strictness.NewTranslator(
		strictness.WithLooseSyllableSlack(cfg.Retrieval.LooseSyllableSlack),
		strictness.WithLooseRhymeUnits(cfg.Retrieval.LooseRhymeUnits),
	)

	var semantic *retrieval.Semantic
	if emb := a.providers.Embeddings; emb != nil {
		semantic = retrieval.NewSemantic(emb, a.store, cfg.Retrieval.SemanticTopK,
			cfg.Timeouts.Embedding, cfg.Timeouts.VectorQuery, a.metrics)
	} else {
		slog.Warn("no embeddings provider; semantic retrieval disabled")
	}
	structural := retrieval.NewStructural(a.store, cfg.Retrieval.StructuralLineLimit,
		cfg.Timeouts.StructuralQuery, a.metrics)
	retriever := retrieval.New(semantic, structural,
		retrieval.WithTranslator(translator),
		retrieval.WithMergeOptions(retrieval.MergeOptions{
			StructuralBonus: cfg.Retrieval.StructuralBonus,
			ProsodyBonus:    cfg.Retrieval.ProsodyBonus,
			Limit:           cfg.Retrieval.Limit,
		}),
	)

	assembler := genctx.NewAssembler(a.store, a.store,
		genctx.WithTranslator(translator),
		genctx.WithMaxExemplars(cfg.Generation.MaxExemplars),
		genctx.WithMaxFeedback(cfg.Generation.MaxFeedback),
		genctx.WithHydrationTimeout(cfg.Timeouts.Hydration),
		genctx.WithExemplarTimeout(cfg.Timeouts.Exemplars),
	)

	var generator engine.Generator = unavailableGenerator{}
	if p := a.providers.LLM; p != nil {
		generator = generate.New(p,
			generate.WithCandidates(cfg.Generation.Candidates),
			generate.WithTemperature(cfg.Generation.Temperature),
			generate.WithMaxTokens(cfg.Generation.MaxTokens),
			generate.WithTimeout(cfg.Timeouts.Generation),
			generate.WithMetrics(a.metrics),
		)
	} else {
		slog.Warn("no llm provider; generation requests will fail")
	}

	retries := config.DefaultMaxRetries
	if cfg.Generation.MaxRetries != nil {
		retries = *cfg.Generation.MaxRetries
	}
	validator := validate.New(a.analyzer,
		validate.WithMaxRetries(retries),
		validate.WithRhymeUnits(cfg.Retrieval.LooseRhymeUnits),
		validate.WithMetrics(a.metrics),
	)

	return engine.New(a.analyzer, retriever, assembler, generator, validator,
		engine.WithMetrics(a.metrics))
}

type unavailableGenerator struct{}

func (unavailableGenerator) Generate(context.Context, genctx.Prompt, int) ([]generate.Candidate, error) {
	return nil, ErrNoLLM
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Engine returns the request pipeline.
func (a *App) Engine() *engine.Engine { return a.engine }

// Maintenance returns the corpus maintenance runner.
func (a *App) Maintenance() *maintenance.Runner { return a.maintenance }

// Handler returns the HTTP handler serving the API, probes and metrics.
func (a *App) Handler() http.Handler { return a.handler }

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves the HTTP API on the configured listen address and blocks until
// ctx is cancelled or the server fails. On cancellation /readyz starts
// failing first, then in-flight requests get [ShutdownGrace] to complete.
func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.cfg.Server.ListenAddr,
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		var err error
		if tls := a.cfg.Server.TLS; tls != nil {
			err = srv.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
		} else {
			err = srv.ListenAndServe()
		}
		errCh <- err
	}()
	slog.Info("http server listening", "addr", a.cfg.Server.ListenAddr, "tls", a.cfg.Server.TLS != nil)

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: serve: %w", err)
	case <-ctx.Done():
	}

	a.health.SetDraining(true)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownGrace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("app: http shutdown: %w", err)
	}
	<-errCh
	return nil
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown tears down all subsystems in init order. It respects the context
// deadline: if ctx expires before all closers finish, remaining closers are
// skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))
		if a.health != nil {
			a.health.SetDraining(true)
		}
		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}
		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// close runs closers after a failed New.
func (a *App) close() {
	for _, c := range a.closers {
		_ = c()
	}
}
