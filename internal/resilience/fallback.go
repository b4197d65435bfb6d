package resilience

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrWong99/lybrarian/internal/observe"
)

// ErrAllFailed is returned when every entry in a [FallbackGroup] fails or has
// an open circuit breaker.
var ErrAllFailed = errors.New("resilience: all providers failed")

// errCallerCancelled marks errors caused by the caller's own context.
var errCallerCancelled = errors.New("resilience: caller cancelled")

type cancelledError struct{ err error }

func (e *cancelledError) Error() string   { return e.err.Error() }
func (e *cancelledError) Unwrap() []error { return []error{errCallerCancelled, e.err} }

// FallbackConfig configures the circuit breaker created for each provider in
// a [FallbackGroup].
type FallbackConfig struct {
	CircuitBreaker CircuitBreakerConfig
}

type fallbackEntry[T any] struct {
	name    string
	value   T
	breaker *CircuitBreaker
}

// FallbackGroup holds a primary and zero or more fallback instances of the
// same provider type. Entries are tried in registration order; entries whose
// breaker is open are skipped.
//
// Fallbacks must be registered before the group is used concurrently.
type FallbackGroup[T any] struct {
	entries []fallbackEntry[T]
	cfg     FallbackConfig
	metrics *observe.Metrics
	kind    string
}

// NewFallbackGroup creates a [FallbackGroup] with primary as the first entry.
// kind labels provider metrics ("llm", "embeddings").
func NewFallbackGroup[T any](kind string, primary T, primaryName string, cfg FallbackConfig) *FallbackGroup[T] {
	fg := &FallbackGroup[T]{cfg: cfg, kind: kind, metrics: observe.DefaultMetrics()}
	fg.AddFallback(primaryName, primary)
	return fg
}

// AddFallback appends a provider after the existing entries.
func (fg *FallbackGroup[T]) AddFallback(name string, fallback T) {
	cbCfg := fg.cfg.CircuitBreaker
	cbCfg.Name = name
	fg.entries = append(fg.entries, fallbackEntry[T]{
		name:    name,
		value:   fallback,
		breaker: NewCircuitBreaker(cbCfg),
	})
}

// SetMetrics replaces the metrics sink.
func (fg *FallbackGroup[T]) SetMetrics(m *observe.Metrics) { fg.metrics = m }

// Primary returns the first entry's provider.
func (fg *FallbackGroup[T]) Primary() T { return fg.entries[0].value }

// Names returns the entry names in failover order.
func (fg *FallbackGroup[T]) Names() []string {
	out := make([]string, len(fg.entries))
	for i, e := range fg.entries {
		out[i] = e.name
	}
	return out
}

// ExecuteWithResult calls fn against each entry of fg in order until one
// succeeds. It stops at once when ctx is done, returning the context error
// unwrapped by [ErrAllFailed]. When every entry fails the result wraps both
// [ErrAllFailed] and the last provider error.
func ExecuteWithResult[T, R any](ctx context.Context, fg *FallbackGroup[T], fn func(context.Context, T) (R, error)) (R, error) {
	var (
		zero    R
		lastErr error
	)
	log := observe.ComponentLogger(ctx, "resilience")

	for i := range fg.entries {
		entry := &fg.entries[i]
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		var result R
		err := entry.breaker.Execute(func() error {
			var callErr error
			result, callErr = fn(ctx, entry.value)
			if callErr != nil && ctx.Err() != nil {
				return &cancelledError{err: callErr}
			}
			return callErr
		})
		if err == nil {
			fg.metrics.RecordProviderRequest(ctx, entry.name, fg.kind, "ok")
			if i > 0 {
				log.Info("served by fallback provider", "kind", fg.kind, "provider", entry.name)
			}
			return result, nil
		}

		var ce *cancelledError
		if errors.As(err, &ce) {
			return zero, ce.err
		}
		lastErr = err
		if errors.Is(err, ErrCircuitOpen) {
			log.Debug("skipping provider (circuit open)", "kind", fg.kind, "provider", entry.name)
			continue
		}
		fg.metrics.RecordProviderRequest(ctx, entry.name, fg.kind, "error")
		fg.metrics.RecordProviderError(ctx, entry.name, fg.kind)
		log.Warn("provider failed, trying next", "kind", fg.kind, "provider", entry.name, "err", err)
	}
	return zero, fmt.Errorf("%w: %w", ErrAllFailed, lastErr)
}

// Execute is [ExecuteWithResult] for calls without a result value.
func (fg *FallbackGroup[T]) Execute(ctx context.Context, fn func(context.Context, T) error) error {
	_, err := ExecuteWithResult(ctx, fg, func(ctx context.Context, v T) (struct{}, error) {
		return struct{}{}, fn(ctx, v)
	})
	return err
}
