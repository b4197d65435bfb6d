package observe

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// Resource attribute keys describing how this instance is wired.
const (
	ResourceStoreBackend       = attribute.Key("lybrarian.store.backend")
	ResourceLLMProvider        = attribute.Key("lybrarian.llm.provider")
	ResourceEmbeddingsProvider = attribute.Key("lybrarian.embeddings.provider")
)

// ProviderConfig configures the OpenTelemetry SDK providers.
type ProviderConfig struct {
	// ServiceName defaults to "lybrarian".
	ServiceName    string
	ServiceVersion string

	// StoreBackend, LLMProvider and EmbeddingsProvider become resource
	// attributes so dashboards can split by deployment shape. Empty values
	// are omitted.
	StoreBackend       string
	LLMProvider        string
	EmbeddingsProvider string

	// TraceExporter receives finished spans. When nil, spans are recorded
	// for log correlation but not exported.
	TraceExporter sdktrace.SpanExporter

	// Registerer receives the Prometheus collector. Default:
	// [prometheus.DefaultRegisterer], which the /metrics route serves.
	Registerer prometheus.Registerer
}

// Telemetry owns the SDK meter and tracer providers.
type Telemetry struct {
	MeterProvider  *sdkmetric.MeterProvider
	TracerProvider *sdktrace.TracerProvider
}

// NewTelemetry builds the providers without installing them globally.
func NewTelemetry(ctx context.Context, cfg ProviderConfig) (*Telemetry, error) {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "lybrarian"
	}

	attrs := []attribute.KeyValue{semconv.ServiceName(cfg.ServiceName)}
	if cfg.ServiceVersion != "" {
		attrs = append(attrs, semconv.ServiceVersion(cfg.ServiceVersion))
	}
	for _, kv := range []struct {
		key   attribute.Key
		value string
	}{
		{ResourceStoreBackend, cfg.StoreBackend},
		{ResourceLLMProvider, cfg.LLMProvider},
		{ResourceEmbeddingsProvider, cfg.EmbeddingsProvider},
	} {
		if kv.value != "" {
			attrs = append(attrs, kv.key.String(kv.value))
		}
	}

	// Merging with resource.Default() fails on its differing schema URL.
	res, err := resource.New(ctx,
		resource.WithTelemetrySDK(),
		resource.WithFromEnv(),
		resource.WithAttributes(attrs...),
	)
	if err != nil {
		return nil, fmt.Errorf("observe: build resource: %w", err)
	}

	var promOpts []promexporter.Option
	if cfg.Registerer != nil {
		promOpts = append(promOpts, promexporter.WithRegisterer(cfg.Registerer))
	}
	promExp, err := promexporter.New(promOpts...)
	if err != nil {
		return nil, fmt.Errorf("observe: prometheus exporter: %w", err)
	}

	tpOpts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}
	if cfg.TraceExporter != nil {
		tpOpts = append(tpOpts, sdktrace.WithBatcher(cfg.TraceExporter))
	}

	return &Telemetry{
		MeterProvider:  sdkmetric.NewMeterProvider(sdkmetric.WithResource(res), sdkmetric.WithReader(promExp)),
		TracerProvider: sdktrace.NewTracerProvider(tpOpts...),
	}, nil
}

// Install registers both providers as the OTel globals used by [Tracer] and
// [DefaultMetrics].
func (t *Telemetry) Install() {
	otel.SetMeterProvider(t.MeterProvider)
	otel.SetTracerProvider(t.TracerProvider)
}

// Shutdown flushes pending spans and stops both providers.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	return errors.Join(
		t.TracerProvider.Shutdown(ctx),
		t.MeterProvider.Shutdown(ctx),
	)
}

// InitProvider builds and installs the telemetry providers. Call the returned
// shutdown function before exit.
func InitProvider(ctx context.Context, cfg ProviderConfig) (shutdown func(context.Context) error, err error) {
	t, err := NewTelemetry(ctx, cfg)
	if err != nil {
		return nil, err
	}
	t.Install()
	return t.Shutdown, nil
}
