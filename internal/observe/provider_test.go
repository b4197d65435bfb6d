package observe

import (
	"context"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// promLabel normalises an attribute key the way the Prometheus exporter may
// escape it.
func promLabel(key string) string {
	return strings.NewReplacer(".", "_").Replace(key)
}

func labelValue(m *dto.Metric, key string) (string, bool) {
	for _, lp := range m.GetLabel() {
		if promLabel(lp.GetName()) == promLabel(key) {
			return lp.GetValue(), true
		}
	}
	return "", false
}

func TestNewTelemetry_Resource(t *testing.T) {
	t.Parallel()

	exp := tracetest.NewInMemoryExporter()
	reg := prometheus.NewRegistry()
	tel, err := NewTelemetry(context.Background(), ProviderConfig{
		ServiceVersion:     "1.2.3",
		StoreBackend:       "postgres",
		LLMProvider:        "openai",
		EmbeddingsProvider: "gemini",
		TraceExporter:      exp,
		Registerer:         reg,
	})
	if err != nil {
		t.Fatalf("NewTelemetry: %v", err)
	}
	t.Cleanup(func() { _ = tel.Shutdown(context.Background()) })

	// Spans carry the deployment attributes.
	_, span := tel.TracerProvider.Tracer("test").Start(context.Background(), SpanRetrieveAndGenerate)
	span.End()
	if err := tel.TracerProvider.ForceFlush(context.Background()); err != nil {
		t.Fatalf("ForceFlush: %v", err)
	}
	spans := exp.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("exported %d spans, want 1", len(spans))
	}
	res := spans[0].Resource.Set()
	for key, want := range map[attribute.Key]string{
		"service.name":             "lybrarian",
		"service.version":          "1.2.3",
		ResourceStoreBackend:       "postgres",
		ResourceLLMProvider:        "openai",
		ResourceEmbeddingsProvider: "gemini",
	} {
		if v, _ := res.Value(key); v.AsString() != want {
			t.Errorf("resource %s = %q, want %q", key, v.AsString(), want)
		}
	}

	// Metrics reach the Prometheus registry with the same resource.
	m, err := NewMetrics(tel.MeterProvider)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	m.RecordSignalLoss(context.Background(), SignalSemantic)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	var sawLoss, sawTarget bool
	for _, f := range families {
		switch name := promLabel(f.GetName()); {
		case strings.HasPrefix(name, "lybrarian_signal_loss"):
			sawLoss = true
			if v, _ := labelValue(f.GetMetric()[0], "signal"); v != SignalSemantic {
				t.Errorf("signal loss label = %q, want %q", v, SignalSemantic)
			}
		case name == "target_info":
			sawTarget = true
			if v, ok := labelValue(f.GetMetric()[0], string(ResourceStoreBackend)); !ok || v != "postgres" {
				t.Errorf("target_info %s = %q, want postgres", ResourceStoreBackend, v)
			}
		}
	}
	if !sawLoss {
		t.Error("signal loss counter not exported to the registry")
	}
	if !sawTarget {
		t.Error("target_info not exported to the registry")
	}
}

func TestNewTelemetry_OmitsEmptyAttributes(t *testing.T) {
	t.Parallel()

	exp := tracetest.NewInMemoryExporter()
	tel, err := NewTelemetry(context.Background(), ProviderConfig{
		TraceExporter: exp,
		Registerer:    prometheus.NewRegistry(),
	})
	if err != nil {
		t.Fatalf("NewTelemetry: %v", err)
	}
	t.Cleanup(func() { _ = tel.Shutdown(context.Background()) })

	_, span := tel.TracerProvider.Tracer("test").Start(context.Background(), SpanGenerate)
	span.End()
	if err := tel.TracerProvider.ForceFlush(context.Background()); err != nil {
		t.Fatalf("ForceFlush: %v", err)
	}
	spans := exp.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("exported %d spans, want 1", len(spans))
	}
	res := spans[0].Resource.Set()
	for _, key := range []attribute.Key{"service.version", ResourceStoreBackend, ResourceLLMProvider, ResourceEmbeddingsProvider} {
		if res.HasValue(key) {
			t.Errorf("resource has %s although it was not configured", key)
		}
	}
	if v, _ := res.Value("service.name"); v.AsString() != "lybrarian" {
		t.Errorf("service.name = %q, want the default", v.AsString())
	}
}
