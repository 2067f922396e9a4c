package observe

import (
	"context"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	semconv "go.opentelemetry.io/otel/semconv/v1.39.0"
)

func TestSetup(t *testing.T) {
	origMP, origTP, origProp := otel.GetMeterProvider(), otel.GetTracerProvider(), otel.GetTextMapPropagator()
	t.Cleanup(func() {
		otel.SetMeterProvider(origMP)
		otel.SetTracerProvider(origTP)
		otel.SetTextMapPropagator(origProp)
	})

	ctx := context.Background()
	reg := prometheus.NewRegistry()
	exp := tracetest.NewInMemoryExporter()
	tel, err := Setup(ctx, ProviderConfig{ServiceVersion: "test", Registerer: reg, TraceExporter: exp})
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}

	tel.Metrics.TurnsFinalized.Add(ctx, 3)
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	found := false
	for _, f := range families {
		if strings.HasPrefix(f.GetName(), "sous_turns_finalized") {
			found = true
			if got := f.GetMetric()[0].GetCounter().GetValue(); got != 3 {
				t.Errorf("%s = %v, want 3", f.GetName(), got)
			}
		}
	}
	if !found {
		t.Error("turns finalized counter not exported to the registry")
	}

	_, span := StartSpan(ctx, SpanSpeak, AttrBackend.String("remote"))
	span.End()
	if err := tel.TracerProvider.ForceFlush(ctx); err != nil {
		t.Fatalf("ForceFlush: %v", err)
	}
	spans := exp.GetSpans()
	if len(spans) != 1 || spans[0].Name != SpanSpeak {
		t.Fatalf("spans = %v, want one %s", spans, SpanSpeak)
	}
	if v, ok := spans[0].Resource.Set().Value(semconv.ServiceNameKey); !ok || v.AsString() != "sous" {
		t.Errorf("service.name = %v, want sous", v)
	}

	if got := otel.GetTextMapPropagator().Fields(); len(got) == 0 {
		t.Error("trace context propagator not installed")
	}
	if err := tel.Shutdown(ctx); err != nil {
		t.Errorf("Shutdown: %v", err)
	}
}
