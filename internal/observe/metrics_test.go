package observe

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/MrWong99/sous/internal/resilience"
	"github.com/MrWong99/sous/pkg/audio"
	"github.com/MrWong99/sous/pkg/provider"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// newTestMetrics returns a Metrics instance backed by a ManualReader for
// programmatic metric inspection.
func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

// sumWhere returns the int64 sum data point value whose attributes include
// every key/value in match.
func sumWhere(t *testing.T, rm metricdata.ResourceMetrics, name string, match map[string]string) int64 {
	t.Helper()
	met := findMetric(rm, name)
	if met == nil {
		t.Fatalf("metric %q not found", name)
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("metric %q is not an int64 sum", name)
	}
	for _, dp := range sum.DataPoints {
		hit := 0
		for _, kv := range dp.Attributes.ToSlice() {
			if v, ok := match[string(kv.Key)]; ok && kv.Value.AsString() == v {
				hit++
			}
		}
		if hit == len(match) {
			return dp.Value
		}
	}
	t.Fatalf("metric %q has no data point matching %v", name, match)
	return 0
}

func TestHistogramObservation(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	start := time.Now().Add(-250 * time.Millisecond)
	RecordSince(ctx, m.AssistantDuration, start)
	RecordSince(ctx, m.SynthesisDuration, start, Attr("backend", "remote"))
	RecordSince(ctx, m.TurnDuration, start)

	rm := collect(t, reader)
	for _, name := range []string{"sous.assistant.duration", "sous.synthesis.duration", "sous.turn.duration"} {
		t.Run(name, func(t *testing.T) {
			met := findMetric(rm, name)
			if met == nil {
				t.Fatalf("metric %q not found", name)
			}
			hist, ok := met.Data.(metricdata.Histogram[float64])
			if !ok || len(hist.DataPoints) == 0 {
				t.Fatalf("metric %q has no histogram data", name)
			}
			if dp := hist.DataPoints[0]; dp.Count != 1 || dp.Sum < 0.25 {
				t.Errorf("count=%d sum=%v, want 1 sample >= 0.25s", dp.Count, dp.Sum)
			}
		})
	}
}

func TestRecordTransition(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordTransition(ctx, "listening", "thinking")
	m.RecordTransition(ctx, "listening", "thinking")
	m.RecordTransition(ctx, "thinking", "speaking")

	rm := collect(t, reader)
	if got := sumWhere(t, rm, "sous.state.transitions", map[string]string{"from": "listening", "to": "thinking"}); got != 2 {
		t.Errorf("listening->thinking = %d, want 2", got)
	}
}

func TestRecordError(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordError(ctx, "assistant", fmt.Errorf("recipeservice: %w", provider.ErrNetwork))
	m.RecordError(ctx, "speech", provider.ErrCredentialUnavailable)

	rm := collect(t, reader)
	if got := sumWhere(t, rm, "sous.errors", map[string]string{"stage": "assistant", "kind": "network"}); got != 1 {
		t.Errorf("assistant/network = %d, want 1", got)
	}
	if got := sumWhere(t, rm, "sous.errors", map[string]string{"stage": "speech", "kind": "credential"}); got != 1 {
		t.Errorf("speech/credential = %d, want 1", got)
	}
}

func TestRecordCredentialFetch(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordCredentialFetch(ctx, false)
	m.RecordCredentialFetch(ctx, true)

	rm := collect(t, reader)
	for _, status := range []string{"ok", "error"} {
		if got := sumWhere(t, rm, "sous.credential.fetches", map[string]string{"status": status}); got != 1 {
			t.Errorf("status=%s = %d, want 1", status, got)
		}
	}
}

func TestSpeakingGauge(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.Speaking.Add(ctx, 1)
	m.Speaking.Add(ctx, -1)
	m.Speaking.Add(ctx, 1)

	if got := sumWhere(t, collect(t, reader), "sous.speaking", nil); got != 1 {
		t.Errorf("sous.speaking = %d, want 1", got)
	}
}

func TestErrorKind(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, "none"},
		{context.Canceled, "cancelled"},
		{fmt.Errorf("assistant: %w", context.DeadlineExceeded), "timeout"},
		{fmt.Errorf("turn: %w", audio.ErrCaptureUnavailable), "capture"},
		{provider.ErrCredentialUnavailable, "credential"},
		{fmt.Errorf("x: %w", resilience.ErrCircuitOpen), "circuit_open"},
		{fmt.Errorf("x: %w", provider.ErrNetwork), "network"},
		{fmt.Errorf("x: %w", provider.ErrDecode), "decode"},
		{errors.New("boom"), "other"},
	}
	for _, tc := range tests {
		if got := ErrorKind(tc.err); got != tc.want {
			t.Errorf("ErrorKind(%v) = %q, want %q", tc.err, got, tc.want)
		}
	}
}

func TestDefaultMetrics_ReturnsSameInstance(t *testing.T) {
	if DefaultMetrics() != DefaultMetrics() {
		t.Error("DefaultMetrics returned different pointers")
	}
}
