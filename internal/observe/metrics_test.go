package observe

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
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

// collect gathers all metric data from the reader.
func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

// findMetric searches for a metric by name across all scope metrics.
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

func TestNewMetrics_CreatesWithoutError(t *testing.T) {
	m, _ := newTestMetrics(t)
	if m == nil {
		t.Fatal("NewMetrics returned nil")
	}
}

func TestHistogramObservation(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	histograms := []struct {
		name string
		h    metric.Float64Histogram
	}{
		{"voicepipe.capture.init.duration", m.CaptureInitDuration},
		{"voicepipe.playback.duration", m.PlaybackDuration},
		{"voicepipe.http.request.duration", m.HTTPRequestDuration},
	}

	for _, tc := range histograms {
		tc.h.Record(ctx, 0.123)
		tc.h.Record(ctx, 0.456)
	}

	rm := collect(t, reader)

	for _, tc := range histograms {
		t.Run(tc.name, func(t *testing.T) {
			met := findMetric(rm, tc.name)
			if met == nil {
				t.Fatalf("metric %q not found", tc.name)
			}
			hist, ok := met.Data.(metricdata.Histogram[float64])
			if !ok {
				t.Fatalf("metric %q is not a histogram", tc.name)
			}
			if len(hist.DataPoints) == 0 {
				t.Fatalf("metric %q has no data points", tc.name)
			}
			if got := hist.DataPoints[0].Count; got != 2 {
				t.Errorf("sample count = %d, want 2", got)
			}
		})
	}
}

func TestCounterIncrement(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.FramesEmitted.Add(ctx, 3)
	m.FramesDropped.Add(ctx, 1)
	m.Ringtones.Add(ctx, 1)

	rm := collect(t, reader)

	cases := []struct {
		name string
		want int64
	}{
		{"voicepipe.capture.frames_emitted", 3},
		{"voicepipe.capture.frames_dropped", 1},
		{"voicepipe.playback.ringtones", 1},
	}
	for _, tc := range cases {
		met := findMetric(rm, tc.name)
		if met == nil {
			t.Fatalf("metric %q not found", tc.name)
		}
		sum, ok := met.Data.(metricdata.Sum[int64])
		if !ok {
			t.Fatalf("metric %q is not a sum", tc.name)
		}
		if got := sum.DataPoints[0].Value; got != tc.want {
			t.Errorf("%s = %d, want %d", tc.name, got, tc.want)
		}
	}
}

func TestRecordPlaybackFailure_ReasonAttribute(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordPlaybackFailure(ctx, "fetch")
	m.RecordPlaybackFailure(ctx, "fetch")
	m.RecordPlaybackFailure(ctx, "timeout")

	rm := collect(t, reader)
	met := findMetric(rm, "voicepipe.playback.failures")
	if met == nil {
		t.Fatal("failures metric not found")
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatal("failures metric is not a sum")
	}

	byReason := make(map[string]int64)
	for _, dp := range sum.DataPoints {
		if v, present := dp.Attributes.Value(attribute.Key("reason")); present {
			byReason[v.AsString()] = dp.Value
		}
	}
	if byReason["fetch"] != 2 {
		t.Errorf("fetch failures = %d, want 2", byReason["fetch"])
	}
	if byReason["timeout"] != 1 {
		t.Errorf("timeout failures = %d, want 1", byReason["timeout"])
	}
}

func TestRecordStateTransition_Attributes(t *testing.T) {
	m, reader := newTestMetrics(t)
	m.RecordStateTransition(context.Background(), "listening", "speaking")

	rm := collect(t, reader)
	met := findMetric(rm, "voicepipe.pipeline.state_transitions")
	if met == nil {
		t.Fatal("state transitions metric not found")
	}
	sum := met.Data.(metricdata.Sum[int64])
	if len(sum.DataPoints) != 1 {
		t.Fatalf("data points = %d, want 1", len(sum.DataPoints))
	}
	dp := sum.DataPoints[0]
	if v, _ := dp.Attributes.Value(attribute.Key("from")); v.AsString() != "listening" {
		t.Errorf("from = %q, want listening", v.AsString())
	}
	if v, _ := dp.Attributes.Value(attribute.Key("to")); v.AsString() != "speaking" {
		t.Errorf("to = %q, want speaking", v.AsString())
	}
}

func TestDefaultMetrics_ReturnsSameInstance(t *testing.T) {
	a := DefaultMetrics()
	b := DefaultMetrics()
	if a != b {
		t.Error("DefaultMetrics returned different instances")
	}
}
