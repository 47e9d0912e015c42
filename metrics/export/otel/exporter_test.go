package otel

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/MrEthical07/sessionkit"
	"github.com/MrEthical07/sessionkit/metrics/export/internaldefs"
)

type fakeSource struct {
	mu        sync.RWMutex
	counters  map[sessionkit.MetricID]uint64
	latency   []uint64
	lifecycle sessionkit.Lifecycle
}

func (f *fakeSource) MetricsSnapshot() sessionkit.MetricsSnapshot {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := sessionkit.MetricsSnapshot{
		Counters:   make(map[sessionkit.MetricID]uint64, len(f.counters)),
		Histograms: map[sessionkit.MetricID][]uint64{},
		Sums:       map[sessionkit.MetricID]time.Duration{},
	}
	for k, v := range f.counters {
		out.Counters[k] = v
	}
	if f.latency != nil {
		out.Histograms[sessionkit.MetricRestoreLatency] = append([]uint64(nil), f.latency...)
		out.Sums[sessionkit.MetricRestoreLatency] = 250 * time.Millisecond
	}
	return out
}

func (f *fakeSource) Lifecycle(context.Context) sessionkit.Lifecycle {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.lifecycle
}

func newReader() (*sdkmetric.ManualReader, *sdkmetric.MeterProvider) {
	reader := sdkmetric.NewManualReader()
	return reader, sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect failed: %v", err)
	}
	return rm
}

// value finds the data point of the named instrument whose attributes are
// exactly attrs.
func value(rm metricdata.ResourceMetrics, name string, attrs ...attribute.KeyValue) (float64, bool) {
	want := attribute.NewSet(attrs...)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			switch data := m.Data.(type) {
			case metricdata.Sum[int64]:
				for _, dp := range data.DataPoints {
					if dp.Attributes.Equals(&want) {
						return float64(dp.Value), true
					}
				}
			case metricdata.Gauge[int64]:
				for _, dp := range data.DataPoints {
					if dp.Attributes.Equals(&want) {
						return float64(dp.Value), true
					}
				}
			case metricdata.Gauge[float64]:
				for _, dp := range data.DataPoints {
					if dp.Attributes.Equals(&want) {
						return dp.Value, true
					}
				}
			}
		}
	}
	return 0, false
}

func TestExporterObservesLifecycleAndCounters(t *testing.T) {
	reader, provider := newReader()
	src := &fakeSource{
		counters: map[sessionkit.MetricID]uint64{sessionkit.MetricSignInSuccess: 3},
		latency:  []uint64{1, 1, 1, 1, 1, 1, 1, 1},
		lifecycle: sessionkit.Lifecycle{
			State:                sessionkit.StateAuthenticated,
			Mode:                 sessionkit.ModeEmbedded,
			SessionAge:           2 * time.Minute,
			PendingConfirmations: 4,
			Audit:                sessionkit.AuditStats{Enabled: true, Backlog: 1, Delivered: 9, Dropped: 1},
		},
	}

	exp, err := NewFromSource(provider.Meter("sessionkit-test"), src)
	if err != nil {
		t.Fatalf("NewFromSource failed: %v", err)
	}
	defer func() {
		if err := exp.Close(); err != nil {
			t.Fatalf("Close failed: %v", err)
		}
	}()

	rm := collect(t, reader)
	tests := []struct {
		name  string
		attrs []attribute.KeyValue
		want  float64
	}{
		{name: "sessionkit_session_state", attrs: []attribute.KeyValue{attribute.String("state", "authenticated")}, want: 1},
		{name: "sessionkit_session_state", attrs: []attribute.KeyValue{attribute.String("state", "anonymous")}, want: 0},
		{name: "sessionkit_session_mode", attrs: []attribute.KeyValue{attribute.String("mode", "embedded")}, want: 1},
		{name: "sessionkit_session_age_seconds", want: 120},
		{name: "sessionkit_pending_store_up", want: 1},
		{name: "sessionkit_pending_confirmations", want: 4},
		{name: "sessionkit_audit_backlog", want: 1},
		{name: "sessionkit_audit_delivered_total", want: 9},
		{name: "sessionkit_audit_dropped_total", want: 1},
		{name: "sessionkit_sign_in_success_total", want: 3},
		{name: "sessionkit_sign_out_total", want: 0},
		{name: "sessionkit_restore_latency_seconds_bucket", attrs: []attribute.KeyValue{attribute.String("le", "0.25")}, want: 4},
		{name: "sessionkit_restore_latency_seconds_bucket", attrs: []attribute.KeyValue{attribute.String("le", "+Inf")}, want: 8},
		{name: "sessionkit_restore_latency_seconds_count", want: 8},
		{name: "sessionkit_restore_latency_seconds_sum", want: 0.25},
	}
	for _, tt := range tests {
		got, ok := value(rm, tt.name, tt.attrs...)
		if !ok {
			t.Fatalf("%s %v not collected", tt.name, tt.attrs)
		}
		if got != tt.want {
			t.Fatalf("%s %v = %v, want %v", tt.name, tt.attrs, got, tt.want)
		}
	}
}

func TestExporterSkipsDisabledParts(t *testing.T) {
	reader, provider := newReader()
	src := &fakeSource{lifecycle: sessionkit.Lifecycle{State: sessionkit.StateAnonymous}}

	exp, err := NewFromSource(provider.Meter("sessionkit-test"), src)
	if err != nil {
		t.Fatalf("NewFromSource failed: %v", err)
	}
	defer exp.Close()

	rm := collect(t, reader)
	if got, ok := value(rm, "sessionkit_session_state", attribute.String("state", "anonymous")); !ok || got != 1 {
		t.Fatalf("anonymous state gauge = %v, %v", got, ok)
	}
	for _, name := range []string{"sessionkit_sign_in_success_total", "sessionkit_audit_backlog", "sessionkit_restore_latency_seconds_count"} {
		if _, ok := value(rm, name); ok {
			t.Fatalf("%s must not be observed while disabled", name)
		}
	}
}

func TestExporterRejectsNilInputs(t *testing.T) {
	_, provider := newReader()
	meter := provider.Meter("sessionkit-test")

	if _, err := NewFromSource(meter, nil); err != ErrNilSource {
		t.Fatalf("expected ErrNilSource, got %v", err)
	}
	if _, err := New(meter, nil); err != ErrNilSource {
		t.Fatalf("expected ErrNilSource for nil manager, got %v", err)
	}
	if _, err := NewFromSource(nil, &fakeSource{}); err != ErrNilMeter {
		t.Fatalf("expected ErrNilMeter, got %v", err)
	}
}

func TestExporterConcurrentCollectNoPanic(t *testing.T) {
	reader, provider := newReader()
	src := &fakeSource{
		counters: map[sessionkit.MetricID]uint64{sessionkit.MetricSignInSuccess: 1},
		latency:  []uint64{1, 0, 0, 0, 0, 0, 0, 0},
	}

	exp, err := NewFromSource(provider.Meter("sessionkit-test"), src)
	if err != nil {
		t.Fatalf("NewFromSource failed: %v", err)
	}
	defer exp.Close()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(v uint64) {
			defer wg.Done()
			src.mu.Lock()
			src.counters[sessionkit.MetricSignInSuccess] = v
			src.lifecycle.State = internaldefs.States[int(v)%len(internaldefs.States)]
			src.mu.Unlock()

			var rm metricdata.ResourceMetrics
			_ = reader.Collect(context.Background(), &rm)
		}(uint64(i + 1))
	}
	wg.Wait()
}
