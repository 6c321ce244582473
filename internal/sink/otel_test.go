package sink

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/platformbuilds/ecommerce-loadgen/internal/event"
)

func TestOTelSink_RecordsHistograms(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer mp.Shutdown(context.Background())

	s := NewOTelSink(mp.Meter("test"))
	for i := 0; i < 2; i++ {
		l := s.NewLogger()
		fill(l)
		if err := l.Flush(context.Background()); err != nil {
			t.Fatalf("Flush: %v", err)
		}
	}
	if !s.Registry().Has("EcommerceMetrics.LatencyP95") || !s.Registry().Has("EcommerceMetrics.PageViews") {
		t.Fatalf("expected instruments to be registered")
	}

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	found := map[string]metricdata.Metrics{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			found[m.Name] = m
		}
	}

	latency, ok := found["EcommerceMetrics.LatencyP95"]
	if !ok {
		t.Fatalf("latency histogram not exported; got %v", found)
	}
	if latency.Unit != "ms" {
		t.Fatalf("unit = %q, want ms", latency.Unit)
	}
	hist, ok := latency.Data.(metricdata.Histogram[float64])
	if !ok || len(hist.DataPoints) != 1 {
		t.Fatalf("unexpected data: %#v", latency.Data)
	}
	dp := hist.DataPoints[0]
	if dp.Count != 2 {
		t.Fatalf("count = %d, want 2", dp.Count)
	}
	if v, ok := dp.Attributes.Value(attribute.Key("Service")); !ok || v.AsString() != "EcommerceApp" {
		t.Fatalf("missing Service attribute: %v", dp.Attributes)
	}

	views := found["EcommerceMetrics.PageViews"].Data.(metricdata.Histogram[float64])
	if views.DataPoints[0].Count != 4 {
		t.Fatalf("page views count = %d, want 4", views.DataPoints[0].Count)
	}

	records, ok := found["EcommerceMetrics.records"].Data.(metricdata.Sum[int64])
	if !ok || len(records.DataPoints) != 1 || records.DataPoints[0].Value != 2 {
		t.Fatalf("records counter = %#v, want a single point of 2", found["EcommerceMetrics.records"].Data)
	}
}

func TestOTelUnit(t *testing.T) {
	cases := map[event.Unit]string{
		event.UnitCount:        "{count}",
		event.UnitPercent:      "%",
		event.UnitMilliseconds: "ms",
		event.UnitSeconds:      "s",
		event.UnitNone:         "",
	}
	for in, want := range cases {
		if got := OTelUnit(in); got != want {
			t.Fatalf("OTelUnit(%s) = %q, want %q", in, got, want)
		}
	}
}

func TestFailingSink(t *testing.T) {
	var delivered int
	base := Func(func(context.Context, *Record) error {
		delivered++
		return nil
	})

	if WithFailureRate(base, 0, nil) == nil {
		t.Fatalf("zero rate should return the wrapped sink")
	}

	always := WithFailureRate(base, 1, event.NewLockedRand(1))
	for i := 0; i < 50; i++ {
		if err := always.NewLogger().Flush(context.Background()); !errors.Is(err, ErrInjectedFailure) {
			t.Fatalf("expected injected failure, got %v", err)
		}
	}
	if delivered != 0 {
		t.Fatalf("failed flushes must not reach the wrapped sink")
	}

	half := WithFailureRate(base, 0.5, event.NewLockedRand(3))
	var failed int
	for i := 0; i < 10000; i++ {
		if err := half.NewLogger().Flush(context.Background()); err != nil {
			failed++
		}
	}
	if failed < 4500 || failed > 5500 {
		t.Fatalf("failed %d of 10000 at rate 0.5", failed)
	}
	if delivered != 10000-failed {
		t.Fatalf("delivered %d, want %d", delivered, 10000-failed)
	}
}
