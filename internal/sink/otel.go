package sink

import (
	"context"
	"errors"
	"sort"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/platformbuilds/ecommerce-loadgen/internal/event"
	"github.com/platformbuilds/ecommerce-loadgen/internal/telemetry"
)

// OTelSink records measurements as OTel histograms named
// "<namespace>.<metric>", attributed with the dimensions, and counts flushed
// records in "<namespace>.records". Properties have no OTel metric equivalent
// and are dropped.
type OTelSink struct {
	registry *telemetry.Registry
}

const recordsCounter = "records"

// NewOTelSink records into instruments created from meter.
func NewOTelSink(meter metric.Meter) *OTelSink {
	return &OTelSink{registry: telemetry.NewRegistry(meter)}
}

// Registry exposes the instruments created so far.
func (s *OTelSink) Registry() *telemetry.Registry {
	return s.registry
}

func (s *OTelSink) NewLogger() MetricsLogger {
	return newRecorder(s.deliver)
}

func (s *OTelSink) deliver(ctx context.Context, rec *Record) error {
	keys := make([]string, 0, len(rec.Dimensions))
	for k := range rec.Dimensions {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	attrs := make([]attribute.KeyValue, 0, len(keys))
	for _, k := range keys {
		attrs = append(attrs, attribute.String(k, rec.Dimensions[k]))
	}
	opt := metric.WithAttributeSet(attribute.NewSet(attrs...))

	var errs []error
	for _, m := range rec.Metrics {
		name := rec.Namespace + "." + m.Name
		if _, err := s.registry.Histogram(name, OTelUnit(m.Unit), ""); err != nil {
			errs = append(errs, err)
			continue
		}
		for _, v := range m.Values {
			if err := s.registry.RecordFloat(ctx, name, v, opt); err != nil {
				errs = append(errs, err)
			}
		}
	}

	records := rec.Namespace + "." + recordsCounter
	if _, err := s.registry.Counter(records, "{record}", "Records flushed to the otel sink"); err != nil {
		errs = append(errs, err)
	} else if err := s.registry.AddInt(ctx, records, 1, metric.WithAttributeSet(attribute.NewSet(attrs...))); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (s *OTelSink) Close() error { return nil }

// OTelUnit maps a measurement unit to its UCUM form.
func OTelUnit(u event.Unit) string {
	switch u {
	case event.UnitCount:
		return "{count}"
	case event.UnitPercent:
		return "%"
	case event.UnitMilliseconds:
		return "ms"
	case event.UnitSeconds:
		return "s"
	}
	return ""
}
