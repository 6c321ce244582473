// Package sink delivers generated metrics to an observability backend.
//
// A Sink hands out one MetricsLogger per emission attempt. The logger collects
// a namespace, a timestamp, dimensions, measurements and properties, and Flush
// commits the set. Flush may fail; callers treat failures as per-attempt.
package sink

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/platformbuilds/ecommerce-loadgen/internal/event"
)

// DefaultNamespace is used when a logger is flushed without a namespace.
const DefaultNamespace = "aws-embedded-metrics"

// Kinds of sink selectable by configuration.
const (
	KindStdout = "stdout"
	KindAgent  = "agent"
	KindKafka  = "kafka"
	KindOTel   = "otel"
)

// ErrClosed is returned by Flush after the sink has been closed.
var ErrClosed = errors.New("sink: closed")

// Sink creates loggers for emission attempts.
type Sink interface {
	NewLogger() MetricsLogger
	Close() error
}

// MetricsLogger collects one set of metrics. It is not safe for concurrent use;
// each attempt gets its own.
type MetricsLogger interface {
	SetNamespace(namespace string)
	SetTimestamp(ts time.Time)
	SetDimensions(dims map[string]string)
	PutMetric(name string, value float64, unit event.Unit)
	SetProperty(name string, value any)
	Flush(ctx context.Context) error
}

// Record is the state collected by a MetricsLogger.
type Record struct {
	Namespace  string
	Timestamp  time.Time
	Dimensions map[string]string
	Metrics    []Metric
	Properties map[string]any
}

// Metric is a named series of values sharing a unit.
type Metric struct {
	Name   string
	Unit   event.Unit
	Values []float64
}

// Func adapts a delivery function into a Sink. Handy for tests and for
// callers that already own a transport.
type Func func(ctx context.Context, rec *Record) error

func (f Func) NewLogger() MetricsLogger {
	return newRecorder(f)
}

func (f Func) Close() error { return nil }

// recorder implements the collecting half of MetricsLogger and delegates
// delivery of the finished Record.
type recorder struct {
	rec     Record
	deliver func(ctx context.Context, rec *Record) error
}

func newRecorder(deliver func(ctx context.Context, rec *Record) error) *recorder {
	return &recorder{deliver: deliver}
}

func (r *recorder) SetNamespace(namespace string) { r.rec.Namespace = namespace }

func (r *recorder) SetTimestamp(ts time.Time) { r.rec.Timestamp = ts }

func (r *recorder) SetDimensions(dims map[string]string) {
	r.rec.Dimensions = make(map[string]string, len(dims))
	for k, v := range dims {
		r.rec.Dimensions[k] = v
	}
}

// PutMetric appends to an existing series of the same name; the first unit wins.
func (r *recorder) PutMetric(name string, value float64, unit event.Unit) {
	for i := range r.rec.Metrics {
		if r.rec.Metrics[i].Name == name {
			r.rec.Metrics[i].Values = append(r.rec.Metrics[i].Values, value)
			return
		}
	}
	r.rec.Metrics = append(r.rec.Metrics, Metric{Name: name, Unit: unit, Values: []float64{value}})
}

func (r *recorder) SetProperty(name string, value any) {
	if r.rec.Properties == nil {
		r.rec.Properties = make(map[string]any)
	}
	r.rec.Properties[name] = value
}

func (r *recorder) Flush(ctx context.Context) error {
	if r.rec.Namespace == "" {
		r.rec.Namespace = DefaultNamespace
	}
	if r.rec.Timestamp.IsZero() {
		r.rec.Timestamp = time.Now()
	}
	if err := r.deliver(ctx, &r.rec); err != nil {
		return fmt.Errorf("flush %s: %w", r.rec.Namespace, err)
	}
	return nil
}
