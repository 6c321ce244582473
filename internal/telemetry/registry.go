package telemetry

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel/metric"
)

// Registry holds instruments created on demand, keyed by name.
type Registry struct {
	meter   metric.Meter
	mu      sync.RWMutex
	metrics map[string]*instrumentHandle
}

type instrumentHandle struct {
	name  string
	mtype string // counter|histogram
	unit  string

	intCounter metric.Int64Counter
	floatHist  metric.Float64Histogram
}

// NewRegistry creates a registry backed by the provided meter.
func NewRegistry(m metric.Meter) *Registry {
	return &Registry{meter: m, metrics: make(map[string]*instrumentHandle)}
}

// Has returns true if an instrument by that name exists in the registry.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.metrics[name]
	return ok
}

// Len returns the number of registered instruments.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.metrics)
}

// Histogram returns the float histogram registered under name, creating it on
// first use. The unit of the first registration wins.
func (r *Registry) Histogram(name, unit, description string) (metric.Float64Histogram, error) {
	mh, err := r.getOrCreate(name, "histogram", unit, func() (*instrumentHandle, error) {
		h, err := r.meter.Float64Histogram(name, metric.WithUnit(unit), metric.WithDescription(description))
		if err != nil {
			return nil, err
		}
		return &instrumentHandle{floatHist: h}, nil
	})
	if err != nil {
		return nil, err
	}
	return mh.floatHist, nil
}

// Counter returns the int counter registered under name, creating it on first use.
func (r *Registry) Counter(name, unit, description string) (metric.Int64Counter, error) {
	mh, err := r.getOrCreate(name, "counter", unit, func() (*instrumentHandle, error) {
		c, err := r.meter.Int64Counter(name, metric.WithUnit(unit), metric.WithDescription(description))
		if err != nil {
			return nil, err
		}
		return &instrumentHandle{intCounter: c}, nil
	})
	if err != nil {
		return nil, err
	}
	return mh.intCounter, nil
}

func (r *Registry) getOrCreate(name, mtype, unit string, create func() (*instrumentHandle, error)) (*instrumentHandle, error) {
	if name == "" {
		return nil, errors.New("instrument: name required")
	}
	r.mu.RLock()
	mh, ok := r.metrics[name]
	r.mu.RUnlock()
	if !ok {
		r.mu.Lock()
		// another goroutine may have created it meanwhile
		if mh, ok = r.metrics[name]; !ok {
			var err error
			mh, err = create()
			if err != nil {
				r.mu.Unlock()
				return nil, fmt.Errorf("create instrument %s: %w", name, err)
			}
			mh.name, mh.mtype, mh.unit = name, mtype, unit
			r.metrics[name] = mh
		}
		r.mu.Unlock()
	}
	if mh.mtype != mtype {
		return nil, fmt.Errorf("metric '%s' is a %s, not a %s", name, mh.mtype, mtype)
	}
	return mh, nil
}

// RecordFloat records a value for a registered float histogram.
func (r *Registry) RecordFloat(ctx context.Context, name string, value float64, opts ...metric.RecordOption) error {
	r.mu.RLock()
	mh, ok := r.metrics[name]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("metric '%s' not registered", name)
	}
	if mh.floatHist == nil {
		return fmt.Errorf("metric '%s' is not a float histogram", name)
	}
	mh.floatHist.Record(ctx, value, opts...)
	return nil
}

// AddInt adds a delta to a registered int counter.
func (r *Registry) AddInt(ctx context.Context, name string, delta int64, opts ...metric.AddOption) error {
	r.mu.RLock()
	mh, ok := r.metrics[name]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("metric '%s' not registered", name)
	}
	if mh.intCounter == nil {
		return fmt.Errorf("metric '%s' is not an int counter", name)
	}
	mh.intCounter.Add(ctx, delta, opts...)
	return nil
}
