package emitter

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics exposes the loop's own behaviour to Prometheus, namespaced "loadgen_":
//
//	ticks_total, skipped_ticks_total     ticks fired and ticks dropped by OverlapSkip
//	attempts_total{outcome,event_type}   settled emission attempts
//	emitted_total                        running total, BatchSize per completed tick
//	inflight_batches                     batches currently draining
//	batch_duration_seconds               time from fan-out to join
//
// A nil *Metrics records nothing.
type Metrics struct {
	ticks         prometheus.Counter
	skippedTicks  prometheus.Counter
	attempts      *prometheus.CounterVec
	emitted       prometheus.Counter
	inflight      prometheus.Gauge
	batchDuration prometheus.Histogram
}

// NewMetrics registers the loop metrics with registry.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registry)

	return &Metrics{
		ticks: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "loadgen",
			Name:      "ticks_total",
			Help:      "Ticks that fired a batch",
		}),
		skippedTicks: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "loadgen",
			Name:      "skipped_ticks_total",
			Help:      "Ticks skipped because a previous batch was still in flight",
		}),
		attempts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "loadgen",
			Name:      "attempts_total",
			Help:      "Settled emission attempts by outcome and event type",
		}, []string{"outcome", "event_type"}),
		emitted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "loadgen",
			Name:      "emitted_total",
			Help:      "Running emission total, incremented by the batch size per completed tick",
		}),
		inflight: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "loadgen",
			Name:      "inflight_batches",
			Help:      "Batches currently in flight",
		}),
		batchDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "loadgen",
			Name:      "batch_duration_seconds",
			Help:      "Time from batch fan-out until every attempt settled",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}),
	}
}

func (m *Metrics) tickFired() {
	if m == nil {
		return
	}
	m.ticks.Inc()
}

func (m *Metrics) tickSkipped() {
	if m == nil {
		return
	}
	m.skippedTicks.Inc()
}

func (m *Metrics) batchStarted() {
	if m == nil {
		return
	}
	m.inflight.Inc()
}

func (m *Metrics) batchEnded() {
	if m == nil {
		return
	}
	m.inflight.Dec()
}

func (m *Metrics) attemptDone(r Result) {
	if m == nil {
		return
	}
	outcome := "success"
	if r.Err != nil {
		outcome = "failure"
	}
	m.attempts.WithLabelValues(outcome, string(r.Kind)).Inc()
}

func (m *Metrics) batchDone(br BatchResult) {
	if m == nil {
		return
	}
	m.emitted.Add(float64(br.Size))
	m.batchDuration.Observe(br.Duration.Seconds())
}
