// Package emitter runs the fixed-interval batch emission loop.
//
// On every tick the loop fires BatchSize independent emission attempts, waits
// for all of them to settle, and adds BatchSize to the running total whatever
// the individual outcomes were. The loop stops once MaxRunTime has elapsed or
// its context is cancelled.
//
// Ticks are scheduled on the wall clock and are not gated on the previous
// batch. With OverlapAllow a batch slower than Interval overlaps the next one,
// so sustained overload grows concurrency without bound. OverlapSkip drops
// ticks that arrive while a batch is still draining.
package emitter

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/platformbuilds/ecommerce-loadgen/internal/event"
	"github.com/platformbuilds/ecommerce-loadgen/internal/sink"
)

// OverlapPolicy decides what happens to a tick while a batch is in flight.
type OverlapPolicy string

const (
	OverlapAllow OverlapPolicy = "allow"
	OverlapSkip  OverlapPolicy = "skip"
)

// Stop reasons reported in Stats.
const (
	StopMaxRunTime = "max_runtime"
	StopCancelled  = "cancelled"
)

var (
	// ErrAlreadyStarted is returned when Run is called more than once.
	ErrAlreadyStarted = errors.New("emitter: already started")
	// ErrAttemptPanic wraps a panic recovered from an emission attempt.
	ErrAttemptPanic = errors.New("emitter: attempt panicked")
)

// Config controls the loop.
type Config struct {
	// BatchSize is the number of attempts per tick. Zero makes ticks no-ops.
	BatchSize int
	// Interval is the tick period.
	Interval time.Duration
	// MaxRunTime bounds the run; zero runs until cancelled.
	MaxRunTime time.Duration
	Overlap    OverlapPolicy
	// MaxInFlight caps concurrent attempts within one batch; zero is unlimited.
	MaxInFlight int
	// DrainTimeout is how long Run waits for in-flight batches after
	// cancellation. Zero returns immediately.
	DrainTimeout time.Duration
	// FlushTimeout bounds a single attempt's flush; zero is unbounded.
	FlushTimeout time.Duration
	Namespace    string
}

// Validate reports structurally invalid settings.
func (c Config) Validate() error {
	if c.BatchSize < 0 {
		return fmt.Errorf("batch size must be >= 0, got %d", c.BatchSize)
	}
	if c.Interval <= 0 {
		return fmt.Errorf("interval must be > 0, got %s", c.Interval)
	}
	if c.MaxRunTime < 0 {
		return fmt.Errorf("max run time must be >= 0, got %s", c.MaxRunTime)
	}
	if c.MaxInFlight < 0 {
		return fmt.Errorf("max in-flight must be >= 0, got %d", c.MaxInFlight)
	}
	switch c.Overlap {
	case "", OverlapAllow, OverlapSkip:
	default:
		return fmt.Errorf("unknown overlap policy %q", c.Overlap)
	}
	return nil
}

// State is the lifecycle state of an Emitter.
type State int32

const (
	StateIdle State = iota
	StateRunning
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	}
	return "unknown"
}

// Result is the outcome of one emission attempt.
type Result struct {
	Kind     event.Kind
	Err      error
	Duration time.Duration
}

// BatchResult summarizes one tick's batch.
type BatchResult struct {
	Tick      int64
	Size      int
	Succeeded int
	Failed    int
	Duration  time.Duration
	// Total is the running total after this batch completed.
	Total int64
}

// Stats is a snapshot of a run.
type Stats struct {
	Ticks        int64
	SkippedTicks int64
	TotalEmitted int64
	Succeeded    int64
	Failed       int64
	Elapsed      time.Duration
	StoppedBy    string
}

// Emitter drives the batch emission loop. Use New; an Emitter runs once.
type Emitter struct {
	cfg     Config
	sink    sink.Sink
	sampler event.Sampler
	rng     event.Rand
	logger  *zap.Logger
	tracer  trace.Tracer
	metrics *Metrics

	// onBatch, if set, observes every completed batch.
	onBatch func(BatchResult)

	state        atomic.Int32
	startNanos   atomic.Int64
	stopNanos    atomic.Int64
	ticks        atomic.Int64
	skippedTicks atomic.Int64
	totalEmitted atomic.Int64
	succeeded    atomic.Int64
	failed       atomic.Int64
	inFlight     atomic.Int64
}

// Option customizes an Emitter.
type Option func(*Emitter)

func WithLogger(l *zap.Logger) Option { return func(e *Emitter) { e.logger = l } }

func WithTracer(t trace.Tracer) Option { return func(e *Emitter) { e.tracer = t } }

func WithMetrics(m *Metrics) Option { return func(e *Emitter) { e.metrics = m } }

func WithSampler(s event.Sampler) Option { return func(e *Emitter) { e.sampler = s } }

func WithRand(r event.Rand) Option { return func(e *Emitter) { e.rng = r } }

// WithBatchObserver registers fn to be called after every completed batch.
// fn runs on the batch's goroutine and must be safe for concurrent use.
func WithBatchObserver(fn func(BatchResult)) Option {
	return func(e *Emitter) { e.onBatch = fn }
}

// New validates cfg and builds an Emitter that sends to s.
func New(cfg Config, s sink.Sink, opts ...Option) (*Emitter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if s == nil {
		return nil, errors.New("emitter: sink required")
	}
	if cfg.Overlap == "" {
		cfg.Overlap = OverlapAllow
	}
	e := &Emitter{
		cfg:    cfg,
		sink:   s,
		rng:    event.GlobalRand(),
		logger: zap.NewNop(),
		tracer: otel.Tracer("ecommerce-loadgen/emitter"),
	}
	for _, o := range opts {
		o(e)
	}
	return e, nil
}

// State returns the current lifecycle state.
func (e *Emitter) State() State {
	return State(e.state.Load())
}

// Stats returns a snapshot of the counters.
func (e *Emitter) Stats() Stats {
	st := Stats{
		Ticks:        e.ticks.Load(),
		SkippedTicks: e.skippedTicks.Load(),
		TotalEmitted: e.totalEmitted.Load(),
		Succeeded:    e.succeeded.Load(),
		Failed:       e.failed.Load(),
	}
	if ns := e.startNanos.Load(); ns != 0 {
		if stop := e.stopNanos.Load(); stop != 0 {
			st.Elapsed = time.Duration(stop - ns)
		} else {
			st.Elapsed = time.Since(time.Unix(0, ns))
		}
	}
	return st
}

// Run blocks until MaxRunTime elapses or ctx is cancelled, and returns the
// final stats. Attempts run on a context detached from ctx, so cancellation
// stops scheduling but never aborts a flush in progress.
func (e *Emitter) Run(ctx context.Context) (Stats, error) {
	if !e.state.CompareAndSwap(int32(StateIdle), int32(StateRunning)) {
		return e.Stats(), ErrAlreadyStarted
	}
	defer e.state.Store(int32(StateStopped))

	start := time.Now()
	e.startNanos.Store(start.UnixNano())
	ticker := time.NewTicker(e.cfg.Interval)
	defer ticker.Stop()

	e.logger.Info("Starting emission",
		zap.Int("batch_size", e.cfg.BatchSize),
		zap.Duration("interval", e.cfg.Interval),
		zap.Duration("max_run_time", e.cfg.MaxRunTime),
		zap.String("overlap", string(e.cfg.Overlap)),
	)

	attemptCtx := context.WithoutCancel(ctx)
	var wg sync.WaitGroup

	for {
		select {
		case <-ctx.Done():
			e.logger.Info("Emission cancelled; no further ticks", zap.Int64("in_flight_batches", e.inFlight.Load()))
			e.drain(&wg)
			return e.finish(StopCancelled), nil

		case now := <-ticker.C:
			if e.cfg.MaxRunTime > 0 && now.Sub(start) >= e.cfg.MaxRunTime {
				return e.finish(e.settle(ctx, &wg)), nil
			}
			if e.cfg.Overlap == OverlapSkip && e.inFlight.Load() > 0 {
				e.skippedTicks.Add(1)
				e.metrics.tickSkipped()
				e.logger.Debug("Skipping tick; previous batch still in flight")
				continue
			}
			tick := e.ticks.Add(1)
			e.metrics.tickFired()
			e.inFlight.Add(1)
			e.metrics.batchStarted()
			wg.Add(1)
			go func() {
				defer wg.Done()
				defer func() {
					e.inFlight.Add(-1)
					e.metrics.batchEnded()
				}()
				e.emitBatch(attemptCtx, tick)
			}()
		}
	}
}

// settle waits for in-flight batches once the run bound is reached. A
// cancellation arriving meanwhile switches to the bounded drain.
func (e *Emitter) settle(ctx context.Context, wg *sync.WaitGroup) string {
	select {
	case <-waitDone(wg):
		return StopMaxRunTime
	case <-ctx.Done():
		e.logger.Info("Emission cancelled while settling final batches", zap.Int64("in_flight_batches", e.inFlight.Load()))
		e.drain(wg)
		return StopCancelled
	}
}

func waitDone(wg *sync.WaitGroup) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	return done
}

func (e *Emitter) drain(wg *sync.WaitGroup) {
	if e.cfg.DrainTimeout <= 0 {
		return
	}
	select {
	case <-waitDone(wg):
	case <-time.After(e.cfg.DrainTimeout):
		e.logger.Warn("Drain timeout reached; abandoning in-flight batches",
			zap.Duration("drain_timeout", e.cfg.DrainTimeout),
			zap.Int64("in_flight_batches", e.inFlight.Load()),
		)
	}
}

func (e *Emitter) finish(reason string) Stats {
	e.stopNanos.Store(time.Now().UnixNano())
	st := e.Stats()
	st.StoppedBy = reason
	e.logger.Info("Finished emitting",
		zap.String("stopped_by", reason),
		zap.Int64("total_emitted", st.TotalEmitted),
		zap.Int64("ticks", st.Ticks),
		zap.Int64("skipped_ticks", st.SkippedTicks),
		zap.Int64("failed", st.Failed),
		zap.Duration("elapsed", st.Elapsed),
	)
	return st
}

// emitBatch fans out BatchSize attempts and joins on all of them. Attempts
// never fail the group; outcomes are collected per attempt.
func (e *Emitter) emitBatch(ctx context.Context, tick int64) BatchResult {
	n := e.cfg.BatchSize
	ctx, span := e.tracer.Start(ctx, "emitter.batch",
		trace.WithAttributes(
			attribute.Int64("tick", tick),
			attribute.Int("batch_size", n),
		))
	defer span.End()

	start := time.Now()
	results := make([]Result, n)
	var g errgroup.Group
	if e.cfg.MaxInFlight > 0 {
		g.SetLimit(e.cfg.MaxInFlight)
	}
	for i := 0; i < n; i++ {
		g.Go(func() error {
			results[i] = e.attempt(ctx)
			return nil
		})
	}
	_ = g.Wait()

	br := BatchResult{Tick: tick, Size: n, Duration: time.Since(start)}
	for _, r := range results {
		if r.Err != nil {
			br.Failed++
		} else {
			br.Succeeded++
		}
		e.metrics.attemptDone(r)
	}
	e.succeeded.Add(int64(br.Succeeded))
	e.failed.Add(int64(br.Failed))
	br.Total = e.totalEmitted.Add(int64(n))
	e.metrics.batchDone(br)

	span.SetAttributes(
		attribute.Int("succeeded", br.Succeeded),
		attribute.Int("failed", br.Failed),
		attribute.Int64("total_emitted", br.Total),
	)

	fields := []zap.Field{
		zap.Int64("tick", tick),
		zap.Int("batch_size", n),
		zap.Int("failed", br.Failed),
		zap.Int64("total_emitted", br.Total),
		zap.Duration("duration", br.Duration),
	}
	if br.Failed > 0 {
		e.logger.Warn("Emitted batch with failures", fields...)
	} else {
		e.logger.Info("Emitted batch", fields...)
	}
	if e.onBatch != nil {
		e.onBatch(br)
	}
	return br
}

// attempt generates one event and flushes it through a fresh logger. A flush
// error or panic is recorded in the result and never escapes.
func (e *Emitter) attempt(ctx context.Context) (res Result) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			res.Err = fmt.Errorf("%w: %v", ErrAttemptPanic, r)
			e.logger.Error("Emission attempt panicked", zap.Any("panic", r))
		}
		res.Duration = time.Since(start)
	}()

	ev := e.sampler.Sample(e.rng)
	res.Kind = ev.Kind

	l := e.sink.NewLogger()
	l.SetNamespace(e.cfg.Namespace)
	l.SetTimestamp(ev.Timestamp)
	l.SetDimensions(ev.Dimensions)
	for _, m := range ev.Measurements {
		l.PutMetric(m.Name, m.Value, m.Unit)
	}
	l.SetProperty(ev.PropertyName(), ev.Payload())
	l.SetProperty("RequestId", uuid.NewString())

	if e.cfg.FlushTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.FlushTimeout)
		defer cancel()
	}
	if err := l.Flush(ctx); err != nil {
		res.Err = err
		e.logger.Warn("Emission attempt failed",
			zap.String("event_type", string(ev.Kind)),
			zap.Error(err),
		)
	}
	return res
}
