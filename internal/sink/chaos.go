package sink

import (
	"context"
	"errors"

	"github.com/platformbuilds/ecommerce-loadgen/internal/event"
)

// ErrInjectedFailure is returned by flushes failed on purpose.
var ErrInjectedFailure = errors.New("sink: injected flush failure")

// FailingSink wraps a sink so that a fraction of flushes fail before reaching
// it. Used to exercise per-attempt failure isolation against a live backend.
type FailingSink struct {
	next Sink
	rate float64
	rng  event.Rand
}

// WithFailureRate wraps next; rate is the probability in [0,1] that a flush fails.
// A zero rate returns next unchanged.
func WithFailureRate(next Sink, rate float64, rng event.Rand) Sink {
	if rate <= 0 {
		return next
	}
	if rng == nil {
		rng = event.GlobalRand()
	}
	return &FailingSink{next: next, rate: rate, rng: rng}
}

func (s *FailingSink) NewLogger() MetricsLogger {
	return &failingLogger{MetricsLogger: s.next.NewLogger(), sink: s}
}

func (s *FailingSink) Close() error {
	return s.next.Close()
}

func (s *FailingSink) shouldFail() bool {
	const resolution = 1_000_000
	return float64(s.rng.IntN(resolution)) < s.rate*resolution
}

type failingLogger struct {
	MetricsLogger
	sink *FailingSink
}

func (l *failingLogger) Flush(ctx context.Context) error {
	if l.sink.shouldFail() {
		return ErrInjectedFailure
	}
	return l.MetricsLogger.Flush(ctx)
}
