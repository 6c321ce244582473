package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/platformbuilds/ecommerce-loadgen/internal/config"
	"github.com/platformbuilds/ecommerce-loadgen/internal/emitter"
	"github.com/platformbuilds/ecommerce-loadgen/internal/event"
	"github.com/platformbuilds/ecommerce-loadgen/internal/sink"
	"github.com/platformbuilds/ecommerce-loadgen/internal/telemetry"
)

const serviceName = "ecommerce-loadgen"

// shutdownTimeout bounds telemetry flush and the metrics server on exit.
const shutdownTimeout = 5 * time.Second

func main() {
	var (
		configPath = flag.String("config", "", "Path to optional YAML configuration file")
		logOutput  = flag.String("log-output", telemetry.LogOutputStdout, "Logger output: 'stdout' (console), 'json' or 'nop'")
	)
	flag.Parse()

	// Cancelled on SIGINT/SIGTERM; the loop stops scheduling and drains.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *configPath, *logOutput); err != nil {
		log.Printf("%s: %v", serviceName, err)
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath, logOutput string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	providers, err := telemetry.Setup(ctx, cfg.TelemetryOptions(serviceName))
	if err != nil {
		return fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := providers.Shutdown(sctx); err != nil {
			log.Printf("Failed to shutdown OpenTelemetry: %v", err)
		}
	}()

	logger, err := telemetry.NewLogger(logOutput, cfg.LogLevel, providers.LoggerProvider)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	for _, w := range cfg.Warnings {
		logger.Warn("Config warning", zap.String("warning", w))
	}

	rng := event.GlobalRand()
	chaosRand := event.GlobalRand()
	if cfg.RandSeed != 0 {
		rng = event.NewLockedRand(cfg.RandSeed)
		chaosRand = event.NewLockedRand(cfg.RandSeed + 1)
	}

	s, err := newSink(cfg, otel.Meter(serviceName))
	if err != nil {
		return fmt.Errorf("failed to create %s sink: %w", cfg.Sink, err)
	}
	defer func() {
		if err := s.Close(); err != nil {
			logger.Warn("Failed to close sink", zap.String("sink", cfg.Sink), zap.Error(err))
		}
	}()
	if cfg.FailureRate > 0 {
		logger.Info("Injecting sink failures", zap.Float64("failure_rate", cfg.FailureRate))
	}
	s = sink.WithFailureRate(s, cfg.FailureRate, chaosRand)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := emitter.NewMetrics(registry)
	if cfg.MetricsAddr != "" {
		srv := serveMetrics(cfg.MetricsAddr, registry, logger)
		defer func() {
			sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
			defer cancel()
			_ = srv.Shutdown(sctx)
		}()
	}

	em, err := emitter.New(cfg.Emitter(), s,
		emitter.WithLogger(logger),
		emitter.WithTracer(otel.Tracer(serviceName)),
		emitter.WithMetrics(metrics),
		emitter.WithSampler(event.Sampler{Baseline: cfg.Baseline}),
		emitter.WithRand(rng),
	)
	if err != nil {
		return fmt.Errorf("failed to create emitter: %w", err)
	}

	stopSignalLog := context.AfterFunc(ctx, func() {
		logger.Info("Shutdown signal received; stopping emission",
			zap.Duration("drain_timeout", cfg.DrainTimeout))
	})
	defer stopSignalLog()

	logger.Info("Starting e-commerce load generator",
		zap.String("sink", cfg.Sink),
		zap.String("namespace", cfg.Namespace),
		zap.Int("batch_size", cfg.BatchSize),
		zap.Duration("interval", cfg.Interval),
		zap.Duration("max_run_time", cfg.MaxRunTime),
		zap.Strings("telemetry_outputs", cfg.Telemetry.Outputs),
	)

	st, err := em.Run(ctx)
	if err != nil {
		return fmt.Errorf("emission loop: %w", err)
	}

	logger.Info("Load generation completed",
		zap.Int64("total_emitted", st.TotalEmitted),
		zap.Int64("succeeded", st.Succeeded),
		zap.Int64("failed", st.Failed),
		zap.Int64("ticks", st.Ticks),
		zap.Int64("skipped_ticks", st.SkippedTicks),
		zap.Duration("elapsed", st.Elapsed),
		zap.String("stopped_by", st.StoppedBy),
	)
	return nil
}

// newSink builds the sink selected by cfg.Sink. meter backs the otel sink.
func newSink(cfg *config.Config, meter metric.Meter) (sink.Sink, error) {
	switch cfg.Sink {
	case sink.KindStdout:
		return sink.NewStdoutSink(), nil
	case sink.KindAgent:
		s, err := sink.NewAgentSink(cfg.AgentEndpoint)
		if err != nil {
			return nil, err
		}
		return s, nil
	case sink.KindKafka:
		s, err := sink.NewKafkaSink(cfg.KafkaBrokers, cfg.KafkaTopic)
		if err != nil {
			return nil, err
		}
		return s, nil
	case sink.KindOTel:
		return sink.NewOTelSink(meter), nil
	}
	return nil, fmt.Errorf("unknown sink %q", cfg.Sink)
}

func serveMetrics(addr string, registry *prometheus.Registry, logger *zap.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		logger.Info("Serving Prometheus metrics", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Metrics server failed", zap.Error(err))
		}
	}()
	return srv
}
