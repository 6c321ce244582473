// Package telemetry wires OpenTelemetry providers, the instrument registry and
// the process logger.
package telemetry

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploggrpc"
	otlploghttp "go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	otlpmetrichttp "go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	otlptracehttp "go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	stdoutmetric "go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	stdouttrace "go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/log/global"
	"go.opentelemetry.io/otel/propagation"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"google.golang.org/grpc"
	grpccreds "google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
)

// Telemetry outputs.
const (
	OutputOTLP   = "otlp"
	OutputStdout = "stdout"
)

// Options configures Setup.
type Options struct {
	ServiceName    string
	ServiceVersion string
	// Outputs selects exporters: "otlp", "stdout", both or none.
	Outputs       []string
	Endpoint      string
	Insecure      bool
	SkipTLSVerify bool
	// MetricInterval is the periodic reader export interval; zero keeps the SDK default.
	MetricInterval time.Duration
}

// Providers holds the installed providers. LoggerProvider is nil unless OTLP
// output was requested.
type Providers struct {
	TracerProvider *sdktrace.TracerProvider
	MeterProvider  *sdkmetric.MeterProvider
	LoggerProvider *sdklog.LoggerProvider
}

// Protocol reports whether endpoint should be reached over OTLP/HTTP or
// OTLP/gRPC, and the host:port to dial. An http(s) scheme or port 4318 selects
// HTTP.
func Protocol(endpoint string) (protocol, host string) {
	protocol, host = "grpc", endpoint
	if u, err := url.Parse(endpoint); err == nil && (u.Scheme == "http" || u.Scheme == "https") {
		return "http", u.Host
	}
	if strings.Contains(endpoint, ":4318") {
		protocol = "http"
	}
	return protocol, host
}

// Setup builds trace, metric and log providers for the requested outputs and
// installs them globally.
func Setup(ctx context.Context, opts Options) (*Providers, error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(opts.ServiceName),
			semconv.ServiceVersion(opts.ServiceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	var wantOTLP, wantStdout bool
	for _, o := range opts.Outputs {
		switch o {
		case OutputOTLP:
			wantOTLP = true
		case OutputStdout:
			wantStdout = true
		default:
			return nil, fmt.Errorf("unknown telemetry output %q", o)
		}
	}

	protocol, epHost := Protocol(opts.Endpoint)

	var dialOpts []grpc.DialOption
	if protocol == "grpc" {
		switch {
		case opts.Insecure:
			dialOpts = append(dialOpts, grpc.WithTransportCredentials(insecure.NewCredentials()))
		case opts.SkipTLSVerify:
			dialOpts = append(dialOpts, grpc.WithTransportCredentials(grpccreds.NewTLS(&tls.Config{InsecureSkipVerify: true})))
		default:
			dialOpts = append(dialOpts, grpc.WithTransportCredentials(grpccreds.NewClientTLSFromCert(nil, "")))
		}
	}
	var httpClient *http.Client
	if !opts.Insecure && opts.SkipTLSVerify {
		httpClient = &http.Client{Transport: &http.Transport{TLSClientConfig: &tls.Config{InsecureSkipVerify: true}}}
	}

	tracerProvider := sdktrace.NewTracerProvider(sdktrace.WithResource(res))
	if wantOTLP {
		exp, err := newTraceExporter(ctx, protocol, epHost, opts.Insecure, dialOpts, httpClient)
		if err != nil {
			return nil, err
		}
		tracerProvider.RegisterSpanProcessor(sdktrace.NewBatchSpanProcessor(exp))
	}
	// stdout carries EMF documents, so the "stdout" exporters write to stderr
	if wantStdout {
		exp, err := stdouttrace.New(stdouttrace.WithPrettyPrint(), stdouttrace.WithWriter(os.Stderr))
		if err != nil {
			return nil, fmt.Errorf("failed to create stdout trace exporter: %w", err)
		}
		tracerProvider.RegisterSpanProcessor(sdktrace.NewBatchSpanProcessor(exp))
	}

	var readerOpts []sdkmetric.PeriodicReaderOption
	if opts.MetricInterval > 0 {
		readerOpts = append(readerOpts, sdkmetric.WithInterval(opts.MetricInterval))
	}
	meterOpts := []sdkmetric.Option{sdkmetric.WithResource(res)}
	if wantOTLP {
		exp, err := newMetricExporter(ctx, protocol, epHost, opts.Insecure, dialOpts, httpClient)
		if err != nil {
			_ = tracerProvider.Shutdown(ctx)
			return nil, err
		}
		meterOpts = append(meterOpts, sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exp, readerOpts...)))
	}
	if wantStdout {
		exp, err := stdoutmetric.New(stdoutmetric.WithPrettyPrint(), stdoutmetric.WithWriter(os.Stderr))
		if err != nil {
			_ = tracerProvider.Shutdown(ctx)
			return nil, fmt.Errorf("failed to create stdout metric exporter: %w", err)
		}
		meterOpts = append(meterOpts, sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exp, readerOpts...)))
	}
	meterProvider := sdkmetric.NewMeterProvider(meterOpts...)

	// logs only go over OTLP; stdout logging is the zap logger's job
	var logProvider *sdklog.LoggerProvider
	if wantOTLP {
		exp, err := newLogExporter(ctx, protocol, epHost, opts.Insecure, dialOpts, httpClient)
		if err != nil {
			_ = tracerProvider.Shutdown(ctx)
			_ = meterProvider.Shutdown(ctx)
			return nil, err
		}
		logProvider = sdklog.NewLoggerProvider(
			sdklog.WithProcessor(sdklog.NewBatchProcessor(exp)),
			sdklog.WithResource(res),
		)
		global.SetLoggerProvider(logProvider)
	}

	otel.SetTracerProvider(tracerProvider)
	otel.SetMeterProvider(meterProvider)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	return &Providers{
		TracerProvider: tracerProvider,
		MeterProvider:  meterProvider,
		LoggerProvider: logProvider,
	}, nil
}

// Shutdown flushes and stops every provider, returning all errors joined.
func (p *Providers) Shutdown(ctx context.Context) error {
	var errs []error
	if p.TracerProvider != nil {
		if err := p.TracerProvider.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if p.MeterProvider != nil {
		if err := p.MeterProvider.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if p.LoggerProvider != nil {
		if err := p.LoggerProvider.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %w", errors.Join(errs...))
	}
	return nil
}

func newTraceExporter(ctx context.Context, protocol, host string, insecureConn bool, dialOpts []grpc.DialOption, client *http.Client) (sdktrace.SpanExporter, error) {
	if protocol == "grpc" {
		o := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(host), otlptracegrpc.WithDialOption(dialOpts...)}
		if insecureConn {
			o = append(o, otlptracegrpc.WithInsecure())
		}
		exp, err := otlptracegrpc.New(ctx, o...)
		if err != nil {
			return nil, fmt.Errorf("failed to create trace exporter: %w", err)
		}
		return exp, nil
	}
	o := []otlptracehttp.Option{otlptracehttp.WithEndpoint(host)}
	if insecureConn {
		o = append(o, otlptracehttp.WithInsecure())
	}
	if client != nil {
		o = append(o, otlptracehttp.WithHTTPClient(client))
	}
	exp, err := otlptracehttp.New(ctx, o...)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP trace exporter: %w", err)
	}
	return exp, nil
}

func newMetricExporter(ctx context.Context, protocol, host string, insecureConn bool, dialOpts []grpc.DialOption, client *http.Client) (sdkmetric.Exporter, error) {
	if protocol == "grpc" {
		o := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(host), otlpmetricgrpc.WithDialOption(dialOpts...)}
		if insecureConn {
			o = append(o, otlpmetricgrpc.WithInsecure())
		}
		exp, err := otlpmetricgrpc.New(ctx, o...)
		if err != nil {
			return nil, fmt.Errorf("failed to create metric exporter: %w", err)
		}
		return exp, nil
	}
	o := []otlpmetrichttp.Option{otlpmetrichttp.WithEndpoint(host)}
	if insecureConn {
		o = append(o, otlpmetrichttp.WithInsecure())
	}
	if client != nil {
		o = append(o, otlpmetrichttp.WithHTTPClient(client))
	}
	exp, err := otlpmetrichttp.New(ctx, o...)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP metric exporter: %w", err)
	}
	return exp, nil
}

func newLogExporter(ctx context.Context, protocol, host string, insecureConn bool, dialOpts []grpc.DialOption, client *http.Client) (sdklog.Exporter, error) {
	if protocol == "grpc" {
		o := []otlploggrpc.Option{otlploggrpc.WithEndpoint(host), otlploggrpc.WithDialOption(dialOpts...)}
		if insecureConn {
			o = append(o, otlploggrpc.WithInsecure())
		}
		exp, err := otlploggrpc.New(ctx, o...)
		if err != nil {
			return nil, fmt.Errorf("failed to create log exporter: %w", err)
		}
		return exp, nil
	}
	o := []otlploghttp.Option{otlploghttp.WithEndpoint(host)}
	if insecureConn {
		o = append(o, otlploghttp.WithInsecure())
	}
	if client != nil {
		o = append(o, otlploghttp.WithHTTPClient(client))
	}
	exp, err := otlploghttp.New(ctx, o...)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP log exporter: %w", err)
	}
	return exp, nil
}
