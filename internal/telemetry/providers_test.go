package telemetry

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel"
)

func TestProtocol(t *testing.T) {
	cases := []struct {
		endpoint string
		protocol string
		host     string
	}{
		{"localhost:4317", "grpc", "localhost:4317"},
		{"localhost:4318", "http", "localhost:4318"},
		{"http://collector:4318", "http", "collector:4318"},
		{"https://collector.example.com", "http", "collector.example.com"},
		{"collector:55680", "grpc", "collector:55680"},
	}
	for _, tc := range cases {
		protocol, host := Protocol(tc.endpoint)
		if protocol != tc.protocol || host != tc.host {
			t.Fatalf("Protocol(%q) = %s, %s; want %s, %s", tc.endpoint, protocol, host, tc.protocol, tc.host)
		}
	}
}

func TestSetup_NoOutputs(t *testing.T) {
	ctx := context.Background()
	p, err := Setup(ctx, Options{ServiceName: "ecommerce-loadgen", ServiceVersion: "test"})
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}
	if p.TracerProvider == nil || p.MeterProvider == nil {
		t.Fatalf("expected tracer and meter providers")
	}
	if p.LoggerProvider != nil {
		t.Fatalf("log provider should only exist with OTLP output")
	}
	if otel.GetMeterProvider() != p.MeterProvider {
		t.Fatalf("meter provider not installed globally")
	}
	if err := p.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
}

func TestSetup_Stdout(t *testing.T) {
	ctx := context.Background()
	p, err := Setup(ctx, Options{ServiceName: "ecommerce-loadgen", Outputs: []string{OutputStdout}})
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}
	_, span := otel.Tracer("test").Start(ctx, "check")
	span.End()
	if err := p.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
}

func TestSetup_UnknownOutput(t *testing.T) {
	if _, err := Setup(context.Background(), Options{Outputs: []string{"zipkin"}}); err == nil {
		t.Fatalf("expected error for unknown output")
	}
}
