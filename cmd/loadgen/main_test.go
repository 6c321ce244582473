package main

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"sync"
	"testing"

	"go.opentelemetry.io/otel"

	"github.com/platformbuilds/ecommerce-loadgen/internal/config"
	"github.com/platformbuilds/ecommerce-loadgen/internal/sink"
)

func TestNewSink(t *testing.T) {
	meter := otel.Meter("test")
	cases := []struct {
		cfg     config.Config
		wantErr bool
	}{
		{config.Config{Sink: sink.KindStdout}, false},
		{config.Config{Sink: sink.KindAgent, AgentEndpoint: "udp://127.0.0.1:25888"}, false},
		{config.Config{Sink: sink.KindAgent, AgentEndpoint: "ftp://nowhere"}, true},
		{config.Config{Sink: sink.KindKafka, KafkaBrokers: []string{"127.0.0.1:9092"}}, false},
		{config.Config{Sink: sink.KindKafka}, true},
		{config.Config{Sink: sink.KindOTel}, false},
		{config.Config{Sink: "s3"}, true},
	}
	for _, tc := range cases {
		s, err := newSink(&tc.cfg, meter)
		if tc.wantErr {
			if err == nil {
				t.Fatalf("newSink(%q): expected error", tc.cfg.Sink)
			}
			continue
		}
		if err != nil {
			t.Fatalf("newSink(%q): %v", tc.cfg.Sink, err)
		}
		if s == nil {
			t.Fatalf("newSink(%q) returned nil sink", tc.cfg.Sink)
		}
		_ = s.Close()
	}
}

func TestRun_AgentSinkEndToEnd(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	var mu sync.Mutex
	var docs []map[string]any
	var wg sync.WaitGroup
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				defer conn.Close()
				sc := bufio.NewScanner(conn)
				sc.Buffer(make([]byte, 64*1024), 1024*1024)
				for sc.Scan() {
					var doc map[string]any
					if json.Unmarshal(sc.Bytes(), &doc) == nil {
						mu.Lock()
						docs = append(docs, doc)
						mu.Unlock()
					}
				}
			}()
		}
	}()

	for _, k := range []string{"OVERLAP_POLICY", "MAX_IN_FLIGHT", "DRAIN_TIMEOUT_MS", "FLUSH_TIMEOUT_MS",
		"NAMESPACE", "SERVICE_NAME", "ENVIRONMENT", "REGION", "KAFKA_BROKERS", "KAFKA_TOPIC",
		"FAILURE_RATE", "RAND_SEED", "METRICS_ADDR", "LOG_LEVEL", "SERVICE_VERSION",
		"TELEMETRY_OUTPUTS", "TELEMETRY_ENDPOINT"} {
		t.Setenv(k, "")
	}
	t.Setenv("SINK", "agent")
	t.Setenv("AGENT_ENDPOINT", "tcp://"+ln.Addr().String())
	t.Setenv("BATCH_SIZE", "3")
	t.Setenv("INTERVAL_MS", "20")
	t.Setenv("MAX_RUNTIME_MS", "70")

	if err := run(context.Background(), "", "nop"); err != nil {
		t.Fatalf("run: %v", err)
	}
	// run closed the sink, so the reader sees EOF
	ln.Close()
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	if len(docs) == 0 || len(docs)%3 != 0 {
		t.Fatalf("expected whole batches of 3 documents, got %d", len(docs))
	}
	for _, doc := range docs {
		if _, ok := doc["_aws"]; !ok {
			t.Fatalf("document missing _aws metadata: %v", doc)
		}
		if doc["Service"] != "EcommerceApp" {
			t.Fatalf("document missing baseline dimension: %v", doc)
		}
	}
}

func TestRun_InvalidConfig(t *testing.T) {
	t.Setenv("SINK", "carrier-pigeon")
	if err := run(context.Background(), "", "nop"); err == nil {
		t.Fatalf("expected config error")
	}
}
