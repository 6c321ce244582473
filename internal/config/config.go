// Package config loads load generator settings from the environment and an
// optional YAML file. Environment variables win over the file, and the file
// wins over built-in defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/platformbuilds/ecommerce-loadgen/internal/emitter"
	"github.com/platformbuilds/ecommerce-loadgen/internal/event"
	"github.com/platformbuilds/ecommerce-loadgen/internal/sink"
	"github.com/platformbuilds/ecommerce-loadgen/internal/telemetry"
)

// Defaults.
const (
	DefaultBatchSize      = 1000
	DefaultInterval       = time.Second
	DefaultMaxRunTime     = time.Minute
	DefaultDrainTimeout   = 5 * time.Second
	DefaultFlushTimeout   = 5 * time.Second
	DefaultNamespace      = "EcommerceMetrics"
	DefaultAgentEndpoint  = sink.DefaultAgentEndpoint
	DefaultOTLPEndpoint   = "localhost:4317"
	DefaultLogLevel       = "info"
	DefaultSink           = sink.KindStdout
	DefaultOverlapPolicy  = string(emitter.OverlapAllow)
	DefaultServiceVersion = "dev"
)

// TelemetryFile is the telemetry block of the YAML file.
type TelemetryFile struct {
	Outputs       []string `yaml:"outputs"`
	Endpoint      string   `yaml:"endpoint"`
	Insecure      *bool    `yaml:"insecure"`
	SkipTLSVerify bool     `yaml:"skip_tls_verify"`
}

// EmitterFile is the emitter block of the YAML file. Empty fields keep the
// built-in defaults.
type EmitterFile struct {
	Namespace   string `yaml:"namespace"`
	ServiceName string `yaml:"service_name"`
	Environment string `yaml:"environment"`
	Region      string `yaml:"region"`
	Sink        string `yaml:"sink"`
	BatchSize   *int   `yaml:"batch_size"`
	IntervalMS  *int64 `yaml:"interval_ms"`
}

// File mirrors the optional YAML configuration file.
type File struct {
	Telemetry TelemetryFile `yaml:"telemetry"`
	Emitter   EmitterFile   `yaml:"emitter"`
}

// LoadFile reads the YAML file at path. An empty path yields an empty File.
func LoadFile(path string) (*File, error) {
	if path == "" {
		return &File{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse config file %s: %w", path, err)
	}
	return &f, nil
}

// Telemetry holds the resolved OpenTelemetry settings.
type Telemetry struct {
	Outputs       []string
	Endpoint      string
	Insecure      bool
	SkipTLSVerify bool
}

// Config is the resolved configuration.
type Config struct {
	BatchSize    int
	Interval     time.Duration
	MaxRunTime   time.Duration
	Overlap      string
	MaxInFlight  int
	DrainTimeout time.Duration
	FlushTimeout time.Duration

	Sink          string
	Namespace     string
	Baseline      event.Baseline
	AgentEndpoint string
	KafkaBrokers  []string
	KafkaTopic    string
	FailureRate   float64
	RandSeed      uint64

	MetricsAddr    string
	LogLevel       string
	ServiceVersion string
	Telemetry      Telemetry

	// Warnings collects non-fatal problems found while loading, such as
	// malformed numbers that fell back to their default.
	Warnings []string
}

// Load resolves the configuration from the environment and the optional
// YAML file at path, then validates it.
func Load(path string) (*Config, error) {
	f, err := LoadFile(path)
	if err != nil {
		return nil, err
	}

	defaults := map[string]any{
		"BATCH_SIZE":         DefaultBatchSize,
		"INTERVAL_MS":        DefaultInterval.Milliseconds(),
		"MAX_RUNTIME_MS":     DefaultMaxRunTime.Milliseconds(),
		"OVERLAP_POLICY":     DefaultOverlapPolicy,
		"MAX_IN_FLIGHT":      0,
		"DRAIN_TIMEOUT_MS":   DefaultDrainTimeout.Milliseconds(),
		"FLUSH_TIMEOUT_MS":   DefaultFlushTimeout.Milliseconds(),
		"SINK":               orDefault(f.Emitter.Sink, DefaultSink),
		"NAMESPACE":          orDefault(f.Emitter.Namespace, DefaultNamespace),
		"SERVICE_NAME":       orDefault(f.Emitter.ServiceName, event.DefaultBaseline.Service),
		"ENVIRONMENT":        orDefault(f.Emitter.Environment, event.DefaultBaseline.Environment),
		"REGION":             orDefault(f.Emitter.Region, event.DefaultBaseline.Region),
		"AGENT_ENDPOINT":     DefaultAgentEndpoint,
		"KAFKA_BROKERS":      "",
		"KAFKA_TOPIC":        sink.DefaultKafkaTopic,
		"FAILURE_RATE":       0.0,
		"RAND_SEED":          0,
		"METRICS_ADDR":       "",
		"LOG_LEVEL":          DefaultLogLevel,
		"SERVICE_VERSION":    DefaultServiceVersion,
		"TELEMETRY_OUTPUTS":  strings.Join(f.Telemetry.Outputs, ","),
		"TELEMETRY_ENDPOINT": orDefault(f.Telemetry.Endpoint, DefaultOTLPEndpoint),
	}
	if f.Emitter.BatchSize != nil {
		defaults["BATCH_SIZE"] = *f.Emitter.BatchSize
	}
	if f.Emitter.IntervalMS != nil {
		defaults["INTERVAL_MS"] = *f.Emitter.IntervalMS
	}

	v := viper.New()
	v.AutomaticEnv()
	for key, def := range defaults {
		v.SetDefault(key, def)
	}
	num := numbers{v: v, defaults: defaults}

	cfg := &Config{
		Overlap:        strings.ToLower(strings.TrimSpace(v.GetString("OVERLAP_POLICY"))),
		Sink:           strings.ToLower(strings.TrimSpace(v.GetString("SINK"))),
		Namespace:      v.GetString("NAMESPACE"),
		AgentEndpoint:  v.GetString("AGENT_ENDPOINT"),
		KafkaBrokers:   splitList(v.GetString("KAFKA_BROKERS")),
		KafkaTopic:     v.GetString("KAFKA_TOPIC"),
		MetricsAddr:    v.GetString("METRICS_ADDR"),
		LogLevel:       v.GetString("LOG_LEVEL"),
		ServiceVersion: v.GetString("SERVICE_VERSION"),
		Baseline: event.Baseline{
			Service:     v.GetString("SERVICE_NAME"),
			Environment: v.GetString("ENVIRONMENT"),
			Region:      v.GetString("REGION"),
		},
		Telemetry: Telemetry{
			Outputs:       splitList(v.GetString("TELEMETRY_OUTPUTS")),
			Endpoint:      v.GetString("TELEMETRY_ENDPOINT"),
			Insecure:      true,
			SkipTLSVerify: f.Telemetry.SkipTLSVerify,
		},
	}
	if f.Telemetry.Insecure != nil {
		cfg.Telemetry.Insecure = *f.Telemetry.Insecure
	}

	cfg.BatchSize = int(num.integer(cfg, "BATCH_SIZE"))
	cfg.MaxInFlight = int(num.integer(cfg, "MAX_IN_FLIGHT"))
	cfg.Interval = num.millis(cfg, "INTERVAL_MS")
	cfg.MaxRunTime = num.millis(cfg, "MAX_RUNTIME_MS")
	cfg.DrainTimeout = num.millis(cfg, "DRAIN_TIMEOUT_MS")
	cfg.FlushTimeout = num.millis(cfg, "FLUSH_TIMEOUT_MS")
	cfg.FailureRate = num.number(cfg, "FAILURE_RATE")
	cfg.RandSeed = num.unsigned(cfg, "RAND_SEED")

	// the otel sink is useless without an exporter behind it
	if cfg.Sink == sink.KindOTel && len(cfg.Telemetry.Outputs) == 0 {
		cfg.Telemetry.Outputs = []string{telemetry.OutputOTLP}
	}
	if len(cfg.Telemetry.Outputs) > 0 {
		cfg.Warnings = append(cfg.Warnings, TelemetryWarnings(cfg.Telemetry.Endpoint, cfg.Telemetry.Insecure, cfg.Telemetry.SkipTLSVerify)...)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports settings the process cannot start with.
func (c *Config) Validate() error {
	switch c.Sink {
	case sink.KindStdout, sink.KindAgent, sink.KindKafka, sink.KindOTel:
	default:
		return fmt.Errorf("config: unknown SINK %q (want stdout, agent, kafka or otel)", c.Sink)
	}
	if c.Sink == sink.KindKafka && len(c.KafkaBrokers) == 0 {
		return errors.New("config: KAFKA_BROKERS must be set when SINK=kafka")
	}
	if c.FailureRate < 0 || c.FailureRate > 1 {
		return fmt.Errorf("config: FAILURE_RATE must be between 0 and 1, got %g", c.FailureRate)
	}
	for _, o := range c.Telemetry.Outputs {
		if o != telemetry.OutputOTLP && o != telemetry.OutputStdout {
			return fmt.Errorf("config: unknown telemetry output %q", o)
		}
	}
	if err := c.Emitter().Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// Emitter returns the loop settings.
func (c *Config) Emitter() emitter.Config {
	return emitter.Config{
		BatchSize:    c.BatchSize,
		Interval:     c.Interval,
		MaxRunTime:   c.MaxRunTime,
		Overlap:      emitter.OverlapPolicy(c.Overlap),
		MaxInFlight:  c.MaxInFlight,
		DrainTimeout: c.DrainTimeout,
		FlushTimeout: c.FlushTimeout,
		Namespace:    c.Namespace,
	}
}

// TelemetryOptions returns the provider settings for telemetry.Setup.
func (c *Config) TelemetryOptions(serviceName string) telemetry.Options {
	return telemetry.Options{
		ServiceName:    serviceName,
		ServiceVersion: c.ServiceVersion,
		Outputs:        c.Telemetry.Outputs,
		Endpoint:       c.Telemetry.Endpoint,
		Insecure:       c.Telemetry.Insecure,
		SkipTLSVerify:  c.Telemetry.SkipTLSVerify,
	}
}

// HasOutput reports whether the telemetry output o is enabled.
func (c *Config) HasOutput(o string) bool {
	for _, out := range c.Telemetry.Outputs {
		if out == o {
			return true
		}
	}
	return false
}

func (c *Config) warnf(format string, args ...any) {
	c.Warnings = append(c.Warnings, fmt.Sprintf(format, args...))
}

// numbers parses numeric settings. A value that does not parse falls back to
// the default and leaves a warning on the Config.
type numbers struct {
	v        *viper.Viper
	defaults map[string]any
}

func (n numbers) lookup(key string) (val, def string) {
	return strings.TrimSpace(n.v.GetString(key)), fmt.Sprint(n.defaults[key])
}

func (n numbers) integer(c *Config, key string) int64 {
	val, def := n.lookup(key)
	i, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		c.warnf("%s=%q is not an integer; using default %s", key, val, def)
		i, _ = strconv.ParseInt(def, 10, 64)
	}
	return i
}

func (n numbers) millis(c *Config, key string) time.Duration {
	return time.Duration(n.integer(c, key)) * time.Millisecond
}

func (n numbers) number(c *Config, key string) float64 {
	val, def := n.lookup(key)
	f, err := strconv.ParseFloat(val, 64)
	if err != nil {
		c.warnf("%s=%q is not a number; using default %s", key, val, def)
		f, _ = strconv.ParseFloat(def, 64)
	}
	return f
}

func (n numbers) unsigned(c *Config, key string) uint64 {
	val, def := n.lookup(key)
	u, err := strconv.ParseUint(val, 10, 64)
	if err != nil {
		c.warnf("%s=%q is not an unsigned integer; using default %s", key, val, def)
		u, _ = strconv.ParseUint(def, 10, 64)
	}
	return u
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

func splitList(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
