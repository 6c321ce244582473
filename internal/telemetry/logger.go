package telemetry

import (
	"fmt"
	"time"

	"go.opentelemetry.io/contrib/bridges/otelzap"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger output modes.
const (
	LogOutputNop    = "nop"
	LogOutputStdout = "stdout"
	LogOutputJSON   = "json"
)

// NewLogger builds the process logger. "stdout" is the development console
// encoder, "json" the production encoder and "nop" discards everything. Both
// encoders write to stderr; stdout carries EMF documents. When lp is non-nil
// records are also forwarded to the OTel log pipeline.
func NewLogger(mode, level string, lp *sdklog.LoggerProvider) (*zap.Logger, error) {
	lvl := zap.NewAtomicLevel()
	if level != "" {
		if err := lvl.UnmarshalText([]byte(level)); err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", level, err)
		}
	}

	var cfg zap.Config
	switch mode {
	case LogOutputNop:
		return zap.NewNop(), nil
	case LogOutputStdout, "":
		cfg = zap.NewDevelopmentConfig()
	case LogOutputJSON:
		cfg = zap.NewProductionConfig()
	default:
		return nil, fmt.Errorf("unknown log output %q", mode)
	}
	cfg.Level = lvl
	cfg.OutputPaths = []string{"stderr"}
	// sampled after the tee below so OTel records are sampled too
	cfg.Sampling = nil

	l, err := cfg.Build(zap.WrapCore(func(core zapcore.Core) zapcore.Core {
		if lp != nil {
			core = zapcore.NewTee(core, otelzap.NewCore("ecommerce-loadgen", otelzap.WithLoggerProvider(lp)))
		}
		return zapcore.NewSamplerWithOptions(core, time.Second, 20, 100)
	}))
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	return l, nil
}
