package telemetry

import (
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestNewLogger_Modes(t *testing.T) {
	for _, mode := range []string{"", LogOutputStdout, LogOutputJSON, LogOutputNop} {
		l, err := NewLogger(mode, "info", nil)
		if err != nil {
			t.Fatalf("NewLogger(%q): %v", mode, err)
		}
		l.Info("hello")
	}
	if _, err := NewLogger("syslog", "info", nil); err == nil {
		t.Fatalf("expected error for unknown mode")
	}
}

func TestNewLogger_Level(t *testing.T) {
	l, err := NewLogger(LogOutputJSON, "warn", nil)
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	if l.Core().Enabled(zapcore.InfoLevel) {
		t.Fatalf("info should be disabled at warn level")
	}
	if !l.Core().Enabled(zapcore.ErrorLevel) {
		t.Fatalf("error should be enabled at warn level")
	}
	if _, err := NewLogger(LogOutputJSON, "loud", nil); err == nil {
		t.Fatalf("expected error for bad level")
	}
}
