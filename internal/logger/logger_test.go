package logger

import (
	"path/filepath"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func observe(t *testing.T) *observer.ObservedLogs {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	previous := Logger
	Logger = zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1))
	t.Cleanup(func() { Logger = previous })
	return logs
}

func TestCallerPointsAtCallSite(t *testing.T) {
	logs := observe(t)

	Info("package helper")
	Named("detector").Info("component logger")
	WithRequestID("req-1").Warn("request logger")

	entries := logs.All()
	if len(entries) != 3 {
		t.Fatalf("got %d entries, want 3", len(entries))
	}
	for _, e := range entries {
		if !e.Caller.Defined {
			t.Errorf("%q has no caller", e.Message)
			continue
		}
		if got := filepath.Base(e.Caller.File); got != "logger_test.go" {
			t.Errorf("%q caller = %s, want logger_test.go", e.Message, e.Caller.String())
		}
	}
}

func TestChildLoggerFields(t *testing.T) {
	logs := observe(t)

	Named("broker").Info("started")
	WithRequestID("abc").Info("served")

	if got := logs.FilterField(zap.String("component", "broker")).Len(); got != 1 {
		t.Errorf("component entries = %d", got)
	}
	if got := logs.FilterField(zap.String("request_id", "abc")).Len(); got != 1 {
		t.Errorf("request_id entries = %d", got)
	}
}
