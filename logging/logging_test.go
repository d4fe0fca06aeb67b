package logging

import (
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewLevels(t *testing.T) {
	cases := []struct {
		name string
		cfg  Config
		want zapcore.Level
	}{
		{"production", Config{Service: "oracle"}, zap.InfoLevel},
		{"development", Config{Development: true}, zap.DebugLevel},
		{"enclave", Config{Enclave: true, Development: true}, zap.ErrorLevel},
		{"override", Config{Level: "warn"}, zap.WarnLevel},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			l, err := New(tc.cfg)
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			if !l.Core().Enabled(tc.want) {
				t.Fatalf("level %v should be enabled", tc.want)
			}
			if tc.want > zap.DebugLevel && l.Core().Enabled(tc.want-1) {
				t.Fatalf("level %v should be disabled", tc.want-1)
			}
		})
	}
}

func TestNewRejectsUnknownLevel(t *testing.T) {
	if _, err := New(Config{Level: "chatty"}); err == nil {
		t.Fatalf("expected error for unknown level")
	}
}

func TestWithAttempt(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	WithAttempt(zap.New(core), "a-1", "m-1").Info("step")

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected one entry, got %d", len(entries))
	}
	ctx := entries[0].ContextMap()
	if ctx["attempt_id"] != "a-1" || ctx["market_id"] != "m-1" {
		t.Fatalf("unexpected fields: %v", ctx)
	}
}
