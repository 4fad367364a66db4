package logging

import (
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]zapcore.Level{
		"debug":   zapcore.DebugLevel,
		"INFO":    zapcore.InfoLevel,
		"warning": zapcore.WarnLevel,
		"error":   zapcore.ErrorLevel,
		"bogus":   zapcore.InfoLevel,
		"":        zapcore.InfoLevel,
	}

	for input, want := range tests {
		if got := parseLevel(input); got != want {
			t.Errorf("parseLevel(%q) = %v, want %v", input, got, want)
		}
	}
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("LOG_DEV", "true")
	t.Setenv("LOG_LEVEL", "warn")
	t.Setenv("LOG_FORMAT", "")

	cfg := ApplyEnv(DefaultConfig())

	if !cfg.Development {
		t.Error("Expected development config")
	}
	if cfg.Level != "warn" {
		t.Errorf("Expected level warn, got %s", cfg.Level)
	}
	if cfg.Format != "console" {
		t.Errorf("Expected console format, got %s", cfg.Format)
	}
}

func TestNewLogger(t *testing.T) {
	logger, err := NewLogger(Config{Level: "debug", Format: "json"})
	if err != nil {
		t.Fatalf("NewLogger failed: %v", err)
	}
	if !logger.Core().Enabled(zapcore.DebugLevel) {
		t.Error("Expected debug level to be enabled")
	}
}

func TestFieldHelpers(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	logger := &Logger{zap.New(core)}

	fields := append([]zap.Field{Tenant("acme"), TransactionID("tx-1")}, Transition("approved", "posted")...)
	logger.Named("ledger").Info("posted", fields...)

	if logs.Len() != 1 {
		t.Fatalf("Expected 1 log entry, got %d", logs.Len())
	}
	ctx := logs.All()[0].ContextMap()
	if ctx["tenant"] != "acme" {
		t.Errorf("Expected tenant acme, got %v", ctx["tenant"])
	}
	if ctx["transaction_id"] != "tx-1" {
		t.Errorf("Expected transaction_id tx-1, got %v", ctx["transaction_id"])
	}
	if ctx["to_state"] != "posted" {
		t.Errorf("Expected to_state posted, got %v", ctx["to_state"])
	}
}

func TestSetGlobal_Nil(t *testing.T) {
	SetGlobal(nil)
	if Global() == nil {
		t.Fatal("Expected no-op logger after SetGlobal(nil)")
	}
	Global().Info("discarded")
}

func TestForTenant(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	logger := (&Logger{zap.New(core)}).ForTenant("globex")

	logger.Info("balance verified", AccountID("acc-1"))

	ctx := logs.All()[0].ContextMap()
	if ctx["tenant"] != "globex" || ctx["account_id"] != "acc-1" {
		t.Errorf("Unexpected fields: %v", ctx)
	}
}

func TestNewLogger_FillsDefaults(t *testing.T) {
	logger, err := NewLogger(Config{})
	if err != nil {
		t.Fatalf("NewLogger failed: %v", err)
	}
	if logger.Core().Enabled(zapcore.DebugLevel) {
		t.Error("Expected info level by default")
	}
}
