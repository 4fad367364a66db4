// Package logging wraps zap with the configuration and field names shared by
// every ledger component.
package logging

import (
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is a wrapper around zap.Logger
type Logger struct {
	*zap.Logger
}

// Config holds logging configuration
type Config struct {
	// Level is one of debug, info, warn, error, dpanic, panic, fatal
	Level string `yaml:"level"`
	// Format is json or console
	Format           string   `yaml:"format"`
	OutputPaths      []string `yaml:"output_paths"`
	ErrorOutputPaths []string `yaml:"error_output_paths"`
	// Development makes DPanic panic and switches to the human encoder
	Development      bool `yaml:"development"`
	EnableCaller     bool `yaml:"enable_caller"`
	EnableStacktrace bool `yaml:"enable_stacktrace"`
}

// DefaultConfig returns the production logging configuration
func DefaultConfig() Config {
	return Config{
		Level:            "info",
		Format:           "json",
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}
}

// DevelopmentConfig returns a configuration for running ledgerd locally
func DevelopmentConfig() Config {
	cfg := DefaultConfig()
	cfg.Level = "debug"
	cfg.Format = "console"
	cfg.Development = true
	cfg.EnableCaller = true
	cfg.EnableStacktrace = true
	return cfg
}

// ApplyEnv overrides config with LOG_LEVEL, LOG_FORMAT and LOG_DEV when they are set.
func ApplyEnv(config Config) Config {
	if os.Getenv("LOG_DEV") == "true" {
		config = DevelopmentConfig()
	}
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		config.Level = level
	}
	if format := os.Getenv("LOG_FORMAT"); format != "" {
		config.Format = format
	}
	return config
}

// NewLogger builds a zap logger from config. Empty fields take the defaults.
func NewLogger(config Config) (*Logger, error) {
	defaults := DefaultConfig()
	if config.Format == "" {
		config.Format = defaults.Format
	}
	if len(config.OutputPaths) == 0 {
		config.OutputPaths = defaults.OutputPaths
	}
	if len(config.ErrorOutputPaths) == 0 {
		config.ErrorOutputPaths = defaults.ErrorOutputPaths
	}

	encoder := zap.NewProductionEncoderConfig()
	if config.Development {
		encoder = zap.NewDevelopmentEncoderConfig()
	}
	encoder.EncodeTime = zapcore.ISO8601TimeEncoder
	encoder.EncodeDuration = zapcore.StringDurationEncoder

	zl, err := zap.Config{
		Level:             zap.NewAtomicLevelAt(parseLevel(config.Level)),
		Development:       config.Development,
		DisableCaller:     !config.EnableCaller,
		DisableStacktrace: !config.EnableStacktrace,
		Encoding:          config.Format,
		EncoderConfig:     encoder,
		OutputPaths:       config.OutputPaths,
		ErrorOutputPaths:  config.ErrorOutputPaths,
	}.Build()
	if err != nil {
		return nil, err
	}
	return &Logger{zl}, nil
}

// NewNoOpLogger creates a logger that discards all logs
func NewNoOpLogger() *Logger {
	return &Logger{zap.NewNop()}
}

var levels = map[string]zapcore.Level{
	"debug":   zapcore.DebugLevel,
	"warn":    zapcore.WarnLevel,
	"warning": zapcore.WarnLevel,
	"error":   zapcore.ErrorLevel,
	"dpanic":  zapcore.DPanicLevel,
	"panic":   zapcore.PanicLevel,
	"fatal":   zapcore.FatalLevel,
}

// parseLevel falls back to info for unknown names.
func parseLevel(level string) zapcore.Level {
	if l, ok := levels[strings.ToLower(level)]; ok {
		return l
	}
	return zapcore.InfoLevel
}

// With creates a child logger with additional fields
func (l *Logger) With(fields ...zap.Field) *Logger {
	return &Logger{l.Logger.With(fields...)}
}

// Named creates a child logger with a name
func (l *Logger) Named(name string) *Logger {
	return &Logger{l.Logger.Named(name)}
}

// ForTenant returns a child logger that tags every entry with the tenant.
func (l *Logger) ForTenant(tenant string) *Logger {
	return l.With(Tenant(tenant))
}

// Field helpers shared by every component so log queries use the same keys.

func Tenant(id string) zap.Field        { return zap.String("tenant", id) }
func TransactionID(id string) zap.Field { return zap.String("transaction_id", id) }
func AccountID(id string) zap.Field     { return zap.String("account_id", id) }
func Actor(id string) zap.Field         { return zap.String("actor", id) }
func State(s string) zap.Field          { return zap.String("state", s) }
func Elapsed(start time.Time) zap.Field { return zap.Duration("elapsed", time.Since(start)) }

// Transition records a state change as from_state/to_state fields.
func Transition(from, to string) []zap.Field {
	return []zap.Field{zap.String("from_state", from), zap.String("to_state", to)}
}

var global = NewNoOpLogger()

// SetGlobal replaces the process-wide logger. nil restores the no-op logger.
func SetGlobal(logger *Logger) {
	if logger == nil {
		logger = NewNoOpLogger()
	}
	global = logger
}

// Global returns the process-wide logger. Components take Named children of it.
func Global() *Logger {
	return global
}
