package logger

import (
	"context"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ZapLogger implements the ports.Logger interface on top of zap.
type ZapLogger struct {
	sugar *zap.SugaredLogger
}

// ParseLevel converts a string level to a zap level, defaulting to Info.
func ParseLevel(levelStr string) zapcore.Level {
	switch strings.ToUpper(levelStr) {
	case "DEBUG":
		return zapcore.DebugLevel
	case "INFO":
		return zapcore.InfoLevel
	case "WARN", "WARNING":
		return zapcore.WarnLevel
	case "ERROR":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// New creates a production zap logger at the given level.
func New(level zapcore.Level) (*ZapLogger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(level)
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	l, err := cfg.Build(zap.AddCallerSkip(2))
	if err != nil {
		return nil, err
	}
	return &ZapLogger{sugar: l.Sugar()}, nil
}

// NewNop returns a logger that discards everything. Used in tests.
func NewNop() *ZapLogger {
	return &ZapLogger{sugar: zap.NewNop().Sugar()}
}

// Sync flushes buffered log entries.
func (l *ZapLogger) Sync() error {
	return l.sugar.Sync()
}

// kvs flattens the variadic field maps into zap's key-value form.
func kvs(err error, fields []map[string]interface{}) []interface{} {
	out := make([]interface{}, 0, 8)
	if err != nil {
		out = append(out, "error", err)
	}
	if len(fields) > 0 && fields[0] != nil {
		for k, v := range fields[0] {
			out = append(out, k, v)
		}
	}
	return out
}

// Debug logs a message at Debug level.
func (l *ZapLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {
	l.sugar.Debugw(msg, kvs(nil, fields)...)
}

// Info logs a message at Info level.
func (l *ZapLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{}) {
	l.sugar.Infow(msg, kvs(nil, fields)...)
}

// Warn logs a message at Warning level.
func (l *ZapLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{}) {
	l.sugar.Warnw(msg, kvs(nil, fields)...)
}

// Error logs an error message at Error level.
func (l *ZapLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
	l.sugar.Errorw(msg, kvs(err, fields)...)
}
