package logging

import (
	"context"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type ctxKey string

const (
	RequestIDKey ctxKey = "request_id"
	RunIDKey     ctxKey = "run_id"
)

type Logger struct {
	*zap.Logger
}

// NewLogger builds a production (JSON) logger at the given level.
func NewLogger(level string) (*Logger, error) {
	return build(zap.NewProductionConfig(), level)
}

// NewDevelopment builds a console logger for CLI use.
func NewDevelopment(level string) (*Logger, error) {
	config := zap.NewDevelopmentConfig()
	config.DisableStacktrace = true
	return build(config, level)
}

func build(config zap.Config, level string) (*Logger, error) {
	var zapLevel zapcore.Level
	if err := zapLevel.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}
	config.Level = zap.NewAtomicLevelAt(zapLevel)

	logger, err := config.Build()
	if err != nil {
		return nil, err
	}

	return &Logger{logger}, nil
}

// Nop returns a logger that discards everything; used by tests and as a
// fallback when callers pass nil.
func Nop() *Logger {
	return &Logger{zap.NewNop()}
}

func (l *Logger) WithRequestID(ctx context.Context) *zap.Logger {
	if reqID, ok := ctx.Value(RequestIDKey).(string); ok {
		return l.With(zap.String("request_id", reqID))
	}
	return l.Logger
}

func (l *Logger) WithRunID(ctx context.Context) *zap.Logger {
	if runID, ok := ctx.Value(RunIDKey).(string); ok {
		return l.With(zap.String("run_id", runID))
	}
	return l.Logger
}

// Or returns l, or a no-op logger when l is nil.
func (l *Logger) Or() *Logger {
	if l == nil {
		return Nop()
	}
	return l
}
