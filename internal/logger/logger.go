package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/kangjhooe/xclass-sub019/internal/types"
)

// Logger wraps zap.SugaredLogger to provide logging functionality
type Logger struct {
	*zap.SugaredLogger
}

// Global logger for convenience
var L *Logger

// NewLogger creates and returns a new Logger instance
func NewLogger() (*Logger, error) {
	return newLogger(types.LogLevelInfo)
}

// NewLoggerWithLevel creates a Logger honoring the configured level
func NewLoggerWithLevel(level types.LogLevel) (*Logger, error) {
	return newLogger(level)
}

func newLogger(level types.LogLevel) (*Logger, error) {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	switch level {
	case types.LogLevelDebug:
		config.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	case types.LogLevelWarn:
		config.Level = zap.NewAtomicLevelAt(zapcore.WarnLevel)
	case types.LogLevelError:
		config.Level = zap.NewAtomicLevelAt(zapcore.ErrorLevel)
	default:
		config.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	}

	zapLogger, err := config.Build()
	if err != nil {
		return nil, err
	}

	return &Logger{
		SugaredLogger: zapLogger.Sugar(),
	}, nil
}

// Initialize default logger and set it as global while also using Dependency
// Injection. The global is meant for scripts and one-off tooling; everywhere
// else the injected instance should be used.
func init() {
	L, _ = NewLogger()
}
