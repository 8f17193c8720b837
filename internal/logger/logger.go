package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is the process-wide structured logger, a thin wrapper over zap.
type Logger struct {
	*zap.Logger
}

// NewLogger builds the production logger: JSON to stdout, errors to stderr,
// info level and up.
func NewLogger() (*Logger, error) {
	config := zap.NewProductionConfig()
	config.OutputPaths = []string{"stdout"}
	config.ErrorOutputPaths = []string{"stderr"}
	config.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)

	zapLogger, err := config.Build()
	if err != nil {
		return nil, err
	}

	return &Logger{
		Logger: zapLogger,
	}, nil
}

// NewTestLogger creates a logger suitable for tests. It writes nothing.
func NewTestLogger() *Logger {
	return &Logger{Logger: zap.NewNop()}
}

// Sync flushes any buffered entries; safe on a nil-wrapped logger.
func (l *Logger) Sync() error {
	if l.Logger != nil {
		return l.Logger.Sync()
	}
	return nil
}
