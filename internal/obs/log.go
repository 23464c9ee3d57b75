package obs

import (
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	loggerOnce sync.Once
	logger     *zap.Logger
)

// Logger returns the shared structured logger used across the service.
// JSON lines on stdout; level comes from AGENDAFLOW_LOG_LEVEL (default info).
func Logger() *zap.Logger {
	loggerOnce.Do(func() {
		level := zapcore.InfoLevel
		if raw := os.Getenv("AGENDAFLOW_LOG_LEVEL"); raw != "" {
			if parsed, err := zapcore.ParseLevel(raw); err == nil {
				level = parsed
			}
		}
		cfg := zap.NewProductionConfig()
		cfg.Level = zap.NewAtomicLevelAt(level)
		cfg.OutputPaths = []string{"stdout"}
		var err error
		logger, err = cfg.Build()
		if err != nil {
			logger = zap.NewNop()
		}
	})
	return logger
}

// Sync flushes buffered log entries. Called on shutdown.
func Sync() {
	if logger != nil {
		_ = logger.Sync()
	}
}
