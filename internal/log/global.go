package log

import (
	"context"
	"sync"

	"go.uber.org/zap/zapcore"
)

var (
	globalMu     sync.RWMutex
	globalLogger = New(Config{})
)

// SetGlobalConfig rebuilds the global logger from the config.
// Hooks registered on the previous logger are carried over.
func SetGlobalConfig(cfg Config) {
	globalMu.Lock()
	defer globalMu.Unlock()

	old := globalLogger
	globalLogger = New(cfg)

	old.hooksMu.RLock()
	globalLogger.hooks = append(globalLogger.hooks, old.hooks...)
	old.hooksMu.RUnlock()
}

// GetGlobalLogger returns the process-wide logger.
func GetGlobalLogger() *Logger {
	globalMu.RLock()
	defer globalMu.RUnlock()

	return globalLogger
}

func Debug(ctx context.Context, msg string, fields ...Field) {
	GetGlobalLogger().log(ctx, zapcore.DebugLevel, msg, fields)
}

func Info(ctx context.Context, msg string, fields ...Field) {
	GetGlobalLogger().log(ctx, zapcore.InfoLevel, msg, fields)
}

func Warn(ctx context.Context, msg string, fields ...Field) {
	GetGlobalLogger().log(ctx, zapcore.WarnLevel, msg, fields)
}

func Error(ctx context.Context, msg string, fields ...Field) {
	GetGlobalLogger().log(ctx, zapcore.ErrorLevel, msg, fields)
}

// DebugEnabled reports whether the global logger writes debug entries.
func DebugEnabled(ctx context.Context) bool {
	return GetGlobalLogger().DebugEnabled(ctx)
}
