package log

import (
	"context"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger wraps a zap logger with a context-first API and context hooks.
type Logger struct {
	core  *zap.Logger
	level zap.AtomicLevel

	hooksMu sync.RWMutex
	hooks   []Hook
}

// New builds a Logger from the config. Invalid levels fall back to info,
// unknown outputs are ignored; with no usable output stdout is used.
func New(cfg Config) *Logger {
	cfg = cfg.withDefaults()

	level := zap.NewAtomicLevel()
	if err := level.UnmarshalText([]byte(strings.ToLower(cfg.Level))); err != nil {
		level.SetLevel(zapcore.InfoLevel)
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encCfg.EncodeDuration = zapcore.StringDurationEncoder

	var encoder zapcore.Encoder
	if cfg.Encoding == "json" {
		encoder = zapcore.NewJSONEncoder(encCfg)
	} else {
		encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		encoder = zapcore.NewConsoleEncoder(encCfg)
	}

	var syncers []zapcore.WriteSyncer

	for _, out := range cfg.Outputs {
		switch strings.ToLower(out) {
		case "stdout":
			syncers = append(syncers, zapcore.AddSync(os.Stdout))
		case "stderr":
			syncers = append(syncers, zapcore.AddSync(os.Stderr))
		case "file":
			syncers = append(syncers, zapcore.AddSync(&lumberjack.Logger{
				Filename:   cfg.File.Path,
				MaxSize:    cfg.File.MaxSize,
				MaxAge:     cfg.File.MaxAge,
				MaxBackups: cfg.File.MaxBackups,
				Compress:   cfg.File.Compress,
			}))
		}
	}

	if len(syncers) == 0 {
		syncers = append(syncers, zapcore.AddSync(os.Stdout))
	}

	core := zapcore.NewCore(encoder, zapcore.NewMultiWriteSyncer(syncers...), level)

	zl := zap.New(core,
		zap.AddCaller(),
		zap.AddCallerSkip(2),
		zap.AddStacktrace(zapcore.ErrorLevel),
	).Named(cfg.Name)

	return &Logger{
		core:  zl,
		level: level,
	}
}

// NewNop returns a logger that discards everything. Useful in tests.
func NewNop() *Logger {
	return &Logger{
		core:  zap.NewNop(),
		level: zap.NewAtomicLevelAt(zapcore.FatalLevel),
	}
}

// AddHook registers a context hook. Hooks run in registration order.
func (l *Logger) AddHook(hook Hook) {
	l.hooksMu.Lock()
	defer l.hooksMu.Unlock()

	l.hooks = append(l.hooks, hook)
}

// With returns a child logger with the fields attached to every entry.
func (l *Logger) With(fields ...Field) *Logger {
	l.hooksMu.RLock()
	hooks := l.hooks
	l.hooksMu.RUnlock()

	return &Logger{
		core:  l.core.With(fields...),
		level: l.level,
		hooks: hooks,
	}
}

func (l *Logger) Debug(ctx context.Context, msg string, fields ...Field) {
	l.log(ctx, zapcore.DebugLevel, msg, fields)
}

func (l *Logger) Info(ctx context.Context, msg string, fields ...Field) {
	l.log(ctx, zapcore.InfoLevel, msg, fields)
}

func (l *Logger) Warn(ctx context.Context, msg string, fields ...Field) {
	l.log(ctx, zapcore.WarnLevel, msg, fields)
}

func (l *Logger) Error(ctx context.Context, msg string, fields ...Field) {
	l.log(ctx, zapcore.ErrorLevel, msg, fields)
}

// DebugEnabled reports whether debug entries would be written.
// Callers use it to skip building expensive debug fields.
func (l *Logger) DebugEnabled(ctx context.Context) bool {
	return l.level.Enabled(zapcore.DebugLevel)
}

// Sync flushes buffered entries.
func (l *Logger) Sync() error {
	return l.core.Sync()
}

func (l *Logger) log(ctx context.Context, level zapcore.Level, msg string, fields []Field) {
	if !l.level.Enabled(level) {
		return
	}

	l.hooksMu.RLock()
	hooks := l.hooks
	l.hooksMu.RUnlock()

	for _, hook := range hooks {
		fields = hook.Apply(ctx, msg, fields...)
	}

	switch level {
	case zapcore.DebugLevel:
		l.core.Debug(msg, fields...)
	case zapcore.InfoLevel:
		l.core.Info(msg, fields...)
	case zapcore.WarnLevel:
		l.core.Warn(msg, fields...)
	default:
		l.core.Error(msg, fields...)
	}
}
