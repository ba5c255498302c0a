// Package log wraps zap with a context-aware API so call sites never touch
// a *zap.Logger directly. A request id stashed in the context (see
// internal/server/middleware) is attached to every line logged within that
// context, the way the reference gateway attaches its trace id.
package log

import (
	"context"
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config controls how the global logger is built.
type Config struct {
	// Debug selects a human-readable console encoder instead of JSON.
	Debug bool
	// File, when non-empty, duplicates output to a rotating file via lumberjack.
	File string
}

var (
	mu     sync.RWMutex
	global *zap.Logger = zap.NewNop()
)

// Init builds and installs the global logger from cfg. Safe to call once at
// startup; not safe to call concurrently with logging calls.
func Init(cfg Config) {
	level := zapcore.InfoLevel
	if cfg.Debug {
		level = zapcore.DebugLevel
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var encoder zapcore.Encoder
	if cfg.Debug {
		encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoder = zapcore.NewConsoleEncoder(encCfg)
	} else {
		encoder = zapcore.NewJSONEncoder(encCfg)
	}

	writers := []zapcore.WriteSyncer{zapcore.AddSync(os.Stdout)}
	if cfg.File != "" {
		writers = append(writers, zapcore.AddSync(&lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    100,
			MaxBackups: 5,
			MaxAge:     28,
			Compress:   true,
		}))
	}

	core := zapcore.NewCore(encoder, zapcore.NewMultiWriteSyncer(writers...), level)
	logger := zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1))

	mu.Lock()
	global = logger
	mu.Unlock()
}

func get() *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()

	return global
}

type requestIDKey struct{}

// WithRequestID returns a context carrying id, picked up by every log call
// made with that context.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

func requestIDFrom(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}

	id, ok := ctx.Value(requestIDKey{}).(string)

	return id, ok && id != ""
}

func withContextFields(ctx context.Context, fields []zap.Field) []zap.Field {
	if id, ok := requestIDFrom(ctx); ok {
		fields = append(fields, zap.String("request_id", id))
	}

	return fields
}

func Debug(ctx context.Context, msg string, fields ...zap.Field) {
	get().Debug(msg, withContextFields(ctx, fields)...)
}

func Info(ctx context.Context, msg string, fields ...zap.Field) {
	get().Info(msg, withContextFields(ctx, fields)...)
}

func Warn(ctx context.Context, msg string, fields ...zap.Field) {
	get().Warn(msg, withContextFields(ctx, fields)...)
}

func Error(ctx context.Context, msg string, fields ...zap.Field) {
	get().Error(msg, withContextFields(ctx, fields)...)
}

func Sync() error {
	return get().Sync()
}
