// Package logging provides the process-wide structured logger used by
// every other package: a zap logger writing JSON, rotated through
// lumberjack when configured to log to a file.
package logging

import (
	"io"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	globalLogger *zap.Logger
	globalMu     sync.RWMutex
)

func init() {
	globalLogger, _ = zap.NewProduction()
}

// Config holds parameters for creating a logger, matching
// internal/config.LoggingConfig's fields.
type Config struct {
	Level      string
	Output     string // "stdout", "stderr", or a file path
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// New builds a zap logger from cfg. The returned io.Closer flushes and
// closes the underlying log file when Output is a file path; it is nil for
// stdout/stderr.
func New(cfg Config) (*zap.Logger, io.Closer, error) {
	var lvl zapcore.Level
	switch cfg.Level {
	case "debug":
		lvl = zapcore.DebugLevel
	case "warn":
		lvl = zapcore.WarnLevel
	case "error":
		lvl = zapcore.ErrorLevel
	default:
		lvl = zapcore.InfoLevel
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "time"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encoder := zapcore.NewJSONEncoder(encCfg)

	var ws zapcore.WriteSyncer
	var closer io.Closer

	switch cfg.Output {
	case "", "stdout":
		ws = zapcore.AddSync(os.Stdout)
	case "stderr":
		ws = zapcore.AddSync(os.Stderr)
	default:
		lj := &lumberjack.Logger{
			Filename:   cfg.Output,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
		}
		ws = zapcore.AddSync(lj)
		closer = lj
	}

	core := zapcore.NewCore(encoder, ws, lvl)
	logger := zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1))
	return logger, closer, nil
}

// Reconfigure builds a new logger from cfg, installs it as the process-wide
// global, and returns the new logger's file-sink closer (nil when it writes
// to stdout/stderr). It does not close the previous logger's sink; the
// caller holds that closer. Used by internal/config.Watcher's OnChange hook
// to apply a changed logging section without a process restart.
func Reconfigure(cfg Config) (io.Closer, error) {
	logger, closer, err := New(cfg)
	if err != nil {
		return nil, err
	}
	SetGlobal(logger)
	return closer, nil
}

// Global returns the process-wide logger.
func Global() *zap.Logger {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return globalLogger
}

// SetGlobal replaces the process-wide logger.
func SetGlobal(l *zap.Logger) {
	globalMu.Lock()
	globalLogger = l
	globalMu.Unlock()
}

func Info(msg string, fields ...zap.Field)  { Global().Info(msg, fields...) }
func Warn(msg string, fields ...zap.Field)  { Global().Warn(msg, fields...) }
func Error(msg string, fields ...zap.Field) { Global().Error(msg, fields...) }
func Debug(msg string, fields ...zap.Field) { Global().Debug(msg, fields...) }

// With creates a child logger carrying additional fields.
func With(fields ...zap.Field) *zap.Logger { return Global().With(fields...) }

// Sync flushes any buffered log entries.
func Sync() { _ = Global().Sync() }

// Err and String re-export the zap field constructors most call sites
// need, so callers outside this package don't have to import zap directly
// for the common cases.
func Err(err error) zap.Field                      { return zap.Error(err) }
func String(k, v string) zap.Field                 { return zap.String(k, v) }
func Float64(k string, v float64) zap.Field        { return zap.Float64(k, v) }
func Int(k string, v int) zap.Field                { return zap.Int(k, v) }
func Duration(k string, v time.Duration) zap.Field { return zap.Duration(k, v) }
