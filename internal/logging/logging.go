// Package logging provides the structured logger shared by every
// component of the server, grounded on packetd's zap+lumberjack setup.
package logging

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options configures a Logger.
type Options struct {
	Stdout     bool   // also write to stdout
	Level      string // debug|info|warn|error
	Filename   string // rotating log file path, empty disables file output
	MaxSize    int    // megabytes
	MaxAge     int    // days
	MaxBackups int
}

// DefaultOptions returns sane defaults for running the server interactively.
func DefaultOptions() Options {
	return Options{
		Stdout: true,
		Level:  "info",
	}
}

// Logger wraps a zap.SugaredLogger so call sites never import zap directly.
type Logger struct {
	sugared *zap.SugaredLogger
}

func toZapLevel(level string) zapcore.Level {
	switch level {
	case "debug":
		return zapcore.DebugLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// New builds a Logger from Options. Safe to call with the zero Options:
// with neither Stdout nor Filename set it falls back to logging to stdout
// at info level.
func New(opts Options) *Logger {
	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encoder := zapcore.NewConsoleEncoder(encoderCfg)

	var cores []zapcore.Core
	level := toZapLevel(opts.Level)

	if opts.Stdout {
		cores = append(cores, zapcore.NewCore(encoder, zapcore.AddSync(os.Stdout), level))
	}
	if opts.Filename != "" {
		rotator := &lumberjack.Logger{
			Filename:   opts.Filename,
			MaxSize:    opts.MaxSize,
			MaxAge:     opts.MaxAge,
			MaxBackups: opts.MaxBackups,
		}
		cores = append(cores, zapcore.NewCore(encoder, zapcore.AddSync(rotator), level))
	}
	if len(cores) == 0 {
		cores = append(cores, zapcore.NewCore(encoder, zapcore.AddSync(os.Stdout), level))
	}

	core := zapcore.NewTee(cores...)
	return &Logger{sugared: zap.New(core).Sugar()}
}

// Nop returns a Logger that discards everything, useful in tests.
func Nop() *Logger {
	return &Logger{sugared: zap.NewNop().Sugar()}
}

func (l *Logger) With(args ...interface{}) *Logger {
	return &Logger{sugared: l.sugared.With(args...)}
}

// Sugared exposes the underlying zap.SugaredLogger for components that take
// one directly (internal/server, internal/dispatch, internal/replication).
func (l *Logger) Sugared() *zap.SugaredLogger { return l.sugared }

func (l *Logger) Debugf(tmpl string, args ...interface{}) { l.sugared.Debugf(tmpl, args...) }
func (l *Logger) Infof(tmpl string, args ...interface{})  { l.sugared.Infof(tmpl, args...) }
func (l *Logger) Warnf(tmpl string, args ...interface{})  { l.sugared.Warnf(tmpl, args...) }
func (l *Logger) Errorf(tmpl string, args ...interface{}) { l.sugared.Errorf(tmpl, args...) }

// Sync flushes buffered log entries; call before process exit.
func (l *Logger) Sync() error {
	return l.sugared.Sync()
}
