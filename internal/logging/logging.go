// Package logging sets up the process-wide zap logger.
package logging

import (
	"fmt"
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options controls where logs go.
type Options struct {
	Level string // debug, info, warn, error
	File  string // rotated log file, empty for stdout only
}

var (
	globalMu     sync.RWMutex
	globalLogger = zap.NewNop().Sugar()
)

// EncoderConfig is the console encoder used for stdout and file output.
func EncoderConfig() zapcore.EncoderConfig {
	return zapcore.EncoderConfig{
		TimeKey:        "ts",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		FunctionKey:    zapcore.OmitKey,
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.CapitalLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}
}

// New builds a sugared logger for opts.
func New(opts Options) (*zap.SugaredLogger, error) {
	level := zapcore.InfoLevel
	if opts.Level != "" {
		if err := level.UnmarshalText([]byte(opts.Level)); err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", opts.Level, err)
		}
	}

	stdoutCfg := EncoderConfig()
	stdoutCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
	cores := []zapcore.Core{
		zapcore.NewCore(zapcore.NewConsoleEncoder(stdoutCfg), zapcore.Lock(os.Stdout), level),
	}

	if opts.File != "" {
		rotator := &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    10, // megabytes
			MaxBackups: 5,
			MaxAge:     28, // days
		}
		cores = append(cores, zapcore.NewCore(zapcore.NewConsoleEncoder(EncoderConfig()), zapcore.AddSync(rotator), level))
	}

	return zap.New(zapcore.NewTee(cores...), zap.AddCaller()).Sugar(), nil
}

// Init builds the global logger. Until Init is called L returns a no-op logger.
func Init(opts Options) error {
	logger, err := New(opts)
	if err != nil {
		return err
	}
	ReplaceGlobal(logger)
	return nil
}

// ReplaceGlobal replaces the global logger.
func ReplaceGlobal(logger *zap.SugaredLogger) {
	globalMu.Lock()
	globalLogger = logger
	globalMu.Unlock()
}

// L returns the global logger.
func L() *zap.SugaredLogger {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return globalLogger
}

// Named returns a child of the global logger.
func Named(name string) *zap.SugaredLogger {
	return L().Named(name)
}

// Sync flushes the global logger. Errors from syncing stdout are ignored.
func Sync() {
	_ = L().Sync()
}
