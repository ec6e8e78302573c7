// Package logger owns the process-wide zap logger. Console output is always
// on; when a file name is configured a JSON core with lumberjack rotation is
// added alongside it.
package logger

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"vsoc/config"
)

var log = zap.NewNop()

// Init builds the global logger from config. Safe to call once at startup;
// before Init every call to L() is a no-op logger.
func Init(cfg *config.LogConfig) error {
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		return err
	}

	consoleEncoder := zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig())
	cores := []zapcore.Core{
		zapcore.NewCore(consoleEncoder, zapcore.Lock(os.Stdout), level),
	}

	if cfg.FileName != "" {
		fileEncoder := zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
		writer := zapcore.AddSync(&lumberjack.Logger{
			Filename:   cfg.FileName,
			MaxSize:    cfg.MaxSize,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAge,
		})
		cores = append(cores, zapcore.NewCore(fileEncoder, writer, level))
	}

	log = zap.New(zapcore.NewTee(cores...), zap.AddCaller())
	zap.ReplaceGlobals(log)
	return nil
}

// L returns the shared logger.
func L() *zap.Logger {
	return log
}

// Sync flushes buffered log entries. Called on shutdown.
func Sync() {
	_ = log.Sync()
}
