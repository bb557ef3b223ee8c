// Package logutil wires the module's structured logger: a package-level
// *zap.Logger built once from a small Config, with optional file rotation.
package logutil

import (
	"os"
	"sync"

	"github.com/pingcap/log"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

// Config controls where and how verbosely the engine logs.
type Config struct {
	// Level is one of "debug", "info", "warn", "error".
	Level string
	// File, if non-empty, receives rotated log output in addition to stderr.
	File string
	// MaxSizeMB is the rotation threshold for File; values below 100 are
	// raised to 100.
	MaxSizeMB int
}

var (
	globalMu     sync.Mutex
	globalLogger *zap.Logger = zap.NewNop()
)

// Init installs the process-wide logger built from cfg. Safe to call once at
// startup; later calls replace the logger (used by tests).
func Init(cfg Config) error {
	level := zapcore.InfoLevel
	if cfg.Level != "" {
		if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
			return err
		}
	}

	writers := []zapcore.WriteSyncer{zapcore.AddSync(os.Stderr)}
	if cfg.File != "" {
		writers = append(writers, zapcore.AddSync(&lumberjack.Logger{
			Filename: cfg.File,
			MaxSize:  maxInt(cfg.MaxSizeMB, 100),
		}))
	}

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "ts"
	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderCfg),
		zapcore.NewMultiWriteSyncer(writers...),
		level,
	)

	logger := zap.New(core)
	log.ReplaceGlobals(logger, nil)

	globalMu.Lock()
	globalLogger = logger
	globalMu.Unlock()
	return nil
}

// L returns the current process-wide logger.
func L() *zap.Logger {
	globalMu.Lock()
	defer globalMu.Unlock()
	return globalLogger
}

// With returns a child logger carrying the given fields, used to attach
// per-query or per-table context.
func With(fields ...zap.Field) *zap.Logger {
	return L().With(fields...)
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
