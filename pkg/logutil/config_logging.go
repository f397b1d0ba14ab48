// Package logutil builds the zap loggers used by the master and minion
// daemons, with optional lumberjack-backed file rotation.
package logutil

import (
	"fmt"
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	DefaultLogLevel  = "info"
	DefaultLogFormat = "json"
	DefaultLogOutput = "stderr"
	StdErrLogOutput  = "stderr"
	StdOutLogOutput  = "stdout"
)

// ConvertToZapLevel converts a log level string to a zapcore.Level, defaulting
// to info on an unrecognised value.
func ConvertToZapLevel(lvl string) zapcore.Level {
	var level zapcore.Level
	if err := level.Set(lvl); err != nil {
		return zapcore.InfoLevel
	}
	return level
}

// LogRotationConfig configures lumberjack log rotation. Left nil, rotation is
// disabled and Outputs are written to directly.
type LogRotationConfig struct {
	MaxSize    int  `json:"max-size" toml:"max-size"`
	MaxAge     int  `json:"max-age" toml:"max-age"`
	MaxBackups int  `json:"max-backups" toml:"max-backups"`
	LocalTime  bool `json:"localtime" toml:"localtime"`
	Compress   bool `json:"compress" toml:"compress"`
}

// LogConfig configures process-wide logging for sysinspect-master and
// sysinspect-minion.
type LogConfig struct {
	// Level is one of debug, info, warn, error, panic, fatal. Default "info".
	Level string `json:"level" toml:"level"`
	// Format is "json" or "console".
	Format string `json:"format" toml:"format"`
	// Outputs is one or more of "stderr", "stdout", or a file path. Multiple
	// file paths fan the same log stream out to all of them.
	Outputs []string `json:"outputs" toml:"outputs"`
	// Rotation enables lumberjack rotation for file outputs.
	Rotation *LogRotationConfig `json:"rotation" toml:"rotation"`

	loggerMu *sync.RWMutex
	logger   *zap.Logger
}

// NewLogConfig returns a LogConfig with sysinspect's defaults.
func NewLogConfig() LogConfig {
	return LogConfig{
		Level:    DefaultLogLevel,
		Format:   DefaultLogFormat,
		Outputs:  []string{DefaultLogOutput},
		loggerMu: new(sync.RWMutex),
		logger:   zap.NewNop(),
	}
}

// GetLogger returns the configured logger. Safe for concurrent use.
func (cfg *LogConfig) GetLogger() *zap.Logger {
	cfg.loggerMu.RLock()
	defer cfg.loggerMu.RUnlock()
	return cfg.logger
}

// SetupLogging builds the zap logger from the configured level, format and
// outputs. Must be called once after flag/config parsing and before the
// daemon starts handling connections.
func (cfg *LogConfig) SetupLogging() error {
	if cfg.loggerMu == nil {
		cfg.loggerMu = new(sync.RWMutex)
	}
	if len(cfg.Outputs) == 0 {
		cfg.Outputs = []string{DefaultLogOutput}
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var encoder zapcore.Encoder
	switch cfg.Format {
	case "console", "text":
		encoder = zapcore.NewConsoleEncoder(encCfg)
	default:
		encoder = zapcore.NewJSONEncoder(encCfg)
	}

	level := zap.NewAtomicLevelAt(ConvertToZapLevel(cfg.Level))

	syncers := make([]zapcore.WriteSyncer, 0, len(cfg.Outputs))
	for _, out := range cfg.Outputs {
		syncer, err := cfg.openOutput(out)
		if err != nil {
			return fmt.Errorf("open log output %q: %w", out, err)
		}
		syncers = append(syncers, syncer)
	}

	core := zapcore.NewCore(encoder, zapcore.NewMultiWriteSyncer(syncers...), level)
	logger := zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.FatalLevel))

	cfg.loggerMu.Lock()
	cfg.logger = logger
	cfg.loggerMu.Unlock()
	return nil
}

func (cfg *LogConfig) openOutput(out string) (zapcore.WriteSyncer, error) {
	switch out {
	case StdErrLogOutput:
		return zapcore.AddSync(os.Stderr), nil
	case StdOutLogOutput, "default":
		return zapcore.AddSync(os.Stdout), nil
	default:
		if cfg.Rotation != nil {
			return zapcore.AddSync(&lumberjack.Logger{
				Filename:   out,
				MaxSize:    cfg.Rotation.MaxSize,
				MaxAge:     cfg.Rotation.MaxAge,
				MaxBackups: cfg.Rotation.MaxBackups,
				LocalTime:  cfg.Rotation.LocalTime,
				Compress:   cfg.Rotation.Compress,
			}), nil
		}
		f, err := os.OpenFile(out, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, err
		}
		return zapcore.AddSync(f), nil
	}
}
