// Package logging builds the process logger: a console sink that is always
// present, plus an optional size-rotated file sink.
package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/gnmradar/gnm/internal/config"
)

// ParseLevel maps a config level name to a zap level. "critical" maps to
// DPanic so it sorts above error without panicking in production mode.
func ParseLevel(level string) (zapcore.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return zapcore.DebugLevel, nil
	case "info", "":
		return zapcore.InfoLevel, nil
	case "warning", "warn":
		return zapcore.WarnLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	case "critical":
		return zapcore.DPanicLevel, nil
	}
	return zapcore.InfoLevel, fmt.Errorf("unknown level %q", level)
}

// New builds the logger from the log section of the main config.
// If cfg.Dir is empty the file sink is skipped and only the console sink is
// installed. filename is the base name of the rotated log file.
func New(cfg config.LogConfig, filename string) (*zap.Logger, error) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	cores := []zapcore.Core{
		zapcore.NewCore(
			zapcore.NewConsoleEncoder(encCfg),
			zapcore.Lock(os.Stdout),
			level,
		),
	}

	if cfg.Dir != "" {
		if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
			return nil, fmt.Errorf("logging: create dir %s: %w", cfg.Dir, err)
		}
		rotator := &lumberjack.Logger{
			Filename:   filepath.Join(cfg.Dir, filename),
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
		}
		cores = append(cores, zapcore.NewCore(
			zapcore.NewJSONEncoder(encCfg),
			zapcore.AddSync(rotator),
			level,
		))
	}

	return zap.New(zapcore.NewTee(cores...)), nil
}
