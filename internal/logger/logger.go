package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds logger section of app config
type Config struct {
	Level    int8   `yaml:"level"`
	Encoding string `yaml:"encoding"`
	Dir      string `yaml:"dir"`
	Console  bool   `yaml:"console"`
}

// FileName returns dated log file name, e.g. "log-2024-01-31.txt"
func FileName(day time.Time) string {
	return fmt.Sprintf("log-%s.txt", day.Format(time.DateOnly))
}

// New builds logger writing to <Dir>/log-<date>.txt, and to stdout if Console set.
// Log directory is created if missing
func New(cfg Config, day time.Time) (*zap.SugaredLogger, error) {
	if cfg.Dir == "" {
		cfg.Dir = "logs"
	}
	if cfg.Encoding == "" {
		cfg.Encoding = "console"
	}
	if err := os.MkdirAll(cfg.Dir, os.ModePerm); err != nil {
		return nil, fmt.Errorf("cannot create log directory because of: %w", err)
	}

	outputs := []string{filepath.Join(cfg.Dir, FileName(day))}
	if cfg.Console {
		outputs = append(outputs, "stdout")
	}

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "timestamp"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderCfg.EncodeLevel = zapcore.CapitalLevelEncoder

	config := zap.Config{
		Level:             zap.NewAtomicLevelAt(zapcore.Level(cfg.Level)),
		Development:       false,
		DisableCaller:     true,
		DisableStacktrace: true,
		Sampling:          nil,
		Encoding:          cfg.Encoding,
		EncoderConfig:     encoderCfg,
		OutputPaths:       outputs,
		ErrorOutputPaths: []string{
			"stderr",
		},
	}
	l, err := config.Build()
	if err != nil {
		return nil, fmt.Errorf("cannot build logger because of: %w", err)
	}
	return l.Sugar(), nil
}
