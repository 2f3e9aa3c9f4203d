// Package logger строит zap-логгер процесса.
package logger

import (
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config содержит настройки для логгера.
type Config struct {
	Level    string // debug, info, warn, error
	Encoding string // json или console
	// OutputPath - файл лога; пусто значит stdout.
	OutputPath string
	// Service и Env добавляются к каждой записи, если заданы.
	Service string
	Env     string
}

// ParseLevel returns the zap level for s, or info when s is not a level name.
func ParseLevel(s string) (zapcore.Level, bool) {
	if s == "" {
		return zapcore.InfoLevel, true
	}
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(strings.ToLower(s))); err != nil {
		return zapcore.InfoLevel, false
	}
	return lvl, true
}

// New создает логгер. Ошибки уровня сопровождаются стектрейсом только в console-режиме.
func New(cfg Config) (*zap.Logger, error) {
	lvl, ok := ParseLevel(cfg.Level)
	if !ok {
		// Логгер еще не создан, пишем в stderr
		fmt.Fprintf(os.Stderr, "Invalid log level '%s', using 'info'\n", cfg.Level)
	}

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "timestamp"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderCfg.EncodeLevel = zapcore.CapitalLevelEncoder

	var encoder zapcore.Encoder
	var opts []zap.Option
	if strings.EqualFold(cfg.Encoding, "console") {
		encoderCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoder = zapcore.NewConsoleEncoder(encoderCfg)
		opts = append(opts, zap.AddStacktrace(zapcore.ErrorLevel))
	} else {
		encoder = zapcore.NewJSONEncoder(encoderCfg)
	}

	sink := zapcore.Lock(os.Stdout)
	if cfg.OutputPath != "" && cfg.OutputPath != "stdout" {
		ws, _, err := zap.Open(cfg.OutputPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open log output %s: %w", cfg.OutputPath, err)
		}
		sink = ws
	}

	var fields []zap.Field
	if cfg.Service != "" {
		fields = append(fields, zap.String("service", cfg.Service))
	}
	if cfg.Env != "" {
		fields = append(fields, zap.String("env", cfg.Env))
	}
	opts = append(opts, zap.ErrorOutput(zapcore.Lock(os.Stderr)), zap.Fields(fields...))

	return zap.New(zapcore.NewCore(encoder, sink, zap.NewAtomicLevelAt(lvl)), opts...), nil
}
