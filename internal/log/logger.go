// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package log provides structured logging utilities.
package log

import (
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const defaultService = "qtrader"

// Config selects the level, sink and static fields of the process logger.
type Config struct {
	Level       string
	Output      io.Writer // os.Stdout when nil
	Service     string
	Version     string
	Environment string
	// Console renders human readable lines instead of JSON. The recent-logs
	// buffer always receives JSON.
	Console bool
}

var (
	once sync.Once
	mu   sync.RWMutex
	base zerolog.Logger
)

// Configure sets up the process logger. Only the first call has an effect;
// loggers obtained before it use the defaults.
func Configure(cfg Config) {
	once.Do(func() { install(cfg) })
}

func install(cfg Config) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339Nano

	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}
	if cfg.Console {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: "15:04:05.000"}
	}

	service := cfg.Service
	if service == "" {
		service = defaultService
	}
	zc := zerolog.New(zerolog.MultiLevelWriter(out, recent)).With().
		Timestamp().
		Str("service", service)
	if cfg.Version != "" {
		zc = zc.Str("version", cfg.Version)
	}
	if cfg.Environment != "" {
		zc = zc.Str("env", cfg.Environment)
	}

	mu.Lock()
	base = zc.Logger()
	mu.Unlock()
}

// SetLevel changes the global level at runtime. Unknown levels are rejected.
func SetLevel(level string) error {
	parsed, err := zerolog.ParseLevel(level)
	if err != nil {
		return err
	}
	old := zerolog.GlobalLevel()
	if old == parsed {
		return nil
	}
	zerolog.SetGlobalLevel(parsed)
	l := logger()
	// Log bypasses the level filter so the change is visible at any level.
	l.Log().
		Str(FieldEvent, "log.level_changed").
		Str(FieldOldState, old.String()).
		Str(FieldNewState, parsed.String()).
		Msg("log level changed")
	return nil
}

func logger() zerolog.Logger {
	Configure(Config{})
	mu.RLock()
	defer mu.RUnlock()
	return base
}

// Base returns the process logger.
func Base() zerolog.Logger {
	return logger()
}

// WithComponent returns a child logger tagged with component.
func WithComponent(component string) zerolog.Logger {
	return logger().With().Str(FieldComponent, component).Logger()
}
