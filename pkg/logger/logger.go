// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

// Package logger holds the process-wide zerolog logger. The logger can be
// swapped at runtime (config reload) while other goroutines are logging.
package logger

import (
	"io"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

var current atomic.Pointer[zerolog.Logger]

func init() {
	l := zerolog.New(os.Stdout).With().Timestamp().Logger()
	current.Store(&l)
}

// Initialize installs a console logger on stdout at level.
func Initialize(level string) {
	InitializeWithWriter(level, zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
}

// InitializeWithWriter installs a logger writing to w at level, with RFC3339
// timestamps and caller info.
func InitializeWithWriter(level string, w io.Writer) {
	zerolog.TimeFieldFormat = time.RFC3339

	l := zerolog.New(w).
		Level(ParseLevel(level)).
		With().
		Timestamp().
		Caller().
		Logger()
	current.Store(&l)
}

// ParseLevel maps a configured level name to zerolog. Unknown names are info.
func ParseLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "fatal":
		return zerolog.FatalLevel
	case "panic":
		return zerolog.PanicLevel
	default:
		return zerolog.InfoLevel
	}
}

// SetLevel changes the level, keeping the writer and context fields.
func SetLevel(level string) {
	l := current.Load().Level(ParseLevel(level))
	current.Store(&l)
}

// Level returns the active level.
func Level() zerolog.Level {
	return current.Load().GetLevel()
}

// Get returns the active logger.
func Get() *zerolog.Logger {
	return current.Load()
}

func Debug() *zerolog.Event { return current.Load().Debug() }

func Info() *zerolog.Event { return current.Load().Info() }

func Warn() *zerolog.Event { return current.Load().Warn() }

func Error() *zerolog.Event { return current.Load().Error() }

// Fatal logs and exits once the event is sent.
func Fatal() *zerolog.Event { return current.Load().Fatal() }

// With starts a child logger context.
func With() zerolog.Context {
	return current.Load().With()
}

// SetOutput redirects the active logger to w.
func SetOutput(w io.Writer) {
	l := current.Load().Output(w)
	current.Store(&l)
}
