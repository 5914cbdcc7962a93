// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package logger

import (
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// EventField is the key that carries the upper-case event name.
const EventField = "event"

// Logger wraps zerolog with rigrun-chat conventions: every entry carries a
// service name, an optional component, and an EVENT_NAME.
type Logger struct {
	zlog zerolog.Logger
}

// Config holds logger configuration.
type Config struct {
	Level      string // debug, info, warn, error
	Pretty     bool   // console output for development
	Output     io.Writer
	WithCaller bool
}

// ParseLevel maps a config string onto a zerolog level. Unknown values
// fall back to info.
func ParseLevel(s string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// New creates a structured logger.
func New(cfg Config) *Logger {
	output := cfg.Output
	if output == nil {
		output = os.Stderr
	}

	if cfg.Pretty {
		output = zerolog.ConsoleWriter{
			Out:        output,
			TimeFormat: time.RFC3339,
		}
	}

	zlog := zerolog.New(output).
		Level(ParseLevel(cfg.Level)).
		With().
		Timestamp().
		Str("service", "rigrun-chat").
		Logger()

	if cfg.WithCaller {
		zlog = zlog.With().Caller().Logger()
	}

	return &Logger{zlog: zlog}
}

// Nop returns a logger that discards everything. Used by tests and as the
// fallback when a component is constructed without a logger.
func Nop() *Logger {
	return &Logger{zlog: zerolog.Nop()}
}

// OrNop returns l, or a no-op logger when l is nil.
func OrNop(l *Logger) *Logger {
	if l == nil {
		return Nop()
	}
	return l
}

// Zerolog returns the underlying zerolog logger.
func (l *Logger) Zerolog() *zerolog.Logger {
	return &l.zlog
}

// Component returns a child logger tagged with a component name.
func (l *Logger) Component(name string) *Logger {
	return &Logger{zlog: l.zlog.With().Str("component", name).Logger()}
}

// With returns a child logger carrying one extra string field.
func (l *Logger) With(key, value string) *Logger {
	return &Logger{zlog: l.zlog.With().Str(key, value).Logger()}
}

// Debug starts a debug entry for the named event.
func (l *Logger) Debug(event string) *zerolog.Event {
	return l.zlog.Debug().Str(EventField, event)
}

// Info starts an info entry for the named event.
func (l *Logger) Info(event string) *zerolog.Event {
	return l.zlog.Info().Str(EventField, event)
}

// Warn starts a warning entry for the named event.
func (l *Logger) Warn(event string) *zerolog.Event {
	return l.zlog.Warn().Str(EventField, event)
}

// Error starts an error entry for the named event.
func (l *Logger) Error(event string) *zerolog.Event {
	return l.zlog.Error().Str(EventField, event)
}

// LogRequest records one completed HTTP request.
func (l *Logger) LogRequest(method, path string, status int, duration time.Duration, requestID string) {
	var event *zerolog.Event
	switch {
	case status >= 500:
		event = l.zlog.Error()
	case status >= 400:
		event = l.zlog.Warn()
	default:
		event = l.zlog.Info()
	}
	event.Str(EventField, "HTTP_REQUEST").
		Str("method", method).
		Str("path", path).
		Int("status", status).
		Dur("duration_ms", duration).
		Str("request_id", requestID).
		Msg("request completed")
}

// =============================================================================
// PROCESS LOGGER
// =============================================================================

var (
	globalMu     sync.RWMutex
	globalLogger = New(Config{Level: "info"})
)

// Init replaces the process logger.
func Init(cfg Config) *Logger {
	l := New(cfg)
	globalMu.Lock()
	globalLogger = l
	globalMu.Unlock()
	return l
}

// L returns the process logger.
func L() *Logger {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return globalLogger
}
