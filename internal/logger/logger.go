// Package logger provides structured logging for triestore
package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger wraps zerolog with triestore-specific functionality
type Logger struct {
	zlog zerolog.Logger
}

// Config holds logger configuration
type Config struct {
	Level      string    `yaml:"level"`  // debug, info, warn, error, disabled
	Pretty     bool      `yaml:"pretty"` // pretty-print for development
	Output     io.Writer `yaml:"-"`
	WithCaller bool      `yaml:"with_caller"`
}

// ParseLevel maps a configured level name to a zerolog level
func ParseLevel(name string) zerolog.Level {
	switch name {
	case "debug":
		return zerolog.DebugLevel
	case "info", "":
		return zerolog.InfoLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "disabled":
		return zerolog.Disabled
	}
	return zerolog.InfoLevel
}

// NewLogger creates a new structured logger
func NewLogger(cfg Config) *Logger {
	output := cfg.Output
	if output == nil {
		output = os.Stderr
	}

	// Pretty printing for development
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
		Str("service", "triestore").
		Logger()

	if cfg.WithCaller {
		zlog = zlog.With().Caller().Logger()
	}

	return &Logger{zlog: zlog}
}

// Nop returns a logger that discards everything
func Nop() *Logger {
	return &Logger{zlog: zerolog.Nop()}
}

// Component returns a zerolog logger tagged with a component name
func (l *Logger) Component(name string) zerolog.Logger {
	if l == nil {
		return zerolog.Nop()
	}
	return l.zlog.With().Str("component", name).Logger()
}

// StorageLogger returns a logger for page and entry management
func (l *Logger) StorageLogger() zerolog.Logger {
	return l.Component("storage")
}

// LogLogger returns a logger for the transaction log
func (l *Logger) LogLogger() zerolog.Logger {
	return l.Component("txlog")
}

// IndexLogger returns a logger for full-text index operations
func (l *Logger) IndexLogger(path string) zerolog.Logger {
	if l == nil {
		return zerolog.Nop()
	}
	return l.zlog.With().
		Str("component", "index").
		Str("path", path).
		Logger()
}

// LogIndexOperation logs an index operation with structured fields
func (l *Logger) LogIndexOperation(operation string, duration time.Duration, count int, err error) {
	if l == nil {
		return
	}
	event := l.zlog.Debug().
		Str("component", "index").
		Str("operation", operation).
		Dur("duration_ms", duration).
		Int("count", count)

	if err != nil {
		event = l.zlog.Error().
			Str("component", "index").
			Str("operation", operation).
			Dur("duration_ms", duration).
			Err(err)
	}

	event.Msg("Index operation completed")
}
