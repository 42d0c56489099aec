// Package logging builds the structured zerolog logger shared by every
// component, following ws/internal/shared/monitoring/logger.go.
package logging

import (
	"io"
	"os"
	"runtime/debug"
	"time"

	"github.com/rs/zerolog"
)

// Options configures the logger.
type Options struct {
	Level  string // debug|info|warn|error
	Format string // json|pretty
}

// New builds a zerolog.Logger configured per opts.
func New(opts Options) zerolog.Logger {
	level := zerolog.InfoLevel
	switch opts.Level {
	case "debug":
		level = zerolog.DebugLevel
	case "warn":
		level = zerolog.WarnLevel
	case "error":
		level = zerolog.ErrorLevel
	}
	zerolog.SetGlobalLevel(level)

	var writer io.Writer = os.Stdout
	if opts.Format == "pretty" {
		writer = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	}

	return zerolog.New(writer).
		With().
		Timestamp().
		Caller().
		Str("service", "signalhub").
		Logger()
}

// LogPanic logs a recovered panic with a stack trace. Used by the
// signaling router's per-connection recover() so a single
// handler panic never crashes the process (spec.md §9: "Any panic in a
// handler terminates only that connection's tasks").
func LogPanic(logger zerolog.Logger, r interface{}, where string) {
	logger.Error().
		Interface("panic", r).
		Str("where", where).
		Str("stack", string(debug.Stack())).
		Msg("recovered panic")
}
