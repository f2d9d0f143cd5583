// Package logging builds the process-wide zerolog logger.
//
// Components never reach for a global logger; the composition root creates one
// here and hands derived loggers (With().Str("component", ...)) to each
// constructor.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

const timeFormat = "2006-01-02T15:04:05.000Z07:00"

// Options selects the level and output encoding.
type Options struct {
	Level   string
	Console bool
}

// New returns a root logger writing to out (stdout when nil).
// Console output is human readable; otherwise one JSON object per line.
func New(opts Options, out io.Writer) zerolog.Logger {
	if out == nil {
		out = os.Stdout
	}
	zerolog.TimeFieldFormat = timeFormat
	zerolog.ErrorFieldName = "err"

	w := out
	if opts.Console {
		w = zerolog.ConsoleWriter{Out: out, TimeFormat: timeFormat}
	}
	return zerolog.New(w).
		Level(ParseLevel(opts.Level, zerolog.InfoLevel)).
		With().
		Timestamp().
		Logger()
}

// Component derives a sub-logger tagged with the component name.
func Component(l zerolog.Logger, name string) zerolog.Logger {
	return l.With().Str("component", name).Logger()
}

// ParseLevel maps a config string to a zerolog level, falling back to def.
func ParseLevel(s string, def zerolog.Level) zerolog.Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "TRACE":
		return zerolog.TraceLevel
	case "DEBUG":
		return zerolog.DebugLevel
	case "INFO":
		return zerolog.InfoLevel
	case "WARN", "WARNING":
		return zerolog.WarnLevel
	case "ERROR":
		return zerolog.ErrorLevel
	default:
		return def
	}
}

// ValidLevel reports whether s names a level ParseLevel understands.
func ValidLevel(s string) bool {
	const sentinel = zerolog.Disabled
	return ParseLevel(s, sentinel) != sentinel
}
