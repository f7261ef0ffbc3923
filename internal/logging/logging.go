// Package logging builds the zerolog logger shared by every binary.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// New returns a logger writing JSON lines to stdout, or human readable output
// when format is "console".
func New(service, level, format string) zerolog.Logger {
	return NewWithWriter(os.Stdout, service, level, format)
}

// NewWithWriter is New with an explicit destination. An empty or unknown
// level falls back to info.
func NewWithWriter(w io.Writer, service, level, format string) zerolog.Logger {
	out := w
	if format == "console" {
		out = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339, NoColor: w != os.Stdout}
	}

	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}

	return zerolog.New(out).
		Level(lvl).
		With().
		Timestamp().
		Str("service", service).
		Logger()
}
