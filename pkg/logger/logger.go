// Package logger builds the slog loggers used across engram.
//
// The daemon and CLI share one constructor: plain text by default, JSON for
// service logs destined for files or collectors, and charmbracelet/log when a
// human is watching the terminal. Multi tees one record stream to several
// handlers so `engram serve` can do both at once.
package logger

import (
	"io"
	"log/slog"
	"os"

	charmlog "github.com/charmbracelet/log"
)

// settings accumulates the choices made by Options before a handler is built.
type settings struct {
	level   slog.Level
	pretty  bool
	json    bool
	source  bool
	writers []io.Writer
}

func (s *settings) output() io.Writer {
	if len(s.writers) == 1 {
		return s.writers[0]
	}
	return io.MultiWriter(s.writers...)
}

// New creates a *slog.Logger configured by the given options.
func New(opts ...Option) *slog.Logger {
	s := &settings{
		level:   slog.LevelInfo,
		writers: []io.Writer{os.Stdout},
	}
	for _, opt := range opts {
		opt(s)
	}

	w := s.output()

	var handler slog.Handler
	switch {
	case s.pretty:
		cl := charmlog.NewWithOptions(w, charmlog.Options{
			ReportCaller:    s.source,
			ReportTimestamp: true,
		})
		if s.level == slog.LevelDebug {
			cl.SetLevel(charmlog.DebugLevel)
		}
		handler = cl

	case s.json:
		handler = slog.NewJSONHandler(w, &slog.HandlerOptions{
			Level:     s.level,
			AddSource: s.source,
		})

	default:
		handler = slog.NewTextHandler(w, &slog.HandlerOptions{
			Level:     s.level,
			AddSource: s.source,
		})
	}

	return slog.New(handler)
}
