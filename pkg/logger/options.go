package logger

import (
	"io"
	"log/slog"
)

// Option adjusts how New builds a logger.
type Option func(*settings)

// WithDebug lowers the level to Debug when true; Info otherwise. The daemon
// maps its --debug flag straight onto this.
func WithDebug(debug bool) Option {
	return func(s *settings) {
		if debug {
			s.level = slog.LevelDebug
		} else {
			s.level = slog.LevelInfo
		}
	}
}

// WithPretty switches to the colorized charmbracelet/log handler for
// terminal sessions.
func WithPretty(pretty bool) Option {
	return func(s *settings) {
		s.pretty = pretty
	}
}

// WithJSON switches to slog's JSON handler. Used for the daemon's log file.
func WithJSON(json bool) Option {
	return func(s *settings) {
		s.json = json
	}
}

// WithWriter sends output to w instead of os.Stdout.
func WithWriter(w io.Writer) Option {
	return func(s *settings) {
		s.writers = []io.Writer{w}
	}
}

// WithWriters sends output to every writer given.
func WithWriters(w ...io.Writer) Option {
	return func(s *settings) {
		s.writers = w
	}
}

// WithSource annotates records with the emitting file and line.
func WithSource(source bool) Option {
	return func(s *settings) {
		s.source = source
	}
}
