package logger

import (
	"context"
	"errors"
	"log/slog"
)

// Multi returns a logger whose records reach every given logger's handler.
// `engram serve` uses it to show pretty output on the console while the same
// records land as JSON in the daemon log.
func Multi(loggers ...*slog.Logger) *slog.Logger {
	handlers := make([]slog.Handler, len(loggers))
	for i, l := range loggers {
		handlers[i] = l.Handler()
	}
	return slog.New(&teeHandler{handlers: handlers})
}

// teeHandler duplicates each record to a set of slog handlers. A record is
// offered to every handler even when one of them fails.
type teeHandler struct {
	handlers []slog.Handler
}

func (t *teeHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range t.handlers {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (t *teeHandler) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	for _, h := range t.handlers {
		if !h.Enabled(ctx, r.Level) {
			continue
		}
		if err := h.Handle(ctx, r.Clone()); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (t *teeHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	children := make([]slog.Handler, len(t.handlers))
	for i, h := range t.handlers {
		children[i] = h.WithAttrs(attrs)
	}
	return &teeHandler{handlers: children}
}

func (t *teeHandler) WithGroup(name string) slog.Handler {
	children := make([]slog.Handler, len(t.handlers))
	for i, h := range t.handlers {
		children[i] = h.WithGroup(name)
	}
	return &teeHandler{handlers: children}
}
