package logger

import (
	"context"
	"errors"
	"log/slog"
)

// fanout sends each record to several handlers. stacks serve uses it to log
// to the terminal and to the JSON file in .stacks/ at once.
type fanout []slog.Handler

// Multi returns a logger that writes every record through the handlers of
// all given loggers. A handler that fails does not stop the others; the
// errors are joined.
func Multi(loggers ...*slog.Logger) *slog.Logger {
	handlers := make(fanout, 0, len(loggers))
	for _, l := range loggers {
		handlers = append(handlers, l.Handler())
	}
	return slog.New(handlers)
}

func (f fanout) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range f {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (f fanout) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	for _, h := range f {
		if !h.Enabled(ctx, r.Level) {
			continue
		}
		// Handlers may retain the record's attrs, so each gets its own copy.
		if err := h.Handle(ctx, r.Clone()); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (f fanout) WithAttrs(attrs []slog.Attr) slog.Handler {
	return f.each(func(h slog.Handler) slog.Handler { return h.WithAttrs(attrs) })
}

func (f fanout) WithGroup(name string) slog.Handler {
	return f.each(func(h slog.Handler) slog.Handler { return h.WithGroup(name) })
}

func (f fanout) each(fn func(slog.Handler) slog.Handler) fanout {
	out := make(fanout, len(f))
	for i, h := range f {
		out[i] = fn(h)
	}
	return out
}
