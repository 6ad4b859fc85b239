// Package logger provides opinionated slog loggers for the stacks system
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"

	charmlog "github.com/charmbracelet/log"
)

type config struct {
	level  slog.Level
	format Format
	writer io.Writer
}

// New builds a *slog.Logger. The default is a plain text handler at Info
// level writing to os.Stdout.
func New(opts ...Option) *slog.Logger {
	c := &config{level: slog.LevelInfo, writer: os.Stdout}
	for _, opt := range opts {
		opt(c)
	}

	switch c.format {
	case FormatJSON:
		return slog.New(slog.NewJSONHandler(c.writer, &slog.HandlerOptions{Level: c.level}))
	case FormatPretty:
		return slog.New(charmlog.NewWithOptions(c.writer, charmlog.Options{
			ReportTimestamp: true,
			Level:           charmlog.Level(c.level),
		}))
	default:
		return slog.New(slog.NewTextHandler(c.writer, &slog.HandlerOptions{Level: c.level}))
	}
}

// Nop returns a logger that discards everything.
func Nop() *slog.Logger {
	return slog.New(nopHandler{})
}

type nopHandler struct{}

func (nopHandler) Enabled(_ context.Context, _ slog.Level) bool  { return false }
func (nopHandler) Handle(_ context.Context, _ slog.Record) error { return nil }
func (h nopHandler) WithAttrs(_ []slog.Attr) slog.Handler       { return h }
func (h nopHandler) WithGroup(_ string) slog.Handler            { return h }
