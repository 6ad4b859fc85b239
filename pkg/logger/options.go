package logger

import (
	"io"
	"log/slog"
)

// Format selects the handler New builds.
type Format int

const (
	// FormatText is slog's key=value text handler.
	FormatText Format = iota

	// FormatJSON is one JSON object per record, used for the serve log file
	// and for log shippers.
	FormatJSON

	// FormatPretty is the colorized charmbracelet/log handler for terminals.
	FormatPretty
)

// Option configures a Logger created with New.
type Option func(*config)

// WithDebug sets the log level to Debug when true, Info otherwise.
func WithDebug(debug bool) Option {
	return func(c *config) {
		if debug {
			c.level = slog.LevelDebug
		} else {
			c.level = slog.LevelInfo
		}
	}
}

// WithFormat picks the output format. Defaults to FormatText.
func WithFormat(f Format) Option {
	return func(c *config) {
		c.format = f
	}
}

// WithWriter overrides the output writer. Defaults to os.Stdout.
func WithWriter(w io.Writer) Option {
	return func(c *config) {
		c.writer = w
	}
}
