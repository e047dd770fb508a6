package logger

import (
	"io"
	"log/slog"
)

// Format selects how records are encoded.
type Format int

const (
	// FormatText is slog's key=value text handler.
	FormatText Format = iota

	// FormatPretty is the colorized charmbracelet/log handler used on the
	// terminal by CLI commands.
	FormatPretty

	// FormatJSON is slog's JSON handler used by accord serve for its console
	// and its log file.
	FormatJSON
)

// Option configures a Logger created with New.
type Option func(*config)

// WithFormat selects the record encoding. Defaults to FormatText.
func WithFormat(f Format) Option {
	return func(c *config) {
		c.format = f
	}
}

// WithLevel sets the minimum level. Defaults to Info.
func WithLevel(level slog.Level) Option {
	return func(c *config) {
		c.level = level
	}
}

// WithWriter overrides the output writer. Defaults to os.Stdout.
func WithWriter(w io.Writer) Option {
	return func(c *config) {
		c.writer = w
	}
}

// WithComponent tags every record with the component that emitted it.
func WithComponent(name string) Option {
	return func(c *config) {
		c.component = name
	}
}

// Level is the minimum level for a command: Debug under --debug, base
// otherwise.
func Level(debug bool, base slog.Level) slog.Level {
	if debug {
		return slog.LevelDebug
	}
	return base
}
