// Package logger provides opinionated logging capabilities for accord.
// Every component receives a *slog.Logger; the CLI renders it with the
// charmbracelet/log handler and the API server with slog's JSON handler.
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"time"

	charmlog "github.com/charmbracelet/log"
)

// ComponentKey is the attribute naming the service that logged a record.
const ComponentKey = "component"

type config struct {
	level     slog.Level
	format    Format
	component string
	writer    io.Writer
}

// New builds a *slog.Logger from the given options. Without options it
// writes Info-level text records to os.Stdout.
func New(opts ...Option) *slog.Logger {
	c := &config{level: slog.LevelInfo, writer: os.Stdout}
	for _, opt := range opts {
		opt(c)
	}

	var h slog.Handler
	switch c.format {
	case FormatJSON:
		h = slog.NewJSONHandler(c.writer, &slog.HandlerOptions{Level: c.level})
	case FormatPretty:
		h = charmlog.NewWithOptions(c.writer, charmlog.Options{
			Level:           charmlog.Level(c.level),
			ReportTimestamp: true,
			TimeFormat:      time.Kitchen,
		})
	default:
		h = slog.NewTextHandler(c.writer, &slog.HandlerOptions{Level: c.level})
	}

	l := slog.New(h)
	if c.component != "" {
		l = Component(l, c.component)
	}
	return l
}

// Component returns l tagged with the named component.
func Component(l *slog.Logger, name string) *slog.Logger {
	return l.With(ComponentKey, name)
}

// Nop returns a logger that discards everything.
func Nop() *slog.Logger {
	return slog.New(nopHandler{})
}

type nopHandler struct{}

func (nopHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (nopHandler) Handle(context.Context, slog.Record) error { return nil }
func (h nopHandler) WithAttrs([]slog.Attr) slog.Handler      { return h }
func (h nopHandler) WithGroup(string) slog.Handler           { return h }
