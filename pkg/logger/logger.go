// Package logger provides opinionated logging for the spool system.
//
// New returns a *slog.Logger so every component — the persistence core, the
// API server, the CLI — shares one logging surface. Output format is chosen
// via options: plain text (default), JSON for services, or the
// charmbracelet/log handler for human-friendly CLI output.
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"

	charmlog "github.com/charmbracelet/log"
)

type config struct {
	level   slog.Level
	pretty  bool
	json    bool
	source  bool
	writers []io.Writer
}

// New creates a *slog.Logger configured by the given options.
func New(opts ...Option) *slog.Logger {
	c := &config{
		level:   slog.LevelInfo,
		writers: []io.Writer{os.Stdout},
	}

	for _, opt := range opts {
		opt(c)
	}

	var w io.Writer
	if len(c.writers) == 1 {
		w = c.writers[0]
	} else {
		w = io.MultiWriter(c.writers...)
	}

	var handler slog.Handler
	switch {
	case c.pretty:
		charm := charmlog.NewWithOptions(w, charmlog.Options{
			ReportCaller:    c.source,
			ReportTimestamp: true,
		})
		if c.level <= slog.LevelDebug {
			charm.SetLevel(charmlog.DebugLevel)
		}
		handler = charm
	case c.json:
		handler = slog.NewJSONHandler(w, &slog.HandlerOptions{
			Level:     c.level,
			AddSource: c.source,
		})
	default:
		handler = slog.NewTextHandler(w, &slog.HandlerOptions{
			Level:     c.level,
			AddSource: c.source,
		})
	}

	return slog.New(handler)
}

// Nop returns a logger that discards everything. Its handler reports
// Enabled=false for all levels so call sites skip attribute evaluation.
func Nop() *slog.Logger {
	return slog.New(nopHandler{})
}

type nopHandler struct{}

func (nopHandler) Enabled(context.Context, slog.Level) bool { return false }
func (nopHandler) Handle(context.Context, slog.Record) error {
	return nil
}
func (nopHandler) WithAttrs([]slog.Attr) slog.Handler { return nopHandler{} }
func (nopHandler) WithGroup(string) slog.Handler      { return nopHandler{} }
