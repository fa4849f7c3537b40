package logctx

import (
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/charmbracelet/log"
)

// NewHandler builds the process log handler. "json" (the default) writes
// slog JSON records; "text" and "logfmt" go through charmbracelet/log for
// humans tailing a terminal. The result is always wrapped in a TraceHandler.
func NewHandler(w io.Writer, format string, level slog.Level) slog.Handler {
	var inner slog.Handler

	switch strings.ToLower(format) {
	case "text":
		inner = newCharmHandler(w, log.TextFormatter, level)
	case "logfmt":
		inner = newCharmHandler(w, log.LogfmtFormatter, level)
	default:
		inner = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	}

	return NewTraceHandler(inner)
}

func newCharmHandler(w io.Writer, formatter log.Formatter, level slog.Level) *log.Logger {
	return log.NewWithOptions(w, log.Options{
		ReportTimestamp: true,
		TimeFormat:      time.DateTime,
		Prefix:          "watchdir",
		Formatter:       formatter,
		Level:           log.Level(level),
	})
}
