package telemetry

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// NewLogger builds a structured slog.Logger. format is "json" or "text";
// level is one of debug/info/warn/error (case-insensitive).
func NewLogger(format, level string) *slog.Logger {
	return newLoggerTo(os.Stdout, format, level)
}

func newLoggerTo(w io.Writer, format, level string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(level)}

	var handler slog.Handler
	if strings.EqualFold(format, "text") {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}

	return slog.New(handler)
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
