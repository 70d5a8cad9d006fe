// Package log configures the process-wide slog logger.
package log

import (
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
)

func ParseLevel(logLevel string) slog.Level {
	switch logLevel {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewHandler builds the handler for a format: "json", "tint" for colored
// development output, anything else for plain text.
func NewHandler(w io.Writer, logFormat string, level slog.Level) slog.Handler {
	switch logFormat {
	case "json":
		return slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	case "tint":
		noColor := true
		if f, ok := w.(*os.File); ok {
			noColor = !isatty.IsTerminal(f.Fd())
		}

		return tint.NewHandler(w, &tint.Options{
			NoColor:    noColor,
			TimeFormat: time.Kitchen,
			Level:      level,
		})
	default:
		return slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})
	}
}

func Setup(logLevel, logFormat string) {
	slog.SetDefault(slog.New(NewHandler(os.Stderr, logFormat, ParseLevel(logLevel))))
}

func WithModule(module string) *slog.Logger {
	return slog.With("module", module)
}
