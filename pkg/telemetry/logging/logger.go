package logging

import (
	"io"
	"log/slog"
	"os"

	"github.com/ccrelay/ccrelay/pkg/config"
)

// Setup installs the process-wide default logger from the telemetry
// configuration. The handler chain always includes credential
// redaction.
func Setup(cfg config.LoggingConfig) {
	slog.SetDefault(slog.New(NewHandler(os.Stdout, cfg)))
}

// NewHandler builds a redacting handler writing to w. Unrecognized
// levels fall back to info, unrecognized formats to text.
func NewHandler(w io.Writer, cfg config.LoggingConfig) slog.Handler {
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level)}

	var inner slog.Handler
	if cfg.Format == "json" {
		inner = slog.NewJSONHandler(w, opts)
	} else {
		inner = slog.NewTextHandler(w, opts)
	}
	return NewRedactingHandler(inner)
}

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
